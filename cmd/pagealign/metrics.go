package main

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/afero"
)

func writeMetrics(fs afero.Fs, path string, g prometheus.Gatherer) (err error) {
	families, err := g.Gather()
	if err != nil {
		return errors.Wrap(err, "gathering metrics")
	}
	f, err := fs.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating metrics file")
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	for _, mf := range families {
		if _, err = expfmt.MetricFamilyToText(f, mf); err != nil {
			return errors.Wrap(err, "writing metrics")
		}
	}
	return nil
}
