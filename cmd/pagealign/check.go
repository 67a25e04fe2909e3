package main

import (
	"context"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/grafana/pagealign/pkg/pagealign"
	"github.com/grafana/pagealign/pkg/report"
	"github.com/grafana/pagealign/pkg/util"
)

type checkParams struct {
	*outputParams
	paths       []string
	concurrency util.ConcurrencyLimit
	metricsFile string
}

func addCheckParams(cmd *kingpin.CmdClause) *checkParams {
	params := &checkParams{}
	params.outputParams = addOutputParams(cmd)
	cmd.Arg("archive", "Archives to check.").Required().StringsVar(&params.paths)
	cmd.Flag("concurrency", "Number of archives checked in parallel.").Default("auto").SetValue(&params.concurrency)
	cmd.Flag("metrics-file", "Write scan metrics in the Prometheus text format to this file.").StringVar(&params.metricsFile)
	return params
}

func check(ctx context.Context, fs afero.Fs, params *checkParams) error {
	var (
		logger  = util.Logger(ctx)
		reg     = prometheus.NewRegistry()
		metrics = pagealign.NewMetrics(reg)
		reports = make([]report.ArchiveReport, len(params.paths))

		mu   sync.Mutex
		merr *multierror.Error
	)

	var g errgroup.Group
	g.SetLimit(params.concurrency.Limit())
	for i, path := range params.paths {
		g.Go(func() error {
			r, err := checkArchive(fs, path, pagealign.NewScanner(
				pagealign.WithLogger(log.With(logger, "archive", path)),
				pagealign.WithMetrics(metrics),
			))
			if err != nil {
				r = report.Failed(path, err)
				mu.Lock()
				merr = multierror.Append(merr, err)
				mu.Unlock()
			}
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rep := report.Report{Archives: reports}
	level.Info(logger).Log("msg", "check done", "archives", len(reports), "problems", rep.ProblemCount())

	if params.metricsFile != "" {
		if err := writeMetrics(fs, params.metricsFile, reg); err != nil {
			return err
		}
	}
	if err := params.render(ctx, rep); err != nil {
		return err
	}
	return merr.ErrorOrNil()
}

func checkArchive(fs afero.Fs, path string, scanner *pagealign.Scanner) (report.ArchiveReport, error) {
	fi, err := fs.Stat(path)
	if err != nil {
		return report.ArchiveReport{}, err
	}
	if fi.IsDir() {
		return report.ArchiveReport{}, errors.Errorf("%s is a directory", path)
	}
	info, err := scanner.ScanFile(fs, path)
	if err != nil {
		return report.ArchiveReport{}, errors.Wrapf(err, "scanning %s", path)
	}
	return report.FromInfo(path, fi.Size(), info), nil
}
