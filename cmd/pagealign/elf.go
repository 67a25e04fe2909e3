package main

import (
	"context"

	"github.com/go-kit/log"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/grafana/pagealign/pkg/pagealign"
	"github.com/grafana/pagealign/pkg/report"
	"github.com/grafana/pagealign/pkg/util"
)

type elfParams struct {
	*outputParams
	paths []string
}

func addElfParams(cmd *kingpin.CmdClause) *elfParams {
	params := &elfParams{}
	params.outputParams = addOutputParams(cmd)
	cmd.Arg("file", "ELF files to check.").Required().StringsVar(&params.paths)
	return params
}

func checkElf(ctx context.Context, fs afero.Fs, params *elfParams) error {
	var (
		logger = util.Logger(ctx)
		rep    report.Report
		merr   *multierror.Error
	)
	for _, path := range params.paths {
		scanner := pagealign.NewScanner(pagealign.WithLogger(log.With(logger, "file", path)))
		r, err := checkElfFile(fs, path, scanner)
		if err != nil {
			merr = multierror.Append(merr, err)
			r = report.Failed(path, err)
		}
		rep.Archives = append(rep.Archives, r)
	}
	if err := params.render(ctx, rep); err != nil {
		return err
	}
	return merr.ErrorOrNil()
}

func checkElfFile(fs afero.Fs, path string, scanner *pagealign.Scanner) (report.ArchiveReport, error) {
	fi, err := fs.Stat(path)
	if err != nil {
		return report.ArchiveReport{}, err
	}
	problems, ok, err := scanner.ScanElfFile(fs, path)
	if err != nil {
		return report.ArchiveReport{}, err
	}
	return report.FromElf(path, fi.Size(), problems, ok), nil
}
