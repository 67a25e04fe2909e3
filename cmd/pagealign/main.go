package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/go-kit/log/level"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/prometheus/common/version"
	"github.com/spf13/afero"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/grafana/pagealign/pkg/report"
	"github.com/grafana/pagealign/pkg/util"
)

var cfg struct {
	verbose bool
	color   string
}

// errAlignmentProblems is returned with --fail-on-problems. The problems are
// already part of the report.
var errAlignmentProblems = errors.New("alignment problems found")

func main() {
	app := kingpin.New(filepath.Base(os.Args[0]), "Checks that native libraries in Android archives support 16 KB memory pages.").UsageWriter(os.Stdout)
	app.Version(version.Print("pagealign"))
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Enable verbose logging.").Short('v').Default("0").BoolVar(&cfg.verbose)
	app.Flag("color", "Colorize console output.").Default("auto").EnumVar(&cfg.color, "auto", "always", "never")

	checkCmd := app.Command("check", "Check the ELF files inside apk, aab, aar or zip archives.").Default()
	checkParams := addCheckParams(checkCmd)

	elfCmd := app.Command("elf", "Check standalone ELF files.")
	elfParams := addElfParams(elfCmd)

	// parse command line arguments
	parsedCmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	setColor(cfg.color, os.Stdout)
	logger := util.NewLogger(os.Stderr, cfg.verbose)
	ctx := util.WithLogger(context.Background(), logger)
	ctx = withOutput(ctx, os.Stdout)
	fs := afero.NewOsFs()

	switch parsedCmd {
	case checkCmd.FullCommand():
		os.Exit(checkError(check(ctx, fs, checkParams)))
	case elfCmd.FullCommand():
		os.Exit(checkError(checkElf(ctx, fs, elfParams)))
	default:
		level.Error(logger).Log("msg", "unknown command", "cmd", parsedCmd)
		os.Exit(2)
	}
}

type outputParams struct {
	format         string
	failOnProblems bool
}

func addOutputParams(cmd *kingpin.CmdClause) *outputParams {
	params := &outputParams{}
	cmd.Flag("output", "How to output the report.").Short('o').Default(report.FormatConsole).EnumVar(&params.format, report.Formats...)
	cmd.Flag("fail-on-problems", "Exit with a non-zero code when an alignment problem is found or an input cannot be read.").Default("false").BoolVar(&params.failOnProblems)
	return params
}

func (p *outputParams) render(ctx context.Context, r report.Report) error {
	if err := report.Render(output(ctx), p.format, r); err != nil {
		return errors.Wrap(err, "rendering report")
	}
	if p.failOnProblems && r.Failed() {
		return errAlignmentProblems
	}
	return nil
}

func setColor(mode string, f *os.File) {
	switch mode {
	case "always":
		color.NoColor = false
	case "never":
		color.NoColor = true
	default:
		color.NoColor = os.Getenv("TERM") == "dumb" ||
			!(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
	}
}

func checkError(err error) int {
	switch err {
	case nil:
		return 0
	case errAlignmentProblems:
		// Already part of the report, so just exit with an error code.
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return 1
}

type contextKey uint8

const (
	contextKeyOutput contextKey = iota
)

func withOutput(ctx context.Context, w io.Writer) context.Context {
	return context.WithValue(ctx, contextKeyOutput, w)
}

func output(ctx context.Context) io.Writer {
	if w, ok := ctx.Value(contextKeyOutput).(io.Writer); ok {
		return w
	}
	return os.Stdout
}
