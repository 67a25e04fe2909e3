package report

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"
	"github.com/xlab/treeprint"
	"gopkg.in/yaml.v3"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
	FormatYAML    = "yaml"
	FormatTree    = "tree"
)

var Formats = []string{FormatConsole, FormatJSON, FormatYAML, FormatTree}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Render writes r to w in the given format.
func Render(w io.Writer, format string, r Report) error {
	switch format {
	case FormatConsole:
		return renderConsole(w, r)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatTree:
		_, err := io.WriteString(w, renderTree(r))
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func renderConsole(w io.Writer, r Report) error {
	for _, a := range r.Archives {
		if _, err := fmt.Fprintf(w, "%s %s (%s)\n", status(a), a.Path, humanize.Bytes(uint64(a.Size))); err != nil {
			return err
		}
		if a.Error != "" {
			fmt.Fprintf(w, "\terror: %s\n", a.Error)
		}
		if len(a.Entries) == 0 {
			continue
		}
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Entry", "Problem", "Detail"})
		table.SetAutoWrapText(false)
		table.SetAutoMergeCells(true)
		for _, e := range a.Entries {
			for _, p := range e.Problems {
				table.Append([]string{e.Name, p.Message, p.Detail})
			}
		}
		table.Render()
	}
	_, err := fmt.Fprintf(w, "%d archive(s) checked, %d alignment problem(s) found\n", len(r.Archives), r.ProblemCount())
	return err
}

// renderTree prints archives, their failing entries and the problems of each
// entry as a tree.
func renderTree(r Report) string {
	tree := treeprint.New()
	for _, a := range r.Archives {
		if len(a.Entries) == 0 && a.Error == "" {
			tree.AddNode(fmt.Sprintf("%s %s", status(a), a.Path))
			continue
		}
		b := tree.AddBranch(fmt.Sprintf("%s %s", status(a), a.Path))
		if a.Error != "" {
			b.AddNode("error: " + a.Error)
		}
		for _, e := range a.Entries {
			eb := b.AddBranch(e.Name)
			for _, p := range e.Problems {
				eb.AddNode(p.Message)
			}
		}
	}
	return tree.String()
}

func status(a ArchiveReport) string {
	switch {
	case a.Error != "":
		return color.RedString("ERROR")
	case len(a.Entries) > 0:
		return color.RedString("FAIL")
	case !a.HasElfFiles:
		return color.CyanString("SKIP")
	default:
		return color.GreenString("PASS")
	}
}
