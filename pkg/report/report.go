package report

import (
	"fmt"

	"github.com/samber/lo"
	"golang.org/x/exp/slices"

	"github.com/grafana/pagealign/pkg/pagealign"
)

// Report is the outcome of checking a set of archives and ELF files.
type Report struct {
	Archives []ArchiveReport `json:"archives" yaml:"archives"`
}

type ArchiveReport struct {
	Path        string        `json:"path" yaml:"path"`
	Size        int64         `json:"size" yaml:"size"`
	HasElfFiles bool          `json:"has_elf_files" yaml:"has_elf_files"`
	Entries     []EntryReport `json:"entries,omitempty" yaml:"entries,omitempty"`
	Error       string        `json:"error,omitempty" yaml:"error,omitempty"`
}

type EntryReport struct {
	Name     string          `json:"name" yaml:"name"`
	Problems []ProblemReport `json:"problems" yaml:"problems"`
}

type ProblemReport struct {
	Kind    string `json:"kind" yaml:"kind"`
	Message string `json:"message" yaml:"message"`
	// Detail is the offending program header, or the data offset of a zip entry.
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// FromInfo converts the scan result of one archive. Entries are sorted by name.
func FromInfo(path string, size int64, info pagealign.PageAlignmentInfo) ArchiveReport {
	r := ArchiveReport{
		Path:        path,
		Size:        size,
		HasElfFiles: info.HasElfFiles,
	}
	if info.ZipErr != nil {
		r.Error = info.ZipErr.Error()
	}
	names := lo.Keys(info.AlignmentProblems)
	slices.Sort(names)
	for _, name := range names {
		r.Entries = append(r.Entries, EntryReport{
			Name:     name,
			Problems: lo.Map(info.AlignmentProblems[name], func(p pagealign.AlignmentProblem, _ int) ProblemReport { return FromProblem(p) }),
		})
	}
	return r
}

// FromElf converts the problems of a standalone ELF file. Files that are not
// 64-bit little-endian ELF files are reported without ELF content.
func FromElf(path string, size int64, problems []pagealign.AlignmentProblem, ok bool) ArchiveReport {
	r := ArchiveReport{Path: path, Size: size, HasElfFiles: ok}
	if len(problems) > 0 {
		r.Entries = []EntryReport{{
			Name:     path,
			Problems: lo.Map(problems, func(p pagealign.AlignmentProblem, _ int) ProblemReport { return FromProblem(p) }),
		}}
	}
	return r
}

// Failed creates the report of an input that could not be read at all.
func Failed(path string, err error) ArchiveReport {
	return ArchiveReport{Path: path, Error: err.Error()}
}

func FromProblem(p pagealign.AlignmentProblem) ProblemReport {
	r := ProblemReport{Kind: string(p.Kind()), Message: p.String()}
	switch p := p.(type) {
	case pagealign.LoadSectionNotAligned:
		r.Detail = p.Header.String()
	case pagealign.RelroStartNotAligned:
		r.Detail = p.Header.String()
	case pagealign.RelroEndNotAligned:
		r.Detail = p.Header.String()
	case pagealign.ZipEntryNotAligned:
		r.Detail = fmt.Sprintf("data offset %d", p.Offset)
	}
	return r
}

// ProblemCount returns the number of alignment problems over all archives.
func (r Report) ProblemCount() int {
	return lo.SumBy(r.Archives, func(a ArchiveReport) int {
		return lo.SumBy(a.Entries, func(e EntryReport) int { return len(e.Problems) })
	})
}

// Failed reports whether any archive has an alignment problem or could not be fully read.
func (r Report) Failed() bool {
	return r.ProblemCount() > 0 || lo.SomeBy(r.Archives, func(a ArchiveReport) bool { return a.Error != "" })
}
