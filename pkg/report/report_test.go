package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/grafana/pagealign/pkg/pagealign"
)

var (
	loadHeader  = pagealign.ProgramHeader{Type: pagealign.ProgTypeLoad, Vaddr: 0, Memsz: 0x2000, Align: 0x1000}
	relroHeader = pagealign.ProgramHeader{Type: pagealign.ProgTypeGNURelro, Vaddr: 0x1000, Memsz: 0x100, Align: 1}
)

func testReport() Report {
	info := pagealign.PageAlignmentInfo{
		HasElfFiles: true,
		AlignmentProblems: map[string][]pagealign.AlignmentProblem{
			"lib/x86_64/libb.so": {pagealign.RelroEndNotAligned{Header: relroHeader}},
			"lib/arm64-v8a/liba.so": {
				pagealign.LoadSectionNotAligned{Header: loadHeader},
				pagealign.NewZipEntryNotAligned(4096),
			},
		},
	}
	return Report{Archives: []ArchiveReport{
		FromInfo("app.apk", 2048, info),
		FromInfo("clean.apk", 100, pagealign.PageAlignmentInfo{HasElfFiles: true, AlignmentProblems: map[string][]pagealign.AlignmentProblem{}}),
	}}
}

func TestFromInfo(t *testing.T) {
	r := testReport()
	require.Equal(t, ArchiveReport{
		Path:        "app.apk",
		Size:        2048,
		HasElfFiles: true,
		Entries: []EntryReport{
			{Name: "lib/arm64-v8a/liba.so", Problems: []ProblemReport{
				{Kind: "load_section_not_aligned", Message: "4 KB LOAD section alignment, but 16 KB is required", Detail: "PT_LOAD start: 0x00000000 end: 0x00002000 align: 0x00001000"},
				{Kind: "zip_entry_not_aligned", Message: "4 KB zip alignment, but 16 KB is required", Detail: "data offset 4096"},
			}},
			{Name: "lib/x86_64/libb.so", Problems: []ProblemReport{
				{Kind: "relro_end_not_aligned", Message: "RELRO is not a suffix and its end is not 16 KB aligned", Detail: "PT_GNU_RELRO start: 0x00001000 end: 0x00001100 align: 0x00000001"},
			}},
		},
	}, r.Archives[0])
	require.Empty(t, r.Archives[1].Entries)
	require.Equal(t, 3, r.ProblemCount())
	require.True(t, r.Failed())
}

func TestReport_Failed(t *testing.T) {
	require.False(t, Report{}.Failed())
	require.False(t, Report{Archives: []ArchiveReport{FromElf("libc.so", 10, nil, true)}}.Failed())
	require.False(t, Report{Archives: []ArchiveReport{FromElf("lib32.so", 10, nil, false)}}.Failed())
	require.True(t, Report{Archives: []ArchiveReport{Failed("missing.apk", errors.New("no such file"))}}.Failed())
	require.True(t, Report{Archives: []ArchiveReport{
		FromInfo("broken.apk", 10, pagealign.PageAlignmentInfo{ZipErr: errors.New("zipstream: not a valid zip file")}),
	}}.Failed())
	require.True(t, Report{Archives: []ArchiveReport{
		FromElf("libbad.so", 10, []pagealign.AlignmentProblem{pagealign.LoadSectionNotAligned{Header: loadHeader}}, true),
	}}.Failed())
}

func TestRender_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatJSON, testReport()))
	out := buf.String()
	require.Contains(t, out, `"path": "app.apk"`)
	require.Contains(t, out, `"kind": "zip_entry_not_aligned"`)
	require.Contains(t, out, `"has_elf_files": true`)
	require.NotContains(t, out, `"error"`)
}

func TestRender_YAML(t *testing.T) {
	var buf bytes.Buffer
	expected := testReport()
	require.NoError(t, Render(&buf, FormatYAML, expected))

	var actual Report
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &actual))
	require.Equal(t, expected, actual)
}

func TestRender_Console(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	r := testReport()
	r.Archives = append(r.Archives,
		FromInfo("resources.zip", 10, pagealign.PageAlignmentInfo{AlignmentProblems: map[string][]pagealign.AlignmentProblem{}}),
		Failed("missing.apk", errors.New("open missing.apk: no such file")),
	)
	require.NoError(t, Render(&buf, FormatConsole, r))
	out := buf.String()

	lines := strings.Split(out, "\n")
	require.Equal(t, "FAIL app.apk (2.0 kB)", lines[0])
	require.Contains(t, out, "PASS clean.apk (100 B)")
	require.Contains(t, out, "SKIP resources.zip (10 B)")
	require.Contains(t, out, "ERROR missing.apk (0 B)\n\terror: open missing.apk: no such file")
	require.Contains(t, out, "RELRO is not a suffix and its end is not 16 KB aligned")
	require.Contains(t, out, "lib/arm64-v8a/liba.so")
	require.Contains(t, out, "4 archive(s) checked, 3 alignment problem(s) found")
}

func TestRender_Tree(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	r := testReport()
	r.Archives = append(r.Archives, Failed("missing.apk", errors.New("no such file")))
	require.NoError(t, Render(&buf, FormatTree, r))
	out := buf.String()

	require.Contains(t, out, "FAIL app.apk\n")
	require.Contains(t, out, "PASS clean.apk\n")
	require.Contains(t, out, "ERROR missing.apk\n")
	require.Contains(t, out, "error: no such file")
	require.Contains(t, out, "lib/arm64-v8a/liba.so\n")
	require.Contains(t, out, "4 KB zip alignment, but 16 KB is required")
	require.Less(t, strings.Index(out, "liba.so"), strings.Index(out, "libb.so"))
}

func TestRender_UnknownFormat(t *testing.T) {
	require.Error(t, Render(&bytes.Buffer{}, "xml", Report{}))
}
