package pagealign

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/pagealign/pkg/testhelper"
)

func load(vaddr, memsz, align uint64) ProgramHeader {
	return ProgramHeader{Type: ProgTypeLoad, Vaddr: vaddr, Memsz: memsz, Align: align}
}

func relro(vaddr, memsz uint64) ProgramHeader {
	return ProgramHeader{Type: ProgTypeGNURelro, Vaddr: vaddr, Memsz: memsz, Align: 1}
}

func TestAnalyzeElf(t *testing.T) {
	testcases := []struct {
		name     string
		progs    []ProgramHeader
		sections []SectionHeader
		expected []AlignmentProblem
	}{
		{
			name:  "aligned load",
			progs: []ProgramHeader{load(0, 0x1000, 0x4000)},
		},
		{
			name: "no load segments",
		},
		{
			name:     "4 KB load",
			progs:    []ProgramHeader{load(0, 0x1000, 0x1000)},
			expected: []AlignmentProblem{LoadSectionNotAligned{Header: load(0, 0x1000, 0x1000)}},
		},
		{
			name: "smallest load alignment is reported once",
			progs: []ProgramHeader{
				load(0, 0x1000, 0x4000),
				load(0x10000, 0x1000, 0x1000),
				load(0x20000, 0x1000, 0x1000),
				load(0x30000, 0x1000, 0x10000),
			},
			expected: []AlignmentProblem{LoadSectionNotAligned{Header: load(0x10000, 0x1000, 0x1000)}},
		},
		{
			name:  "64 KB load",
			progs: []ProgramHeader{load(0, 0x1000, 0x10000)},
		},
		{
			name:     "relro before any load",
			progs:    []ProgramHeader{relro(0x100, 0x100), load(0x4000, 0x4000, 0x4000)},
			expected: []AlignmentProblem{RelroStartNotAligned{Header: relro(0x100, 0x100)}},
		},
		{
			name:     "relro without loads",
			progs:    []ProgramHeader{relro(0x100, 0x100)},
			expected: []AlignmentProblem{RelroStartNotAligned{Header: relro(0x100, 0x100)}},
		},
		{
			name: "relro bleeds into next load",
			progs: []ProgramHeader{
				load(0, 0x4000, 0x4000),
				relro(0x3000, 0x2000),
				load(0x4000, 0x4000, 0x4000),
			},
			expected: []AlignmentProblem{RelroEndNotAligned{Header: relro(0x3000, 0x2000)}},
		},
		{
			name: "relro prefix of unaligned load start",
			progs: []ProgramHeader{
				load(0x1100, 0x6f00, 0x4000),
				relro(0x1100, 0x2f00),
			},
			sections: []SectionHeader{{Addr: 0x1100, Size: 0x100}, {Addr: 0x5000, Size: 0x100}},
		},
		{
			name: "relro suffix of load with unaligned end",
			progs: []ProgramHeader{
				load(0x4000, 0x6100, 0x4000),
				relro(0x8000, 0x2100),
			},
			sections: []SectionHeader{{Addr: 0x4000, Size: 0x10}, {Addr: 0x8000, Size: 0x10}},
		},
		{
			name: "relro start not aligned",
			progs: []ProgramHeader{
				load(0, 0x10000, 0x4000),
				relro(0x1000, 0x7000),
			},
			sections: []SectionHeader{{Addr: 0x0, Size: 0x100}, {Addr: 0x1000, Size: 0x100}},
			expected: []AlignmentProblem{RelroStartNotAligned{Header: relro(0x1000, 0x7000)}},
		},
		{
			name: "relro end not aligned",
			progs: []ProgramHeader{
				load(0, 0x10000, 0x4000),
				relro(0x4000, 0x1000),
			},
			sections: []SectionHeader{{Addr: 0x4000, Size: 0x100}, {Addr: 0x9000, Size: 0x100}},
			expected: []AlignmentProblem{RelroEndNotAligned{Header: relro(0x4000, 0x1000)}},
		},
		{
			name: "relro start and end not aligned",
			progs: []ProgramHeader{
				load(0, 0x10000, 0x4000),
				relro(0x1000, 0x1000),
			},
			sections: []SectionHeader{{Addr: 0x100, Size: 0x100}, {Addr: 0x1000, Size: 0x100}},
			expected: []AlignmentProblem{
				RelroStartNotAligned{Header: relro(0x1000, 0x1000)},
				RelroEndNotAligned{Header: relro(0x1000, 0x1000)},
			},
		},
		{
			name: "relro holds the same sections as its load",
			progs: []ProgramHeader{
				load(0x1000, 0x10000, 0x4000),
				relro(0x1100, 0x1000),
			},
			sections: []SectionHeader{{Addr: 0x1200, Size: 0x100}},
		},
		{
			name: "zero sized sections count for containment",
			progs: []ProgramHeader{
				load(0x1000, 0x10000, 0x4000),
				relro(0x1100, 0x1000),
			},
			sections: []SectionHeader{{Addr: 0x1200, Size: 0x100}, {Addr: 0x9000, Size: 0}},
			expected: []AlignmentProblem{
				RelroStartNotAligned{Header: relro(0x1100, 0x1000)},
				RelroEndNotAligned{Header: relro(0x1100, 0x1000)},
			},
		},
		{
			name: "each relro is checked against its own load",
			progs: []ProgramHeader{
				load(0x10000, 0x10000, 0x4000),
				load(0, 0x8000, 0x4000),
				relro(0x11000, 0x3000),
				relro(0x1000, 0x1000),
			},
			sections: []SectionHeader{{Addr: 0x0, Size: 0x10}, {Addr: 0x10000, Size: 0x10}},
			expected: []AlignmentProblem{
				RelroStartNotAligned{Header: relro(0x11000, 0x3000)},
				RelroStartNotAligned{Header: relro(0x1000, 0x1000)},
				RelroEndNotAligned{Header: relro(0x1000, 0x1000)},
			},
		},
		{
			name: "load problem comes first",
			progs: []ProgramHeader{
				relro(0x100, 0x100),
				load(0x1000, 0x1000, 0x1000),
			},
			expected: []AlignmentProblem{
				LoadSectionNotAligned{Header: load(0x1000, 0x1000, 0x1000)},
				RelroStartNotAligned{Header: relro(0x100, 0x100)},
			},
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			problems := AnalyzeElf(&ElfContext{ProgramHeaders: tc.progs, SectionHeaders: tc.sections})
			require.Equal(t, tc.expected, problems)
		})
	}
}

func TestReadElfAlignmentProblems(t *testing.T) {
	b := testhelper.ElfFile{
		Progs: []elf.ProgHeader{
			testhelper.Load(0, 0x2000, 0x1000),
			testhelper.Load(0x4000, 0x2000, 0x4000),
		},
	}.Bytes()

	problems, ok := CheckElf(bytes.NewReader(b))
	require.True(t, ok)
	require.Equal(t, []AlignmentProblem{LoadSectionNotAligned{Header: load(0, 0x2000, 0x1000)}}, problems)
	require.Equal(t, "4 KB LOAD section alignment, but 16 KB is required", problems[0].String())

	r := bytes.NewReader(b)
	require.True(t, HasElfMagic(r))
	problems, ok = ReadElfAlignmentProblems(r)
	require.True(t, ok)
	require.Len(t, problems, 1)
}

func TestCheckElf_NotElf(t *testing.T) {
	_, ok := CheckElf(bytes.NewReader([]byte("PK\x03\x04 not an elf file at all")))
	require.False(t, ok)
	_, ok = CheckElf(bytes.NewReader([]byte{0x7f, 'E', 'L'}))
	require.False(t, ok)
}

func TestCheckElf_Aligned(t *testing.T) {
	b := testhelper.ElfFile{
		Progs:    []elf.ProgHeader{testhelper.Load(0, 0x4000, 0x4000)},
		Sections: []elf.SectionHeader{testhelper.Section(0x100, 0x100)},
	}.Bytes()
	problems, ok := CheckElf(bytes.NewReader(b))
	require.True(t, ok)
	require.Empty(t, problems)
}
