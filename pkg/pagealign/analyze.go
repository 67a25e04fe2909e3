package pagealign

import (
	"io"
	"math"

	"github.com/samber/lo"
	"golang.org/x/exp/slices"
)

// HasElfMagic reports whether r starts with the ELF magic number. It consumes
// the first four bytes. Entries the zip reader cannot decode, such as encrypted
// ones, are not ELF files.
func HasElfMagic(r io.Reader) bool {
	var ident [4]byte
	if _, err := io.ReadFull(r, ident[:]); err != nil {
		// Includes zipstream.ErrUnsupportedFeature.
		return false
	}
	return ident == elfMagic
}

// CheckElf verifies a whole ELF file, magic number included.
// The second result is false when r is not a supported ELF file.
func CheckElf(r io.Reader) ([]AlignmentProblem, bool) {
	if !HasElfMagic(r) {
		return nil, false
	}
	return ReadElfAlignmentProblems(r)
}

// ReadElfAlignmentProblems verifies an ELF stream positioned after its magic number.
func ReadElfAlignmentProblems(r io.Reader) ([]AlignmentProblem, bool) {
	ctx, ok := ParseElf(r)
	if !ok {
		return nil, false
	}
	return AnalyzeElf(ctx), true
}

// AnalyzeElf checks LOAD and GNU_RELRO segments for 16 KB compatibility.
// Problems are returned in the order they are found.
func AnalyzeElf(ctx *ElfContext) []AlignmentProblem {
	var problems []AlignmentProblem

	loads := lo.Filter(ctx.ProgramHeaders, func(h ProgramHeader, _ int) bool {
		return h.Type == ProgTypeLoad
	})
	// The loader maps every segment at the coarsest alignment any of them declares.
	if len(loads) > 0 {
		minAlign := lo.MinBy(loads, func(a, b ProgramHeader) bool {
			return a.Align < b.Align
		})
		if !Is16KAligned(minAlign.Align) {
			problems = append(problems, LoadSectionNotAligned{Header: minAlign})
		}
	}

	relros := lo.Filter(ctx.ProgramHeaders, func(h ProgramHeader, _ int) bool {
		return h.Type == ProgTypeGNURelro
	})
	sortedLoads := slices.Clone(loads)
	slices.SortStableFunc(sortedLoads, func(a, b ProgramHeader) int {
		switch {
		case a.Vaddr < b.Vaddr:
			return -1
		case a.Vaddr > b.Vaddr:
			return 1
		}
		return 0
	})

	for _, relro := range relros {
		_, loadIndex, found := lo.FindLastIndexOf(sortedLoads, func(load ProgramHeader) bool {
			return load.Vaddr <= relro.Vaddr
		})
		if !found {
			problems = append(problems, RelroStartNotAligned{Header: relro})
			continue
		}
		load := sortedLoads[loadIndex]

		limit := uint64(math.MaxUint64)
		if loadIndex+1 < len(sortedLoads) {
			limit = sortedLoads[loadIndex+1].Vaddr
		}
		if relro.EndVaddr() > limit {
			// RELRO bleeds into the next LOAD segment.
			problems = append(problems, RelroEndNotAligned{Header: relro})
			continue
		}

		if relroIsEntireLoadSegment(relro, load, ctx.SectionHeaders) {
			continue
		}

		if !Is16KAligned(relro.Vaddr) && relro.Vaddr != load.Vaddr {
			problems = append(problems, RelroStartNotAligned{Header: relro})
		}
		if !Is16KAligned(relro.EndVaddr()) && relro.EndVaddr() != load.EndVaddr() {
			problems = append(problems, RelroEndNotAligned{Header: relro})
		}
	}

	return problems
}

// relroIsEntireLoadSegment reports whether the RELRO segment contains exactly the
// same sections as its LOAD segment. The LOAD alignment check then covers it.
func relroIsEntireLoadSegment(relro, load ProgramHeader, sections []SectionHeader) bool {
	return slices.Equal(containedSections(relro, sections), containedSections(load, sections))
}

func containedSections(segment ProgramHeader, sections []SectionHeader) []SectionHeader {
	contained := lo.Filter(sections, func(s SectionHeader, _ int) bool {
		return s.Addr >= segment.Vaddr && s.Addr+s.Size <= segment.EndVaddr()
	})
	slices.SortStableFunc(contained, compareSections)
	return contained
}
