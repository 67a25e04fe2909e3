package pagealign

import "fmt"

// PageAlignment16K is the page size native libraries must be aligned to.
const PageAlignment16K = 16 * 1024

func Is16KAligned(v uint64) bool {
	return v%PageAlignment16K == 0
}

type ProblemKind string

const (
	KindZipEntryNotAligned    ProblemKind = "zip_entry_not_aligned"
	KindLoadSectionNotAligned ProblemKind = "load_section_not_aligned"
	KindRelroStartNotAligned  ProblemKind = "relro_start_not_aligned"
	KindRelroEndNotAligned    ProblemKind = "relro_end_not_aligned"
)

// AlignmentProblem is one violation found in an ELF file or its zip entry.
// The concrete types are ZipEntryNotAligned, LoadSectionNotAligned,
// RelroStartNotAligned and RelroEndNotAligned.
type AlignmentProblem interface {
	fmt.Stringer
	Kind() ProblemKind
}

// ZipEntryNotAligned reports a stored entry whose data does not start on a 16 KB
// boundary within the archive. Alignment is the largest power of two dividing Offset.
type ZipEntryNotAligned struct {
	Offset    uint64
	Alignment uint64
}

func NewZipEntryNotAligned(offset uint64) ZipEntryNotAligned {
	return ZipEntryNotAligned{Offset: offset, Alignment: offsetAlignment(offset)}
}

func (ZipEntryNotAligned) Kind() ProblemKind { return KindZipEntryNotAligned }

func (p ZipEntryNotAligned) String() string {
	return fmt.Sprintf("%s zip alignment, but 16 KB is required", HumanReadablePageSize(int64(p.Alignment)))
}

type LoadSectionNotAligned struct {
	Header ProgramHeader
}

func (LoadSectionNotAligned) Kind() ProblemKind { return KindLoadSectionNotAligned }

func (p LoadSectionNotAligned) String() string {
	return fmt.Sprintf("%s LOAD section alignment, but 16 KB is required", HumanReadablePageSize(int64(p.Header.Align)))
}

type RelroStartNotAligned struct {
	Header ProgramHeader
}

func (RelroStartNotAligned) Kind() ProblemKind { return KindRelroStartNotAligned }

func (RelroStartNotAligned) String() string {
	return "RELRO is not a prefix and its start is not 16 KB aligned"
}

type RelroEndNotAligned struct {
	Header ProgramHeader
}

func (RelroEndNotAligned) Kind() ProblemKind { return KindRelroEndNotAligned }

func (RelroEndNotAligned) String() string {
	return "RELRO is not a suffix and its end is not 16 KB aligned"
}

// HumanReadablePageSize renders a page size in KB when it is a whole number of
// kilobytes and in bytes otherwise. -1 renders as the empty string.
func HumanReadablePageSize(sizeInBytes int64) string {
	if sizeInBytes == -1 {
		return ""
	}
	if sizeInBytes >= 1024 && sizeInBytes%1024 == 0 {
		return fmt.Sprintf("%d KB", sizeInBytes/1024)
	}
	return fmt.Sprintf("%d B", sizeInBytes)
}

// offsetAlignment returns the largest power of two that divides offset, capped
// at the required page size. An offset of zero is fully aligned.
func offsetAlignment(offset uint64) uint64 {
	if offset == 0 {
		return PageAlignment16K
	}
	a := offset & -offset
	if a > PageAlignment16K {
		return PageAlignment16K
	}
	return a
}
