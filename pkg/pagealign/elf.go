package pagealign

import (
	"debug/elf"
	"fmt"
	"io"
	"math"

	"golang.org/x/exp/slices"
)

const (
	elfHeaderSize        = 64
	programHeaderSize    = 56
	sectionHeaderSize    = 64
	elfIdentToPhoffBytes = 26
)

var elfMagic = [4]byte{0x7f, 'E', 'L', 'F'}

// ProgType is the p_type of an ELF program header.
type ProgType uint32

const (
	ProgTypeLoad     = ProgType(elf.PT_LOAD)
	ProgTypeGNURelro = ProgType(elf.PT_GNU_RELRO)
)

func (t ProgType) String() string {
	switch t {
	case ProgTypeLoad:
		return "PT_LOAD"
	case ProgTypeGNURelro:
		return "PT_GNU_RELRO"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", uint32(t))
	}
}

// ProgramHeader is the part of an ELF64 program header the alignment checks need.
type ProgramHeader struct {
	Type  ProgType
	Vaddr uint64
	Memsz uint64
	Align uint64
}

func (h ProgramHeader) EndVaddr() uint64 {
	return h.Vaddr + h.Memsz
}

func (h ProgramHeader) String() string {
	return fmt.Sprintf("%s start: %s end: %s align: %s", h.Type, toHex(h.Vaddr), toHex(h.EndVaddr()), toHex(h.Align))
}

// SectionHeader is a simplified ELF64 section header, used to decide which
// sections a segment contains.
type SectionHeader struct {
	Addr uint64
	Size uint64
}

func compareSections(a, b SectionHeader) int {
	switch {
	case a.Addr < b.Addr:
		return -1
	case a.Addr > b.Addr:
		return 1
	}
	return 0
}

// ElfContext holds the program and section headers of one ELF binary, in file order.
type ElfContext struct {
	ProgramHeaders []ProgramHeader
	SectionHeaders []SectionHeader
}

type tableReader struct {
	offset uint64
	read   func()
}

// ParseElf reads the headers of a 64-bit little-endian ELF file from r, which
// must be positioned right after the magic number. The stream is consumed
// forward only: both header tables are read in file-offset order.
//
// The second result is false when r is not a supported ELF file (32-bit,
// big-endian, or truncated before the fixed header is complete).
func ParseElf(r io.Reader) (*ElfContext, bool) {
	var ident [2]byte
	if !readExact(r, ident[:]) {
		return nil, false
	}
	if elf.Class(ident[0]) != elf.ELFCLASS64 || elf.Data(ident[1]) != elf.ELFDATA2LSB {
		return nil, false
	}
	if !skipFully(r, elfIdentToPhoffBytes) {
		return nil, false
	}

	phoff, ok := readU64LE(r)
	if !ok {
		return nil, false
	}
	shoff, ok := readU64LE(r)
	if !ok {
		return nil, false
	}
	// e_flags, e_ehsize
	if !skipFully(r, 4+2) {
		return nil, false
	}
	phentsize, ok := readU16LE(r)
	if !ok {
		return nil, false
	}
	phnum, ok := readU16LE(r)
	if !ok {
		return nil, false
	}
	shentsize, ok := readU16LE(r)
	if !ok {
		return nil, false
	}
	shnum, ok := readU16LE(r)
	if !ok {
		return nil, false
	}
	// e_shstrndx
	if !skipFully(r, 2) {
		return nil, false
	}

	var (
		current = uint64(elfHeaderSize)
		ctx     = &ElfContext{}
		readers []tableReader
	)

	// Offsets past math.MaxInt64 cannot be reached in a stream and are ignored.
	if phoff >= current && phoff <= math.MaxInt64 && phnum > 0 {
		readers = append(readers, tableReader{offset: phoff, read: func() {
			for i := 0; i < int(phnum); i++ {
				h, ok := readProgramHeader(r, phentsize)
				if !ok {
					return
				}
				ctx.ProgramHeaders = append(ctx.ProgramHeaders, h)
			}
			current += uint64(phnum) * uint64(phentsize)
		}})
	}

	if shoff >= current && shoff <= math.MaxInt64 && shnum > 0 {
		readers = append(readers, tableReader{offset: shoff, read: func() {
			for i := 0; i < int(shnum); i++ {
				s, ok := readSectionHeader(r, shentsize)
				if !ok {
					return
				}
				// Zero-sized sections are kept: they still count for containment.
				ctx.SectionHeaders = append(ctx.SectionHeaders, s)
			}
			current += uint64(shnum) * uint64(shentsize)
		}})
	}

	slices.SortStableFunc(readers, func(a, b tableReader) int {
		switch {
		case a.offset < b.offset:
			return -1
		case a.offset > b.offset:
			return 1
		}
		return 0
	})

	for _, tr := range readers {
		if tr.offset < current {
			continue
		}
		if !skipFully(r, int64(tr.offset-current)) {
			continue
		}
		current = tr.offset
		tr.read()
	}

	return ctx, true
}

func readProgramHeader(r io.Reader, entsize uint16) (ProgramHeader, bool) {
	var h ProgramHeader
	typ, ok := readU32LE(r)
	if !ok {
		return h, false
	}
	// p_flags, p_offset
	if !skipFully(r, 4+8) {
		return h, false
	}
	if h.Vaddr, ok = readU64LE(r); !ok {
		return h, false
	}
	// p_paddr, p_filesz
	if !skipFully(r, 8+8) {
		return h, false
	}
	if h.Memsz, ok = readU64LE(r); !ok {
		return h, false
	}
	if h.Align, ok = readU64LE(r); !ok {
		return h, false
	}
	h.Type = ProgType(typ)
	if entsize > programHeaderSize {
		// A short padding skip surfaces on the next header read.
		skipFully(r, int64(entsize-programHeaderSize))
	}
	return h, true
}

func readSectionHeader(r io.Reader, entsize uint16) (SectionHeader, bool) {
	var s SectionHeader
	// sh_name, sh_type, sh_flags
	if !skipFully(r, 4+4+8) {
		return s, false
	}
	addr, ok := readU64LE(r)
	if !ok {
		return s, false
	}
	// sh_offset
	if !skipFully(r, 8) {
		return s, false
	}
	size, ok := readU64LE(r)
	if !ok {
		return s, false
	}
	// sh_link, sh_info, sh_addralign, sh_entsize
	if !skipFully(r, 4+4+8+8) {
		return s, false
	}
	if entsize > sectionHeaderSize && !skipFully(r, int64(entsize-sectionHeaderSize)) {
		return s, false
	}
	return SectionHeader{Addr: addr, Size: size}, true
}

func toHex(v uint64) string {
	return fmt.Sprintf("0x%08x", v)
}
