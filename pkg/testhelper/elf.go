package testhelper

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

const (
	elfHeaderSize     = 64
	programHeaderSize = 56
	sectionHeaderSize = 64
)

// ElfFile describes a synthetic ELF64 file containing only a file header, a
// program header table and a section header table.
type ElfFile struct {
	Progs    []elf.ProgHeader
	Sections []elf.SectionHeader

	// Class and Data default to ELFCLASS64 and ELFDATA2LSB. Other values only
	// change the identification bytes.
	Class elf.Class
	Data  elf.Data

	// SectionsFirst places the section header table before the program headers.
	SectionsFirst bool
	// Gap is the number of zero bytes between the file header and the first table.
	Gap int
	// ProgPadding and SectionPadding grow each table entry beyond its canonical size.
	ProgPadding    int
	SectionPadding int
}

// Load returns a PT_LOAD program header.
func Load(vaddr, memsz, align uint64) elf.ProgHeader {
	return elf.ProgHeader{Type: elf.PT_LOAD, Flags: elf.PF_R, Off: vaddr, Vaddr: vaddr, Paddr: vaddr, Filesz: memsz, Memsz: memsz, Align: align}
}

// Relro returns a PT_GNU_RELRO program header.
func Relro(vaddr, memsz uint64) elf.ProgHeader {
	return elf.ProgHeader{Type: elf.PT_GNU_RELRO, Flags: elf.PF_R, Off: vaddr, Vaddr: vaddr, Paddr: vaddr, Filesz: memsz, Memsz: memsz, Align: 1}
}

// Section returns a PROGBITS section header.
func Section(addr, size uint64) elf.SectionHeader {
	return elf.SectionHeader{Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC, Addr: addr, Offset: addr, Size: size, Addralign: 8}
}

// Bytes encodes the file.
func (f ElfFile) Bytes() []byte {
	class, data := f.Class, f.Data
	if class == elf.ELFCLASSNONE {
		class = elf.ELFCLASS64
	}
	if data == elf.ELFDATANONE {
		data = elf.ELFDATA2LSB
	}

	phentsize := programHeaderSize + f.ProgPadding
	shentsize := sectionHeaderSize + f.SectionPadding
	phsize := len(f.Progs) * phentsize
	shsize := len(f.Sections) * shentsize

	phoff := elfHeaderSize + f.Gap
	shoff := phoff + phsize
	if f.SectionsFirst {
		shoff = elfHeaderSize + f.Gap
		phoff = shoff + shsize
	}

	hdr := elf.Header64{
		Type:      uint16(elf.ET_DYN),
		Machine:   uint16(elf.EM_AARCH64),
		Version:   uint32(elf.EV_CURRENT),
		Phoff:     uint64(phoff),
		Shoff:     uint64(shoff),
		Ehsize:    elfHeaderSize,
		Phentsize: uint16(phentsize),
		Phnum:     uint16(len(f.Progs)),
		Shentsize: uint16(shentsize),
		Shnum:     uint16(len(f.Sections)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(class)
	hdr.Ident[elf.EI_DATA] = byte(data)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var buf bytes.Buffer
	write(&buf, hdr)
	buf.Write(make([]byte, f.Gap))
	if f.SectionsFirst {
		f.writeSections(&buf)
		f.writeProgs(&buf)
	} else {
		f.writeProgs(&buf)
		f.writeSections(&buf)
	}
	return buf.Bytes()
}

func (f ElfFile) writeProgs(buf *bytes.Buffer) {
	for _, p := range f.Progs {
		write(buf, elf.Prog64{
			Type:   uint32(p.Type),
			Flags:  uint32(p.Flags),
			Off:    p.Off,
			Vaddr:  p.Vaddr,
			Paddr:  p.Paddr,
			Filesz: p.Filesz,
			Memsz:  p.Memsz,
			Align:  p.Align,
		})
		buf.Write(make([]byte, f.ProgPadding))
	}
}

func (f ElfFile) writeSections(buf *bytes.Buffer) {
	for _, s := range f.Sections {
		write(buf, elf.Section64{
			Type:      uint32(s.Type),
			Flags:     uint64(s.Flags),
			Addr:      s.Addr,
			Off:       s.Offset,
			Size:      s.Size,
			Addralign: s.Addralign,
			Entsize:   s.Entsize,
		})
		buf.Write(make([]byte, f.SectionPadding))
	}
}

func write(buf *bytes.Buffer, v any) {
	// Writing fixed-size structs into a bytes.Buffer cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, v)
}
