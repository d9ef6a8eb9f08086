// Package elfxtest writes small linked AArch64 ELF images for tests.
package elfxtest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

const (
	// Base is the load address of the single PT_LOAD segment, which maps
	// the file from offset 0.
	Base = 0x400000
	// TextOff is the file offset of .text.
	TextOff = 0x80
)

// Sym is a symbol placed relative to the start of .text.
type Sym struct {
	Name string
	Off  uint64
	Size uint64
	Type elf.SymType
}

// Image describes the file to write. Zero Machine and Type mean
// EM_AARCH64 and ET_EXEC.
type Image struct {
	Machine elf.Machine
	Type    elf.Type
	Text    []byte
	// Extra is mapped right after .text but belongs to no section.
	Extra []byte
	Syms  []Sym
}

// TextAddr is the virtual address of .text.
func (im *Image) TextAddr() uint64 { return Base + TextOff }

// ExtraAddr is the virtual address of the first Extra byte.
func (im *Image) ExtraAddr() uint64 { return im.TextAddr() + uint64(len(im.Text)) }

// SegmentEnd is the first address past the file-backed part of the segment.
func (im *Image) SegmentEnd() uint64 { return im.ExtraAddr() + uint64(len(im.Extra)) }

// Words encodes little-endian instruction words.
func Words(ws ...uint32) []byte {
	b := make([]byte, 4*len(ws))
	for i, w := range ws {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}

// Write writes im to a temp file and returns its path.
func Write(t testing.TB, im Image) string {
	t.Helper()
	machine, typ := im.Machine, im.Type
	if machine == 0 {
		machine = elf.EM_AARCH64
	}
	if typ == 0 {
		typ = elf.ET_EXEC
	}

	var strtab bytes.Buffer
	strtab.WriteByte(0)
	symtab := []elf.Sym64{{}}
	for _, s := range im.Syms {
		symtab = append(symtab, elf.Sym64{
			Name:  uint32(strtab.Len()),
			Info:  elf.ST_INFO(elf.STB_GLOBAL, s.Type),
			Shndx: 1,
			Value: im.TextAddr() + s.Off,
			Size:  s.Size,
		})
		strtab.WriteString(s.Name)
		strtab.WriteByte(0)
	}
	shstrtab := []byte("\x00.text\x00.symtab\x00.strtab\x00.shstrtab\x00")

	align8 := func(n int) int { return (n + 7) &^ 7 }
	loadEnd := TextOff + len(im.Text) + len(im.Extra)
	symOff := align8(loadEnd)
	symSize := len(symtab) * 24
	strOff := symOff + symSize
	shstrOff := strOff + strtab.Len()
	shOff := align8(shstrOff + len(shstrtab))
	fileSize := shOff + 5*64

	hdr := elf.Header64{
		Type:      uint16(typ),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     im.TextAddr(),
		Phoff:     64,
		Shoff:     uint64(shOff),
		Ehsize:    64,
		Phentsize: 56,
		Phnum:     1,
		Shentsize: 64,
		Shnum:     5,
		Shstrndx:  4,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	prog := elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Vaddr:  Base,
		Paddr:  Base,
		Filesz: uint64(loadEnd),
		Memsz:  uint64(loadEnd) + 0x100, // zero-filled tail
		Align:  0x1000,
	}

	sections := []elf.Section64{
		{},
		{Name: 1, Type: uint32(elf.SHT_PROGBITS), Flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Addr: im.TextAddr(), Off: TextOff, Size: uint64(len(im.Text)), Addralign: 4},
		{Name: 7, Type: uint32(elf.SHT_SYMTAB), Off: uint64(symOff), Size: uint64(symSize),
			Link: 3, Info: 1, Addralign: 8, Entsize: 24},
		{Name: 15, Type: uint32(elf.SHT_STRTAB), Off: uint64(strOff), Size: uint64(strtab.Len()), Addralign: 1},
		{Name: 23, Type: uint32(elf.SHT_STRTAB), Off: uint64(shstrOff), Size: uint64(len(shstrtab)), Addralign: 1},
	}

	buf := make([]byte, fileSize)
	put := func(off int, v any) {
		var b bytes.Buffer
		if err := binary.Write(&b, binary.LittleEndian, v); err != nil {
			t.Fatal(err)
		}
		copy(buf[off:], b.Bytes())
	}
	put(0, hdr)
	put(64, prog)
	copy(buf[TextOff:], im.Text)
	copy(buf[TextOff+len(im.Text):], im.Extra)
	for i, s := range symtab {
		put(symOff+i*24, s)
	}
	copy(buf[strOff:], strtab.Bytes())
	copy(buf[shstrOff:], shstrtab)
	for i, s := range sections {
		put(shOff+i*64, s)
	}

	path := filepath.Join(t.TempDir(), "test.elf")
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}
