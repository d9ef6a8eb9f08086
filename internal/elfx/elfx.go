// Package elfx loads code and function symbols from ARM64 ELF files.
package elfx

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

var (
	ErrNotELF    = errors.New("elfx: not an ELF file")
	ErrNotARM64  = errors.New("elfx: not ARM64 (EM_AARCH64)")
	ErrNot64Bit  = errors.New("elfx: not 64-bit ELF")
	ErrNotLinked = errors.New("elfx: not an executable or shared object")
	ErrNoText    = errors.New("elfx: no .text section")
	ErrNoSegment = errors.New("elfx: no PT_LOAD segment covers address")
)

// File wraps a debug/elf.File.
type File struct {
	ELF  *elf.File
	raw  io.ReaderAt
	size int64
}

// Open opens an ELF file and validates it is a linked 64-bit ARM64 image.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elfx: open: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("elfx: stat: %w", err)
	}

	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrNotELF, err)
	}

	var bad error
	switch {
	case ef.Class != elf.ELFCLASS64:
		bad = ErrNot64Bit
	case ef.Machine != elf.EM_AARCH64:
		bad = ErrNotARM64
	case ef.Type != elf.ET_DYN && ef.Type != elf.ET_EXEC:
		bad = ErrNotLinked
	}
	if bad != nil {
		f.Close()
		return nil, bad
	}

	return &File{ELF: ef, raw: f, size: info.Size()}, nil
}

// Close releases resources.
func (f *File) Close() error {
	if c, ok := f.raw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// FileSize returns the size of the underlying file.
func (f *File) FileSize() int64 { return f.size }

// Section is a loaded code section.
type Section struct {
	Addr uint64
	Data []byte
}

// End returns the first address past the section.
func (s *Section) End() uint64 { return s.Addr + uint64(len(s.Data)) }

// Text returns the contents of .text.
func (f *File) Text() (*Section, error) {
	sec := f.ELF.Section(".text")
	if sec == nil || sec.Type != elf.SHT_PROGBITS {
		return nil, ErrNoText
	}
	data, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("elfx: read .text: %w", err)
	}
	return &Section{Addr: sec.Addr, Data: data}, nil
}

// FuncSym is a sized function symbol.
type FuncSym struct {
	Name string
	Addr uint64
	Size uint64
}

// Funcs returns the sized STT_FUNC symbols that lie inside .text, sorted
// by address. .symtab is preferred; stripped files fall back to .dynsym.
// When several symbols share an address the first one wins.
func (f *File) Funcs() ([]FuncSym, error) {
	text, err := f.Text()
	if err != nil {
		return nil, err
	}
	syms, err := f.ELF.Symbols()
	if errors.Is(err, elf.ErrNoSymbols) {
		syms, err = f.ELF.DynamicSymbols()
	}
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("elfx: symbols: %w", err)
	}

	seen := make(map[uint64]bool)
	var funcs []FuncSym
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Size == 0 || s.Name == "" {
			continue
		}
		if s.Value < text.Addr || s.Value+s.Size > text.End() || seen[s.Value] {
			continue
		}
		seen[s.Value] = true
		funcs = append(funcs, FuncSym{Name: s.Name, Addr: s.Value, Size: s.Size})
	}
	sort.SliceStable(funcs, func(i, j int) bool { return funcs[i].Addr < funcs[j].Addr })
	return funcs, nil
}

// segment returns the PT_LOAD segment whose file-backed bytes hold va.
func (f *File) segment(va uint64) (*elf.Prog, error) {
	for _, p := range f.ELF.Progs {
		if p.Type == elf.PT_LOAD && va >= p.Vaddr && va-p.Vaddr < p.Filesz {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: VA 0x%x", ErrNoSegment, va)
}

// VAToFileOffset maps a virtual address to its file offset. Addresses in a
// segment's zero-filled tail have no file offset.
func (f *File) VAToFileOffset(va uint64) (uint64, error) {
	p, err := f.segment(va)
	if err != nil {
		return 0, err
	}
	off := p.Off + (va - p.Vaddr)
	if off >= uint64(f.size) {
		return 0, fmt.Errorf("elfx: VA 0x%x maps to offset 0x%x past end of file (0x%x)", va, off, f.size)
	}
	return off, nil
}

// ReadBytesAtVA reads up to n bytes at va. The read stops at the end of
// the segment's file-backed bytes, so the result may be short.
func (f *File) ReadBytesAtVA(va uint64, n int) ([]byte, error) {
	p, err := f.segment(va)
	if err != nil {
		return nil, err
	}
	off, err := f.VAToFileOffset(va)
	if err != nil {
		return nil, err
	}
	limit := min(p.Off+p.Filesz, uint64(f.size)) - off
	if uint64(n) > limit {
		n = int(limit)
	}
	buf := make([]byte, n)
	got, err := f.raw.ReadAt(buf, int64(off))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("elfx: read 0x%x bytes at VA 0x%x: %w", n, va, err)
	}
	return buf[:got], nil
}
