// Package disasm decodes ARM64 machine code and lifts functions into
// instruction sequences for the cfg builder.
package disasm

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
)

// Inst is a decoded ARM64 instruction with address and raw bytes.
type Inst struct {
	Addr     uint64
	Raw      uint32
	Mnemonic string
	Operands string
	Text     string // full disassembly line
}

// Options controls disassembly behavior.
type Options struct {
	BaseAddr uint64 // VA of the first byte in Data
	MaxSteps int    // maximum instructions to decode; 0 = 10M
}

const defaultMaxSteps = 10_000_000

func (o Options) effectiveMax() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return defaultMaxSteps
}

// Disassemble decodes little-endian ARM64 words from data. Trailing bytes
// that do not form a whole word are ignored. Words arm64asm cannot decode
// become ".word" pseudo-instructions.
func Disassemble(data []byte, opts Options) []Inst {
	n := min(len(data)/4, opts.effectiveMax())

	result := make([]Inst, 0, n)
	for i := 0; i < n; i++ {
		word := data[i*4 : i*4+4]
		result = append(result, decodeWord(word, opts.BaseAddr+uint64(i*4)))
	}
	return result
}

func decodeWord(word []byte, addr uint64) Inst {
	inst := Inst{Addr: addr, Raw: binary.LittleEndian.Uint32(word)}

	dec, err := arm64asm.Decode(word)
	if err != nil {
		inst.Mnemonic = ".word"
		inst.Operands = fmt.Sprintf("0x%08x", inst.Raw)
		inst.Text = ".word " + inst.Operands
		return inst
	}
	inst.Text = dec.String()
	inst.Mnemonic, inst.Operands, _ = strings.Cut(inst.Text, " ")
	return inst
}

// Format renders a lifted function as stable text. Branch targets get a
// "loc_<addr>:" line; instructions are "<addr>  <bytes>  <disasm>".
func Format(f *Func) string {
	var b strings.Builder
	for i := range f.Ops {
		op := &f.Ops[i]
		if op.Inst == nil {
			fmt.Fprintf(&b, "%s:\n", LocName(op.Addr))
			continue
		}
		raw := op.Inst.Raw
		fmt.Fprintf(&b, "  0x%08x  %02x %02x %02x %02x  %s\n",
			op.Addr, byte(raw), byte(raw>>8), byte(raw>>16), byte(raw>>24), op.Inst.Text)
	}
	return b.String()
}

// LocName is the label name used for a branch target address.
func LocName(addr uint64) string {
	return fmt.Sprintf("loc_%x", addr)
}
