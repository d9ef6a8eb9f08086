package disasm

import (
	"fmt"

	"cfgbuild/internal/cfg"
)

// Func is one function lifted for CFG construction: its instructions in
// address order, with a label definition inserted before every instruction
// that an in-function branch targets. Label ids are target addresses.
//
// Func implements cfg.Code.
type Func struct {
	Name       string
	Start, End uint64 // [Start, End)
	Ops        []Op

	// Symbols names call targets; unnamed targets render as sub_<addr>.
	Symbols map[uint64]string
}

// Op is one lifted instruction. Inst is nil for a synthetic label.
type Op struct {
	Addr   uint64
	Inst   *Inst
	Branch *Branch

	class  cfg.Class
	target uint64
}

func (o *Op) Class() cfg.Class { return o.class }
func (o *Op) Target() uint64   { return o.target }

// Text renders the op for display.
func (o *Op) Text() string {
	if o.Inst == nil {
		return LocName(o.Addr) + ":"
	}
	return o.Inst.Text
}

func (f *Func) Len() int                 { return len(f.Ops) }
func (f *Func) At(i int) cfg.Instruction { return &f.Ops[i] }

// CallAt returns the callee of a BL at op index i.
func (f *Func) CallAt(i int) (string, bool) {
	op := &f.Ops[i]
	if op.Inst == nil {
		return "", false
	}
	target, ok := DecodeCall(op.Inst.Raw, op.Addr)
	if !ok {
		return "", false
	}
	if name, ok := f.Symbols[target]; ok {
		return name, true
	}
	return fmt.Sprintf("sub_%x", target), true
}

// Lift classifies a function's instructions for the cfg builder.
//  1. Collect branch targets that land on an instruction of this function,
//     plus the function start when it opens with a branch or return.
//  2. Emit a label before each such instruction, then the instruction
//     classified by its branch kind.
//
// RET returns. B inside the function is an unconditional jump; B out of it
// is a tail call and also returns. Conditional branches inside the
// function are conditional jumps; out of it they only fall through.
func Lift(name string, insts []Inst) *Func {
	f := &Func{Name: name}
	if len(insts) == 0 {
		return f
	}
	f.Start = insts[0].Addr
	f.End = insts[len(insts)-1].Addr + 4

	addrs := make(map[uint64]bool, len(insts))
	for _, inst := range insts {
		addrs[inst.Addr] = true
	}
	inside := func(target uint64) bool {
		return target >= f.Start && target < f.End && addrs[target]
	}

	// Pass 1: branch targets.
	branches := make([]*Branch, len(insts))
	targets := make(map[uint64]bool)
	for i, inst := range insts {
		br := DecodeBranch(inst.Raw, inst.Addr)
		branches[i] = br
		if br != nil && !br.IsRet() && inside(br.Target) {
			targets[br.Target] = true
		}
	}

	// A branch or return at op 0 does not end a block. Put an entry label
	// in front of it so it lands at op 1.
	if br := branches[0]; br != nil && (br.IsRet() || !br.Cond || inside(br.Target)) {
		targets[f.Start] = true
	}

	// Pass 2: emit.
	f.Ops = make([]Op, 0, len(insts)+len(targets))
	for i := range insts {
		inst := &insts[i]
		if targets[inst.Addr] {
			f.Ops = append(f.Ops, Op{Addr: inst.Addr, class: cfg.LabelDefn, target: inst.Addr})
		}

		op := Op{Addr: inst.Addr, Inst: inst, Branch: branches[i]}
		switch br := branches[i]; {
		case br == nil:
			op.class = cfg.Other
		case br.IsRet():
			op.class = cfg.Return
		case !inside(br.Target):
			if br.Cond {
				op.class = cfg.Other
			} else {
				op.class = cfg.Return
			}
		case br.Cond:
			op.class, op.target = cfg.CondJump, br.Target
		default:
			op.class, op.target = cfg.UncondJump, br.Target
		}
		f.Ops = append(f.Ops, op)
	}
	return f
}

// Range is a named function address range [Start, End).
type Range struct {
	Name       string
	Start, End uint64
}

// Split returns the instructions of insts that fall inside r.
func Split(insts []Inst, r Range) []Inst {
	lo, hi := len(insts), len(insts)
	for i, inst := range insts {
		if inst.Addr >= r.Start && lo == len(insts) {
			lo = i
		}
		if inst.Addr >= r.End {
			hi = i
			break
		}
	}
	if lo > hi {
		return nil
	}
	return insts[lo:hi]
}
