package disasm

// ARM64 branch detection from raw 32-bit encodings. Only instructions that
// end a basic block are recognized; BL/BLR return to the next instruction
// and are not branches here.

// BranchKind identifies the branch encoding.
type BranchKind uint8

const (
	BranchRet BranchKind = iota + 1
	BranchB
	BranchBCond
	BranchCBZ
	BranchCBNZ
	BranchTBZ
	BranchTBNZ
)

var branchKindNames = [...]string{
	BranchRet:   "ret",
	BranchB:     "b",
	BranchBCond: "b.cond",
	BranchCBZ:   "cbz",
	BranchCBNZ:  "cbnz",
	BranchTBZ:   "tbz",
	BranchTBNZ:  "tbnz",
}

func (k BranchKind) String() string {
	if int(k) < len(branchKindNames) && branchKindNames[k] != "" {
		return branchKindNames[k]
	}
	return "branch?"
}

// Branch describes a decoded branch instruction.
type Branch struct {
	Kind   BranchKind
	Target uint64 // absolute target address (0 for RET)
	Cond   bool   // has a fallthrough edge
}

// IsRet reports whether the branch returns from the function.
func (b *Branch) IsRet() bool { return b.Kind == BranchRet }

// branchForm matches one encoding. The word offset is the immBits-wide
// field at immShift, scaled by 4.
type branchForm struct {
	mask, bits uint32
	kind       BranchKind
	cond       bool
	immShift   uint
	immBits    int
}

var branchForms = []branchForm{
	{mask: 0xFFFFFC1F, bits: 0xD65F0000, kind: BranchRet},
	{mask: 0xFC000000, bits: 0x14000000, kind: BranchB, immBits: 26},
	{mask: 0xFF000010, bits: 0x54000000, kind: BranchBCond, cond: true, immShift: 5, immBits: 19},
	{mask: 0x7F000000, bits: 0x34000000, kind: BranchCBZ, cond: true, immShift: 5, immBits: 19},
	{mask: 0x7F000000, bits: 0x35000000, kind: BranchCBNZ, cond: true, immShift: 5, immBits: 19},
	{mask: 0x7F000000, bits: 0x36000000, kind: BranchTBZ, cond: true, immShift: 5, immBits: 14},
	{mask: 0x7F000000, bits: 0x37000000, kind: BranchTBNZ, cond: true, immShift: 5, immBits: 14},
}

// DecodeBranch decodes a branch instruction at pc. Returns nil if raw is not
// a block-ending branch.
func DecodeBranch(raw uint32, pc uint64) *Branch {
	for _, f := range branchForms {
		if raw&f.mask != f.bits {
			continue
		}
		b := &Branch{Kind: f.kind, Cond: f.cond}
		if f.immBits > 0 {
			imm := (raw >> f.immShift) & (1<<f.immBits - 1)
			b.Target = uint64(int64(pc) + int64(signExtend(imm, f.immBits))*4)
		}
		return b
	}
	return nil
}

// DecodeCall decodes BL at pc and returns its target.
func DecodeCall(raw uint32, pc uint64) (uint64, bool) {
	if raw&0xFC000000 != 0x94000000 {
		return 0, false
	}
	return uint64(int64(pc) + int64(signExtend(raw&0x03FFFFFF, 26))*4), true
}

// signExtend sign-extends a value from the given bit width to int32.
func signExtend(val uint32, bits int) int32 {
	sign := uint32(1) << (bits - 1)
	mask := sign - 1
	if val&sign != 0 {
		return int32(val | ^mask)
	}
	return int32(val & mask)
}

// IsBranchTerminator reports whether raw ends a basic block.
func IsBranchTerminator(raw uint32) bool {
	return DecodeBranch(raw, 0) != nil
}
