package disasm

import "testing"

func TestDecodeBranch_RET(t *testing.T) {
	// RET (X30) = 0xD65F03C0
	bi := DecodeBranch(0xD65F03C0, 0x1000)
	if bi == nil {
		t.Fatal("expected RET")
	}
	if !bi.IsRet() || bi.Kind != BranchRet {
		t.Errorf("kind = %v, want ret", bi.Kind)
	}
}

func TestDecodeBranch_B(t *testing.T) {
	// B #0x100 at PC=0x1000 → target=0x1100
	// imm26 = 0x100/4 = 0x40
	raw := uint32(0x14000000 | 0x40)
	bi := DecodeBranch(raw, 0x1000)
	if bi == nil {
		t.Fatal("expected B")
	}
	if bi.Target != 0x1100 {
		t.Errorf("target = 0x%x, want 0x1100", bi.Target)
	}
	if bi.Cond || bi.Kind != BranchB {
		t.Errorf("branch = %+v, want unconditional b", bi)
	}
}

func TestDecodeBranch_B_Negative(t *testing.T) {
	// B #-0x10 at PC=0x1000 → target=0xFF0
	// imm26 = -4 (offset = -0x10 / 4 = -4), encoded as 0x03FFFFFC
	raw := uint32(0x14000000 | (0x03FFFFFF - 3)) // -4 in 26-bit two's complement
	bi := DecodeBranch(raw, 0x1000)
	if bi == nil {
		t.Fatal("expected B")
	}
	if bi.Target != 0x0FF0 {
		t.Errorf("target = 0x%x, want 0xFF0", bi.Target)
	}
}

func TestDecodeBranch_Bcond(t *testing.T) {
	// B.EQ #0x20 at PC=0x2000 → target=0x2020
	// imm19 = 0x20/4 = 8, cond = 0 (EQ)
	raw := uint32(0x54000000 | (8 << 5) | 0) // B.EQ
	bi := DecodeBranch(raw, 0x2000)
	if bi == nil {
		t.Fatal("expected B.cond")
	}
	if bi.Target != 0x2020 {
		t.Errorf("target = 0x%x, want 0x2020", bi.Target)
	}
	if !bi.Cond {
		t.Error("B.cond should be conditional")
	}
}

func TestDecodeBranch_CBZ(t *testing.T) {
	// CBZ X0, #0x40 at PC=0x3000 → target=0x3040
	// imm19 = 0x40/4 = 0x10, sf=1 (64-bit), Rt=0
	raw := uint32(0xB4000000 | (0x10 << 5) | 0) // CBZ X0
	bi := DecodeBranch(raw, 0x3000)
	if bi == nil {
		t.Fatal("expected CBZ")
	}
	if bi.Target != 0x3040 {
		t.Errorf("target = 0x%x, want 0x3040", bi.Target)
	}
	if !bi.Cond || bi.Kind != BranchCBZ {
		t.Errorf("branch = %+v, want conditional cbz", bi)
	}
}

func TestDecodeBranch_TBZ(t *testing.T) {
	// TBZ W0, #0, #0x10 at PC=0x4000 → target=0x4010
	// imm14 = 0x10/4 = 4
	raw := uint32(0x36000000 | (4 << 5) | 0) // TBZ
	bi := DecodeBranch(raw, 0x4000)
	if bi == nil {
		t.Fatal("expected TBZ")
	}
	if bi.Target != 0x4010 {
		t.Errorf("target = 0x%x, want 0x4010", bi.Target)
	}
	if !bi.Cond || bi.Kind != BranchTBZ {
		t.Errorf("branch = %+v, want conditional tbz", bi)
	}
}

func TestDecodeBranch_NotBranch(t *testing.T) {
	// ADD X0, X1, X2 = 0x8B020020
	bi := DecodeBranch(0x8B020020, 0x1000)
	if bi != nil {
		t.Error("ADD should not be a branch")
	}

	// BL is NOT a basic-block terminator (it's a call)
	bl := uint32(0x94000000 | 0x100)
	bi = DecodeBranch(bl, 0x1000)
	if bi != nil {
		t.Error("BL should not be detected as branch terminator")
	}
}

func TestDecodeBranch_RETRegister(t *testing.T) {
	// RET X1 = 0xD65F0020
	bi := DecodeBranch(0xD65F0020, 0x1000)
	if bi == nil || !bi.IsRet() {
		t.Fatalf("RET X1 = %+v", bi)
	}
	if bi.Target != 0 {
		t.Errorf("RET target = 0x%x, want 0", bi.Target)
	}
}

func TestDecodeBranch_CBNZ_TBNZ(t *testing.T) {
	// CBNZ W3, #-0x8 at PC=0x5000 → 0x4FF8; imm19 = -2
	cbnz := uint32(0x35000000 | ((0x7FFFF - 1) << 5) | 3)
	bi := DecodeBranch(cbnz, 0x5000)
	if bi == nil || bi.Kind != BranchCBNZ || bi.Target != 0x4FF8 {
		t.Errorf("CBNZ = %+v, want cbnz → 0x4ff8", bi)
	}

	// TBNZ X5, #33, #0x14 at PC=0x6000 → 0x6014; b5=1, imm14 = 5
	tbnz := uint32(0xB7000000 | (1 << 19) | (5 << 5) | 5)
	bi = DecodeBranch(tbnz, 0x6000)
	if bi == nil || bi.Kind != BranchTBNZ || bi.Target != 0x6014 {
		t.Errorf("TBNZ = %+v, want tbnz → 0x6014", bi)
	}
}

func TestIsBranchTerminator(t *testing.T) {
	if !IsBranchTerminator(0xD65F03C0) {
		t.Error("RET should terminate a block")
	}
	if IsBranchTerminator(0xD503201F) {
		t.Error("NOP should not terminate a block")
	}
}

func TestBranchKindString(t *testing.T) {
	if BranchBCond.String() != "b.cond" {
		t.Errorf("BranchBCond = %q", BranchBCond.String())
	}
	if BranchKind(0).String() != "branch?" {
		t.Errorf("BranchKind(0) = %q", BranchKind(0).String())
	}
}

func TestSignExtend(t *testing.T) {
	tests := []struct {
		val  uint32
		bits int
		want int32
	}{
		{0x04, 19, 4},       // positive
		{0x7FFFF, 19, -1},   // -1 in 19-bit
		{0x3FFF, 14, -1},    // -1 in 14-bit
		{0x2000, 14, -8192}, // MSB set in 14-bit
	}
	for _, tc := range tests {
		got := signExtend(tc.val, tc.bits)
		if got != tc.want {
			t.Errorf("signExtend(0x%x, %d) = %d, want %d", tc.val, tc.bits, got, tc.want)
		}
	}
}

func TestDecodeCall(t *testing.T) {
	// BL +0x100 at PC=0x1000 → 0x1100
	target, ok := DecodeCall(0x94000000|0x40, 0x1000)
	if !ok || target != 0x1100 {
		t.Errorf("BL = 0x%x, %v; want 0x1100", target, ok)
	}
	if _, ok := DecodeCall(0x14000040, 0x1000); ok {
		t.Error("B should not decode as a call")
	}
}
