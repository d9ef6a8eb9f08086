package cfg

import (
	"errors"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// op is a minimal Instruction for building test listings.
type op struct {
	class Class
	label uint64
}

func (o op) Class() Class   { return o.class }
func (o op) Target() uint64 { return o.label }

func lbl(l uint64) op { return op{LabelDefn, l} }
func jmp(l uint64) op { return op{UncondJump, l} }
func jcc(l uint64) op { return op{CondJump, l} }
func ret() op         { return op{class: Return} }
func ins() op         { return op{class: Other} }

func listing(ops ...op) Seq {
	s := make(Seq, len(ops))
	for i, o := range ops {
		s[i] = o
	}
	return s
}

func mustBuild(t *testing.T, code Code) *Cfg {
	t.Helper()
	g := New(code)
	require.NoError(t, g.Recompute())
	require.True(t, g.Computed())
	return g
}

func succs(g *Cfg, id int) []int { return slices.Collect(g.Succs(id)) }
func preds(g *Cfg, id int) []int { return slices.Collect(g.Preds(id)) }

func TestRecompute_Empty(t *testing.T) {
	g := mustBuild(t, Seq(nil))

	assert.Equal(t, []int{0, 0, 0}, g.Boundaries())
	assert.Equal(t, 2, g.NumBlocks())
	assert.Equal(t, 0, g.Entry())
	assert.Equal(t, 1, g.Exit())
	assert.Equal(t, []int{1}, succs(g, g.Entry()))
	assert.Empty(t, preds(g, g.Entry()))
	assert.Equal(t, []int{0}, preds(g, g.Exit()))
	assert.Empty(t, succs(g, g.Exit()))
	assert.Equal(t, 0, g.NumInstrs(g.Entry()))
	assert.Equal(t, 0, g.NumInstrs(g.Exit()))
	assert.Equal(t, -1, g.BlockOf(0))
}

func TestRecompute_LabelThenJumpSelfLoop(t *testing.T) {
	g := mustBuild(t, listing(lbl(0), jmp(0)))

	// One real block spanning both instructions, no duplicate boundary.
	assert.Equal(t, []int{0, 0, 2, 2}, g.Boundaries())
	require.Equal(t, 3, g.NumBlocks())
	assert.Equal(t, 2, g.NumInstrs(1))
	assert.Equal(t, []int{1}, succs(g, 1))
	assert.Equal(t, []int{0, 1}, preds(g, 1))
	assert.Empty(t, preds(g, g.Exit()))

	b, ok := g.LabelBlock(0)
	require.True(t, ok)
	assert.Equal(t, 1, b)
}

func TestRecompute_ConditionalJump(t *testing.T) {
	// CMP; JE L1; MOV; L1: RET
	g := mustBuild(t, listing(ins(), jcc(1), ins(), lbl(1), ret()))

	assert.Equal(t, []int{0, 0, 2, 3, 5, 5}, g.Boundaries())
	require.Equal(t, 5, g.NumBlocks())
	assert.Equal(t, 4, g.Exit())

	assert.Equal(t, []int{1}, succs(g, 0))
	assert.Equal(t, []int{2, 3}, succs(g, 1))
	assert.Equal(t, []int{3}, succs(g, 2))
	assert.Equal(t, []int{4}, succs(g, 3))
	assert.Empty(t, succs(g, 4))

	assert.Equal(t, []int{1, 2}, preds(g, 3))
	assert.Equal(t, []int{3}, preds(g, 4))
	assert.Equal(t, 2, g.NumSuccs(1))
	assert.Equal(t, 2, g.NumPreds(3))

	want := "" +
		"bb0 ENTRY [0,0) succs=[1] preds=[]\n" +
		"bb1 [0,2) succs=[2 3] preds=[0]\n" +
		"bb2 [2,3) succs=[3] preds=[1]\n" +
		"bb3 [3,5) succs=[4] preds=[1 2]\n" +
		"bb4 EXIT [5,5) succs=[] preds=[3]\n"
	assert.Equal(t, want, g.String())
}

func TestRecompute_LabelAfterJump(t *testing.T) {
	g := mustBuild(t, listing(ins(), jmp(7), lbl(7), ret()))

	assert.Equal(t, []int{0, 0, 2, 4, 4}, g.Boundaries())
	b, ok := g.LabelBlock(7)
	require.True(t, ok)
	assert.Equal(t, 2, b)
	assert.Equal(t, []int{2}, succs(g, 1))
	assert.Equal(t, []int{g.Exit()}, succs(g, 2))
}

func TestRecompute_LabelAtZero(t *testing.T) {
	g := mustBuild(t, listing(lbl(3), ins(), jcc(3), ret()))

	assert.Equal(t, []int{0, 0, 3, 4, 4}, g.Boundaries())
	b, ok := g.LabelBlock(3)
	require.True(t, ok)
	assert.Equal(t, 1, b)
	assert.Equal(t, []int{2, 1}, succs(g, 1))
	assert.Equal(t, []int{0, 1}, preds(g, 1))
}

func TestRecompute_TerminatorAtZero(t *testing.T) {
	// Only instructions from 1 on can close a block; a jump or return at 0
	// stays inside the first real block.
	g := mustBuild(t, listing(ret(), ins()))
	assert.Equal(t, []int{0, 0, 2, 2}, g.Boundaries())
	assert.Equal(t, []int{2}, succs(g, 1))
	assert.Equal(t, []int{1}, preds(g, g.Exit()))

	g = mustBuild(t, listing(jmp(5), ins(), lbl(5), ret()))
	assert.Equal(t, []int{0, 0, 2, 4, 4}, g.Boundaries())
	assert.Equal(t, []int{2}, succs(g, 1))
	assert.Equal(t, []int{3}, succs(g, 2))
	assert.Equal(t, []int{1}, preds(g, 2))

	g = mustBuild(t, listing(ret()))
	assert.Equal(t, []int{0, 0, 1, 1}, g.Boundaries())
	assert.Equal(t, []int{2}, succs(g, 1))
}

func TestRecompute_FallOffEnd(t *testing.T) {
	g := mustBuild(t, listing(ins(), ins()))

	assert.Equal(t, []int{0, 0, 2, 2}, g.Boundaries())
	assert.Equal(t, []int{2}, succs(g, 1))
	assert.Equal(t, []int{1}, preds(g, g.Exit()))
}

func TestRecompute_ConsecutiveLabels(t *testing.T) {
	g := mustBuild(t, listing(ins(), lbl(1), lbl(2), jmp(1)))

	assert.Equal(t, []int{0, 0, 1, 2, 4, 4}, g.Boundaries())
	b1, _ := g.LabelBlock(1)
	b2, _ := g.LabelBlock(2)
	assert.Equal(t, 2, b1)
	assert.Equal(t, 3, b2)
	assert.Equal(t, []int{2}, succs(g, 3))
}

func TestRecompute_UnresolvedLabel(t *testing.T) {
	code := listing(ins(), ret())
	g := mustBuild(t, code)
	before := g.Boundaries()

	code[1] = jmp(9)
	err := g.Recompute()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolvedLabel))

	var ue *UnresolvedLabelError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 1, ue.Index)
	assert.Equal(t, uint64(9), ue.Label)

	// A failed recompute leaves the previous graph in place.
	assert.True(t, g.Computed())
	assert.Equal(t, before, g.Boundaries())
}

func TestRecompute_UnresolvedConditional(t *testing.T) {
	err := New(listing(ins(), jcc(4), ret())).Recompute()
	var ue *UnresolvedLabelError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 1, ue.Index)

	// A jump at 0 that does not end its block is never resolved.
	require.NoError(t, New(listing(jcc(4), ret())).Recompute())
}

func TestRecompute_DuplicateLabel(t *testing.T) {
	g := mustBuild(t, listing(lbl(1), ins(), lbl(1), ret()))

	assert.Equal(t, []int{0, 0, 2, 4, 4}, g.Boundaries())
	b, ok := g.LabelBlock(1)
	require.True(t, ok)
	assert.Equal(t, 2, b, "last definition wins")

	g = mustBuild(t, listing(ins(), lbl(1), jcc(1), lbl(1), ins(), jmp(1)))
	b, _ = g.LabelBlock(1)
	assert.Equal(t, 3, b)
	assert.Equal(t, []int{3, 3}, succs(g, 2))
	assert.Equal(t, []int{3}, succs(g, 3))
}

func TestRecompute_Unbound(t *testing.T) {
	var g Cfg
	require.ErrorIs(t, g.Recompute(), ErrUnbound)
	require.ErrorIs(t, New(nil).Recompute(), ErrUnbound)
	assert.False(t, g.Computed())
}

func TestNotComputed(t *testing.T) {
	g := New(listing(ins()))

	assert.False(t, g.Computed())
	assert.Equal(t, 0, g.NumBlocks())
	assert.Equal(t, -1, g.Entry())
	assert.Equal(t, -1, g.Exit())
	assert.Empty(t, succs(g, 0))
	assert.Equal(t, -1, g.BlockOf(0))
	assert.Equal(t, 0, g.NumInstrs(1))
	start, end := g.Range(1)
	assert.Equal(t, [2]int{0, 0}, [2]int{start, end})
	assert.Equal(t, "cfg: not computed\n", g.String())

	require.NoError(t, g.Recompute())
	assert.Equal(t, 3, g.NumBlocks())

	assert.Equal(t, 0, g.NumInstrs(-1))
	assert.Equal(t, 0, g.NumInstrs(3))

	g.Bind(listing(ins(), ret()))
	assert.False(t, g.Computed())
	assert.Equal(t, 0, g.NumBlocks())
	assert.Equal(t, 0, g.NumInstrs(1))

	require.NoError(t, g.Recompute())
	g.Invalidate()
	assert.False(t, g.Computed())
}

func TestSuccsSnapshot(t *testing.T) {
	code := listing(ins(), jcc(1), lbl(1), ret())
	g := mustBuild(t, code)
	it := g.Succs(1)

	code[1] = ins()
	require.NoError(t, g.Recompute())

	// The iterator still reflects the graph it was taken from, and can be
	// ranged more than once.
	assert.Equal(t, []int{2, 2}, slices.Collect(it))
	assert.Equal(t, []int{2, 2}, slices.Collect(it))
	assert.Equal(t, []int{2}, succs(g, 1))
}

func TestBlockOf(t *testing.T) {
	g := mustBuild(t, listing(ins(), jcc(1), ins(), lbl(1), ret()))

	for idx, want := range []int{1, 1, 2, 3, 3} {
		assert.Equal(t, want, g.BlockOf(idx), "instruction %d", idx)
	}
	assert.Equal(t, -1, g.BlockOf(5))
	assert.Equal(t, -1, g.BlockOf(-1))
}

func TestRecompute_Idempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for n := 0; n < 50; n++ {
		code := randomListing(rng, n)
		g := mustBuild(t, code)
		blocks, s, p := snapshotTables(g)

		require.NoError(t, g.Recompute())
		blocks2, s2, p2 := snapshotTables(g)
		assert.Equal(t, blocks, blocks2)
		assert.Equal(t, s, s2)
		assert.Equal(t, p, p2)
	}
}

func snapshotTables(g *Cfg) ([]int, [][]int, [][]int) {
	var s, p [][]int
	for id := 0; id < g.NumBlocks(); id++ {
		s = append(s, succs(g, id))
		p = append(p, preds(g, id))
	}
	return g.Boundaries(), s, p
}

// randomListing builds a well-formed listing of n instructions: every label
// is defined exactly once and every jump targets a defined label.
func randomListing(rng *rand.Rand, n int) Seq {
	ops := make([]op, n)
	nlabels := n / 4
	pos := rng.Perm(n)[:nlabels]
	isLabel := make(map[int]uint64, nlabels)
	for l, p := range pos {
		isLabel[p] = uint64(100 + l)
	}
	for i := range ops {
		if l, ok := isLabel[i]; ok {
			ops[i] = lbl(l)
			continue
		}
		r := rng.Intn(10)
		switch {
		case r < 2 && nlabels > 0:
			ops[i] = jmp(uint64(100 + rng.Intn(nlabels)))
		case r < 4 && nlabels > 0:
			ops[i] = jcc(uint64(100 + rng.Intn(nlabels)))
		case r < 5:
			ops[i] = ret()
		default:
			ops[i] = ins()
		}
	}
	return listing(ops...)
}

func TestRecompute_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 500; round++ {
		n := rng.Intn(40)
		code := randomListing(rng, n)
		g := mustBuild(t, code)
		checkProperties(t, g, code)
	}
}

func checkProperties(t *testing.T, g *Cfg, code Seq) {
	t.Helper()
	n := code.Len()
	entry, exit := g.Entry(), g.Exit()

	require.GreaterOrEqual(t, g.NumBlocks(), 2)
	bounds := g.Boundaries()
	require.True(t, slices.IsSorted(bounds), "boundaries %v", bounds)
	require.Equal(t, 0, bounds[0])
	require.Equal(t, n, bounds[len(bounds)-1])

	// ENTRY and EXIT.
	assert.Equal(t, 0, g.NumInstrs(entry))
	assert.Equal(t, []int{1}, succs(g, entry))
	assert.Empty(t, preds(g, entry))
	assert.Equal(t, 0, g.NumInstrs(exit))
	assert.Empty(t, succs(g, exit))

	for id := 1; id < exit; id++ {
		start, end := g.Range(id)
		if n > 0 {
			require.Less(t, start, end, "real block %d is empty", id)
		}
		for i := start; i < end; i++ {
			c := code.At(i).Class()
			if i != start {
				assert.False(t, c.IsLabelDefn(), "label inside block %d at %d", id, i)
			}
			if i != end-1 && i != 0 {
				assert.False(t, c.IsJump() || c.IsReturn(), "terminator inside block %d at %d", id, i)
			}
			assert.Equal(t, id, g.BlockOf(i))
		}
		if start == end {
			continue
		}
		last := code.At(end - 1)
		switch c := last.Class(); {
		case c.IsUncondJump():
			target, ok := g.LabelBlock(last.Target())
			require.True(t, ok)
			assert.Equal(t, []int{target}, succs(g, id))
		case c.IsReturn():
			assert.Equal(t, []int{exit}, succs(g, id))
		case c.IsCondJump():
			target, _ := g.LabelBlock(last.Target())
			assert.Equal(t, []int{id + 1, target}, succs(g, id))
		default:
			assert.Equal(t, []int{id + 1}, succs(g, id))
		}
	}

	// Every label resolves to the block whose first instruction defines it.
	for i := 0; i < n; i++ {
		if inst := code.At(i); inst.Class().IsLabelDefn() {
			b, ok := g.LabelBlock(inst.Target())
			require.True(t, ok)
			start, _ := g.Range(b)
			assert.Equal(t, i, start)
		}
	}

	// Edge inversion is exact, multiplicity included.
	type edge struct{ from, to int }
	fwd := map[edge]int{}
	rev := map[edge]int{}
	for id := 0; id < g.NumBlocks(); id++ {
		for s := range g.Succs(id) {
			fwd[edge{id, s}]++
			assert.Contains(t, preds(g, s), id)
		}
		for p := range g.Preds(id) {
			rev[edge{p, id}]++
		}
	}
	assert.Equal(t, fwd, rev)
}

func TestClassPredicates(t *testing.T) {
	assert.True(t, LabelDefn.IsLabelDefn())
	assert.True(t, CondJump.IsJump())
	assert.True(t, UncondJump.IsJump())
	assert.True(t, CondJump.IsCondJump())
	assert.False(t, CondJump.IsUncondJump())
	assert.False(t, UncondJump.IsCondJump())
	assert.True(t, Return.IsReturn())
	assert.False(t, Return.IsJump())
	assert.False(t, Other.IsJump() || Other.IsReturn() || Other.IsLabelDefn())
	assert.Equal(t, "cjump", CondJump.String())
	assert.Equal(t, "class?", Class(99).String())
}
