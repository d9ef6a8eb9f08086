// Package cfg builds basic-block control flow graphs over linear
// instruction listings.
package cfg

import (
	"fmt"
	"iter"
	"slices"
	"sort"
	"strings"
)

// Cfg is a control flow graph over a bound instruction sequence.
//
// Block ids are plain indices. Block 0 is ENTRY and block NumBlocks()-1 is
// EXIT; both are always present and always empty. Block i covers the
// instructions [Range(i)).
//
// The tables are only valid after a successful Recompute and until the next
// Bind or Invalidate. Queries made while Computed reports false see a graph
// with no blocks.
type Cfg struct {
	code     Code
	computed bool

	blocks []int          // block i spans [blocks[i], blocks[i+1])
	labels map[uint64]int // label id → block it begins
	succs  [][]int
	preds  [][]int
}

// New returns a Cfg bound to code. Recompute must be called before the
// graph can be queried.
func New(code Code) *Cfg {
	return &Cfg{code: code}
}

// Bind rebinds the graph to code and drops the computed tables.
func (g *Cfg) Bind(code Code) {
	g.code = code
	g.Invalidate()
}

// Code returns the bound instruction sequence, or nil.
func (g *Cfg) Code() Code { return g.code }

// Invalidate marks the tables stale. Callers that mutate the bound code
// must call it (or Recompute) before querying again.
func (g *Cfg) Invalidate() {
	g.computed = false
	g.blocks = nil
	g.labels = nil
	g.succs = nil
	g.preds = nil
}

// Computed reports whether the tables reflect a successful Recompute.
func (g *Cfg) Computed() bool { return g.computed }

// Recompute rebuilds the block partition, label map, successor and
// predecessor tables from the bound code. The algorithm:
//  1. Scan once, pushing a block boundary at every label definition and
//     after every jump or return, and recording which block each label
//     begins.
//  2. Compute successors from each block's last instruction.
//  3. Invert successors into predecessors.
//
// The previous tables are replaced only if the whole computation succeeds.
// A jump to a label that is never defined fails with *UnresolvedLabelError.
func (g *Cfg) Recompute() error {
	if g.code == nil {
		return ErrUnbound
	}
	t, err := build(g.code)
	if err != nil {
		return err
	}
	g.blocks = t.blocks
	g.labels = t.labels
	g.succs = t.succs
	g.preds = t.preds
	g.computed = true
	return nil
}

type tables struct {
	blocks []int
	labels map[uint64]int
	succs  [][]int
	preds  [][]int
}

func build(code Code) (*tables, error) {
	n := code.Len()

	// No instructions: ENTRY falls straight into EXIT.
	if n == 0 {
		return &tables{
			blocks: []int{0, 0, 0},
			labels: map[uint64]int{},
			succs:  [][]int{{1}, nil},
			preds:  [][]int{nil, {0}},
		}, nil
	}

	t := &tables{
		// ENTRY and the first real block both start at 0.
		blocks: make([]int, 2, 8),
		labels: make(map[uint64]int),
	}

	// A label at 0 begins the first real block. Jumps and returns are only
	// looked at from instruction 1 on, so a terminator at 0 does not split.
	if first := code.At(0); first.Class().IsLabelDefn() {
		t.labels[first.Target()] = 1
	}

	// Pass 1: block boundaries and label map. A label defined twice maps
	// to its last definition.
	for i := 1; i < n; i++ {
		inst := code.At(i)
		c := inst.Class()

		if c.IsLabelDefn() {
			// A jump or return at i-1 may already have opened a block here.
			if t.blocks[len(t.blocks)-1] != i {
				t.blocks = append(t.blocks, i)
			}
			t.labels[inst.Target()] = len(t.blocks) - 1
			continue
		}
		if c.IsJump() || c.IsReturn() {
			t.blocks = append(t.blocks, i+1)
		}
	}

	// Close the last block unless a terminator already did, then add EXIT.
	if t.blocks[len(t.blocks)-1] != n {
		t.blocks = append(t.blocks, n)
	}
	t.blocks = append(t.blocks, n)

	nblocks := len(t.blocks) - 1
	exit := nblocks - 1

	// Pass 2: successors.
	t.succs = make([][]int, nblocks)
	for i := 0; i < exit; i++ {
		start, end := t.blocks[i], t.blocks[i+1]

		// Empty blocks fall through (this covers ENTRY).
		if start == end {
			t.succs[i] = []int{i + 1}
			continue
		}

		last := end - 1
		inst := code.At(last)
		c := inst.Class()
		switch {
		case c.IsUncondJump():
			b, err := t.resolve(inst.Target(), last)
			if err != nil {
				return nil, err
			}
			t.succs[i] = []int{b}
		case c.IsReturn():
			t.succs[i] = []int{exit}
		default:
			t.succs[i] = []int{i + 1}
			if c.IsCondJump() {
				b, err := t.resolve(inst.Target(), last)
				if err != nil {
					return nil, err
				}
				t.succs[i] = append(t.succs[i], b)
			}
		}
	}

	// Pass 3: predecessors.
	t.preds = make([][]int, nblocks)
	for i := 0; i < exit; i++ {
		for _, s := range t.succs[i] {
			t.preds[s] = append(t.preds[s], i)
		}
	}
	return t, nil
}

func (t *tables) resolve(label uint64, at int) (int, error) {
	b, ok := t.labels[label]
	if !ok {
		return 0, &UnresolvedLabelError{Index: at, Label: label}
	}
	return b, nil
}

// Entry returns the ENTRY block id, or -1 if the graph is not computed.
func (g *Cfg) Entry() int {
	if !g.computed {
		return -1
	}
	return 0
}

// Exit returns the EXIT block id, or -1 if the graph is not computed.
func (g *Cfg) Exit() int {
	if !g.computed {
		return -1
	}
	return g.NumBlocks() - 1
}

// NumBlocks returns the number of blocks including ENTRY and EXIT.
func (g *Cfg) NumBlocks() int {
	if len(g.blocks) == 0 {
		return 0
	}
	return len(g.blocks) - 1
}

// NumInstrs returns the number of instructions in block id, or 0 for an
// unknown block.
func (g *Cfg) NumInstrs(id int) int {
	start, end := g.Range(id)
	return end - start
}

// Range returns the half-open instruction range of block id, or (0, 0)
// for an unknown block.
func (g *Cfg) Range(id int) (start, end int) {
	if id < 0 || id >= g.NumBlocks() {
		return 0, 0
	}
	return g.blocks[id], g.blocks[id+1]
}

// Boundaries returns a copy of the block index table.
func (g *Cfg) Boundaries() []int {
	return slices.Clone(g.blocks)
}

// Succs iterates the successors of block id as of the last Recompute.
func (g *Cfg) Succs(id int) iter.Seq[int] {
	return snapshot(g.edges(g.succs, id))
}

// Preds iterates the predecessors of block id as of the last Recompute.
func (g *Cfg) Preds(id int) iter.Seq[int] {
	return snapshot(g.edges(g.preds, id))
}

func (g *Cfg) NumSuccs(id int) int { return len(g.edges(g.succs, id)) }
func (g *Cfg) NumPreds(id int) int { return len(g.edges(g.preds, id)) }

func (g *Cfg) edges(tab [][]int, id int) []int {
	if id < 0 || id >= len(tab) {
		return nil
	}
	return tab[id]
}

// Recompute never mutates a published edge slice, so holding on to it is
// enough to keep the iterator stable.
func snapshot(s []int) iter.Seq[int] {
	return func(yield func(int) bool) {
		for _, v := range s {
			if !yield(v) {
				return
			}
		}
	}
}

// LabelBlock returns the block that label begins.
func (g *Cfg) LabelBlock(label uint64) (int, bool) {
	b, ok := g.labels[label]
	return b, ok
}

// BlockOf returns the real block holding instruction idx, or -1.
func (g *Cfg) BlockOf(idx int) int {
	if !g.computed || idx < 0 || idx >= g.blocks[len(g.blocks)-1] {
		return -1
	}
	return sort.Search(len(g.blocks), func(k int) bool { return g.blocks[k] > idx }) - 1
}

// String renders one line per block: id, range, successors, predecessors.
func (g *Cfg) String() string {
	if !g.computed {
		return "cfg: not computed\n"
	}
	var b strings.Builder
	exit := g.Exit()
	for id := 0; id <= exit; id++ {
		start, end := g.Range(id)
		fmt.Fprintf(&b, "bb%d", id)
		switch id {
		case 0:
			b.WriteString(" ENTRY")
		case exit:
			b.WriteString(" EXIT")
		}
		fmt.Fprintf(&b, " [%d,%d) succs=%v preds=%v\n", start, end, g.edges(g.succs, id), g.edges(g.preds, id))
	}
	return b.String()
}
