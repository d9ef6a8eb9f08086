// Package latticecfg exports computed control flow graphs as lattice
// graphs for rendering.
package latticecfg

import (
	"errors"
	"fmt"
	"sort"

	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	"cfgbuild/internal/cfg"
)

// ErrNotComputed is returned when a graph is exported before Recompute.
var ErrNotComputed = errors.New("latticecfg: graph not computed")

// CallLister is implemented by code that can name the callee of a call
// instruction. Calls become lattice call sites in their block.
type CallLister interface {
	CallAt(i int) (callee string, ok bool)
}

// Func is one named, computed graph.
type Func struct {
	Name  string
	Graph *cfg.Cfg
}

// Build converts every function into one lattice.CFGGraph.
func Build(funcs []Func) (*lattice.CFGGraph, error) {
	cg := &lattice.CFGGraph{}
	for _, f := range funcs {
		lcfg, err := Convert(f.Name, f.Graph)
		if err != nil {
			return nil, fmt.Errorf("latticecfg: %s: %w", f.Name, err)
		}
		cg.Funcs = append(cg.Funcs, lcfg)
	}
	return cg, nil
}

// DOT renders funcs with the lattice CFG renderer.
func DOT(funcs []Func, title string) (string, error) {
	cg, err := Build(funcs)
	if err != nil {
		return "", err
	}
	return render.DOTCFG(cg, title), nil
}

// Convert maps a computed graph to a lattice.FuncCFG. Every block,
// ENTRY and EXIT included, becomes a lattice block with the same id.
// Successors of a conditional jump are tagged "F" (fallthrough) and "T"
// (taken); blocks that end in a return are terminal. A block that falls
// off the end into EXIT is not.
func Convert(name string, g *cfg.Cfg) (*lattice.FuncCFG, error) {
	if !g.Computed() {
		return nil, ErrNotComputed
	}
	code := g.Code()
	calls, _ := code.(CallLister)

	lcfg := &lattice.FuncCFG{Name: name}
	for id := 0; id < g.NumBlocks(); id++ {
		start, end := g.Range(id)
		lb := &lattice.BasicBlock{
			ID:    id,
			Start: start,
			End:   end,
		}

		var last cfg.Class
		if start < end {
			last = code.At(end - 1).Class()
		}
		cond := last.IsCondJump()
		lb.Term = last.IsReturn()
		k := 0
		for s := range g.Succs(id) {
			succ := lattice.Successor{BlockID: s}
			if cond {
				succ.Cond = "F"
				if k == 1 {
					succ.Cond = "T"
				}
			}
			lb.Succs = append(lb.Succs, succ)
			k++
		}

		if calls != nil {
			for idx := start; idx < end; idx++ {
				if callee, ok := calls.CallAt(idx); ok {
					lb.Calls = append(lb.Calls, lattice.CallSite{Offset: idx, Callee: callee})
				}
			}
			sort.Slice(lb.Calls, func(i, j int) bool {
				return lb.Calls[i].Offset < lb.Calls[j].Offset
			})
		}

		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg, nil
}
