package latticecfg

import "github.com/zboralski/lattice"

// CallGraph builds a lattice.Graph with one node per function and one edge
// per named call site. Code that does not implement CallLister contributes
// a node only.
func CallGraph(funcs []Func) *lattice.Graph {
	g := &lattice.Graph{}
	for _, f := range funcs {
		g.Nodes = append(g.Nodes, f.Name)
		calls, ok := f.Graph.Code().(CallLister)
		if !ok {
			continue
		}
		for i := 0; i < f.Graph.Code().Len(); i++ {
			callee, ok := calls.CallAt(i)
			if !ok || callee == "" {
				continue
			}
			g.Edges = append(g.Edges, lattice.Edge{
				Caller: f.Name,
				Callee: callee,
			})
		}
	}
	g.Dedup()
	return g
}
