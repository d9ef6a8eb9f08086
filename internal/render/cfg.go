package render

import (
	"errors"
	"fmt"
	"strings"

	"cfgbuild/internal/cfg"
)

// ErrNotComputed is returned when rendering a graph before Recompute.
var ErrNotComputed = errors.New("render: graph not computed")

const (
	maxBlockLines = 12
	maxLineLen    = 60
)

// CFGDOT renders a computed graph as DOT. Each block is a node listing its
// instructions; ENTRY and EXIT are drawn as small sentinel nodes.
// Conditional jumps get T/F colored edges. Instructions that implement
// Text() string are rendered with it, others by class.
func CFGDOT(name string, g *cfg.Cfg, t Theme) (string, error) {
	if !g.Computed() {
		return "", ErrNotComputed
	}
	code := g.Code()
	entry, exit := g.Entry(), g.Exit()

	var b strings.Builder
	b.WriteString("digraph cfg {\n")
	b.WriteString("  rankdir=TB;\n")
	b.WriteString("  nodesep=0.3;\n")
	b.WriteString("  ranksep=0.4;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Courier,monospace\", fontsize=8, fontcolor=%q, margin=\"0.08,0.04\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	b.WriteString("  edge [penwidth=0.7, arrowsize=0.5, arrowhead=vee];\n")
	b.WriteString("  labelloc=t;\n  labeljust=l;\n")
	fmt.Fprintf(&b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"9\" color=\"%s\">%s</font>>;\n",
		t.TextColor, dotEscape(name))
	b.WriteByte('\n')

	// Nodes.
	for id := 0; id < g.NumBlocks(); id++ {
		switch id {
		case entry, exit:
			label := "ENTRY"
			attrs := fmt.Sprintf(", penwidth=1.5, color=%q", t.EntryBorder)
			if id == exit {
				label, attrs = "EXIT", ""
			}
			fmt.Fprintf(&b, "  bb%d [label=%q, shape=oval, fontcolor=%q, fillcolor=%q%s];\n",
				id, label, t.MutedText, t.SentinelFill, attrs)
			continue
		}

		start, end := g.Range(id)
		var lines []string
		for i := start; i < end; i++ {
			lines = append(lines, dotEscape(truncLabel(fmt.Sprintf("%d: %s", i, instText(code.At(i))), maxLineLen)))
		}
		// Truncate long blocks.
		if len(lines) > maxBlockLines {
			kept := append(lines[:5:5], fmt.Sprintf("... (%d more)", len(lines)-10))
			lines = append(kept, lines[len(lines)-5:]...)
		}
		label := fmt.Sprintf("<b>bb%d</b><br align=\"left\"/>", id)
		label += strings.Join(lines, "<br align=\"left\"/>")
		label += "<br align=\"left\"/>"

		attrs := ""
		for s := range g.Succs(id) {
			if s == exit {
				attrs = fmt.Sprintf(", fillcolor=%q", t.TermFill)
			}
		}
		fmt.Fprintf(&b, "  bb%d [label=<%s>%s];\n", id, label, attrs)
	}
	b.WriteByte('\n')

	// Edges.
	for id := 0; id < g.NumBlocks(); id++ {
		start, end := g.Range(id)
		cond := start < end && code.At(end-1).Class().IsCondJump()
		k := 0
		for s := range g.Succs(id) {
			switch {
			case cond && k == 1:
				fmt.Fprintf(&b, "  bb%d -> bb%d [color=%q, label=<<font point-size=\"7\" color=\"%s\">T</font>>];\n",
					id, s, t.EdgeTaken, t.EdgeTaken)
			case cond:
				fmt.Fprintf(&b, "  bb%d -> bb%d [color=%q, label=<<font point-size=\"7\" color=\"%s\">F</font>>];\n",
					id, s, t.EdgeFallthrough, t.EdgeFallthrough)
			default:
				fmt.Fprintf(&b, "  bb%d -> bb%d [color=%q];\n", id, s, t.EdgePlain)
			}
			k++
		}
	}

	b.WriteString("}\n")
	return b.String(), nil
}

func instText(in cfg.Instruction) string {
	if tx, ok := in.(interface{ Text() string }); ok {
		return tx.Text()
	}
	c := in.Class()
	if c.IsLabelDefn() || c.IsJump() {
		return fmt.Sprintf("%s %d", c, in.Target())
	}
	return c.String()
}
