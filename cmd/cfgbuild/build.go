package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"cfgbuild/internal/asm"
	"cfgbuild/internal/cfg"
	"cfgbuild/internal/latticecfg"
	"cfgbuild/internal/output"
	"cfgbuild/internal/render"
)

func cmdBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	in := fs.String("in", "", "path to assembly listing ('-' for stdin)")
	outDir := fs.String("out", "", "output directory")
	name := fs.String("name", "", "graph name (default: input file base name)")
	writeJSON := fs.Bool("json", false, "write <name>.json")
	writeDOT := fs.Bool("dot", false, "write <name>.dot")
	writeLattice := fs.Bool("lattice", false, "write <name>.lattice.dot rendered by lattice")
	verbose := fs.Bool("v", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("--in is required")
	}
	if (*writeJSON || *writeDOT || *writeLattice) && *outDir == "" {
		return fmt.Errorf("--out is required with --json, --dot or --lattice")
	}
	log := newLogger(*verbose)

	graphName := *name
	if graphName == "" {
		graphName = listingName(*in)
	}

	l, err := readListing(*in)
	if err != nil {
		return err
	}
	log.Debug().Str("in", *in).Int("instrs", l.Len()).Int("labels", len(l.Labels())).Msg("parsed listing")

	g := cfg.New(l)
	if err := g.Recompute(); err != nil {
		return describeBuildError(l, err)
	}
	log.Info().Str("name", graphName).Int("instrs", l.Len()).Int("blocks", g.NumBlocks()).Msg("cfg built")

	fmt.Print(g.String())

	return writeBuildOutputs(log, *outDir, graphName, g, *writeJSON, *writeDOT, *writeLattice)
}

func writeBuildOutputs(log zerolog.Logger, dir, name string, g *cfg.Cfg, writeJSON, writeDOT, writeLattice bool) error {
	if writeJSON {
		rec, err := output.NewRecord(name, g)
		if err != nil {
			return err
		}
		if err := output.WriteCFGJSON(dir, name, rec); err != nil {
			return fmt.Errorf("write json: %w", err)
		}
		log.Debug().Str("file", filepath.Join(dir, name+".json")).Msg("wrote")
	}
	if writeDOT {
		dot, err := render.CFGDOT(name, g, render.NASA)
		if err != nil {
			return err
		}
		if err := output.WriteDOT(dir, name, dot); err != nil {
			return fmt.Errorf("write dot: %w", err)
		}
		log.Debug().Str("file", filepath.Join(dir, name+".dot")).Msg("wrote")
	}
	if writeLattice {
		dot, err := latticecfg.DOT([]latticecfg.Func{{Name: name, Graph: g}}, name)
		if err != nil {
			return err
		}
		if err := output.WriteDOT(dir, name+".lattice", dot); err != nil {
			return fmt.Errorf("write lattice dot: %w", err)
		}
		log.Debug().Str("file", filepath.Join(dir, name+".lattice.dot")).Msg("wrote")
	}
	return nil
}

func readListing(path string) (*asm.Listing, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open: %w", err)
		}
		defer f.Close()
		r = f
	}
	l, err := asm.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return l, nil
}

func listingName(path string) string {
	if path == "-" {
		return "stdin"
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// describeBuildError maps the instruction index of an unresolved jump back
// to its source line and label name.
func describeBuildError(l *asm.Listing, err error) error {
	var ue *cfg.UnresolvedLabelError
	if errors.As(err, &ue) {
		name, _ := l.LabelName(ue.Label)
		return fmt.Errorf("line %d: jump to undefined label %q: %w", l.Insts[ue.Index].Line, name, err)
	}
	return fmt.Errorf("build cfg: %w", err)
}
