package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	latticerender "github.com/zboralski/lattice/render"

	"cfgbuild/internal/cfg"
	"cfgbuild/internal/disasm"
	"cfgbuild/internal/elfx"
	"cfgbuild/internal/latticecfg"
	"cfgbuild/internal/output"
	"cfgbuild/internal/render"
)

func cmdARM64(args []string) error {
	fs := flag.NewFlagSet("arm64", flag.ExitOnError)
	bin := fs.String("bin", "", "path to raw little-endian ARM64 code")
	elfPath := fs.String("elf", "", "path to a linked ARM64 ELF (uses .text and its function symbols)")
	outDir := fs.String("out", "", "output directory")
	base := fs.String("base", "0", "virtual address of the first byte")
	funcs := fs.String("funcs", "", "name=start:end[,...] function ranges (default: ELF symbols, else the whole input)")
	maxSteps := fs.Int("max-steps", 0, "instruction decode cap")
	writeLattice := fs.Bool("lattice", false, "also write lattice CFG and call graph DOT files")
	verbose := fs.Bool("v", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*bin == "") == (*elfPath == "") {
		return fmt.Errorf("exactly one of --bin or --elf is required")
	}
	if *outDir == "" {
		return fmt.Errorf("--out is required")
	}
	log := newLogger(*verbose)

	ranges, err := parseRanges(*funcs)
	if err != nil {
		return fmt.Errorf("--funcs: %w", err)
	}

	var src *codeSource
	if *elfPath != "" {
		ef, err := elfx.Open(*elfPath)
		if err != nil {
			return err
		}
		defer ef.Close()
		src, err = elfSource(ef, *maxSteps)
		if err != nil {
			return err
		}
		log.Debug().Str("elf", *elfPath).Int64("size", ef.FileSize()).Int("symbols", len(src.funcs)).Msg("loaded .text")
	} else {
		baseAddr, err := strconv.ParseUint(*base, 0, 64)
		if err != nil {
			return fmt.Errorf("--base: %w", err)
		}
		data, err := os.ReadFile(*bin)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		src = &codeSource{
			base:  baseAddr,
			size:  uint64(len(data)),
			insts: disasm.Disassemble(data, disasm.Options{BaseAddr: baseAddr, MaxSteps: *maxSteps}),
		}
	}
	log.Info().Uint64("bytes", src.size).Int("instrs", len(src.insts)).Str("base", fmt.Sprintf("0x%x", src.base)).Msg("disassembled")

	if len(ranges) == 0 {
		ranges = src.funcs
	}
	if len(ranges) == 0 {
		end := src.base + uint64(len(src.insts))*4
		ranges = []disasm.Range{{Name: fmt.Sprintf("sub_%x", src.base), Start: src.base, End: end}}
	}
	symbols := make(map[uint64]string, len(ranges))
	for _, r := range ranges {
		symbols[r.Start] = r.Name
	}

	// Create output directory (must exist before any file creation).
	if err := os.MkdirAll(*outDir, 0755); err != nil {
		return fmt.Errorf("mkdir output: %w", err)
	}
	jsonlPath := filepath.Join(*outDir, "cfgs.jsonl")
	jsonlFile, err := os.Create(jsonlPath)
	if err != nil {
		return fmt.Errorf("create cfgs.jsonl: %w", err)
	}
	defer jsonlFile.Close()
	records := output.NewJSONLWriter(jsonlFile)

	var graphs []latticecfg.Func
	totalBlocks := 0
	for _, r := range ranges {
		insts, err := src.rangeInsts(r, *maxSteps)
		if err != nil {
			return fmt.Errorf("%s: %w", r.Name, err)
		}
		f := disasm.Lift(r.Name, insts)
		f.Symbols = symbols

		g := cfg.New(f)
		if err := g.Recompute(); err != nil {
			return fmt.Errorf("%s: %w", r.Name, err)
		}
		totalBlocks += g.NumBlocks()
		log.Debug().Str("func", r.Name).Int("ops", f.Len()).Int("blocks", g.NumBlocks()).Msg("cfg built")

		rec, err := output.NewRecord(r.Name, g)
		if err != nil {
			return err
		}
		if err := records.Write(rec); err != nil {
			return fmt.Errorf("write cfgs.jsonl: %w", err)
		}

		dot, err := render.CFGDOT(r.Name, g, render.NASA)
		if err != nil {
			return err
		}
		if err := output.WriteDOT(*outDir, filepath.Join("cfg", r.Name), dot); err != nil {
			return fmt.Errorf("write cfg dot %s: %w", r.Name, err)
		}
		if err := output.WriteText(*outDir, filepath.Join("asm", r.Name+".txt"), disasm.Format(f)); err != nil {
			return fmt.Errorf("write asm %s: %w", r.Name, err)
		}

		graphs = append(graphs, latticecfg.Func{Name: r.Name, Graph: g})
	}

	if *writeLattice {
		dot, err := latticecfg.DOT(graphs, "cfgbuild CFG")
		if err != nil {
			return err
		}
		if err := output.WriteDOT(*outDir, "lattice_cfg", dot); err != nil {
			return fmt.Errorf("write lattice cfg: %w", err)
		}
		cg := latticecfg.CallGraph(graphs)
		if err := output.WriteDOT(*outDir, "callgraph", latticerender.DOT(cg, "cfgbuild call graph")); err != nil {
			return fmt.Errorf("write call graph: %w", err)
		}
		log.Debug().Int("nodes", len(cg.Nodes)).Int("edges", len(cg.Edges)).Msg("call graph")
	}

	log.Info().Int("funcs", records.Count()).Int("blocks", totalBlocks).Str("out", *outDir).Msg("done")
	return nil
}

// codeSource is the decoded code a run works from: raw input or .text.
type codeSource struct {
	base  uint64
	size  uint64
	insts []disasm.Inst
	funcs []disasm.Range // ELF function symbols

	// elf reads ranges outside .text; nil for raw input.
	elf *elfx.File
}

func elfSource(ef *elfx.File, maxSteps int) (*codeSource, error) {
	text, err := ef.Text()
	if err != nil {
		return nil, err
	}
	syms, err := ef.Funcs()
	if err != nil {
		return nil, err
	}
	src := &codeSource{
		base:  text.Addr,
		size:  uint64(len(text.Data)),
		insts: disasm.Disassemble(text.Data, disasm.Options{BaseAddr: text.Addr, MaxSteps: maxSteps}),
		elf:   ef,
	}
	for _, s := range syms {
		src.funcs = append(src.funcs, disasm.Range{Name: s.Name, Start: s.Addr, End: s.Addr + s.Size})
	}
	return src, nil
}

// rangeInsts returns the instructions of r. With an ELF input, a range
// outside .text is read from its load segment and decoded on its own.
func (s *codeSource) rangeInsts(r disasm.Range, maxSteps int) ([]disasm.Inst, error) {
	inside := r.Start >= s.base && r.End <= s.base+s.size
	if s.elf == nil || inside {
		return disasm.Split(s.insts, r), nil
	}
	data, err := s.elf.ReadBytesAtVA(r.Start, int(r.End-r.Start))
	if err != nil {
		return nil, err
	}
	return disasm.Disassemble(data, disasm.Options{BaseAddr: r.Start, MaxSteps: maxSteps}), nil
}

// parseRanges parses "name=start:end,..." into ranges sorted by start.
func parseRanges(s string) ([]disasm.Range, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ranges []disasm.Range
	for _, part := range strings.Split(s, ",") {
		name, span, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%q: want name=start:end", part)
		}
		lo, hi, ok := strings.Cut(span, ":")
		if !ok {
			return nil, fmt.Errorf("%q: want name=start:end", part)
		}
		start, err := strconv.ParseUint(lo, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%s start: %w", name, err)
		}
		end, err := strconv.ParseUint(hi, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%s end: %w", name, err)
		}
		if end <= start {
			return nil, fmt.Errorf("%s: empty range [0x%x,0x%x)", name, start, end)
		}
		ranges = append(ranges, disasm.Range{Name: name, Start: start, End: end})
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
	return ranges, nil
}
