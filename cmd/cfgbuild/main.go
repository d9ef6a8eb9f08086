package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "build":
		err = cmdBuild(os.Args[2:])
	case "arm64":
		err = cmdARM64(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `cfgbuild: basic-block control flow graphs from instruction listings

Usage:
  cfgbuild build --in <file.s> [--out <dir>] [--json] [--dot] [--lattice]
                                            Build the CFG of an assembly listing
  cfgbuild arm64 --bin <file> --out <dir> [--base <va>] [--funcs <ranges>] [--lattice]
                                            Disassemble raw ARM64 code and build per-function CFGs
  cfgbuild arm64 --elf <file> --out <dir> [--funcs <ranges>] [--lattice]
                                            Same, over .text of a linked ARM64 ELF and its symbols

Flags:
  --in <path>        Assembly listing ('-' reads stdin)
  --bin <path>       Raw little-endian ARM64 code
  --elf <path>       Linked 64-bit ARM64 ELF executable or shared object
  --out <dir>        Output directory
  --base <va>        Virtual address of the first code byte
  --funcs <ranges>   name=start:end[,...] function ranges (addresses accept 0x)
  --max-steps <n>    Instruction decode cap
  --lattice          Also render with the lattice CFG renderer
  -v                 Debug logging
`)
}
