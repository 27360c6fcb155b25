// Command armdis disassembles a flat ARM binary back to assembler source
// text in the grammar cmd/armasm accepts, per spec.md 6's disassembler CLI
// surface, so the two round-trip (spec.md 8).
package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bassosimone/armcore/pkg/cpu"
	"github.com/bassosimone/armcore/pkg/disasm"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := pflag.NewFlagSet("armdis", pflag.ContinueOnError)
	output := fs.StringP("output", "o", "", "output text file (default: stdout)")
	instrSet := fs.StringP("instructionset", "s", "", "reject encodings newer than this model (ARMv2, ARMv2a, ARMv3, ARMv4)")
	extensions := fs.StringArrayP("extension", "x", nil, "enable an extension (only FPA changes the output; VFPv1 and Thumb are accepted and ignored)")
	base := fs.StringP("base", "b", "", "base address for labels in hex (absence implies PIC, synthetic 0-base)")
	stackModes := fs.Bool("stack-modes", false, "render LDM/STM on R13 using FA/FD/EA/ED stack synonyms")
	showOffsets := fs.Bool("show-offsets", false, "render an explicit #0 offset instead of eliding it")
	decimal := fs.Bool("decimal", false, "render immediates/addresses in decimal instead of &hex")
	fs.SortFlags = false

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 2
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: armdis [flags] <binary-file>")
		return 2
	}

	var baseAddr uint32
	if *base != "" {
		v, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimPrefix(*base, "0x"), "&"), 16, 32)
		if err != nil {
			fmt.Fprintf(os.Stderr, "armdis: invalid -b %q: %v\n", *base, err)
			return 2
		}
		baseAddr = uint32(v)
	}

	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	words := bytesToWords(raw)

	out := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer f.Close()
		out = f
	}
	w := bufio.NewWriter(out)
	defer w.Flush()

	opts := disasm.Options{
		UseStackModesOnR13: *stackModes,
		ShowOffsets:        *showOffsets,
		AddressWidth:       cpu.Addr26Bit,
		Hex:                !*decimal,
	}
	if *instrSet != "" {
		model, err := disasm.ParseModel(*instrSet)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		opts.Model = model
	}
	for _, x := range *extensions {
		if strings.EqualFold(x, "FPA") {
			opts.AllowFPA = true
		}
	}

	exitCode := 0
	addr := baseAddr
	for i := 0; i < len(words); {
		desc, err := disasm.Disassemble(words[i:], addr, opts)
		if err != nil {
			// DisassembleMiss (spec.md 7): report the raw word and move on by
			// one instruction width rather than aborting the whole stream.
			fmt.Fprintf(w, "%08x: ; undecodable &%08X\n", addr, words[i])
			i++
			addr += 4
			exitCode = 1
			continue
		}
		fmt.Fprintf(w, "%08x: %s\n", addr, disasm.Format(desc, opts))
		i += desc.WordCount
		addr += uint32(desc.WordCount) * 4
	}
	return exitCode
}

func bytesToWords(raw []byte) []uint32 {
	n := len(raw) / 4
	words := make([]uint32, n)
	for i := 0; i < n; i++ {
		words[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return words
}
