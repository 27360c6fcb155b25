// Command armasm assembles ARM assembly source into a flat ObjectCode
// binary, per spec.md 6's assembler CLI surface. It follows the teacher's
// cmd/asm single-binary shape, widened to pflag for the repeatable -i/-x
// flags and zap for diagnostic-adjacent trace output.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/bassosimone/armcore/pkg/asm"
	"github.com/bassosimone/armcore/pkg/cpu"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := pflag.NewFlagSet("armasm", pflag.ContinueOnError)
	output := fs.StringP("output", "o", "", "output object-code file (default: stdout)")
	includeDirs := fs.StringArrayP("include", "i", nil, "add a directory to the %INCLUDE search path")
	instrSet := fs.StringP("instructionset", "s", "ARMv3", "target instruction set (ARMv2, ARMv2a, ARMv3, ARMv4)")
	extensions := fs.StringArrayP("extension", "x", nil, "enable an extension (FPA, VFPv1, Thumb)")
	base := fs.StringP("base", "b", "", "load address in hex (absence implies position-independent)")
	fs.SortFlags = false

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 2
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: armasm [flags] <source-file>")
		return 2
	}

	set, err := asm.ParseInstructionSet(*instrSet)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	opts := asm.Options{
		IncludeDirs:    *includeDirs,
		InstructionSet: set,
		Extensions:     *extensions,
		AddressWidth:   cpu.Addr26Bit,
	}
	if *base == "" {
		opts.PositionIndependent = true
	} else {
		v, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimPrefix(*base, "0x"), "&"), 16, 32)
		if err != nil {
			fmt.Fprintf(os.Stderr, "armasm: invalid -b/--base %q: %v\n", *base, err)
			return 2
		}
		opts.LoadAddress = uint32(v)
	}

	srcPath := fs.Arg(0)
	src, err := os.ReadFile(srcPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	obj, msgs := asm.Assemble(srcPath, string(src), opts)
	for _, m := range msgs.All() {
		fmt.Fprintln(os.Stderr, m.String())
	}
	if msgs.HasErrors() {
		logger.Warn("assembly failed", zap.Int("messages", len(msgs.All())))
		return 1
	}

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
	if _, err := out.Write(obj.Bytes); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger.Info("assembled", zap.Int("bytes", len(obj.Bytes)), zap.Int("symbols", len(obj.Symbols)))
	return 0
}
