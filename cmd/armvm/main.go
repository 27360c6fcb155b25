// Command armvm loads a flat ARM binary into a minimal RAM+ROM system and
// runs it, per spec.md 6/4.H. It follows the teacher's cmd/vm run-loop
// shape, lifted onto pkg/host and widened to zap trace output.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/bassosimone/armcore/pkg/cpu"
	"github.com/bassosimone/armcore/pkg/disasm"
	"github.com/bassosimone/armcore/pkg/host"
	"github.com/bassosimone/armcore/pkg/memory"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := pflag.NewFlagSet("armvm", pflag.ContinueOnError)
	verbose := fs.BoolP("verbose", "v", false, "trace every retired instruction")
	base := fs.StringP("base", "b", "0x8000", "image load address in hex")
	ramSize := fs.Uint32("ram", 1<<20, "RAM size in bytes, mapped at address 0")
	maxCycles := fs.Uint64("max-cycles", 10_000_000, "stop the run loop after this many cycles (runaway guard)")
	fs.SortFlags = false

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 2
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: armvm [flags] <machine-code-file>")
		return 2
	}

	baseAddr, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimPrefix(*base, "0x"), "&"), 16, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "armvm: invalid -b %q: %v\n", *base, err)
		return 2
	}

	image, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	bus := memory.NewBus()
	ram := memory.NewRAM(*ramSize)
	if ok, err := bus.MapBoth(0, ram.Size(), ram); !ok {
		fmt.Fprintf(os.Stderr, "armvm: cannot map RAM: %v\n", err)
		return 1
	}
	if pad := align4(uint32(len(image))) - uint32(len(image)); pad > 0 {
		image = append(image, make([]byte, pad)...)
	}
	loadBase := alignDown4(uint32(baseAddr))
	if uint64(loadBase)+uint64(len(image)) <= uint64(ram.Size()) {
		// The load address falls inside RAM: copy the image there, the way
		// a boot loader would, instead of shadowing RAM with a ROM overlay.
		copy(ram.Bytes()[loadBase:], image)
	} else {
		rom := memory.NewROM(image, true)
		if ok, err := bus.MapReadOnly(loadBase, rom.Size(), rom); !ok {
			fmt.Fprintf(os.Stderr, "armvm: cannot map ROM at %#x: %v\n", loadBase, err)
			return 1
		}
	}

	h := host.New(bus, cpu.Addr26Bit, logger, host.Options{EventBuffer: 16})
	h.Reset()
	h.Core.Regs.SetPC(loadBase)

	disOpts := disasm.Options{Hex: true, AddressWidth: cpu.Addr26Bit}
	cond := host.StopAfterCycles(*maxCycles)
	for {
		if *verbose {
			pc := h.Core.Regs.PC()
			if word, err := h.ReadWord(pc); err == nil {
				if desc, err := disasm.Disassemble([]uint32{word}, pc, disOpts); err == nil {
					logger.Info("fetch", zap.String("pc", fmt.Sprintf("%#08x", pc)), zap.String("instr", disasm.Format(desc, disOpts)))
				}
			}
		}
		_, err := h.Step()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		if cond(h) {
			fmt.Fprintln(os.Stderr, "armvm: stopped: cycle budget exhausted")
			break
		}
		select {
		case ev := <-h.Events():
			if ev.Kind == host.EventBreakpointHit {
				fmt.Fprintf(os.Stderr, "armvm: breakpoint at %#08x\n", ev.PC)
			}
		default:
		}
	}
	snap := h.SnapshotRegisters()
	for i := 0; i < 16; i++ {
		fmt.Printf("R%-2d = %#08x\n", i, snap.R[i])
	}
	return 0
}

func align4(v uint32) uint32 {
	if v%4 == 0 {
		return v
	}
	return v + (4 - v%4)
}

func alignDown4(v uint32) uint32 { return v - v%4 }
