package host

// BreakpointPredicate gates a debugger breakpoint beyond a bare address
// match (spec.md 6: "conditional on register/memory predicates"). A nil
// predicate means unconditional. The predicate runs at a safe point
// (between retired instructions, spec.md 5) with the Host fully settled,
// so it may freely call SnapshotRegisters/ReadWord/ReadByte.
type BreakpointPredicate func(h *Host) bool

// SetBreakpoint arms a debugger breakpoint at addr; pred, if non-nil, must
// return true for the breakpoint to fire. Setting a breakpoint at an
// address that already has one replaces it.
func (h *Host) SetBreakpoint(addr uint32, pred BreakpointPredicate) {
	if h.breakpoints == nil {
		h.breakpoints = make(map[uint32]BreakpointPredicate)
	}
	h.breakpoints[addr] = pred
}

// ClearBreakpoint disarms the breakpoint at addr, if any.
func (h *Host) ClearBreakpoint(addr uint32) {
	delete(h.breakpoints, addr)
}

// ClearAllBreakpoints disarms every debugger breakpoint.
func (h *Host) ClearAllBreakpoints() {
	h.breakpoints = nil
}

// Breakpoints returns the currently armed breakpoint addresses.
func (h *Host) Breakpoints() []uint32 {
	addrs := make([]uint32, 0, len(h.breakpoints))
	for addr := range h.breakpoints {
		addrs = append(addrs, addr)
	}
	return addrs
}

// atBreakpoint reports whether a debugger breakpoint fires at the Host's
// current program counter, checked at the safe point between retired
// instructions (spec.md 5), distinct from a BKPT instruction retiring
// (cpu.ErrBreakpointHit, handled inline in Step).
func (h *Host) atBreakpoint() bool {
	pred, armed := h.breakpoints[h.Core.Regs.PC()]
	if !armed {
		return false
	}
	return pred == nil || pred(h)
}

// StopAtBreakpoint is a StopCondition that fires when the Host's program
// counter lands on an armed, satisfied debugger breakpoint.
func StopAtBreakpoint() StopCondition {
	return func(h *Host) bool { return h.atBreakpoint() }
}
