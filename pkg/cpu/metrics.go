package cpu

// CycleCounts is the additive {S,N,I,C} cycle breakdown of spec.md 8: S
// (sequential bus cycle), N (non-sequential bus cycle), I (internal cycle,
// no bus activity), C (coprocessor register-transfer cycle). Summing the
// per-instruction counts of a run must equal the run's total, which is
// exactly what Add gives you.
type CycleCounts struct {
	S, N, I, C uint64
}

// Total returns the sum of all four categories.
func (c CycleCounts) Total() uint64 { return c.S + c.N + c.I + c.C }

// Add returns the elementwise sum of c and o.
func (c CycleCounts) Add(o CycleCounts) CycleCounts {
	return CycleCounts{S: c.S + o.S, N: c.N + o.N, I: c.I + o.I, C: c.C + o.C}
}

// ExecutionMetrics accumulates the running totals a Host reports to callers
// (spec.md 4.H), built additively one instruction at a time.
type ExecutionMetrics struct {
	Cycles           CycleCounts
	InstructionCount uint64
	ElapsedTimeNs    int64
}

// Add folds one instruction's cost into the running metrics.
func (m *ExecutionMetrics) Add(cost CycleCounts, elapsedNs int64) {
	m.Cycles = m.Cycles.Add(cost)
	m.InstructionCount++
	m.ElapsedTimeNs += elapsedNs
}
