package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Every 4-bit condition code, against every flag combination, must agree
// with the architectural truth table (spec.md 8's condition-coverage
// invariant).
func TestConditionTruthTable(t *testing.T) {
	truth := map[Condition]func(n, z, c, v bool) bool{
		CondEQ: func(n, z, c, v bool) bool { return z },
		CondNE: func(n, z, c, v bool) bool { return !z },
		CondCS: func(n, z, c, v bool) bool { return c },
		CondCC: func(n, z, c, v bool) bool { return !c },
		CondMI: func(n, z, c, v bool) bool { return n },
		CondPL: func(n, z, c, v bool) bool { return !n },
		CondVS: func(n, z, c, v bool) bool { return v },
		CondVC: func(n, z, c, v bool) bool { return !v },
		CondHI: func(n, z, c, v bool) bool { return c && !z },
		CondLS: func(n, z, c, v bool) bool { return !c || z },
		CondGE: func(n, z, c, v bool) bool { return n == v },
		CondLT: func(n, z, c, v bool) bool { return n != v },
		CondGT: func(n, z, c, v bool) bool { return !z && n == v },
		CondLE: func(n, z, c, v bool) bool { return z || n != v },
		CondAL: func(n, z, c, v bool) bool { return true },
		CondNV: func(n, z, c, v bool) bool { return false },
	}
	for cond := Condition(0); cond < 16; cond++ {
		for bits := 0; bits < 16; bits++ {
			n, z, c, v := bits&8 != 0, bits&4 != 0, bits&2 != 0, bits&1 != 0
			p := PSR{N: n, Z: z, C: c, V: v}
			want := truth[cond](n, z, c, v)
			assert.Equal(t, want, cond.Eval(p), "cond %v with N=%v Z=%v C=%v V=%v", cond, n, z, c, v)
		}
	}
}
