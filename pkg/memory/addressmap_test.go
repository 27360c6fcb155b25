package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryInsertDisjointness(t *testing.T) {
	m := NewAddressMap()
	ok, err := m.TryInsert(0x0000, 0x1000, NewRAM(0x1000))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.TryInsert(0x1000, 0x1000, NewRAM(0x1000))
	require.NoError(t, err)
	assert.True(t, ok)

	// Overlapping with the first region must be rejected.
	ok, err = m.TryInsert(0x0800, 0x1000, NewRAM(0x1000))
	assert.ErrorIs(t, err, ErrOverlap)
	assert.False(t, ok)

	// Overlapping with the second region (inserted out of order) must
	// also be rejected.
	ok, err = m.TryInsert(0x1800, 0x100, NewRAM(0x100))
	assert.ErrorIs(t, err, ErrOverlap)
	assert.False(t, ok)

	intervals := m.Intervals()
	require.Len(t, intervals, 2)
	assert.Equal(t, [2]uint32{0x0000, 0x1000}, intervals[0])
	assert.Equal(t, [2]uint32{0x1000, 0x1000}, intervals[1])
}

func TestTryInsertRejectsMisalignment(t *testing.T) {
	m := NewAddressMap()
	_, err := m.TryInsert(1, 0x1000, NewRAM(0x1000))
	assert.ErrorIs(t, err, ErrMisaligned)
	_, err = m.TryInsert(0, 3, NewRAM(0x1000))
	assert.ErrorIs(t, err, ErrMisaligned)
}

func TestFindMiss(t *testing.T) {
	m := NewAddressMap()
	_, err := m.Read(0x1234, Word)
	assert.ErrorIs(t, err, ErrBusError)
}

func TestReadWriteRouting(t *testing.T) {
	m := NewAddressMap()
	ram := NewRAM(0x100)
	_, err := m.TryInsert(0x3000_0000, 0x100, ram)
	require.NoError(t, err)

	require.NoError(t, m.Write(0x3000_0004, Word, 0xCAFEBABE))
	v, err := m.Read(0x3000_0004, Word)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCAFEBABE), v)
}

func TestROMWritePolicy(t *testing.T) {
	rom := NewROM([]byte{1, 2, 3, 4}, false)
	require.NoError(t, rom.Write(0, Word, 0xFFFFFFFF))
	v, _ := rom.Read(0, Word)
	assert.Equal(t, uint32(0x04030201), v, "non-faulting ROM silently ignores writes")

	faulting := NewROM([]byte{1, 2, 3, 4}, true)
	err := faulting.Write(0, Word, 0)
	assert.ErrorIs(t, err, ErrReadOnly)
}

// Many-interval disjointness property, per spec.md 8's quantified
// invariant: after any sequence of successful TryInsert, intervals in the
// same map never overlap, pairwise.
func TestDisjointnessProperty(t *testing.T) {
	m := NewAddressMap()
	bases := []uint32{0, 0x100, 0x400, 0x800, 0x1000, 0x2000}
	for _, b := range bases {
		ok, err := m.TryInsert(b, 0x100, NewRAM(0x100))
		require.NoError(t, err)
		require.True(t, ok)
	}
	ivs := m.Intervals()
	for i := 0; i < len(ivs); i++ {
		for j := i + 1; j < len(ivs); j++ {
			ai, aj := ivs[i], ivs[j]
			disjoint := ai[0]+ai[1] <= aj[0] || aj[0]+aj[1] <= ai[0]
			assert.True(t, disjoint, "intervals %v and %v overlap", ai, aj)
		}
	}
}
