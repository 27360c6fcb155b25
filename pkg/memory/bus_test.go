package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusReadWriteSplit(t *testing.T) {
	bus := NewBus()
	rom := NewROM([]byte{1, 2, 3, 4}, true)
	ok, err := bus.MapReadOnly(0x1000, rom.Size(), rom)
	require.NoError(t, err)
	require.True(t, ok)

	v, err := bus.Read(0x1000, Word)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x04030201), v)

	// The write map has no entry for the ROM region: the store misses the
	// bus entirely, the data-abort path's trigger.
	err = bus.Write(0x1000, Word, 0)
	assert.ErrorIs(t, err, ErrBusError)
}

func TestBusMapBothRollsBackOnWriteSideOverlap(t *testing.T) {
	bus := NewBus()
	ok, err := bus.MapWriteOnly(0x0, 0x100, NewRAM(0x100))
	require.NoError(t, err)
	require.True(t, ok)

	ok, _ = bus.MapBoth(0x0, 0x100, NewRAM(0x100))
	assert.False(t, ok)
	assert.Empty(t, bus.ReadMap.Intervals(), "a failed MapBoth must not leave a half-mapped region")
}

func TestBusMapBothRoutesBothDirections(t *testing.T) {
	bus := NewBus()
	ok, err := bus.MapBoth(0x2000, 0x100, NewRAM(0x100))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, bus.Write(0x2004, Word, 0xCAFEBABE))
	v, err := bus.Read(0x2004, Word)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCAFEBABE), v)
}
