package memory

import (
	"fmt"
	"sort"
)

// entry is one mapped interval: [Base, Base+Size) routed to Device.
type entry struct {
	Base   uint32
	Size   uint32
	Device Device
}

// AddressMap is a sorted, disjoint set of mapped intervals, presented to
// the CPU as one of the two instances (read, write) described in spec.md
// 4.B. find dispatches in O(log n) via binary search over the sorted
// slice.
type AddressMap struct {
	entries []entry
}

// NewAddressMap returns an empty map.
func NewAddressMap() *AddressMap {
	return &AddressMap{}
}

// ErrOverlap is returned by TryInsert when the requested region would
// overlap an already-mapped interval.
var ErrOverlap = fmt.Errorf("memory: overlapping region")

// ErrMisaligned is returned by TryInsert when base or size violate the
// 4-byte alignment invariant from spec.md's Address Map entry.
var ErrMisaligned = fmt.Errorf("memory: base/size must be 4-byte aligned")

// TryInsert maps [base, base+size) to dev. It rejects overlap with any
// existing interval (returning false, ErrOverlap) and rejects base/size
// that aren't 4-byte aligned; on success the map stays sorted by base.
func (m *AddressMap) TryInsert(base, size uint32, dev Device) (bool, error) {
	if base%4 != 0 || size%4 != 0 {
		return false, ErrMisaligned
	}
	if size == 0 {
		return false, fmt.Errorf("memory: zero-size region")
	}
	end := uint64(base) + uint64(size)
	i := sort.Search(len(m.entries), func(i int) bool { return uint64(m.entries[i].Base) >= uint64(base) })
	if i > 0 {
		prev := m.entries[i-1]
		if uint64(prev.Base)+uint64(prev.Size) > uint64(base) {
			return false, ErrOverlap
		}
	}
	if i < len(m.entries) {
		next := m.entries[i]
		if end > uint64(next.Base) {
			return false, ErrOverlap
		}
	}
	m.entries = append(m.entries, entry{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = entry{Base: base, Size: size, Device: dev}
	return true, nil
}

// remove deletes the interval starting exactly at base, if mapped. Only
// Bus.MapBoth's rollback path uses it; the public surface stays
// insert-only so the disjointness invariant is easy to reason about.
func (m *AddressMap) remove(base uint32) {
	for i, e := range m.entries {
		if e.Base == base {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return
		}
	}
}

// found is the (device, offset) pair yielded by a successful find.
type found struct {
	Device Device
	Offset uint32
}

// find performs upper-bound then steps back one interval, returning the
// entry containing addr, or ok=false on a miss (the "sentinel" of spec.md
// 4.B, modelled here as a zero-value plus a boolean rather than a pointer
// sentinel, Go's idiomatic comma-ok form).
func (m *AddressMap) find(addr uint32) (found, bool) {
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].Base > addr })
	if i == 0 {
		return found{}, false
	}
	e := m.entries[i-1]
	if addr < e.Base || uint64(addr) >= uint64(e.Base)+uint64(e.Size) {
		return found{}, false
	}
	return found{Device: e.Device, Offset: addr - e.Base}, true
}

// ErrBusError is returned when an access misses every mapped interval,
// corresponding to the "bus-error abort event" of spec.md 4.B.
var ErrBusError = fmt.Errorf("memory: bus error (unmapped address)")

// Read dispatches a read through the map. Offsets reaching here are
// assumed already aligned per spec.md 4.B ("the map itself always sees
// aligned offsets"); alignment policy is the CPU's job.
func (m *AddressMap) Read(addr uint32, width Width) (uint32, error) {
	f, ok := m.find(addr)
	if !ok {
		return 0, fmt.Errorf("%w at 0x%08x", ErrBusError, addr)
	}
	return f.Device.Read(f.Offset, width)
}

// Write dispatches a write through the map.
func (m *AddressMap) Write(addr uint32, width Width, value uint32) error {
	f, ok := m.find(addr)
	if !ok {
		return fmt.Errorf("%w at 0x%08x", ErrBusError, addr)
	}
	return f.Device.Write(f.Offset, width, value)
}

// IsVolatile reports whether a read at addr has a side effect, used by a
// debugger doing side-effect-free inspection. Devices that don't implement
// VolatileRegion are treated as idempotent (e.g. plain RAM/ROM).
func (m *AddressMap) IsVolatile(addr uint32, width Width) bool {
	f, ok := m.find(addr)
	if !ok {
		return false
	}
	if vr, ok := f.Device.(VolatileRegion); ok {
		return vr.IsVolatile(f.Offset, width)
	}
	return false
}

// Intervals returns the mapped (base, size) pairs in ascending order, used
// by the host for diagnostics and by the disjointness property test.
func (m *AddressMap) Intervals() [][2]uint32 {
	out := make([][2]uint32, len(m.entries))
	for i, e := range m.entries {
		out[i] = [2]uint32{e.Base, e.Size}
	}
	return out
}
