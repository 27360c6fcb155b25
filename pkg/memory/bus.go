package memory

// Bus presents the physical address space to the CPU as the two disjoint
// sorted maps of spec.md 4.B: one consulted for reads, one for writes. A
// region mapped into only one of the two makes the other direction a bus
// error -- the natural shape for strict ROM (readable, write-faults) or a
// write-only latch.
type Bus struct {
	ReadMap  *AddressMap
	WriteMap *AddressMap
}

// NewBus returns a Bus with two empty maps.
func NewBus() *Bus {
	return &Bus{ReadMap: NewAddressMap(), WriteMap: NewAddressMap()}
}

// MapBoth inserts [base, base+size) -> dev into both maps, rolling back
// the read-side insert if the write side rejects it.
func (b *Bus) MapBoth(base, size uint32, dev Device) (bool, error) {
	if ok, err := b.ReadMap.TryInsert(base, size, dev); !ok {
		return false, err
	}
	if ok, err := b.WriteMap.TryInsert(base, size, dev); !ok {
		b.ReadMap.remove(base)
		return false, err
	}
	return true, nil
}

// MapReadOnly inserts the region into the read map only: writes to it
// miss the write map and surface as a bus error.
func (b *Bus) MapReadOnly(base, size uint32, dev Device) (bool, error) {
	return b.ReadMap.TryInsert(base, size, dev)
}

// MapWriteOnly inserts the region into the write map only.
func (b *Bus) MapWriteOnly(base, size uint32, dev Device) (bool, error) {
	return b.WriteMap.TryInsert(base, size, dev)
}

// Read dispatches a read through the read map.
func (b *Bus) Read(addr uint32, width Width) (uint32, error) {
	return b.ReadMap.Read(addr, width)
}

// Write dispatches a write through the write map.
func (b *Bus) Write(addr uint32, width Width, value uint32) error {
	return b.WriteMap.Write(addr, width, value)
}

// IsVolatile reports whether a read at addr has a side effect.
func (b *Bus) IsVolatile(addr uint32, width Width) bool {
	return b.ReadMap.IsVolatile(addr, width)
}
