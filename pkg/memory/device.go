// Package memory implements the routable physical address space: a Device
// contract (RAM, ROM, MMIO) and the AddressMap that dispatches CPU accesses
// to the device owning each address, per spec.md 4.B/4.C.
package memory

import (
	"errors"
	"fmt"
)

// Width is the access width of a memory operation.
type Width int

const (
	Byte Width = 1
	Half Width = 2
	Word Width = 4
)

// ErrUnaligned is returned by a Device when an access of Half or Word width
// isn't aligned to its own size. The caller (the CPU core) decides whether
// to fix this up (pre-v4 rotate) or raise an alignment fault (v4+ strict
// mode); the map and the device themselves only ever see aligned offsets
// once the caller has resolved that policy.
var ErrUnaligned = errors.New("memory: unaligned access")

// Device is the polymorphic contract every mapped region implements.
type Device interface {
	// Size reports the device's addressable size in bytes.
	Size() uint32

	// Read reads width bytes at offset, zero-extended into the low bits of
	// the returned word.
	Read(offset uint32, width Width) (uint32, error)

	// Write writes the low width bytes of value at offset.
	Write(offset uint32, width Width, value uint32) error
}

// VolatileRegion marks a byte range of a Device whose reads have side
// effects ("volatile") as opposed to being safe to peek at for debugging
// ("idempotent"). Devices that have no volatile state need not implement
// this; callers should type-assert for it.
type VolatileRegion interface {
	// IsVolatile reports whether reading anywhere in [offset, offset+width)
	// has a side effect.
	IsVolatile(offset uint32, width Width) bool
}

func checkAlign(offset uint32, width Width) error {
	if width == Byte {
		return nil
	}
	if offset%uint32(width) != 0 {
		return fmt.Errorf("%w: offset 0x%x width %d", ErrUnaligned, offset, width)
	}
	return nil
}

// RAM is a plain read/write backing array with no side effects.
type RAM struct {
	bytes []byte
}

// NewRAM allocates size bytes of zeroed RAM.
func NewRAM(size uint32) *RAM {
	return &RAM{bytes: make([]byte, size)}
}

func (r *RAM) Size() uint32 { return uint32(len(r.bytes)) }

func (r *RAM) Read(offset uint32, width Width) (uint32, error) {
	if err := checkAlign(offset, width); err != nil {
		return 0, err
	}
	return readLE(r.bytes, offset, width)
}

func (r *RAM) Write(offset uint32, width Width, value uint32) error {
	if err := checkAlign(offset, width); err != nil {
		return err
	}
	return writeLE(r.bytes, offset, width, value)
}

// Bytes exposes the backing array directly for bulk loads (e.g. the
// assembler's ObjectCode or a ROM image loader).
func (r *RAM) Bytes() []byte { return r.bytes }

// ErrReadOnly is returned by ROM.Write when the device is configured to
// fault on writes instead of silently ignoring them.
var ErrReadOnly = errors.New("memory: device is read-only")

// ROM is a backing array whose writes are either ignored or faulted,
// depending on configuration, per spec.md 4.C.
type ROM struct {
	bytes        []byte
	faultOnWrite bool
}

// NewROM creates a ROM device pre-loaded with image. If faultOnWrite is
// false, writes are silently discarded (matching real ROM hardware);
// if true, writes return ErrReadOnly so the host can turn that into a data
// abort.
func NewROM(image []byte, faultOnWrite bool) *ROM {
	cp := make([]byte, len(image))
	copy(cp, image)
	return &ROM{bytes: cp, faultOnWrite: faultOnWrite}
}

func (r *ROM) Size() uint32 { return uint32(len(r.bytes)) }

func (r *ROM) Read(offset uint32, width Width) (uint32, error) {
	if err := checkAlign(offset, width); err != nil {
		return 0, err
	}
	return readLE(r.bytes, offset, width)
}

func (r *ROM) Write(offset uint32, width Width, value uint32) error {
	if err := checkAlign(offset, width); err != nil {
		return err
	}
	if r.faultOnWrite {
		return fmt.Errorf("%w: offset 0x%x", ErrReadOnly, offset)
	}
	return nil
}

func readLE(buf []byte, offset uint32, width Width) (uint32, error) {
	if uint64(offset)+uint64(width) > uint64(len(buf)) {
		return 0, fmt.Errorf("memory: read past end of device at 0x%x", offset)
	}
	var v uint32
	for i := Width(0); i < width; i++ {
		v |= uint32(buf[offset+uint32(i)]) << (8 * i)
	}
	return v, nil
}

func writeLE(buf []byte, offset uint32, width Width, value uint32) error {
	if uint64(offset)+uint64(width) > uint64(len(buf)) {
		return fmt.Errorf("memory: write past end of device at 0x%x", offset)
	}
	for i := Width(0); i < width; i++ {
		buf[offset+uint32(i)] = byte(value >> (8 * i))
	}
	return nil
}
