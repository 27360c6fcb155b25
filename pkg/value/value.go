// Package value implements the tagged Value/Variant container shared by the
// assembler's expression evaluator and the runtime's introspection surface.
//
// A Value holds at most one of a fixed set of primitive payloads: it never
// implicitly promotes a type at construction time, and conversion between
// kinds always goes through the explicit, table-driven TryConvert.
package value

import (
	"fmt"
	"math"
)

// Kind identifies which payload, if any, a Value carries.
type Kind int

const (
	Unknown Kind = iota
	Int32
	Uint32
	Int64
	Uint64
	Float32
	Float64
	Extended // extended-precision real, stored as a float64 (double precision)
	Char32
	String
)

// String renders the Kind name, used by diagnostics and error messages.
func (k Kind) String() string {
	switch k {
	case Unknown:
		return "unknown"
	case Int32:
		return "i32"
	case Uint32:
		return "u32"
	case Int64:
		return "i64"
	case Uint64:
		return "u64"
	case Float32:
		return "f32"
	case Float64:
		return "f64"
	case Extended:
		return "extended-real"
	case Char32:
		return "char32"
	case String:
		return "string"
	default:
		return "invalid"
	}
}

// Value is a tagged variant over the primitive kinds above. At most one
// payload field is meaningful, selected by kind. String values hold their
// bytes via shared-immutable storage (a *string never mutated in place),
// so copying a Value is always cheap regardless of payload size.
type Value struct {
	kind Kind
	bits uint64  // numeric payload, reinterpreted per kind
	str  *string // valid only when kind == String
}

// Unset is the zero Value: kind Unknown, no payload.
var Unset = Value{}

func NewInt32(v int32) Value   { return Value{kind: Int32, bits: uint64(uint32(v))} }
func NewUint32(v uint32) Value { return Value{kind: Uint32, bits: uint64(v)} }
func NewInt64(v int64) Value   { return Value{kind: Int64, bits: uint64(v)} }
func NewUint64(v uint64) Value { return Value{kind: Uint64, bits: v} }
func NewFloat32(v float32) Value {
	return Value{kind: Float32, bits: uint64(math.Float32bits(v))}
}
func NewFloat64(v float64) Value { return Value{kind: Float64, bits: math.Float64bits(v)} }
func NewExtended(v float64) Value {
	return Value{kind: Extended, bits: math.Float64bits(v)}
}
func NewChar32(v rune) Value { return Value{kind: Char32, bits: uint64(uint32(v))} }
func NewString(s string) Value {
	return Value{kind: String, str: &s}
}

// Kind reports the payload kind. Unset values report Unknown.
func (v Value) Kind() Kind { return v.kind }

// IsUnknown reports whether v carries no payload at all.
func (v Value) IsUnknown() bool { return v.kind == Unknown }

// ErrTypeMismatch is raised by accessors below when the caller asks for a
// payload kind the Value does not hold. Per spec.md this is a programming
// bug, not a recoverable condition: callers that might legitimately see a
// foreign kind must check Kind() first or use TryConvert.
var ErrTypeMismatch = fmt.Errorf("value: type mismatch")

func (v Value) mustBe(k Kind) {
	if v.kind != k {
		panic(fmt.Errorf("%w: requested %s payload from a %s value", ErrTypeMismatch, k, v.kind))
	}
}

// Int32 returns the payload of an Int32 value; panics otherwise.
func (v Value) Int32() int32 { v.mustBe(Int32); return int32(uint32(v.bits)) }

// Uint32 returns the payload of a Uint32 value; panics otherwise.
func (v Value) Uint32() uint32 { v.mustBe(Uint32); return uint32(v.bits) }

// Int64 returns the payload of an Int64 value; panics otherwise.
func (v Value) Int64() int64 { v.mustBe(Int64); return int64(v.bits) }

// Uint64 returns the payload of a Uint64 value; panics otherwise.
func (v Value) Uint64() uint64 { v.mustBe(Uint64); return v.bits }

// Float32 returns the payload of a Float32 value; panics otherwise.
func (v Value) Float32() float32 { v.mustBe(Float32); return math.Float32frombits(uint32(v.bits)) }

// Float64 returns the payload of a Float64 value; panics otherwise.
func (v Value) Float64() float64 { v.mustBe(Float64); return math.Float64frombits(v.bits) }

// Extended returns the payload of an Extended value; panics otherwise.
func (v Value) Extended() float64 { v.mustBe(Extended); return math.Float64frombits(v.bits) }

// Char32 returns the payload of a Char32 value; panics otherwise.
func (v Value) Char32() rune { v.mustBe(Char32); return rune(uint32(v.bits)) }

// Str returns the payload of a String value; panics otherwise.
func (v Value) Str() string {
	v.mustBe(String)
	return *v.str
}

// String implements fmt.Stringer by rendering the payload through the
// kind's formatter; it never panics, unlike the typed accessors.
func (v Value) String() string { return Format(v) }

// IsNumeric reports whether the Value's kind participates in arithmetic.
func (v Value) IsNumeric() bool {
	switch v.kind {
	case Int32, Uint32, Int64, Uint64, Float32, Float64, Extended, Char32:
		return true
	default:
		return false
	}
}

// IsFloat reports whether the Value's kind is one of the floating kinds.
func (v Value) IsFloat() bool {
	switch v.kind {
	case Float32, Float64, Extended:
		return true
	default:
		return false
	}
}

// AsInt64 widens any numeric, non-float kind to int64 for arithmetic that
// needs a common signed representation (e.g. shift counts, array indices).
// Panics for the float kinds, String and Unknown; truncates nothing since int64 covers every
// narrower integer kind losslessly.
func (v Value) AsInt64() int64 {
	switch v.kind {
	case Int32:
		return int64(v.Int32())
	case Uint32:
		return int64(v.Uint32())
	case Int64:
		return v.Int64()
	case Uint64:
		return int64(v.Uint64())
	case Char32:
		return int64(v.Char32())
	default:
		panic(fmt.Errorf("%w: %s has no integral representation", ErrTypeMismatch, v.kind))
	}
}

// AsFloat64 widens any numeric kind to float64.
func (v Value) AsFloat64() float64 {
	switch v.kind {
	case Float32:
		return float64(v.Float32())
	case Float64:
		return v.Float64()
	case Extended:
		return v.Extended()
	default:
		return float64(v.AsInt64())
	}
}
