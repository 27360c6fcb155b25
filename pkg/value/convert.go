package value

import (
	"fmt"
	"strconv"
)

// ErrConversion is returned by TryConvert when a value cannot be converted
// to the requested kind: the numeric range doesn't fit, or the string
// payload doesn't parse.
var ErrConversion = fmt.Errorf("value: conversion failed")

// converter maps a (from, to) Kind pair to the function performing it. This
// is the "static conversion table keyed on (source, target)" from spec.md
// 4.A; a process-wide map plays the role of the VariantType registry's
// per-pair conversion slot without needing a singleton-per-type object.
type converter func(Value) (Value, error)

var conversions = map[[2]Kind]converter{}

func register(from, to Kind, fn converter) {
	conversions[[2]Kind{from, to}] = fn
}

func init() {
	// Integer widenings always succeed.
	register(Int32, Int64, func(v Value) (Value, error) { return NewInt64(int64(v.Int32())), nil })
	register(Uint32, Uint64, func(v Value) (Value, error) { return NewUint64(uint64(v.Uint32())), nil })
	register(Uint32, Int64, func(v Value) (Value, error) { return NewInt64(int64(v.Uint32())), nil })
	register(Int32, Uint32, func(v Value) (Value, error) {
		n := v.Int32()
		if n < 0 {
			return Unset, fmt.Errorf("%w: %d does not fit u32", ErrConversion, n)
		}
		return NewUint32(uint32(n)), nil
	})
	register(Uint32, Int32, func(v Value) (Value, error) {
		n := v.Uint32()
		if n > 1<<31-1 {
			return Unset, fmt.Errorf("%w: %d does not fit i32", ErrConversion, n)
		}
		return NewInt32(int32(n)), nil
	})
	// Narrowings succeed only when the value is in range.
	register(Int64, Int32, func(v Value) (Value, error) {
		n := v.Int64()
		if n < -(1<<31) || n > (1<<31-1) {
			return Unset, fmt.Errorf("%w: %d does not fit i32", ErrConversion, n)
		}
		return NewInt32(int32(n)), nil
	})
	register(Uint64, Uint32, func(v Value) (Value, error) {
		n := v.Uint64()
		if n > 0xFFFFFFFF {
			return Unset, fmt.Errorf("%w: %d does not fit u32", ErrConversion, n)
		}
		return NewUint32(uint32(n)), nil
	})
	register(Int64, Uint32, func(v Value) (Value, error) {
		n := v.Int64()
		if n < 0 || n > 0xFFFFFFFF {
			return Unset, fmt.Errorf("%w: %d does not fit u32", ErrConversion, n)
		}
		return NewUint32(uint32(n)), nil
	})
	// Integer <-> float succeeds with a representable-range check.
	register(Int64, Float64, func(v Value) (Value, error) { return NewFloat64(float64(v.Int64())), nil })
	register(Uint64, Float64, func(v Value) (Value, error) { return NewFloat64(float64(v.Uint64())), nil })
	register(Float64, Int64, func(v Value) (Value, error) {
		f := v.Float64()
		if f != float64(int64(f)) {
			return Unset, fmt.Errorf("%w: %g is not integral", ErrConversion, f)
		}
		return NewInt64(int64(f)), nil
	})
	register(Float32, Float64, func(v Value) (Value, error) { return NewFloat64(float64(v.Float32())), nil })
	register(Float64, Float32, func(v Value) (Value, error) {
		f := v.Float64()
		n := float32(f)
		if float64(n) != f {
			return Unset, fmt.Errorf("%w: %g does not fit f32", ErrConversion, f)
		}
		return NewFloat32(n), nil
	})
	register(Char32, Uint32, func(v Value) (Value, error) { return NewUint32(uint32(v.Char32())), nil })
	register(Uint32, Char32, func(v Value) (Value, error) { return NewChar32(rune(v.Uint32())), nil })
}

// TryConvert attempts to convert v to the requested target kind. Any
// scalar can be converted to String via its formatter; any String can be
// converted to a scalar kind via its parser. A conversion that isn't
// registered and isn't a string<->scalar pair fails.
func TryConvert(v Value, target Kind) (Value, error) {
	if v.kind == target {
		return v, nil
	}
	if target == String {
		return NewString(Format(v)), nil
	}
	if v.kind == String {
		return Parse(v.Str(), target)
	}
	if fn, ok := conversions[[2]Kind{v.kind, target}]; ok {
		return fn(v)
	}
	// Fall back to widen-then-narrow through int64/float64 when no direct
	// entry exists (e.g. Int32 -> Uint64): this keeps the table small while
	// still covering every numeric pair losslessly where the math allows.
	if v.IsNumeric() && target != String {
		return convertViaCommon(v, target)
	}
	return Unset, fmt.Errorf("%w: no conversion from %s to %s", ErrConversion, v.kind, target)
}

func convertViaCommon(v Value, target Kind) (Value, error) {
	if v.IsFloat() && (target == Int64 || target == Int32 || target == Uint32) {
		// Floats reach the integer kinds through the integrality-checked
		// f64 -> i64 entry; AsInt64 has no float case.
		wide, err := TryConvert(NewFloat64(v.AsFloat64()), Int64)
		if err != nil || target == Int64 {
			return wide, err
		}
		return TryConvert(wide, target)
	}
	switch target {
	case Int64:
		return NewInt64(v.AsInt64()), nil
	case Uint64:
		if v.IsFloat() {
			return Unset, fmt.Errorf("%w: float to u64 requires an explicit int step", ErrConversion)
		}
		return NewUint64(uint64(v.AsInt64())), nil
	case Float64:
		return NewFloat64(v.AsFloat64()), nil
	case Int32:
		return TryConvert(NewInt64(v.AsInt64()), Int32)
	case Uint32:
		return TryConvert(NewInt64(v.AsInt64()), Uint32)
	case Float32:
		return TryConvert(NewFloat64(v.AsFloat64()), Float32)
	default:
		return Unset, fmt.Errorf("%w: no conversion from %s to %s", ErrConversion, v.kind, target)
	}
}

// Format renders v using the formatter appropriate to its kind. This is the
// scalar->string half of the conversion table.
func Format(v Value) string {
	switch v.kind {
	case Unknown:
		return ""
	case Int32:
		return strconv.FormatInt(int64(v.Int32()), 10)
	case Uint32:
		return strconv.FormatUint(uint64(v.Uint32()), 10)
	case Int64:
		return strconv.FormatInt(v.Int64(), 10)
	case Uint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case Float32:
		return strconv.FormatFloat(float64(v.Float32()), 'g', -1, 32)
	case Float64:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	case Extended:
		return strconv.FormatFloat(v.Extended(), 'g', -1, 64)
	case Char32:
		return string(v.Char32())
	case String:
		return v.Str()
	default:
		return ""
	}
}

// Parse is the string->scalar half of the conversion table.
func Parse(s string, target Kind) (Value, error) {
	switch target {
	case Int32:
		n, err := strconv.ParseInt(s, 0, 32)
		if err != nil {
			return Unset, fmt.Errorf("%w: %v", ErrConversion, err)
		}
		return NewInt32(int32(n)), nil
	case Uint32:
		n, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return Unset, fmt.Errorf("%w: %v", ErrConversion, err)
		}
		return NewUint32(uint32(n)), nil
	case Int64:
		n, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return Unset, fmt.Errorf("%w: %v", ErrConversion, err)
		}
		return NewInt64(n), nil
	case Uint64:
		n, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return Unset, fmt.Errorf("%w: %v", ErrConversion, err)
		}
		return NewUint64(n), nil
	case Float32:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return Unset, fmt.Errorf("%w: %v", ErrConversion, err)
		}
		return NewFloat32(float32(f)), nil
	case Float64, Extended:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Unset, fmt.Errorf("%w: %v", ErrConversion, err)
		}
		if target == Extended {
			return NewExtended(f), nil
		}
		return NewFloat64(f), nil
	case Char32:
		r := []rune(s)
		if len(r) != 1 {
			return Unset, fmt.Errorf("%w: %q is not a single character", ErrConversion, s)
		}
		return NewChar32(r[0]), nil
	case String:
		return NewString(s), nil
	default:
		return Unset, fmt.Errorf("%w: cannot parse into %s", ErrConversion, target)
	}
}
