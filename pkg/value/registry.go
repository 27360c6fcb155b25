package value

import "fmt"

// VariantType is the process-wide descriptor for one concrete Kind, per
// spec.md 4.A: a singleton exposing name/format/parse behaviour (conversion
// is the package-level TryConvert table) rather than a runtime type pointer
// embedded in every Value. Construct,
// copy, move and destroy are no-ops in Go (Value is a plain struct with a
// GC-managed string pointer) so the registry only needs to carry the parts
// Go doesn't give us for free: name, formatter, parser.
type VariantType struct {
	Kind   Kind
	Name   string
	Format func(Value) string
	Parse  func(string) (Value, error)
}

var registry = map[Kind]*VariantType{}

func init() {
	for _, k := range []Kind{Unknown, Int32, Uint32, Int64, Uint64, Float32, Float64, Extended, Char32, String} {
		kind := k
		registry[kind] = &VariantType{
			Kind: kind,
			Name: kind.String(),
			Format: func(v Value) string {
				return Format(v)
			},
			Parse: func(s string) (Value, error) {
				return Parse(s, kind)
			},
		}
	}
}

// TypeOf returns the registry's singleton descriptor for k. Every Kind
// value is registered at init time, so this never returns nil for a valid
// Kind.
func TypeOf(k Kind) *VariantType {
	t, ok := registry[k]
	if !ok {
		panic(fmt.Errorf("value: no VariantType registered for kind %d", int(k)))
	}
	return t
}
