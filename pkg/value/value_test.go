package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversionMonotonicity(t *testing.T) {
	// spec.md 8: tryConvert(v,T).tryConvert(back,typeOf(v)) is identity
	// whenever the first conversion is lossless.
	cases := []struct {
		name   string
		v      Value
		target Kind
	}{
		{"i32->i64", NewInt32(-42), Int64},
		{"u32->u64", NewUint32(42), Uint64},
		{"i32->f64", NewInt32(7), Float64},
		{"f32->f64", NewFloat32(1.5), Float64},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			widened, err := TryConvert(tc.v, tc.target)
			require.NoError(t, err)
			back, err := TryConvert(widened, tc.v.Kind())
			require.NoError(t, err)
			assert.Equal(t, tc.v, back)
		})
	}
}

func TestConversionRangeChecked(t *testing.T) {
	_, err := TryConvert(NewInt64(1<<40), Int32)
	assert.ErrorIs(t, err, ErrConversion)

	_, err = TryConvert(NewInt32(-1), Uint32)
	assert.ErrorIs(t, err, ErrConversion)
}

func TestStringRoundTrip(t *testing.T) {
	v := NewUint32(0xDEADBEEF)
	s, err := TryConvert(v, String)
	require.NoError(t, err)
	assert.Equal(t, "3735928559", s.Str())

	back, err := TryConvert(s, Uint32)
	require.NoError(t, err)
	assert.Equal(t, v, back)
}

func TestWrongPayloadAccessPanics(t *testing.T) {
	v := NewInt32(1)
	assert.Panics(t, func() { v.Uint32() })
}

func TestTypeOfRegistry(t *testing.T) {
	for _, k := range []Kind{Unknown, Int32, Uint32, Int64, Uint64, Float32, Float64, Extended, Char32, String} {
		assert.Equal(t, k, TypeOf(k).Kind)
	}
}
