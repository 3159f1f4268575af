package config

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseString(t *testing.T) {
	spec := Spec{Type: String}
	assert.Equal(t, "raining", Parse(spec, "raining"))
	assert.Equal(t, "", Parse(spec, ""))
}

func TestParseNumber(t *testing.T) {
	spec := Spec{Type: Number}
	assert.Equal(t, float64(42), Parse(spec, "42"))
	assert.Equal(t, 3.5, Parse(spec, "3.5"))
	assert.Equal(t, -1.0, Parse(spec, " -1 "))

	// Non-numeric input degrades to NaN rather than failing.
	got, ok := Parse(spec, "not a number").(float64)
	assert.True(t, ok)
	assert.True(t, math.IsNaN(got))
}

func TestParseBoolean(t *testing.T) {
	spec := Spec{Type: Boolean}
	for _, raw := range []string{"true", "TRUE", "y", "Y", "1", "on", "On"} {
		assert.Equal(t, true, Parse(spec, raw), raw)
	}
	for _, raw := range []string{"false", "n", "0", "off", "OFF"} {
		assert.Equal(t, false, Parse(spec, raw), raw)
	}
	// Unrecognised strings coerce to false.
	assert.Equal(t, false, Parse(spec, "maybe"))
	assert.Equal(t, false, Parse(spec, ""))
}

func TestParseStringArray(t *testing.T) {
	spec := Spec{Type: StringArray}
	assert.Equal(t, []string{"a", "b"}, Parse(spec, `["a","b"]`))
	// Malformed JSON passes the raw string through instead of failing.
	assert.Equal(t, "a,b", Parse(spec, "a,b"))
}

func TestParseRecord(t *testing.T) {
	spec := Spec{Type: Record}
	assert.Equal(t, map[string]any{"x": float64(1)}, Parse(spec, `{"x":1}`))
	assert.Equal(t, "{broken", Parse(spec, "{broken"))
}

func TestCoerceIdempotentOnTypedValues(t *testing.T) {
	assert.Equal(t, true, Coerce(Spec{Type: Boolean}, true))
	assert.Equal(t, 2.5, Coerce(Spec{Type: Number}, 2.5))
	assert.Equal(t, []string{"a"}, Coerce(Spec{Type: StringArray}, []string{"a"}))
	assert.Equal(t, "text", Coerce(Spec{Type: String}, "text"))
}

func TestCoerceWidensNumbers(t *testing.T) {
	assert.Equal(t, float64(7), Coerce(Spec{Type: Number}, 7))
	assert.Equal(t, float64(7), Coerce(Spec{Type: Number}, int64(7)))
}

func TestCoerceYAMLStringArray(t *testing.T) {
	// YAML decodes sequences as []any; coercion narrows them.
	assert.Equal(t, []string{"a", "b"}, Coerce(Spec{Type: StringArray}, []any{"a", "b"}))
}
