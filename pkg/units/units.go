// Package units converts between physical floating point values and the
// fixed-width scaled integers carried on the wire. Encoding is a linear map
// of [min,max] onto [0, 2^bits-1] with saturation at the range edges, which
// matches what the motor firmware does on its side of the bus.
package units

import "math"

// Range is a closed physical interval in engineering units.
type Range struct {
	Min, Max float64
}

// Span returns the width of the range.
func (r Range) Span() float64 {
	return r.Max - r.Min
}

// Clamp saturates v to the range.
func (r Range) Clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Step returns the quantization step for the given bit width.
func (r Range) Step(bits uint8) float64 {
	return r.Span() / float64(uint64(1)<<bits-1)
}

// Encode quantizes v into an unsigned integer of the given bit width.
// Out of range values saturate; the second return is false when the input
// had to be clamped so callers can surface a warning.
func Encode(v float64, r Range, bits uint8) (uint32, bool) {
	inRange := r.Contains(v)
	v = r.Clamp(v)
	max := float64(uint64(1)<<bits - 1)
	u := math.Round((v - r.Min) / r.Span() * max)
	if u < 0 {
		u = 0
	}
	if u > max {
		u = max
	}
	return uint32(u), inRange
}

// Decode is the inverse of Encode for the same range and bit width.
func Decode(u uint32, r Range, bits uint8) float64 {
	max := uint32(uint64(1)<<bits - 1)
	u &= max
	return r.Span()*float64(u)/float64(max) + r.Min
}
