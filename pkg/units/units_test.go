package units

import (
	"math"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		r    Range
		bits uint8
		v    float64
	}{
		{"pos min", Range{-12.5, 12.5}, 16, -12.5},
		{"pos mid", Range{-12.5, 12.5}, 16, 0},
		{"pos max", Range{-12.5, 12.5}, 16, 12.5},
		{"pos arbitrary", Range{-12.5, 12.5}, 16, 1.0},
		{"vel min", Range{-44, 44}, 16, -44},
		{"vel max", Range{-44, 44}, 16, 44},
		{"kp 12bit", Range{0, 500}, 12, 50.0},
		{"kd 12bit", Range{0, 5}, 12, 1.0},
		{"torque mid", Range{-17, 17}, 16, 0},
		{"torque neg", Range{-17, 17}, 16, -3.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, ok := Encode(tt.v, tt.r, tt.bits)
			if !ok {
				t.Errorf("Encode(%v) reported clamp for in-range value", tt.v)
			}
			got := Decode(u, tt.r, tt.bits)
			step := tt.r.Step(tt.bits)
			if diff := math.Abs(got - tt.v); diff > step/2 {
				t.Errorf("round trip %v -> %d -> %v, off by %v (step %v)", tt.v, u, got, diff, step)
			}
		})
	}
}

func TestEncodeClamps(t *testing.T) {
	r := Range{-12.5, 12.5}
	tests := []struct {
		name string
		v    float64
		want uint32
	}{
		{"below min", -100, 0},
		{"above max", 100, 0xFFFF},
		{"way below", math.Inf(-1), 0},
		{"way above", math.Inf(1), 0xFFFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, ok := Encode(tt.v, r, 16)
			if ok {
				t.Errorf("Encode(%v) did not report clamp", tt.v)
			}
			if u != tt.want {
				t.Errorf("Encode(%v) = 0x%X, want 0x%X", tt.v, u, tt.want)
			}
		})
	}
}

func TestEncodeNeverExceedsBitWidth(t *testing.T) {
	r := Range{0, 500}
	for _, bits := range []uint8{8, 12, 16} {
		max := uint32(uint64(1)<<bits - 1)
		for _, v := range []float64{-1e9, -1, 0, 250, 500, 501, 1e9} {
			u, _ := Encode(v, r, bits)
			if u > max {
				t.Fatalf("Encode(%v, bits=%d) = 0x%X exceeds 0x%X", v, bits, u, max)
			}
		}
	}
}

func TestDecodeMasksHighBits(t *testing.T) {
	r := Range{-30, 30}
	if got, want := Decode(0xFFFFF, r, 12), 30.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("Decode with high garbage bits = %v, want %v", got, want)
	}
}
