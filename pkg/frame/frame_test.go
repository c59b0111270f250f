package frame

import (
	"strings"
	"testing"
)

func TestNewMasksAndPads(t *testing.T) {
	tests := []struct {
		name     string
		f        *CANFrame
		wantID   uint32
		extended bool
	}{
		{"standard id masked to 11 bits", New(0xFFFF, []byte{0x01}, Outgoing), 0x7FF, false},
		{"extended id masked to 29 bits", NewExtended(0xFFFFFFFF, nil, Outgoing), 0x1FFFFFFF, true},
		{"standard id kept as is", New(0x7F, []byte{0x01, 0x02}, Incoming), 0x7F, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.f.Identifier != tt.wantID {
				t.Errorf("identifier = 0x%X, want 0x%X", tt.f.Identifier, tt.wantID)
			}
			if tt.f.Extended != tt.extended {
				t.Errorf("extended = %v, want %v", tt.f.Extended, tt.extended)
			}
			if tt.f.Length() != PayloadLen {
				t.Errorf("length = %d, want %d", tt.f.Length(), PayloadLen)
			}
		})
	}
}

func TestDataCopiedAndTruncated(t *testing.T) {
	src := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	f := NewExtended(0x123, src, Outgoing)
	src[0] = 0xFF
	if f.Data[0] != 1 {
		t.Error("payload aliases the caller's slice")
	}
	if f.Data[7] != 8 {
		t.Errorf("payload[7] = %d, want 8", f.Data[7])
	}
}

func TestStringFormat(t *testing.T) {
	f := NewExtended(0x0300FD01, []byte{0x01}, Outgoing)
	s := f.String()
	if !strings.Contains(s, "0x0300FD01") {
		t.Errorf("String() = %q, missing identifier", s)
	}
	if !strings.HasPrefix(s, "<o>") {
		t.Errorf("String() = %q, missing direction marker", s)
	}
}
