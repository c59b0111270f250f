// Package frame holds the CAN frame type shared by the adapters and the
// protocol codecs.
package frame

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

// Direction tags a frame as received from or destined for the bus. It only
// matters for logging and the monitor output.
type Direction int

const (
	Incoming Direction = iota
	Outgoing
)

// PayloadLen is the length of every payload in both protocol variants.
const PayloadLen = 8

// CANFrame is a classical CAN 2.0 frame with an 11-bit or 29-bit identifier
// and an 8 byte payload. Frames are treated as immutable once built.
type CANFrame struct {
	Identifier uint32
	Extended   bool
	Data       [PayloadLen]byte
	Direction  Direction
}

// New creates a standard 11-bit frame. The data slice is copied and
// zero-padded to 8 bytes; anything beyond 8 bytes is truncated.
func New(identifier uint32, data []byte, dir Direction) *CANFrame {
	f := &CANFrame{
		Identifier: identifier & 0x7FF,
		Direction:  dir,
	}
	copy(f.Data[:], data)
	return f
}

// NewExtended creates a 29-bit extended frame.
func NewExtended(identifier uint32, data []byte, dir Direction) *CANFrame {
	f := &CANFrame{
		Identifier: identifier & 0x1FFFFFFF,
		Extended:   true,
		Direction:  dir,
	}
	copy(f.Data[:], data)
	return f
}

// Length returns the payload length (DLC). Always 8 for this protocol family.
func (f *CANFrame) Length() int {
	return PayloadLen
}

var (
	green  = color.New(color.FgGreen).SprintfFunc()
	yellow = color.New(color.FgHiBlue).SprintfFunc()
)

func (f *CANFrame) String() string {
	var out strings.Builder
	switch f.Direction {
	case Incoming:
		out.WriteString("<i> || ")
	case Outgoing:
		out.WriteString("<o> || ")
	}
	if f.Extended {
		out.WriteString(fmt.Sprintf("0x%08X", f.Identifier) + " || ")
	} else {
		out.WriteString(fmt.Sprintf("0x%03X", f.Identifier) + " || ")
	}
	out.WriteString(strconv.Itoa(f.Length()) + " || ")
	out.WriteString(hexView(f.Data[:]))
	return out.String()
}

// ColorString renders the frame for terminal monitors.
func (f *CANFrame) ColorString() string {
	var out strings.Builder
	switch f.Direction {
	case Incoming:
		out.WriteString("<i> || ")
	case Outgoing:
		out.WriteString("<o> || ")
	}
	if f.Extended {
		out.WriteString(green("0x%08X", f.Identifier) + " || ")
	} else {
		out.WriteString(green("0x%03X", f.Identifier) + " || ")
	}
	out.WriteString(yellow("%s", hexView(f.Data[:])))
	return out.String()
}

func hexView(data []byte) string {
	var out strings.Builder
	for i, b := range data {
		out.WriteString(fmt.Sprintf("%02X", b))
		if i != len(data)-1 {
			out.WriteString(" ")
		}
	}
	return out.String()
}
