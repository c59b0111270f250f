package protocol

import (
	"bytes"
	"fmt"

	"github.com/robstride/robstride-go/pkg/frame"
	"github.com/robstride/robstride-go/pkg/units"
)

// MIT Cheetah compatible protocol. Frames are standard 11-bit with the
// identifier equal to the motor ID. Enable, disable and zeroing are magic
// payloads; the motion command packs five sub-fields into the 8 bytes:
//
//	pos:16  vel:12  kp:12  kd:12  torque:12
//
// The motor answers every command with a feedback frame.
var (
	MITPosRange    = units.Range{Min: -fourPi, Max: fourPi}
	MITVelRange    = units.Range{Min: -30.0, Max: 30.0}
	MITKpRange     = units.Range{Min: 0.0, Max: 500.0}
	MITKdRange     = units.Range{Min: 0.0, Max: 5.0}
	MITTorqueRange = units.Range{Min: -12.0, Max: 12.0}
	MITCurRange    = units.Range{Min: -23.0, Max: 23.0}
)

var (
	mitEnablePayload  = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFC}
	mitDisablePayload = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFD}
	mitZeroPayload    = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFE}
)

// EncodeMITEnable builds the MIT enter-motor-mode command.
func EncodeMITEnable(motorID uint8) *frame.CANFrame {
	return frame.New(uint32(motorID), mitEnablePayload, frame.Outgoing)
}

// EncodeMITDisable builds the MIT exit-motor-mode command.
func EncodeMITDisable(motorID uint8) *frame.CANFrame {
	return frame.New(uint32(motorID), mitDisablePayload, frame.Outgoing)
}

// EncodeMITZero builds the MIT set-zero-position command.
func EncodeMITZero(motorID uint8) *frame.CANFrame {
	return frame.New(uint32(motorID), mitZeroPayload, frame.Outgoing)
}

// EncodeMITMotionControl packs a motion command with MIT Cheetah scaling.
func EncodeMITMotionControl(motorID uint8, cmd MotionCommand) *frame.CANFrame {
	pos, _ := units.Encode(cmd.Position, MITPosRange, 16)
	vel, _ := units.Encode(cmd.Velocity, MITVelRange, 12)
	kp, _ := units.Encode(cmd.Kp, MITKpRange, 12)
	kd, _ := units.Encode(cmd.Kd, MITKdRange, 12)
	torque, _ := units.Encode(cmd.Torque, MITTorqueRange, 12)

	var data [frame.PayloadLen]byte
	data[0] = byte(pos >> 8)
	data[1] = byte(pos)
	data[2] = byte(vel >> 4)
	data[3] = byte(vel&0xF)<<4 | byte(kp>>8)
	data[4] = byte(kp)
	data[5] = byte(kd >> 4)
	data[6] = byte(kd&0xF)<<4 | byte(torque>>8)
	data[7] = byte(torque)
	return frame.New(uint32(motorID), data[:], frame.Outgoing)
}

// DecodeMITMotionControl is the inverse of EncodeMITMotionControl.
func DecodeMITMotionControl(f *frame.CANFrame) (uint8, MotionCommand, error) {
	if f.Extended {
		return 0, MotionCommand{}, ErrProtocolMismatch
	}
	d := f.Data
	cmd := MotionCommand{
		Position: units.Decode(uint32(d[0])<<8|uint32(d[1]), MITPosRange, 16),
		Velocity: units.Decode(uint32(d[2])<<4|uint32(d[3])>>4, MITVelRange, 12),
		Kp:       units.Decode(uint32(d[3]&0xF)<<8|uint32(d[4]), MITKpRange, 12),
		Kd:       units.Decode(uint32(d[5])<<4|uint32(d[6])>>4, MITKdRange, 12),
		Torque:   units.Decode(uint32(d[6]&0xF)<<8|uint32(d[7]), MITTorqueRange, 12),
	}
	return uint8(f.Identifier & 0x7F), cmd, nil
}

// MITFeedback is the decoded content of an MIT reply:
// id:8 pos:16 vel:12 current:12 temp:8.
type MITFeedback struct {
	Position    float64 // rad
	Velocity    float64 // rad/s
	Current     float64 // A
	Temperature float64 // deg C
}

// EncodeMITFeedback builds a reply frame as the motor would send it. For the
// loopback adapter and tests.
func EncodeMITFeedback(motorID uint8, fb MITFeedback) *frame.CANFrame {
	pos, _ := units.Encode(fb.Position, MITPosRange, 16)
	vel, _ := units.Encode(fb.Velocity, MITVelRange, 12)
	cur, _ := units.Encode(fb.Current, MITCurRange, 12)
	var data [frame.PayloadLen]byte
	data[0] = motorID
	data[1] = byte(pos >> 8)
	data[2] = byte(pos)
	data[3] = byte(vel >> 4)
	data[4] = byte(vel&0xF)<<4 | byte(cur>>8)
	data[5] = byte(cur)
	data[6] = byte(int8(fb.Temperature))
	return frame.New(uint32(motorID), data[:], frame.Incoming)
}

// DecodeMITFeedback parses an MIT reply frame.
func DecodeMITFeedback(f *frame.CANFrame) (uint8, MITFeedback, error) {
	if f.Extended {
		return 0, MITFeedback{}, ErrProtocolMismatch
	}
	d := f.Data
	fb := MITFeedback{
		Position:    units.Decode(uint32(d[1])<<8|uint32(d[2]), MITPosRange, 16),
		Velocity:    units.Decode(uint32(d[3])<<4|uint32(d[4])>>4, MITVelRange, 12),
		Current:     units.Decode(uint32(d[4]&0xF)<<8|uint32(d[5]), MITCurRange, 12),
		Temperature: float64(int8(d[6])),
	}
	return d[0], fb, nil
}

// MITCommandKind classifies an outgoing MIT frame. Used by the loopback
// motor simulator.
type MITCommandKind int

const (
	MITKindMotion MITCommandKind = iota
	MITKindEnable
	MITKindDisable
	MITKindZero
)

func (k MITCommandKind) String() string {
	switch k {
	case MITKindMotion:
		return "motion"
	case MITKindEnable:
		return "enable"
	case MITKindDisable:
		return "disable"
	case MITKindZero:
		return "zero"
	default:
		return fmt.Sprintf("MITCommandKind(%d)", int(k))
	}
}

// ClassifyMIT reports which MIT command an outgoing standard frame carries.
func ClassifyMIT(f *frame.CANFrame) (MITCommandKind, error) {
	if f.Extended {
		return 0, ErrProtocolMismatch
	}
	switch {
	case bytes.Equal(f.Data[:], mitEnablePayload):
		return MITKindEnable, nil
	case bytes.Equal(f.Data[:], mitDisablePayload):
		return MITKindDisable, nil
	case bytes.Equal(f.Data[:], mitZeroPayload):
		return MITKindZero, nil
	default:
		return MITKindMotion, nil
	}
}
