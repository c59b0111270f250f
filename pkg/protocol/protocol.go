// Package protocol implements the wire codecs for the RobStride servo
// family: the vendor "private" protocol carried in 29-bit extended frames
// and the MIT Cheetah compatible protocol carried in 11-bit standard frames.
//
// All functions here are pure; nothing in this package touches the bus.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/robstride/robstride-go/pkg/frame"
	"github.com/robstride/robstride-go/pkg/units"
)

// CommType is the message kind tag carried in bits [28:24] of a private
// protocol identifier.
type CommType uint8

const (
	CommGetID         CommType = 0x00
	CommMotionControl CommType = 0x01
	CommFeedback      CommType = 0x02
	CommEnable        CommType = 0x03
	CommStop          CommType = 0x04
	CommSetZero       CommType = 0x06
	CommReadParam     CommType = 0x11
	CommWriteParam    CommType = 0x12
	CommFaultReport   CommType = 0x15
	CommSaveConfig    CommType = 0x16
	CommActiveReport  CommType = 0x18
)

func (c CommType) String() string {
	switch c {
	case CommGetID:
		return "GetID"
	case CommMotionControl:
		return "MotionControl"
	case CommFeedback:
		return "Feedback"
	case CommEnable:
		return "Enable"
	case CommStop:
		return "Stop"
	case CommSetZero:
		return "SetZero"
	case CommReadParam:
		return "ReadParam"
	case CommWriteParam:
		return "WriteParam"
	case CommFaultReport:
		return "FaultReport"
	case CommSaveConfig:
		return "SaveConfig"
	case CommActiveReport:
		return "ActiveReport"
	default:
		return fmt.Sprintf("CommType(0x%02X)", uint8(c))
	}
}

func (c CommType) known() bool {
	switch c {
	case CommGetID, CommMotionControl, CommFeedback, CommEnable, CommStop,
		CommSetZero, CommReadParam, CommWriteParam, CommFaultReport,
		CommSaveConfig, CommActiveReport:
		return true
	}
	return false
}

// RunMode selects the motor's control loop. Written to ParamRunMode while
// the motor is disabled.
type RunMode uint8

const (
	ModeMotionControl RunMode = 0
	ModePosition      RunMode = 1
	ModeVelocity      RunMode = 2
	ModeCurrent       RunMode = 3
	ModeSetZero       RunMode = 4
	ModeCSP           RunMode = 5
)

func (m RunMode) String() string {
	switch m {
	case ModeMotionControl:
		return "motion"
	case ModePosition:
		return "position"
	case ModeVelocity:
		return "velocity"
	case ModeCurrent:
		return "current"
	case ModeSetZero:
		return "zero"
	case ModeCSP:
		return "csp"
	default:
		return fmt.Sprintf("RunMode(%d)", uint8(m))
	}
}

// MotorMode is the coarse operating state reported in feedback frames,
// bits [23:22] of the identifier.
type MotorMode uint8

const (
	MotorModeReset       MotorMode = 0
	MotorModeCalibration MotorMode = 1
	MotorModeRun         MotorMode = 2
)

// DefaultHostID is the master controller ID the motors ship configured for.
const DefaultHostID uint16 = 0xFD

// deviceIDReplyLow marks a GetID reply; the low identifier byte carries it
// instead of a host ID.
const deviceIDReplyLow = 0xFE

// Motion control field ranges for the private protocol.
var (
	PosRange    = units.Range{Min: -12.5, Max: 12.5}
	VelRange    = units.Range{Min: -44.0, Max: 44.0}
	KpRange     = units.Range{Min: 0.0, Max: 500.0}
	KdRange     = units.Range{Min: 0.0, Max: 5.0}
	TorqueRange = units.Range{Min: -17.0, Max: 17.0}
)

// tempScale converts the raw feedback temperature field to degrees Celsius.
const tempScale = 0.1

// Codec error taxonomy. Unknown or malformed unsolicited frames are logged
// and dropped by the intake loop, never propagated.
var (
	ErrProtocolMismatch = errors.New("communication type not supported by this protocol variant")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrUnknownMessage   = errors.New("unknown communication type")
)

// PackID builds a private protocol extended identifier:
// [28:24]=comm type, [23:8]=host field, [7:0]=motor id.
func PackID(c CommType, hostField uint16, motorID uint8) uint32 {
	return uint32(c)<<24 | uint32(hostField)<<8 | uint32(motorID)
}

// UnpackID splits a private protocol identifier into its three fields.
func UnpackID(id uint32) (c CommType, midField uint16, low uint8) {
	return CommType(id >> 24 & 0x1F), uint16(id >> 8 & 0xFFFF), uint8(id & 0xFF)
}

// Identify recovers the communication type and the originating motor ID from
// an incoming frame of either protocol variant. For standard (11-bit) frames
// the identifier itself is the motor ID and the content is an MIT feedback
// frame.
func Identify(f *frame.CANFrame) (CommType, uint8, error) {
	if f == nil {
		return 0, 0, ErrMalformedFrame
	}
	if !f.Extended {
		return CommFeedback, uint8(f.Identifier & 0x7F), nil
	}
	c, midField, low := UnpackID(f.Identifier)
	if !c.known() {
		return 0, 0, fmt.Errorf("%w: 0x%02X", ErrUnknownMessage, uint8(f.Identifier>>24))
	}
	// Motor-originated frames carry the motor ID in bits [15:8] and the
	// host ID (or 0xFE for GetID replies) in the low byte.
	switch c {
	case CommFeedback, CommReadParam, CommFaultReport:
		return c, uint8(midField & 0xFF), nil
	case CommGetID:
		if low == deviceIDReplyLow {
			return c, uint8(midField & 0xFF), nil
		}
		return c, low, nil
	default:
		return c, low, nil
	}
}

// Feedback is the decoded content of a status report frame.
type Feedback struct {
	Position    float64 // rad
	Velocity    float64 // rad/s
	Torque      float64 // Nm
	Temperature float64 // deg C
	Mode        MotorMode
	Fault       uint8 // nonzero means the motor is faulted
}

// MotionCommand is a combined PD plus feedforward torque setpoint:
// torque = Kp*(Position-pos) + Kd*(Velocity-vel) + Torque.
type MotionCommand struct {
	Position float64 // rad
	Velocity float64 // rad/s
	Kp       float64
	Kd       float64
	Torque   float64 // Nm feedforward
}

// EncodeGetID builds the device handshake / unique ID query.
func EncodeGetID(motorID uint8, hostID uint16) *frame.CANFrame {
	return frame.NewExtended(PackID(CommGetID, hostID, motorID), nil, frame.Outgoing)
}

// EncodeEnable builds the motor enable command.
func EncodeEnable(motorID uint8, hostID uint16) *frame.CANFrame {
	return frame.NewExtended(PackID(CommEnable, hostID, motorID), nil, frame.Outgoing)
}

// EncodeStop builds the motor disable command. With clearFault set the motor
// also clears any latched fault bits.
func EncodeStop(motorID uint8, hostID uint16, clearFault bool) *frame.CANFrame {
	var data [frame.PayloadLen]byte
	if clearFault {
		data[0] = 1
	}
	return frame.NewExtended(PackID(CommStop, hostID, motorID), data[:], frame.Outgoing)
}

// EncodeSetZero builds the set-mechanical-zero command. Only valid while the
// motor is disabled.
func EncodeSetZero(motorID uint8, hostID uint16) *frame.CANFrame {
	data := [frame.PayloadLen]byte{1}
	return frame.NewExtended(PackID(CommSetZero, hostID, motorID), data[:], frame.Outgoing)
}

// EncodeSaveConfig builds the flash persistence command; the motor writes its
// current parameter set to non-volatile memory.
func EncodeSaveConfig(motorID uint8, hostID uint16) *frame.CANFrame {
	return frame.NewExtended(PackID(CommSaveConfig, hostID, motorID), nil, frame.Outgoing)
}

// EncodeActiveReport toggles motor-initiated periodic status frames.
func EncodeActiveReport(motorID uint8, hostID uint16, on bool) *frame.CANFrame {
	var data [frame.PayloadLen]byte
	if on {
		data[0] = 1
	}
	return frame.NewExtended(PackID(CommActiveReport, hostID, motorID), data[:], frame.Outgoing)
}

// EncodeMotionControl builds a motion control command. The torque setpoint is
// quantized into the identifier's host field; position, velocity and the two
// gains are packed big-endian into the payload. Out of range values saturate
// the way the firmware would.
func EncodeMotionControl(motorID uint8, cmd MotionCommand) *frame.CANFrame {
	torque, _ := units.Encode(cmd.Torque, TorqueRange, 16)
	pos, _ := units.Encode(cmd.Position, PosRange, 16)
	vel, _ := units.Encode(cmd.Velocity, VelRange, 16)
	kp, _ := units.Encode(cmd.Kp, KpRange, 16)
	kd, _ := units.Encode(cmd.Kd, KdRange, 16)

	var data [frame.PayloadLen]byte
	binary.BigEndian.PutUint16(data[0:2], uint16(pos))
	binary.BigEndian.PutUint16(data[2:4], uint16(vel))
	binary.BigEndian.PutUint16(data[4:6], uint16(kp))
	binary.BigEndian.PutUint16(data[6:8], uint16(kd))
	return frame.NewExtended(PackID(CommMotionControl, uint16(torque), motorID), data[:], frame.Outgoing)
}

// DecodeMotionControl is the inverse of EncodeMotionControl.
func DecodeMotionControl(f *frame.CANFrame) (uint8, MotionCommand, error) {
	if !f.Extended {
		return 0, MotionCommand{}, ErrProtocolMismatch
	}
	c, torqueRaw, motorID := UnpackID(f.Identifier)
	if c != CommMotionControl {
		return 0, MotionCommand{}, fmt.Errorf("%w: got %s, want %s", ErrMalformedFrame, c, CommMotionControl)
	}
	cmd := MotionCommand{
		Position: units.Decode(uint32(binary.BigEndian.Uint16(f.Data[0:2])), PosRange, 16),
		Velocity: units.Decode(uint32(binary.BigEndian.Uint16(f.Data[2:4])), VelRange, 16),
		Kp:       units.Decode(uint32(binary.BigEndian.Uint16(f.Data[4:6])), KpRange, 16),
		Kd:       units.Decode(uint32(binary.BigEndian.Uint16(f.Data[6:8])), KdRange, 16),
		Torque:   units.Decode(uint32(torqueRaw), TorqueRange, 16),
	}
	return motorID, cmd, nil
}

// EncodeFeedback builds a status report frame as the motor would send it.
// The driver itself never transmits these; they exist for the loopback
// adapter and tests.
func EncodeFeedback(motorID uint8, hostID uint16, fb Feedback) *frame.CANFrame {
	pos, _ := units.Encode(fb.Position, PosRange, 16)
	vel, _ := units.Encode(fb.Velocity, VelRange, 16)
	torque, _ := units.Encode(fb.Torque, TorqueRange, 16)
	var data [frame.PayloadLen]byte
	binary.BigEndian.PutUint16(data[0:2], uint16(pos))
	binary.BigEndian.PutUint16(data[2:4], uint16(vel))
	binary.BigEndian.PutUint16(data[4:6], uint16(torque))
	binary.BigEndian.PutUint16(data[6:8], uint16(math.Round(fb.Temperature/tempScale)))
	id := uint32(CommFeedback)<<24 |
		uint32(fb.Mode&0x3)<<22 |
		uint32(fb.Fault&0x3F)<<16 |
		uint32(motorID)<<8 |
		uint32(hostID&0xFF)
	return frame.NewExtended(id, data[:], frame.Incoming)
}

// DecodeFeedback parses a private protocol status report. The fault bitmask
// and the coarse motor mode ride in the identifier, the four measurement
// fields in the payload.
func DecodeFeedback(f *frame.CANFrame) (uint8, Feedback, error) {
	if !f.Extended {
		return 0, Feedback{}, ErrProtocolMismatch
	}
	if CommType(f.Identifier>>24&0x1F) != CommFeedback {
		return 0, Feedback{}, fmt.Errorf("%w: not a feedback frame", ErrMalformedFrame)
	}
	motorID := uint8(f.Identifier >> 8 & 0xFF)
	fb := Feedback{
		Position:    units.Decode(uint32(binary.BigEndian.Uint16(f.Data[0:2])), PosRange, 16),
		Velocity:    units.Decode(uint32(binary.BigEndian.Uint16(f.Data[2:4])), VelRange, 16),
		Torque:      units.Decode(uint32(binary.BigEndian.Uint16(f.Data[4:6])), TorqueRange, 16),
		Temperature: float64(binary.BigEndian.Uint16(f.Data[6:8])) * tempScale,
		Mode:        MotorMode(f.Identifier >> 22 & 0x3),
		Fault:       uint8(f.Identifier >> 16 & 0x3F),
	}
	return motorID, fb, nil
}

// EncodeFaultReport builds a motor-initiated fault report. Like feedback
// frames these exist for the loopback adapter and tests; the driver only
// ever receives them.
func EncodeFaultReport(motorID uint8, hostID uint16, fault uint8) *frame.CANFrame {
	id := uint32(CommFaultReport)<<24 |
		uint32(fault&0x3F)<<16 |
		uint32(motorID)<<8 |
		uint32(hostID&0xFF)
	return frame.NewExtended(id, nil, frame.Incoming)
}

// DecodeFaultReport parses a fault report. The bitmask rides in identifier
// bits [21:16], the same position feedback frames carry it in.
func DecodeFaultReport(f *frame.CANFrame) (uint8, uint8, error) {
	if !f.Extended {
		return 0, 0, ErrProtocolMismatch
	}
	if CommType(f.Identifier>>24&0x1F) != CommFaultReport {
		return 0, 0, fmt.Errorf("%w: not a fault report", ErrMalformedFrame)
	}
	return uint8(f.Identifier >> 8 & 0xFF), uint8(f.Identifier >> 16 & 0x3F), nil
}

// EncodeReadParam builds a single parameter read request.
func EncodeReadParam(motorID uint8, hostID uint16, addr uint16) *frame.CANFrame {
	var data [frame.PayloadLen]byte
	binary.LittleEndian.PutUint16(data[0:2], addr)
	return frame.NewExtended(PackID(CommReadParam, hostID, motorID), data[:], frame.Outgoing)
}

// EncodeWriteParam builds a single parameter write. The value is packed
// according to the descriptor's physical type: float32 little-endian in
// bytes 4..7, or a single byte for the integer types.
func EncodeWriteParam(motorID uint8, hostID uint16, desc Descriptor, value float64) *frame.CANFrame {
	var data [frame.PayloadLen]byte
	binary.LittleEndian.PutUint16(data[0:2], desc.Addr)
	packValue(data[4:8], desc, value)
	return frame.NewExtended(PackID(CommWriteParam, hostID, motorID), data[:], frame.Outgoing)
}

// EncodeParamReply builds a parameter read response as the motor would send
// it. Used by the loopback adapter and tests.
func EncodeParamReply(motorID uint8, hostID uint16, desc Descriptor, value float64) *frame.CANFrame {
	var data [frame.PayloadLen]byte
	binary.LittleEndian.PutUint16(data[0:2], desc.Addr)
	packValue(data[4:8], desc, value)
	id := uint32(CommReadParam)<<24 | uint32(motorID)<<8 | uint32(hostID&0xFF)
	return frame.NewExtended(id, data[:], frame.Incoming)
}

// DecodeParamReply parses a parameter read response, resolving the value
// through the Parameter Registry.
func DecodeParamReply(f *frame.CANFrame) (motorID uint8, addr uint16, value float64, err error) {
	if !f.Extended {
		return 0, 0, 0, ErrProtocolMismatch
	}
	if CommType(f.Identifier>>24&0x1F) != CommReadParam {
		return 0, 0, 0, fmt.Errorf("%w: not a parameter reply", ErrMalformedFrame)
	}
	motorID = uint8(f.Identifier >> 8 & 0xFF)
	addr = binary.LittleEndian.Uint16(f.Data[0:2])
	desc, ok := Lookup(addr)
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: parameter 0x%04X", ErrUnknownMessage, addr)
	}
	return motorID, addr, unpackValue(f.Data[4:8], desc), nil
}

// DecodeDeviceID parses the GetID handshake reply carrying the 64-bit MCU
// unique identifier.
func DecodeDeviceID(f *frame.CANFrame) (uint8, [8]byte, error) {
	if !f.Extended {
		return 0, [8]byte{}, ErrProtocolMismatch
	}
	c, midField, low := UnpackID(f.Identifier)
	if c != CommGetID || low != deviceIDReplyLow {
		return 0, [8]byte{}, fmt.Errorf("%w: not a device ID reply", ErrMalformedFrame)
	}
	return uint8(midField & 0xFF), f.Data, nil
}

func packValue(dst []byte, desc Descriptor, value float64) {
	switch desc.Type {
	case Float32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(value)))
	case Int16:
		binary.LittleEndian.PutUint16(dst, uint16(int16(math.Round(value))))
	case Int8:
		dst[0] = byte(int8(math.Round(value)))
	case Uint8:
		dst[0] = byte(uint8(math.Round(value)))
	}
}

func unpackValue(src []byte, desc Descriptor) float64 {
	switch desc.Type {
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(src)))
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(src)))
	case Int8:
		return float64(int8(src[0]))
	case Uint8:
		return float64(src[0])
	}
	return 0
}
