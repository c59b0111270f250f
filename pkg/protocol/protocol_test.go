package protocol

import (
	"errors"
	"math"
	"testing"

	"github.com/robstride/robstride-go/pkg/frame"
)

func TestPackID(t *testing.T) {
	tests := []struct {
		name    string
		c       CommType
		host    uint16
		motorID uint8
		want    uint32
	}{
		{"enable motor 1", CommEnable, 0xFD, 1, 0x0300FD01},
		{"stop motor 127", CommStop, 0xFD, 127, 0x0400FD7F},
		{"read param", CommReadParam, 0xFD, 2, 0x1100FD02},
		{"get id", CommGetID, 0xFD, 5, 0x0000FD05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PackID(tt.c, tt.host, tt.motorID); got != tt.want {
				t.Errorf("PackID() = 0x%08X, want 0x%08X", got, tt.want)
			}
			c, host, low := UnpackID(tt.want)
			if c != tt.c || host != tt.host || low != tt.motorID {
				t.Errorf("UnpackID(0x%08X) = (%v, 0x%X, %d)", tt.want, c, host, low)
			}
		})
	}
}

func TestMotionControlRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		cmd  MotionCommand
	}{
		{"zero", MotionCommand{}},
		{"typical hold", MotionCommand{Position: 1.0, Velocity: 0.0, Kp: 50.0, Kd: 1.0, Torque: 0.0}},
		{"range min", MotionCommand{Position: -12.5, Velocity: -44, Kp: 0, Kd: 0, Torque: -17}},
		{"range max", MotionCommand{Position: 12.5, Velocity: 44, Kp: 500, Kd: 5, Torque: 17}},
		{"mixed", MotionCommand{Position: -3.2, Velocity: 12.7, Kp: 123.4, Kd: 2.2, Torque: -6.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := EncodeMotionControl(1, tt.cmd)
			if !f.Extended {
				t.Fatal("motion control must be an extended frame")
			}
			motorID, got, err := DecodeMotionControl(f)
			if err != nil {
				t.Fatalf("DecodeMotionControl() error: %v", err)
			}
			if motorID != 1 {
				t.Errorf("motor ID = %d, want 1", motorID)
			}
			checkField(t, "position", got.Position, tt.cmd.Position, PosRange.Step(16))
			checkField(t, "velocity", got.Velocity, tt.cmd.Velocity, VelRange.Step(16))
			checkField(t, "kp", got.Kp, tt.cmd.Kp, KpRange.Step(16))
			checkField(t, "kd", got.Kd, tt.cmd.Kd, KdRange.Step(16))
			checkField(t, "torque", got.Torque, tt.cmd.Torque, TorqueRange.Step(16))
		})
	}
}

func checkField(t *testing.T, name string, got, want, step float64) {
	t.Helper()
	if diff := math.Abs(got - want); diff > step {
		t.Errorf("%s = %v, want %v within %v", name, got, want, step)
	}
}

func TestFeedbackRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		fb   Feedback
	}{
		{"idle", Feedback{Mode: MotorModeReset, Temperature: 24.5}},
		{"running", Feedback{Position: 1.5, Velocity: -2.0, Torque: 0.7, Temperature: 41.2, Mode: MotorModeRun}},
		{"faulted", Feedback{Position: 0.1, Fault: 0x04, Mode: MotorModeRun, Temperature: 80.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := EncodeFeedback(2, DefaultHostID, tt.fb)
			c, motorID, err := Identify(f)
			if err != nil {
				t.Fatalf("Identify() error: %v", err)
			}
			if c != CommFeedback || motorID != 2 {
				t.Fatalf("Identify() = (%v, %d), want (Feedback, 2)", c, motorID)
			}
			id, got, err := DecodeFeedback(f)
			if err != nil {
				t.Fatalf("DecodeFeedback() error: %v", err)
			}
			if id != 2 {
				t.Errorf("motor ID = %d, want 2", id)
			}
			if got.Fault != tt.fb.Fault {
				t.Errorf("fault = 0x%02X, want 0x%02X", got.Fault, tt.fb.Fault)
			}
			if got.Mode != tt.fb.Mode {
				t.Errorf("mode = %d, want %d", got.Mode, tt.fb.Mode)
			}
			checkField(t, "position", got.Position, tt.fb.Position, PosRange.Step(16))
			checkField(t, "velocity", got.Velocity, tt.fb.Velocity, VelRange.Step(16))
			checkField(t, "torque", got.Torque, tt.fb.Torque, TorqueRange.Step(16))
			checkField(t, "temperature", got.Temperature, tt.fb.Temperature, 0.1)
		})
	}
}

func TestParamReplyRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		addr  uint16
		value float64
	}{
		{"run mode uint8", ParamRunMode, 2},
		{"velocity target float", ParamSpdRef, -12.25},
		{"current limit float", ParamLimitCur, 10.0},
		{"position target float", ParamLocRef, 3.14159},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, ok := Lookup(tt.addr)
			if !ok {
				t.Fatalf("Lookup(0x%04X) not found", tt.addr)
			}
			f := EncodeParamReply(3, DefaultHostID, desc, tt.value)
			motorID, addr, value, err := DecodeParamReply(f)
			if err != nil {
				t.Fatalf("DecodeParamReply() error: %v", err)
			}
			if motorID != 3 || addr != tt.addr {
				t.Errorf("got motor %d addr 0x%04X, want 3/0x%04X", motorID, addr, tt.addr)
			}
			if math.Abs(value-tt.value) > 1e-4 {
				t.Errorf("value = %v, want %v", value, tt.value)
			}
		})
	}
}

func TestIdentifyUnknownType(t *testing.T) {
	f := frame.NewExtended(uint32(0x1F)<<24|uint32(DefaultHostID)<<8|1, nil, frame.Incoming)
	if _, _, err := Identify(f); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("Identify() error = %v, want ErrUnknownMessage", err)
	}
}

func TestDeviceIDReply(t *testing.T) {
	uid := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}
	f := frame.NewExtended(uint32(CommGetID)<<24|uint32(5)<<8|0xFE, uid, frame.Incoming)
	motorID, got, err := DecodeDeviceID(f)
	if err != nil {
		t.Fatalf("DecodeDeviceID() error: %v", err)
	}
	if motorID != 5 {
		t.Errorf("motor ID = %d, want 5", motorID)
	}
	for i := range uid {
		if got[i] != uid[i] {
			t.Fatalf("uid[%d] = 0x%02X, want 0x%02X", i, got[i], uid[i])
		}
	}
	c, id, err := Identify(f)
	if err != nil || c != CommGetID || id != 5 {
		t.Errorf("Identify() = (%v, %d, %v), want (GetID, 5, nil)", c, id, err)
	}
}

func TestStopFrameClearFault(t *testing.T) {
	f := EncodeStop(1, DefaultHostID, true)
	if f.Data[0] != 1 {
		t.Errorf("clear-fault byte = %d, want 1", f.Data[0])
	}
	f = EncodeStop(1, DefaultHostID, false)
	if f.Data[0] != 0 {
		t.Errorf("clear-fault byte = %d, want 0", f.Data[0])
	}
}

func TestFaultReportRoundTrip(t *testing.T) {
	f := EncodeFaultReport(7, DefaultHostID, 0x21)
	comm, motorID, err := Identify(f)
	if err != nil {
		t.Fatalf("Identify() error: %v", err)
	}
	if comm != CommFaultReport || motorID != 7 {
		t.Errorf("Identify() = (%v, %d), want (%v, 7)", comm, motorID, CommFaultReport)
	}
	id, fault, err := DecodeFaultReport(f)
	if err != nil {
		t.Fatalf("DecodeFaultReport() error: %v", err)
	}
	if id != 7 || fault != 0x21 {
		t.Errorf("DecodeFaultReport() = (%d, 0x%02X), want (7, 0x21)", id, fault)
	}
	if _, _, err := DecodeFaultReport(EncodeEnable(7, DefaultHostID)); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("DecodeFaultReport(enable frame) err = %v, want ErrMalformedFrame", err)
	}
}

func TestRegistryLookup(t *testing.T) {
	if _, ok := Lookup(0xDEAD); ok {
		t.Error("Lookup(0xDEAD) should not resolve")
	}
	desc, ok := Lookup(ParamMechPos)
	if !ok {
		t.Fatal("mech_pos missing from registry")
	}
	if !desc.ReadOnly {
		t.Error("mech_pos must be read only")
	}
	if d, ok := LookupName("limit_spd"); !ok || d.Addr != ParamLimitSpd {
		t.Errorf("LookupName(limit_spd) = (0x%04X, %v)", d.Addr, ok)
	}
}
