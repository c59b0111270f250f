package protocol

import "github.com/robstride/robstride-go/pkg/units"

// ParamType is the physical type a parameter is stored as on the motor.
type ParamType uint8

const (
	Float32 ParamType = iota
	Int16
	Int8
	Uint8
)

// Descriptor describes one addressable motor parameter.
type Descriptor struct {
	Addr     uint16
	Name     string
	Type     ParamType
	Range    units.Range
	ReadOnly bool
}

// Parameter addresses for the private protocol.
const (
	ParamModelID     uint16 = 0x0000
	ParamSerialLow   uint16 = 0x0001
	ParamFirmwareVer uint16 = 0x1000

	ParamRunMode       uint16 = 0x7005
	ParamIqRef         uint16 = 0x7006
	ParamSpdRef        uint16 = 0x700A
	ParamLimitTorque   uint16 = 0x700B
	ParamCurKp         uint16 = 0x7010
	ParamCurKi         uint16 = 0x7011
	ParamCurFiltGain   uint16 = 0x7014
	ParamLocRef        uint16 = 0x7016
	ParamLimitSpd      uint16 = 0x7017
	ParamLimitCur      uint16 = 0x7018
	ParamMechPos       uint16 = 0x7019
	ParamIqFilt        uint16 = 0x701A
	ParamMechVel       uint16 = 0x701B
	ParamVBus          uint16 = 0x701C
	ParamLocKp         uint16 = 0x701E
	ParamSpdKp         uint16 = 0x701F
	ParamSpdKi         uint16 = 0x7020
	ParamAcceleration  uint16 = 0x7022
	ParamVelMax        uint16 = 0x7024
	ParamAccSet        uint16 = 0x7025
)

const fourPi = 4 * 3.14159265358979

// registry is the immutable parameter table, built once at init and never
// mutated afterwards.
var registry = map[uint16]Descriptor{}

func register(d Descriptor) {
	if _, dup := registry[d.Addr]; dup {
		panic("duplicate parameter address")
	}
	registry[d.Addr] = d
}

func init() {
	for _, d := range []Descriptor{
		{Addr: ParamModelID, Name: "model_id", Type: Uint8, Range: units.Range{Min: 0, Max: 255}, ReadOnly: true},
		{Addr: ParamSerialLow, Name: "serial", Type: Uint8, Range: units.Range{Min: 0, Max: 255}, ReadOnly: true},
		{Addr: ParamFirmwareVer, Name: "fw_version", Type: Uint8, Range: units.Range{Min: 0, Max: 255}, ReadOnly: true},

		{Addr: ParamRunMode, Name: "run_mode", Type: Uint8, Range: units.Range{Min: 0, Max: 5}},
		{Addr: ParamIqRef, Name: "iq_ref", Type: Float32, Range: units.Range{Min: -23, Max: 23}},
		{Addr: ParamSpdRef, Name: "spd_ref", Type: Float32, Range: units.Range{Min: -30, Max: 30}},
		{Addr: ParamLimitTorque, Name: "limit_torque", Type: Float32, Range: units.Range{Min: 0, Max: 17}},
		{Addr: ParamCurKp, Name: "cur_kp", Type: Float32, Range: units.Range{Min: 0, Max: 200}},
		{Addr: ParamCurKi, Name: "cur_ki", Type: Float32, Range: units.Range{Min: 0, Max: 200}},
		{Addr: ParamCurFiltGain, Name: "cur_filt_gain", Type: Float32, Range: units.Range{Min: 0, Max: 1}},
		{Addr: ParamLocRef, Name: "loc_ref", Type: Float32, Range: units.Range{Min: -fourPi, Max: fourPi}},
		{Addr: ParamLimitSpd, Name: "limit_spd", Type: Float32, Range: units.Range{Min: 0, Max: 44}},
		{Addr: ParamLimitCur, Name: "limit_cur", Type: Float32, Range: units.Range{Min: 0, Max: 23}},
		{Addr: ParamMechPos, Name: "mech_pos", Type: Float32, Range: units.Range{Min: -fourPi, Max: fourPi}, ReadOnly: true},
		{Addr: ParamIqFilt, Name: "iq_filt", Type: Float32, Range: units.Range{Min: -23, Max: 23}, ReadOnly: true},
		{Addr: ParamMechVel, Name: "mech_vel", Type: Float32, Range: units.Range{Min: -44, Max: 44}, ReadOnly: true},
		{Addr: ParamVBus, Name: "vbus", Type: Float32, Range: units.Range{Min: 0, Max: 60}, ReadOnly: true},
		{Addr: ParamLocKp, Name: "loc_kp", Type: Float32, Range: units.Range{Min: 0, Max: 200}},
		{Addr: ParamSpdKp, Name: "spd_kp", Type: Float32, Range: units.Range{Min: 0, Max: 200}},
		{Addr: ParamSpdKi, Name: "spd_ki", Type: Float32, Range: units.Range{Min: 0, Max: 200}},
		{Addr: ParamAcceleration, Name: "acc_rad", Type: Float32, Range: units.Range{Min: 0, Max: 1000}},
		{Addr: ParamVelMax, Name: "vel_max", Type: Float32, Range: units.Range{Min: 0, Max: 44}},
		{Addr: ParamAccSet, Name: "acc_set", Type: Float32, Range: units.Range{Min: 0, Max: 1000}},
	} {
		register(d)
	}
}

// Lookup returns the descriptor for a parameter address.
func Lookup(addr uint16) (Descriptor, bool) {
	d, ok := registry[addr]
	return d, ok
}

// LookupName returns the descriptor with the given short name, as used by
// the CLI.
func LookupName(name string) (Descriptor, bool) {
	for _, d := range registry {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Parameters returns a copy of every descriptor in the registry.
func Parameters() []Descriptor {
	out := make([]Descriptor, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	return out
}
