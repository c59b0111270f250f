package robstride

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConnected is returned by operations that need a completed
	// handshake while the motor is still Disconnected.
	ErrNotConnected = errors.New("motor not connected")
	// ErrInvalidStateTransition is returned when an operation is not legal
	// in the motor's current lifecycle state.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrWrongRunMode is returned by reference setters when the matching run
	// mode is not active.
	ErrWrongRunMode = errors.New("wrong run mode")
	// ErrReadOnlyParameter is returned by parameter writes against a
	// read-only descriptor.
	ErrReadOnlyParameter = errors.New("parameter is read only")
	// ErrBusy is returned when a request of the same communication type is
	// already outstanding for the motor.
	ErrBusy = errors.New("request of this type already pending")
	// ErrSendTimeout is returned when the adapter's transmit queue stays
	// full.
	ErrSendTimeout = errors.New("timeout sending frame")
	// ErrClosed is returned after the client has been shut down.
	ErrClosed = errors.New("client closed")
	// ErrUnknownParameter is returned for addresses missing from the
	// parameter registry.
	ErrUnknownParameter = errors.New("unknown parameter address")
)

// ParameterOutOfRangeError reports a setpoint or parameter value outside its
// declared bounds. Validation happens before any frame is sent.
type ParameterOutOfRangeError struct {
	Name     string
	Value    float64
	Min, Max float64
}

func (e *ParameterOutOfRangeError) Error() string {
	return fmt.Sprintf("%s must be between %g and %g, got %g", e.Name, e.Min, e.Max, e.Value)
}

// TimeoutError reports that no matching reply arrived within the deadline.
type TimeoutError struct {
	MotorID uint8
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("motor %d: %s timed out after %s", e.MotorID, e.Op, e.Timeout)
}

// IsTimeout reports whether err is a reply timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// MotorFaultError carries the fault bitmask decoded from a status report.
// It is surfaced to callers and never auto-cleared; recovery requires an
// explicit Disable with clearFault set.
type MotorFaultError struct {
	MotorID uint8
	Fault   uint8
}

func (e *MotorFaultError) Error() string {
	return fmt.Sprintf("motor %d faulted (fault bits 0x%02X)", e.MotorID, e.Fault)
}
