package robstride

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go"
	log "github.com/sirupsen/logrus"

	"github.com/robstride/robstride-go/pkg/frame"
	"github.com/robstride/robstride-go/pkg/protocol"
	"github.com/robstride/robstride-go/pkg/units"
)

// Variant selects the wire protocol a motor speaks.
type Variant uint8

const (
	// Private is the vendor protocol: 29-bit identifiers, parameter table,
	// run modes.
	Private Variant = iota
	// MIT is the MIT Cheetah compatible protocol: 11-bit identifiers, magic
	// enable/disable payloads, motion control only.
	MIT
)

// lifecycle is the motor's connection state. Faulted is entered from Enabled
// when a status report carries a nonzero fault bitmask and left only through
// Disable with clearFault set.
type lifecycle uint8

const (
	stateDisconnected lifecycle = iota
	stateIdle
	stateEnabled
	stateFaulted
)

func (s lifecycle) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateIdle:
		return "idle"
	case stateEnabled:
		return "enabled"
	case stateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("lifecycle(%d)", uint8(s))
	}
}

// MotorState is the last observed snapshot for one motor. It is written only
// by the intake path; Status returns copies.
type MotorState struct {
	Position    float64 // rad
	Velocity    float64 // rad/s
	Torque      float64 // Nm
	Temperature float64 // deg C
	Fault       uint8   // nonzero while faulted
	RunMode     protocol.RunMode
	Enabled     bool
	Updated     time.Time
}

// StatusFunc receives state snapshots from the intake path. It runs on a
// per-motor dispatch goroutine, never on the intake loop itself.
type StatusFunc func(MotorState)

const (
	// DefaultTimeout bounds solicited operations unless overridden.
	DefaultTimeout = 1 * time.Second
	// statusQueueLen bounds how far a slow callback may lag before
	// snapshots are dropped for that motor.
	statusQueueLen = 16
)

// MotorOpt configures a Motor at creation.
type MotorOpt func(*Motor)

// WithHostID overrides the master controller ID packed into outgoing
// identifiers.
func WithHostID(hostID uint16) MotorOpt {
	return func(m *Motor) { m.hostID = hostID }
}

// WithTimeout overrides the default reply deadline.
func WithTimeout(d time.Duration) MotorOpt {
	return func(m *Motor) { m.timeout = d }
}

// WithMIT switches the motor to the MIT compatible protocol.
func WithMIT() MotorOpt {
	return func(m *Motor) { m.variant = MIT }
}

// Motor drives a single servo on the bus. All methods are safe for
// concurrent use; solicited operations block the caller until the matching
// reply arrives or the deadline elapses.
type Motor struct {
	c       *Client
	id      uint8
	hostID  uint16
	variant Variant
	timeout time.Duration

	mu       sync.Mutex
	lc       lifecycle
	runMode  protocol.RunMode
	state    MotorState
	uid      [8]byte
	haveUID  bool
	callback StatusFunc

	statusChan chan MotorState
}

func newMotor(c *Client, id uint8, opts ...MotorOpt) *Motor {
	m := &Motor{
		c:          c,
		id:         id,
		hostID:     protocol.DefaultHostID,
		timeout:    DefaultTimeout,
		statusChan: make(chan MotorState, statusQueueLen),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.dispatchStatus()
	return m
}

// ID returns the motor's node ID on the bus.
func (m *Motor) ID() uint8 {
	return m.id
}

// Connect performs the device handshake. For the private protocol this is
// the unique ID query, retried a few times since a freshly powered motor can
// miss the first frame. The MIT protocol defines no handshake, so Connect
// just marks the motor reachable.
func (m *Motor) Connect(ctx context.Context) error {
	if m.variant == MIT {
		m.mu.Lock()
		if m.lc == stateDisconnected {
			m.lc = stateIdle
		}
		m.mu.Unlock()
		return nil
	}
	err := retry.Do(
		func() error {
			reply, err := m.request(ctx, protocol.EncodeGetID(m.id, m.hostID), protocol.CommGetID, m.timeout, "handshake")
			if err != nil {
				return err
			}
			_, uid, err := protocol.DecodeDeviceID(reply)
			if err != nil {
				return err
			}
			m.mu.Lock()
			m.uid = uid
			m.haveUID = true
			if m.lc == stateDisconnected {
				m.lc = stateIdle
			}
			m.mu.Unlock()
			return nil
		},
		retry.Attempts(3),
		retry.Delay(50*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("motor %d handshake failed: %w", m.id, err)
	}
	log.WithFields(log.Fields{"motor": m.id, "uid": fmt.Sprintf("%X", m.UniqueID())}).Info("motor connected")
	return nil
}

// UniqueID returns the 64-bit MCU identifier captured during the handshake,
// or nil before Connect succeeds.
func (m *Motor) UniqueID() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.haveUID {
		return nil
	}
	out := make([]byte, len(m.uid))
	copy(out, m.uid[:])
	return out
}

// Enable powers the control loop. Valid from Idle; a faulted motor must be
// cleared through Disable(true) first. The private protocol defines enable
// as fire-and-forget; the MIT protocol acknowledges with a feedback frame.
func (m *Motor) Enable(ctx context.Context) error {
	m.mu.Lock()
	switch m.lc {
	case stateDisconnected:
		m.mu.Unlock()
		return ErrNotConnected
	case stateFaulted:
		fault := m.state.Fault
		m.mu.Unlock()
		return &MotorFaultError{MotorID: m.id, Fault: fault}
	case stateEnabled:
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if m.variant == MIT {
		if _, err := m.request(ctx, protocol.EncodeMITEnable(m.id), protocol.CommFeedback, m.timeout, "enable"); err != nil {
			return err
		}
	} else {
		if err := m.c.Send(protocol.EncodeEnable(m.id, m.hostID)); err != nil {
			return err
		}
	}
	// A fault can land while the enable frame is in flight; never stomp it
	// back to Enabled.
	m.mu.Lock()
	if m.lc == stateFaulted || m.state.Fault != 0 {
		fault := m.state.Fault
		m.lc = stateFaulted
		m.mu.Unlock()
		return &MotorFaultError{MotorID: m.id, Fault: fault}
	}
	m.lc = stateEnabled
	m.state.Enabled = true
	m.mu.Unlock()
	log.WithField("motor", m.id).Info("enabled")
	return nil
}

// Disable stops the control loop and returns the motor to Idle. With
// clearFault set, latched fault bits are cleared as well; this is the only
// way out of the Faulted state.
func (m *Motor) Disable(ctx context.Context, clearFault bool) error {
	m.mu.Lock()
	if m.lc == stateDisconnected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	m.mu.Unlock()

	var f *frame.CANFrame
	if m.variant == MIT {
		f = protocol.EncodeMITDisable(m.id)
	} else {
		f = protocol.EncodeStop(m.id, m.hostID, clearFault)
	}
	if err := m.c.Send(f); err != nil {
		return err
	}
	m.mu.Lock()
	if m.lc != stateFaulted || clearFault {
		m.lc = stateIdle
		if clearFault {
			m.state.Fault = 0
		}
	}
	m.state.Enabled = false
	m.mu.Unlock()
	log.WithField("motor", m.id).Info("disabled")
	return nil
}

// SetRunMode selects the control loop. The firmware only accepts the write
// while the motor is disabled.
func (m *Motor) SetRunMode(ctx context.Context, mode protocol.RunMode) error {
	if m.variant == MIT {
		return protocol.ErrProtocolMismatch
	}
	m.mu.Lock()
	switch m.lc {
	case stateDisconnected:
		m.mu.Unlock()
		return ErrNotConnected
	case stateEnabled:
		m.mu.Unlock()
		return fmt.Errorf("%w: run mode must be set while disabled", ErrInvalidStateTransition)
	}
	m.mu.Unlock()

	if err := m.WriteParameter(ctx, protocol.ParamRunMode, float64(mode), m.timeout); err != nil {
		return err
	}
	m.mu.Lock()
	m.runMode = mode
	m.state.RunMode = mode
	m.mu.Unlock()
	return nil
}

// RunMode returns the last commanded run mode.
func (m *Motor) RunMode() protocol.RunMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runMode
}

// MotionControl streams a combined PD plus feedforward torque setpoint.
// Valid only while Enabled in the motion control run mode. Unlike the codec,
// which saturates, a direct setpoint outside its declared bounds is rejected
// before anything reaches the bus.
func (m *Motor) MotionControl(cmd protocol.MotionCommand) error {
	m.mu.Lock()
	switch {
	case m.lc == stateDisconnected:
		m.mu.Unlock()
		return ErrNotConnected
	case m.lc != stateEnabled:
		m.mu.Unlock()
		return fmt.Errorf("%w: motion control requires an enabled motor", ErrInvalidStateTransition)
	case m.variant == Private && m.runMode != protocol.ModeMotionControl:
		mode := m.runMode
		m.mu.Unlock()
		return fmt.Errorf("%w: motion control not valid in %s mode", ErrWrongRunMode, mode)
	}
	m.mu.Unlock()

	posR, velR, kpR, kdR, tR := protocol.PosRange, protocol.VelRange, protocol.KpRange, protocol.KdRange, protocol.TorqueRange
	if m.variant == MIT {
		posR, velR, kpR, kdR, tR = protocol.MITPosRange, protocol.MITVelRange, protocol.MITKpRange, protocol.MITKdRange, protocol.MITTorqueRange
	}
	for _, check := range []struct {
		name  string
		value float64
		r     units.Range
	}{
		{"position", cmd.Position, posR},
		{"velocity", cmd.Velocity, velR},
		{"kp", cmd.Kp, kpR},
		{"kd", cmd.Kd, kdR},
		{"torque", cmd.Torque, tR},
	} {
		if !check.r.Contains(check.value) {
			return &ParameterOutOfRangeError{Name: check.name, Value: check.value, Min: check.r.Min, Max: check.r.Max}
		}
	}

	if m.variant == MIT {
		return m.c.Send(protocol.EncodeMITMotionControl(m.id, cmd))
	}
	return m.c.Send(protocol.EncodeMotionControl(m.id, cmd))
}

// SetPositionReference commands a position target. Valid in the position and
// CSP run modes. A non-nil speedLimit updates the velocity limit first.
func (m *Motor) SetPositionReference(ctx context.Context, pos float64, speedLimit *float64) error {
	if err := m.requireMode(protocol.ModePosition, protocol.ModeCSP); err != nil {
		return err
	}
	if speedLimit != nil {
		if err := m.WriteParameter(ctx, protocol.ParamLimitSpd, *speedLimit, m.timeout); err != nil {
			return err
		}
	}
	return m.WriteParameter(ctx, protocol.ParamLocRef, pos, m.timeout)
}

// SetVelocityReference commands a velocity target. Valid in the velocity run
// mode. A non-nil currentLimit updates the current limit first.
func (m *Motor) SetVelocityReference(ctx context.Context, vel float64, currentLimit *float64) error {
	if err := m.requireMode(protocol.ModeVelocity); err != nil {
		return err
	}
	if currentLimit != nil {
		if err := m.WriteParameter(ctx, protocol.ParamLimitCur, *currentLimit, m.timeout); err != nil {
			return err
		}
	}
	return m.WriteParameter(ctx, protocol.ParamSpdRef, vel, m.timeout)
}

// SetCurrentReference commands a current target. Valid in the current run
// mode.
func (m *Motor) SetCurrentReference(ctx context.Context, current float64) error {
	if err := m.requireMode(protocol.ModeCurrent); err != nil {
		return err
	}
	return m.WriteParameter(ctx, protocol.ParamIqRef, current, m.timeout)
}

func (m *Motor) requireMode(modes ...protocol.RunMode) error {
	if m.variant == MIT {
		return protocol.ErrProtocolMismatch
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lc == stateDisconnected {
		return ErrNotConnected
	}
	if m.lc != stateEnabled {
		return fmt.Errorf("%w: reference setpoints require an enabled motor", ErrInvalidStateTransition)
	}
	for _, want := range modes {
		if m.runMode == want {
			return nil
		}
	}
	return fmt.Errorf("%w: active mode is %s", ErrWrongRunMode, m.runMode)
}

// ReadParameter reads a single parameter and blocks until the motor answers
// or the timeout elapses.
func (m *Motor) ReadParameter(ctx context.Context, addr uint16, timeout time.Duration) (float64, error) {
	if m.variant == MIT {
		return 0, protocol.ErrProtocolMismatch
	}
	if _, ok := protocol.Lookup(addr); !ok {
		return 0, fmt.Errorf("%w: 0x%04X", ErrUnknownParameter, addr)
	}
	m.mu.Lock()
	if m.lc == stateDisconnected {
		m.mu.Unlock()
		return 0, ErrNotConnected
	}
	m.mu.Unlock()
	if timeout <= 0 {
		timeout = m.timeout
	}
	reply, err := m.request(ctx, protocol.EncodeReadParam(m.id, m.hostID, addr), protocol.CommReadParam, timeout, fmt.Sprintf("read 0x%04X", addr))
	if err != nil {
		return 0, err
	}
	_, gotAddr, value, err := protocol.DecodeParamReply(reply)
	if err != nil {
		return 0, err
	}
	if gotAddr != addr {
		return 0, fmt.Errorf("%w: reply for 0x%04X, asked for 0x%04X", protocol.ErrMalformedFrame, gotAddr, addr)
	}
	return value, nil
}

// WriteParameter validates value against the registry descriptor and writes
// it. The protocol defines no write acknowledgment, so success means the
// frame was handed to the transport. Writes to read-only descriptors and out
// of range values are rejected before anything is sent.
func (m *Motor) WriteParameter(ctx context.Context, addr uint16, value float64, timeout time.Duration) error {
	if m.variant == MIT {
		return protocol.ErrProtocolMismatch
	}
	desc, ok := protocol.Lookup(addr)
	if !ok {
		return fmt.Errorf("%w: 0x%04X", ErrUnknownParameter, addr)
	}
	if desc.ReadOnly {
		return fmt.Errorf("%w: %s (0x%04X)", ErrReadOnlyParameter, desc.Name, addr)
	}
	if !desc.Range.Contains(value) {
		return &ParameterOutOfRangeError{Name: desc.Name, Value: value, Min: desc.Range.Min, Max: desc.Range.Max}
	}
	m.mu.Lock()
	if m.lc == stateDisconnected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	m.mu.Unlock()
	return m.c.Send(protocol.EncodeWriteParam(m.id, m.hostID, desc, value))
}

// SetZeroPosition declares the current mechanical position as zero.
func (m *Motor) SetZeroPosition(ctx context.Context) error {
	m.mu.Lock()
	lc := m.lc
	m.mu.Unlock()
	if lc == stateDisconnected {
		return ErrNotConnected
	}
	if m.variant == MIT {
		_, err := m.request(ctx, protocol.EncodeMITZero(m.id), protocol.CommFeedback, m.timeout, "set zero")
		return err
	}
	return m.c.Send(protocol.EncodeSetZero(m.id, m.hostID))
}

// SaveConfiguration persists the current parameter set to the motor's
// flash. The protocol defines no acknowledgment; success means the command
// was sent.
func (m *Motor) SaveConfiguration(ctx context.Context) error {
	if m.variant == MIT {
		return protocol.ErrProtocolMismatch
	}
	m.mu.Lock()
	lc := m.lc
	m.mu.Unlock()
	if lc == stateDisconnected {
		return ErrNotConnected
	}
	return m.c.Send(protocol.EncodeSaveConfig(m.id, m.hostID))
}

// SetActiveReport toggles motor-initiated periodic status frames.
func (m *Motor) SetActiveReport(ctx context.Context, on bool) error {
	if m.variant == MIT {
		return protocol.ErrProtocolMismatch
	}
	m.mu.Lock()
	lc := m.lc
	m.mu.Unlock()
	if lc == stateDisconnected {
		return ErrNotConnected
	}
	return m.c.Send(protocol.EncodeActiveReport(m.id, m.hostID, on))
}

// Status returns the last observed state snapshot without touching the bus.
func (m *Motor) Status() MotorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// FreshStatus requests a status report and blocks until it arrives or the
// timeout elapses. The private protocol solicits one with an empty feedback
// request frame; under MIT any command is acknowledged with feedback, so a
// zero-gain motion frame is used.
func (m *Motor) FreshStatus(ctx context.Context, timeout time.Duration) (MotorState, error) {
	m.mu.Lock()
	if m.lc == stateDisconnected {
		m.mu.Unlock()
		return MotorState{}, ErrNotConnected
	}
	m.mu.Unlock()
	if timeout <= 0 {
		timeout = m.timeout
	}
	var f *frame.CANFrame
	if m.variant == MIT {
		f = protocol.EncodeMITMotionControl(m.id, protocol.MotionCommand{})
	} else {
		f = frame.NewExtended(protocol.PackID(protocol.CommFeedback, m.hostID, m.id), nil, frame.Outgoing)
	}
	if _, err := m.request(ctx, f, protocol.CommFeedback, timeout, "status"); err != nil {
		return MotorState{}, err
	}
	return m.Status(), nil
}

// OnStatus registers the status callback for this motor. At most one
// callback is active; the last registration wins and nil unregisters.
func (m *Motor) OnStatus(fn StatusFunc) {
	m.mu.Lock()
	m.callback = fn
	m.mu.Unlock()
}

// Close detaches the motor from the client, stopping an enabled control
// loop best-effort first. The underlying transport is owned by the client
// and stays open.
func (m *Motor) Close() {
	m.mu.Lock()
	enabled := m.lc == stateEnabled
	m.mu.Unlock()
	if enabled {
		var f *frame.CANFrame
		if m.variant == MIT {
			f = protocol.EncodeMITDisable(m.id)
		} else {
			f = protocol.EncodeStop(m.id, m.hostID, false)
		}
		if err := m.c.Send(f); err != nil {
			log.WithError(err).WithField("motor", m.id).Warn("disable on close failed")
		}
	}
	m.c.hub.detach(m.id)
}

// request issues a solicited frame: the pending slot is claimed before
// transmission so a fast reply cannot race the registration.
func (m *Motor) request(ctx context.Context, f *frame.CANFrame, comm protocol.CommType, timeout time.Duration, op string) (*frame.CANFrame, error) {
	key := pendingKey{motorID: m.id, comm: comm}
	ch, err := m.c.hub.claim(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, op)
	}
	defer m.c.hub.release(key, ch)

	if err := m.c.Send(f); err != nil {
		return nil, err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		return reply, nil
	case <-timer.C:
		return nil, &TimeoutError{MotorID: m.id, Op: op, Timeout: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleStatus folds an incoming status report into the snapshot and hands
// it to the dispatch queue. Runs on the intake goroutine; must not block.
func (m *Motor) handleStatus(f *frame.CANFrame) {
	var (
		st    MotorState
		fault uint8
	)
	if m.variant == MIT {
		_, fb, err := protocol.DecodeMITFeedback(f)
		if err != nil {
			log.WithError(err).WithField("motor", m.id).Debug("bad MIT feedback")
			return
		}
		m.mu.Lock()
		m.state.Position = fb.Position
		m.state.Velocity = fb.Velocity
		m.state.Torque = fb.Current // MIT reports bus current, closest analog
		m.state.Temperature = fb.Temperature
		m.state.Updated = time.Now()
		st = m.state
		m.mu.Unlock()
	} else if comm, _, _ := protocol.UnpackID(f.Identifier); comm == protocol.CommFaultReport {
		_, fbits, err := protocol.DecodeFaultReport(f)
		if err != nil {
			log.WithError(err).WithField("motor", m.id).Debug("bad fault report")
			return
		}
		m.mu.Lock()
		m.state.Fault = fbits
		m.state.Updated = time.Now()
		if fbits != 0 && m.lc == stateEnabled {
			m.lc = stateFaulted
		}
		st = m.state
		fault = fbits
		m.mu.Unlock()
	} else {
		_, fb, err := protocol.DecodeFeedback(f)
		if err != nil {
			log.WithError(err).WithField("motor", m.id).Debug("bad feedback")
			return
		}
		m.mu.Lock()
		m.state.Position = fb.Position
		m.state.Velocity = fb.Velocity
		m.state.Torque = fb.Torque
		m.state.Temperature = fb.Temperature
		m.state.Fault = fb.Fault
		m.state.Updated = time.Now()
		if fb.Fault != 0 && m.lc == stateEnabled {
			m.lc = stateFaulted
		}
		st = m.state
		fault = fb.Fault
		m.mu.Unlock()
	}
	if fault != 0 {
		log.WithFields(log.Fields{"motor": m.id, "fault": fmt.Sprintf("0x%02X", fault)}).Warn("motor reported fault")
	}
	select {
	case m.statusChan <- st:
	default:
		log.WithField("motor", m.id).Debug("status queue full, snapshot dropped")
	}
}

// dispatchStatus delivers snapshots to the registered callback. A slow
// callback only ever stalls its own motor's queue.
func (m *Motor) dispatchStatus() {
	for {
		select {
		case <-m.c.closed:
			return
		case st := <-m.statusChan:
			m.mu.Lock()
			fn := m.callback
			m.mu.Unlock()
			if fn != nil {
				fn(st)
			}
		}
	}
}
