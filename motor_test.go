package robstride

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/robstride/robstride-go/pkg/frame"
	"github.com/robstride/robstride-go/pkg/protocol"
)

// fakeBus plays the motor side of the virtual bus the way the firmware
// would, for any number of motor IDs.
type fakeBus struct {
	bus    *Virtual
	params map[uint16]float64

	mu     sync.Mutex
	silent bool
}

func newFakeBus(bus *Virtual) *fakeBus {
	return &fakeBus{
		bus: bus,
		params: map[uint16]float64{
			protocol.ParamRunMode:  0,
			protocol.ParamSpdRef:   0,
			protocol.ParamLimitCur: 23,
		},
	}
}

func (fb *fakeBus) setSilent(on bool) {
	fb.mu.Lock()
	fb.silent = on
	fb.mu.Unlock()
}

func (fb *fakeBus) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-fb.bus.Outgoing():
			fb.mu.Lock()
			silent := fb.silent
			fb.mu.Unlock()
			if silent {
				continue
			}
			fb.answer(f)
		}
	}
}

func (fb *fakeBus) answer(f *frame.CANFrame) {
	if !f.Extended {
		// MIT side of the bus: ack every command with a feedback frame.
		fb.bus.Inject(protocol.EncodeMITFeedback(uint8(f.Identifier), protocol.MITFeedback{
			Position: 1.0, Velocity: 0.0, Current: 0.5, Temperature: 31,
		}))
		return
	}
	comm, _, motorID := protocol.UnpackID(f.Identifier)
	switch comm {
	case protocol.CommGetID:
		uid := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x00, 0x00, motorID}
		reply := frame.NewExtended(uint32(protocol.CommGetID)<<24|uint32(motorID)<<8|0xFE, uid, frame.Incoming)
		fb.bus.Inject(reply)
	case protocol.CommReadParam:
		addr := uint16(f.Data[0]) | uint16(f.Data[1])<<8
		desc, ok := protocol.Lookup(addr)
		if !ok {
			return
		}
		fb.bus.Inject(protocol.EncodeParamReply(motorID, protocol.DefaultHostID, desc, fb.params[addr]))
	case protocol.CommFeedback:
		fb.bus.Inject(protocol.EncodeFeedback(motorID, protocol.DefaultHostID, protocol.Feedback{
			Position: 0.5, Velocity: 0.1, Torque: 0.0, Temperature: 30, Mode: protocol.MotorModeRun,
		}))
	}
}

func newTestClient(t *testing.T) (*Client, *Virtual, *fakeBus, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	v := NewVirtual(&AdapterConfig{})
	c, err := New(ctx, v)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	fb := newFakeBus(v)
	go fb.run(ctx)
	return c, v, fb, ctx
}

func connectMotor(t *testing.T, c *Client, ctx context.Context, id uint8) *Motor {
	t.Helper()
	m := c.Motor(id, WithTimeout(200*time.Millisecond))
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	return m
}

func TestMotorLifecycle(t *testing.T) {
	Convey("Given a connected motor on a virtual bus", t, func() {
		c, _, _, ctx := newTestClient(t)
		m := connectMotor(t, c, ctx, 1)

		Convey("the handshake captured the unique ID", func() {
			So(m.UniqueID(), ShouldNotBeNil)
			So(m.UniqueID()[7], ShouldEqual, 1)
		})

		Convey("motion control before enabling fails with a state error", func() {
			err := m.MotionControl(protocol.MotionCommand{Position: 1})
			So(errors.Is(err, ErrInvalidStateTransition), ShouldBeTrue)
		})

		Convey("run mode cannot change while enabled", func() {
			So(m.Enable(ctx), ShouldBeNil)
			err := m.SetRunMode(ctx, protocol.ModeVelocity)
			So(errors.Is(err, ErrInvalidStateTransition), ShouldBeTrue)
		})

		Convey("after enabling in motion mode, setpoints flow", func() {
			So(m.SetRunMode(ctx, protocol.ModeMotionControl), ShouldBeNil)
			So(m.Enable(ctx), ShouldBeNil)
			So(m.MotionControl(protocol.MotionCommand{Position: 1, Kp: 50, Kd: 1}), ShouldBeNil)

			Convey("but an out of range setpoint is rejected before the bus", func() {
				err := m.MotionControl(protocol.MotionCommand{Position: 99})
				var oor *ParameterOutOfRangeError
				So(errors.As(err, &oor), ShouldBeTrue)
				So(oor.Name, ShouldEqual, "position")
			})

			Convey("and velocity references fail in motion mode", func() {
				err := m.SetVelocityReference(ctx, 2.0, nil)
				So(errors.Is(err, ErrWrongRunMode), ShouldBeTrue)
			})
		})

		Convey("velocity mode accepts velocity references", func() {
			So(m.SetRunMode(ctx, protocol.ModeVelocity), ShouldBeNil)
			So(m.Enable(ctx), ShouldBeNil)
			limit := 10.0
			So(m.SetVelocityReference(ctx, 2.0, &limit), ShouldBeNil)
		})
	})
}

func TestMotorNotConnected(t *testing.T) {
	Convey("Given a motor that never handshook", t, func() {
		c, _, _, ctx := newTestClient(t)
		m := c.Motor(7, WithTimeout(50*time.Millisecond))

		Convey("enable fails with NotConnected", func() {
			So(errors.Is(m.Enable(ctx), ErrNotConnected), ShouldBeTrue)
		})
		Convey("parameter reads fail with NotConnected", func() {
			_, err := m.ReadParameter(ctx, protocol.ParamSpdRef, 0)
			So(errors.Is(err, ErrNotConnected), ShouldBeTrue)
		})
	})
}

func TestParameterValidation(t *testing.T) {
	Convey("Given a connected motor", t, func() {
		c, _, _, ctx := newTestClient(t)
		m := connectMotor(t, c, ctx, 1)

		Convey("writing a read-only parameter fails before the bus", func() {
			err := m.WriteParameter(ctx, protocol.ParamMechPos, 1.0, 0)
			So(errors.Is(err, ErrReadOnlyParameter), ShouldBeTrue)
		})

		Convey("writing outside the descriptor range fails", func() {
			err := m.WriteParameter(ctx, protocol.ParamLimitCur, 99, 0)
			var oor *ParameterOutOfRangeError
			So(errors.As(err, &oor), ShouldBeTrue)
		})

		Convey("an unknown address fails", func() {
			_, err := m.ReadParameter(ctx, 0xDEAD, 0)
			So(errors.Is(err, ErrUnknownParameter), ShouldBeTrue)
		})

		Convey("a valid read round-trips through the bus", func() {
			got, err := m.ReadParameter(ctx, protocol.ParamLimitCur, 0)
			So(err, ShouldBeNil)
			So(got, ShouldAlmostEqual, 23, 0.001)
		})
	})
}

func TestPendingRequestBusy(t *testing.T) {
	Convey("Given a motor whose bus never answers", t, func() {
		c, _, fb, ctx := newTestClient(t)
		m := connectMotor(t, c, ctx, 1)
		fb.setSilent(true)

		Convey("a second read of the same type while one is in flight is rejected", func() {
			done := make(chan error, 1)
			go func() {
				_, err := m.ReadParameter(ctx, protocol.ParamSpdRef, 150*time.Millisecond)
				done <- err
			}()
			time.Sleep(20 * time.Millisecond)
			_, err := m.ReadParameter(ctx, protocol.ParamLimitCur, 50*time.Millisecond)
			So(errors.Is(err, ErrBusy), ShouldBeTrue)
			So(IsTimeout(<-done), ShouldBeTrue)
		})
	})
}

func TestReadTimeoutAndLateReply(t *testing.T) {
	Convey("Given a motor whose bus never answers", t, func() {
		c, v, fb, ctx := newTestClient(t)
		m := connectMotor(t, c, ctx, 1)
		fb.setSilent(true)

		Convey("a 50ms read fails with a timeout in roughly 50ms", func() {
			start := time.Now()
			_, err := m.ReadParameter(ctx, protocol.ParamSpdRef, 50*time.Millisecond)
			elapsed := time.Since(start)
			So(IsTimeout(err), ShouldBeTrue)
			So(elapsed, ShouldBeGreaterThanOrEqualTo, 50*time.Millisecond)
			So(elapsed, ShouldBeLessThan, 100*time.Millisecond)

			Convey("and a late reply is dropped without corrupting state", func() {
				desc, _ := protocol.Lookup(protocol.ParamSpdRef)
				v.Inject(protocol.EncodeParamReply(1, protocol.DefaultHostID, desc, 42))
				time.Sleep(20 * time.Millisecond)
				So(m.Status().Velocity, ShouldAlmostEqual, 0, 0.01)

				Convey("and the pending slot is free for the next request", func() {
					fb.setSilent(false)
					got, err := m.ReadParameter(ctx, protocol.ParamSpdRef, 200*time.Millisecond)
					So(err, ShouldBeNil)
					So(got, ShouldAlmostEqual, 0, 0.001)
				})
			})
		})
	})
}

func TestFaultRouting(t *testing.T) {
	Convey("Given two enabled motors on one bus", t, func() {
		c, v, _, ctx := newTestClient(t)
		m1 := connectMotor(t, c, ctx, 1)
		m2 := connectMotor(t, c, ctx, 2)
		So(m1.Enable(ctx), ShouldBeNil)
		So(m2.Enable(ctx), ShouldBeNil)

		faults := make(chan MotorState, 1)
		m2.OnStatus(func(st MotorState) {
			if st.Fault != 0 {
				select {
				case faults <- st:
				default:
				}
			}
		})

		Convey("a fault status frame for motor 2 reaches only motor 2", func() {
			v.Inject(protocol.EncodeFeedback(2, protocol.DefaultHostID, protocol.Feedback{
				Fault: 0x04, Mode: protocol.MotorModeRun, Temperature: 55,
			}))

			var got MotorState
			select {
			case got = <-faults:
			case <-time.After(time.Second):
				t.Fatal("fault callback never fired")
			}
			So(got.Fault, ShouldEqual, 0x04)
			So(m2.Status().Fault, ShouldEqual, 0x04)
			So(m1.Status().Fault, ShouldEqual, 0)

			Convey("enabling the faulted motor without clearing fails", func() {
				So(m2.Disable(ctx, false), ShouldBeNil)
				So(m2.Status().Fault, ShouldEqual, 0x04)
				var mf *MotorFaultError
				err := m2.Enable(ctx)
				So(errors.As(err, &mf), ShouldBeTrue)
				So(mf.Fault, ShouldEqual, 0x04)
			})

			Convey("disable with clear recovers to idle and enable works again", func() {
				So(m2.Disable(ctx, true), ShouldBeNil)
				So(m2.Status().Fault, ShouldEqual, 0)
				So(m2.Enable(ctx), ShouldBeNil)
			})
		})
	})
}

func TestFreshStatus(t *testing.T) {
	Convey("Given a connected motor", t, func() {
		c, _, _, ctx := newTestClient(t)
		m := connectMotor(t, c, ctx, 1)

		Convey("a fresh status read solicits a report", func() {
			st, err := m.FreshStatus(ctx, 200*time.Millisecond)
			So(err, ShouldBeNil)
			So(st.Position, ShouldAlmostEqual, 0.5, protocol.PosRange.Step(16))
			So(st.Updated.IsZero(), ShouldBeFalse)
		})
	})
}

func TestMITMotor(t *testing.T) {
	Convey("Given an MIT protocol motor", t, func() {
		c, _, _, ctx := newTestClient(t)
		m := c.Motor(9, WithMIT(), WithTimeout(200*time.Millisecond))
		So(m.Connect(ctx), ShouldBeNil)

		Convey("enable waits for the acknowledgment feedback", func() {
			So(m.Enable(ctx), ShouldBeNil)

			Convey("motion control works without a run mode", func() {
				So(m.MotionControl(protocol.MotionCommand{Position: 1, Kp: 10}), ShouldBeNil)
			})

			Convey("the ack updated the snapshot", func() {
				st := m.Status()
				So(st.Position, ShouldAlmostEqual, 1.0, protocol.MITPosRange.Step(16))
			})
		})

		Convey("parameter operations are a protocol mismatch", func() {
			_, err := m.ReadParameter(ctx, protocol.ParamSpdRef, 0)
			So(errors.Is(err, protocol.ErrProtocolMismatch), ShouldBeTrue)
		})
	})
}

func TestFaultReportFrame(t *testing.T) {
	Convey("Given an enabled motor", t, func() {
		c, v, _, ctx := newTestClient(t)
		m := connectMotor(t, c, ctx, 1)
		So(m.Enable(ctx), ShouldBeNil)

		faults := make(chan MotorState, 1)
		m.OnStatus(func(st MotorState) {
			if st.Fault != 0 {
				select {
				case faults <- st:
				default:
				}
			}
		})

		Convey("a dedicated fault report frame reaches the state machine", func() {
			v.Inject(protocol.EncodeFaultReport(1, protocol.DefaultHostID, 0x08))

			var got MotorState
			select {
			case got = <-faults:
			case <-time.After(time.Second):
				t.Fatal("fault callback never fired")
			}
			So(got.Fault, ShouldEqual, 0x08)
			So(m.Status().Fault, ShouldEqual, 0x08)

			Convey("and the motor is faulted until cleared", func() {
				var mf *MotorFaultError
				So(errors.As(m.Enable(ctx), &mf), ShouldBeTrue)
				So(m.Disable(ctx, true), ShouldBeNil)
				So(m.Enable(ctx), ShouldBeNil)
			})
		})
	})
}

func TestEnableWithLatchedFault(t *testing.T) {
	Convey("Given an idle motor that reported a fault", t, func() {
		c, v, _, ctx := newTestClient(t)
		m := connectMotor(t, c, ctx, 1)

		v.Inject(protocol.EncodeFaultReport(1, protocol.DefaultHostID, 0x04))
		deadline := time.Now().Add(time.Second)
		for m.Status().Fault == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		So(m.Status().Fault, ShouldEqual, 0x04)

		Convey("enable refuses and lands the motor in the faulted state", func() {
			var mf *MotorFaultError
			err := m.Enable(ctx)
			So(errors.As(err, &mf), ShouldBeTrue)
			So(mf.Fault, ShouldEqual, 0x04)

			Convey("clearing through disable makes enable work again", func() {
				So(m.Disable(ctx, true), ShouldBeNil)
				So(m.Enable(ctx), ShouldBeNil)
			})
		})
	})
}

func TestAdapterFatalError(t *testing.T) {
	Convey("Given a client whose adapter hit a fatal error", t, func() {
		c, v, _, _ := newTestClient(t)
		boom := errors.New("bus gone")
		v.Fatal(boom)

		Convey("an Err reader and a sender both observe the error", func() {
			select {
			case err := <-c.Err():
				So(err, ShouldEqual, boom)
			case <-time.After(time.Second):
				t.Fatal("Err never delivered the adapter error")
			}
			So(c.Send(frame.NewExtended(0x100, nil, frame.Outgoing)), ShouldEqual, boom)
		})
	})
}
