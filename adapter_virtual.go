package robstride

import (
	"context"

	"github.com/robstride/robstride-go/pkg/frame"
)

// Virtual is an in-memory adapter for tests and simulations. Frames sent by
// the client surface on Outgoing(); test code plays the motor side by
// reading them and calling Inject with the replies.
type Virtual struct {
	BaseAdapter
	outgoing chan *frame.CANFrame
}

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "virtual",
		Description:        "in-memory bus for tests and simulations",
		RequiresSerialPort: false,
		New:                func(cfg *AdapterConfig) (Adapter, error) { return NewVirtual(cfg), nil },
	}); err != nil {
		panic(err)
	}
}

func NewVirtual(cfg *AdapterConfig) *Virtual {
	if cfg == nil {
		cfg = &AdapterConfig{}
	}
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(string) {}
	}
	return &Virtual{
		BaseAdapter: NewBaseAdapter("virtual", cfg),
		outgoing:    make(chan *frame.CANFrame, 256),
	}
}

func (v *Virtual) Open(ctx context.Context) error {
	go v.pump(ctx)
	return nil
}

func (v *Virtual) Close() error {
	v.CloseBase()
	return nil
}

// Outgoing returns the bus-side view of frames transmitted by the client.
func (v *Virtual) Outgoing() <-chan *frame.CANFrame {
	return v.outgoing
}

// Inject delivers a frame to the client as if a motor had sent it.
func (v *Virtual) Inject(f *frame.CANFrame) {
	v.deliver(f)
}

func (v *Virtual) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.closeChan:
			return
		case f := <-v.sendChan:
			select {
			case v.outgoing <- f:
			default:
				v.cfg.OnMessage("virtual bus outgoing channel full, dropped frame")
			}
		}
	}
}
