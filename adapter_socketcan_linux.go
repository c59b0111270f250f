//go:build linux

package robstride

import (
	"context"
	"net"
	"strings"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"

	"github.com/robstride/robstride-go/pkg/frame"
)

// SocketCAN drives a native Linux CAN interface (can0, vcan0, ...). The
// interface must already be up and configured; bitrate management needs
// CAP_NET_ADMIN and belongs to the host, not the driver.
type SocketCAN struct {
	BaseAdapter
	conn net.Conn
	tx   *socketcan.Transmitter
	rx   *socketcan.Receiver
}

func init() {
	for _, dev := range FindCANDevices() {
		if err := RegisterAdapter(&AdapterInfo{
			Name:               "socketcan:" + dev,
			Description:        "Linux SocketCAN device " + dev,
			RequiresSerialPort: false,
			New:                newSocketCANForDev(dev),
		}); err != nil {
			panic(err)
		}
	}
}

func newSocketCANForDev(dev string) func(cfg *AdapterConfig) (Adapter, error) {
	return func(cfg *AdapterConfig) (Adapter, error) {
		cfg.Port = dev
		return NewSocketCAN(cfg)
	}
}

func NewSocketCAN(cfg *AdapterConfig) (Adapter, error) {
	return &SocketCAN{
		BaseAdapter: NewBaseAdapter("socketcan", cfg),
	}, nil
}

func (a *SocketCAN) Open(ctx context.Context) error {
	conn, err := socketcan.DialContext(ctx, "can", a.cfg.Port)
	if err != nil {
		return err
	}
	a.conn = conn
	a.tx = socketcan.NewTransmitter(conn)
	a.rx = socketcan.NewReceiver(conn)

	go a.recvManager(ctx)
	go a.sendManager(ctx)
	return nil
}

func (a *SocketCAN) Close() error {
	a.CloseBase()
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

func (a *SocketCAN) recvManager(ctx context.Context) {
	for a.rx.Receive() {
		select {
		case <-a.closeChan:
			return
		case <-ctx.Done():
			return
		default:
		}
		rf := a.rx.Frame()
		if !a.wanted(rf.ID) {
			continue
		}
		var f *frame.CANFrame
		if rf.IsExtended {
			f = frame.NewExtended(rf.ID, rf.Data[:rf.Length], frame.Incoming)
		} else {
			f = frame.New(rf.ID, rf.Data[:rf.Length], frame.Incoming)
		}
		a.deliver(f)
	}
	if err := a.rx.Err(); err != nil {
		select {
		case <-a.closeChan:
		default:
			a.Fatal(err)
		}
	}
}

// wanted applies the software frame filter; an empty filter passes all.
func (a *SocketCAN) wanted(id uint32) bool {
	if len(a.cfg.CANFilter) == 0 {
		return true
	}
	for _, want := range a.cfg.CANFilter {
		if id == want {
			return true
		}
	}
	return false
}

func (a *SocketCAN) sendManager(ctx context.Context) {
	for {
		select {
		case <-a.closeChan:
			return
		case <-ctx.Done():
			return
		case f := <-a.sendChan:
			var tf can.Frame
			tf.ID = f.Identifier
			tf.IsExtended = f.Extended
			tf.Length = uint8(f.Length())
			copy(tf.Data[:], f.Data[:])
			if err := a.tx.TransmitFrame(ctx, tf); err != nil {
				a.cfg.OnMessage("send error: " + err.Error())
			}
		}
	}
}

// FindCANDevices lists network interfaces that look like CAN devices.
func FindCANDevices() (devs []string) {
	iFaces, _ := net.Interfaces()
	for _, i := range iFaces {
		if strings.Contains(i.Name, "can") {
			devs = append(devs, i.Name)
		}
	}
	return
}
