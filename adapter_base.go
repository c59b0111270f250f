package robstride

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/robstride/robstride-go/pkg/frame"
)

// BaseAdapter carries the channel plumbing shared by every adapter.
// Implementations embed it and run their own send/recv managers.
type BaseAdapter struct {
	name               string
	cfg                *AdapterConfig
	sendChan, recvChan chan *frame.CANFrame

	errOnce sync.Once
	errChan chan error

	closeOnce sync.Once
	closeChan chan struct{}
}

func NewBaseAdapter(name string, cfg *AdapterConfig) BaseAdapter {
	return BaseAdapter{
		name:      name,
		cfg:       cfg,
		sendChan:  make(chan *frame.CANFrame, 40),
		recvChan:  make(chan *frame.CANFrame, 1024),
		errChan:   make(chan error, 1),
		closeChan: make(chan struct{}),
	}
}

// Name returns the adapter name.
func (base *BaseAdapter) Name() string {
	return base.name
}

// Send returns the transmit channel for the adapter.
func (base *BaseAdapter) Send() chan<- *frame.CANFrame {
	return base.sendChan
}

// Recv returns the receive channel for the adapter.
func (base *BaseAdapter) Recv() <-chan *frame.CANFrame {
	return base.recvChan
}

// Err returns the error channel for the adapter.
func (base *BaseAdapter) Err() <-chan error {
	return base.errChan
}

func (base *BaseAdapter) CloseBase() {
	base.closeOnce.Do(func() {
		close(base.closeChan)
	})
}

// Fatal reports an unrecoverable adapter error. Only the first error wins.
func (base *BaseAdapter) Fatal(err error) {
	base.errOnce.Do(func() {
		select {
		case base.errChan <- err:
		default:
			log.WithError(err).Warn("adapter error channel full")
		}
	})
}

// deliver pushes a received frame without ever blocking the reader loop.
func (base *BaseAdapter) deliver(f *frame.CANFrame) {
	select {
	case base.recvChan <- f:
	default:
		base.cfg.OnMessage("adapter incoming channel full, dropped frame")
	}
}
