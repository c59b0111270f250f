// Package robstride drives RobStride brushless servo motors over a CAN bus,
// speaking either the vendor private protocol or the MIT Cheetah compatible
// protocol. The client owns one bus adapter; any number of motors can share
// it.
package robstride

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robstride/robstride-go/pkg/frame"
)

// ErrNilAdapter is returned by New when no adapter is supplied.
var ErrNilAdapter = errors.New("adapter is nil")

// sendTimeout bounds how long Send waits for the adapter's transmit queue.
const sendTimeout = 5 * time.Second

// Client ties one CAN adapter to the intake loop and hands out Motor
// handles. The adapter's lifecycle is owned by the client: Close shuts both
// down. Motors sharing a bus must share one Client.
type Client struct {
	adapter   Adapter
	hub       *hub
	closed    chan struct{}
	closeOnce sync.Once

	// fatalErr is written once before fatalChan closes; after that every
	// sender observes it while errChan still delivers it to an Err reader.
	errChan   chan error
	fatalErr  error
	fatalChan chan struct{}
}

// New opens the adapter and starts the background intake loop. The context
// bounds the client's lifetime; cancelling it stops the intake loop.
func New(ctx context.Context, adapter Adapter) (*Client, error) {
	if adapter == nil {
		return nil, ErrNilAdapter
	}
	if err := adapter.Open(ctx); err != nil {
		return nil, err
	}
	c := &Client{
		adapter:   adapter,
		hub:       newHub(adapter),
		closed:    make(chan struct{}),
		errChan:   make(chan error, 1),
		fatalChan: make(chan struct{}),
	}
	go c.hub.run(ctx)
	go c.watchErr()
	return c, nil
}

// watchErr takes the adapter's one fatal error and fans it out: senders see
// it through fatalChan, an Err reader through errChan.
func (c *Client) watchErr() {
	select {
	case <-c.closed:
	case err := <-c.adapter.Err():
		c.fatalErr = err
		close(c.fatalChan)
		c.errChan <- err
	}
}

// Motor returns a handle for the given node ID and registers it for status
// routing. Creating two handles for the same ID replaces the first.
func (c *Client) Motor(id uint8, opts ...MotorOpt) *Motor {
	m := newMotor(c, id, opts...)
	c.hub.attach(m)
	return m
}

// Send transmits a single frame. Transmission is serialized by the
// adapter's queue; no two frames interleave on the wire.
func (c *Client) Send(f *frame.CANFrame) error {
	select {
	case <-c.closed:
		return ErrClosed
	case <-c.fatalChan:
		return c.fatalErr
	default:
	}
	select {
	case <-c.closed:
		return ErrClosed
	case <-c.fatalChan:
		return c.fatalErr
	case c.adapter.Send() <- f:
		return nil
	case <-time.After(sendTimeout):
		return ErrSendTimeout
	}
}

// Err exposes fatal adapter errors.
func (c *Client) Err() <-chan error {
	return c.errChan
}

// Close stops the intake loop and closes the adapter.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.hub.Close()
		err = c.adapter.Close()
	})
	return err
}
