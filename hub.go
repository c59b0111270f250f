package robstride

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/robstride/robstride-go/pkg/frame"
	"github.com/robstride/robstride-go/pkg/protocol"
)

// pendingKey identifies the single outstanding solicited request allowed per
// motor and communication type.
type pendingKey struct {
	motorID uint8
	comm    protocol.CommType
}

// hub owns the background intake loop. It correlates solicited replies with
// waiting callers and routes unsolicited status traffic into the per-motor
// state snapshots.
type hub struct {
	adapter Adapter

	mu      sync.Mutex
	pending map[pendingKey]chan *frame.CANFrame
	motors  map[uint8]*Motor

	closeChan chan struct{}
	closeOnce sync.Once
}

func newHub(adapter Adapter) *hub {
	return &hub{
		adapter:   adapter,
		pending:   make(map[pendingKey]chan *frame.CANFrame),
		motors:    make(map[uint8]*Motor),
		closeChan: make(chan struct{}),
	}
}

func (h *hub) run(ctx context.Context) {
	recvChan := h.adapter.Recv()
	for {
		select {
		case <-h.closeChan:
			return
		case <-ctx.Done():
			return
		case f, ok := <-recvChan:
			if !ok {
				log.Warn("adapter receive channel closed")
				return
			}
			h.route(f)
		}
	}
}

// route never blocks and never returns an error: malformed or unknown
// unsolicited frames are logged and dropped to keep the intake loop alive.
func (h *hub) route(f *frame.CANFrame) {
	comm, motorID, err := protocol.Identify(f)
	if err != nil {
		log.WithError(err).WithField("id", f.Identifier).Debug("dropping frame")
		return
	}

	// Status traffic updates the snapshot before any waiter is completed so
	// solicited status reads observe the same state as the callback.
	if comm == protocol.CommFeedback || comm == protocol.CommFaultReport {
		h.mu.Lock()
		m := h.motors[motorID]
		h.mu.Unlock()
		if m != nil {
			m.handleStatus(f)
		}
	}

	h.mu.Lock()
	key := pendingKey{motorID: motorID, comm: comm}
	ch, waiting := h.pending[key]
	if waiting {
		delete(h.pending, key)
	}
	h.mu.Unlock()

	if waiting {
		// Buffered with capacity one and claimed by exactly one caller, so
		// this never blocks.
		ch <- f
		return
	}

	switch comm {
	case protocol.CommFeedback, protocol.CommFaultReport:
		// already folded into the snapshot above
	default:
		log.WithFields(log.Fields{
			"type":  comm.String(),
			"motor": motorID,
		}).Debug("unsolicited frame with no waiter, dropped")
	}
}

// claim reserves the pending slot for (motorID, comm). A second request of
// the same type before the first resolves is rejected rather than silently
// replacing the waiter.
func (h *hub) claim(key pendingKey) (chan *frame.CANFrame, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, busy := h.pending[key]; busy {
		return nil, ErrBusy
	}
	ch := make(chan *frame.CANFrame, 1)
	h.pending[key] = ch
	return ch, nil
}

// release removes the slot after a timeout. If the intake loop already
// completed and removed it, a late reply was consumed and the slot may have
// been re-claimed; only remove our own channel.
func (h *hub) release(key pendingKey, ch chan *frame.CANFrame) {
	h.mu.Lock()
	if cur, ok := h.pending[key]; ok && cur == ch {
		delete(h.pending, key)
	}
	h.mu.Unlock()
}

func (h *hub) attach(m *Motor) {
	h.mu.Lock()
	h.motors[m.id] = m
	h.mu.Unlock()
}

func (h *hub) detach(id uint8) {
	h.mu.Lock()
	delete(h.motors, id)
	h.mu.Unlock()
}

func (h *hub) Close() {
	h.closeOnce.Do(func() {
		close(h.closeChan)
	})
}
