package handoff

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/camrelay/camrelay/internal/frame"
	"github.com/camrelay/camrelay/internal/logger"
)

// ReceiverStats is a snapshot of the consumer-side channel counters.
type ReceiverStats struct {
	FramesReceived uint64 `json:"frames_received"`
	FramesDropped  uint64 `json:"frames_dropped"`
	CreditsIssued  uint64 `json:"credits_issued"`
	ProducerActive bool   `json:"producer_active"`
}

// Receiver is the consumer side of the hand-off channel: a single-slot,
// latest-wins mailbox fed by the producer connection the Listener attaches.
//
// ConsumeNext blocks until a frame arrives; RequestNext reissues the
// publish credit once the previous buffer was accepted downstream. If no
// producer is attached when the credit is issued, it is held pending and
// granted on the next attach, so a producer that connects late still gets
// permission to publish its first frame.
type Receiver struct {
	mu   sync.Mutex
	cond *sync.Cond

	latest *frame.Buffer // single slot, nil = consumed
	closed bool

	conn *websocket.Conn // active producer, nil when detached

	// creditOpen is true from RequestNext until the next delivery: the
	// one credit the consumer has issued and the producer has not yet
	// used. Re-granted on attach so a credit that died with a broken
	// connection is not lost.
	creditOpen bool

	framesReceived uint64
	framesDropped  uint64
	creditsIssued  uint64
}

// NewReceiver creates a receiver with an empty mailbox and no producer.
func NewReceiver() *Receiver {
	r := &Receiver{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// attach makes ws the active producer connection, superseding any previous
// one. An open credit is re-granted to the new producer.
func (r *Receiver) attach(ws *websocket.Conn) {
	r.mu.Lock()
	old := r.conn
	r.conn = ws
	grant := r.creditOpen && !r.closed
	if grant {
		r.creditsIssued++
	}
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if grant {
		r.sendCredit(ws)
	}
}

// detach clears the active producer if it is still ws.
func (r *Receiver) detach(ws *websocket.Conn) {
	r.mu.Lock()
	if r.conn == ws {
		r.conn = nil
	}
	r.mu.Unlock()
}

// deliver stores a frame in the mailbox, overwriting an unconsumed one
// (latest wins) and waking a blocked ConsumeNext.
func (r *Receiver) deliver(f *frame.Buffer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if r.latest != nil {
		r.framesDropped++
	}
	r.latest = f
	r.framesReceived++
	r.creditOpen = false // publish consumed the issued credit
	r.cond.Signal()
}

// ConsumeNext blocks until a frame is available or ctx is cancelled.
// Returns ErrClosed after Close; cancellation returns ctx.Err().
func (r *Receiver) ConsumeNext(ctx context.Context) (*frame.Buffer, error) {
	stop := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	for r.latest == nil {
		if r.closed {
			return nil, ErrClosed
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.cond.Wait()
	}

	f := r.latest
	r.latest = nil
	return f, nil
}

// RequestNext reissues the publish credit. Called by the consume loop once
// the previous buffer has been accepted downstream.
func (r *Receiver) RequestNext() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.creditOpen = true
	ws := r.conn
	if ws == nil {
		// No producer yet; the open credit is granted on attach.
		r.mu.Unlock()
		return
	}
	r.creditsIssued++
	r.mu.Unlock()

	r.sendCredit(ws)
}

// sendCredit writes the one-byte credit grant to the producer. Failures
// are left to the read loop, which will detach the dead connection.
func (r *Receiver) sendCredit(ws *websocket.Conn) {
	if err := ws.WriteMessage(websocket.BinaryMessage, []byte{creditGrant}); err != nil {
		logger.WithComponent("handoff-receiver").Debug().Err(err).Msg("Credit write failed")
	}
}

// Active reports whether a producer connection is currently attached.
func (r *Receiver) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

// Close shuts the receiver down: the mailbox is cleared, pending credit
// state released, and any blocked ConsumeNext returns ErrClosed. Idempotent.
func (r *Receiver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.latest = nil
	r.creditOpen = false
	ws := r.conn
	r.conn = nil
	r.cond.Broadcast()
	r.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
}

// Stats returns a snapshot of the receiver counters.
func (r *Receiver) Stats() ReceiverStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ReceiverStats{
		FramesReceived: r.framesReceived,
		FramesDropped:  r.framesDropped,
		CreditsIssued:  r.creditsIssued,
		ProducerActive: r.conn != nil,
	}
}
