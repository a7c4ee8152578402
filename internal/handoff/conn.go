package handoff

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/camrelay/camrelay/internal/frame"
	"github.com/camrelay/camrelay/internal/logger"
	"github.com/camrelay/camrelay/internal/registry"
)

var (
	// ErrBusy means Publish was called without a valid credit. The frame
	// is dropped; the consumer has not accepted the previous one yet.
	ErrBusy = errors.New("handoff: no publish credit held")

	// ErrDisconnected means the channel to the consumer is gone and the
	// connection must be re-established through discovery.
	ErrDisconnected = errors.New("handoff: channel disconnected")

	// ErrClosed means the receiver was shut down and will deliver no
	// further frames.
	ErrClosed = errors.New("handoff: receiver closed")
)

// Conn is the producer side of the hand-off channel. One credit at most is
// held at any time; Publish consumes it and the consumer reissues it once
// the frame has been accepted downstream.
type Conn struct {
	ws *websocket.Conn

	mu      sync.Mutex
	credit  bool
	closed  bool
	sendSeq uint64

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to a discovered input endpoint and starts the credit reader.
func Dial(ctx context.Context, ep registry.Endpoint) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, ep.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial endpoint %q: %w", ep.URL, err)
	}

	c := &Conn{
		ws:   ws,
		done: make(chan struct{}),
	}
	go c.readCredits()
	return c, nil
}

// readCredits collects credit grants from the consumer until the
// connection dies.
func (c *Conn) readCredits() {
	log := logger.WithComponent("handoff-conn")
	for {
		msgType, msg, err := c.ws.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("Credit reader stopped")
			c.Close()
			return
		}
		if msgType == websocket.BinaryMessage && isCreditGrant(msg) {
			c.mu.Lock()
			c.credit = true
			c.mu.Unlock()
		}
	}
}

// Publish sends one frame to the consumer. Returns ErrBusy when no credit
// is held (the frame is dropped, latest wins on retry) and ErrDisconnected
// when the channel is gone. A successful publish invalidates the credit
// until the consumer reissues it.
func (c *Conn) Publish(f *frame.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrDisconnected
	}
	if !c.credit {
		return ErrBusy
	}

	c.credit = false
	c.sendSeq++
	if err := c.ws.WriteMessage(websocket.BinaryMessage, encodeFrame(f, c.sendSeq)); err != nil {
		c.closeLocked()
		return ErrDisconnected
	}
	return nil
}

// Close tears the channel down. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *Conn) closeLocked() {
	c.closeOnce.Do(func() {
		c.closed = true
		c.credit = false
		close(c.done)
		c.ws.Close()
	})
}

// Done is closed once the connection is no longer usable.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}
