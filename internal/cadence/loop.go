package cadence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/camrelay/camrelay/internal/frame"
	"github.com/camrelay/camrelay/internal/handoff"
	"github.com/camrelay/camrelay/internal/logger"
)

// transientRetryDelay is how long the loop waits after a transient
// consume error, roughly one frame period at 30fps.
const transientRetryDelay = 33 * time.Millisecond

// Source is the consumer end of a hand-off channel as seen by the loop.
// Implemented by handoff.Receiver.
type Source interface {
	// Active reports whether a producer connection is established.
	Active() bool

	// ConsumeNext blocks until the next frame or cancellation.
	ConsumeNext(ctx context.Context) (*frame.Buffer, error)

	// RequestNext reissues the publish credit after the previous buffer
	// was accepted downstream.
	RequestNext()
}

// Loop continuously pulls frames from the hand-off channel and forwards
// them into the cadence driver's latest-frame cell.
type Loop struct {
	src    Source
	driver *Driver

	startedMu sync.Mutex
	started   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewLoop creates a consume loop bridging src into driver.
func NewLoop(src Source, driver *Driver) *Loop {
	return &Loop{src: src, driver: driver}
}

// Start begins consuming. Returns an error if already running.
func (l *Loop) Start(ctx context.Context) error {
	l.startedMu.Lock()
	defer l.startedMu.Unlock()

	if l.started {
		return fmt.Errorf("consume loop already started")
	}

	ctx, l.cancel = context.WithCancel(ctx)
	l.started = true

	l.wg.Add(1)
	go l.run(ctx)
	return nil
}

// Stop cancels the loop and waits for it to exit. Idempotent.
func (l *Loop) Stop() error {
	l.startedMu.Lock()
	if !l.started {
		l.startedMu.Unlock()
		return nil
	}
	l.started = false
	l.startedMu.Unlock()

	l.cancel()
	l.wg.Wait()
	return nil
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	log := logger.WithComponent("consume-loop")
	credited := false

	for {
		if ctx.Err() != nil {
			return
		}

		// An external client may trigger streaming before the producer
		// has connected; defer actual consumption until the channel has
		// a live producer behind it.
		if !l.src.Active() {
			credited = false
			select {
			case <-ctx.Done():
				return
			case <-time.After(transientRetryDelay):
			}
			continue
		}

		if !credited {
			// Issue the initial credit for this producer session.
			l.src.RequestNext()
			credited = true
		}

		f, err := l.src.ConsumeNext(ctx)
		switch {
		case err == nil:
			l.driver.Submit(f)
			l.src.RequestNext()

		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return

		case errors.Is(err, handoff.ErrClosed):
			log.Info().Msg("Hand-off receiver closed, consume loop exiting")
			return

		default:
			log.Warn().Err(err).Msg("Transient consume error, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(transientRetryDelay):
			}
		}
	}
}
