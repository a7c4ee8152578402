// Package cadence decouples the consumer's output rate from cross-process
// arrival jitter: a fixed-rate timer emits the most recently received
// frame, or a deterministic fallback, to every subscriber.
package cadence

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camrelay/camrelay/internal/frame"
	"github.com/camrelay/camrelay/internal/logger"
)

// subscriberBuffer is the per-subscriber channel depth. A slow subscriber
// skips frames, it never stalls the tick loop.
const subscriberBuffer = 2

// DriverStats is a snapshot of the cadence counters.
type DriverStats struct {
	FramesReceived uint64 `json:"frames_received"`
	Ticks          uint64 `json:"ticks"`
	FallbackTicks  uint64 `json:"fallback_ticks"`
	DroppedEmits   uint64 `json:"dropped_emits"`
	Subscribers    int    `json:"subscribers"`
}

// Driver holds the latest received frame and emits at a fixed interval.
//
// The latest-frame cell is written only by the consume loop (via Submit)
// and read only by the tick loop; the frame is held across ticks until
// replaced ("hold last frame"). When the cell has never been filled, a
// fallback frame is generated for the tick instead.
type Driver struct {
	interval time.Duration
	fallback *frame.Generator

	frameMu sync.Mutex
	latest  *frame.Buffer

	subsMu sync.RWMutex
	subs   map[chan *frame.Buffer]struct{}

	startedMu sync.Mutex
	started   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	seq            uint64
	framesReceived atomic.Uint64
	ticks          atomic.Uint64
	fallbackTicks  atomic.Uint64
	droppedEmits   atomic.Uint64
}

// NewDriver creates a driver emitting every interval at the given geometry.
func NewDriver(interval time.Duration, width, height int) *Driver {
	return &Driver{
		interval: interval,
		fallback: frame.NewGenerator(width, height),
		subs:     make(map[chan *frame.Buffer]struct{}),
	}
}

// Start begins the tick loop. Returns an error if already running.
func (d *Driver) Start(ctx context.Context) error {
	d.startedMu.Lock()
	defer d.startedMu.Unlock()

	if d.started {
		return fmt.Errorf("cadence driver already started")
	}

	ctx, d.cancel = context.WithCancel(ctx)
	d.started = true

	d.wg.Add(1)
	go d.tickLoop(ctx)

	logger.WithComponent("cadence").Info().
		Dur("interval", d.interval).
		Msg("Cadence driver started")
	return nil
}

// Stop halts the tick loop and closes all subscriber channels. Idempotent.
func (d *Driver) Stop() error {
	d.startedMu.Lock()
	if !d.started {
		d.startedMu.Unlock()
		return nil
	}
	d.started = false
	d.startedMu.Unlock()

	d.cancel()
	d.wg.Wait()

	d.subsMu.Lock()
	for ch := range d.subs {
		close(ch)
	}
	d.subs = make(map[chan *frame.Buffer]struct{})
	d.subsMu.Unlock()
	return nil
}

// Submit replaces the held frame with a newer one. Called by the consume
// loop; the buffer must not be modified afterwards.
func (d *Driver) Submit(f *frame.Buffer) {
	d.frameMu.Lock()
	d.latest = f
	d.frameMu.Unlock()
	d.framesReceived.Add(1)
}

// Subscribe registers a downstream client. The returned cancel func must be
// called when done; the channel is closed on cancel or Stop.
func (d *Driver) Subscribe() (<-chan *frame.Buffer, func()) {
	ch := make(chan *frame.Buffer, subscriberBuffer)

	d.subsMu.Lock()
	d.subs[ch] = struct{}{}
	d.subsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			d.subsMu.Lock()
			if _, ok := d.subs[ch]; ok {
				delete(d.subs, ch)
				close(ch)
			}
			d.subsMu.Unlock()
		})
	}
	return ch, cancel
}

// Stats returns a snapshot of the counters.
func (d *Driver) Stats() DriverStats {
	d.subsMu.RLock()
	subs := len(d.subs)
	d.subsMu.RUnlock()
	return DriverStats{
		FramesReceived: d.framesReceived.Load(),
		Ticks:          d.ticks.Load(),
		FallbackTicks:  d.fallbackTicks.Load(),
		DroppedEmits:   d.droppedEmits.Load(),
		Subscribers:    subs,
	}
}

// tickLoop fires at the configured interval regardless of arrivals.
func (d *Driver) tickLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.emit(now)
		}
	}
}

// emit sends the held frame, or a fallback, to every subscriber. The
// emitted buffer carries the tick time and output sequence, not the
// original capture metadata: cadence is dictated here, not upstream.
func (d *Driver) emit(now time.Time) {
	d.seq++
	d.ticks.Add(1)

	d.frameMu.Lock()
	held := d.latest
	d.frameMu.Unlock()

	var out *frame.Buffer
	if held == nil {
		out = d.fallback.Generate(d.seq, now)
		d.fallbackTicks.Add(1)
	} else {
		// Shallow copy sharing the pixel block; only metadata differs.
		cp := *held
		cp.CaptureTime = now
		cp.Seq = d.seq
		out = &cp
	}

	d.subsMu.RLock()
	for ch := range d.subs {
		select {
		case ch <- out:
		default:
			// Subscriber is slow, skip this frame.
			d.droppedEmits.Add(1)
		}
	}
	d.subsMu.RUnlock()
}
