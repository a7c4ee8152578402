// Package supervisor owns the producer side of the relay connection:
// discovery, connect, bounded retry with fixed backoff, and forced
// reconnection when the consumer stops draining frames.
//
// All state transitions run on a single goroutine fed by a command
// channel, so connect, retry and publish never race even though capture
// callbacks arrive concurrently.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camrelay/camrelay/internal/frame"
	"github.com/camrelay/camrelay/internal/handoff"
	"github.com/camrelay/camrelay/internal/logger"
	"github.com/camrelay/camrelay/internal/registry"
)

// State is the supervisor connection state.
type State int32

const (
	StateDisconnected State = iota
	StateDiscovering
	StateConnecting
	StateRetrying
	StateConnected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateDiscovering:
		return "discovering"
	case StateConnecting:
		return "connecting"
	case StateRetrying:
		return "retrying"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Config contains the retry and flow-control budgets.
type Config struct {
	// DeviceName is the display-name substring used for discovery.
	DeviceName string

	// MaxRetries bounds automatic connection attempts. Past the budget the
	// supervisor halts Disconnected until an explicit new Connect.
	MaxRetries int

	// RetryDelay is the fixed delay between attempts (no backoff growth).
	RetryDelay time.Duration

	// FailedPublishBudget is the number of consecutive Busy publishes
	// tolerated before a forced reconnect (~2s at 30fps with the default).
	FailedPublishBudget int
}

// DefaultConfig returns the production budgets.
func DefaultConfig(deviceName string) Config {
	return Config{
		DeviceName:          deviceName,
		MaxRetries:          5,
		RetryDelay:          500 * time.Millisecond,
		FailedPublishBudget: 60,
	}
}

// Channel is the publish side of a hand-off channel.
type Channel interface {
	Publish(*frame.Buffer) error
	Close() error
}

// Dialer opens a channel to a discovered endpoint.
type Dialer func(ctx context.Context, ep registry.Endpoint) (Channel, error)

// WebsocketDialer dials the real cross-process hand-off channel.
func WebsocketDialer(ctx context.Context, ep registry.Endpoint) (Channel, error) {
	return handoff.Dial(ctx, ep)
}

// Stats is a snapshot of the supervisor counters.
type Stats struct {
	State                      string `json:"state"`
	FramesSent                 uint64 `json:"frames_sent"`
	FramesDropped              uint64 `json:"frames_dropped"`
	Reconnects                 uint64 `json:"reconnects"`
	RetryCount                 int    `json:"retry_count"`
	ConsecutiveFailedPublishes int    `json:"consecutive_failed_publishes"`
}

type cmdKind int

const (
	cmdConnect cmdKind = iota
	cmdRetry
	cmdPublish
)

type command struct {
	kind  cmdKind
	frame *frame.Buffer
	done  chan struct{}
}

// Supervisor drives the producer connection lifecycle.
type Supervisor struct {
	cfg  Config
	reg  registry.Registry
	dial Dialer

	cmds chan command
	wg   sync.WaitGroup

	startedMu sync.Mutex
	started   bool
	ctx       context.Context
	cancel    context.CancelFunc

	// Owned by the run goroutine.
	ch              Channel
	retryCount      int
	failedPublishes int

	// Snapshots readable from any goroutine.
	state         atomic.Int32
	retrySnap     atomic.Int64
	failedSnap    atomic.Int64
	framesSent    atomic.Uint64
	framesDropped atomic.Uint64
	reconnects    atomic.Uint64
}

// New creates a supervisor. Start must be called before Connect or
// PublishFrame have any effect.
func New(cfg Config, reg registry.Registry, dial Dialer) *Supervisor {
	if dial == nil {
		dial = WebsocketDialer
	}
	return &Supervisor{
		cfg:  cfg,
		reg:  reg,
		dial: dial,
		cmds: make(chan command),
	}
}

// Start spawns the state machine goroutine.
func (s *Supervisor) Start(ctx context.Context) error {
	s.startedMu.Lock()
	defer s.startedMu.Unlock()

	if s.started {
		return fmt.Errorf("supervisor already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	s.wg.Add(1)
	go s.run(s.ctx)
	return nil
}

// Stop tears down the connection and halts the state machine. Idempotent:
// the end state is Disconnected with the channel (and its credit) released.
// A stopped supervisor can be started again for a fresh connection cycle.
func (s *Supervisor) Stop() error {
	s.startedMu.Lock()
	if !s.started {
		s.startedMu.Unlock()
		return nil
	}
	s.started = false
	s.startedMu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}

// Connect requests a fresh connection cycle: discovery, dial, stream start.
// Resets the retry budget. Safe to call from any goroutine.
func (s *Supervisor) Connect() {
	s.send(command{kind: cmdConnect})
}

// PublishFrame relays one captured frame. While not Connected the frame is
// dropped and counted; publish failures never propagate to the caller.
func (s *Supervisor) PublishFrame(f *frame.Buffer) {
	if s.State() != StateConnected {
		s.framesDropped.Add(1)
		return
	}
	s.send(command{kind: cmdPublish, frame: f, done: make(chan struct{})})
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Stats returns a snapshot of the counters.
func (s *Supervisor) Stats() Stats {
	return Stats{
		State:                      s.State().String(),
		FramesSent:                 s.framesSent.Load(),
		FramesDropped:              s.framesDropped.Load(),
		Reconnects:                 s.reconnects.Load(),
		RetryCount:                 int(s.retrySnap.Load()),
		ConsecutiveFailedPublishes: int(s.failedSnap.Load()),
	}
}

// send hands a command to the run goroutine, waiting for completion when
// the command carries a done channel.
func (s *Supervisor) send(cmd command) {
	s.startedMu.Lock()
	ctx := s.ctx
	started := s.started
	s.startedMu.Unlock()
	if !started {
		if cmd.frame != nil {
			s.framesDropped.Add(1)
		}
		return
	}

	select {
	case s.cmds <- cmd:
	case <-ctx.Done():
		if cmd.frame != nil {
			s.framesDropped.Add(1)
		}
		return
	}
	if cmd.done != nil {
		select {
		case <-cmd.done:
		case <-ctx.Done():
		}
	}
}

// run is the single goroutine that owns all connection state.
func (s *Supervisor) run(ctx context.Context) {
	defer s.wg.Done()
	defer s.teardown()

	log := logger.WithComponent("supervisor")
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.cmds:
			switch cmd.kind {
			case cmdConnect:
				log.Info().Str("device", s.cfg.DeviceName).Msg("Connect requested")
				s.setRetryCount(0)
				s.attempt(ctx)
			case cmdRetry:
				s.attempt(ctx)
			case cmdPublish:
				s.publish(ctx, cmd.frame)
			}
			if cmd.done != nil {
				close(cmd.done)
			}
		}
	}
}

// attempt runs one discovery+dial cycle and schedules a retry on failure.
func (s *Supervisor) attempt(ctx context.Context) {
	log := logger.WithComponent("supervisor")

	s.closeChannel()
	s.setState(StateDiscovering)

	ep, err := registry.Lookup(ctx, s.reg, s.cfg.DeviceName, registry.RoleInput)
	if err != nil {
		log.Warn().Err(err).Str("device", s.cfg.DeviceName).Msg("Discovery failed")
		s.connectFailed(ctx)
		return
	}

	s.setState(StateConnecting)
	ch, err := s.dial(ctx, ep)
	if err != nil {
		log.Warn().Err(err).Str("endpoint", ep.URL).Msg("Connect failed")
		s.connectFailed(ctx)
		return
	}

	s.ch = ch
	s.setRetryCount(0)
	s.setFailedPublishes(0)
	s.setState(StateConnected)
	log.Info().Str("endpoint", ep.URL).Str("endpoint_id", ep.ID).Msg("Connected")
}

// connectFailed accounts one failed attempt and either schedules the next
// one after the fixed delay or gives up for good.
func (s *Supervisor) connectFailed(ctx context.Context) {
	log := logger.WithComponent("supervisor")

	s.setRetryCount(s.retryCount + 1)
	if s.retryCount >= s.cfg.MaxRetries {
		log.Error().
			Int("attempts", s.retryCount).
			Msg("Retry budget exhausted, staying disconnected until next connect")
		s.setState(StateDisconnected)
		return
	}

	s.setState(StateRetrying)
	log.Info().
		Int("attempt", s.retryCount).
		Int("max_retries", s.cfg.MaxRetries).
		Dur("delay", s.cfg.RetryDelay).
		Msg("Retrying connection")

	time.AfterFunc(s.cfg.RetryDelay, func() {
		select {
		case s.cmds <- command{kind: cmdRetry}:
		case <-ctx.Done():
		}
	})
}

// publish relays one frame over the channel and applies the flow-control
// failure policy.
func (s *Supervisor) publish(ctx context.Context, f *frame.Buffer) {
	if s.State() != StateConnected || s.ch == nil {
		s.framesDropped.Add(1)
		return
	}

	err := s.ch.Publish(f)
	switch {
	case err == nil:
		s.setFailedPublishes(0)
		s.framesSent.Add(1)

	case errors.Is(err, handoff.ErrBusy):
		s.framesDropped.Add(1)
		s.setFailedPublishes(s.failedPublishes + 1)
		if s.failedPublishes > s.cfg.FailedPublishBudget {
			// The consumer stopped issuing credits; assume it is wedged
			// and rebuild the connection from discovery. The forced
			// reconnect gets a fresh retry budget of its own.
			logger.WithComponent("supervisor").Warn().
				Int("consecutive_busy", s.failedPublishes).
				Msg("Publish stalled, forcing reconnect")
			s.reconnects.Add(1)
			s.setFailedPublishes(0)
			s.setRetryCount(0)
			s.attempt(ctx)
		}

	case errors.Is(err, handoff.ErrDisconnected):
		s.framesDropped.Add(1)
		logger.WithComponent("supervisor").Warn().Msg("Channel disconnected, reconnecting")
		s.reconnects.Add(1)
		s.setRetryCount(0)
		s.attempt(ctx)

	default:
		s.framesDropped.Add(1)
	}
}

// teardown releases the channel on shutdown.
func (s *Supervisor) teardown() {
	s.closeChannel()
	s.setFailedPublishes(0)
	s.setState(StateDisconnected)
}

func (s *Supervisor) closeChannel() {
	if s.ch != nil {
		s.ch.Close()
		s.ch = nil
	}
}

func (s *Supervisor) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Supervisor) setRetryCount(n int) {
	s.retryCount = n
	s.retrySnap.Store(int64(n))
}

func (s *Supervisor) setFailedPublishes(n int) {
	s.failedPublishes = n
	s.failedSnap.Store(int64(n))
}
