package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/camrelay/camrelay/internal/frame"
	"github.com/camrelay/camrelay/internal/handoff"
	"github.com/camrelay/camrelay/internal/registry"
)

type fakeRegistry struct {
	mu      sync.Mutex
	devices []registry.Device
	err     error
}

func (r *fakeRegistry) Devices(ctx context.Context) ([]registry.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices, r.err
}

func (r *fakeRegistry) set(devices []registry.Device, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = devices
	r.err = err
}

type fakeChannel struct {
	mu         sync.Mutex
	publishErr error
	published  int
	closed     int
}

func (c *fakeChannel) Publish(f *frame.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published++
	return c.publishErr
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeChannel) setPublishErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishErr = err
}

func oneDevice() []registry.Device {
	return []registry.Device{{
		Name: "Virtual Cam",
		Endpoints: []registry.Endpoint{{
			DeviceName: "Virtual Cam",
			Name:       "Virtual Cam Input",
			ID:         "ep-1",
			URL:        "ws://localhost:9/handoff/ep-1",
		}},
	}}
}

func testConfig() Config {
	return Config{
		DeviceName:          "Virtual",
		MaxRetries:          5,
		RetryDelay:          time.Millisecond,
		FailedPublishBudget: 3,
	}
}

func waitForState(t *testing.T, s *Supervisor, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v, still %v", want, s.State())
}

func testFrame(t *testing.T) *frame.Buffer {
	t.Helper()
	f, err := frame.New(4, 4, 16, make([]byte, 64), time.Now())
	if err != nil {
		t.Fatalf("frame.New failed: %v", err)
	}
	return f
}

func TestConnectSuccess(t *testing.T) {
	reg := &fakeRegistry{devices: oneDevice()}
	ch := &fakeChannel{}
	sup := New(testConfig(), reg, func(ctx context.Context, ep registry.Endpoint) (Channel, error) {
		if ep.ID != "ep-1" {
			t.Errorf("dialed wrong endpoint %q", ep.ID)
		}
		return ch, nil
	})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop()

	sup.Connect()
	waitForState(t, sup, StateConnected)

	stats := sup.Stats()
	if stats.RetryCount != 0 || stats.ConsecutiveFailedPublishes != 0 {
		t.Errorf("counters not reset on connect: %+v", stats)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	reg := &fakeRegistry{err: errors.New("registry down")}
	sup := New(testConfig(), reg, func(ctx context.Context, ep registry.Endpoint) (Channel, error) {
		return &fakeChannel{}, nil
	})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop()

	sup.Connect()
	waitForState(t, sup, StateDisconnected)

	if got := sup.Stats().RetryCount; got != 5 {
		t.Errorf("expected 5 attempts before halting, got %d", got)
	}

	// A later explicit Connect starts a fresh cycle.
	reg.set(oneDevice(), nil)
	sup.Connect()
	waitForState(t, sup, StateConnected)
}

func TestPublishSuccessResetsFailureStreak(t *testing.T) {
	reg := &fakeRegistry{devices: oneDevice()}
	ch := &fakeChannel{}
	sup := New(testConfig(), reg, func(ctx context.Context, ep registry.Endpoint) (Channel, error) {
		return ch, nil
	})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop()
	sup.Connect()
	waitForState(t, sup, StateConnected)

	ch.setPublishErr(handoff.ErrBusy)
	sup.PublishFrame(testFrame(t))
	sup.PublishFrame(testFrame(t))
	if got := sup.Stats().ConsecutiveFailedPublishes; got != 2 {
		t.Fatalf("expected 2 consecutive failures, got %d", got)
	}

	ch.setPublishErr(nil)
	sup.PublishFrame(testFrame(t))

	stats := sup.Stats()
	if stats.ConsecutiveFailedPublishes != 0 {
		t.Errorf("success did not reset failure streak: %d", stats.ConsecutiveFailedPublishes)
	}
	if stats.FramesSent != 1 || stats.FramesDropped != 2 {
		t.Errorf("unexpected counters %+v", stats)
	}
}

func TestStalledPublishesForceSingleReconnect(t *testing.T) {
	reg := &fakeRegistry{devices: oneDevice()}

	var mu sync.Mutex
	dials := 0
	first := &fakeChannel{publishErr: handoff.ErrBusy}
	second := &fakeChannel{}
	sup := New(testConfig(), reg, func(ctx context.Context, ep registry.Endpoint) (Channel, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop()
	sup.Connect()
	waitForState(t, sup, StateConnected)

	// Budget of 3: the first three Busy publishes are tolerated, the
	// fourth crosses the budget and triggers exactly one reconnect.
	for i := 0; i < 3; i++ {
		sup.PublishFrame(testFrame(t))
	}
	if got := sup.Stats().Reconnects; got != 0 {
		t.Fatalf("reconnected within budget after %d reconnects", got)
	}

	sup.PublishFrame(testFrame(t))
	waitForState(t, sup, StateConnected)

	stats := sup.Stats()
	if stats.Reconnects != 1 {
		t.Errorf("expected exactly 1 forced reconnect, got %d", stats.Reconnects)
	}
	if stats.ConsecutiveFailedPublishes != 0 {
		t.Errorf("failure streak not reset after reconnect: %d", stats.ConsecutiveFailedPublishes)
	}

	mu.Lock()
	if dials != 2 {
		t.Errorf("expected 2 dials, got %d", dials)
	}
	mu.Unlock()
	first.mu.Lock()
	if first.closed == 0 {
		t.Error("stalled channel was not closed")
	}
	first.mu.Unlock()

	// The replacement channel accepts frames again.
	sup.PublishFrame(testFrame(t))
	second.mu.Lock()
	if second.published != 1 {
		t.Errorf("expected 1 publish on new channel, got %d", second.published)
	}
	second.mu.Unlock()
}

func TestDisconnectTriggersReconnect(t *testing.T) {
	reg := &fakeRegistry{devices: oneDevice()}

	var mu sync.Mutex
	dials := 0
	first := &fakeChannel{publishErr: handoff.ErrDisconnected}
	sup := New(testConfig(), reg, func(ctx context.Context, ep registry.Endpoint) (Channel, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return first, nil
		}
		return &fakeChannel{}, nil
	})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop()
	sup.Connect()
	waitForState(t, sup, StateConnected)

	sup.PublishFrame(testFrame(t))
	waitForState(t, sup, StateConnected)

	if got := sup.Stats().Reconnects; got != 1 {
		t.Errorf("expected 1 reconnect, got %d", got)
	}
	mu.Lock()
	if dials != 2 {
		t.Errorf("expected 2 dials, got %d", dials)
	}
	mu.Unlock()
}

func TestPublishWhileDisconnectedDrops(t *testing.T) {
	reg := &fakeRegistry{devices: oneDevice()}
	sup := New(testConfig(), reg, func(ctx context.Context, ep registry.Endpoint) (Channel, error) {
		t.Error("unexpected dial")
		return nil, errors.New("unreachable")
	})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop()

	sup.PublishFrame(testFrame(t))
	if got := sup.Stats().FramesDropped; got != 1 {
		t.Errorf("expected dropped frame, got %d", got)
	}
}

func TestRestartAfterStop(t *testing.T) {
	reg := &fakeRegistry{devices: oneDevice()}
	sup := New(testConfig(), reg, func(ctx context.Context, ep registry.Endpoint) (Channel, error) {
		return &fakeChannel{}, nil
	})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sup.Connect()
	waitForState(t, sup, StateConnected)
	if err := sup.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// The supervisor is reusable: a new Start+Connect runs a fresh cycle.
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("restart after Stop failed: %v", err)
	}
	defer sup.Stop()
	sup.Connect()
	waitForState(t, sup, StateConnected)
}

func TestStopIdempotent(t *testing.T) {
	reg := &fakeRegistry{devices: oneDevice()}
	ch := &fakeChannel{}
	sup := New(testConfig(), reg, func(ctx context.Context, ep registry.Endpoint) (Channel, error) {
		return ch, nil
	})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sup.Connect()
	waitForState(t, sup, StateConnected)

	if err := sup.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := sup.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}

	if sup.State() != StateDisconnected {
		t.Errorf("expected disconnected after Stop, got %v", sup.State())
	}
	ch.mu.Lock()
	if ch.closed == 0 {
		t.Error("channel not closed on Stop")
	}
	ch.mu.Unlock()
}
