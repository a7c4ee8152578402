package handoff

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/camrelay/camrelay/internal/registry"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// newChannel wires a receiver+listener behind an httptest server and dials
// a producer connection to it.
func newChannel(t *testing.T) (*Receiver, *Conn) {
	t.Helper()

	receiver := NewReceiver()
	srv := httptest.NewServer(NewListener(receiver))
	t.Cleanup(srv.Close)
	t.Cleanup(receiver.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := Dial(context.Background(), registry.Endpoint{URL: url})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	waitFor(t, "producer attach", receiver.Active)
	return receiver, conn
}

func TestPublishWithoutCreditIsBusy(t *testing.T) {
	_, conn := newChannel(t)

	if err := conn.Publish(testFrame(t)); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy without credit, got %v", err)
	}
}

func TestPublishConsumeSingleFrame(t *testing.T) {
	receiver, conn := newChannel(t)

	receiver.RequestNext()

	f := testFrame(t)
	waitFor(t, "credited publish", func() bool { return conn.Publish(f) == nil })

	got, err := receiver.ConsumeNext(context.Background())
	if err != nil {
		t.Fatalf("ConsumeNext failed: %v", err)
	}
	if got.Width != f.Width || got.Height != f.Height {
		t.Errorf("wrong frame geometry %dx%d", got.Width, got.Height)
	}

	// The credit was consumed by the publish: no further publish succeeds
	// until the consumer reissues it.
	if err := conn.Publish(f); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy after credit consumed, got %v", err)
	}

	stats := receiver.Stats()
	if stats.FramesReceived != 1 || stats.FramesDropped != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestLatestFrameWins(t *testing.T) {
	receiver, conn := newChannel(t)
	f := testFrame(t)

	receiver.RequestNext()
	waitFor(t, "first publish", func() bool { return conn.Publish(f) == nil })
	waitFor(t, "first delivery", func() bool { return receiver.Stats().FramesReceived == 1 })

	receiver.RequestNext()
	waitFor(t, "second publish", func() bool { return conn.Publish(f) == nil })
	waitFor(t, "second delivery", func() bool { return receiver.Stats().FramesReceived == 2 })

	// Nothing was consumed in between: the slot holds only the newest
	// frame and the older one is counted dropped.
	got, err := receiver.ConsumeNext(context.Background())
	if err != nil {
		t.Fatalf("ConsumeNext failed: %v", err)
	}
	if got.Seq != 2 {
		t.Errorf("expected newest frame (seq 2), got seq %d", got.Seq)
	}
	if drops := receiver.Stats().FramesDropped; drops != 1 {
		t.Errorf("expected 1 dropped frame, got %d", drops)
	}
}

func TestConsumeNextCancellation(t *testing.T) {
	receiver := NewReceiver()
	defer receiver.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := receiver.ConsumeNext(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

func TestReceiverCloseIdempotent(t *testing.T) {
	receiver, _ := newChannel(t)

	receiver.Close()
	receiver.Close()

	if _, err := receiver.ConsumeNext(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
	if receiver.Active() {
		t.Error("receiver still active after Close")
	}
}

func TestPublishAfterConnClose(t *testing.T) {
	_, conn := newChannel(t)

	conn.Close()
	conn.Close()

	if err := conn.Publish(testFrame(t)); !errors.Is(err, ErrDisconnected) {
		t.Errorf("expected ErrDisconnected, got %v", err)
	}
}

func TestOpenCreditSurvivesReattach(t *testing.T) {
	receiver := NewReceiver()
	srv := httptest.NewServer(NewListener(receiver))
	defer srv.Close()
	defer receiver.Close()

	// Credit issued before any producer exists.
	receiver.RequestNext()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := Dial(context.Background(), registry.Endpoint{URL: url})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	waitFor(t, "producer attach", receiver.Active)

	// The open credit was granted on attach.
	f := testFrame(t)
	waitFor(t, "credited publish", func() bool { return conn.Publish(f) == nil })

	if _, err := receiver.ConsumeNext(context.Background()); err != nil {
		t.Fatalf("ConsumeNext failed: %v", err)
	}
}
