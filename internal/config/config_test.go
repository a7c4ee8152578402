package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMissingFileCreatedWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config file not written: %v", err)
	}

	cfg := m.Get()
	if cfg.Video.Width != 1280 || cfg.Video.Height != 720 || cfg.Video.FPS != 30 {
		t.Errorf("unexpected default video config %+v", cfg.Video)
	}
	if cfg.Device.Name != "CamRelay Camera" {
		t.Errorf("unexpected default device name %q", cfg.Device.Name)
	}
	if cfg.Producer.MaxRetries != 5 || cfg.Producer.RetryDelayMs != 500 || cfg.Producer.FailedPublishBudget != 60 {
		t.Errorf("unexpected default producer config %+v", cfg.Producer)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	cfg := m.Get()
	cfg.Video.FPS = 60
	cfg.Device.Name = "Bench Cam"
	cfg.Consumer.ListenPort = 9100
	if err := m.Update(cfg); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	m2, err := NewManager(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	got := m2.Get()
	if got.Video.FPS != 60 || got.Device.Name != "Bench Cam" || got.Consumer.ListenPort != 9100 {
		t.Errorf("round trip lost changes: %+v", got)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	partial := "device:\n  name: Studio Cam\n"
	if err := os.WriteFile(path, []byte(partial), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	cfg := m.Get()
	if cfg.Device.Name != "Studio Cam" {
		t.Errorf("override lost: %q", cfg.Device.Name)
	}
	if cfg.Video.FPS != 30 || cfg.Consumer.ListenPort != 8090 {
		t.Errorf("unset fields did not keep defaults: %+v", cfg)
	}
}

func TestMalformedFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("video: [not a mapping"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := NewManager(path); err == nil {
		t.Error("expected error for malformed config")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	m.Get().Video.FPS = 999
	if got := m.Get().Video.FPS; got != 30 {
		t.Errorf("Get exposed internal state, fps=%d", got)
	}
}

func TestIntervalFromFPS(t *testing.T) {
	cases := []struct {
		fps  int
		want time.Duration
	}{
		{30, time.Second / 30},
		{60, time.Second / 60},
		{0, time.Second / 30},
		{-5, time.Second / 30},
	}
	for _, tc := range cases {
		v := VideoConfig{FPS: tc.fps}
		if got := v.Interval(); got != tc.want {
			t.Errorf("fps %d: interval %v, want %v", tc.fps, got, tc.want)
		}
	}
}

func TestRetryDelayMillis(t *testing.T) {
	p := ProducerConfig{RetryDelayMs: 500}
	if got := p.RetryDelay(); got != 500*time.Millisecond {
		t.Errorf("unexpected retry delay %v", got)
	}
}
