package frame

import (
	"bytes"
	"testing"
	"time"
)

func TestFallbackGeometry(t *testing.T) {
	gen := NewGenerator(320, 240)
	f := gen.Generate(1, time.Now())

	if f.Width != 320 || f.Height != 240 {
		t.Errorf("expected 320x240, got %dx%d", f.Width, f.Height)
	}
	if f.BytesPerRow != 320*BytesPerPixel {
		t.Errorf("unexpected bytesPerRow %d", f.BytesPerRow)
	}
	if len(f.Pix) != f.BytesPerRow*f.Height {
		t.Errorf("pixel block size %d does not match geometry", len(f.Pix))
	}
	if f.Seq != 1 {
		t.Errorf("expected seq 1, got %d", f.Seq)
	}
}

func TestFallbackDeterministic(t *testing.T) {
	now := time.Now()
	a := NewGenerator(160, 120).Generate(42, now)
	b := NewGenerator(160, 120).Generate(42, now)

	if !bytes.Equal(a.Pix, b.Pix) {
		t.Error("same sequence produced different pixels")
	}
}

func TestFallbackSequenceChangesOverlay(t *testing.T) {
	gen := NewGenerator(160, 120)
	a := gen.Generate(1, time.Now())
	b := gen.Generate(2, time.Now())

	if bytes.Equal(a.Pix, b.Pix) {
		t.Error("counter overlay did not change with sequence number")
	}
}

func TestFallbackCheapEnoughForCadence(t *testing.T) {
	gen := NewGenerator(1280, 720)
	start := time.Now()
	for i := uint64(0); i < 30; i++ {
		gen.Generate(i, start)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("30 fallback frames took %v, too slow for a 33ms tick", elapsed)
	}
}
