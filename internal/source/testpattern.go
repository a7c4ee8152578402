// Package source provides the stand-in frame producer used by the
// producer command: a moving test pattern emitted at the capture rate
// through a push callback, the same interface the real filter pipeline
// delivers frames on.
package source

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/camrelay/camrelay/internal/frame"
	"github.com/camrelay/camrelay/internal/logger"
)

// FrameFunc receives each captured frame. The buffer is immutable once
// handed over.
type FrameFunc func(*frame.Buffer)

// PatternSource emits a deterministic moving test pattern at a fixed rate.
type PatternSource struct {
	width    int
	height   int
	interval time.Duration
	onFrame  FrameFunc

	startedMu sync.Mutex
	started   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewPatternSource creates a pattern source at the given geometry and rate.
func NewPatternSource(width, height, fps int, onFrame FrameFunc) *PatternSource {
	if fps <= 0 {
		fps = 30
	}
	return &PatternSource{
		width:    width,
		height:   height,
		interval: time.Second / time.Duration(fps),
		onFrame:  onFrame,
	}
}

// Start begins emitting frames. Returns an error if already running.
func (p *PatternSource) Start(ctx context.Context) error {
	p.startedMu.Lock()
	defer p.startedMu.Unlock()

	if p.started {
		return fmt.Errorf("pattern source already started")
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.started = true

	p.wg.Add(1)
	go p.run(ctx)

	logger.WithComponent("source").Info().
		Int("width", p.width).
		Int("height", p.height).
		Dur("interval", p.interval).
		Msg("Pattern source started")
	return nil
}

// Stop halts frame emission. Idempotent.
func (p *PatternSource) Stop() error {
	p.startedMu.Lock()
	if !p.started {
		p.startedMu.Unlock()
		return nil
	}
	p.started = false
	p.startedMu.Unlock()

	p.cancel()
	p.wg.Wait()
	return nil
}

func (p *PatternSource) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var idx uint64
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.onFrame(p.Render(idx, now))
			idx++
		}
	}
}

// Render draws the pattern for one frame index: a vertical bar sweeping
// over a static gradient. Deterministic per index.
func (p *PatternSource) Render(idx uint64, now time.Time) *frame.Buffer {
	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))

	barX := int(idx % uint64(p.width))
	barW := p.width / 16
	if barW < 4 {
		barW = 4
	}

	for y := 0; y < p.height; y++ {
		g := uint8(255 * y / p.height)
		for x := 0; x < p.width; x++ {
			c := color.RGBA{R: uint8(255 * x / p.width), G: g, B: 96, A: 255}
			if dx := x - barX; dx >= 0 && dx < barW {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}

	buf, _ := frame.FromRGBA(img, now)
	buf.Seq = idx
	return buf
}
