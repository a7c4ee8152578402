package frame

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	fallbackStripeHeight = 40
	fallbackTextPadding  = 8
)

var fallbackStripes = []color.RGBA{
	{R: 36, G: 41, B: 46, A: 255},
	{R: 70, G: 130, B: 180, A: 255},
}

// Generator produces deterministic synthetic frames at a fixed geometry,
// used by the cadence driver whenever no real frame is held. The striped
// background is rendered once; each frame only copies it and draws the
// frame-counter overlay, so generation stays well under the tick period.
type Generator struct {
	width      int
	height     int
	background []byte
}

// NewGenerator creates a fallback generator for the target geometry.
func NewGenerator(width, height int) *Generator {
	bg := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		stripe := fallbackStripes[(y/fallbackStripeHeight)%len(fallbackStripes)]
		for x := 0; x < width; x++ {
			bg.SetRGBA(x, y, stripe)
		}
	}
	return &Generator{
		width:      width,
		height:     height,
		background: bg.Pix,
	}
}

// Generate renders the fallback frame for the given output sequence number.
// The sequence appears in the overlay so a viewer can tell the stream is
// alive even though no real frames are arriving.
func (g *Generator) Generate(seq uint64, now time.Time) *Buffer {
	img := image.NewRGBA(image.Rect(0, 0, g.width, g.height))
	copy(img.Pix, g.background)

	g.drawLabel(img, fmt.Sprintf("no signal  frame %d", seq))

	buf, _ := FromRGBA(img, now)
	buf.Seq = seq
	return buf
}

// drawLabel draws the counter overlay near the top-left corner.
func (g *Generator) drawLabel(img *image.RGBA, text string) {
	face := basicfont.Face7x13

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: 255, G: 255, B: 255, A: 255}),
		Face: face,
	}

	textWidth := int(d.MeasureString(text) >> 6)
	boxW := textWidth + fallbackTextPadding*2
	boxH := face.Height + fallbackTextPadding*2
	if boxW > g.width {
		boxW = g.width
	}
	if boxH > g.height {
		boxH = g.height
	}

	box := image.Rect(fallbackTextPadding, fallbackTextPadding,
		fallbackTextPadding+boxW, fallbackTextPadding+boxH)
	draw.Draw(img, box.Intersect(img.Bounds()),
		&image.Uniform{C: color.RGBA{A: 200}}, image.Point{}, draw.Over)

	d.Dot = fixed.Point26_6{
		X: fixed.I(fallbackTextPadding * 2),
		Y: fixed.I(fallbackTextPadding + face.Ascent + fallbackTextPadding/2),
	}
	d.DrawString(text)
}
