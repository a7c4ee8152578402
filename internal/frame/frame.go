package frame

import (
	"fmt"
	"image"
	"time"
)

// BytesPerPixel is the size of one packed RGBA pixel.
const BytesPerPixel = 4

// Buffer is one video frame: a fixed-size packed RGBA pixel block plus
// capture metadata.
//
// Buffers are immutable once published: the producer must not touch Pix
// after handing the buffer to the channel, and consumers treat it as
// read-only. Sharing is by reference, no per-frame copies are made past
// the wire decode.
type Buffer struct {
	Width       int
	Height      int
	BytesPerRow int

	// Pix holds the packed pixel data, row-major, BytesPerRow bytes per row.
	Pix []byte

	// CaptureTime is when the producer captured the frame (source clock).
	CaptureTime time.Time

	// Seq is assigned by whichever component accounts for the frame
	// (publish sequence on the producer side, tick sequence on output).
	Seq uint64
}

// New validates the geometry and wraps pix into a Buffer.
// The pixel block is adopted, not copied.
func New(width, height, bytesPerRow int, pix []byte, captureTime time.Time) (*Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame geometry %dx%d", width, height)
	}
	if bytesPerRow < width*BytesPerPixel {
		return nil, fmt.Errorf("bytes per row %d too small for width %d", bytesPerRow, width)
	}
	if len(pix) != bytesPerRow*height {
		return nil, fmt.Errorf("pixel block is %d bytes, geometry needs %d", len(pix), bytesPerRow*height)
	}
	return &Buffer{
		Width:       width,
		Height:      height,
		BytesPerRow: bytesPerRow,
		Pix:         pix,
		CaptureTime: captureTime,
	}, nil
}

// FromRGBA wraps an *image.RGBA without copying its pixel storage.
func FromRGBA(img *image.RGBA, captureTime time.Time) (*Buffer, error) {
	b := img.Bounds()
	return New(b.Dx(), b.Dy(), img.Stride, img.Pix, captureTime)
}

// RGBA presents the buffer as an *image.RGBA sharing the same pixel storage.
// Callers must honor the read-only contract.
func (b *Buffer) RGBA() *image.RGBA {
	return &image.RGBA{
		Pix:    b.Pix,
		Stride: b.BytesPerRow,
		Rect:   image.Rect(0, 0, b.Width, b.Height),
	}
}

// Size returns the pixel payload size in bytes.
func (b *Buffer) Size() int {
	return b.BytesPerRow * b.Height
}
