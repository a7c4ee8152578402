package output

import (
	"github.com/camrelay/camrelay/internal/frame"
)

// Output defines the interface for downstream frame sinks fed by the
// cadence driver. This allows swapping between different output methods:
// - MJPEG HTTP preview stream
// - a platform virtual-camera writer
// - etc.
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame sends a frame to the output. The buffer is read-only.
	WriteFrame(f *frame.Buffer) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	Width  int
	Height int
	FPS    int
}
