package repositories

import "context"

// CaptureDevice is the exclusively-owned microphone handle. Exactly one
// goroutine reads from it; everything downstream receives frames by message
// passing.
type CaptureDevice interface {
	// Start opens the device and begins capturing.
	Start(ctx context.Context) error

	// ReadFrame fills dst with the next block of samples. It blocks for at
	// most one frame period.
	ReadFrame(dst []int16) error

	// Close stops capture and releases the device.
	Close() error
}

// PlaybackDevice is the exclusively-owned speaker handle.
type PlaybackDevice interface {
	// Start opens the device for rendering.
	Start(ctx context.Context) error

	// WriteFrame renders a block of samples, blocking until the device has
	// consumed it.
	WriteFrame(samples []int16) error

	// Close stops playback and releases the device.
	Close() error
}

// Display is the exclusively-owned display handle. The presenter is its only
// caller.
type Display interface {
	// Render shows a glyph with an optional caption. Implementations may
	// assume calls are already de-duplicated.
	Render(glyph string, caption string) error

	// Close releases the display.
	Close() error
}
