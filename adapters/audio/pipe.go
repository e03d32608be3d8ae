package audio

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCaptureClosed is returned by PipeCapture.ReadFrame after Close.
var ErrCaptureClosed = errors.New("audio: capture closed")

// PipeCapture is an in-memory CaptureDevice fed by tests.
type PipeCapture struct {
	frames chan []int16
	done   chan struct{}
	once   sync.Once
}

// NewPipeCapture creates a pipe capture with room for backlog frames.
func NewPipeCapture(backlog int) *PipeCapture {
	return &PipeCapture{
		frames: make(chan []int16, backlog),
		done:   make(chan struct{}),
	}
}

// Feed queues one frame for ReadFrame to return.
func (p *PipeCapture) Feed(samples []int16) {
	cp := make([]int16, len(samples))
	copy(cp, samples)
	select {
	case p.frames <- cp:
	case <-p.done:
	}
}

// Start implements repositories.CaptureDevice.
func (p *PipeCapture) Start(context.Context) error { return nil }

// ReadFrame implements repositories.CaptureDevice.
func (p *PipeCapture) ReadFrame(dst []int16) error {
	select {
	case frame := <-p.frames:
		copy(dst, frame)
		return nil
	case <-p.done:
		return ErrCaptureClosed
	}
}

// Close implements repositories.CaptureDevice.
func (p *PipeCapture) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

// PipePlayback is an in-memory PlaybackDevice recording what was rendered.
// An optional per-frame delay simulates output-device timing.
type PipePlayback struct {
	mu      sync.Mutex
	written [][]int16

	// FrameDelay, if set, is how long each WriteFrame blocks.
	FrameDelay time.Duration
}

// NewPipePlayback creates an empty pipe playback device.
func NewPipePlayback() *PipePlayback {
	return &PipePlayback{}
}

// Start implements repositories.PlaybackDevice.
func (p *PipePlayback) Start(context.Context) error { return nil }

// WriteFrame implements repositories.PlaybackDevice.
func (p *PipePlayback) WriteFrame(samples []int16) error {
	if p.FrameDelay > 0 {
		time.Sleep(p.FrameDelay)
	}
	cp := make([]int16, len(samples))
	copy(cp, samples)
	p.mu.Lock()
	p.written = append(p.written, cp)
	p.mu.Unlock()
	return nil
}

// Written returns the frames rendered so far.
func (p *PipePlayback) Written() [][]int16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]int16, len(p.written))
	copy(out, p.written)
	return out
}

// Close implements repositories.PlaybackDevice.
func (p *PipePlayback) Close() error { return nil }
