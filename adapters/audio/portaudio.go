// Package audio provides CaptureDevice and PlaybackDevice implementations:
// PortAudio streams for real hardware and in-memory pipes for tests.
package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// portaudio.Initialize is process-global and not reference counted safely
// across concurrent callers, so both devices share one guarded init.
var (
	paMu   sync.Mutex
	paRefs int
)

func paAcquire() error {
	paMu.Lock()
	defer paMu.Unlock()
	if paRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("audio: initialize portaudio: %w", err)
		}
	}
	paRefs++
	return nil
}

func paRelease() {
	paMu.Lock()
	defer paMu.Unlock()
	paRefs--
	if paRefs == 0 {
		portaudio.Terminate()
	}
}

// Capture is a CaptureDevice reading mono int16 frames from the default
// PortAudio input stream.
type Capture struct {
	sampleRate   int
	frameSamples int

	buf    []int16
	stream *portaudio.Stream
}

// NewCapture creates a capture device for the given rate and frame size.
func NewCapture(sampleRate, frameSamples int) *Capture {
	return &Capture{sampleRate: sampleRate, frameSamples: frameSamples}
}

// Start implements repositories.CaptureDevice.
func (c *Capture) Start(_ context.Context) error {
	if err := paAcquire(); err != nil {
		return err
	}
	c.buf = make([]int16, c.frameSamples)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(c.sampleRate), len(c.buf), c.buf)
	if err != nil {
		paRelease()
		return fmt.Errorf("audio: open capture stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		paRelease()
		return fmt.Errorf("audio: start capture stream: %w", err)
	}
	c.stream = stream
	return nil
}

// ReadFrame implements repositories.CaptureDevice.
func (c *Capture) ReadFrame(dst []int16) error {
	if err := c.stream.Read(); err != nil {
		return fmt.Errorf("audio: read frame: %w", err)
	}
	copy(dst, c.buf)
	return nil
}

// Close implements repositories.CaptureDevice.
func (c *Capture) Close() error {
	if c.stream == nil {
		return nil
	}
	err := c.stream.Close()
	c.stream = nil
	paRelease()
	return err
}

// Playback is a PlaybackDevice writing mono int16 frames to the default
// PortAudio output stream.
type Playback struct {
	sampleRate   int
	frameSamples int

	buf    []int16
	stream *portaudio.Stream
}

// NewPlayback creates a playback device for the given rate and frame size.
func NewPlayback(sampleRate, frameSamples int) *Playback {
	return &Playback{sampleRate: sampleRate, frameSamples: frameSamples}
}

// Start implements repositories.PlaybackDevice.
func (p *Playback) Start(_ context.Context) error {
	if err := paAcquire(); err != nil {
		return err
	}
	p.buf = make([]int16, p.frameSamples)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(p.sampleRate), len(p.buf), p.buf)
	if err != nil {
		paRelease()
		return fmt.Errorf("audio: open playback stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		paRelease()
		return fmt.Errorf("audio: start playback stream: %w", err)
	}
	p.stream = stream
	return nil
}

// WriteFrame implements repositories.PlaybackDevice. Samples beyond the
// device frame size are written in device-sized blocks; a short tail is
// zero-padded.
func (p *Playback) WriteFrame(samples []int16) error {
	for len(samples) > 0 {
		n := copy(p.buf, samples)
		for i := n; i < len(p.buf); i++ {
			p.buf[i] = 0
		}
		if err := p.stream.Write(); err != nil {
			return fmt.Errorf("audio: write frame: %w", err)
		}
		samples = samples[n:]
	}
	return nil
}

// Close implements repositories.PlaybackDevice.
func (p *Playback) Close() error {
	if p.stream == nil {
		return nil
	}
	err := p.stream.Close()
	p.stream = nil
	paRelease()
	return err
}
