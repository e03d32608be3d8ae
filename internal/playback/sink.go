// Package playback renders decoded response audio against the output
// device's timing.
package playback

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/second-state/echokit-box/domain/entities"
	"github.com/second-state/echokit-box/domain/repositories"
)

// DefaultStallTimeout bounds how long the sink tolerates an empty buffer
// before reporting a playback failure. Brief underruns inside the bound are
// rendered as silence, not errors.
const DefaultStallTimeout = 5 * time.Second

// Sink buffers response chunks in arrival order and plays them. One sink
// serves one session: create it on session start, Finish it when the backend
// signals the end of the response, and read Done for the outcome.
type Sink struct {
	device       repositories.PlaybackDevice
	stallTimeout time.Duration
	logger       *zap.Logger

	chunks   chan []int16
	finish   chan struct{}
	done     chan error
	finished bool
}

// NewSink creates a sink for one session's response audio.
func NewSink(device repositories.PlaybackDevice, stallTimeout time.Duration, logger *zap.Logger) *Sink {
	if stallTimeout <= 0 {
		stallTimeout = DefaultStallTimeout
	}
	return &Sink{
		device:       device,
		stallTimeout: stallTimeout,
		logger:       logger,
		chunks:       make(chan []int16, 256),
		finish:       make(chan struct{}),
		done:         make(chan error, 1),
	}
}

// NewSinkFactory returns a per-session sink constructor. Every sink opens
// and closes its own device handle: an old sink's deferred Close must not
// touch the device the next session's sink has already started.
func NewSinkFactory(newDevice func() repositories.PlaybackDevice, stallTimeout time.Duration, logger *zap.Logger) func() *Sink {
	return func() *Sink {
		return NewSink(newDevice(), stallTimeout, logger)
	}
}

// Enqueue adds one decoded chunk, little-endian PCM as it arrives off the
// wire. Chunks play in arrival order.
func (s *Sink) Enqueue(pcm []byte) error {
	samples := decodePCM(pcm)
	select {
	case s.chunks <- samples:
		return nil
	default:
		return fmt.Errorf("%w: playback buffer full", entities.ErrPlaybackStall)
	}
}

// Finish tells the sink no further chunks are expected. Playback completes
// once everything already buffered has rendered.
func (s *Sink) Finish() {
	select {
	case <-s.finish:
	default:
		close(s.finish)
	}
}

// Done reports the playback outcome: nil on completion, ErrPlaybackStall if
// the buffer stayed empty past the stall timeout.
func (s *Sink) Done() <-chan error {
	return s.done
}

// Run renders until completion, stall or cancellation. It is the only
// goroutine touching the playback device.
func (s *Sink) Run(ctx context.Context) error {
	if err := s.device.Start(ctx); err != nil {
		err = fmt.Errorf("%w: %v", entities.ErrPlaybackStall, err)
		s.done <- err
		return err
	}
	defer s.device.Close()

	// The stall timer arms on the first chunk. Until audio starts flowing
	// the buffer is expected to be empty: the backend is still composing
	// its response, not underrunning.
	var stall *time.Timer
	var stallC <-chan time.Time
	defer func() {
		if stall != nil {
			stall.Stop()
		}
	}()

	for {
		if s.finished {
			// No more chunks are coming; drain what is buffered and report
			// completion.
			select {
			case samples := <-s.chunks:
				if err := s.write(samples); err != nil {
					s.done <- err
					return err
				}
			default:
				s.done <- nil
				return nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case samples := <-s.chunks:
			if stall == nil {
				stall = time.NewTimer(s.stallTimeout)
				stallC = stall.C
			} else {
				if !stall.Stop() {
					select {
					case <-stall.C:
					default:
					}
				}
				stall.Reset(s.stallTimeout)
			}
			if err := s.write(samples); err != nil {
				s.done <- err
				return err
			}

		case <-s.finish:
			s.finished = true

		case <-stallC:
			err := fmt.Errorf("%w: no audio for %s", entities.ErrPlaybackStall, s.stallTimeout)
			s.logger.Warn("playback stalled", zap.Duration("timeout", s.stallTimeout))
			s.done <- err
			return err
		}
	}
}

func (s *Sink) write(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	if err := s.device.WriteFrame(samples); err != nil {
		return fmt.Errorf("%w: %v", entities.ErrPlaybackStall, err)
	}
	return nil
}

func decodePCM(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}
