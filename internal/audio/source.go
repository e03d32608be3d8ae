// Package audio runs the capture side of the engine: the microphone source
// with its bounded frame queue, and the wake-word gate in front of the
// session controller.
package audio

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/second-state/echokit-box/domain/entities"
	"github.com/second-state/echokit-box/domain/repositories"
)

// Source captures fixed-rate PCM frames into a bounded queue. Capture has a
// hard real-time deadline: if the consumer falls behind, the oldest queued
// frame is dropped so the capture loop itself never blocks past one frame
// period. Drops are counted and logged, never escalated.
type Source struct {
	device       repositories.CaptureDevice
	frameSamples int
	queue        chan entities.AudioFrame
	logger       *zap.Logger

	seq      uint32
	overruns atomic.Uint64
}

// NewSource creates a source reading frameSamples-sized frames from device
// into a queue bounded at queueDepth.
func NewSource(device repositories.CaptureDevice, frameSamples, queueDepth int, logger *zap.Logger) *Source {
	return &Source{
		device:       device,
		frameSamples: frameSamples,
		queue:        make(chan entities.AudioFrame, queueDepth),
		logger:       logger,
	}
}

// Frames returns the capture queue.
func (s *Source) Frames() <-chan entities.AudioFrame {
	return s.queue
}

// Overruns returns how many frames have been dropped so far.
func (s *Source) Overruns() uint64 {
	return s.overruns.Load()
}

// Run captures until the context is cancelled or the device fails. It is the
// only goroutine touching the capture device.
func (s *Source) Run(ctx context.Context) error {
	if err := s.device.Start(ctx); err != nil {
		return err
	}
	defer s.device.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		samples := make([]int16, s.frameSamples)
		if err := s.device.ReadFrame(samples); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return err
		}

		frame := entities.AudioFrame{
			Samples:  samples,
			Seq:      s.seq,
			Captured: time.Now(),
		}
		s.seq++
		s.enqueue(frame)
	}
}

// enqueue adds a frame, dropping the oldest queued frame on overflow. A
// dropped frame is not retried.
func (s *Source) enqueue(frame entities.AudioFrame) {
	select {
	case s.queue <- frame:
		return
	default:
	}

	select {
	case dropped := <-s.queue:
		n := s.overruns.Add(1)
		if n == 1 || n%100 == 0 {
			s.logger.Warn("capture overrun, dropping oldest frame",
				zap.Uint32("droppedSeq", dropped.Seq),
				zap.Uint64("overruns", n))
		}
	default:
	}

	select {
	case s.queue <- frame:
	default:
		// Consumer raced us for the slot; drop the new frame instead.
		s.overruns.Add(1)
	}
}
