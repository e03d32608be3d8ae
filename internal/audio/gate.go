package audio

import (
	"context"

	"go.uber.org/zap"

	"github.com/second-state/echokit-box/domain/entities"
	"github.com/second-state/echokit-box/domain/repositories"
)

// Gate feeds captured frames to the wake engine and forwards them to the
// session controller. Frames are classified only while the device state
// permits it; outside that window the classification result is discarded
// before it exists, so a spuriously firing engine can never raise a wake
// event during an active session.
type Gate struct {
	engine  repositories.WakeEngine
	stateFn func() entities.DeviceState
	logger  *zap.Logger

	wake   chan struct{}
	frames chan entities.AudioFrame
}

// NewGate creates a gate. stateFn must return the current device state; the
// session controller provides it.
func NewGate(engine repositories.WakeEngine, stateFn func() entities.DeviceState, logger *zap.Logger) *Gate {
	return &Gate{
		engine:  engine,
		stateFn: stateFn,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		frames:  make(chan entities.AudioFrame, 8),
	}
}

// Wake returns the wake-event channel. At most one event is pending at a
// time; a second detection before the first is consumed is folded into it.
func (g *Gate) Wake() <-chan struct{} {
	return g.wake
}

// Frames returns the pass-through frame channel for the streaming path.
func (g *Gate) Frames() <-chan entities.AudioFrame {
	return g.frames
}

// Run consumes the capture queue until the context is cancelled.
func (g *Gate) Run(ctx context.Context, in <-chan entities.AudioFrame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame, ok := <-in:
			if !ok {
				return nil
			}
			state := g.stateFn()
			if state.AllowsClassification() {
				detected, err := g.engine.Classify(frame.Samples)
				if err != nil {
					g.logger.Warn("wake classification failed", zap.Error(err))
				} else if detected {
					g.engine.Reset()
					select {
					case g.wake <- struct{}{}:
					default:
					}
				}
			}

			// Forward without blocking the capture path; the consumer only
			// listens while a session is active and has its own bound.
			select {
			case g.frames <- frame:
			default:
			}
		}
	}
}
