// Package usecase holds the orchestration core: the session controller that
// owns the device state and serializes every external stimulus into it.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/second-state/echokit-box/domain/entities"
	"github.com/second-state/echokit-box/domain/repositories"
	"github.com/second-state/echokit-box/internal/provisioning"
	"github.com/second-state/echokit-box/internal/stream"
)

// DefaultConnectTimeout bounds dial plus handshake for one session attempt.
const DefaultConnectTimeout = 10 * time.Second

// Streamer is the backend connection as the controller sees it. One
// connection per session, no retry below this layer.
type Streamer interface {
	Connect(ctx context.Context, address string, session *entities.Session) error
	SendFrame(frame entities.AudioFrame) error
	Drain()
	Abort()
	Events() <-chan stream.Event
}

// Player renders one session's response audio.
type Player interface {
	Run(ctx context.Context) error
	Enqueue(pcm []byte) error
	Finish()
	Done() <-chan error
}

// Viewer is the display surface the controller reflects state into.
type Viewer interface {
	Show(state entities.DeviceState, kind entities.ErrorKind, caption string)
}

// SessionController is the single authority over DeviceState. All stimuli —
// wake events, downlink messages, playback outcomes, provisioning commits,
// timers — funnel into one goroutine, so every transition is serialized and
// at most one session can ever exist.
type SessionController struct {
	logger  *zap.Logger
	store   repositories.ConfigStore
	prov    *provisioning.Service
	client  Streamer
	newSink func() Player
	display Viewer
	backoff *Backoff

	// Bound on dial plus handshake, so a dead backend cannot park the
	// controller loop and starve the other stimuli.
	connectTimeout time.Duration

	wake   <-chan struct{}
	frames <-chan entities.AudioFrame

	state atomic.Int32

	identity entities.NetworkIdentity
	session  *entities.Session
	sink     Player
	sinkStop context.CancelFunc

	reprovision chan struct{}

	// Set while in the error state; fires the Error -> Idle transition.
	recover *time.Timer

	// Wake events before this instant are ignored after a failure.
	holdUntil time.Time
}

// ControllerConfig carries the controller's collaborators.
type ControllerConfig struct {
	Store        repositories.ConfigStore
	Provisioning *provisioning.Service
	Client       Streamer
	NewSink      func() Player
	Display      Viewer
	Wake         <-chan struct{}
	Frames       <-chan entities.AudioFrame
	Backoff      *Backoff

	// ConnectTimeout bounds a session's dial plus handshake. Zero means
	// DefaultConnectTimeout.
	ConnectTimeout time.Duration
}

// NewSessionController wires a controller in the booting state.
func NewSessionController(cfg ControllerConfig, logger *zap.Logger) *SessionController {
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = NewBackoff(DefaultBackoffBase, DefaultBackoffCap)
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	c := &SessionController{
		logger:         logger,
		store:          cfg.Store,
		prov:           cfg.Provisioning,
		client:         cfg.Client,
		newSink:        cfg.NewSink,
		display:        cfg.Display,
		backoff:        backoff,
		connectTimeout: connectTimeout,
		wake:           cfg.Wake,
		frames:         cfg.Frames,
		reprovision:    make(chan struct{}, 1),
	}
	c.state.Store(int32(entities.StateBooting))
	return c
}

// State returns the current device state. Safe from any goroutine; the wake
// gate and the portal poll it.
func (c *SessionController) State() entities.DeviceState {
	return entities.DeviceState(c.state.Load())
}

// Identity returns the provisioned identity as of the last commit or boot.
func (c *SessionController) Identity() entities.NetworkIdentity {
	return c.identity
}

// RequestReprovision asks the controller to drop into the provisioning
// state, aborting any active session first. Triggered by the local control
// surface.
func (c *SessionController) RequestReprovision() {
	select {
	case c.reprovision <- struct{}{}:
	default:
	}
}

// Run drives the controller until the context is cancelled. It must be the
// only goroutine calling any of the transition helpers.
func (c *SessionController) Run(ctx context.Context) error {
	c.boot(ctx)

	for {
		// Session-scoped channels are nil outside a session, which parks
		// their select arms.
		var events <-chan stream.Event
		var sinkDone <-chan error
		if c.session != nil {
			events = c.client.Events()
			sinkDone = c.sink.Done()
		}
		var recovered <-chan time.Time
		if c.recover != nil {
			recovered = c.recover.C
		}

		select {
		case <-ctx.Done():
			c.teardownSession()
			return ctx.Err()

		case <-c.wake:
			c.handleWake(ctx)

		case frame := <-c.frames:
			c.handleFrame(frame)

		case ev := <-events:
			c.handleDownlink(ev)

		case err := <-sinkDone:
			c.handlePlaybackDone(err)

		case <-c.prov.Updated():
			c.tryCommit(ctx)

		case <-c.reprovision:
			c.handleReprovision()

		case <-recovered:
			c.recover = nil
			c.logger.Info("backoff elapsed, recovering")
			c.setState(entities.StateIdle, entities.ErrorNone, "")
		}
	}
}

// boot resolves the initial state from the persisted identity.
func (c *SessionController) boot(ctx context.Context) {
	id, err := provisioning.LoadIdentity(ctx, c.store)
	if err != nil {
		if !errors.Is(err, entities.ErrNotProvisioned) {
			c.logger.Error("config store unreadable at boot", zap.Error(err))
		}
		c.logger.Info("no provisioned identity, entering provisioning")
		c.setState(entities.StateProvisioning, entities.ErrorNone, "")
		return
	}
	if err := id.Validate(); err != nil {
		c.logger.Warn("persisted identity invalid, entering provisioning", zap.Error(err))
		c.setState(entities.StateProvisioning, entities.ErrorNone, "")
		return
	}
	c.identity = id
	c.logger.Info("booted with provisioned identity",
		zap.String("network", id.NetworkName),
		zap.String("backend", id.BackendAddress))
	c.setState(entities.StateIdle, entities.ErrorNone, "")
}

// handleWake runs Idle -> Listening -> Streaming, or falls back to Idle on
// handshake failure. Wake events in any other state have no effect.
func (c *SessionController) handleWake(ctx context.Context) {
	if c.State() != entities.StateIdle {
		c.logger.Debug("wake ignored", zap.String("state", c.State().String()))
		return
	}
	if now := time.Now(); now.Before(c.holdUntil) {
		c.logger.Debug("wake ignored during holdoff",
			zap.Duration("remaining", c.holdUntil.Sub(now)))
		return
	}

	c.setState(entities.StateListening, entities.ErrorNone, "")

	session := entities.NewSession()
	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	err := c.client.Connect(dialCtx, c.identity.BackendAddress, session)
	cancel()
	if err != nil {
		c.logger.Warn("handshake failed", zap.Error(err))
		c.holdUntil = time.Now().Add(c.backoff.Next())
		c.setState(entities.StateIdle, entities.ErrorNone, "")
		return
	}

	c.session = session
	c.startPlayback(ctx)
	c.setState(entities.StateStreaming, entities.ErrorNone, "")
}

func (c *SessionController) startPlayback(ctx context.Context) {
	sinkCtx, cancel := context.WithCancel(ctx)
	c.sink = c.newSink()
	c.sinkStop = cancel
	go c.sink.Run(sinkCtx)
}

// handleFrame forwards captured audio while streaming and discards it
// otherwise.
func (c *SessionController) handleFrame(frame entities.AudioFrame) {
	if c.State() != entities.StateStreaming {
		return
	}
	if err := c.client.SendFrame(frame); err != nil {
		c.failSession(err)
	}
}

// handleDownlink routes one backend message per the current state.
func (c *SessionController) handleDownlink(ev stream.Event) {
	if ev.Err != nil {
		c.failSession(ev.Err)
		return
	}

	switch ev.Msg.Type {
	case stream.ServerASR:
		c.display.Show(c.State(), entities.ErrorNone, ev.Msg.Text)

	case stream.ServerAudio:
		if err := c.sink.Enqueue(ev.Msg.Data); err != nil {
			c.failSession(err)
		}

	case stream.ServerTurnEnd, stream.ServerBye:
		if c.State() != entities.StateStreaming {
			return
		}
		c.client.Drain()
		c.sink.Finish()
		c.setState(entities.StateSpeaking, entities.ErrorNone, "")

	case stream.ServerError:
		c.failSession(fmt.Errorf("%w: backend error code %d: %s",
			entities.ErrProtocol, ev.Msg.Code, ev.Msg.Text))

	default:
		c.logger.Debug("ignoring downlink message", zap.String("type", ev.Msg.Type))
	}
}

// handlePlaybackDone completes the session, or fails it on a stall.
func (c *SessionController) handlePlaybackDone(err error) {
	if err != nil {
		c.failSession(err)
		return
	}
	c.logger.Info("session complete",
		zap.String("sessionID", c.session.ID),
		zap.Duration("age", c.session.Age()))
	c.teardownSession()
	c.backoff.Reset()
	c.setState(entities.StateIdle, entities.ErrorNone, "")
}

// failSession destroys the session and enters the error state, which is left
// for Idle once the backoff delay elapses.
func (c *SessionController) failSession(err error) {
	if c.session == nil {
		return
	}
	age := c.session.Age()
	c.logger.Error("session failed",
		zap.String("sessionID", c.session.ID),
		zap.Duration("age", age),
		zap.Error(err))
	c.teardownSession()

	if age >= sustainedSessionAge {
		c.backoff.Reset()
	}
	delay := c.backoff.Next()
	c.holdUntil = time.Now().Add(delay)
	c.recover = time.NewTimer(delay)
	c.setState(entities.StateError, entities.KindOf(err), "")
}

// teardownSession closes the connection and stops playback. Safe to call in
// any state.
func (c *SessionController) teardownSession() {
	if c.session == nil {
		return
	}
	c.client.Abort()
	if c.sinkStop != nil {
		c.sinkStop()
		c.sinkStop = nil
	}
	c.sink = nil
	c.session = nil
}

// tryCommit applies staged provisioning values when the state permits it.
func (c *SessionController) tryCommit(ctx context.Context) {
	state := c.State()
	if !state.AllowsCommit() {
		return
	}
	if !c.prov.Staged(ctx) {
		return
	}
	id, err := c.prov.Commit(ctx, state)
	if err != nil {
		c.logger.Warn("provisioning commit failed", zap.Error(err))
		return
	}
	c.identity = id
	if state == entities.StateProvisioning {
		c.setState(entities.StateIdle, entities.ErrorNone, "")
	}
}

// handleReprovision aborts any session and drops into provisioning.
func (c *SessionController) handleReprovision() {
	c.teardownSession()
	if c.recover != nil {
		c.recover.Stop()
		c.recover = nil
	}
	c.logger.Info("re-provision requested")
	c.setState(entities.StateProvisioning, entities.ErrorNone, "")
}

func (c *SessionController) setState(next entities.DeviceState, kind entities.ErrorKind, caption string) {
	prev := c.State()
	c.state.Store(int32(next))
	if prev != next {
		c.logger.Info("state transition",
			zap.String("from", prev.String()),
			zap.String("to", next.String()))
	}
	if c.display != nil {
		c.display.Show(next, kind, caption)
	}
}
