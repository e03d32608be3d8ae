// Package display maps device state to what the panel shows.
package display

import (
	"go.uber.org/zap"

	"github.com/second-state/echokit-box/domain/entities"
	"github.com/second-state/echokit-box/domain/repositories"
)

// Presenter renders a glyph per device state. It keeps only the last
// rendered value, to skip redundant redraws; everything else is a pure
// function of the state and error kind.
type Presenter struct {
	display repositories.Display
	logger  *zap.Logger

	last struct {
		valid   bool
		state   entities.DeviceState
		kind    entities.ErrorKind
		caption string
	}
}

// NewPresenter creates a presenter for the given display handle.
func NewPresenter(display repositories.Display, logger *zap.Logger) *Presenter {
	return &Presenter{display: display, logger: logger}
}

// Glyph returns the glyph for a state and error kind.
func Glyph(state entities.DeviceState, kind entities.ErrorKind) string {
	switch state {
	case entities.StateBooting:
		return "…"
	case entities.StateProvisioning:
		return "⚙"
	case entities.StateIdle:
		return "◦"
	case entities.StateListening:
		return "●"
	case entities.StateStreaming:
		return "▲"
	case entities.StateSpeaking:
		return "♪"
	case entities.StateError:
		switch kind {
		case entities.ErrorPlayback:
			return "✕♪"
		case entities.ErrorProtocol:
			return "✕?"
		default:
			return "✕"
		}
	default:
		return "?"
	}
}

// Show renders the glyph for state unless it matches the last render.
func (p *Presenter) Show(state entities.DeviceState, kind entities.ErrorKind, caption string) {
	if p.last.valid && p.last.state == state && p.last.kind == kind && p.last.caption == caption {
		return
	}
	if err := p.display.Render(Glyph(state, kind), caption); err != nil {
		// The display is best effort; a failed redraw is logged, nothing
		// else reacts to it.
		p.logger.Warn("display render failed", zap.Error(err))
		return
	}
	p.last.valid = true
	p.last.state = state
	p.last.kind = kind
	p.last.caption = caption
}
