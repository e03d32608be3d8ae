package entities

import "errors"

// Sentinel errors for the failure taxonomy. Components wrap these with
// fmt.Errorf("%w", ...) so callers can classify with errors.Is.
var (
	// ErrConnection is a transport-level failure on the backend link.
	ErrConnection = errors.New("connection error")

	// ErrProtocol is a malformed or unexpected backend message.
	ErrProtocol = errors.New("protocol error")

	// ErrValidation is an oversized or non-text provisioning write.
	ErrValidation = errors.New("provisioning validation error")

	// ErrPlaybackStall is a playback buffer underrun that exceeded the
	// bounded stall timeout.
	ErrPlaybackStall = errors.New("playback stall")

	// ErrNotProvisioned is returned when the config store holds no complete
	// network identity.
	ErrNotProvisioned = errors.New("device not provisioned")
)

// ErrorKind names the user-visible failure classes. It drives the display
// glyph shown while the device is in the error state.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorConnection
	ErrorProtocol
	ErrorPlayback
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return "none"
	case ErrorConnection:
		return "connection"
	case ErrorProtocol:
		return "protocol"
	case ErrorPlayback:
		return "playback"
	default:
		return "unknown"
	}
}

// KindOf maps an error to its user-visible kind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorNone
	case errors.Is(err, ErrPlaybackStall):
		return ErrorPlayback
	case errors.Is(err, ErrProtocol):
		return ErrorProtocol
	default:
		return ErrorConnection
	}
}
