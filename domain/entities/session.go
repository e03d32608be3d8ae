package entities

import (
	"time"

	"github.com/google/uuid"
)

// Session is one complete wake-to-response interaction, bound to exactly one
// streaming connection. At most one session exists at any time; it is created
// on entering the streaming state and destroyed when the device leaves the
// streaming/speaking states by any path. A reconnect never resumes a session:
// it is always a fresh session with a fresh id and a sequence counter reset
// to zero.
type Session struct {
	ID        string
	StartedAt time.Time

	nextSeq uint32
}

// NewSession creates a session with a fresh opaque id.
func NewSession() *Session {
	return &Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
	}
}

// ClaimSeq returns the sequence number for the next outbound audio chunk and
// advances the counter. Numbers within one session are strictly increasing
// with no gaps.
func (s *Session) ClaimSeq() uint32 {
	seq := s.nextSeq
	s.nextSeq++
	return seq
}

// NextSeq returns the sequence number the next chunk will carry, without
// claiming it.
func (s *Session) NextSeq() uint32 {
	return s.nextSeq
}

// Age returns how long the session has been alive.
func (s *Session) Age() time.Duration {
	return time.Since(s.StartedAt)
}
