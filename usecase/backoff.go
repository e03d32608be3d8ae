package usecase

import "time"

const (
	// DefaultBackoffBase is the first reconnect delay.
	DefaultBackoffBase = time.Second

	// DefaultBackoffCap bounds the delay growth.
	DefaultBackoffCap = 30 * time.Second

	// sustainedSessionAge is how long a session must live for the backoff
	// to reset even when it ends in failure.
	sustainedSessionAge = 30 * time.Second
)

// Backoff is the reconnect delay schedule. The session controller owns the
// single instance; no other component retries on its own.
type Backoff struct {
	base time.Duration
	cap  time.Duration
	next time.Duration
}

// NewBackoff creates a schedule starting at base and doubling up to cap.
func NewBackoff(base, cap time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if cap < base {
		cap = base
	}
	return &Backoff{base: base, cap: cap, next: base}
}

// Next returns the delay to wait before the next attempt and advances the
// schedule.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.cap {
		b.next = b.cap
	}
	return d
}

// Reset returns the schedule to the base delay. Called after a session
// completes, or after one that was sustained long enough to prove the
// backend healthy.
func (b *Backoff) Reset() {
	b.next = b.base
}

// Current returns the delay the next call to Next will yield.
func (b *Backoff) Current() time.Duration {
	return b.next
}
