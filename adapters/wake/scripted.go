package wake

import "sync"

// Scripted is a WakeEngine for tests. It fires on frames whose index was
// scheduled with FireOn, counting from the last Reset.
type Scripted struct {
	mu     sync.Mutex
	fireOn map[int]bool
	frames int
	resets int
}

// NewScripted creates a scripted engine with no scheduled detections.
func NewScripted() *Scripted {
	return &Scripted{fireOn: make(map[int]bool)}
}

// FireOn schedules a wake detection on the n-th classified frame (0-based).
func (s *Scripted) FireOn(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fireOn[n] = true
}

// Classify implements repositories.WakeEngine.
func (s *Scripted) Classify([]int16) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fired := s.fireOn[s.frames]
	s.frames++
	return fired, nil
}

// Reset implements repositories.WakeEngine.
func (s *Scripted) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = 0
	s.resets++
}

// Frames returns how many frames were classified since the last Reset.
func (s *Scripted) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Resets returns how many times the engine was reset.
func (s *Scripted) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Close implements repositories.WakeEngine.
func (s *Scripted) Close() error { return nil }
