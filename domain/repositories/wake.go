package repositories

// WakeEngine abstracts the external wake-word inference capability. Its
// internal state (model buffers, thresholds) stays behind this interface so
// the engine can be swapped or mocked without touching the orchestration
// core.
type WakeEngine interface {
	// Classify feeds one frame of samples to the engine and reports whether
	// the wake phrase completed on this frame. Frames are discarded once
	// classified.
	Classify(samples []int16) (bool, error)

	// Reset clears any accumulated detection state, typically after a wake
	// event has been consumed.
	Reset()

	// Close releases the engine.
	Close() error
}
