package entities

import "encoding/json"

// DeviceState is the single authoritative mode the device is in at any
// instant. It is owned by the session controller; every other component
// observes it through state-change notifications.
type DeviceState int

const (
	StateBooting DeviceState = iota
	StateProvisioning
	StateIdle
	StateListening
	StateStreaming
	StateSpeaking
	StateError
)

// String returns the string representation of the state.
func (s DeviceState) String() string {
	switch s {
	case StateBooting:
		return "booting"
	case StateProvisioning:
		return "provisioning"
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateStreaming:
		return "streaming"
	case StateSpeaking:
		return "speaking"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (s DeviceState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *DeviceState) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "booting":
		*s = StateBooting
	case "provisioning":
		*s = StateProvisioning
	case "idle":
		*s = StateIdle
	case "listening":
		*s = StateListening
	case "streaming":
		*s = StateStreaming
	case "speaking":
		*s = StateSpeaking
	case "error":
		*s = StateError
	default:
		*s = StateBooting
	}
	return nil
}

// HasSession reports whether a streaming session may exist in this state.
// A session exists if and only if the device is streaming or speaking.
func (s DeviceState) HasSession() bool {
	return s == StateStreaming || s == StateSpeaking
}

// AllowsCommit reports whether a provisioning commit may mutate the
// persisted network identity. Commits are never permitted mid-session.
func (s DeviceState) AllowsCommit() bool {
	return s == StateProvisioning || s == StateIdle
}

// AllowsClassification reports whether captured frames should be fed to the
// wake engine. Wake detection is suppressed while a session is active so a
// spurious detection cannot spawn a second session.
func (s DeviceState) AllowsClassification() bool {
	return s == StateIdle || s == StateListening
}
