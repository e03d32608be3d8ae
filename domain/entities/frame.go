package entities

import (
	"encoding/binary"
	"time"
)

// AudioFrame is one fixed-size block of PCM captured from the microphone.
// Samples are signed 16-bit mono. Seq increases monotonically within one
// capture run; gaps indicate frames dropped under overrun.
type AudioFrame struct {
	Samples  []int16
	Seq      uint32
	Captured time.Time
}

// Bytes encodes the samples as little-endian PCM, the layout the backend
// expects for audio chunk payloads.
func (f AudioFrame) Bytes() []byte {
	b := make([]byte, len(f.Samples)*2)
	for i, s := range f.Samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

// Duration returns the frame's play time at the given sample rate.
func (f AudioFrame) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(sampleRate)
}
