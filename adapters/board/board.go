// Package board describes hardware variants. Each variant (standard box,
// alternative enclosures) differs in audio wiring and display geometry; the
// differences are captured in a single capability descriptor selected once
// at startup, and every downstream component consumes the same narrow
// profile regardless of variant.
package board

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Profile is the capability descriptor for one hardware variant.
type Profile struct {
	// Name identifies the variant.
	Name string `yaml:"name"`

	// SampleRate is the capture and playback rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FrameSamples is the number of samples per captured frame.
	FrameSamples int `yaml:"frame_samples"`

	// CaptureQueue is the bound on frames buffered between capture and the
	// wake gate before the oldest is dropped.
	CaptureQueue int `yaml:"capture_queue"`

	// CaptureDevice and PlaybackDevice name the ALSA/PortAudio endpoints.
	CaptureDevice  string `yaml:"capture_device"`
	PlaybackDevice string `yaml:"playback_device"`

	// DisplayColumns is the width of the character display.
	DisplayColumns int `yaml:"display_columns"`
}

// Default is the profile of the standard box.
func Default() Profile {
	return Profile{
		Name:           "box",
		SampleRate:     16000,
		FrameSamples:   320, // 20 ms at 16 kHz
		CaptureQueue:   16,
		CaptureDevice:  "default",
		PlaybackDevice: "default",
		DisplayColumns: 32,
	}
}

// Load reads a profile from a YAML file, filling unset fields from Default.
func Load(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("board: read profile: %w", err)
	}
	return Parse(data)
}

// Parse decodes a profile from YAML, filling unset fields from Default.
func Parse(data []byte) (Profile, error) {
	p := Default()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("board: parse profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Validate checks the profile for values no component could run with.
func (p Profile) Validate() error {
	if p.SampleRate <= 0 {
		return fmt.Errorf("board: sample_rate must be positive, got %d", p.SampleRate)
	}
	if p.FrameSamples <= 0 {
		return fmt.Errorf("board: frame_samples must be positive, got %d", p.FrameSamples)
	}
	if p.CaptureQueue <= 0 {
		return fmt.Errorf("board: capture_queue must be positive, got %d", p.CaptureQueue)
	}
	return nil
}

// FramePeriod returns the real-time deadline of one captured frame in
// seconds.
func (p Profile) FramePeriod() float64 {
	return float64(p.FrameSamples) / float64(p.SampleRate)
}
