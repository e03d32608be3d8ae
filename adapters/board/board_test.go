package board

import "testing"

func TestParseOverridesDefaults(t *testing.T) {
	p, err := Parse([]byte("name: cube2\nsample_rate: 24000\ncapture_device: \"hw:1,0\"\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Name != "cube2" {
		t.Errorf("Expected name cube2, got %q", p.Name)
	}
	if p.SampleRate != 24000 {
		t.Errorf("Expected sample rate 24000, got %d", p.SampleRate)
	}
	if p.CaptureDevice != "hw:1,0" {
		t.Errorf("Expected capture device hw:1,0, got %q", p.CaptureDevice)
	}
	// Unset fields keep the standard-box defaults.
	if p.FrameSamples != Default().FrameSamples {
		t.Errorf("Expected default frame samples, got %d", p.FrameSamples)
	}
}

func TestParseRejectsInvalidProfile(t *testing.T) {
	if _, err := Parse([]byte("sample_rate: 0\n")); err == nil {
		t.Error("Expected zero sample rate to be rejected")
	}
	if _, err := Parse([]byte("frame_samples: -1\n")); err == nil {
		t.Error("Expected negative frame size to be rejected")
	}
}

func TestFramePeriod(t *testing.T) {
	p := Default()
	if got := p.FramePeriod(); got != 0.02 {
		t.Errorf("Expected 20 ms frame period, got %v", got)
	}
}
