// Package wake provides WakeEngine implementations: a sherpa-onnx keyword
// spotter for real hardware and a scripted engine for tests.
package wake

import (
	"errors"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
)

// SherpaConfig points the keyword spotter at its model files.
type SherpaConfig struct {
	Encoder      string
	Decoder      string
	Joiner       string
	Tokens       string
	KeywordsFile string
	SampleRate   int
	NumThreads   int
}

// Sherpa is a WakeEngine backed by the sherpa-onnx keyword spotter.
type Sherpa struct {
	sampleRate int
	spotter    *sherpa.KeywordSpotter
	stream     *sherpa.OnlineStream
}

// NewSherpa loads the keyword spotting model.
func NewSherpa(cfg SherpaConfig) (*Sherpa, error) {
	if cfg.Encoder == "" || cfg.Tokens == "" || cfg.KeywordsFile == "" {
		return nil, errors.New("wake: encoder, tokens and keywords file are required")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.NumThreads <= 0 {
		cfg.NumThreads = 1
	}

	config := sherpa.KeywordSpotterConfig{}
	config.FeatConfig = sherpa.FeatureConfig{SampleRate: cfg.SampleRate, FeatureDim: 80}
	config.ModelConfig.Transducer.Encoder = cfg.Encoder
	config.ModelConfig.Transducer.Decoder = cfg.Decoder
	config.ModelConfig.Transducer.Joiner = cfg.Joiner
	config.ModelConfig.Tokens = cfg.Tokens
	config.ModelConfig.NumThreads = cfg.NumThreads
	config.KeywordsFile = cfg.KeywordsFile

	spotter := sherpa.NewKeywordSpotter(&config)
	if spotter == nil {
		return nil, errors.New("wake: failed to create keyword spotter")
	}
	return &Sherpa{
		sampleRate: cfg.SampleRate,
		spotter:    spotter,
		stream:     sherpa.NewKeywordStream(spotter),
	}, nil
}

// Classify implements repositories.WakeEngine.
func (s *Sherpa) Classify(samples []int16) (bool, error) {
	buf := make([]float32, len(samples))
	for i, v := range samples {
		buf[i] = float32(v) / 32768.0
	}
	s.stream.AcceptWaveform(s.sampleRate, buf)

	detected := false
	for s.spotter.IsReady(s.stream) {
		s.spotter.Decode(s.stream)
		if r := s.spotter.GetResult(s.stream); r != nil && r.Keyword != "" {
			detected = true
		}
	}
	return detected, nil
}

// Reset implements repositories.WakeEngine. The spotter keeps decoder state
// across frames, so a consumed wake event starts over with a fresh stream.
func (s *Sherpa) Reset() {
	sherpa.DeleteOnlineStream(s.stream)
	s.stream = sherpa.NewKeywordStream(s.spotter)
}

// Close implements repositories.WakeEngine.
func (s *Sherpa) Close() error {
	sherpa.DeleteOnlineStream(s.stream)
	sherpa.DeleteKeywordSpotter(s.spotter)
	return nil
}
