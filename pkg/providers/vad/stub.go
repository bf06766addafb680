package vad

import "github.com/lokutor-ai/lokutor-gateway/pkg/gateway"

// StubToggleInterval is the number of windows after which the stub model
// toggles between speech and silence probability.
const StubToggleInterval = 30

// StubVAD returns deterministic probabilities by alternating between a
// high and low value every StubToggleInterval windows, ignoring the PCM
// it's given. Used for tests and ONNX-runtime-less builds.
type StubVAD struct {
	counter  int
	speaking bool
}

func NewStubVAD() *StubVAD { return &StubVAD{} }

func (s *StubVAD) Name() string { return "stub" }

func (s *StubVAD) Probability(_ []byte) (float64, error) {
	s.counter++
	if s.counter >= StubToggleInterval {
		s.counter = 0
		s.speaking = !s.speaking
	}
	if s.speaking {
		return 0.9, nil
	}
	return 0.05, nil
}

func (s *StubVAD) Reset() {
	s.counter = 0
	s.speaking = false
}

func (s *StubVAD) Clone() gateway.VADModel {
	return &StubVAD{}
}
