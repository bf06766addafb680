package gateway

import "testing"

// scriptedModel returns a fixed probability for every window, driven by a
// caller-supplied sequence; once exhausted it repeats the last value.
type scriptedModel struct {
	probs []float64
	idx   int
}

func (m *scriptedModel) Probability(window []byte) (float64, error) {
	if len(m.probs) == 0 {
		return 0, nil
	}
	p := m.probs[m.idx]
	if m.idx < len(m.probs)-1 {
		m.idx++
	}
	return p, nil
}

func (m *scriptedModel) Reset()          { m.idx = 0 }
func (m *scriptedModel) Clone() VADModel { return &scriptedModel{probs: m.probs} }
func (m *scriptedModel) Name() string    { return "scripted" }

func silentWindow() []byte { return make([]byte, windowBytes) }

func feedWindows(v *HysteresisVAD, n int) []VADEvent {
	events := make([]VADEvent, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, v.Feed(silentWindow()))
	}
	return events
}

func TestHysteresisVAD_AllSilenceProducesNoEdges(t *testing.T) {
	model := &scriptedModel{probs: []float64{0.0}}
	v := NewHysteresisVAD(model, DefaultConfig())

	for _, e := range feedWindows(v, 20) {
		if e.Edge != VADNone {
			t.Fatalf("expected no edge on all-silence input, got %v", e.Edge)
		}
	}
}

func TestHysteresisVAD_StartThenStopAfterSilence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SilenceMs = 0 // make the stop edge deterministic without a clock

	model := &scriptedModel{probs: []float64{0.9}}
	v := NewHysteresisVAD(model, cfg)

	var edges []VADEventType
	for i := 0; i < 5; i++ {
		e := v.Feed(silentWindow())
		if e.Edge != VADNone {
			edges = append(edges, e.Edge)
		}
	}
	if len(edges) != 1 || edges[0] != VADStart {
		t.Fatalf("expected exactly one start edge, got %v", edges)
	}

	model.probs = []float64{0.0}
	model.idx = 0
	edges = nil
	for i := 0; i < 5; i++ {
		e := v.Feed(silentWindow())
		if e.Edge != VADNone {
			edges = append(edges, e.Edge)
		}
	}
	if len(edges) != 1 || edges[0] != VADStop {
		t.Fatalf("expected exactly one stop edge, got %v", edges)
	}
}

func TestHysteresisVAD_InheritsLastFrameWhenAmbiguous(t *testing.T) {
	cfg := DefaultConfig()
	// A probability strictly between LOW and HIGH must inherit the prior
	// voiced/unvoiced classification rather than flip.
	model := &scriptedModel{probs: []float64{0.9, 0.35, 0.35, 0.35, 0.35}}
	v := NewHysteresisVAD(model, cfg)

	var sawStart bool
	for i := 0; i < 5; i++ {
		e := v.Feed(silentWindow())
		if e.Edge == VADStart {
			sawStart = true
		}
	}
	if !sawStart {
		t.Fatalf("expected ambiguous-probability windows to keep voting voiced and reach start edge")
	}
}

func TestHysteresisVAD_ResetClearsState(t *testing.T) {
	model := &scriptedModel{probs: []float64{0.9}}
	v := NewHysteresisVAD(model, DefaultConfig())
	feedWindows(v, 5)
	v.Reset()

	if v.inSpeech {
		t.Fatalf("expected in_speech cleared after Reset")
	}
	if len(v.hysteresisWindow) != 0 {
		t.Fatalf("expected hysteresis window cleared after Reset")
	}
}
