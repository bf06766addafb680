package gateway

import "time"

// VADModel is the pluggable probability backend: it turns one 512-sample
// (1024-byte) s16le PCM window into a speech probability. The shipped
// backends are an ONNX Silero model (pkg/providers/vad) and a deterministic
// stub for tests.
type VADModel interface {
	Probability(window []byte) (float64, error)
	Reset()
	Clone() VADModel
	Name() string
}

// windowBytes is the fixed VAD window size: 512 samples * 2 bytes/sample.
const windowBytes = 1024

// HysteresisVAD implements the §4.2 contract: two-threshold window
// classification feeding a 5-entry hysteresis vote, with a silence-hold
// timer gating the stop edge.
type HysteresisVAD struct {
	model VADModel
	cfg   Config

	pcmBuffer []byte

	inSpeech         bool
	lastVoicedMs     int64
	hysteresisWindow []bool
	lastFrameVoiced  bool
	voiceStopLatched bool

	nowMs func() int64
}

// NewHysteresisVAD builds a VAD engine around the given probability model.
// nowMs defaults to time.Now; tests may inject a deterministic clock.
func NewHysteresisVAD(model VADModel, cfg Config) *HysteresisVAD {
	return &HysteresisVAD{
		model: model,
		cfg:   cfg,
		nowMs: func() int64 { return time.Now().UnixMilli() },
	}
}

// Feed appends pcm to the internal buffer and evaluates every complete
// 1024-byte window it now contains, returning the last edge produced (there
// is at most one edge per windowful in practice, since hysteresis only
// flips at most once per call given the window size this gateway uses).
func (v *HysteresisVAD) Feed(pcm []byte) VADEvent {
	v.pcmBuffer = append(v.pcmBuffer, pcm...)

	result := VADEvent{Voiced: v.inSpeech, Edge: VADNone}
	edge := VADNone

	for len(v.pcmBuffer) >= windowBytes {
		window := v.pcmBuffer[:windowBytes]
		v.pcmBuffer = v.pcmBuffer[windowBytes:]
		result = v.evalWindow(window)
		if result.Edge != VADNone {
			edge = result.Edge
		}
	}

	result.Edge = edge
	return result
}

func (v *HysteresisVAD) evalWindow(window []byte) VADEvent {
	prob, err := v.model.Probability(window)
	voiced := v.lastFrameVoiced
	if err == nil {
		switch {
		case prob >= v.cfg.VADHigh:
			voiced = true
		case prob <= v.cfg.VADLow:
			voiced = false
		}
	}
	v.lastFrameVoiced = voiced

	v.hysteresisWindow = append(v.hysteresisWindow, voiced)
	if len(v.hysteresisWindow) > v.cfg.HysteresisWindowCap {
		v.hysteresisWindow = v.hysteresisWindow[len(v.hysteresisWindow)-v.cfg.HysteresisWindowCap:]
	}

	votes := 0
	for _, b := range v.hysteresisWindow {
		if b {
			votes++
		}
	}
	nowInSpeech := votes >= v.cfg.VADWindowVoted

	now := v.nowMs()
	if voiced {
		v.lastVoicedMs = now
	}

	edge := VADNone
	if nowInSpeech && !v.inSpeech {
		edge = VADStart
		v.inSpeech = true
	} else if !nowInSpeech && v.inSpeech {
		if now-v.lastVoicedMs >= v.cfg.SilenceMs {
			edge = VADStop
			v.inSpeech = false
			v.voiceStopLatched = true
		}
	}

	return VADEvent{Voiced: v.inSpeech, Edge: edge}
}

// ClearVoiceStopLatch clears the latch the orchestrator must reset before
// accepting the next audio frame after a stop edge (§3 invariant).
func (v *HysteresisVAD) ClearVoiceStopLatch() {
	v.voiceStopLatched = false
}

// VoiceStopLatched reports whether a stop edge fired and has not yet been
// acknowledged.
func (v *HysteresisVAD) VoiceStopLatched() bool {
	return v.voiceStopLatched
}

// Reset clears all VAD state: buffered PCM, hysteresis window, speech flag.
// Does not reset lastVoicedMs's monotonic semantics beyond zeroing it.
func (v *HysteresisVAD) Reset() {
	v.pcmBuffer = v.pcmBuffer[:0]
	v.inSpeech = false
	v.lastVoicedMs = 0
	v.hysteresisWindow = nil
	v.lastFrameVoiced = false
	v.voiceStopLatched = false
	if v.model != nil {
		v.model.Reset()
	}
}

// Clone returns a fresh VAD engine with its own model instance and zeroed
// state, for per-connection isolation (§9 "shared decoder" design note).
func (v *HysteresisVAD) Clone() *HysteresisVAD {
	var m VADModel
	if v.model != nil {
		m = v.model.Clone()
	}
	return NewHysteresisVAD(m, v.cfg)
}
