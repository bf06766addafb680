// Package gateway implements the per-connection media pipeline: VAD-driven
// turn segmentation, streaming ASR, streaming LLM, sentence-split streaming
// TTS, and the connection state machine tying them together.
package gateway

import "context"

// Logger is the structured logging surface every gateway component receives
// through its constructor.
type Logger interface {
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
}

// NoOpLogger discards everything. Useful as a default in tests.
type NoOpLogger struct{}

func (NoOpLogger) Debug(msg string, kv ...interface{}) {}
func (NoOpLogger) Info(msg string, kv ...interface{})  {}
func (NoOpLogger) Warn(msg string, kv ...interface{})  {}
func (NoOpLogger) Error(msg string, kv ...interface{}) {}

// ListenMode selects whether voice edges are derived from the VAD (auto) or
// driven by explicit client control messages (manual).
type ListenMode string

const (
	ListenAuto   ListenMode = "auto"
	ListenManual ListenMode = "manual"
)

// Role identifies the speaker of one dialog history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one dialog history entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ASRResultKind classifies one event emitted by a streaming ASR provider.
type ASRResultKind string

const (
	ASRPartial     ASRResultKind = "partial"
	ASRFinal       ASRResultKind = "final"
	ASREmptySpeech ASRResultKind = "empty_speech"
	ASRError       ASRResultKind = "error"
)

// ASRResult is one event on the channel returned by ASRProvider.Open.
type ASRResult struct {
	Kind     ASRResultKind
	Text     string
	Definite bool
	Code     int
	Err      error
}

// ASRProvider drives a streaming transcription upstream for one utterance.
// Open establishes the upstream handshake and returns a channel of results;
// the caller pushes encoded audio frames via Send and signals the logical
// end of the utterance via SendEnd. Close tears the upstream down whether or
// not SendEnd was reached — the ASR upstream is reopened per voice-start
// edge, never reused across utterances.
type ASRProvider interface {
	Open(ctx context.Context, sessionID string, mode ListenMode) (<-chan ASRResult, error)
	Send(frame []byte) error
	SendEnd() error
	Close() error
	Name() string
}

// ASRFactory builds a fresh ASRProvider instance. Providers are not reused
// across connections or across utterances within a connection.
type ASRFactory func() (ASRProvider, error)

// LLMProvider drives a streaming chat-completions upstream.
type LLMProvider interface {
	// ChatStream sends history+userText and returns a channel of token
	// deltas in arrival order. The channel is closed when the stream ends;
	// a non-nil error is returned only for handshake-time failures. A
	// mid-stream failure is surfaced by closing the channel early and
	// recording the failure so the caller can check via the returned error
	// channel pattern: implementations close tokens and send at most once
	// on errs before closing it too.
	ChatStream(ctx context.Context, userText string, history []Message) (tokens <-chan string, errs <-chan error, err error)
	Name() string
}

// TTSProvider drives a streaming synthesis upstream, one sentence at a time.
type TTSProvider interface {
	SynthesizeStream(ctx context.Context, text string, onChunk func([]byte) error) error
	// Abort cancels a synthesis in flight as fast as the transport allows.
	Abort() error
	Name() string
}

// VADEventType classifies one edge or non-edge emitted by the VAD engine.
type VADEventType string

const (
	VADStart   VADEventType = "start"
	VADStop    VADEventType = "stop"
	VADNone    VADEventType = "none"
)

// VADEvent is the result of feeding one 512-sample window to the VAD engine.
type VADEvent struct {
	Voiced bool
	Edge   VADEventType
}

// Voice selects a TTS speaker identity; provider-specific values are passed
// through as opaque strings configured per provider.
type Voice string

// Config holds the tunables the connection state machine and VAD engine
// need, independent of which concrete providers are wired in.
type Config struct {
	SampleRate     int
	FrameMs        int
	VADHigh        float64
	VADLow         float64
	VADWindowVoted int // hysteresis_window votes needed to call "in speech"
	SilenceMs      int64
	MinUtteranceFrames int // fewer encoded frames than this in auto mode -> no ASR dispatch
	MaxEmptySpeechMs   int64
	DialogHistoryCap   int
	EncodedRecentCap   int
	HysteresisWindowCap int
}

// DefaultConfig mirrors the defaults spelled out in the component contracts.
func DefaultConfig() Config {
	return Config{
		SampleRate:           16000,
		FrameMs:              32,
		VADHigh:              0.5,
		VADLow:               0.2,
		VADWindowVoted:       3,
		SilenceMs:            1000,
		MinUtteranceFrames:   15,
		MaxEmptySpeechMs:     2000,
		DialogHistoryCap:     20,
		EncodedRecentCap:     10,
		HysteresisWindowCap:  5,
	}
}
