package gateway

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is one of the five connection states in §4.6.
type State string

const (
	StateIdle        State = "IDLE"
	StateListening    State = "LISTENING"
	StateTranscribed  State = "TRANSCRIBED"
	StateSpeaking     State = "SPEAKING"
	StateClosed       State = "CLOSED"
)

// Providers bundles the per-connection provider instances and the
// factories used to construct them lazily (§3 "providers").
type Providers struct {
	NewASR ASRFactory
	LLM    LLMProvider
	TTS    TTSProvider
	VAD    *HysteresisVAD
}

// Connection is the per-client state machine described in §3/§4.6. One is
// created per accepted channel and destroyed on close or fatal error.
type Connection struct {
	ClientID  string
	DeviceID  string
	SessionID string

	cfg      Config
	logger   Logger
	registry *Registry
	outbound Outbound

	outboundLock sync.Mutex

	mu         sync.Mutex
	state      State
	listenMode ListenMode

	codec *FrameCodec
	vad   *HysteresisVAD

	pcmBuffer     []byte
	encodedRecent [][]byte // ring buffer, cap EncodedRecentCap
	encodedSegment [][]byte
	utteranceStartedAt time.Time

	asrAccumulated    string
	manualStopPending bool
	dialog            *DialogHistory

	newASR ASRFactory
	llm    LLMProvider
	tts    TTSProvider

	asr       ASRProvider
	asrCancel context.CancelFunc

	connCtx    context.Context
	connCancel context.CancelFunc

	closeOnce sync.Once
}

// NewConnection constructs a Connection in IDLE state with a freshly
// generated session_id.
func NewConnection(clientID, deviceID string, mode ListenMode, cfg Config, providers Providers, out Outbound, logger Logger, registry *Registry) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = NoOpLogger{}
	}
	if mode == "" {
		mode = ListenAuto
	}

	codec, err := NewFrameCodec()
	if err != nil {
		logger.Error("failed to build frame codec", "client_id", clientID, "err", err)
	}

	c := &Connection{
		ClientID:   clientID,
		DeviceID:   deviceID,
		SessionID:  uuid.NewString(),
		cfg:        cfg,
		logger:     logger,
		registry:   registry,
		outbound:   out,
		state:      StateIdle,
		listenMode: mode,
		codec:      codec,
		vad:        providers.VAD,
		dialog:     NewDialogHistory(cfg.DialogHistoryCap),
		newASR:     providers.NewASR,
		llm:        providers.LLM,
		tts:        providers.TTS,
		connCtx:    ctx,
		connCancel: cancel,
	}
	return c
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// SendHello greets the client after accept (§6).
func (c *Connection) SendHello() {
	_ = c.sendJSON(helloMessage{Type: "hello", SessionID: c.SessionID, Status: "connected"})
}

// HandleAudioFrame decodes one encoded frame and drives it through VAD and
// (while LISTENING) the ASR upstream. Decode failures drop the frame and
// continue (§4.1).
func (c *Connection) HandleAudioFrame(frame []byte) {
	c.registry.Touch(c.ClientID)

	if c.State() == StateSpeaking {
		// Barge-in is explicitly not implemented: ignore voice until
		// tts.stop (§4.6 tie-break, §9 open question resolved).
		return
	}

	c.mu.Lock()
	if c.state == StateListening {
		c.encodedSegment = append(c.encodedSegment, append([]byte(nil), frame...))
	}
	c.encodedRecent = append(c.encodedRecent, append([]byte(nil), frame...))
	if len(c.encodedRecent) > c.cfg.EncodedRecentCap {
		c.encodedRecent = c.encodedRecent[len(c.encodedRecent)-c.cfg.EncodedRecentCap:]
	}
	mode := c.listenMode
	c.mu.Unlock()

	if mode == ListenManual {
		// Manual mode bypasses VAD entirely; every frame is voiced and
		// edges are driven by control messages (§4.2).
		if c.State() == StateListening {
			c.forwardToASR(frame)
		}
		return
	}

	if c.vad == nil || c.codec == nil {
		return
	}
	pcm, err := c.codec.Decode(frame)
	if err != nil {
		c.logger.Warn("dropping malformed frame", "client_id", c.ClientID, "err", err)
		return
	}
	event := c.vad.Feed(pcm)
	switch event.Edge {
	case VADStart:
		c.onVoiceStart()
		c.forwardToASR(frame)
	case VADStop:
		c.vad.ClearVoiceStopLatch()
		c.onVoiceStop()
	default:
		if c.State() == StateListening {
			c.forwardToASR(frame)
		}
	}
}

func (c *Connection) forwardToASR(frame []byte) {
	c.mu.Lock()
	asr := c.asr
	c.mu.Unlock()
	if asr == nil {
		return
	}
	if err := asr.Send(frame); err != nil {
		c.logger.Warn("asr send failed", "client_id", c.ClientID, "err", err)
	}
}

// onVoiceStart opens the ASR upstream, replays the prefix ring, and
// transitions IDLE -> LISTENING.
func (c *Connection) onVoiceStart() {
	if c.State() != StateIdle {
		return
	}
	if c.newASR == nil {
		c.logger.Warn("voice start with no ASR provider configured", "client_id", c.ClientID)
		return
	}

	provider, err := c.newASR()
	if err != nil {
		c.logger.Error("failed to construct ASR provider", "client_id", c.ClientID, "err", err)
		return
	}

	ctx, cancel := context.WithCancel(c.connCtx)
	results, err := provider.Open(ctx, c.SessionID, c.listenMode)
	if err != nil {
		cancel()
		c.handleUpstreamAuthOrProtocolError(err)
		return
	}

	c.mu.Lock()
	c.asr = provider
	c.asrCancel = cancel
	c.encodedSegment = nil
	c.asrAccumulated = ""
	c.utteranceStartedAt = time.Now()
	recent := make([][]byte, len(c.encodedRecent))
	copy(recent, c.encodedRecent)
	c.state = StateListening
	c.mu.Unlock()

	// Prefix replay: forward the last EncodedRecentCap frames before any
	// live frame (§3 encoded_recent, §4.6 transition, GLOSSARY "Prefix
	// replay").
	for _, f := range recent {
		if err := provider.Send(f); err != nil {
			c.logger.Warn("asr prefix replay send failed", "client_id", c.ClientID, "err", err)
			break
		}
	}

	go c.runASRReceiver(provider, results)
}

func (c *Connection) handleUpstreamAuthOrProtocolError(err error) {
	c.logger.Error("asr upstream handshake failed", "client_id", c.ClientID, "err", err)
	c.resetToIdle()
}

// onVoiceStop closes the ASR upstream's input side (SendEnd); the final
// transcript arrives asynchronously via runASRReceiver.
func (c *Connection) onVoiceStop() {
	c.mu.Lock()
	if c.state != StateListening {
		c.mu.Unlock()
		return
	}
	asr := c.asr
	frameCount := len(c.encodedSegment)
	c.mu.Unlock()

	if asr == nil {
		c.resetToIdle()
		return
	}

	if c.listenMode == ListenAuto && frameCount < c.cfg.MinUtteranceFrames {
		// Too short to bother transcribing (§4.6 tie-break, §8 boundary).
		c.teardownASR()
		c.resetToIdle()
		return
	}

	if err := asr.SendEnd(); err != nil {
		c.logger.Warn("asr send-end failed", "client_id", c.ClientID, "err", err)
	}
}

// runASRReceiver drains one ASR upstream's result channel until it closes,
// dispatching each result to the orchestrator.
func (c *Connection) runASRReceiver(provider ASRProvider, results <-chan ASRResult) {
	for res := range results {
		c.onASRResult(provider, res)
	}
}

func (c *Connection) onASRResult(provider ASRProvider, res ASRResult) {
	switch res.Kind {
	case ASRPartial:
		c.logger.Debug("asr partial", "client_id", c.ClientID, "text", res.Text)

	case ASRFinal:
		if res.Text == "" {
			c.onEmptyResult()
			return
		}
		c.mu.Lock()
		if c.listenMode == ListenManual {
			c.asrAccumulated += res.Text
		} else {
			c.asrAccumulated = res.Text
		}
		accumulated := c.asrAccumulated
		stopPending := c.manualStopPending
		c.manualStopPending = false
		c.mu.Unlock()

		if c.listenMode == ListenManual {
			// Manual mode concatenates successive final results until the
			// client sends listen_stop; only finalize once that stop edge
			// has actually been requested.
			if stopPending {
				c.finalizeUtterance(accumulated)
			}
			return
		}
		c.finalizeUtterance(accumulated)

	case ASREmptySpeech:
		c.onEmptyResult()

	case ASRError:
		if res.Code == 1013 {
			// "no effective speech" — swallowed silently (§4.3, §7).
			return
		}
		c.logger.Error("asr upstream error", "client_id", c.ClientID, "code", res.Code, "err", res.Err)
		c.teardownASR()
		c.resetToIdle()
	}
}

func (c *Connection) onEmptyResult() {
	c.mu.Lock()
	started := c.utteranceStartedAt
	mode := c.listenMode
	c.mu.Unlock()

	if mode == ListenAuto && !started.IsZero() && time.Since(started).Milliseconds() > c.cfg.MaxEmptySpeechMs {
		c.teardownASR()
		c.resetToIdle()
		return
	}
	// Still within the grace window (or manual mode, which has no
	// empty-speech timeout) — keep listening rather than abort the turn.
}

func (c *Connection) teardownASR() {
	c.mu.Lock()
	provider := c.asr
	cancel := c.asrCancel
	c.asr = nil
	c.asrCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if provider != nil {
		if err := provider.Close(); err != nil {
			c.logger.Warn("asr close failed", "client_id", c.ClientID, "err", err)
		}
	}
}

func (c *Connection) resetToIdle() {
	if c.vad != nil {
		c.vad.Reset()
	}
	c.mu.Lock()
	c.pcmBuffer = nil
	c.encodedSegment = nil
	c.asrAccumulated = ""
	if c.state != StateClosed {
		c.state = StateIdle
	}
	c.mu.Unlock()
}

// finalizeUtterance transitions LISTENING -> TRANSCRIBED and runs the
// LLM/TTS pipeline for this turn.
func (c *Connection) finalizeUtterance(text string) {
	c.teardownASR()
	c.setState(StateTranscribed)

	if err := c.sendJSON(sttMessage{Type: "stt", Text: text, SessionID: c.SessionID}); err != nil {
		c.logger.Warn("failed to send stt message", "client_id", c.ClientID, "err", err)
	}
	c.dialog.Add(RoleUser, text)

	go c.runPipeline(text)
}

// HandleText implements the text-only turn: skip ASR entirely and feed the
// text straight into the LLM/TTS pipeline (§6 `{type: text}`).
func (c *Connection) HandleText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.registry.Touch(c.ClientID)
	c.finalizeUtterance(text)
}

// HandleControl dispatches control-channel messages (§6).
func (c *Connection) HandleControl(command string) {
	c.registry.Touch(c.ClientID)
	switch command {
	case "ping":
		_ = c.sendJSON(controlMessage{Type: "control", Data: controlData{Command: "pong"}})
	case "listen_start":
		if c.listenMode == ListenManual {
			c.onVoiceStart()
		}
	case "listen_stop":
		if c.listenMode == ListenManual {
			c.mu.Lock()
			c.manualStopPending = true
			c.mu.Unlock()
			c.onVoiceStop()
		}
	default:
		c.logger.Debug("unhandled control command", "client_id", c.ClientID, "command", command)
	}
}

// runPipeline drives the LLM token stream into the sentence splitter and
// each sentence into the TTS driver, in strict order (§4.6, §5).
func (c *Connection) runPipeline(userText string) {
	if c.llm == nil || c.tts == nil {
		c.logger.Error("llm or tts provider not configured", "client_id", c.ClientID)
		c.resetToIdle()
		return
	}

	ctx := c.connCtx
	history := c.dialog.Snapshot()

	tokens, errs, err := c.llm.ChatStream(ctx, userText, history)
	if err != nil {
		c.sendError("language model request failed")
		c.resetToIdle()
		return
	}

	splitter := &SentenceSplitter{}
	ttsStarted := false
	var response strings.Builder

	flushSentence := func(sentence string) {
		if !ttsStarted {
			_ = c.sendJSON(ttsMessage{Type: "tts", State: "start", SessionID: c.SessionID})
			c.setState(StateSpeaking)
			ttsStarted = true
		}
		c.synthesizeSentence(sentence)
	}

tokenLoop:
	for {
		select {
		case tok, ok := <-tokens:
			if !ok {
				break tokenLoop
			}
			response.WriteString(tok)
			for _, sentence := range splitter.Feed(tok) {
				flushSentence(sentence)
			}
		case e, ok := <-errs:
			if ok && e != nil {
				c.logger.Error("llm stream error", "client_id", c.ClientID, "err", e)
			}
		case <-ctx.Done():
			break tokenLoop
		}
	}

	if remainder, ok := splitter.Flush(); ok {
		flushSentence(remainder)
	}

	if response.Len() > 0 {
		c.dialog.Add(RoleAssistant, response.String())
	}

	if ttsStarted {
		_ = c.sendJSON(ttsMessage{Type: "tts", State: "stop", SessionID: c.SessionID})
	}
	c.resetToIdle()
}

// synthesizeSentence dispatches one sentence through the TTS driver,
// framing it exactly as §4.6 requires: sentence_start, binary frames,
// sentence_end.
func (c *Connection) synthesizeSentence(text string) {
	if err := c.sendJSON(ttsMessage{Type: "tts", State: "sentence_start", Text: text, SessionID: c.SessionID}); err != nil {
		c.logger.Warn("failed to send sentence_start", "client_id", c.ClientID, "err", err)
	}

	err := c.tts.SynthesizeStream(c.connCtx, text, func(chunk []byte) error {
		return c.sendBinary(chunk)
	})
	if err != nil && c.connCtx.Err() == nil {
		c.logger.Error("tts synthesis failed", "client_id", c.ClientID, "err", err)
	}

	if err := c.sendJSON(ttsMessage{Type: "tts", State: "sentence_end", SessionID: c.SessionID}); err != nil {
		c.logger.Warn("failed to send sentence_end", "client_id", c.ClientID, "err", err)
	}
}

// Close tears the connection down: cancels all upstreams, closes the
// transport, and removes it from the registry. Idempotent.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		c.teardownASR()
		c.connCancel()
		if c.registry != nil {
			c.registry.Remove(c.ClientID)
		}
		if c.outbound != nil {
			_ = c.outbound.Close(1000, "")
		}
	})
}
