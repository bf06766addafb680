package gateway

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeOutbound records every message sent to the client.
type fakeOutbound struct {
	mu      sync.Mutex
	json    []interface{}
	binary  [][]byte
	closed  bool
	closeCode int
}

func (f *fakeOutbound) SendJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.json = append(f.json, v)
	return nil
}

func (f *fakeOutbound) SendBinary(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binary = append(f.binary, b)
	return nil
}

func (f *fakeOutbound) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCode = code
	return nil
}

func (f *fakeOutbound) snapshotJSON() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]interface{}, len(f.json))
	copy(out, f.json)
	return out
}

// fakeASR completes the utterance with a fixed transcript as soon as
// SendEnd is called.
type fakeASR struct {
	transcript string
	results    chan ASRResult
	sent       int
}

func (f *fakeASR) Open(ctx context.Context, sessionID string, mode ListenMode) (<-chan ASRResult, error) {
	f.results = make(chan ASRResult, 4)
	return f.results, nil
}

func (f *fakeASR) Send(frame []byte) error { f.sent++; return nil }

func (f *fakeASR) SendEnd() error {
	f.results <- ASRResult{Kind: ASRFinal, Text: f.transcript, Definite: true}
	close(f.results)
	return nil
}

func (f *fakeASR) Close() error { return nil }
func (f *fakeASR) Name() string { return "fake-asr" }

type fakeLLM struct {
	tokens []string
}

func (f *fakeLLM) ChatStream(ctx context.Context, userText string, history []Message) (<-chan string, <-chan error, error) {
	tokens := make(chan string, len(f.tokens)+1)
	errs := make(chan error, 1)
	for _, tok := range f.tokens {
		tokens <- tok
	}
	close(tokens)
	close(errs)
	return tokens, errs, nil
}

func (f *fakeLLM) Name() string { return "fake-llm" }

type fakeTTS struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeTTS) SynthesizeStream(ctx context.Context, text string, onChunk func([]byte) error) error {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.mu.Unlock()
	return onChunk([]byte("audio:" + text))
}

func (f *fakeTTS) Abort() error  { return nil }
func (f *fakeTTS) Name() string { return "fake-tts" }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestConnection_ManualModeHappyPath(t *testing.T) {
	asr := &fakeASR{transcript: "你好"}
	llm := &fakeLLM{tokens: []string{"你好", "。"}}
	tts := &fakeTTS{}
	out := &fakeOutbound{}
	reg := NewRegistry()

	providers := Providers{
		NewASR: func() (ASRProvider, error) { return asr, nil },
		LLM:    llm,
		TTS:    tts,
	}

	conn := NewConnection("client-1", "device-1", ListenManual, DefaultConfig(), providers, out, NoOpLogger{}, reg)
	reg.Add(conn)

	conn.HandleControl("listen_start")
	if conn.State() != StateListening {
		t.Fatalf("expected LISTENING after listen_start, got %v", conn.State())
	}

	for i := 0; i < 5; i++ {
		conn.HandleAudioFrame([]byte{0x01, 0x02, 0x03})
	}

	conn.HandleControl("listen_stop")

	waitFor(t, time.Second, func() bool { return conn.State() == StateIdle })

	msgs := out.snapshotJSON()
	if len(msgs) < 4 {
		t.Fatalf("expected at least stt/tts.start/sentence frames/tts.stop, got %d messages: %+v", len(msgs), msgs)
	}

	stt, ok := msgs[0].(sttMessage)
	if !ok || stt.Text != "你好" {
		t.Fatalf("expected first message to be stt with text 你好, got %+v", msgs[0])
	}

	last := msgs[len(msgs)-1].(ttsMessage)
	if last.State != "stop" {
		t.Fatalf("expected last message to be tts.stop, got %+v", last)
	}

	if len(out.binary) == 0 {
		t.Fatalf("expected at least one binary audio frame")
	}
}

func TestConnection_PingPong(t *testing.T) {
	out := &fakeOutbound{}
	reg := NewRegistry()
	conn := NewConnection("client-2", "device-2", ListenAuto, DefaultConfig(), Providers{}, out, NoOpLogger{}, reg)
	reg.Add(conn)

	conn.HandleControl("ping")

	msgs := out.snapshotJSON()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one reply to ping, got %d", len(msgs))
	}
	ctrl, ok := msgs[0].(controlMessage)
	if !ok || ctrl.Data.Command != "pong" {
		t.Fatalf("expected pong reply, got %+v", msgs[0])
	}
}

func TestConnection_TextOnlyTurnSkipsASR(t *testing.T) {
	llm := &fakeLLM{tokens: []string{"收到。"}}
	tts := &fakeTTS{}
	out := &fakeOutbound{}
	reg := NewRegistry()

	providers := Providers{LLM: llm, TTS: tts}
	conn := NewConnection("client-3", "device-3", ListenAuto, DefaultConfig(), providers, out, NoOpLogger{}, reg)
	reg.Add(conn)

	conn.HandleText("你好")

	waitFor(t, time.Second, func() bool { return conn.State() == StateIdle })

	msgs := out.snapshotJSON()
	if len(msgs) == 0 {
		t.Fatalf("expected at least one outbound message")
	}
	stt, ok := msgs[0].(sttMessage)
	if !ok || stt.Text != "你好" {
		t.Fatalf("expected stt echo of the text-only turn, got %+v", msgs[0])
	}
}
