// Package tts implements the gateway's streaming speech synthesis drivers.
package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-gateway/pkg/gateway"
)

// VolcanoConfig configures the Volcano Engine (Huoshan) streaming TTS
// driver (§4.5). One JSON request opens the turn; the response alternates
// binary audio frames and JSON status frames until operation=="finish".
type VolcanoConfig struct {
	WSURL        string
	AppID        string
	AccessToken  string
	ResourceID   string
	Cluster      string
	Speaker      string
	SpeechRate   float64
	LoudnessRate float64
	Pitch        float64
	SampleRate   int
	AudioFormat  string
	Logger       gateway.Logger
}

// VolcanoTTS is the Volcano Engine streaming TTS driver.
type VolcanoTTS struct {
	cfg VolcanoConfig

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewVolcanoTTS(cfg VolcanoConfig) *VolcanoTTS {
	if cfg.WSURL == "" {
		cfg.WSURL = "wss://openspeech.bytedance.com/api/v1/tts/ws_binary"
	}
	if cfg.Cluster == "" {
		cfg.Cluster = "volcano_tts"
	}
	if cfg.Speaker == "" {
		cfg.Speaker = "zh_female_qingxin"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 24000
	}
	if cfg.AudioFormat == "" {
		cfg.AudioFormat = "pcm"
	}
	if cfg.SpeechRate == 0 {
		cfg.SpeechRate = 1.0
	}
	if cfg.LoudnessRate == 0 {
		cfg.LoudnessRate = 1.0
	}
	if cfg.Pitch == 0 {
		cfg.Pitch = 1.0
	}
	if cfg.Logger == nil {
		cfg.Logger = gateway.NoOpLogger{}
	}
	return &VolcanoTTS{cfg: cfg}
}

func (t *VolcanoTTS) Name() string { return "volcano" }

func (t *VolcanoTTS) buildRequest(text, requestID string) map[string]interface{} {
	return map[string]interface{}{
		"app": map[string]interface{}{
			"appid":   t.cfg.AppID,
			"token":   t.cfg.AccessToken,
			"cluster": t.cfg.Cluster,
		},
		"user": map[string]interface{}{
			"uid": "lokutor-gateway",
		},
		"audio": map[string]interface{}{
			"voice_type":   t.cfg.Speaker,
			"encoding":     t.cfg.AudioFormat,
			"speed_ratio":  t.cfg.SpeechRate,
			"volume_ratio": t.cfg.LoudnessRate,
			"pitch_ratio":  t.cfg.Pitch,
			"rate":         t.cfg.SampleRate,
		},
		"request": map[string]interface{}{
			"reqid":     requestID,
			"text":      text,
			"text_type": "plain",
			"operation": "submit",
		},
		"resource_id": t.cfg.ResourceID,
	}
}

// SynthesizeStream opens one websocket turn per sentence (§4.5 — each
// sentence is a distinct submit, never multiplexed on a shared connection)
// and forwards binary audio chunks to onChunk as they arrive.
func (t *VolcanoTTS) SynthesizeStream(ctx context.Context, text string, onChunk func([]byte) error) error {
	conn, _, err := websocket.Dial(ctx, t.cfg.WSURL, nil)
	if err != nil {
		return gateway.NewError(gateway.KindUpstreamTransient, fmt.Errorf("volcano tts dial: %w", err))
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()
	}()

	requestID := uuid.NewString()
	req := t.buildRequest(text, requestID)

	if err := wsjson.Write(ctx, conn, req); err != nil {
		conn.Close(websocket.StatusAbnormalClosure, "failed to write request")
		return gateway.NewError(gateway.KindUpstreamTransient, fmt.Errorf("volcano tts send: %w", err))
	}

	for {
		msgType, payload, err := conn.Read(ctx)
		if err != nil {
			conn.Close(websocket.StatusAbnormalClosure, "read failed")
			return gateway.NewError(gateway.KindUpstreamTransient, fmt.Errorf("volcano tts read: %w", err))
		}

		switch msgType {
		case websocket.MessageBinary:
			if err := onChunk(payload); err != nil {
				conn.Close(websocket.StatusNormalClosure, "")
				return err
			}
		case websocket.MessageText:
			var status struct {
				Code      int    `json:"code"`
				Message   string `json:"message"`
				Operation string `json:"operation"`
			}
			if err := json.Unmarshal(payload, &status); err != nil {
				t.cfg.Logger.Warn("volcano tts: unparsable status frame", "payload", string(payload))
				continue
			}
			if status.Code != 0 {
				conn.Close(websocket.StatusNormalClosure, "")
				return gateway.NewError(gateway.KindUpstreamProtocol, fmt.Errorf("volcano tts error: %s", status.Message))
			}
			if status.Operation == "finish" {
				conn.Close(websocket.StatusNormalClosure, "")
				return nil
			}
		}
	}
}

// Abort closes the in-flight synthesis connection, if any. Per the §4.6
// barge-in resolution the connection state machine never calls it
// mid-SPEAKING; it is part of the TTSProvider contract.
func (t *VolcanoTTS) Abort() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "aborted")
}
