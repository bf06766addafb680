package asr

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lokutor-ai/lokutor-gateway/pkg/gateway"
)

// IFlytekConfig configures the iFlytek-style JSON-framed streaming ASR
// provider (§4.3 "provider pluggability").
type IFlytekConfig struct {
	BaseURL        string
	AppID          string
	AccessKeySecret string
	Language       string
	AudioEncode    string
	SampleRate     int
	RoleType       string
	Logger         gateway.Logger
}

type IFlytekASR struct {
	cfg IFlytekConfig

	mu      sync.Mutex
	conn    *websocket.Conn
	results chan gateway.ASRResult
}

func NewIFlytekASR(cfg IFlytekConfig) *IFlytekASR {
	if cfg.Logger == nil {
		cfg.Logger = gateway.NoOpLogger{}
	}
	return &IFlytekASR{cfg: cfg}
}

func (f *IFlytekASR) Name() string { return "iflytek" }

// signature computes HMAC-SHA1(secret, app_id || timestamp) base64-encoded,
// per §4.3.
func (f *IFlytekASR) signature(timestamp string) string {
	mac := hmac.New(sha1.New, []byte(f.cfg.AccessKeySecret))
	mac.Write([]byte(f.cfg.AppID + timestamp))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (f *IFlytekASR) authURL() string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	signa := f.signature(ts)
	v := url.Values{}
	v.Set("appid", f.cfg.AppID)
	v.Set("ts", ts)
	v.Set("signa", signa)
	return f.cfg.BaseURL + "?" + v.Encode()
}

func (f *IFlytekASR) Open(ctx context.Context, sessionID string, mode gateway.ListenMode) (<-chan gateway.ASRResult, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, f.authURL(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == 403 {
			return nil, gateway.NewError(gateway.KindUpstreamAuth, fmt.Errorf("iflytek asr handshake forbidden: %w", err))
		}
		return nil, gateway.NewError(gateway.KindUpstreamTransient, fmt.Errorf("iflytek asr dial: %w", err))
	}

	f.mu.Lock()
	f.conn = conn
	f.results = make(chan gateway.ASRResult, 16)
	f.mu.Unlock()

	configMsg := map[string]interface{}{
		"type": "config",
		"data": map[string]interface{}{
			"lang":       f.cfg.Language,
			"audioEncode": f.cfg.AudioEncode,
			"sampleRate": f.cfg.SampleRate,
			"roleType":   f.cfg.RoleType,
		},
	}
	if err := conn.WriteJSON(configMsg); err != nil {
		conn.Close()
		return nil, gateway.NewError(gateway.KindUpstreamTransient, fmt.Errorf("iflytek asr config send: %w", err))
	}

	go f.receiveLoop(conn)
	return f.results, nil
}

func (f *IFlytekASR) Send(frame []byte) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return gateway.NewError(gateway.KindInternal, fmt.Errorf("iflytek asr: not open"))
	}

	msg := map[string]interface{}{
		"type": "audio",
		"data": base64.StdEncoding.EncodeToString(frame),
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return gateway.NewError(gateway.KindInternal, fmt.Errorf("iflytek asr: not open"))
	}
	if err := f.conn.WriteJSON(msg); err != nil {
		return gateway.NewError(gateway.KindUpstreamTransient, fmt.Errorf("iflytek asr send: %w", err))
	}
	return nil
}

func (f *IFlytekASR) SendEnd() error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.WriteJSON(map[string]interface{}{"type": "end"})
}

func (f *IFlytekASR) Close() error {
	f.mu.Lock()
	conn := f.conn
	f.conn = nil
	f.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (f *IFlytekASR) receiveLoop(conn *websocket.Conn) {
	defer close(f.results)
	defer conn.Close()

	for {
		var msg struct {
			Type string `json:"type"`
			Data struct {
				Text  string `json:"text"`
				Error string `json:"error"`
			} `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		var result gateway.ASRResult
		switch msg.Type {
		case "result":
			if msg.Data.Text == "" {
				result = gateway.ASRResult{Kind: gateway.ASREmptySpeech}
			} else {
				result = gateway.ASRResult{Kind: gateway.ASRFinal, Text: msg.Data.Text, Definite: true}
			}
		case "error":
			result = gateway.ASRResult{Kind: gateway.ASRError, Err: fmt.Errorf("%s", msg.Data.Error)}
		case "end":
			select {
			case f.results <- gateway.ASRResult{Kind: gateway.ASREmptySpeech}:
			default:
			}
			return
		default:
			continue
		}

		select {
		case f.results <- result:
		default:
		}
		if msg.Type == "error" {
			return
		}
	}
}
