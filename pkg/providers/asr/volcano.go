// Package asr implements the gateway's streaming ASR providers.
package asr

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lokutor-ai/lokutor-gateway/pkg/gateway"
)

// Volcano message kinds (header byte 1 high nibble), per §4.3.
const (
	msgClientRequest = 0x01
	msgAudio         = 0x02
	msgServerFull     = 0x09
	msgServerError    = 0x0F
)

// flags (header byte 1 low nibble).
const (
	flagSequencePresent = 0x01
	flagLastAudio       = 0x02
)

// noEffectiveSpeechCode is swallowed silently rather than surfaced (§4.3, §7).
const noEffectiveSpeechCode = 1013

// VolcanoConfig configures the Volcano (Doubao/Huoshan) streaming ASR
// provider.
type VolcanoConfig struct {
	WSURL           string
	AppID           string
	Cluster         string
	AccessToken     string
	ResourceID      string
	UID             string
	Workflow        string
	ResultType      string
	Format          string
	Codec           string
	SampleRate      int
	Language        string
	Bits            int
	Channel         int
	BoostingTable   string
	CorrectTable    string
	EndWindowSize   int
	Logger          gateway.Logger
}

// VolcanoASR drives the Volcano binary-framed streaming ASR upstream
// described in §4.3, grounded on the reference server's doubao_stream
// provider and confirmed against a real Go client for the same protocol.
type VolcanoASR struct {
	cfg VolcanoConfig

	mu     sync.Mutex
	conn   *websocket.Conn
	results chan gateway.ASRResult
	reqID   string
}

func NewVolcanoASR(cfg VolcanoConfig) *VolcanoASR {
	if cfg.Logger == nil {
		cfg.Logger = gateway.NoOpLogger{}
	}
	return &VolcanoASR{cfg: cfg}
}

func (v *VolcanoASR) Name() string { return "volcano" }

// Open performs the WebSocket handshake with token auth headers, sends the
// JSON initialization payload, and starts the receiver goroutine.
func (v *VolcanoASR) Open(ctx context.Context, sessionID string, mode gateway.ListenMode) (<-chan gateway.ASRResult, error) {
	v.reqID = sessionID

	header := http.Header{}
	header.Set("X-Api-App-Key", v.cfg.AppID)
	header.Set("X-Api-Access-Key", v.cfg.AccessToken)
	header.Set("X-Api-Resource-Id", v.cfg.ResourceID)
	header.Set("X-Api-Connect-Id", uuid.NewString())

	dialer := websocket.Dialer{TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12}}
	conn, resp, err := dialer.DialContext(ctx, v.cfg.WSURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusForbidden {
			v.logAuthDiagnostic()
			return nil, gateway.NewError(gateway.KindUpstreamAuth, fmt.Errorf("volcano asr handshake forbidden: %w", err))
		}
		return nil, gateway.NewError(gateway.KindUpstreamTransient, fmt.Errorf("volcano asr dial: %w", err))
	}

	v.mu.Lock()
	v.conn = conn
	v.results = make(chan gateway.ASRResult, 16)
	v.mu.Unlock()

	initPayload, err := v.buildInitRequest()
	if err != nil {
		conn.Close()
		return nil, gateway.NewError(gateway.KindInternal, err)
	}
	frame, err := buildFrame(msgClientRequest, 0x00, initPayload)
	if err != nil {
		conn.Close()
		return nil, gateway.NewError(gateway.KindInternal, err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		conn.Close()
		return nil, gateway.NewError(gateway.KindUpstreamTransient, fmt.Errorf("volcano asr init send: %w", err))
	}

	go v.receiveLoop(conn)

	return v.results, nil
}

func (v *VolcanoASR) buildInitRequest() ([]byte, error) {
	req := map[string]interface{}{
		"app": map[string]interface{}{
			"appid":   v.cfg.AppID,
			"cluster": v.cfg.Cluster,
			"token":   v.cfg.AccessToken,
		},
		"user": map[string]interface{}{"uid": v.cfg.UID},
		"request": map[string]interface{}{
			"reqid":                v.reqID,
			"workflow":             v.cfg.Workflow,
			"show_utterances":      true,
			"result_type":          v.cfg.ResultType,
			"sequence":             1,
			"boosting_table_name":  v.cfg.BoostingTable,
			"correct_table_name":   v.cfg.CorrectTable,
			"end_window_size":      v.cfg.EndWindowSize,
		},
		"audio": map[string]interface{}{
			"format":      v.cfg.Format,
			"codec":       v.cfg.Codec,
			"rate":        v.cfg.SampleRate,
			"language":    v.cfg.Language,
			"bits":        v.cfg.Bits,
			"channel":     v.cfg.Channel,
			"sample_rate": v.cfg.SampleRate,
		},
	}
	return json.Marshal(req)
}

// Send forwards one gzip-compressed audio frame, message_type=0x02.
func (v *VolcanoASR) Send(frame []byte) error {
	return v.sendAudio(frame, 0x00)
}

// SendEnd sends the final audio chunk with the last-audio flag set.
func (v *VolcanoASR) SendEnd() error {
	return v.sendAudio(nil, flagLastAudio)
}

func (v *VolcanoASR) sendAudio(pcm []byte, flags byte) error {
	v.mu.Lock()
	conn := v.conn
	v.mu.Unlock()
	if conn == nil {
		return gateway.NewError(gateway.KindInternal, fmt.Errorf("volcano asr: not open"))
	}

	msg, err := buildFrame(msgAudio, flags, pcm)
	if err != nil {
		return gateway.NewError(gateway.KindInternal, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.conn == nil {
		return gateway.NewError(gateway.KindInternal, fmt.Errorf("volcano asr: not open"))
	}
	if err := v.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return gateway.NewError(gateway.KindUpstreamTransient, fmt.Errorf("volcano asr send: %w", err))
	}
	return nil
}

func (v *VolcanoASR) Close() error {
	v.mu.Lock()
	conn := v.conn
	v.conn = nil
	v.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (v *VolcanoASR) receiveLoop(conn *websocket.Conn) {
	defer close(v.results)
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		result, done := parseVolcanoResponse(data)
		if result != nil {
			select {
			case v.results <- *result:
			default:
			}
		}
		if done {
			return
		}
	}
}

// buildFrame assembles one outbound message: 4-byte header, big-endian
// 4-byte payload length, gzip-compressed payload (§4.3 framing).
func buildFrame(messageType byte, flags byte, payload []byte) ([]byte, error) {
	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(payload); err != nil {
		return nil, fmt.Errorf("gzip payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}

	header := []byte{
		(0x01 << 4) | 0x01, // version=1, header_size=1 (4-byte units)
		(messageType << 4) | flags,
		(0x01 << 4) | 0x01, // serialization=JSON, compression=gzip
		0x00,
	}

	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(compressed.Len()))

	out := make([]byte, 0, len(header)+len(length)+compressed.Len())
	out = append(out, header...)
	out = append(out, length...)
	out = append(out, compressed.Bytes()...)
	return out, nil
}

// parseVolcanoResponse decodes one inbound message per §4.3. Returns the
// ASR result to forward (nil if the message carries nothing actionable: an
// empty, non-JSON or unparsable payload) and whether the receive loop should
// stop.
func parseVolcanoResponse(res []byte) (*gateway.ASRResult, bool) {
	if len(res) < 4 {
		return &gateway.ASRResult{Kind: gateway.ASRError, Err: fmt.Errorf("volcano asr: short response")}, false
	}

	headerSize := int(res[0]&0x0F) * 4
	messageType := (res[1] >> 4) & 0x0F
	flags := res[1] & 0x0F
	serialMethod := (res[2] >> 4) & 0x0F
	compression := res[2] & 0x0F

	if messageType == msgServerError {
		if len(res) < headerSize+8 {
			return &gateway.ASRResult{Kind: gateway.ASRError, Err: fmt.Errorf("volcano asr: truncated error frame")}, true
		}
		code := binary.BigEndian.Uint32(res[headerSize : headerSize+4])
		msgLen := binary.BigEndian.Uint32(res[headerSize+4 : headerSize+8])
		var errMsg string
		if int(msgLen) <= len(res)-(headerSize+8) {
			errMsg = string(res[headerSize+8 : headerSize+8+int(msgLen)])
		}
		if int(code) == noEffectiveSpeechCode {
			return &gateway.ASRResult{Kind: gateway.ASRError, Code: int(code)}, false
		}
		return &gateway.ASRResult{Kind: gateway.ASRError, Code: int(code), Err: fmt.Errorf("%s", errMsg)}, true
	}

	offset := headerSize
	if flags&flagSequencePresent != 0 {
		if len(res) < offset+4 {
			return &gateway.ASRResult{Kind: gateway.ASRError, Err: fmt.Errorf("volcano asr: truncated sequence")}, false
		}
		offset += 4
	}
	if len(res) < offset+4 {
		return &gateway.ASRResult{Kind: gateway.ASRError, Err: fmt.Errorf("volcano asr: truncated payload size")}, false
	}
	payloadSize := binary.BigEndian.Uint32(res[offset : offset+4])
	offset += 4
	if len(res) < offset+int(payloadSize) {
		return &gateway.ASRResult{Kind: gateway.ASRError, Err: fmt.Errorf("volcano asr: truncated payload")}, false
	}
	payload := res[offset : offset+int(payloadSize)]

	if compression == 0x01 {
		decompressed, err := gunzip(payload)
		if err != nil {
			return &gateway.ASRResult{Kind: gateway.ASRError, Err: fmt.Errorf("volcano asr: gunzip payload: %w", err)}, false
		}
		payload = decompressed
	}

	if serialMethod != 0x01 || len(payload) == 0 {
		return nil, false
	}

	var body struct {
		Result struct {
			Text       string `json:"text"`
			Utterances []struct {
				Text     string `json:"text"`
				Definite bool   `json:"definite"`
			} `json:"utterances"`
		} `json:"result"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, false
	}

	text := body.Result.Text
	definite := false
	partialText := ""
	for _, u := range body.Result.Utterances {
		if u.Definite {
			definite = true
			if u.Text != "" {
				text = u.Text
			}
		} else if u.Text != "" {
			partialText = u.Text
		}
	}

	if definite {
		if text == "" {
			return &gateway.ASRResult{Kind: gateway.ASREmptySpeech}, false
		}
		return &gateway.ASRResult{Kind: gateway.ASRFinal, Text: text, Definite: true}, false
	}
	if text == "" && partialText == "" {
		return &gateway.ASRResult{Kind: gateway.ASREmptySpeech}, false
	}
	if text == "" {
		text = partialText
	}
	return &gateway.ASRResult{Kind: gateway.ASRPartial, Text: text}, false
}

func gunzip(b []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// logAuthDiagnostic enumerates the credential fields to check on an HTTP 403
// handshake failure (§4.3, §7 special cases), without ever logging the raw
// access token.
func (v *VolcanoASR) logAuthDiagnostic() {
	mask := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	v.cfg.Logger.Error("volcano asr 403: check credentials",
		"app_key_prefix", mask(v.cfg.AppID),
		"access_key_prefix", mask(v.cfg.AccessToken),
		"resource_id", v.cfg.ResourceID,
		"valid_resource_ids", []string{
			"volc.bigasr.sauc.duration",
			"volc.bigasr.sauc.concurrent",
			"volc.seedasr.sauc.duration",
			"volc.seedasr.sauc.concurrent",
		},
	)
}
