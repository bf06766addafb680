package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func TestVolcanoTTS_StreamsBinaryFramesUntilFinish(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		var req map[string]interface{}
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}
		reqBlock, ok := req["request"].(map[string]interface{})
		if !ok || reqBlock["text"] != "你好" {
			t.Errorf("expected request.text=你好, got %+v", req["request"])
		}

		conn.Write(r.Context(), websocket.MessageBinary, []byte{1, 2, 3})
		conn.Write(r.Context(), websocket.MessageBinary, []byte{4, 5, 6})
		wsjson.Write(r.Context(), conn, map[string]interface{}{"code": 0, "operation": "finish"})
	}))
	defer server.Close()

	tts := NewVolcanoTTS(VolcanoConfig{
		WSURL: "ws://" + strings.TrimPrefix(server.URL, "http://"),
	})

	var audio []byte
	err := tts.SynthesizeStream(context.Background(), "你好", func(chunk []byte) error {
		audio = append(audio, chunk...)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(audio) != 6 {
		t.Errorf("expected 6 bytes of audio, got %d", len(audio))
	}
	if tts.Name() != "volcano" {
		t.Errorf("expected name volcano, got %s", tts.Name())
	}
}

func TestVolcanoTTS_NonZeroCodeIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		var req map[string]interface{}
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}
		wsjson.Write(r.Context(), conn, map[string]interface{}{"code": 55, "message": "invalid appid"})
	}))
	defer server.Close()

	tts := NewVolcanoTTS(VolcanoConfig{
		WSURL: "ws://" + strings.TrimPrefix(server.URL, "http://"),
	})

	err := tts.SynthesizeStream(context.Background(), "你好", func(chunk []byte) error { return nil })
	if err == nil {
		t.Fatalf("expected error on nonzero code")
	}
}

func TestVolcanoTTS_AbortWhenIdleIsNoOp(t *testing.T) {
	tts := NewVolcanoTTS(VolcanoConfig{})
	if err := tts.Abort(); err != nil {
		t.Fatalf("abort on idle tts should be a no-op, got %v", err)
	}
}
