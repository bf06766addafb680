package asr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lokutor-ai/lokutor-gateway/pkg/gateway"
)

func TestIFlytekASR_SignatureIsDeterministic(t *testing.T) {
	f := NewIFlytekASR(IFlytekConfig{AppID: "app1", AccessKeySecret: "secret1"})
	sig1 := f.signature("1000")
	sig2 := f.signature("1000")
	if sig1 != sig2 {
		t.Fatalf("expected deterministic signature, got %q vs %q", sig1, sig2)
	}
	sig3 := f.signature("2000")
	if sig1 == sig3 {
		t.Fatalf("expected different timestamps to produce different signatures")
	}
}

func TestIFlytekASR_AuthURLCarriesRequiredParams(t *testing.T) {
	f := NewIFlytekASR(IFlytekConfig{BaseURL: "wss://example.com/ws", AppID: "app1", AccessKeySecret: "secret1"})
	u, err := url.Parse(f.authURL())
	if err != nil {
		t.Fatalf("unexpected error parsing url: %v", err)
	}
	q := u.Query()
	if q.Get("appid") != "app1" {
		t.Errorf("expected appid=app1, got %q", q.Get("appid"))
	}
	if q.Get("ts") == "" || q.Get("signa") == "" {
		t.Errorf("expected ts and signa to be set, got %+v", q)
	}
}

func TestIFlytekASR_OpenSendsConfigAndReceivesResult(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("appid") != "app1" {
			t.Errorf("expected appid query param, got %q", r.URL.Query().Get("appid"))
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var cfgMsg map[string]interface{}
		if err := conn.ReadJSON(&cfgMsg); err != nil {
			return
		}
		if cfgMsg["type"] != "config" {
			t.Errorf("expected first message type=config, got %+v", cfgMsg)
		}

		conn.WriteJSON(map[string]interface{}{
			"type": "result",
			"data": map[string]interface{}{"text": "你好"},
		})
	}))
	defer server.Close()

	cfg := IFlytekConfig{
		BaseURL:         "ws://" + strings.TrimPrefix(server.URL, "http://"),
		AppID:           "app1",
		AccessKeySecret: "secret1",
	}
	f := NewIFlytekASR(cfg)

	results, err := f.Open(context.Background(), "session-1", gateway.ListenAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case result := <-results:
		if result.Kind != gateway.ASRFinal || result.Text != "你好" {
			t.Fatalf("unexpected result: %+v", result)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}

	if f.Name() != "iflytek" {
		t.Errorf("expected name iflytek, got %s", f.Name())
	}
	f.Close()
}

func TestIFlytekASR_EmptyTextIsEmptySpeech(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var cfgMsg map[string]interface{}
		conn.ReadJSON(&cfgMsg)
		conn.WriteJSON(map[string]interface{}{"type": "result", "data": map[string]interface{}{"text": ""}})
	}))
	defer server.Close()

	f := NewIFlytekASR(IFlytekConfig{
		BaseURL:         "ws://" + strings.TrimPrefix(server.URL, "http://"),
		AppID:           "app1",
		AccessKeySecret: "secret1",
	})

	results, err := f.Open(context.Background(), "session-1", gateway.ListenAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case result := <-results:
		if result.Kind != gateway.ASREmptySpeech {
			t.Fatalf("expected empty speech, got %+v", result)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}
