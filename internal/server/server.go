// Package server implements the gateway's WebSocket accept loop (§6).
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-gateway/pkg/gateway"
)

// ProviderBuilder constructs the per-connection provider bundle. Kept as a
// function rather than a fixed struct so the server doesn't need to import
// every provider package directly — main wires factory.* into this.
type ProviderBuilder func(sessionLogger gateway.Logger) gateway.Providers

// Server accepts WebSocket connections and drives them through
// gateway.Connection (§4.1, §6).
type Server struct {
	cfg      gateway.Config
	logger   gateway.Logger
	registry *gateway.Registry
	build    ProviderBuilder
}

func New(cfg gateway.Config, logger gateway.Logger, registry *gateway.Registry, build ProviderBuilder) *Server {
	if logger == nil {
		logger = gateway.NoOpLogger{}
	}
	return &Server{cfg: cfg, logger: logger, registry: registry, build: build}
}

// Handler returns the http.Handler to mount at the gateway's WebSocket path.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	clientID := firstNonEmpty(r.Header.Get("client-id"), r.URL.Query().Get("client-id"))
	deviceID := firstNonEmpty(r.Header.Get("device-id"), r.URL.Query().Get("device-id"))

	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Error("websocket accept failed", "err", err)
		return
	}

	if deviceID == "" {
		// §6: a missing device-id is fatal — greet with an error and close
		// with 1008 (policy violation) rather than silently dropping.
		ctx := r.Context()
		_ = writeJSON(ctx, conn, map[string]interface{}{
			"type": "error",
			"data": map[string]string{"error": gateway.ErrMissingDeviceID.Error()},
		})
		conn.Close(websocket.StatusPolicyViolation, "Missing device-id")
		return
	}

	s.logger.Info("new connection", "client_id", clientID, "device_id", deviceID)

	listenMode := gateway.ListenAuto
	if r.URL.Query().Get("listen_mode") == "manual" {
		listenMode = gateway.ListenManual
	}

	out := &wsOutbound{conn: conn, ctx: r.Context()}
	providers := s.build(s.logger)

	gwConn := gateway.NewConnection(clientID, deviceID, listenMode, s.cfg, providers, out, s.logger, s.registry)
	s.registry.Add(gwConn)

	gwConn.SendHello()

	s.readLoop(r.Context(), conn, gwConn)
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, gwConn *gateway.Connection) {
	defer gwConn.Close()

	for {
		msgType, payload, err := conn.Read(ctx)
		if err != nil {
			s.logger.Info("connection closed", "client_id", gwConn.ClientID, "err", err)
			return
		}

		switch msgType {
		case websocket.MessageBinary:
			gwConn.HandleAudioFrame(payload)

		case websocket.MessageText:
			s.dispatchText(gwConn, payload)
		}
	}
}

func (s *Server) dispatchText(gwConn *gateway.Connection, payload []byte) {
	var envelope struct {
		Type       string          `json:"type"`
		Text       string          `json:"text"`
		Data       json.RawMessage `json:"data"`
		DeviceInfo struct {
			MACAddress  string `json:"macAddress"`
			DeviceModel string `json:"deviceModel"`
		} `json:"deviceInfo"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.logger.Warn("invalid json from client", "client_id", gwConn.ClientID, "err", err)
		return
	}

	switch envelope.Type {
	case "hello":
		// Acknowledged implicitly; nothing further required (§6).
	case "config":
		s.registry.UpdateDevice(gwConn.ClientID, envelope.DeviceInfo.MACAddress, envelope.DeviceInfo.DeviceModel)
	case "text":
		text := envelope.Text
		if text == "" && len(envelope.Data) > 0 {
			var nested struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(envelope.Data, &nested); err == nil {
				text = nested.Text
			}
		}
		gwConn.HandleText(text)
	case "control":
		var data struct {
			Command string `json:"command"`
		}
		if len(envelope.Data) > 0 {
			_ = json.Unmarshal(envelope.Data, &data)
		}
		gwConn.HandleControl(data.Command)
	default:
		s.logger.Debug("unknown message type", "client_id", gwConn.ClientID, "type", envelope.Type)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, body)
}

// wsOutbound adapts *websocket.Conn to gateway.Outbound.
type wsOutbound struct {
	conn *websocket.Conn
	ctx  context.Context
}

func (o *wsOutbound) SendJSON(v interface{}) error {
	return writeJSON(o.ctx, o.conn, v)
}

func (o *wsOutbound) SendBinary(b []byte) error {
	return o.conn.Write(o.ctx, websocket.MessageBinary, b)
}

func (o *wsOutbound) Close(code int, reason string) error {
	return o.conn.Close(websocket.StatusCode(code), reason)
}
