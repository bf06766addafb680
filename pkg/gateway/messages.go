package gateway

// Outbound is the per-connection writer the transport layer supplies.
// Implementations must serialize concurrent JSON/binary writes themselves
// or rely on the fact that Connection only ever calls these sequentially
// under its own outbound_lock (sendJSON/sendBinary below).
type Outbound interface {
	SendJSON(v interface{}) error
	SendBinary(b []byte) error
	Close(code int, reason string) error
}

type helloMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

type sttMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

type ttsMessage struct {
	Type      string `json:"type"`
	State     string `json:"state"`
	Text      string `json:"text,omitempty"`
	SessionID string `json:"session_id"`
}

type errorData struct {
	Error string `json:"error"`
}

type errorMessage struct {
	Type string    `json:"type"`
	Data errorData `json:"data"`
}

type controlData struct {
	Command string `json:"command"`
}

type controlMessage struct {
	Type string      `json:"type"`
	Data controlData `json:"data"`
}

// sendJSON and sendBinary route through the connection's outbound_lock so a
// control frame can never interleave with an in-flight audio frame.
func (c *Connection) sendJSON(v interface{}) error {
	c.outboundLock.Lock()
	defer c.outboundLock.Unlock()
	return c.outbound.SendJSON(v)
}

func (c *Connection) sendBinary(b []byte) error {
	c.outboundLock.Lock()
	defer c.outboundLock.Unlock()
	return c.outbound.SendBinary(b)
}

func (c *Connection) sendError(msg string) {
	if err := c.sendJSON(errorMessage{Type: "error", Data: errorData{Error: msg}}); err != nil {
		c.logger.Warn("failed to send error to client", "client_id", c.ClientID, "err", err)
	}
}
