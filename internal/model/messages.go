package model

// Push channel message types.
const (
	MessageSessionID     = "session-id"
	MessageProxyResponse = "proxy-response"
)

// Message is the envelope used to sniff the type of an inbound frame.
type Message struct {
	Type string `json:"type"`
}

// SessionIDMessage announces (server→client) or re-asserts (client→server)
// the session id bound to a push channel.
type SessionIDMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// NewSessionIDMessage builds the handshake message for id.
func NewSessionIDMessage(id string) SessionIDMessage {
	return SessionIDMessage{Type: MessageSessionID, SessionID: id}
}

// TelemetryEvent reports the outcome of one relayed tile-cache request.
// CacheResult is nil when the upstream did not report one.
type TelemetryEvent struct {
	Type        string             `json:"type"`
	URL         string             `json:"url"`
	Target      string             `json:"target"`
	Status      int                `json:"status"`
	CacheResult *string            `json:"cacheResult"`
	ViaProxy    bool               `json:"viaProxy"`
	DurationMs  int64              `json:"durationMs"`
	Headers     map[string]*string `json:"headers"`
}
