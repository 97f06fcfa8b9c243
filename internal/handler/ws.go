package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"geoserver-relay/internal/config"
	"geoserver-relay/internal/events"
	"geoserver-relay/internal/model"
	"geoserver-relay/internal/session"
)

// WebSocketHandler accepts push channels. Each connection gets a fresh
// session id, announced as the first frame.
type WebSocketHandler struct {
	upgrader     websocket.Upgrader
	registry     *session.Registry
	events       Publisher
	pingInterval time.Duration
	logger       *slog.Logger
}

// NewWebSocketHandler creates a WebSocketHandler.
func NewWebSocketHandler(cfg *config.Config, r *session.Registry, bus *events.Bus, logger *slog.Logger) *WebSocketHandler {
	return newWebSocketHandler(cfg, r, bus, logger)
}

func newWebSocketHandler(cfg *config.Config, r *session.Registry, p Publisher, logger *slog.Logger) *WebSocketHandler {
	interval := time.Duration(cfg.WebSocket.PingIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.CORS),
		},
		registry:     r,
		events:       p,
		pingInterval: interval,
		logger:       logger.With("component", "ws_handler"),
	}
}

// originChecker accepts any origin unless CORS is enabled with an explicit
// origin list. Requests without an Origin header are not from a browser and
// are always accepted.
func originChecker(cfg config.CORSConfig) func(*http.Request) bool {
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		if !cfg.Enabled || len(allowed) == 0 || allowed["*"] {
			return true
		}
		origin := r.Header.Get(echo.HeaderOrigin)
		return origin == "" || allowed[origin]
	}
}

// Handle upgrades the connection and serves it until the client goes away.
func (h *WebSocketHandler) Handle(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.logger.Debug("websocket upgrade failed", "err", err)
		return nil
	}

	ch := session.NewWSChannel(conn)
	id := uuid.NewString()
	h.registry.Register(id, ch)
	h.logger.Info("client connected", "session_id", id, "remote_ip", c.RealIP())

	if err := ch.Send(model.NewSessionIDMessage(id)); err != nil {
		h.logger.Warn("failed to send session id", "session_id", id, "err", err)
		h.close(id, ch)
		return nil
	}

	done := make(chan struct{})
	go h.keepalive(ch, id, done)

	id = h.readLoop(ch, id)
	close(done)
	h.close(id, ch)
	return nil
}

// readLoop consumes client frames until the connection fails and returns the
// session id the channel ended up bound to.
func (h *WebSocketHandler) readLoop(ch *session.WSChannel, id string) string {
	conn := ch.Conn()
	wait := 2 * h.pingInterval
	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(wait)) }

	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.logger.Debug("websocket read failed", "session_id", id, "err", err)
			}
			return id
		}
		extend()

		var env model.Message
		if err := json.Unmarshal(data, &env); err != nil {
			h.logger.Debug("ignoring non-JSON client message", "session_id", id)
			continue
		}
		if env.Type != model.MessageSessionID {
			continue
		}
		var msg model.SessionIDMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.SessionID == "" || msg.SessionID == id {
			continue
		}

		h.registry.Release(id, ch)
		h.registry.Register(msg.SessionID, ch)
		h.publish(events.SessionClosed{SessionID: id})
		h.logger.Info("session re-associated", "from", id, "to", msg.SessionID)
		id = msg.SessionID
	}
}

// keepalive pings the client until done is closed or a ping fails. A client
// that stops answering trips the read deadline in readLoop.
func (h *WebSocketHandler) keepalive(ch *session.WSChannel, id string, done <-chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := ch.Ping(); err != nil {
				h.logger.Debug("websocket ping failed", "session_id", id, "err", err)
				return
			}
		}
	}
}

func (h *WebSocketHandler) close(id string, ch *session.WSChannel) {
	h.registry.Release(id, ch)
	h.publish(events.SessionClosed{SessionID: id})
	_ = ch.Close()
	h.logger.Info("client disconnected", "session_id", id)
}

func (h *WebSocketHandler) publish(ev events.Event) {
	if err := h.events.Publish(ev); err != nil {
		h.logger.Debug("event publish failed", "topic", ev.Topic(), "err", err)
	}
}
