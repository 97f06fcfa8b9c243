// Package session tracks live push channels by session id and delivers
// telemetry to them.
package session

import (
	"log/slog"
	"sync"

	"geoserver-relay/internal/metrics"
)

// Channel is a live push connection to one client.
type Channel interface {
	// Send serializes v and writes it to the client.
	Send(v any) error
	// Open reports whether the channel can still carry messages.
	Open() bool
}

// Registry maps session ids to channels. Register is last-writer-wins.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewRegistry creates an empty Registry. m may be nil.
func NewRegistry(logger *slog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		channels: make(map[string]Channel),
		logger:   logger.With("component", "session_registry"),
		metrics:  m,
	}
}

// Register binds ch to id, replacing any previous channel.
func (r *Registry) Register(id string, ch Channel) {
	r.mu.Lock()
	r.channels[id] = ch
	n := len(r.channels)
	r.mu.Unlock()

	r.setGauge(n)
	r.logger.Debug("session registered", "session_id", id)
}

// Unregister removes id. It is idempotent.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.channels, id)
	n := len(r.channels)
	r.mu.Unlock()

	r.setGauge(n)
	r.logger.Debug("session unregistered", "session_id", id)
}

// Release removes id only while it is still bound to ch, so a channel that
// closes late cannot evict the one that replaced it. It reports whether
// anything was removed.
func (r *Registry) Release(id string, ch Channel) bool {
	r.mu.Lock()
	cur, ok := r.channels[id]
	if ok && cur == ch {
		delete(r.channels, id)
	}
	n := len(r.channels)
	r.mu.Unlock()

	if !ok || cur != ch {
		return false
	}
	r.setGauge(n)
	r.logger.Debug("session released", "session_id", id)
	return true
}

// Send pushes v to the channel bound to id. Unknown ids and closed channels
// are ignored; write failures are logged, never returned.
func (r *Registry) Send(id string, v any) {
	r.mu.RLock()
	ch, ok := r.channels[id]
	r.mu.RUnlock()

	if !ok || !ch.Open() {
		return
	}
	if err := ch.Send(v); err != nil {
		r.logger.Warn("failed to send message to client", "session_id", id, "err", err)
	}
}

// IsConnected reports whether id has an open channel.
func (r *Registry) IsConnected(id string) bool {
	r.mu.RLock()
	ch, ok := r.channels[id]
	r.mu.RUnlock()
	return ok && ch.Open()
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

func (r *Registry) setGauge(n int) {
	if r.metrics != nil {
		r.metrics.SessionsActive.Set(float64(n))
	}
}
