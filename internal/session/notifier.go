package session

import (
	"log/slog"

	"geoserver-relay/internal/events"
	"geoserver-relay/internal/metrics"
)

// Notifier consumes TileServed events and pushes them to the owning session.
type Notifier struct {
	registry *Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewNotifier creates a Notifier. m may be nil.
func NewNotifier(r *Registry, logger *slog.Logger, m *metrics.Metrics) *Notifier {
	return &Notifier{
		registry: r,
		logger:   logger.With("component", "telemetry_notifier"),
		metrics:  m,
	}
}

// Handle is an events.Bus subscriber.
func (n *Notifier) Handle(ev events.Event) {
	ts, ok := ev.(events.TileServed)
	if !ok {
		return
	}

	if n.metrics != nil {
		var result string
		if ts.Telemetry.CacheResult != nil {
			result = *ts.Telemetry.CacheResult
		}
		n.metrics.TileCacheResults.WithLabelValues(metrics.NormalizeCacheResult(result)).Inc()
	}

	if !n.registry.IsConnected(ts.SessionID) {
		n.logger.Debug("session not connected, telemetry dropped", "session_id", ts.SessionID)
		return
	}
	n.registry.Send(ts.SessionID, ts.Telemetry)
}
