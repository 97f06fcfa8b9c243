// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the relay.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	TileCacheResults *prometheus.CounterVec
	SessionsActive   prometheus.Gauge
	CatalogRefreshes *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoserver_relay_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "route"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geoserver_relay_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "route"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geoserver_relay_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geoserver_relay_upstream_request_duration_seconds",
			Help:    "Upstream call latency in seconds, until response headers.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoserver_relay_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		TileCacheResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoserver_relay_tile_cache_results_total",
			Help: "Relayed tile-cache responses by upstream cache result.",
		}, []string{"result"}),

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geoserver_relay_sessions_active",
			Help: "Number of registered push-channel sessions.",
		}),

		CatalogRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoserver_relay_catalog_refreshes_total",
			Help: "Layer catalog refreshes by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.TileCacheResults,
		m.SessionsActive,
		m.CatalogRefreshes,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// NormalizeRoute returns the matched route template, or "other" when the
// router matched nothing. Templates are bounded; raw paths are not.
func NormalizeRoute(route string) string {
	if route == "" {
		return "other"
	}
	return route
}

// NormalizeCacheResult maps an upstream cache-result header value to hit, miss or unknown.
func NormalizeCacheResult(v string) string {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "HIT":
		return "hit"
	case "MISS":
		return "miss"
	default:
		return "unknown"
	}
}
