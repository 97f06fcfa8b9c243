package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"geoserver-relay/internal/allowlist"
	"geoserver-relay/internal/apperr"
	"geoserver-relay/internal/client"
	"geoserver-relay/internal/config"
	"geoserver-relay/internal/events"
	"geoserver-relay/internal/geoserver"
	"geoserver-relay/internal/service"
	"geoserver-relay/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(allowed ...string) *config.Config {
	return &config.Config{
		Proxy:     config.ProxyConfig{AllowedHosts: allowed, TimeoutSeconds: 5, IdleConnections: 10},
		Catalog:   config.CatalogConfig{Concurrency: 2},
		WebSocket: config.WebSocketConfig{Path: "/ws", PingIntervalSeconds: 30},
	}
}

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) published() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

// testEnv is a fully routed Echo instance with in-memory collaborators.
type testEnv struct {
	cfg      *config.Config
	e        *echo.Echo
	registry *session.Registry
	catalogs *geoserver.Catalogs
}

func newTestEnv(t *testing.T, cfg *config.Config, pub Publisher) *testEnv {
	t.Helper()
	logger := testLogger()

	up := client.NewUpstreamClient(cfg, logger, nil)
	v := allowlist.New(cfg.Proxy.AllowedHosts)
	reg := session.NewRegistry(logger, nil)
	cats := geoserver.NewCatalogs(up, reg, cfg, logger, nil)

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(logger)
	RegisterRoutes(e, cfg,
		newRelayHandler(v, service.NewRelayService(up, logger), pub, logger),
		NewLayersHandler(v, cats, NewRelayPath(cfg), logger),
		NewHealthHandler(v, reg, "test"),
		newWebSocketHandler(cfg, reg, pub, logger),
	)

	return &testEnv{cfg: cfg, e: e, registry: reg, catalogs: cats}
}

func (env *testEnv) serve(method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperr.Response {
	t.Helper()
	var body apperr.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error body %q: %v", rec.Body.String(), err)
	}
	return body
}

// waitFor polls cond until it holds or a few seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
