package geoserver

import (
	"context"
	"log/slog"
	"sync"

	"geoserver-relay/internal/client"
	"geoserver-relay/internal/config"
	"geoserver-relay/internal/events"
	"geoserver-relay/internal/metrics"
	"geoserver-relay/internal/session"
)

// Catalog is the layer catalog of one browser session. It owns its
// capabilities cache, which is invalidated whenever the settings change.
type Catalog struct {
	upstream *client.UpstreamClient
	logger   *slog.Logger

	mu     sync.RWMutex
	client *Client

	cache      *CapabilitiesCache
	aggregator *Aggregator
}

func newCatalog(up *client.UpstreamClient, concurrency int, logger *slog.Logger, m *metrics.Metrics) *Catalog {
	c := &Catalog{
		upstream: up,
		logger:   logger,
		client:   NewClient(up, Settings{}),
	}
	c.cache = NewCapabilitiesCache(c, logger)
	c.aggregator = NewAggregator(NewRepository(c, logger), c.cache, concurrency, logger, m)
	return c
}

// Configure points the catalog at s. It reports whether s differs from the
// previous settings, in which case the capabilities cache was invalidated.
func (c *Catalog) Configure(s Settings) bool {
	_, changed := c.configure(s)
	return changed
}

func (c *Catalog) configure(s Settings) (*Client, bool) {
	c.mu.Lock()
	if c.client.Settings() == s {
		cl := c.client
		c.mu.Unlock()
		return cl, false
	}
	cl := NewClient(c.upstream, s)
	c.client = cl
	c.mu.Unlock()

	c.cache.Invalidate()
	c.logger.Debug("catalog settings changed", "base_url", s.BaseURL, "workspace", s.Workspace, "session_id", s.SessionID)
	return cl, true
}

// Refresh configures the catalog with s and returns a fresh set of
// descriptors, all read with s even if another refresh reconfigures the
// catalog meanwhile.
func (c *Catalog) Refresh(ctx context.Context, s Settings) ([]LayerDescriptor, error) {
	cl, _ := c.configure(s)
	return c.aggregator.RefreshFrom(ctx, cl, s.Workspace)
}

// Invalidate drops cached capabilities and cancels any fetch in flight.
func (c *Catalog) Invalidate() { c.cache.Invalidate() }

// FetchJSON implements Fetcher using the current settings.
func (c *Catalog) FetchJSON(ctx context.Context, path string, v any) error {
	return c.current().FetchJSON(ctx, path, v)
}

// FetchText implements Fetcher using the current settings.
func (c *Catalog) FetchText(ctx context.Context, path string) ([]byte, error) {
	return c.current().FetchText(ctx, path)
}

func (c *Catalog) current() *Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// liveSessions reports whether an id belongs to a connected push channel.
type liveSessions interface {
	IsConnected(id string) bool
}

// Catalogs keeps one Catalog per connected session.
type Catalogs struct {
	upstream    *client.UpstreamClient
	sessions    liveSessions
	concurrency int
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu        sync.Mutex
	bySession map[string]*Catalog
}

// NewCatalogs creates an empty store that retains catalogs only for
// sessions connected to r. m may be nil.
func NewCatalogs(up *client.UpstreamClient, r *session.Registry, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Catalogs {
	concurrency := cfg.Catalog.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Catalogs{
		upstream:    up,
		sessions:    r,
		concurrency: concurrency,
		logger:      logger.With("component", "catalogs"),
		metrics:     m,
		bySession:   make(map[string]*Catalog),
	}
}

// For returns an existing catalog of sessionID, or creates one that is
// retained only while sessionID names a connected push channel. Empty and
// unknown ids get a throwaway catalog.
func (s *Catalogs) For(sessionID string) *Catalog {
	if sessionID == "" {
		return newCatalog(s.upstream, s.concurrency, s.logger, s.metrics)
	}

	// The liveness check and the insert share the lock with Drop, so a
	// session released after the check is still dropped by its SessionClosed.
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.bySession[sessionID]
	if !ok {
		if !s.sessions.IsConnected(sessionID) {
			s.logger.Debug("no push channel for session, catalog not retained", "session_id", sessionID)
			return newCatalog(s.upstream, s.concurrency, s.logger, s.metrics)
		}
		c = newCatalog(s.upstream, s.concurrency, s.logger.With("session_id", sessionID), s.metrics)
		s.bySession[sessionID] = c
	}
	return c
}

// Drop forgets the catalog of sessionID and cancels its pending fetch.
func (s *Catalogs) Drop(sessionID string) {
	s.mu.Lock()
	c, ok := s.bySession[sessionID]
	delete(s.bySession, sessionID)
	s.mu.Unlock()

	if ok {
		c.Invalidate()
		s.logger.Debug("catalog dropped", "session_id", sessionID)
	}
}

// Len returns the number of retained catalogs.
func (s *Catalogs) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bySession)
}

// Handle is an events.Bus subscriber that drops catalogs of closed sessions.
func (s *Catalogs) Handle(ev events.Event) {
	if sc, ok := ev.(events.SessionClosed); ok {
		s.Drop(sc.SessionID)
	}
}
