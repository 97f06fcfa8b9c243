package geoserver

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"

	"geoserver-relay/internal/apperr"
	"geoserver-relay/internal/executor"
	"geoserver-relay/internal/metrics"
)

// DefaultConcurrency is the number of layers resolved at once.
const DefaultConcurrency = 6

// LayerDescriptor is everything the map client needs to list and draw a layer.
type LayerDescriptor struct {
	FullName     string   `json:"fullName"`
	LayerName    string   `json:"layerName"`
	Title        string   `json:"title,omitempty"`
	Workspace    string   `json:"workspace"`
	Store        *string  `json:"store"`
	Type         string   `json:"type,omitempty"`
	DefaultStyle *string  `json:"defaultStyle"`
	CRS          []string `json:"crs"`
	DateCreated  string   `json:"dateCreated,omitempty"`
	DateModified string   `json:"dateModified,omitempty"`
	Color        string   `json:"color"`
	TileURL      string   `json:"tileUrl,omitempty"`
}

// Aggregator joins the layer list, per-layer details and the shared
// capabilities document into descriptors.
type Aggregator struct {
	repo    *Repository
	cache   *CapabilitiesCache
	exec    *executor.Executor[LayerListItem, *LayerDescriptor]
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewAggregator creates an Aggregator resolving up to concurrency layers at
// once. m may be nil.
func NewAggregator(repo *Repository, cache *CapabilitiesCache, concurrency int, logger *slog.Logger, m *metrics.Metrics) *Aggregator {
	return &Aggregator{
		repo:    repo,
		cache:   cache,
		exec:    executor.New[LayerListItem, *LayerDescriptor](concurrency, logger),
		logger:  logger.With("component", "aggregator"),
		metrics: m,
	}
}

// Refresh returns a fresh snapshot of the layer descriptors, in the order
// GeoServer lists the layers. Upstream failures yield fewer (or no)
// descriptors; only apperr.ErrAuthRequired is returned as an error.
func (a *Aggregator) Refresh(ctx context.Context, workspace string) ([]LayerDescriptor, error) {
	return a.refresh(ctx, a.repo, a.cache.Get, workspace)
}

// RefreshFrom is Refresh with every upstream call of this snapshot made
// through f, even if the catalog is reconfigured while it runs.
func (a *Aggregator) RefreshFrom(ctx context.Context, f Fetcher, workspace string) ([]LayerDescriptor, error) {
	caps := func(ctx context.Context) (*Capabilities, error) { return a.cache.GetFrom(ctx, f) }
	return a.refresh(ctx, NewRepository(f, a.logger), caps, workspace)
}

func (a *Aggregator) refresh(ctx context.Context, repo *Repository, capabilities func(context.Context) (*Capabilities, error), workspace string) ([]LayerDescriptor, error) {
	a.cache.Invalidate()

	items, err := repo.ListAll(ctx)
	if err != nil {
		a.record("auth_required")
		return nil, err
	}
	if len(items) == 0 {
		a.logger.Warn("no layers found from REST API")
		a.record("empty")
		return []LayerDescriptor{}, nil
	}

	caps, err := capabilities(ctx)
	if errors.Is(err, apperr.ErrAuthRequired) {
		a.record("auth_required")
		return nil, err
	}
	if caps == nil {
		a.logger.Debug("capabilities canceled or unavailable", "error", err)
		a.record("empty")
		return []LayerDescriptor{}, nil
	}

	var authRequired atomic.Bool
	results := a.exec.Run(ctx, items, func(ctx context.Context, item LayerListItem) (*LayerDescriptor, error) {
		d, err := a.describe(ctx, repo, item, caps)
		if errors.Is(err, apperr.ErrAuthRequired) {
			authRequired.Store(true)
		}
		return d, err
	})
	if authRequired.Load() {
		a.record("auth_required")
		return nil, apperr.ErrAuthRequired
	}

	out := make([]LayerDescriptor, 0, len(results))
	for _, d := range results {
		if d != nil {
			out = append(out, *d)
		}
	}

	a.logger.Debug("layers refreshed", "count", len(out), "workspace", workspace, "concurrency", a.exec.Limit())
	a.record("ok")
	return out, nil
}

func (a *Aggregator) describe(ctx context.Context, repo *Repository, item LayerListItem, caps *Capabilities) (*LayerDescriptor, error) {
	prefix, shortName, _ := strings.Cut(item.Name, ":")

	details, err := repo.Details(ctx, item.Name)
	if err != nil {
		return nil, err
	}
	if details == nil || details.Layer == nil {
		a.logger.Warn("no details found for layer", "layer", item.Name)
		return nil, nil
	}
	layer := details.Layer

	d := &LayerDescriptor{
		FullName:     item.Name,
		LayerName:    shortName,
		Workspace:    prefix,
		Type:         layer.Type,
		CRS:          caps.CRS(item.Name),
		DateCreated:  layer.DateCreated,
		DateModified: layer.DateModified,
		Color:        LayerColor(item.Name),
	}
	if cl, ok := caps.Layer(item.Name); ok {
		d.Title = cl.Title
	}
	if layer.Resource != nil {
		if ref, ok := ParseResource(layer.Resource.Href); ok {
			d.Workspace = ref.Workspace
			d.Store = &ref.Store
		}
	}
	if layer.DefaultStyle != nil && layer.DefaultStyle.Name != "" {
		style := layer.DefaultStyle.Name
		d.DefaultStyle = &style
	}
	return d, nil
}

func (a *Aggregator) record(outcome string) {
	if a.metrics != nil {
		a.metrics.CatalogRefreshes.WithLabelValues(outcome).Inc()
	}
}
