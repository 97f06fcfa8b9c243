package geoserver

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"geoserver-relay/internal/apperr"
)

const capabilitiesPath = "wms?service=WMS&version=1.3.0&request=GetCapabilities"

// Capabilities is the subset of a WMS 1.3.0 GetCapabilities document the
// aggregator reads.
type Capabilities struct {
	XMLName xml.Name          `xml:"WMS_Capabilities"`
	Version string            `xml:"version,attr"`
	Layers  []CapabilityLayer `xml:"Capability>Layer>Layer"`
}

// CapabilityLayer is one named layer advertised by the WMS.
type CapabilityLayer struct {
	Name  string   `xml:"Name"`
	Title string   `xml:"Title"`
	CRS   []string `xml:"CRS"`
}

// ParseCapabilities decodes a GetCapabilities response.
func ParseCapabilities(data []byte) (*Capabilities, error) {
	var doc Capabilities
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse capabilities: %w", err)
	}
	return &doc, nil
}

// Layer returns the advertised layer called name. Qualified "ws:layer" names
// are tried as given first, then by their short part.
func (c *Capabilities) Layer(name string) (CapabilityLayer, bool) {
	if c == nil {
		return CapabilityLayer{}, false
	}
	candidates := []string{name}
	if _, short, ok := strings.Cut(name, ":"); ok && short != "" {
		candidates = append(candidates, short)
	}
	for _, want := range candidates {
		for _, l := range c.Layers {
			if l.Name == want {
				return l, true
			}
		}
	}
	return CapabilityLayer{}, false
}

// CRS returns the coordinate reference systems advertised for name, or an
// empty slice when the layer is unknown.
func (c *Capabilities) CRS(name string) []string {
	l, ok := c.Layer(name)
	if !ok || len(l.CRS) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(l.CRS))
	for _, crs := range l.CRS {
		if crs = strings.TrimSpace(crs); crs != "" {
			out = append(out, crs)
		}
	}
	return out
}

// flight is one in-progress capabilities fetch. doc and err are written
// before done is closed.
type flight struct {
	src    Fetcher
	done   chan struct{}
	cancel context.CancelFunc
	doc    *Capabilities
	err    error
}

// CapabilitiesCache memoizes the capabilities document behind a single fetch.
//
// States: empty (doc and pending nil), pending (a flight is running and every
// Get joins it) and filled (doc set). Invalidate returns to empty from either
// state and cancels a running flight; its waiters then observe (nil, nil).
type CapabilitiesCache struct {
	fetcher Fetcher
	logger  *slog.Logger

	mu      sync.Mutex
	doc     *Capabilities
	docSrc  Fetcher
	pending *flight
}

// NewCapabilitiesCache creates an empty cache reading through f.
func NewCapabilitiesCache(f Fetcher, logger *slog.Logger) *CapabilitiesCache {
	return &CapabilitiesCache{fetcher: f, logger: logger.With("component", "capabilities_cache")}
}

// Get returns the cached document, joins the fetch in flight, or starts one.
// It returns (nil, nil) when the fetch was canceled, failed, or produced an
// unparsable document; only apperr.ErrAuthRequired and ctx errors surface.
func (c *CapabilitiesCache) Get(ctx context.Context) (*Capabilities, error) {
	return c.GetFrom(ctx, c.fetcher)
}

// GetFrom is Get for a document read through src. A cached document or
// flight belonging to another fetcher is not shared: src is read directly
// and the result is not cached, so a caller never mixes two upstreams.
func (c *CapabilitiesCache) GetFrom(ctx context.Context, src Fetcher) (*Capabilities, error) {
	c.mu.Lock()
	if c.doc != nil && c.docSrc == src {
		doc := c.doc
		c.mu.Unlock()
		return doc, nil
	}
	f := c.pending
	switch {
	case f != nil && f.src != src:
		c.mu.Unlock()
		c.logger.Debug("capabilities cache belongs to other settings, fetching uncached")
		return c.fetchUncached(ctx, src)
	case f == nil && c.doc != nil:
		c.mu.Unlock()
		return c.fetchUncached(ctx, src)
	case f == nil:
		fctx, cancel := context.WithCancel(context.Background())
		f = &flight{src: src, done: make(chan struct{}), cancel: cancel}
		c.pending = f
		go c.run(fctx, f)
	}
	c.mu.Unlock()

	select {
	case <-f.done:
		return f.doc, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops the cached document and cancels any fetch in flight.
func (c *CapabilitiesCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc = nil
	c.docSrc = nil
	if c.pending != nil {
		c.pending.cancel()
		c.pending = nil
	}
}

func (c *CapabilitiesCache) run(ctx context.Context, f *flight) {
	defer close(f.done)
	defer f.cancel()

	doc, err := c.load(ctx, f.src)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Only the current flight may fill the cache.
	if c.pending != f {
		c.logger.Debug("capabilities fetch canceled")
		return
	}
	c.pending = nil

	f.doc, f.err = doc, err
	if doc != nil {
		c.doc, c.docSrc = doc, f.src
		c.logger.Debug("capabilities cached", "layers", len(doc.Layers))
	}
}

func (c *CapabilitiesCache) fetchUncached(ctx context.Context, src Fetcher) (*Capabilities, error) {
	doc, err := c.load(ctx, src)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return doc, err
}

// load fetches and parses the document. Failures other than
// apperr.ErrAuthRequired are logged and yield (nil, nil).
func (c *CapabilitiesCache) load(ctx context.Context, src Fetcher) (*Capabilities, error) {
	data, err := src.FetchText(ctx, capabilitiesPath)
	if err != nil {
		if errors.Is(err, apperr.ErrAuthRequired) {
			return nil, err
		}
		if ctx.Err() == nil {
			c.logger.Error("fetch capabilities failed", "error", err)
		}
		return nil, nil
	}
	doc, err := ParseCapabilities(data)
	if err != nil {
		c.logger.Error("capabilities document is not parsable", "error", err)
		return nil, nil
	}
	return doc, nil
}
