// Package geoserver assembles layer descriptors from a GeoServer instance:
// typed REST fetchers, a single-flight capabilities cache, and the
// aggregator that joins them with bounded parallelism.
package geoserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"geoserver-relay/internal/apperr"
	"geoserver-relay/internal/client"
)

// maxDocumentBytes bounds a single capabilities document read into memory.
const maxDocumentBytes = 64 << 20

// Settings identify the upstream a catalog talks to. Any change invalidates
// the catalog's cached capabilities.
type Settings struct {
	BaseURL       string
	Workspace     string
	Authorization string
	SessionID     string
}

// Fetcher retrieves documents relative to a GeoServer base URL.
type Fetcher interface {
	FetchJSON(ctx context.Context, path string, v any) error
	FetchText(ctx context.Context, path string) ([]byte, error)
}

// Client is a Fetcher bound to one set of Settings.
type Client struct {
	upstream *client.UpstreamClient
	settings Settings
}

// NewClient creates a Client for s. s.BaseURL must already have passed the allow-list.
func NewClient(up *client.UpstreamClient, s Settings) *Client {
	return &Client{upstream: up, settings: s}
}

// Settings returns the settings the client was built with.
func (c *Client) Settings() Settings { return c.settings }

// FetchJSON decodes the JSON document at path into v.
func (c *Client) FetchJSON(ctx context.Context, path string, v any) error {
	body, err := c.fetch(ctx, path, "application/json")
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("%s: decode: %w", path, err)
	}
	return nil
}

// FetchText returns the raw document at path.
func (c *Client) FetchText(ctx context.Context, path string) ([]byte, error) {
	body, err := c.fetch(ctx, path, "")
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(io.LimitReader(body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read: %w", path, err)
	}
	return data, nil
}

func (c *Client) fetch(ctx context.Context, path, accept string) (io.ReadCloser, error) {
	url := strings.TrimRight(c.settings.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")

	header := http.Header{}
	if accept != "" {
		header.Set("Accept", accept)
	}
	if c.settings.Authorization != "" {
		header.Set("Authorization", c.settings.Authorization)
	}

	resp, err := c.upstream.DoStream(ctx, http.MethodGet, url, header)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		_ = resp.Body.Close()
		return nil, apperr.ErrAuthRequired
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%s failed: %d", path, resp.StatusCode)
	}
	return resp.Body, nil
}
