package geoserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"geoserver-relay/internal/apperr"
)

// LayerListItem is one entry of rest/layers.json.
type LayerListItem struct {
	Name string `json:"name"`
	Href string `json:"href,omitempty"`
}

// NamedRef is a GeoServer REST reference to another resource.
type NamedRef struct {
	Class string `json:"@class,omitempty"`
	Name  string `json:"name,omitempty"`
	Href  string `json:"href,omitempty"`
}

// LayerDetails is the "layer" object of rest/layers/{name}.json.
type LayerDetails struct {
	Name         string    `json:"name"`
	Type         string    `json:"type,omitempty"`
	DefaultStyle *NamedRef `json:"defaultStyle,omitempty"`
	Resource     *NamedRef `json:"resource,omitempty"`
	DateCreated  string    `json:"dateCreated,omitempty"`
	DateModified string    `json:"dateModified,omitempty"`
}

// DetailsResponse wraps LayerDetails. Layer is nil when GeoServer returned
// a document without a layer object.
type DetailsResponse struct {
	Layer *LayerDetails `json:"layer"`
}

// layerList accepts a single object or an array for "layer". Anything else
// (GeoServer sends "" for an empty catalog) decodes to an empty list.
type layerList []LayerListItem

func (l *layerList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0:
		*l = nil
	case data[0] == '[':
		var items []LayerListItem
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*l = items
	case data[0] == '{':
		var item LayerListItem
		if err := json.Unmarshal(data, &item); err != nil {
			return err
		}
		*l = layerList{item}
	default:
		*l = nil
	}
	return nil
}

type layersContainer struct {
	Layer layerList `json:"layer"`
}

// layersField tolerates `"layers": ""`.
type layersField struct {
	layersContainer
}

func (f *layersField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil
	}
	return json.Unmarshal(data, &f.layersContainer)
}

type layersResponse struct {
	Layers layersField `json:"layers"`
}

// Repository fetches the two REST documents the aggregator needs.
// Failures other than ErrAuthRequired are logged and reported as empty results.
type Repository struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// NewRepository creates a Repository reading through f.
func NewRepository(f Fetcher, logger *slog.Logger) *Repository {
	return &Repository{fetcher: f, logger: logger.With("component", "layer_repository")}
}

// ListAll returns every layer GeoServer knows about, always as a slice.
func (r *Repository) ListAll(ctx context.Context) ([]LayerListItem, error) {
	var resp layersResponse
	if err := r.fetcher.FetchJSON(ctx, "rest/layers.json", &resp); err != nil {
		if errors.Is(err, apperr.ErrAuthRequired) {
			return nil, err
		}
		r.logger.Error("list layers failed", "error", err)
		return []LayerListItem{}, nil
	}

	items := make([]LayerListItem, 0, len(resp.Layers.Layer))
	for _, it := range resp.Layers.Layer {
		if it.Name != "" {
			items = append(items, it)
		}
	}
	return items, nil
}

// Details fetches rest/layers/{name}.json. The first ':' of a qualified name
// is percent-encoded. A nil response with a nil error means the lookup failed
// and was logged.
func (r *Repository) Details(ctx context.Context, name string) (*DetailsResponse, error) {
	encoded := strings.Replace(name, ":", "%3A", 1)

	var resp DetailsResponse
	if err := r.fetcher.FetchJSON(ctx, "rest/layers/"+encoded+".json", &resp); err != nil {
		if errors.Is(err, apperr.ErrAuthRequired) {
			return nil, err
		}
		r.logger.Error("layer details failed", "layer", name, "error", err)
		return nil, nil
	}
	return &resp, nil
}
