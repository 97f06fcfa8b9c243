package geoserver

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"geoserver-relay/internal/apperr"
	"geoserver-relay/internal/metrics"
)

func newTestAggregator(c *Client, m *metrics.Metrics) *Aggregator {
	return NewAggregator(NewRepository(c, testLogger()), NewCapabilitiesCache(c, testLogger()), 2, testLogger(), m)
}

func populate(gs *fakeGeoServer) {
	gs.layers = `{"layers":{"layer":[
		{"name":"topp:states"},
		{"name":"tiger:roads"},
		{"name":"topp:ghost"}
	]}}`
	gs.details["topp:states"] = `{"layer":{"name":"states","type":"VECTOR",
		"defaultStyle":{"name":"population"},
		"resource":{"@class":"featureType","href":"http://gs/geoserver/rest/workspaces/topp/datastores/states_shapefile/featuretypes/states.json"},
		"dateCreated":"2024-01-01 10:00:00.0 UTC"}}`
	gs.details["tiger:roads"] = `{"layer":{"name":"roads","type":"VECTOR","resource":{"href":"http://gs/geoserver/rest/layers/tiger:roads.json"}}}`
	gs.details["topp:ghost"] = `{}`
}

func TestAggregator_Refresh(t *testing.T) {
	gs := newFakeGeoServer(t)
	populate(gs)
	agg := newTestAggregator(NewClient(testUpstream(), gs.settings("")), nil)

	got, err := agg.Refresh(context.Background(), "topp")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(descriptors) = %d, want 2 (ghost dropped): %+v", len(got), got)
	}

	states := got[0]
	if states.FullName != "topp:states" || states.LayerName != "states" {
		t.Errorf("names = %q/%q", states.FullName, states.LayerName)
	}
	if states.Workspace != "topp" || states.Store == nil || *states.Store != "states_shapefile" {
		t.Errorf("workspace/store = %q/%v", states.Workspace, states.Store)
	}
	if states.DefaultStyle == nil || *states.DefaultStyle != "population" {
		t.Errorf("DefaultStyle = %v, want population", states.DefaultStyle)
	}
	if !reflect.DeepEqual(states.CRS, []string{"EPSG:4326", "CRS:84"}) {
		t.Errorf("CRS = %v", states.CRS)
	}
	if states.Title != "USA Population" {
		t.Errorf("Title = %q", states.Title)
	}
	if states.DateCreated != "2024-01-01 10:00:00.0 UTC" {
		t.Errorf("DateCreated = %q", states.DateCreated)
	}
	if states.Color != LayerColor("topp:states") {
		t.Errorf("Color = %q, want %q", states.Color, LayerColor("topp:states"))
	}

	roads := got[1]
	if roads.FullName != "tiger:roads" {
		t.Fatalf("order not preserved: second = %q", roads.FullName)
	}
	if roads.Workspace != "tiger" || roads.Store != nil {
		t.Errorf("fallback workspace/store = %q/%v, want tiger/nil", roads.Workspace, roads.Store)
	}
	if roads.DefaultStyle != nil {
		t.Errorf("DefaultStyle = %v, want nil", *roads.DefaultStyle)
	}
	if !reflect.DeepEqual(roads.CRS, []string{"EPSG:3857"}) {
		t.Errorf("CRS = %v", roads.CRS)
	}
}

func TestAggregator_Refresh_EmptyList(t *testing.T) {
	gs := newFakeGeoServer(t)
	gs.layers = `{"layers":""}`
	agg := newTestAggregator(NewClient(testUpstream(), gs.settings("")), nil)

	got, err := agg.Refresh(context.Background(), "")
	if err != nil || len(got) != 0 {
		t.Errorf("Refresh() = %v, %v; want empty, nil", got, err)
	}
	if n := gs.capabilityCalls.Load(); n != 0 {
		t.Errorf("capabilities fetched %d times for an empty list, want 0", n)
	}
}

func TestAggregator_Refresh_UnparsableCapabilities(t *testing.T) {
	gs := newFakeGeoServer(t)
	populate(gs)
	gs.capabilities = "<ServiceExceptionReport/>"
	agg := newTestAggregator(NewClient(testUpstream(), gs.settings("")), nil)

	got, err := agg.Refresh(context.Background(), "")
	if err != nil || len(got) != 0 {
		t.Errorf("Refresh() = %v, %v; want empty, nil", got, err)
	}
	select {
	case p := <-gs.detailPaths:
		t.Errorf("details fetched (%s) although capabilities were unavailable", p)
	default:
	}
}

func TestAggregator_Refresh_FreshSnapshot(t *testing.T) {
	gs := newFakeGeoServer(t)
	populate(gs)
	agg := newTestAggregator(NewClient(testUpstream(), gs.settings("")), nil)

	for range 2 {
		if _, err := agg.Refresh(context.Background(), ""); err != nil {
			t.Fatal(err)
		}
	}
	if n := gs.capabilityCalls.Load(); n != 2 {
		t.Errorf("capabilities fetched %d times over 2 refreshes, want 2", n)
	}
}

func TestAggregator_Refresh_AuthRequired(t *testing.T) {
	gs := newFakeGeoServer(t)
	populate(gs)
	gs.requireAuth = "Basic good"
	m := metrics.New()
	agg := newTestAggregator(NewClient(testUpstream(), gs.settings("Basic bad")), m)

	_, err := agg.Refresh(context.Background(), "")
	if !errors.Is(err, apperr.ErrAuthRequired) {
		t.Errorf("Refresh() error = %v, want ErrAuthRequired", err)
	}
}

// detailsOnlyAuth rejects the per-layer details call with 401 while the list
// and capabilities succeed.
type detailsOnlyAuth struct{ *Client }

func (d detailsOnlyAuth) FetchJSON(ctx context.Context, path string, v any) error {
	if path != "rest/layers.json" {
		return apperr.ErrAuthRequired
	}
	return d.Client.FetchJSON(ctx, path, v)
}

func TestAggregator_Refresh_AuthRequiredFromDetails(t *testing.T) {
	gs := newFakeGeoServer(t)
	populate(gs)
	f := detailsOnlyAuth{NewClient(testUpstream(), gs.settings(""))}
	agg := NewAggregator(NewRepository(f, testLogger()), NewCapabilitiesCache(f, testLogger()), 2, testLogger(), nil)

	_, err := agg.Refresh(context.Background(), "")
	if !errors.Is(err, apperr.ErrAuthRequired) {
		t.Errorf("Refresh() error = %v, want ErrAuthRequired", err)
	}
}
