package geoserver

import (
	"context"
	"fmt"
	"testing"

	"geoserver-relay/internal/config"
	"geoserver-relay/internal/events"
	"geoserver-relay/internal/session"
)

type liveChannel struct{}

func (liveChannel) Send(any) error { return nil }
func (liveChannel) Open() bool     { return true }

// newTestCatalogs returns a store whose registry has the given ids connected.
func newTestCatalogs(connected ...string) (*Catalogs, *session.Registry) {
	reg := session.NewRegistry(testLogger(), nil)
	for _, id := range connected {
		reg.Register(id, liveChannel{})
	}
	return NewCatalogs(testUpstream(), reg, &config.Config{}, testLogger(), nil), reg
}

func TestCatalog_ConfigureInvalidatesOnChange(t *testing.T) {
	gs := newFakeGeoServer(t)
	cs, _ := newTestCatalogs("s1")
	cat := cs.For("s1")

	s := gs.settings("")
	if !cat.Configure(s) {
		t.Error("first Configure() = false, want true")
	}
	if _, err := cat.cache.Get(context.Background()); err != nil {
		t.Fatal(err)
	}
	if cat.Configure(s) {
		t.Error("Configure(same) = true, want false")
	}
	if _, err := cat.cache.Get(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := gs.capabilityCalls.Load(); n != 1 {
		t.Errorf("capabilities fetched %d times, want 1 while settings are unchanged", n)
	}

	s.Workspace = "topp"
	if !cat.Configure(s) {
		t.Error("Configure(changed workspace) = false, want true")
	}
	if _, err := cat.cache.Get(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := gs.capabilityCalls.Load(); n != 2 {
		t.Errorf("capabilities fetched %d times, want 2 after settings change", n)
	}
}

func TestCatalog_RefreshUsesCurrentSettings(t *testing.T) {
	gs := newFakeGeoServer(t)
	populate(gs)
	gs.requireAuth = "Basic good"
	cs, _ := newTestCatalogs("s1")
	cat := cs.For("s1")

	if _, err := cat.Refresh(context.Background(), gs.settings("Basic bad")); err == nil {
		t.Fatal("Refresh() with bad credentials: expected error")
	}
	got, err := cat.Refresh(context.Background(), gs.settings("Basic good"))
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len(descriptors) = %d, want 2", len(got))
	}
}

func TestCatalog_RefreshKeepsSettingsWhenReconfigured(t *testing.T) {
	first := newFakeGeoServer(t)
	populate(first)
	second := newFakeGeoServer(t)
	populate(second)
	second.details["topp:states"] = `{"layer":{"name":"states",
		"resource":{"href":"http://gs/geoserver/rest/workspaces/other/datastores/elsewhere/featuretypes/states.json"}}}`

	listing := make(chan struct{})
	resume := make(chan struct{})
	first.onList = func() {
		close(listing)
		<-resume
	}

	cs, _ := newTestCatalogs("s1")
	cat := cs.For("s1")

	type result struct {
		layers []LayerDescriptor
		err    error
	}
	done := make(chan result, 1)
	go func() {
		layers, err := cat.Refresh(context.Background(), first.settings(""))
		done <- result{layers, err}
	}()

	<-listing
	cat.Configure(second.settings(""))
	close(resume)

	r := <-done
	if r.err != nil {
		t.Fatalf("Refresh() error = %v", r.err)
	}
	if len(r.layers) != 2 {
		t.Fatalf("len(descriptors) = %d, want 2", len(r.layers))
	}
	if st := r.layers[0].Store; st == nil || *st != "states_shapefile" {
		t.Errorf("store = %v, want states_shapefile from the first server", st)
	}
	if n := len(second.detailPaths); n != 0 {
		t.Errorf("second server got %d detail calls, want 0", n)
	}
	if n := second.capabilityCalls.Load(); n != 0 {
		t.Errorf("second server got %d capabilities calls, want 0", n)
	}
}

func TestCatalogs_ForAndDrop(t *testing.T) {
	cs, _ := newTestCatalogs("a", "b")

	a := cs.For("a")
	if cs.For("a") != a {
		t.Error("For(a) returned a different catalog on second call")
	}
	if cs.For("") == cs.For("") {
		t.Error("For(\"\") should return throwaway catalogs")
	}
	cs.For("b")
	if cs.Len() != 2 {
		t.Errorf("Len() = %d, want 2", cs.Len())
	}

	cs.Handle(events.SessionClosed{SessionID: "a"})
	cs.Handle(events.TileServed{SessionID: "b"})
	cs.Drop("unknown")

	if cs.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cs.Len())
	}
	if cs.For("a") == a {
		t.Error("For(a) after SessionClosed returned the dropped catalog")
	}
}

func TestCatalogs_UnknownSessionsAreNotRetained(t *testing.T) {
	cs, reg := newTestCatalogs("live")
	cs.For("live")

	for i := range 100 {
		id := fmt.Sprintf("unknown-%d", i)
		if cs.For(id) == cs.For(id) {
			t.Fatalf("For(%s) retained a catalog for a session with no push channel", id)
		}
	}
	if n := cs.Len(); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}

	reg.Unregister("live")
	cs.Handle(events.SessionClosed{SessionID: "live"})
	cs.For("live")
	if n := cs.Len(); n != 0 {
		t.Errorf("Len() after the session closed = %d, want 0", n)
	}
}
