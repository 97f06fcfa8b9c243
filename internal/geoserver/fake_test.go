package geoserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"geoserver-relay/internal/client"
	"geoserver-relay/internal/config"
)

const capabilitiesXML = `<?xml version="1.0" encoding="UTF-8"?>
<WMS_Capabilities version="1.3.0" xmlns="http://www.opengis.net/wms" xmlns:xlink="http://www.w3.org/1999/xlink">
  <Service><Name>WMS</Name><Title>GeoServer Web Map Service</Title></Service>
  <Capability>
    <Layer>
      <Title>GeoServer Web Map Service</Title>
      <CRS>EPSG:4326</CRS>
      <Layer queryable="1">
        <Name>topp:states</Name>
        <Title>USA Population</Title>
        <CRS>EPSG:4326</CRS>
        <CRS>CRS:84</CRS>
      </Layer>
      <Layer queryable="1">
        <Name>roads</Name>
        <Title>Roads</Title>
        <CRS>EPSG:3857</CRS>
      </Layer>
    </Layer>
  </Capability>
</WMS_Capabilities>`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testUpstream() *client.UpstreamClient {
	cfg := &config.Config{Proxy: config.ProxyConfig{TimeoutSeconds: 5, IdleConnections: 10}}
	return client.NewUpstreamClient(cfg, testLogger(), nil)
}

// fakeGeoServer serves the REST and WMS endpoints under /geoserver.
type fakeGeoServer struct {
	*httptest.Server

	layers       string            // body of rest/layers.json
	details      map[string]string // decoded layer name -> body
	capabilities string
	requireAuth  string // when set, requests without this Authorization get 401
	onList       func() // called before rest/layers.json is answered

	capabilityCalls atomic.Int32
	detailPaths     chan string
}

func newFakeGeoServer(t *testing.T) *fakeGeoServer {
	t.Helper()
	f := &fakeGeoServer{
		details:      map[string]string{},
		capabilities: capabilitiesXML,
		detailPaths:  make(chan string, 64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /geoserver/rest/layers.json", func(w http.ResponseWriter, r *http.Request) {
		if f.onList != nil {
			f.onList()
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, f.layers)
	})
	mux.HandleFunc("GET /geoserver/rest/layers/{file}", func(w http.ResponseWriter, r *http.Request) {
		f.detailPaths <- r.URL.EscapedPath()
		name := r.PathValue("file")
		name = name[:len(name)-len(".json")]
		body, ok := f.details[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	})
	mux.HandleFunc("GET /geoserver/wms", func(w http.ResponseWriter, r *http.Request) {
		f.capabilityCalls.Add(1)
		if r.URL.Query().Get("request") != "GetCapabilities" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		_, _ = io.WriteString(w, f.capabilities)
	})

	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.requireAuth != "" && r.Header.Get("Authorization") != f.requireAuth {
			w.Header().Set("WWW-Authenticate", `Basic realm="GeoServer"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeGeoServer) settings(auth string) Settings {
	return Settings{BaseURL: f.URL + "/geoserver", Authorization: auth}
}

// stubFetcher serves a fixed capabilities body, optionally blocking until released.
type stubFetcher struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	body    []byte
	err     error
}

func (s *stubFetcher) FetchJSON(context.Context, string, any) error {
	return errors.New("stubFetcher: FetchJSON not supported")
}

func (s *stubFetcher) FetchText(ctx context.Context, _ string) ([]byte, error) {
	s.calls.Add(1)
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.body, s.err
}
