package handler

import (
	"github.com/labstack/echo/v4"

	"geoserver-relay/internal/config"
)

// Route paths, relative to server.base_path.
const (
	PathRelay  = "/api/proxy/geoserver"
	PathLayers = "/api/layers"
	PathUp     = "/up"
	PathStatus = "/status"
)

// RelayPath is the absolute mount point of the relay, base path included.
type RelayPath string

// NewRelayPath returns where the relay is mounted for cfg.
func NewRelayPath(cfg *config.Config) RelayPath {
	return RelayPath(cfg.Server.BasePath + PathRelay)
}

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, relay *RelayHandler, layers *LayersHandler, health *HealthHandler, ws *WebSocketHandler) {
	g := e.Group(cfg.Server.BasePath)

	g.GET(PathUp, health.Up)
	g.GET(PathStatus, health.Status)
	g.GET(PathLayers, layers.List)

	// Any, so that other methods reach the handler and get the relay's own 405.
	// The bare prefix relays to the GeoServer base URL itself.
	g.Any(PathRelay, relay.Handle)
	g.Any(PathRelay+"/*", relay.Handle)

	g.GET(cfg.WebSocket.Path, ws.Handle)
}
