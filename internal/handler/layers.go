package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"geoserver-relay/internal/allowlist"
	"geoserver-relay/internal/geoserver"
	"geoserver-relay/internal/middleware"
)

// LayersHandler serves the layer catalog of the GeoServer named in the request.
type LayersHandler struct {
	validator *allowlist.Validator
	catalogs  *geoserver.Catalogs
	relayPath string // route prefix of the relay, used to build tile URLs
	logger    *slog.Logger
}

// NewLayersHandler creates a LayersHandler. relayPath is where the relay is
// mounted, e.g. "/api/proxy/geoserver".
func NewLayersHandler(v *allowlist.Validator, catalogs *geoserver.Catalogs, relayPath RelayPath, logger *slog.Logger) *LayersHandler {
	return &LayersHandler{
		validator: v,
		catalogs:  catalogs,
		relayPath: string(relayPath),
		logger:    logger.With("component", "layers_handler"),
	}
}

// List refreshes and returns the descriptors of every layer, each with a
// vector tile URL template pointing back through the relay.
func (h *LayersHandler) List(c echo.Context) error {
	req := c.Request()

	base, err := h.validator.Validate(req.Header.Get(middleware.HeaderBaseURL))
	if err != nil {
		return err
	}

	settings := geoserver.Settings{
		BaseURL:       base,
		Workspace:     c.QueryParam("workspace"),
		Authorization: req.Header.Get(echo.HeaderAuthorization),
		SessionID:     req.Header.Get(middleware.HeaderSessionID),
	}

	layers, err := h.catalogs.For(settings.SessionID).Refresh(req.Context(), settings)
	if err != nil {
		return err
	}

	proxy := c.Scheme() + "://" + req.Host + h.relayPath
	for i := range layers {
		layers[i].TileURL = TileURL(proxy, layers[i].FullName)
	}

	return c.JSON(http.StatusOK, layers)
}

// TileURL returns the TMS vector tile template for a layer served through
// the relay at proxy.
func TileURL(proxy, fullName string) string {
	return strings.TrimRight(proxy, "/") + "/gwc/service/tms/1.0.0/" + fullName + "@EPSG%3A900913@pbf/{z}/{x}/{y}.pbf"
}
