package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"geoserver-relay/internal/allowlist"
	"geoserver-relay/internal/events"
	"geoserver-relay/internal/middleware"
	"geoserver-relay/internal/model"
	"geoserver-relay/internal/service"
)

// telemetryPathSegment marks relayed paths served by the tile cache.
const telemetryPathSegment = "/gwc/service"

// copyBufferSize is the chunk size used when streaming relayed bodies.
const copyBufferSize = 32 << 10

// methodNotAllowed is the body returned for anything but GET and HEAD.
type methodNotAllowed struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Publisher accepts fire-and-forget events.
type Publisher interface {
	Publish(ev events.Event) error
}

// RelayHandler forwards map-client requests to the GeoServer named in the
// X-GeoServer-BaseUrl header and streams the response back.
type RelayHandler struct {
	validator *allowlist.Validator
	service   *service.RelayService
	events    Publisher
	logger    *slog.Logger
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(v *allowlist.Validator, svc *service.RelayService, bus *events.Bus, logger *slog.Logger) *RelayHandler {
	return newRelayHandler(v, svc, bus, logger)
}

func newRelayHandler(v *allowlist.Validator, svc *service.RelayService, p Publisher, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		validator: v,
		service:   svc,
		events:    p,
		logger:    logger.With("component", "relay_handler"),
	}
}

// Handle validates, forwards and streams one request. Validation and method
// errors are returned before any upstream contact.
func (h *RelayHandler) Handle(c echo.Context) error {
	req := c.Request()

	base, err := h.validator.Validate(req.Header.Get(middleware.HeaderBaseURL))
	if err != nil {
		return err
	}

	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return c.JSON(http.StatusMethodNotAllowed, methodNotAllowed{
			Error:   "Method not allowed",
			Message: "Only GET and HEAD methods are supported by the proxy",
		})
	}

	path := "/" + c.Param("*")
	target, err := service.JoinURL(base, path, req.URL.RawQuery)
	if err != nil {
		return err
	}

	resp, err := h.service.Forward(&model.RelayRequest{
		Ctx:       req.Context(),
		TargetURL: target,
		Method:    req.Method,
		Header:    req.Header,
	})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	out := c.Response().Header()
	for key, vals := range resp.Header {
		for _, v := range vals {
			out.Add(key, v)
		}
	}
	out.Set(echo.HeaderAccessControlAllowOrigin, "*")

	if strings.Contains(path, telemetryPathSegment) {
		h.notify(c, target, resp)
	}

	c.Response().WriteHeader(resp.StatusCode)
	if req.Method == http.MethodHead {
		return nil
	}

	// Status is already sent; a failure here leaves the client with a
	// truncated body, so it is only logged.
	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(flushWriter{c.Response()}, resp.Body, buf); err != nil {
		h.logger.Warn("streaming response body", "err", err, "target", target)
	}
	return nil
}

// notify publishes a TileServed event for the session named in the request.
// It never affects the response.
func (h *RelayHandler) notify(c echo.Context, target string, resp *model.RelayResponse) {
	req := c.Request()
	sessionID := req.Header.Get(middleware.HeaderSessionID)
	if sessionID == "" {
		return
	}

	cacheResult := service.ExtractCacheResult(resp.Header)
	ev := events.TileServed{
		SessionID: sessionID,
		Telemetry: model.TelemetryEvent{
			Type:        model.MessageProxyResponse,
			URL:         c.Scheme() + "://" + req.Host + req.URL.EscapedPath(),
			Target:      target,
			Status:      resp.StatusCode,
			CacheResult: cacheResult,
			ViaProxy:    true,
			DurationMs:  resp.DurationMs(),
			Headers:     map[string]*string{"geowebcache-cache-result": cacheResult},
		},
	}
	if err := h.events.Publish(ev); err != nil {
		h.logger.Debug("telemetry publish failed (non-critical)", "err", err, "session_id", sessionID)
	}
}

// flushWriter flushes after every write so tiles reach the browser as they arrive.
type flushWriter struct {
	res *echo.Response
}

func (w flushWriter) Write(p []byte) (int, error) {
	n, err := w.res.Write(p)
	if err == nil {
		w.res.Flush()
	}
	return n, err
}
