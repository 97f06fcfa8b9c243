package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"geoserver-relay/internal/allowlist"
	"geoserver-relay/internal/client"
	"geoserver-relay/internal/config"
	"geoserver-relay/internal/events"
	"geoserver-relay/internal/geoserver"
	"geoserver-relay/internal/handler"
	"geoserver-relay/internal/metrics"
	"geoserver-relay/internal/middleware"
	"geoserver-relay/internal/service"
	"geoserver-relay/internal/session"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("geoserver-relay"),
		kong.Description("Allow-listed relay between browser map clients and GeoServer."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
		}),
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			newValidator,
			events.NewBus,
			session.NewRegistry,
			session.NewNotifier,
			client.NewUpstreamClient,
			service.NewRelayService,
			geoserver.NewCatalogs,
			handler.NewRelayPath,
			handler.NewRelayHandler,
			handler.NewLayersHandler,
			handler.NewHealthHandler,
			handler.NewWebSocketHandler,
		),
		fx.Invoke(
			handler.RegisterRoutes,
			registerMetricsEndpoint,
			subscribeEvents,
			warnConfigPermissions,
			startServer,
		),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newValidator(cfg *config.Config) *allowlist.Validator {
	return allowlist.New(cfg.Proxy.AllowedHosts)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler(logger)

	e.Server.ReadTimeout = 30 * time.Second
	// Tiles and push channels are long-lived; the upstream client timeout
	// bounds relays instead.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.MetricsMiddleware(m))
	e.Use(middleware.SecurityHeaders())

	if cfg.CORS.Enabled {
		e.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
		logger.Info("cors enabled", "origins", cfg.CORS.AllowedOrigins)
	}
	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimit(cfg.Server.RateLimit.RequestsPerSecond))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func registerMetricsEndpoint(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}
	path := cfg.Server.BasePath + cfg.Metrics.Path
	e.GET(path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	logger.Info("metrics endpoint enabled", "path", path)
}

func subscribeEvents(lc fx.Lifecycle, bus *events.Bus, n *session.Notifier, catalogs *geoserver.Catalogs) {
	bus.Subscribe("telemetry_notifier", n.Handle)
	bus.Subscribe("catalogs", catalogs.Handle)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			bus.Close()
			return nil
		},
	})
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr, "base_path", cfg.Server.BasePath, "version", version)
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
