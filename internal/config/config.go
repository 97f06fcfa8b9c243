// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/geoserver-relay/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config       string   `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host         string   `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port         int      `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	BasePath     string   `kong:"help='Path prefix for every route (overrides config).',env='BASE_PATH'"`
	AllowedHosts []string `kong:"help='Allowed GeoServer hosts, comma-separated (overrides config).',env='ALLOWED_HOSTS',sep=','"`
	LogLevel     string   `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Proxy     ProxyConfig     `toml:"proxy"`
	CORS      CORSConfig      `toml:"cors"`
	Catalog   CatalogConfig   `toml:"catalog"`
	WebSocket WebSocketConfig `toml:"websocket"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host      string          `toml:"host"`
	Port      int             `toml:"port"` // 0 means "use default" (3001); TOML cannot distinguish 0 from unset
	BasePath  string          `toml:"base_path"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ProxyConfig holds relay settings.
type ProxyConfig struct {
	AllowedHosts    []string `toml:"allowed_hosts"`
	TimeoutSeconds  int      `toml:"timeout_seconds"` // 0 disables the client timeout
	IdleConnections int      `toml:"idle_connections"`
}

// CORSConfig holds cross-origin settings.
type CORSConfig struct {
	Enabled        bool     `toml:"enabled"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// CatalogConfig holds layer catalog settings.
type CatalogConfig struct {
	Concurrency int `toml:"concurrency"`
}

// WebSocketConfig holds push channel settings.
type WebSocketConfig struct {
	Path                string `toml:"path"`
	PingIntervalSeconds int    `toml:"ping_interval_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/geoserver-relay/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)
	cfg.Server.BasePath = NormalizeBasePath(cfg.Server.BasePath)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.BasePath != "" {
		c.Server.BasePath = cli.BasePath
	}
	if len(cli.AllowedHosts) > 0 {
		c.Proxy.AllowedHosts = cli.AllowedHosts
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	hosts := 0
	for _, h := range c.Proxy.AllowedHosts {
		if strings.TrimSpace(h) != "" {
			hosts++
		}
	}
	if hosts == 0 {
		return fmt.Errorf("proxy.allowed_hosts must list at least one host (use \"*\" to allow any)")
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535; got %d", c.Server.Port)
	}
	if c.Proxy.TimeoutSeconds < 0 {
		return fmt.Errorf("proxy.timeout_seconds must be non-negative; got %d", c.Proxy.TimeoutSeconds)
	}
	if c.Proxy.IdleConnections < 0 {
		return fmt.Errorf("proxy.idle_connections must be non-negative; got %d", c.Proxy.IdleConnections)
	}
	if c.Catalog.Concurrency < 0 {
		return fmt.Errorf("catalog.concurrency must be non-negative; got %d", c.Catalog.Concurrency)
	}
	if c.WebSocket.PingIntervalSeconds < 0 {
		return fmt.Errorf("websocket.ping_interval_seconds must be non-negative; got %d", c.WebSocket.PingIntervalSeconds)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if p := c.WebSocket.Path; p != "" && p[0] != '/' {
		return fmt.Errorf("websocket.path must start with '/'; got %q", p)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/api/proxy", "/api/layers", "/up", "/status", c.websocketPath()} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

func (c *Config) websocketPath() string {
	if c.WebSocket.Path == "" {
		return "/ws"
	}
	return c.WebSocket.Path
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, Concurrency, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. TimeoutSeconds
// is the exception: zero keeps relays unbounded.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3001
	}
	if c.Proxy.IdleConnections == 0 {
		c.Proxy.IdleConnections = 100
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if c.Catalog.Concurrency == 0 {
		c.Catalog.Concurrency = 6
	}
	c.WebSocket.Path = c.websocketPath()
	if c.WebSocket.PingIntervalSeconds == 0 {
		c.WebSocket.PingIntervalSeconds = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// NormalizeBasePath returns p with a leading slash and no trailing slash.
// Empty input and "/" both yield "".
func NormalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = strings.TrimRight(p, "/")
	return p
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
