// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"webveil/internal/codec"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/webveil/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Prefix   string `kong:"help='Proxy route prefix (overrides config).',env='PROXY_PREFIX'"`
	Codec    string `kong:"help='URL codec: none|percent|xor|base64 (overrides config).',env='PROXY_CODEC'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Proxy   ProxyConfig   `toml:"proxy"`
	Scripts ScriptsConfig `toml:"scripts"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ProxyConfig holds the proxy route and upstream connection settings.
type ProxyConfig struct {
	// Prefix is the route under which proxied pages are served; encoded
	// destination URLs are appended directly after it.
	Prefix string `toml:"prefix"`
	// Codec names the URL obfuscation codec: none, percent, xor or base64.
	Codec string `toml:"codec"`
	// Origin is the externally visible scheme://host[:port] of this proxy.
	// Empty means derive it from each incoming request.
	Origin          string `toml:"origin"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
}

// ScriptsConfig points at the client runtime assets injected into every
// rewritten document. Paths are served by this proxy.
type ScriptsConfig struct {
	Dir     string `toml:"dir"` // local directory the assets are served from
	Bundle  string `toml:"bundle"`
	Config  string `toml:"config"`
	Client  string `toml:"client"`
	Handler string `toml:"handler"`
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
// /etc/webveil/config.toml then configs/config.toml.
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
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

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
	if cli.Prefix != "" {
		c.Proxy.Prefix = cli.Prefix
	}
	if cli.Codec != "" {
		c.Proxy.Codec = cli.Codec
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Route prefix: must be an absolute path segment so the encoded URL can
	// be appended directly.
	p := c.Proxy.Prefix
	if !strings.HasPrefix(p, "/") || !strings.HasSuffix(p, "/") {
		return fmt.Errorf("proxy.prefix must start and end with '/'; got %q", p)
	}

	if _, err := codec.ByName(c.Proxy.Codec); err != nil {
		return fmt.Errorf("proxy.codec: %w", err)
	}

	if c.Proxy.Origin != "" && !strings.HasPrefix(c.Proxy.Origin, "http://") && !strings.HasPrefix(c.Proxy.Origin, "https://") {
		return fmt.Errorf("proxy.origin must be a scheme://host origin; got %q", c.Proxy.Origin)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Proxy.TimeoutSeconds < 0 {
		return fmt.Errorf("proxy.timeout_seconds must be non-negative; got %d", c.Proxy.TimeoutSeconds)
	}
	if c.Proxy.IdleConnections < 0 {
		return fmt.Errorf("proxy.idle_connections must be non-negative; got %d", c.Proxy.IdleConnections)
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

	// Script asset routes must not fall under the proxy prefix, or they would
	// be decoded as destinations.
	for _, s := range []string{c.Scripts.Bundle, c.Scripts.Config, c.Scripts.Client, c.Scripts.Handler} {
		if !strings.HasPrefix(s, "/") {
			return fmt.Errorf("scripts paths must start with '/'; got %q", s)
		}
		if strings.HasPrefix(s, c.Proxy.Prefix) {
			return fmt.Errorf("scripts path %q conflicts with proxy.prefix %q", s, c.Proxy.Prefix)
		}
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		mp := c.Metrics.Path
		if mp[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", mp)
		}
		for _, reserved := range []string{strings.TrimSuffix(c.Proxy.Prefix, "/"), "/healthz"} {
			if mp == reserved || strings.HasPrefix(mp, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", mp, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8080).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Proxy.Prefix == "" {
		c.Proxy.Prefix = "/service/"
	}
	if c.Proxy.Codec == "" {
		c.Proxy.Codec = codec.NameXOR
	}
	if c.Proxy.TimeoutSeconds == 0 {
		c.Proxy.TimeoutSeconds = 120
	}
	if c.Proxy.IdleConnections == 0 {
		c.Proxy.IdleConnections = 100
	}
	if c.Scripts.Dir == "" {
		c.Scripts.Dir = "assets/wv"
	}
	if c.Scripts.Bundle == "" {
		c.Scripts.Bundle = "/wv/bundle.js"
	}
	if c.Scripts.Config == "" {
		c.Scripts.Config = "/wv/config.js"
	}
	if c.Scripts.Client == "" {
		c.Scripts.Client = "/wv/client.js"
	}
	if c.Scripts.Handler == "" {
		c.Scripts.Handler = "/wv/handler.js"
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

// Paths returns the injected asset routes in execution order.
func (c *ScriptsConfig) Paths() []string {
	return []string{c.Bundle, c.Config, c.Client, c.Handler}
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
