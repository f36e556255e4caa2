// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/multiproxy/config.toml",
	"configs/config.toml",
	"config.toml",
}

// Operational endpoints served by the proxy itself. Routes may not shadow them.
const (
	HealthPath = "/healthz"
	StatusPath = "/proxy/status"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Address  string `kong:"short='a',help='Listen address host:port (overrides config).',env='PROXY_ADDRESS'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Proxy    ProxyConfig       `toml:"proxy"`
	Routes   map[string]string `toml:"routes"`
	Upstream UpstreamConfig    `toml:"upstream"`
	Server   ServerConfig      `toml:"server"`
	Log      LogConfig         `toml:"log"`
	Metrics  MetricsConfig     `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ProxyConfig holds the listener settings.
type ProxyConfig struct {
	Address string `toml:"address"`
}

// UpstreamConfig holds backend connection settings shared by the plain and TLS clients.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections"`
}

// ServerConfig holds inbound HTTP server settings.
type ServerConfig struct {
	BodyMaxBytes int64 `toml:"body_max_bytes"` // 0 disables the limit
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
// configSearchPaths in order.
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

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Address != "" {
		c.Proxy.Address = cli.Address
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// Validate checks the configuration. Every route must point at an absolute
// http or https URI; a single bad entry rejects the whole file.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Proxy, validation.By(func(value interface{}) error {
			pc, ok := value.(ProxyConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a ProxyConfig")
			}
			return validation.ValidateStruct(&pc,
				validation.Field(&pc.Address, validation.Required, validation.By(validateHostPort)),
			)
		})),
		validation.Field(&c.Routes,
			validation.Required,
			validation.Length(1, 0),
			validation.By(c.validateRoutes),
		),
		validation.Field(&c.Upstream, validation.By(func(value interface{}) error {
			uc, ok := value.(UpstreamConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be an UpstreamConfig")
			}
			return validation.ValidateStruct(&uc,
				validation.Field(&uc.TimeoutSeconds, validation.Min(0)),
				validation.Field(&uc.IdleConnections, validation.Min(0)),
			)
		})),
		validation.Field(&c.Server, validation.By(func(value interface{}) error {
			sc, ok := value.(ServerConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a ServerConfig")
			}
			return validation.ValidateStruct(&sc,
				validation.Field(&sc.BodyMaxBytes, validation.Min(int64(0))),
			)
		})),
		validation.Field(&c.Log, validation.By(func(value interface{}) error {
			lc, ok := value.(LogConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a LogConfig")
			}
			return validation.ValidateStruct(&lc,
				validation.Field(&lc.Level, validation.By(oneOfFold("debug", "info", "warn", "error"))),
				validation.Field(&lc.Format, validation.By(oneOfFold("json", "text"))),
			)
		})),
		validation.Field(&c.Metrics, validation.By(func(value interface{}) error {
			mc, ok := value.(MetricsConfig)
			if !ok || !mc.Enabled || mc.Path == "" {
				return nil
			}
			if mc.Path[0] != '/' {
				return validation.NewError("validation_invalid_path", "path must start with '/'")
			}
			if mc.Path == HealthPath || mc.Path == StatusPath {
				return validation.NewError("validation_reserved_path", fmt.Sprintf("path %q conflicts with a reserved route", mc.Path))
			}
			return nil
		})),
	)
}

// validateRoutes checks every route key and backend URI.
func (c *Config) validateRoutes(value interface{}) error {
	routes, ok := value.(map[string]string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a table of path = uri")
	}

	reserved := c.reservedPaths()
	errs := validation.Errors{}
	for path, uri := range routes {
		if path == "" || path[0] != '/' {
			errs[path] = validation.NewError("validation_invalid_path", "route path must start with '/'")
			continue
		}
		if reserved[path] {
			errs[path] = validation.NewError("validation_reserved_path", "route path conflicts with a reserved route")
			continue
		}
		if err := ValidateBackendURI(uri); err != nil {
			errs[path] = err
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) reservedPaths() map[string]bool {
	reserved := map[string]bool{HealthPath: true, StatusPath: true}
	if c.Metrics.Enabled {
		path := c.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		reserved[path] = true
	}
	return reserved
}

// ValidateBackendURI reports whether raw is an absolute http or https URI
// with a host.
func ValidateBackendURI(raw string) error {
	if raw == "" {
		return validation.NewError("validation_empty_url", "backend URI cannot be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URI")
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URI must use http or https scheme")
	}

	if u.Host == "" {
		return validation.NewError("validation_missing_host", "URI must have a host")
	}

	return nil
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return validation.NewError("validation_invalid_port", "port must be 1-65535")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

// oneOfFold accepts empty or any of allowed, ignoring case.
func oneOfFold(allowed ...string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		for _, a := range allowed {
			if strings.EqualFold(s, a) {
				return nil
			}
		}
		return validation.NewError("validation_not_in", "must be one of: "+strings.Join(allowed, ", "))
	}
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
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
