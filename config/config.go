// Package config resolves the wrapper's runtime settings from defaults, an
// optional YAML file, and MCPWRAP_* environment variables, in that order of
// increasing precedence. CLI flags override all three at the call site.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	projectConfigName = "mcpwrap.yaml"
	homeConfigName    = "config.yaml"

	// DefaultProtocolVersion is the MCP protocol version offered to the
	// wrappee during initialize.
	DefaultProtocolVersion = "2025-03-26"
	// DefaultHTTPAddr is where the streamable HTTP transport listens.
	DefaultHTTPAddr = "127.0.0.1:8000"

	defaultToolTimeout = 30 * time.Second
	defaultLogCapacity = 1000
)

// Transport selects how the wrapper serves its upstream MCP peer.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// Config is the fully resolved wrapper configuration.
type Config struct {
	Transport       Transport     `yaml:"transport"`
	ToolTimeout     time.Duration `yaml:"-"`
	ToolTimeoutRaw  string        `yaml:"tool_timeout"`
	ProtocolVersion string        `yaml:"protocol_version"`
	LogCapacity     int           `yaml:"log_capacity"`
	PreserveANSI    bool          `yaml:"preserve_ansi"`
	WatchBinary     string        `yaml:"watch_binary"`
	LogLevel        slog.Level    `yaml:"-"`
	LogLevelName    string        `yaml:"log_level"`
	LogArchivePath  string        `yaml:"log_archive"`
	OTelEndpoint    string        `yaml:"otel_endpoint"`
	HTTPAddr        string        `yaml:"http_addr"`
}

// Default returns the built-in configuration before any file or environment
// overlays.
func Default() Config {
	return Config{
		Transport:       TransportStdio,
		ToolTimeout:     defaultToolTimeout,
		ProtocolVersion: DefaultProtocolVersion,
		LogCapacity:     defaultLogCapacity,
		LogLevel:        slog.LevelInfo,
		LogLevelName:    "info",
		HTTPAddr:        DefaultHTTPAddr,
	}
}

// DiscoverPath resolves the config file location with first-match semantics:
// the explicit path, then ./mcpwrap.yaml, then ~/.mcpwrap/config.yaml.
func DiscoverPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("config: resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("config: resolve user home: %w", err)
	}
	return DiscoverPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverPathFrom is a testable variant of DiscoverPath.
func DiscoverPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 3)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, ".mcpwrap", homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			// An explicit path that does not exist is an error, not a miss.
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config: file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("config: checking path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// Load resolves the final configuration: defaults, then the discovered YAML
// file (if any), then MCPWRAP_* environment variables.
func Load(explicitPath string) (Config, error) {
	path, found, err := DiscoverPath(explicitPath)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if found {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %q: %w", path, err)
	}
	if c.LogLevelName != "" {
		level, err := ParseLevel(c.LogLevelName)
		if err != nil {
			return fmt.Errorf("config: %q: %w", path, err)
		}
		c.LogLevel = level
	}
	if c.ToolTimeoutRaw != "" {
		timeout, err := parseTimeout(c.ToolTimeoutRaw)
		if err != nil {
			return fmt.Errorf("config: %q: %w", path, err)
		}
		c.ToolTimeout = timeout
	}
	return nil
}

// ApplyEnv overlays MCPWRAP_* variables onto the config. The lookup parameter
// exists so tests can inject an environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("MCPWRAP_TRANSPORT"); ok {
		c.Transport = Transport(strings.ToLower(strings.TrimSpace(v)))
	}
	if v, ok := lookup("MCPWRAP_TOOL_TIMEOUT"); ok {
		timeout, err := parseTimeout(v)
		if err != nil {
			return fmt.Errorf("config: MCPWRAP_TOOL_TIMEOUT: %w", err)
		}
		c.ToolTimeout = timeout
	}
	if v, ok := lookup("MCPWRAP_PROTOCOL_VERSION"); ok {
		c.ProtocolVersion = strings.TrimSpace(v)
	}
	if v, ok := lookup("MCPWRAP_LOGSIZE"); ok {
		capacity, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: MCPWRAP_LOGSIZE: %w", err)
		}
		c.LogCapacity = capacity
	}
	if v, ok := lookup("MCPWRAP_LOG_LEVEL"); ok {
		level, err := ParseLevel(v)
		if err != nil {
			return fmt.Errorf("config: MCPWRAP_LOG_LEVEL: %w", err)
		}
		c.LogLevel = level
		c.LogLevelName = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup("MCPWRAP_LOG_ARCHIVE"); ok {
		c.LogArchivePath = strings.TrimSpace(v)
	}
	if v, ok := lookup("MCPWRAP_OTEL_ENDPOINT"); ok {
		c.OTelEndpoint = strings.TrimSpace(v)
	}
	if v, ok := lookup("MCPWRAP_HTTP_ADDR"); ok {
		c.HTTPAddr = strings.TrimSpace(v)
	}
	return nil
}

// Validate rejects configurations the wrapper cannot run with.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("config: unsupported transport %q", c.Transport)
	}
	if c.ToolTimeout <= 0 {
		return errors.New("config: tool timeout must be positive")
	}
	if c.LogCapacity <= 0 {
		return errors.New("config: log capacity must be positive")
	}
	if strings.TrimSpace(c.ProtocolVersion) == "" {
		return errors.New("config: protocol version is required")
	}
	if c.Transport == TransportHTTP && strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("config: http transport requires a listen address")
	}
	return nil
}

// ParseLevel maps a config-file or environment level name to a slog.Level.
func ParseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", value)
	}
}

// parseTimeout accepts either a Go duration ("45s") or a bare number of
// seconds ("45").
func parseTimeout(value string) (time.Duration, error) {
	clean := strings.TrimSpace(value)
	if d, err := time.ParseDuration(clean); err == nil {
		return d, nil
	}
	seconds, err := strconv.Atoi(clean)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", value)
	}
	return time.Duration(seconds) * time.Second, nil
}
