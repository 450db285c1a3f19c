package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Transport != TransportStdio {
		t.Fatalf("default transport = %q", cfg.Transport)
	}
	if cfg.ToolTimeout != 30*time.Second {
		t.Fatalf("default timeout = %v", cfg.ToolTimeout)
	}
	if cfg.LogCapacity != 1000 {
		t.Fatalf("default log capacity = %d", cfg.LogCapacity)
	}
}

func TestDiscoverPathFrom(t *testing.T) {
	cwd := t.TempDir()
	home := t.TempDir()

	path, found, err := DiscoverPathFrom("", cwd, home)
	if err != nil || found {
		t.Fatalf("DiscoverPathFrom() = %q, %v, %v; want miss", path, found, err)
	}

	homeConfig := filepath.Join(home, ".mcpwrap", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(homeConfig), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(homeConfig, []byte("transport: stdio\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	path, found, err = DiscoverPathFrom("", cwd, home)
	if err != nil || !found || path != homeConfig {
		t.Fatalf("DiscoverPathFrom() = %q, %v, %v; want home config", path, found, err)
	}

	// The project file wins over the home file.
	projectConfig := filepath.Join(cwd, "mcpwrap.yaml")
	if err := os.WriteFile(projectConfig, []byte("transport: stdio\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	path, found, err = DiscoverPathFrom("", cwd, home)
	if err != nil || !found || path != projectConfig {
		t.Fatalf("DiscoverPathFrom() = %q, %v, %v; want project config", path, found, err)
	}

	// An explicit missing path is an error, not a fallthrough.
	if _, _, err := DiscoverPathFrom(filepath.Join(cwd, "absent.yaml"), cwd, home); err == nil {
		t.Fatal("DiscoverPathFrom() with missing explicit path should fail")
	}
}

func TestApplyFileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcpwrap.yaml")
	content := strings.Join([]string{
		"transport: http",
		"tool_timeout: 10s",
		"log_capacity: 50",
		"log_level: debug",
		"watch_binary: ./bin/server",
		"http_addr: 127.0.0.1:9000",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	if err := cfg.applyFile(path); err != nil {
		t.Fatalf("applyFile() error = %v", err)
	}
	if cfg.Transport != TransportHTTP || cfg.ToolTimeout != 10*time.Second || cfg.LogCapacity != 50 {
		t.Fatalf("file overlay = %+v", cfg)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("file log level = %v", cfg.LogLevel)
	}
	if cfg.WatchBinary != "./bin/server" {
		t.Fatalf("file watch_binary = %q", cfg.WatchBinary)
	}

	// Environment beats the file.
	err := cfg.ApplyEnv(envFrom(map[string]string{
		"MCPWRAP_TRANSPORT":    "stdio",
		"MCPWRAP_TOOL_TIMEOUT": "45",
		"MCPWRAP_LOGSIZE":      "200",
		"MCPWRAP_LOG_LEVEL":    "warn",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.Transport != TransportStdio {
		t.Fatalf("env transport = %q", cfg.Transport)
	}
	if cfg.ToolTimeout != 45*time.Second {
		t.Fatalf("env timeout = %v, want bare seconds accepted", cfg.ToolTimeout)
	}
	if cfg.LogCapacity != 200 || cfg.LogLevel != slog.LevelWarn {
		t.Fatalf("env overlay = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad timeout", map[string]string{"MCPWRAP_TOOL_TIMEOUT": "soon"}},
		{"bad logsize", map[string]string{"MCPWRAP_LOGSIZE": "many"}},
		{"bad level", map[string]string{"MCPWRAP_LOG_LEVEL": "loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			if err := cfg.ApplyEnv(envFrom(tt.env)); err == nil {
				t.Fatalf("ApplyEnv(%v) should fail", tt.env)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default ok", func(c *Config) {}, false},
		{"http ok", func(c *Config) { c.Transport = TransportHTTP }, false},
		{"unknown transport", func(c *Config) { c.Transport = "sse" }, true},
		{"zero timeout", func(c *Config) { c.ToolTimeout = 0 }, true},
		{"zero capacity", func(c *Config) { c.LogCapacity = 0 }, true},
		{"empty protocol", func(c *Config) { c.ProtocolVersion = " " }, true},
		{"http without addr", func(c *Config) { c.Transport = TransportHTTP; c.HTTPAddr = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := ParseLevel(name)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("ParseLevel(verbose) should fail")
	}
}
