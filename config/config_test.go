package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	if cfg.Name != "jsonrpc-entrypoint" {
		t.Errorf("Expected name 'jsonrpc-entrypoint', got '%s'", cfg.Name)
	}

	if cfg.Server.Host != "localhost" {
		t.Errorf("Expected host 'localhost', got '%s'", cfg.Server.Host)
	}

	if cfg.Server.Port != 9080 {
		t.Errorf("Expected port 9080, got %d", cfg.Server.Port)
	}

	if len(cfg.Entrypoints) != 1 {
		t.Fatalf("Expected 1 entrypoint, got %d", len(cfg.Entrypoints))
	}

	if cfg.Entrypoints[0].Path != "/api/v1/jsonrpc" {
		t.Errorf("Expected entrypoint path '/api/v1/jsonrpc', got '%s'", cfg.Entrypoints[0].Path)
	}

	if cfg.Limits.MaxBodyBytes != 1<<20 {
		t.Errorf("Expected max body bytes %d, got %d", 1<<20, cfg.Limits.MaxBodyBytes)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	// Create a temporary config file
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "test_config.json")

	writeFile(t, configPath, `{
		"name": "test-server",
		"version": "1.0.0",
		"description": "Test server",
		"server": {
			"host": " 127.0.0.1 ",
			"port": 8080,
			"debug": true
		},
		"entrypoints": [
			{"path": "rpc/v1/", "name": "v1"},
			{"path": "/rpc/v2"}
		],
		"scheduler": {"max_workers": 8},
		"limits": {
			"max_body_bytes": 4096,
			"rate_limit": {"enabled": true, "rate_per_second": 5, "burst": 10}
		},
		"storage": {"db_path": "/tmp/kv.db"},
		"logging": {
			"level": "DEBUG",
			"format": "text",
			"path": "/tmp/test.log"
		}
	}`)

	// Load the config
	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Name != "test-server" {
		t.Errorf("Expected name 'test-server', got '%s'", cfg.Name)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Expected host '127.0.0.1', got '%s'", cfg.Server.Host)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Server.Port)
	}

	if !cfg.Server.Debug {
		t.Errorf("Expected debug to be true")
	}

	if len(cfg.Entrypoints) != 2 {
		t.Fatalf("Expected 2 entrypoints, got %d", len(cfg.Entrypoints))
	}

	if cfg.Entrypoints[0].Path != "/rpc/v1" {
		t.Errorf("Expected normalized path '/rpc/v1', got '%s'", cfg.Entrypoints[0].Path)
	}

	if cfg.Entrypoints[1].Name != "entrypoint" {
		t.Errorf("Expected default entrypoint name, got '%s'", cfg.Entrypoints[1].Name)
	}

	if cfg.Scheduler.MaxWorkers != 8 {
		t.Errorf("Expected 8 workers, got %d", cfg.Scheduler.MaxWorkers)
	}

	if cfg.Limits.MaxBodyBytes != 4096 {
		t.Errorf("Expected max body bytes 4096, got %d", cfg.Limits.MaxBodyBytes)
	}

	if !cfg.Limits.RateLimit.Enabled || cfg.Limits.RateLimit.Burst != 10 {
		t.Errorf("Expected rate limit enabled with burst 10, got %+v", cfg.Limits.RateLimit)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected logging level 'debug', got '%s'", cfg.Logging.Level)
	}

	if cfg.Server.ShutdownTimeoutSeconds != 10 {
		t.Errorf("Expected default shutdown timeout 10, got %d", cfg.Server.ShutdownTimeoutSeconds)
	}
}

func TestLoadConfigTOML(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "rpc_config.toml")

	writeFile(t, configPath, `
name = "toml-server"

[server]
host = "0.0.0.0"
port = 7000

[[entrypoints]]
path = "/api/v1/jsonrpc"
name = "api_v1"

[[entrypoints]]
path = "/api/v2/jsonrpc"
name = "api_v2"

[auth]
enabled = true
required = true
secret = "s3cret"

[storage]
db_path = "/tmp/toml.db"

[logging]
level = "warn"
format = "json"
path = "/tmp/toml.log"
`)

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Name != "toml-server" {
		t.Errorf("Expected name 'toml-server', got '%s'", cfg.Name)
	}

	if cfg.Server.Port != 7000 {
		t.Errorf("Expected port 7000, got %d", cfg.Server.Port)
	}

	if len(cfg.Entrypoints) != 2 || cfg.Entrypoints[1].Name != "api_v2" {
		t.Errorf("Unexpected entrypoints: %+v", cfg.Entrypoints)
	}

	if !cfg.Auth.Enabled || !cfg.Auth.Required || cfg.Auth.Secret != "s3cret" {
		t.Errorf("Unexpected auth config: %+v", cfg.Auth)
	}

	if cfg.Auth.TTLSeconds != 3600 {
		t.Errorf("Expected default token ttl 3600, got %d", cfg.Auth.TTLSeconds)
	}
}

func TestLoadConfigFileNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.json")
	if err == nil {
		t.Error("Expected error when loading non-existent config file")
	}
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "invalid_config.json")
	writeFile(t, configPath, `{"name": "broken",`)

	if _, err := LoadConfig(configPath); err == nil {
		t.Error("Expected error when loading invalid JSON")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.json")
	writeFile(t, configPath, `{"server": {"port": 8080}}`)

	t.Setenv("RPC_PORT", "9191")
	t.Setenv("RPC_HOST", "0.0.0.0")
	t.Setenv("RPC_LOG_LEVEL", "error")
	t.Setenv("RPC_MAX_WORKERS", "3")
	t.Setenv("RPC_RATE_LIMIT_ENABLED", "true")
	t.Setenv("RPC_RATE_LIMIT_RPS", "2.5")
	t.Setenv("RPC_AUTH_ENABLED", "true")
	t.Setenv("RPC_AUTH_SECRET", "from-env")
	t.Setenv("RPC_DEBUG", "not-a-bool")

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 9191 {
		t.Errorf("Expected port 9191, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected host '0.0.0.0', got '%s'", cfg.Server.Host)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Expected level 'error', got '%s'", cfg.Logging.Level)
	}
	if cfg.Scheduler.MaxWorkers != 3 {
		t.Errorf("Expected 3 workers, got %d", cfg.Scheduler.MaxWorkers)
	}
	if !cfg.Limits.RateLimit.Enabled || cfg.Limits.RateLimit.RatePerSecond != 2.5 {
		t.Errorf("Unexpected rate limit: %+v", cfg.Limits.RateLimit)
	}
	if !cfg.Auth.Enabled || cfg.Auth.Secret != "from-env" {
		t.Errorf("Unexpected auth: %+v", cfg.Auth)
	}
	if cfg.Server.Debug {
		t.Errorf("Expected invalid RPC_DEBUG to be ignored")
	}
}

func TestLoadConfigDotEnv(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.json")
	writeFile(t, configPath, `{}`)
	writeFile(t, filepath.Join(tempDir, ".env"), "RPC_DB_PATH=/tmp/from-dotenv.db\n")

	if _, ok := os.LookupEnv("RPC_DB_PATH"); ok {
		t.Skip("RPC_DB_PATH already set in the environment")
	}
	t.Cleanup(func() {
		os.Unsetenv("RPC_DB_PATH")
	})

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Storage.DBPath != "/tmp/from-dotenv.db" {
		t.Errorf("Expected db path from .env, got '%s'", cfg.Storage.DBPath)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid port number"},
		{"empty host", func(c *Config) { c.Server.Host = "" }, "host cannot be empty"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "invalid log level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
		{"no entrypoints", func(c *Config) { c.Entrypoints = nil }, "at least one entrypoint"},
		{"root entrypoint", func(c *Config) { c.Entrypoints = []Entrypoint{{Path: "/"}} }, "root path"},
		{"duplicate entrypoint", func(c *Config) {
			c.Entrypoints = []Entrypoint{{Path: "/rpc"}, {Path: "/rpc"}}
		}, "duplicate entrypoint path"},
		{"negative workers", func(c *Config) { c.Scheduler.MaxWorkers = -1 }, "max workers"},
		{"rate without burst", func(c *Config) {
			c.Limits.RateLimit = RateLimit{Enabled: true, RatePerSecond: 1}
		}, "burst"},
		{"auth without secret", func(c *Config) { c.Auth.Enabled = true }, "auth secret"},
		{"no db path", func(c *Config) { c.Storage.DBPath = "" }, "db path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Expected validation error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"api":        "/api",
		"/api/":      "/api",
		" //api/v1 ": "/api/v1",
		"":           "/",
	}
	for in, want := range cases {
		if got := NormalizePath(in); got != want {
			t.Errorf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("RPC_CONFIG_PATH", "/etc/rpc/config.toml")
	path, err := ResolveConfigPath()
	if err != nil {
		t.Fatalf("Expected no error resolving config path, got %v", err)
	}
	if path != "/etc/rpc/config.toml" {
		t.Errorf("Expected env path, got '%s'", path)
	}

	t.Setenv("RPC_CONFIG_PATH", "")
	path, err = ResolveConfigPath()
	if err != nil {
		t.Fatalf("Expected no error resolving config path, got %v", err)
	}
	if filepath.Base(path) != "rpc_config.json" {
		t.Errorf("Expected config filename 'rpc_config.json', got '%s'", filepath.Base(path))
	}
}

func TestEnsureDefaultConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "rpc_config.json")

	if err := EnsureDefaultConfig(configPath); err != nil {
		t.Fatalf("Failed to create default config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load default config: %v", err)
	}
	if cfg.Name != "jsonrpc-entrypoint" {
		t.Errorf("Expected default name, got '%s'", cfg.Name)
	}

	// An existing file is left untouched.
	writeFile(t, configPath, `{"name": "custom"}`)
	if err := EnsureDefaultConfig(configPath); err != nil {
		t.Fatalf("EnsureDefaultConfig failed on existing file: %v", err)
	}
	data, _ := os.ReadFile(configPath)
	if string(data) != `{"name": "custom"}` {
		t.Errorf("Expected existing config to be preserved, got %s", data)
	}

	if err := EnsureDefaultConfig(" "); err == nil {
		t.Error("Expected error for empty path")
	}
}

func TestSaveConfig(t *testing.T) {
	for _, name := range []string{"save_test_config.json", "save_test_config.toml"} {
		t.Run(name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.Name = "test-save"
			cfg.Server.Port = 9090
			cfg.Server.Debug = true
			cfg.Entrypoints = []Entrypoint{{Path: "/a", Name: "a"}, {Path: "/b", Name: "b"}}
			cfg.Logging.Path = "/tmp/save_test.log"

			configPath := filepath.Join(t.TempDir(), name)
			if err := SaveConfig(cfg, configPath); err != nil {
				t.Fatalf("Failed to save config: %v", err)
			}

			loadedCfg, err := LoadConfig(configPath)
			if err != nil {
				t.Fatalf("Failed to load saved config: %v", err)
			}

			if loadedCfg.Name != cfg.Name {
				t.Errorf("Expected name '%s', got '%s'", cfg.Name, loadedCfg.Name)
			}
			if loadedCfg.Server.Port != cfg.Server.Port {
				t.Errorf("Expected port %d, got %d", cfg.Server.Port, loadedCfg.Server.Port)
			}
			if loadedCfg.Server.Debug != cfg.Server.Debug {
				t.Errorf("Expected debug %v, got %v", cfg.Server.Debug, loadedCfg.Server.Debug)
			}
			if len(loadedCfg.Entrypoints) != 2 || loadedCfg.Entrypoints[1].Path != "/b" {
				t.Errorf("Unexpected entrypoints: %+v", loadedCfg.Entrypoints)
			}
			if loadedCfg.Logging.Path != cfg.Logging.Path {
				t.Errorf("Expected logging path '%s', got '%s'", cfg.Logging.Path, loadedCfg.Logging.Path)
			}
		})
	}

	if err := SaveConfig(nil, filepath.Join(t.TempDir(), "nil.json")); err == nil {
		t.Error("Expected error saving nil config")
	}
}

func TestWatch(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "watched.json")
	writeFile(t, configPath, `{"logging": {"level": "info"}}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, configPath, func(cfg *Config) {
			changes <- cfg
		})
	}()

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)

	writeFile(t, configPath, `{"logging": {"level": "bogus"}}`)
	time.Sleep(400 * time.Millisecond)
	writeFile(t, configPath, `{"logging": {"level": "debug"}}`)

	select {
	case cfg := <-changes:
		if cfg.Logging.Level != "debug" {
			t.Errorf("Expected reloaded level 'debug', got '%s'", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for config reload")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop after cancel")
	}
}
