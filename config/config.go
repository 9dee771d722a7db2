package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the JSON-RPC server configuration
type Config struct {
	Name        string       `json:"name" toml:"name"`
	Version     string       `json:"version" toml:"version"`
	Description string       `json:"description" toml:"description"`
	Server      Server       `json:"server" toml:"server"`
	Entrypoints []Entrypoint `json:"entrypoints" toml:"entrypoints"`
	Scheduler   Scheduler    `json:"scheduler" toml:"scheduler"`
	Limits      Limits       `json:"limits" toml:"limits"`
	Auth        Auth         `json:"auth" toml:"auth"`
	Storage     Storage      `json:"storage" toml:"storage"`
	Logging     Logging      `json:"logging" toml:"logging"`
}

// Server represents server configuration
type Server struct {
	Host                   string `json:"host" toml:"host"`
	Port                   int    `json:"port" toml:"port"`
	Debug                  bool   `json:"debug" toml:"debug"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds" toml:"shutdown_timeout_seconds"`
}

// Entrypoint is one mounted JSON-RPC endpoint.
type Entrypoint struct {
	Path string `json:"path" toml:"path"`
	Name string `json:"name" toml:"name"`
}

// Scheduler sizes the worker pool batch items run on. Zero picks a default
// derived from the CPU count.
type Scheduler struct {
	MaxWorkers int `json:"max_workers" toml:"max_workers"`
}

// Limits bounds incoming traffic.
type Limits struct {
	MaxBodyBytes int64     `json:"max_body_bytes" toml:"max_body_bytes"`
	RateLimit    RateLimit `json:"rate_limit" toml:"rate_limit"`
}

// RateLimit configures the token bucket shared by all clients.
type RateLimit struct {
	Enabled       bool    `json:"enabled" toml:"enabled"`
	RatePerSecond float64 `json:"rate_per_second" toml:"rate_per_second"`
	Burst         int64   `json:"burst" toml:"burst"`
}

// Auth configures bearer token resolution.
type Auth struct {
	Enabled    bool   `json:"enabled" toml:"enabled"`
	Required   bool   `json:"required" toml:"required"`
	Secret     string `json:"secret" toml:"secret"`
	Issuer     string `json:"issuer" toml:"issuer"`
	TTLSeconds int    `json:"ttl_seconds" toml:"ttl_seconds"`
}

// Storage configures the key/value store.
type Storage struct {
	DBPath string `json:"db_path" toml:"db_path"`
}

// Logging represents logging configuration
type Logging struct {
	Level  string `json:"level" toml:"level"`
	Format string `json:"format" toml:"format"`
	Path   string `json:"path" toml:"path"`
}

const (
	defaultMaxBodyBytes    = 1 << 20
	defaultShutdownSeconds = 10
	defaultTokenTTLSeconds = 3600
)

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	base := baseDir()
	return &Config{
		Name:        "jsonrpc-entrypoint",
		Version:     "0.1.0",
		Description: "JSON-RPC 2.0 over HTTP entrypoint server",
		Server: Server{
			Host:                   "localhost",
			Port:                   9080,
			Debug:                  false,
			ShutdownTimeoutSeconds: defaultShutdownSeconds,
		},
		Entrypoints: []Entrypoint{
			{
				Path: "/api/v1/jsonrpc",
				Name: "api_v1",
			},
		},
		Scheduler: Scheduler{
			MaxWorkers: 0,
		},
		Limits: Limits{
			MaxBodyBytes: defaultMaxBodyBytes,
			RateLimit: RateLimit{
				Enabled:       false,
				RatePerSecond: 100,
				Burst:         200,
			},
		},
		Auth: Auth{
			Enabled:    false,
			Required:   false,
			Issuer:     "jsonrpc-entrypoint",
			TTLSeconds: defaultTokenTTLSeconds,
		},
		Storage: Storage{
			DBPath: filepath.Join(base, "data", "kv.db"),
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
			Path:   filepath.Join(base, "logs", "rpc.log"),
		},
	}
}

func baseDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.TempDir()
	}
	return filepath.Join(home, ".jsonrpc-entrypoint")
}

// LoadConfig loads the configuration from a file. Files ending in .toml are
// decoded as TOML, anything else as JSON. A .env file next to the config and
// one in the working directory are loaded before env overrides are applied.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	// Read config file if it exists
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := decode(path, data, cfg); err != nil {
		return nil, err
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	// Override with environment variables (highest priority).
	applyEnvOverrides(cfg)
	cfg.Normalize()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a file
func SaveConfig(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	data, err := encode(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %v", err)
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %v", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %v", err)
	}

	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func decode(path string, data []byte, cfg *Config) error {
	if isTOML(path) {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse TOML config: %w", err)
		}
		return nil
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse JSON config: %w", err)
	}
	return nil
}

func encode(path string, cfg *Config) ([]byte, error) {
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return json.MarshalIndent(cfg, "", "  ")
}

// loadDotEnv loads .env files without overriding variables already set.
func loadDotEnv(configPath string) error {
	candidates := []string{filepath.Join(filepath.Dir(configPath), ".env"), ".env"}
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			abs = candidate
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if err := godotenv.Load(candidate); err != nil {
			return fmt.Errorf("failed to load %s: %w", candidate, err)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if portStr := os.Getenv("RPC_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Server.Port = port
		} else {
			log.Printf("warning: ignoring invalid RPC_PORT value %q: %v", portStr, err)
		}
	}

	if host := os.Getenv("RPC_HOST"); host != "" {
		cfg.Server.Host = host
	}

	if debug := os.Getenv("RPC_DEBUG"); debug != "" {
		if parsed, err := strconv.ParseBool(debug); err == nil {
			cfg.Server.Debug = parsed
		} else {
			log.Printf("warning: ignoring invalid RPC_DEBUG value %q: %v", debug, err)
		}
	}

	if logLevel := os.Getenv("RPC_LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if logFormat := os.Getenv("RPC_LOG_FORMAT"); logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	if logPath := os.Getenv("RPC_LOG_PATH"); logPath != "" {
		cfg.Logging.Path = logPath
	}

	if workers := os.Getenv("RPC_MAX_WORKERS"); workers != "" {
		if parsed, err := strconv.Atoi(workers); err == nil {
			cfg.Scheduler.MaxWorkers = parsed
		} else {
			log.Printf("warning: ignoring invalid RPC_MAX_WORKERS value %q: %v", workers, err)
		}
	}

	if maxBody := os.Getenv("RPC_MAX_BODY_BYTES"); maxBody != "" {
		if parsed, err := strconv.ParseInt(maxBody, 10, 64); err == nil {
			cfg.Limits.MaxBodyBytes = parsed
		} else {
			log.Printf("warning: ignoring invalid RPC_MAX_BODY_BYTES value %q: %v", maxBody, err)
		}
	}

	if enabled := os.Getenv("RPC_RATE_LIMIT_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Limits.RateLimit.Enabled = parsed
		} else {
			log.Printf("warning: ignoring invalid RPC_RATE_LIMIT_ENABLED value %q: %v", enabled, err)
		}
	}

	if rate := os.Getenv("RPC_RATE_LIMIT_RPS"); rate != "" {
		if parsed, err := strconv.ParseFloat(rate, 64); err == nil {
			cfg.Limits.RateLimit.RatePerSecond = parsed
		} else {
			log.Printf("warning: ignoring invalid RPC_RATE_LIMIT_RPS value %q: %v", rate, err)
		}
	}

	if burst := os.Getenv("RPC_RATE_LIMIT_BURST"); burst != "" {
		if parsed, err := strconv.ParseInt(burst, 10, 64); err == nil {
			cfg.Limits.RateLimit.Burst = parsed
		} else {
			log.Printf("warning: ignoring invalid RPC_RATE_LIMIT_BURST value %q: %v", burst, err)
		}
	}

	if enabled := os.Getenv("RPC_AUTH_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Auth.Enabled = parsed
		} else {
			log.Printf("warning: ignoring invalid RPC_AUTH_ENABLED value %q: %v", enabled, err)
		}
	}

	if required := os.Getenv("RPC_AUTH_REQUIRED"); required != "" {
		if parsed, err := strconv.ParseBool(required); err == nil {
			cfg.Auth.Required = parsed
		} else {
			log.Printf("warning: ignoring invalid RPC_AUTH_REQUIRED value %q: %v", required, err)
		}
	}

	if secret := os.Getenv("RPC_AUTH_SECRET"); secret != "" {
		cfg.Auth.Secret = secret
	}

	if dbPath := os.Getenv("RPC_DB_PATH"); dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
}

// Normalize canonicalizes config values so downstream validation and runtime
// logic operate on stable representations.
func (c *Config) Normalize() {
	c.Server.Host = strings.TrimSpace(c.Server.Host)
	if c.Server.ShutdownTimeoutSeconds == 0 {
		c.Server.ShutdownTimeoutSeconds = defaultShutdownSeconds
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Path = strings.TrimSpace(c.Logging.Path)
	c.Storage.DBPath = strings.TrimSpace(c.Storage.DBPath)
	c.Auth.Secret = strings.TrimSpace(c.Auth.Secret)
	c.Auth.Issuer = strings.TrimSpace(c.Auth.Issuer)
	if c.Auth.TTLSeconds == 0 {
		c.Auth.TTLSeconds = defaultTokenTTLSeconds
	}
	if c.Limits.MaxBodyBytes == 0 {
		c.Limits.MaxBodyBytes = defaultMaxBodyBytes
	}
	for i := range c.Entrypoints {
		c.Entrypoints[i].Path = NormalizePath(c.Entrypoints[i].Path)
		c.Entrypoints[i].Name = strings.TrimSpace(c.Entrypoints[i].Name)
		if c.Entrypoints[i].Name == "" {
			c.Entrypoints[i].Name = "entrypoint"
		}
	}
}

// NormalizePath trims blanks and surrounding slashes and adds a single leading slash.
func NormalizePath(path string) string {
	trimmed := strings.Trim(strings.TrimSpace(path), "/")
	return "/" + trimmed
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server configuration
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("invalid port number")
	}

	if c.Server.Host == "" {
		return errors.New("host cannot be empty")
	}

	if c.Server.ShutdownTimeoutSeconds < 0 {
		return errors.New("shutdown timeout cannot be negative")
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return errors.New("invalid log level")
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return errors.New("invalid log format")
	}

	if c.Logging.Path == "" {
		return errors.New("log path cannot be empty")
	}

	// Validate entrypoints
	if len(c.Entrypoints) == 0 {
		return errors.New("at least one entrypoint must be configured")
	}

	seen := make(map[string]bool, len(c.Entrypoints))
	for _, ep := range c.Entrypoints {
		if ep.Path == "/" {
			return errors.New("entrypoint path cannot be the root path")
		}
		if seen[ep.Path] {
			return fmt.Errorf("duplicate entrypoint path: %s", ep.Path)
		}
		seen[ep.Path] = true
	}

	if c.Scheduler.MaxWorkers < 0 {
		return fmt.Errorf("invalid scheduler max workers %d: expected >= 0", c.Scheduler.MaxWorkers)
	}

	if c.Limits.MaxBodyBytes <= 0 {
		return fmt.Errorf("invalid max body bytes %d: expected > 0", c.Limits.MaxBodyBytes)
	}

	if c.Limits.RateLimit.Enabled {
		if c.Limits.RateLimit.RatePerSecond <= 0 {
			return fmt.Errorf("invalid rate limit %v: expected > 0", c.Limits.RateLimit.RatePerSecond)
		}
		if c.Limits.RateLimit.Burst <= 0 {
			return fmt.Errorf("invalid rate limit burst %d: expected > 0", c.Limits.RateLimit.Burst)
		}
	}

	if c.Auth.Enabled && c.Auth.Secret == "" {
		return errors.New("auth secret cannot be empty when auth is enabled")
	}

	if c.Auth.TTLSeconds < 0 {
		return errors.New("auth token ttl cannot be negative")
	}

	if c.Storage.DBPath == "" {
		return errors.New("storage db path cannot be empty")
	}

	return nil
}

// ResolveConfigPath returns the path that should be used for configuration.
func ResolveConfigPath() (string, error) {
	// First check environment variable
	if path := strings.TrimSpace(os.Getenv("RPC_CONFIG_PATH")); path != "" {
		return path, nil
	}

	// Then check the config directory of the working directory
	for _, candidate := range []string{"config/rpc_config.json", "config/rpc_config.toml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	// Finally check home directory
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, ".jsonrpc-entrypoint", "config", "rpc_config.json"), nil
}

// EnsureDefaultConfig creates a default config file if one does not exist.
func EnsureDefaultConfig(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("config path cannot be empty")
	}

	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat config file: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	defaultConfig := NewConfig()
	defaultConfig.Normalize()
	data, err := encode(path, defaultConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	return nil
}
