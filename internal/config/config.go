// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for
// zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Cache     CacheConfig     `yaml:"cache"`
	FileCache FileCacheConfig `yaml:"file_cache"`
	Compute   ComputeConfig   `yaml:"compute"`
	Export    ExportConfig    `yaml:"export"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// CacheConfig contains result cache settings.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	RedisURL     string        `yaml:"redis_url"`
	TTL          time.Duration `yaml:"ttl"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBase    time.Duration `yaml:"retry_base"`
}

// FileCacheConfig contains artifact cache settings.
type FileCacheConfig struct {
	Dir           string        `yaml:"dir"`
	MaxAge        time.Duration `yaml:"max_age"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ComputeConfig contains remote compute service settings.
type ComputeConfig struct {
	BaseURL      string        `yaml:"base_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Timeout      time.Duration `yaml:"timeout"`
	RateLimit    float64       `yaml:"rate_limit"`
	RateBurst    int           `yaml:"rate_burst"`
}

// ExportConfig contains results bucket settings. An empty bucket disables
// the export routes.
type ExportConfig struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// AuthConfig contains JWT bearer auth settings.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:      true,
			TTL:          604800 * time.Second, // 7 days
			DialTimeout:  5 * time.Second,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			MaxAttempts:  3,
			RetryBase:    time.Second,
		},
		FileCache: FileCacheConfig{
			Dir:           "cache",
			MaxAge:        7 * 24 * time.Hour,
			SweepInterval: 6 * time.Hour,
		},
		Compute: ComputeConfig{
			BaseURL:   "http://localhost:9090",
			Timeout:   60 * time.Second,
			RateLimit: 5,
			RateBurst: 10,
		},
		Auth: AuthConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load builds the configuration: file settings (when path is non-empty)
// over defaults, then environment overrides on top.
func Load(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = DefaultConfig()
	} else {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// applyEnv layers the well-known environment variables over the config.
func (c *Config) applyEnv() {
	if v := os.Getenv("EARTHSIGHT_REDIS_URL"); v != "" {
		c.Cache.RedisURL = v
	}
	if v := os.Getenv("EARTHSIGHT_CACHE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Cache.Enabled = b
		}
	}
	if v := os.Getenv("EARTHSIGHT_CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Cache.TTL = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("EARTHSIGHT_CACHE_DIR"); v != "" {
		c.FileCache.Dir = v
	}
	if v := os.Getenv("EARTHSIGHT_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
}

// Validate checks the configuration for errors. The cache store URL is
// deliberately not required here: its absence is a first-use error on the
// cache path, not a startup failure for the whole server.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl cannot be negative")
	}
	if c.Cache.MaxAttempts < 0 {
		return fmt.Errorf("cache.max_attempts cannot be negative")
	}
	if c.FileCache.MaxAge < 0 {
		return fmt.Errorf("file_cache.max_age cannot be negative")
	}
	if c.Compute.BaseURL == "" {
		return fmt.Errorf("compute.base_url is required")
	}
	if c.Compute.Timeout < 0 {
		return fmt.Errorf("compute.timeout cannot be negative")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}
	return nil
}
