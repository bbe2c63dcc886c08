package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SmitUplenchwar2687/ratekit/internal/limiter"
	"github.com/SmitUplenchwar2687/ratekit/internal/logging"
)

// Config is the top-level configuration for a ratekit process.
type Config struct {
	Server  ServerConfig
	Limiter limiter.Config
	Store   StoreConfig
	Log     LogConfig
	Metrics MetricsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string
}

// StoreConfig controls the per-key limiter store.
type StoreConfig struct {
	// IdleTTL evicts a key's limiter after this long without a check.
	// Zero keeps limiters forever.
	IdleTTL         time.Duration
	CleanupInterval time.Duration
}

// LogConfig selects the slog level and output format.
type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Limiter: limiter.Config{
			Algorithm: limiter.AlgorithmTokenBucket,
			Size:      10,
			Rate:      10,
			Interval:  time.Minute,
			Buckets:   10,
		},
		Store: StoreConfig{
			IdleTTL:         10 * time.Minute,
			CleanupInterval: time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Validate checks that the config is valid.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if err := c.Limiter.Validate(); err != nil {
		return fmt.Errorf("limiter: %w", err)
	}
	if c.Store.IdleTTL < 0 {
		return fmt.Errorf("store.idle_ttl must not be negative, got %s", c.Store.IdleTTL)
	}
	if c.Store.IdleTTL > 0 && c.Store.CleanupInterval <= 0 {
		return fmt.Errorf("store.cleanup_interval must be positive when idle_ttl is set, got %s", c.Store.CleanupInterval)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		return fmt.Errorf("log.format: %w", err)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}
	return nil
}

// LoadFile reads a JSON or YAML config file and merges it with defaults.
// The format follows the extension: .yaml and .yml are YAML, anything else
// is JSON. Fields not specified in the file retain their default values.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var raw rawConfig
	if isYAML(path) {
		err = yaml.Unmarshal(data, &raw)
	} else {
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	if err := raw.mergeInto(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// WriteExample writes the default config to path, as YAML or JSON
// depending on the extension.
func WriteExample(path string) error {
	raw := fromConfig(Default())

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(raw)
	} else {
		data, err = json.MarshalIndent(raw, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("encoding example config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// rawConfig is the file representation with string durations.
type rawConfig struct {
	Server struct {
		Addr string `json:"addr" yaml:"addr"`
	} `json:"server" yaml:"server"`
	Limiter struct {
		Algorithm string `json:"algorithm" yaml:"algorithm"`
		Size      uint64 `json:"size" yaml:"size"`
		Rate      uint64 `json:"rate" yaml:"rate"`
		Interval  string `json:"interval" yaml:"interval"`
		Buckets   int    `json:"buckets" yaml:"buckets"`
	} `json:"limiter" yaml:"limiter"`
	Store struct {
		IdleTTL         string `json:"idle_ttl" yaml:"idle_ttl"`
		CleanupInterval string `json:"cleanup_interval" yaml:"cleanup_interval"`
	} `json:"store" yaml:"store"`
	Log struct {
		Level  string `json:"level" yaml:"level"`
		Format string `json:"format" yaml:"format"`
	} `json:"log" yaml:"log"`
	Metrics struct {
		Enabled *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
		Path    string `json:"path" yaml:"path"`
	} `json:"metrics" yaml:"metrics"`
}

func (raw *rawConfig) mergeInto(cfg *Config) error {
	if raw.Server.Addr != "" {
		cfg.Server.Addr = raw.Server.Addr
	}

	if raw.Limiter.Algorithm != "" {
		cfg.Limiter.Algorithm = limiter.Algorithm(raw.Limiter.Algorithm)
	}
	if raw.Limiter.Size > 0 {
		cfg.Limiter.Size = raw.Limiter.Size
	}
	if raw.Limiter.Rate > 0 {
		cfg.Limiter.Rate = raw.Limiter.Rate
	}
	if err := parseDuration("limiter.interval", raw.Limiter.Interval, &cfg.Limiter.Interval); err != nil {
		return err
	}
	if raw.Limiter.Buckets > 0 {
		cfg.Limiter.Buckets = raw.Limiter.Buckets
	}

	if err := parseDuration("store.idle_ttl", raw.Store.IdleTTL, &cfg.Store.IdleTTL); err != nil {
		return err
	}
	if err := parseDuration("store.cleanup_interval", raw.Store.CleanupInterval, &cfg.Store.CleanupInterval); err != nil {
		return err
	}

	if raw.Log.Level != "" {
		cfg.Log.Level = raw.Log.Level
	}
	if raw.Log.Format != "" {
		cfg.Log.Format = raw.Log.Format
	}

	if raw.Metrics.Enabled != nil {
		cfg.Metrics.Enabled = *raw.Metrics.Enabled
	}
	if raw.Metrics.Path != "" {
		cfg.Metrics.Path = raw.Metrics.Path
	}
	return nil
}

func parseDuration(field, s string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", field, err)
	}
	*dst = d
	return nil
}

func fromConfig(cfg Config) rawConfig {
	var raw rawConfig
	raw.Server.Addr = cfg.Server.Addr
	raw.Limiter.Algorithm = string(cfg.Limiter.Algorithm)
	raw.Limiter.Size = cfg.Limiter.Size
	raw.Limiter.Rate = cfg.Limiter.Rate
	raw.Limiter.Interval = cfg.Limiter.Interval.String()
	raw.Limiter.Buckets = cfg.Limiter.Buckets
	raw.Store.IdleTTL = cfg.Store.IdleTTL.String()
	raw.Store.CleanupInterval = cfg.Store.CleanupInterval.String()
	raw.Log.Level = cfg.Log.Level
	raw.Log.Format = cfg.Log.Format
	enabled := cfg.Metrics.Enabled
	raw.Metrics.Enabled = &enabled
	raw.Metrics.Path = cfg.Metrics.Path
	return raw
}
