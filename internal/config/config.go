// Package config loads the rdosync configuration from a YAML file, applying
// defaults for anything the file leaves out.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Storage      StorageConfig      `yaml:"storage"`
	Remote       RemoteConfig       `yaml:"remote"`
	Uploads      UploadsConfig      `yaml:"uploads"`
	Cache        CacheConfig        `yaml:"cache"`
	Sync         SyncConfig         `yaml:"sync"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Status       StatusConfig       `yaml:"status"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// StorageConfig configures the local store.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// RemoteConfig configures the remote record store.
type RemoteConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	APIKey         string `yaml:"api_key"`
}

// Timeout returns the remote call timeout.
func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// UploadsConfig configures the attachment object store.
type UploadsConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// CacheConfig configures the cache manager.
type CacheConfig struct {
	MaxBytes             int64    `yaml:"max_bytes"`
	DefaultTTLSeconds    int64    `yaml:"default_ttl_seconds"`
	SweepIntervalSeconds int      `yaml:"sweep_interval_seconds"`
	CompressionThreshold int      `yaml:"compression_threshold"`
	Codec                string   `yaml:"codec"` // "none" or "snappy"
	EssentialCollections []string `yaml:"essential_collections"`
}

// DefaultTTL returns the default entry TTL.
func (c CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// SweepInterval returns the background expiry sweep interval.
func (c CacheConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// SyncConfig configures the drain/retry state machine.
type SyncConfig struct {
	MaxRetries        int     `yaml:"max_retries"`
	InitialDelayMs    int64   `yaml:"initial_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	MaxDelayMs        int64   `yaml:"max_delay_ms"`
	ToleranceMs       int64   `yaml:"tolerance_ms"`
	Strategy          string  `yaml:"strategy"` // last_write_wins, merge, manual
}

// ConnectivityConfig configures the online/offline monitor.
type ConnectivityConfig struct {
	ProbeURL            string `yaml:"probe_url"`
	ProbeTimeoutSeconds int    `yaml:"probe_timeout_seconds"`
	IntervalSeconds     int    `yaml:"interval_seconds"`
}

// ProbeTimeout returns the bounded connectivity probe timeout.
func (c ConnectivityConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// Interval returns the probe interval.
func (c ConnectivityConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// StatusConfig configures the status event endpoint.
type StatusConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{DataDir: "./data"},
		Remote:  RemoteConfig{TimeoutSeconds: 15},
		Cache: CacheConfig{
			MaxBytes:             50 * 1024 * 1024,
			DefaultTTLSeconds:    int64((30 * time.Minute).Seconds()),
			SweepIntervalSeconds: 300,
			CompressionThreshold: 32 * 1024,
			Codec:                "none",
			EssentialCollections: []string{"projects", "labor_roles", "equipment_types", "occurrence_kinds"},
		},
		Sync: SyncConfig{
			MaxRetries:        5,
			InitialDelayMs:    1000,
			BackoffMultiplier: 2,
			MaxDelayMs:        30000,
			ToleranceMs:       1000,
			Strategy:          "last_write_wins",
		},
		Connectivity: ConnectivityConfig{
			ProbeTimeoutSeconds: 5,
			IntervalSeconds:     30,
		},
		Status:  StatusConfig{ListenAddr: "localhost:8091"},
		Logging: LoggingConfig{Level: "info", JSON: true},
	}
}

// Load reads a YAML config file over the defaults. A missing path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks limits that would break the engine.
func (c *Config) Validate() error {
	if c.Cache.MaxBytes <= 0 {
		return fmt.Errorf("cache.max_bytes must be positive")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must not be negative")
	}
	if c.Sync.BackoffMultiplier < 1 {
		return fmt.Errorf("sync.backoff_multiplier must be >= 1")
	}
	if c.Sync.ToleranceMs < 0 {
		return fmt.Errorf("sync.tolerance_ms must not be negative")
	}
	switch c.Sync.Strategy {
	case "last_write_wins", "merge", "manual":
	default:
		return fmt.Errorf("sync.strategy must be one of last_write_wins, merge, manual")
	}
	return nil
}
