// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Providers   []ProviderConfig  `yaml:"providers"`
	Stream      StreamConfig      `yaml:"stream"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Vault       VaultConfig       `yaml:"vault"`
	Cache       CacheConfig       `yaml:"cache"`
	PricingFile string            `yaml:"pricing_file"`
}

// CacheConfig selects the backend the model registry persists its card set
// to (spec.md §4.8). "local" (the default) is the on-disk XDG cache dir
// under CCPROXY_MODEL_CACHE_DIR; "redis" and "s3" let several gateway
// replicas share one cache instead of each refetching independently.
type CacheConfig struct {
	Type  string            `yaml:"type"` // local, redis, s3
	Redis RedisCacheConfig  `yaml:"redis"`
	S3    S3CacheConfig     `yaml:"s3"`
}

// RedisCacheConfig configures the shared Redis-backed model card cache.
type RedisCacheConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
}

// S3CacheConfig configures the S3-backed model card cache.
type S3CacheConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"` // non-empty for MinIO/R2/etc
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// VaultConfig contains HashiCorp Vault settings for the OAuth credential
// store. When Enabled is false the gateway falls back to the on-disk file
// store under -cred-dir; the field names mirror credstore.VaultConfig
// one-for-one since this struct only exists to populate that one.
type VaultConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Address    string `yaml:"address"`
	AuthMethod string `yaml:"auth_method"` // "approle", "cert"

	RoleID   string `yaml:"role_id"`
	SecretID string `yaml:"secret_id"`

	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`

	// MountPath is the KV-v2 mount holding credentials, e.g. "secret".
	MountPath string `yaml:"mount_path"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// StreamConfig contains stream-specific behavior.
type StreamConfig struct {
	RecoveryMode string `yaml:"recovery_mode"` // off, append, retry
}

// ProviderConfig configures one of the three upstream providers
// (claude, codex, copilot). Credentials are never read from here: each
// provider authenticates through its own OAuth token manager against the
// credential store, so this only carries transport-level overrides.
type ProviderConfig struct {
	Name          string            `yaml:"name"`
	Type          string            `yaml:"type"` // claude, codex, copilot
	BaseURL       string            `yaml:"base_url"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	Timeout       time.Duration     `yaml:"timeout"`
	Headers       map[string]string `yaml:"headers"`
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

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP endpoint (e.g., "localhost:4317")
	ServiceName string  `yaml:"service_name"` // Service name for traces
	SampleRate  float64 `yaml:"sample_rate"`  // Sampling rate (0.0 to 1.0)
	Insecure    bool    `yaml:"insecure"`     // Use insecure connection (no TLS)
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
		Stream: StreamConfig{
			RecoveryMode: "retry",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "ccproxy",
			SampleRate:  1.0,
			Insecure:    true,
		},
		Vault: VaultConfig{
			Enabled: false,
		},
		Cache: CacheConfig{
			Type: "local",
			Redis: RedisCacheConfig{
				Addr:         "localhost:6379",
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
				PoolSize:     10,
			},
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
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

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider[%d]: name is required", i)
		}
		if p.Type == "" {
			return fmt.Errorf("provider[%d]: type is required", i)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("provider[%d] %q: timeout cannot be negative", i, p.Name)
		}
		if p.MaxConcurrent < 0 {
			return fmt.Errorf("provider[%d] %q: max_concurrent cannot be negative", i, p.Name)
		}
	}

	switch c.Stream.RecoveryMode {
	case "", "off", "append", "retry":
	default:
		return fmt.Errorf("stream.recovery_mode must be one of: off, append, retry")
	}

	switch c.Cache.Type {
	case "", "local":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required when cache.type=redis")
		}
	case "s3":
		if c.Cache.S3.Bucket == "" {
			return fmt.Errorf("cache.s3.bucket is required when cache.type=s3")
		}
	default:
		return fmt.Errorf("cache.type must be one of: local, redis, s3")
	}

	if c.Vault.Enabled {
		if c.Vault.Address == "" {
			return fmt.Errorf("vault.address is required when vault is enabled")
		}
		switch c.Vault.AuthMethod {
		case "approle":
			if c.Vault.RoleID == "" || c.Vault.SecretID == "" {
				return fmt.Errorf("vault.role_id and vault.secret_id are required for auth_method=approle")
			}
		case "cert":
			if c.Vault.ClientCert == "" || c.Vault.ClientKey == "" {
				return fmt.Errorf("vault.client_cert and vault.client_key are required for auth_method=cert")
			}
		default:
			return fmt.Errorf("vault.auth_method must be one of: approle, cert")
		}
		if c.Vault.MountPath == "" {
			return fmt.Errorf("vault.mount_path is required when vault is enabled")
		}
	}

	return nil
}
