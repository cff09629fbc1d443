// Package config provides the unified configuration system for GlucoSync.
// It defines a single ProviderConfig structure that every provider
// integration uses, organized into logical sections:
//   - Timeouts: per-call HTTP timeouts, independent of the sync interval
//   - Reliability: retry attempts, backoff shape, health threshold
//   - RateLimit: outbound request spacing and budget per provider
//
// Static configuration comes from a YAML file; a persisted settings
// store may overlay a small enumerated set of keys at startup (see
// overlay.go).
package config

import (
	"fmt"
	"time"
)

// Config is the top-level file layout: process-wide settings plus one
// entry per provider account.
type Config struct {
	// Log configures the structured logger.
	Log LogConfig `yaml:"log" json:"log"`

	// API configures the health/status HTTP surface.
	API APIConfig `yaml:"api" json:"api"`

	// Store configures the persisted runtime settings store.
	Store StoreConfig `yaml:"store" json:"store"`

	// Sink configures where normalized records are emitted.
	Sink SinkConfig `yaml:"sink" json:"sink"`

	// Providers lists the configured provider accounts.
	Providers []ProviderConfig `yaml:"providers" json:"providers"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level       string `yaml:"level" json:"level"`
	Development bool   `yaml:"development" json:"development"`
	Encoding    string `yaml:"encoding" json:"encoding"`
}

// APIConfig configures the health/status HTTP listener.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// StoreConfig configures the Redis-backed runtime settings store.
type StoreConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
}

// SinkConfig selects and configures the record sink.
type SinkConfig struct {
	// Kind selects the sink implementation: memory or clickhouse.
	Kind string `yaml:"kind" json:"kind"`
	// DSN is the ClickHouse connection string when Kind is clickhouse.
	DSN string `yaml:"dsn" json:"dsn"`
	// Database holds the records table.
	Database string `yaml:"database" json:"database"`
	// Table receives normalized records.
	Table string `yaml:"table" json:"table"`
	// CreateTables creates the database and table on startup.
	CreateTables bool `yaml:"create_tables" json:"create_tables"`
}

// ProviderConfig is the per-provider-account configuration all
// integrations share.
type ProviderConfig struct {
	// Name identifies the provider account instance
	Name string `yaml:"name" json:"name"`
	// Kind selects the registered provider implementation (dexshare, pumplog, nutrition)
	Kind string `yaml:"kind" json:"kind"`
	// Enabled gates the scheduler loop for this provider
	Enabled bool `yaml:"enabled" json:"enabled"`
	// SyncIntervalMinutes is the scheduler tick interval; <= 0 disables the loop
	SyncIntervalMinutes int `yaml:"sync_interval_minutes" json:"sync_interval_minutes"`
	// BaseURL overrides the provider's default endpoint (useful for regional hosts and tests)
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Credentials holds provider-specific secrets (username, password, api_key, client_id...)
	Credentials map[string]string `yaml:"credentials" json:"credentials"`
	// TokenBuffer is the safety window before expiry in which a cached token is not used
	TokenBuffer time.Duration `yaml:"token_buffer" json:"token_buffer"`

	Timeouts    TimeoutConfig     `yaml:"timeouts" json:"timeouts"`
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit" json:"rate_limit"`
}

// TimeoutConfig contains per-call timeout settings. These are enforced
// per HTTP request, never tied to the scheduler interval.
type TimeoutConfig struct {
	// Request timeout for individual provider calls
	Request time.Duration `yaml:"request" json:"request"`
	// Connection timeout for establishing connections
	Connection time.Duration `yaml:"connection" json:"connection"`
}

// ReliabilityConfig contains retry and health settings.
type ReliabilityConfig struct {
	// RetryAttempts sets total attempts for a retryable operation
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// RetryDelay is the initial backoff delay
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// RetryMultiplier increases the delay exponentially
	RetryMultiplier float64 `yaml:"retry_multiplier" json:"retry_multiplier"`
	// MaxRetryDelay caps the backoff delay
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
	// FailureThreshold is the consecutive-failure count at which the connector reports unhealthy
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
}

// RateLimitConfig contains outbound request throttling settings.
type RateLimitConfig struct {
	// RequestSpacing is the minimum gap before each outbound call,
	// scaled by the attempt index
	RequestSpacing time.Duration `yaml:"request_spacing" json:"request_spacing"`
	// PerSecond limits sustained request rate (0 = unlimited)
	PerSecond float64 `yaml:"per_second" json:"per_second"`
	// Burst is the token bucket capacity
	Burst int `yaml:"burst" json:"burst"`
}

// NewProviderConfig creates a ProviderConfig with production defaults.
// Provider entries in the config file override these as needed.
func NewProviderConfig(name, kind string) ProviderConfig {
	return ProviderConfig{
		Name:                name,
		Kind:                kind,
		Enabled:             true,
		SyncIntervalMinutes: 5,
		Credentials:         make(map[string]string),
		TokenBuffer:         5 * time.Minute,
		Timeouts: TimeoutConfig{
			Request:    30 * time.Second,
			Connection: 10 * time.Second,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:    3,
			RetryDelay:       time.Second,
			RetryMultiplier:  2.0,
			MaxRetryDelay:    60 * time.Second,
			FailureThreshold: 3,
		},
		RateLimit: RateLimitConfig{
			RequestSpacing: time.Second,
			PerSecond:      1,
			Burst:          3,
		},
	}
}

// ApplyDefaults fills zero-valued fields with the defaults from
// NewProviderConfig. YAML entries only need to spell out what differs.
func (pc *ProviderConfig) ApplyDefaults() {
	def := NewProviderConfig(pc.Name, pc.Kind)
	if pc.Credentials == nil {
		pc.Credentials = make(map[string]string)
	}
	if pc.TokenBuffer <= 0 {
		pc.TokenBuffer = def.TokenBuffer
	}
	if pc.Timeouts.Request <= 0 {
		pc.Timeouts.Request = def.Timeouts.Request
	}
	if pc.Timeouts.Connection <= 0 {
		pc.Timeouts.Connection = def.Timeouts.Connection
	}
	if pc.Reliability.RetryAttempts <= 0 {
		pc.Reliability.RetryAttempts = def.Reliability.RetryAttempts
	}
	if pc.Reliability.RetryDelay <= 0 {
		pc.Reliability.RetryDelay = def.Reliability.RetryDelay
	}
	if pc.Reliability.RetryMultiplier <= 0 {
		pc.Reliability.RetryMultiplier = def.Reliability.RetryMultiplier
	}
	if pc.Reliability.MaxRetryDelay <= 0 {
		pc.Reliability.MaxRetryDelay = def.Reliability.MaxRetryDelay
	}
	if pc.Reliability.FailureThreshold <= 0 {
		pc.Reliability.FailureThreshold = def.Reliability.FailureThreshold
	}
	if pc.RateLimit.RequestSpacing <= 0 {
		pc.RateLimit.RequestSpacing = def.RateLimit.RequestSpacing
	}
	if pc.RateLimit.PerSecond <= 0 {
		pc.RateLimit.PerSecond = def.RateLimit.PerSecond
	}
	if pc.RateLimit.Burst <= 0 {
		pc.RateLimit.Burst = def.RateLimit.Burst
	}
}

// Validate validates the provider configuration for correctness.
func (pc *ProviderConfig) Validate() error {
	if pc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if pc.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if pc.Reliability.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be at least 1")
	}
	if pc.Reliability.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be at least 1")
	}
	if pc.RateLimit.PerSecond < 0 {
		return fmt.Errorf("per_second cannot be negative")
	}
	if pc.TokenBuffer < 0 {
		return fmt.Errorf("token_buffer cannot be negative")
	}
	return nil
}

// Validate validates the whole file, applying defaults first.
func (c *Config) Validate() error {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Encoding == "" {
		c.Log.Encoding = "json"
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8080"
	}
	if c.Sink.Kind == "" {
		c.Sink.Kind = "memory"
	}

	seen := make(map[string]struct{}, len(c.Providers))
	for i := range c.Providers {
		pc := &c.Providers[i]
		pc.ApplyDefaults()
		if err := pc.Validate(); err != nil {
			return fmt.Errorf("provider %q: %w", pc.Name, err)
		}
		if _, dup := seen[pc.Name]; dup {
			return fmt.Errorf("provider %q: duplicate name", pc.Name)
		}
		seen[pc.Name] = struct{}{}
	}
	return nil
}

// SyncInterval returns the tick interval as a duration.
func (pc *ProviderConfig) SyncInterval() time.Duration {
	return time.Duration(pc.SyncIntervalMinutes) * time.Minute
}
