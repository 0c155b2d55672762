// Relaymap - Tor Relay Network Statistics and Aggregation
// Copyright 2026 Relaymap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymap/relaymap

// Package config provides layered configuration for Relaymap via Koanf v2.
//
// Precedence (highest wins): environment variables > YAML config file >
// built-in defaults. See LoadWithKoanf for details.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for Relaymap.
type Config struct {
	Onionoo OnionooConfig `koanf:"onionoo"`
	Cache   CacheConfig   `koanf:"cache"`
	Fetch   FetchConfig   `koanf:"fetch"`
	Refresh RefreshConfig `koanf:"refresh"`
	Server  ServerConfig  `koanf:"server"`
	Output  OutputConfig  `koanf:"output"`
	Logging LoggingConfig `koanf:"logging"`
}

// OnionooConfig declares the remote document endpoints.
// The details document is the critical source: without it (and without a
// cached copy) a run cannot produce output.
type OnionooConfig struct {
	// BaseURL is the Onionoo API root, without a trailing slash.
	BaseURL string `koanf:"base_url" validate:"required,url"`

	// AroiURL is the operator proof-validation document endpoint.
	// Optional; when empty the aroi source is skipped entirely.
	AroiURL string `koanf:"aroi_url" validate:"omitempty,url"`
}

// CacheConfig controls the on-disk snapshot cache.
type CacheConfig struct {
	// Dir holds one <key>.json document and one <key>.token file per source.
	Dir string `koanf:"dir" validate:"required"`
}

// FetchConfig controls per-source fetch behavior.
type FetchConfig struct {
	// Timeout is the overall wall-clock budget for one source, including
	// retries and backoff waits.
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`

	// RetryAttempts is the maximum number of attempts per source.
	RetryAttempts int `koanf:"retry_attempts" validate:"min=1,max=10"`

	// RetryDelay is the initial backoff delay; it doubles per attempt and
	// carries a jitter term.
	RetryDelay time.Duration `koanf:"retry_delay" validate:"min=100ms"`

	// RateLimit is the shared outbound request budget in requests per second.
	RateLimit float64 `koanf:"rate_limit" validate:"gt=0"`

	// RateBurst is the burst size for the shared rate limiter.
	RateBurst int `koanf:"rate_burst" validate:"min=1"`

	// BreakerEnabled wraps each source in a circuit breaker. Mostly useful
	// in daemon mode where refresh cycles repeat against a failing endpoint.
	BreakerEnabled bool `koanf:"breaker_enabled"`
}

// RefreshConfig controls the periodic refresh loop in daemon mode.
type RefreshConfig struct {
	Interval time.Duration `koanf:"interval" validate:"min=1m"`
}

// ServerConfig controls the read-only status/metrics HTTP surface.
type ServerConfig struct {
	Enabled bool          `koanf:"enabled"`
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`
}

// OutputConfig controls where the finalized network snapshot is written
// for the downstream rendering layer.
type OutputConfig struct {
	// Path of the snapshot JSON file. Empty disables the file output.
	Path string `koanf:"path"`
}

// LoggingConfig mirrors internal/logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// validate is shared across Validate calls; validator instances cache
// struct metadata and are safe for concurrent use.
var validate = validator.New()

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
