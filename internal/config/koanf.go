// Relaymap - Tor Relay Network Statistics and Aggregation
// Copyright 2026 Relaymap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymap/relaymap

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/relaymap/config.yaml",
	"/etc/relaymap/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config
// file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Onionoo: OnionooConfig{
			BaseURL: "https://onionoo.torproject.org",
			AroiURL: "",
		},
		Cache: CacheConfig{
			Dir: "/data/relaymap/cache",
		},
		Fetch: FetchConfig{
			Timeout:        2 * time.Minute,
			RetryAttempts:  4,
			RetryDelay:     2 * time.Second,
			RateLimit:      2.0,
			RateBurst:      4,
			BreakerEnabled: true,
		},
		Refresh: RefreshConfig{
			Interval: 30 * time.Minute,
		},
		Server: ServerConfig{
			Enabled: false,
			Host:    "0.0.0.0",
			Port:    9050,
			Timeout: 30 * time.Second,
		},
		Output: OutputConfig{
			Path: "/data/relaymap/snapshot.json",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if exists)
//  3. Environment variables: override any setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// RELAYMAP_ONIONOO_BASE_URL -> onionoo.base_url
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are skipped so that random environment variables do not
// pollute the configuration.
func envTransformFunc(key string) string {
	envMappings := map[string]string{
		"RELAYMAP_ONIONOO_BASE_URL": "onionoo.base_url",
		"RELAYMAP_AROI_URL":         "onionoo.aroi_url",

		"RELAYMAP_CACHE_DIR": "cache.dir",

		"RELAYMAP_FETCH_TIMEOUT":  "fetch.timeout",
		"RELAYMAP_RETRY_ATTEMPTS": "fetch.retry_attempts",
		"RELAYMAP_RETRY_DELAY":    "fetch.retry_delay",
		"RELAYMAP_RATE_LIMIT":     "fetch.rate_limit",
		"RELAYMAP_RATE_BURST":     "fetch.rate_burst",
		"RELAYMAP_BREAKER":        "fetch.breaker_enabled",

		"RELAYMAP_REFRESH_INTERVAL": "refresh.interval",

		"RELAYMAP_SERVER_ENABLED": "server.enabled",
		"RELAYMAP_HTTP_HOST":      "server.host",
		"RELAYMAP_HTTP_PORT":      "server.port",
		"RELAYMAP_HTTP_TIMEOUT":   "server.timeout",

		"RELAYMAP_OUTPUT_PATH": "output.path",

		"LOG_LEVEL":  "logging.level",
		"LOG_FORMAT": "logging.format",
		"LOG_CALLER": "logging.caller",
	}

	if mapped, ok := envMappings[strings.ToUpper(key)]; ok {
		return mapped
	}
	return ""
}
