// Relaymap - Tor Relay Network Statistics and Aggregation
// Copyright 2026 Relaymap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymap/relaymap

// Package main is the entry point for the Relaymap snapshot job and daemon.
//
// Relaymap ingests the Onionoo relay documents (details, uptime, bandwidth)
// plus an optional AROI operator-validation feed, aggregates the roster into
// grouped statistics per AS, country, platform, flag, family, and operator,
// and enriches each operator with percentile positions against the network
// distribution.
//
// # Modes
//
// One-shot (default): run a single refresh, write the output snapshot file,
// and exit. Exit status is non-zero when the critical details source has no
// usable data, fresh or cached.
//
// Daemon (-daemon): run refreshes periodically under a supervision tree and
// serve the monitoring surface over HTTP:
//
//	GET /api/v1/status/workers  per-source worker status
//	GET /api/v1/status/summary  total/ready/stale counts
//	GET /api/v1/snapshot        latest refresh result
//	GET /healthz                liveness
//	GET /metrics                Prometheus metrics
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables (RELAYMAP_*), config file
// (config.yaml or CONFIG_PATH), built-in defaults.
//
// # Signal Handling
//
// The daemon shuts down gracefully on SIGINT and SIGTERM: the supervision
// tree stops its services and the HTTP server drains in-flight requests.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/relaymap/relaymap/internal/cache"
	"github.com/relaymap/relaymap/internal/config"
	"github.com/relaymap/relaymap/internal/ingest"
	"github.com/relaymap/relaymap/internal/logging"
	"github.com/relaymap/relaymap/internal/refresh"
	"github.com/relaymap/relaymap/internal/status"
	"github.com/relaymap/relaymap/internal/supervisor"
)

var version = "dev"

func main() {
	var (
		configPath  = flag.String("config", "", "path to config file (overrides CONFIG_PATH)")
		daemon      = flag.Bool("daemon", false, "run periodic refreshes and serve the status API")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("relaymap " + version)
		return
	}

	if *configPath != "" {
		os.Setenv(config.ConfigPathEnvVar, *configPath)
	}
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("version", version).Bool("daemon", *daemon).Msg("Starting relaymap")

	pipeline, coord, err := buildPipeline(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build pipeline")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !*daemon {
		if _, err := pipeline.Run(ctx); err != nil {
			logging.Fatal().Err(err).Msg("Refresh failed")
		}
		return
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	var server *status.Server
	if cfg.Server.Enabled {
		addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
		server = status.NewServer(addr, coord.Status(), cfg.Server.Timeout)
		tree.AddAPIService(supervisor.NewHTTPService(server))
	}
	tree.AddIngestService(supervisor.NewRefreshService(pipeline, server, cfg.Refresh.Interval))

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Fatal().Err(err).Msg("Supervisor exited")
	}
	logging.Info().Msg("Shutdown complete")
}

func buildPipeline(cfg *config.Config) (*refresh.Pipeline, *ingest.Coordinator, error) {
	store, err := cache.NewStore(cfg.Cache.Dir)
	if err != nil {
		return nil, nil, fmt.Errorf("open cache: %w", err)
	}

	fetcher := ingest.NewFetcher(store, ingest.Options{
		Timeout: cfg.Fetch.Timeout,
		Policy: ingest.Policy{
			MaxAttempts:  cfg.Fetch.RetryAttempts,
			InitialDelay: cfg.Fetch.RetryDelay,
		},
		RateLimit:      cfg.Fetch.RateLimit,
		RateBurst:      cfg.Fetch.RateBurst,
		BreakerEnabled: cfg.Fetch.BreakerEnabled,
		UserAgent:      "relaymap/" + version,
	})

	sources := refresh.DefaultSources(cfg.Onionoo.BaseURL, cfg.Onionoo.AroiURL)
	coord := ingest.NewCoordinator(fetcher, sources)
	return refresh.NewPipeline(coord, cfg.Output.Path), coord, nil
}
