// Relaymap - Tor Relay Network Statistics and Aggregation
// Copyright 2026 Relaymap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymap/relaymap

// Package metrics registers the Prometheus collectors for Relaymap.
//
// Instrumented areas:
//   - Fetch task outcomes, retries, and durations per source
//   - Cache fallbacks and conditional-request hits
//   - Worker status (ready/stale) per source
//   - Circuit breaker state per source
//   - Aggregation pass duration and entity counts
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetch Task Metrics
	FetchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaymap_fetch_attempts_total",
			Help: "Total number of fetch attempts per source and outcome",
		},
		[]string{"source", "outcome"}, // "fresh", "not_modified", "retryable_error", "terminal_error"
	)

	FetchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaymap_fetch_retries_total",
			Help: "Total number of fetch retries per source",
		},
		[]string{"source"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relaymap_fetch_duration_seconds",
			Help:    "Duration of complete fetch tasks in seconds, including retries",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"source"},
	)

	CacheFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaymap_cache_fallbacks_total",
			Help: "Total number of times a source fell back to the on-disk cache",
		},
		[]string{"source"},
	)

	ConditionalHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaymap_conditional_hits_total",
			Help: "Total number of 304 Not Modified responses per source",
		},
		[]string{"source"},
	)

	// Worker Status Metrics
	WorkerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relaymap_worker_state",
			Help: "Worker state per source (0 = ready, 1 = stale)",
		},
		[]string{"source"},
	)

	CoordinatorRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaymap_coordinator_runs_total",
			Help: "Total number of coordinator runs by result",
		},
		[]string{"result"}, // "ok", "critical_failure"
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relaymap_circuit_breaker_state",
			Help: "Circuit breaker state per source (0 = closed, 1 = half-open, 2 = open)",
		},
		[]string{"source"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaymap_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"source", "from", "to"},
	)

	// Aggregation Metrics
	AggregationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relaymap_aggregation_duration_seconds",
			Help:    "Duration of the aggregation pass in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	EntitiesProcessed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relaymap_entities_processed",
			Help: "Number of relay records consumed by the last aggregation pass",
		},
	)

	DimensionGroups = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relaymap_dimension_groups",
			Help: "Number of groups per dimension in the last finalized snapshot",
		},
		[]string{"dimension"},
	)

	RefreshLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relaymap_refresh_last_success_timestamp",
			Help: "Unix timestamp of the last successful refresh",
		},
	)
)
