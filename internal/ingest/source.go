// Relaymap - Tor Relay Network Statistics and Aggregation
// Copyright 2026 Relaymap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymap/relaymap

// Package ingest fetches the remote source documents that feed a refresh
// run. Each declared source is fetched by its own worker with conditional
// requests, bounded retry, circuit breaking, and fallback to the on-disk
// cache; a coordinator joins the workers and records per-source status.
package ingest

import (
	"errors"
	"time"
)

// Status classifies the outcome of one fetch task.
type Status string

const (
	// StatusFresh means new content was fetched and cached.
	StatusFresh Status = "fresh"
	// StatusCached means the document came from the on-disk cache, either
	// after a 304 Not Modified or as a fallback after a fetch failure.
	StatusCached Status = "cached"
	// StatusFailed means no document is available for this source.
	StatusFailed Status = "failed"
)

// State is the worker readiness reported on the status surface.
type State string

const (
	StateReady State = "ready"
	StateStale State = "stale"
)

// ErrCriticalSource is returned by the coordinator when the critical source
// ends a run with no usable document.
var ErrCriticalSource = errors.New("critical source unavailable")

// Source declares one remote document to fetch. Descriptors are built once
// at startup and never mutated.
type Source struct {
	// Name identifies the source in results, status, logs, and metrics.
	Name string
	// URL is the document endpoint.
	URL string
	// CacheKey names the on-disk cache entry. Usually equal to Name.
	CacheKey string
	// Critical marks the source whose unavailability aborts the run.
	Critical bool
}

// Result is the immutable outcome of one fetch task in one run.
// Document is nil only when Status is StatusFailed. Err is set both for
// failures and for cache fallbacks after a failed fetch; a Result with
// StatusCached and a nil Err is a conditional-request hit.
type Result struct {
	Source   string
	Status   Status
	Document []byte
	Err      error
}

// StatusRecord is the per-source entry on the worker status surface.
type StatusRecord struct {
	Source      string    `json:"source"`
	State       State     `json:"state"`
	LastChecked time.Time `json:"last_checked"`
	LastError   string    `json:"last_error,omitempty"`
}

// StatusSummary aggregates the status table for monitoring callers.
type StatusSummary struct {
	Total int `json:"total"`
	Ready int `json:"ready"`
	Stale int `json:"stale"`
}
