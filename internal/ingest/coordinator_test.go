// Relaymap - Tor Relay Network Statistics and Aggregation
// Copyright 2026 Relaymap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymap/relaymap

package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymap/relaymap/internal/cache"
)

func TestCoordinatorMixedOutcomes(t *testing.T) {
	fresh := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", "Mon, 24 Aug 2026 12:00:00 GMT")
		w.Write([]byte(`{"doc":"fresh"}`))
	}))
	defer fresh.Close()

	notModified := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer notModified.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer broken.Close()

	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Save("uptime", []byte(`{"doc":"cached"}`)))

	fetcher := NewFetcher(store, Options{
		Timeout: 5 * time.Second,
		Policy:  Policy{MaxAttempts: 2, InitialDelay: time.Millisecond},
	})

	sources := []Source{
		{Name: "details", URL: fresh.URL, CacheKey: "details", Critical: true},
		{Name: "uptime", URL: notModified.URL, CacheKey: "uptime"},
		{Name: "aroi", URL: broken.URL, CacheKey: "aroi"},
	}
	coord := NewCoordinator(fetcher, sources)

	results, err := coord.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, StatusFresh, results["details"].Status)
	assert.Equal(t, []byte(`{"doc":"fresh"}`), results["details"].Document)

	assert.Equal(t, StatusCached, results["uptime"].Status)
	assert.Equal(t, []byte(`{"doc":"cached"}`), results["uptime"].Document)

	assert.Equal(t, StatusFailed, results["aroi"].Status)
	assert.Nil(t, results["aroi"].Document)

	snapshot := coord.Status().Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, StateReady, snapshot[0].State)
	assert.Equal(t, StateReady, snapshot[1].State)
	assert.Equal(t, StateStale, snapshot[2].State)
	assert.NotEmpty(t, snapshot[2].LastError)

	summary := coord.Status().Summary()
	assert.Equal(t, StatusSummary{Total: 3, Ready: 2, Stale: 1}, summary)
}

func TestCoordinatorCriticalFailureAborts(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer broken.Close()

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"doc":"fresh"}`))
	}))
	defer ok.Close()

	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)

	fetcher := NewFetcher(store, Options{
		Timeout: 5 * time.Second,
		Policy:  Policy{MaxAttempts: 2, InitialDelay: time.Millisecond},
	})

	sources := []Source{
		{Name: "details", URL: broken.URL, CacheKey: "details", Critical: true},
		{Name: "uptime", URL: ok.URL, CacheKey: "uptime"},
	}
	coord := NewCoordinator(fetcher, sources)

	results, err := coord.Run(context.Background())
	assert.ErrorIs(t, err, ErrCriticalSource)

	// Non-critical siblings still completed; nothing was cancelled.
	require.Len(t, results, 2)
	assert.Equal(t, StatusFresh, results["uptime"].Status)
}

func TestCoordinatorCriticalFallbackDoesNotAbort(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Save("details", []byte(`{"doc":"stale"}`)))

	fetcher := NewFetcher(store, Options{
		Timeout: 5 * time.Second,
		Policy:  Policy{MaxAttempts: 2, InitialDelay: time.Millisecond},
	})

	sources := []Source{{Name: "details", URL: broken.URL, CacheKey: "details", Critical: true}}
	coord := NewCoordinator(fetcher, sources)

	results, err := coord.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCached, results["details"].Status)
	assert.Equal(t, []byte(`{"doc":"stale"}`), results["details"].Document)

	// Served from cache after a failed fetch, so the worker is stale.
	assert.Equal(t, StatusSummary{Total: 1, Ready: 0, Stale: 1}, coord.Status().Summary())
}

func TestStatusTableSeedsEveryDeclaredSource(t *testing.T) {
	sources := []Source{{Name: "details"}, {Name: "uptime"}, {Name: "aroi"}}
	table := NewStatusTable(sources)

	snapshot := table.Snapshot()
	require.Len(t, snapshot, 3)
	for i, rec := range snapshot {
		assert.Equal(t, sources[i].Name, rec.Source)
		assert.Equal(t, StateStale, rec.State)
		assert.True(t, rec.LastChecked.IsZero())
	}
	assert.Equal(t, StatusSummary{Total: 3, Ready: 0, Stale: 3}, table.Summary())
}
