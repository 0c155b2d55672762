// Relaymap - Tor Relay Network Statistics and Aggregation
// Copyright 2026 Relaymap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymap/relaymap

package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymap/relaymap/internal/cache"
	"github.com/relaymap/relaymap/internal/ingest"
	"github.com/relaymap/relaymap/internal/logging"
	"github.com/relaymap/relaymap/internal/refresh"
	"github.com/relaymap/relaymap/internal/status"
)

type countingService struct {
	started atomic.Int32
}

func (s *countingService) Serve(ctx context.Context) error {
	s.started.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestTreeRunsServicesUntilCancelled(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())

	ingestSvc := &countingService{}
	apiSvc := &countingService{}
	tree.AddIngestService(ingestSvc)
	tree.AddAPIService(apiSvc)

	ctx, cancel := context.WithCancel(context.Background())
	done := tree.ServeBackground(ctx)

	require.Eventually(t, func() bool {
		return ingestSvc.started.Load() == 1 && apiSvc.started.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not shut down")
	}
}

func TestTreeConfigDefaults(t *testing.T) {
	cfg := DefaultTreeConfig()
	assert.Equal(t, 5.0, cfg.FailureThreshold)
	assert.Equal(t, 15*time.Second, cfg.FailureBackoff)
}

func TestRefreshServicePublishesResult(t *testing.T) {
	onionoo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/details":
			w.Write([]byte(`{"version":"10.0","relays":[{"nickname":"a","fingerprint":"AAAA","country":"de","observed_bandwidth":10,"consensus_weight":10}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer onionoo.Close()

	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)
	fetcher := ingest.NewFetcher(store, ingest.Options{
		Timeout: 5 * time.Second,
		Policy:  ingest.Policy{MaxAttempts: 1, InitialDelay: time.Millisecond},
	})
	coord := ingest.NewCoordinator(fetcher, refresh.DefaultSources(onionoo.URL, ""))
	pipeline := refresh.NewPipeline(coord, "")
	server := status.NewServer("127.0.0.1:0", coord.Status(), time.Second)

	svc := NewRefreshService(pipeline, server, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	// The startup run publishes before the first tick.
	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/snapshot", nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		return rec.Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("refresh service did not stop")
	}
}

func TestServiceNames(t *testing.T) {
	assert.Equal(t, "refresh-service", (&RefreshService{}).String())
	assert.Equal(t, "status-server", (&HTTPService{}).String())
}
