// Relaymap - Tor Relay Network Statistics and Aggregation
// Copyright 2026 Relaymap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymap/relaymap

// Package status serves the monitoring surface: worker status per source,
// the status summary, the latest refresh result, health, and Prometheus
// metrics.
package status

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaymap/relaymap/internal/ingest"
	"github.com/relaymap/relaymap/internal/logging"
	"github.com/relaymap/relaymap/internal/refresh"
)

// Response is the envelope every JSON endpoint returns.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Server exposes the read-only monitoring endpoints. The status table is
// owned by the coordinator; the server only snapshots it. The latest
// refresh result is swapped in atomically after each successful run.
type Server struct {
	addr    string
	timeout time.Duration
	table   *ingest.StatusTable
	latest  atomic.Pointer[refresh.Result]
}

// NewServer builds a server bound to addr over the coordinator's table.
func NewServer(addr string, table *ingest.StatusTable, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{addr: addr, timeout: timeout, table: table}
}

// SetLatest publishes a finished refresh result to readers.
func (s *Server) SetLatest(res *refresh.Result) {
	s.latest.Store(res)
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status/workers", s.handleWorkers)
		r.Get("/status/summary", s.handleSummary)
		r.Get("/snapshot", s.handleSnapshot)
	})

	return r
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully within the configured timeout.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.timeout,
		WriteTimeout: s.timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.addr).Msg("Status server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]string{"status": "ok"}})
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: s.table.Snapshot()})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: s.table.Summary()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	res := s.latest.Load()
	if res == nil {
		writeJSON(w, http.StatusServiceUnavailable, Response{Error: "no refresh has completed yet"})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: res})
}

func writeJSON(w http.ResponseWriter, code int, payload Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}
