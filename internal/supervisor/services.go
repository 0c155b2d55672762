// Relaymap - Tor Relay Network Statistics and Aggregation
// Copyright 2026 Relaymap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymap/relaymap

package supervisor

import (
	"context"
	"time"

	"github.com/relaymap/relaymap/internal/logging"
	"github.com/relaymap/relaymap/internal/refresh"
	"github.com/relaymap/relaymap/internal/status"
)

// RefreshService runs the pipeline once at startup and then on every
// tick. A failed refresh is logged and the previous published result
// stays in place; the service itself keeps running so one bad cycle does
// not trip the supervisor's failure accounting.
type RefreshService struct {
	pipeline *refresh.Pipeline
	server   *status.Server
	interval time.Duration
}

// NewRefreshService builds the service. server may be nil when the HTTP
// surface is disabled. interval must be positive.
func NewRefreshService(pipeline *refresh.Pipeline, server *status.Server, interval time.Duration) *RefreshService {
	return &RefreshService{pipeline: pipeline, server: server, interval: interval}
}

// Serve implements suture.Service.
func (s *RefreshService) Serve(ctx context.Context) error {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *RefreshService) runOnce(ctx context.Context) {
	res, err := s.pipeline.Run(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Refresh cycle failed")
		return
	}
	if s.server != nil {
		s.server.SetLatest(res)
	}
}

func (s *RefreshService) String() string { return "refresh-service" }

// HTTPService adapts the status server to suture.Service.
type HTTPService struct {
	server *status.Server
}

func NewHTTPService(server *status.Server) *HTTPService {
	return &HTTPService{server: server}
}

// Serve implements suture.Service.
func (s *HTTPService) Serve(ctx context.Context) error {
	if err := s.server.Serve(ctx); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *HTTPService) String() string { return "status-server" }
