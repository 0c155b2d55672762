// Relaymap - Tor Relay Network Statistics and Aggregation
// Copyright 2026 Relaymap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymap/relaymap

package ingest

import (
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/relaymap/relaymap/internal/logging"
	"github.com/relaymap/relaymap/internal/metrics"
)

// breaker wraps one source's fetch attempts with a circuit breaker so a
// persistently failing endpoint stops consuming the retry budget of every
// refresh cycle.
//
// The breaker uses real time for its interval and timeout windows. Tests
// exercise the fetcher with the breaker disabled and test the breaker's
// classification separately.
type breaker struct {
	cb   *gobreaker.CircuitBreaker[*fetchResult]
	name string
}

// newBreaker builds a breaker for one source: it opens after a 60% failure
// rate over at least 5 requests, allows 2 probes half-open, and waits one
// minute before probing an open circuit.
func newBreaker(source string) *breaker {
	metrics.CircuitBreakerState.WithLabelValues(source).Set(0)

	cb := gobreaker.NewCircuitBreaker[*fetchResult](gobreaker.Settings{
		Name:        source,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := breakerStateString(from)
			toStr := breakerStateString(to)
			logging.Info().Str("source", name).Str("from", fromStr).Str("to", toStr).Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &breaker{cb: cb, name: source}
}

// execute runs fn through the breaker. A rejection by an open circuit is
// converted to a terminal error so the retry loop falls straight through to
// the cache fallback instead of burning attempts against a tripped source.
func (b *breaker) execute(fn func() (*fetchResult, error)) (*fetchResult, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			logging.Warn().Str("source", b.name).Err(err).Msg("Fetch rejected by circuit breaker")
			return nil, terminal(err)
		}
		return nil, err
	}
	return result, nil
}

func breakerStateFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func breakerStateString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
