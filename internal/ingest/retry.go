// Relaymap - Tor Relay Network Statistics and Aggregation
// Copyright 2026 Relaymap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymap/relaymap

package ingest

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/relaymap/relaymap/internal/logging"
	"github.com/relaymap/relaymap/internal/metrics"
)

// terminalError marks a fetch error that must not be retried: a 4xx other
// than 304, a malformed body, or a circuit breaker rejection.
type terminalError struct {
	cause error
}

func (e *terminalError) Error() string { return e.cause.Error() }
func (e *terminalError) Unwrap() error { return e.cause }

func terminal(cause error) error { return &terminalError{cause: cause} }

func isTerminal(err error) bool {
	var te *terminalError
	return errors.As(err, &te)
}

// Policy bounds the retry loop of one fetch task. The wall-clock budget per
// source is enforced by the context deadline the fetcher sets, not here.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
}

// run executes fn under the policy. Retryable errors are retried with
// exponentially increasing delay plus a jitter term; terminal errors and
// context cancellation short-circuit. The backoff wait is cancellable.
func (p Policy) run(ctx context.Context, source string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.InitialDelay

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil {
			return nil
		}
		if isTerminal(err) {
			return err
		}

		if attempt < attempts-1 {
			wait := delay + jitter(delay)
			metrics.FetchRetries.WithLabelValues(source).Inc()
			logging.Warn().Err(err).Str("source", source).Int("attempt", attempt+1).Int("max_attempts", attempts).Dur("delay", wait).Msg("Retrying fetch")

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}

	return fmt.Errorf("max retry attempts reached: %w", err)
}

// jitter returns a random delay in [0, d/4] to spread retries across
// workers hitting the same host.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d)/4 + 1))
}
