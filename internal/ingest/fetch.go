// Relaymap - Tor Relay Network Statistics and Aggregation
// Copyright 2026 Relaymap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymap/relaymap

package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/relaymap/relaymap/internal/cache"
	"github.com/relaymap/relaymap/internal/logging"
	"github.com/relaymap/relaymap/internal/metrics"
)

const defaultUserAgent = "relaymap/1.0"

// fetchResult is one successful HTTP exchange: either fresh content plus
// its conditional token, or a 304 with no body.
type fetchResult struct {
	body        []byte
	token       string
	notModified bool
}

// Options configures a Fetcher. Zero values disable the rate limiter and
// the circuit breaker; the timeout and retry policy always apply.
type Options struct {
	// Timeout is the wall-clock budget of one complete fetch task,
	// including all retries and backoff waits.
	Timeout time.Duration
	// Policy bounds the retry loop within the budget.
	Policy Policy
	// RateLimit caps outgoing requests per second across all sources
	// hitting the same upstream. Zero disables the limiter.
	RateLimit float64
	// RateBurst is the limiter's burst size.
	RateBurst int
	// BreakerEnabled wraps every source's attempts in a circuit breaker.
	BreakerEnabled bool
	// UserAgent overrides the request User-Agent header.
	UserAgent string
}

// Fetcher runs fetch tasks. Safe for concurrent use: the coordinator calls
// Fetch from one goroutine per source.
type Fetcher struct {
	client    *http.Client
	store     *cache.Store
	limiter   *rate.Limiter
	policy    Policy
	timeout   time.Duration
	userAgent string

	breakersMu sync.Mutex
	breakers   map[string]*breaker
}

// NewFetcher builds a fetcher over the given cache store.
func NewFetcher(store *cache.Store, opts Options) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{},
		store:     store,
		policy:    opts.Policy,
		timeout:   opts.Timeout,
		userAgent: opts.UserAgent,
	}
	if f.timeout <= 0 {
		f.timeout = 2 * time.Minute
	}
	if f.userAgent == "" {
		f.userAgent = defaultUserAgent
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	if opts.BreakerEnabled {
		f.breakers = make(map[string]*breaker)
	}
	return f
}

// Fetch runs one complete fetch task for src and never returns an error
// directly: every failure mode is folded into the Result per the
// degradation rules. The task is bounded by the configured timeout.
func (f *Fetcher) Fetch(ctx context.Context, src Source) Result {
	start := time.Now()
	defer func() {
		metrics.FetchDuration.WithLabelValues(src.Name).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var fetched *fetchResult
	err := f.policy.run(ctx, src.Name, func() error {
		res, attemptErr := f.attempt(ctx, src)
		if attemptErr != nil {
			return attemptErr
		}
		fetched = res
		return nil
	})
	if err != nil {
		return f.fallback(src, err)
	}

	if fetched.notModified {
		metrics.ConditionalHits.WithLabelValues(src.Name).Inc()
		entry, ok, loadErr := f.store.Load(src.CacheKey)
		if loadErr != nil || !ok {
			// A 304 without a cached body means the stored token outlived
			// its document. Drop the token so the next run fetches fresh.
			if tokenErr := f.store.SaveToken(src.CacheKey, ""); tokenErr != nil {
				logging.Warn().Err(tokenErr).Str("source", src.Name).Msg("Failed to drop orphaned conditional token")
			}
			return Result{
				Source: src.Name,
				Status: StatusFailed,
				Err:    fmt.Errorf("not modified but no cached document for %s", src.Name),
			}
		}
		logging.Debug().Str("source", src.Name).Time("fetched_at", entry.FetchedAt).Msg("Source unchanged, using cached document")
		return Result{Source: src.Name, Status: StatusCached, Document: entry.Document}
	}

	if saveErr := f.store.Save(src.CacheKey, fetched.body); saveErr != nil {
		logging.Warn().Err(saveErr).Str("source", src.Name).Msg("Failed to cache fetched document")
	} else if tokenErr := f.store.SaveToken(src.CacheKey, fetched.token); tokenErr != nil {
		logging.Warn().Err(tokenErr).Str("source", src.Name).Msg("Failed to store conditional token")
	}

	logging.Info().Str("source", src.Name).Int("bytes", len(fetched.body)).Msg("Fetched fresh document")
	return Result{Source: src.Name, Status: StatusFresh, Document: fetched.body}
}

// attempt performs one rate-limited, breaker-guarded request.
func (f *Fetcher) attempt(ctx context.Context, src Source) (*fetchResult, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	do := func() (*fetchResult, error) { return f.doRequest(ctx, src) }
	if f.breakers != nil {
		return f.breakerFor(src.Name).execute(do)
	}
	return do()
}

// doRequest issues the conditional GET and classifies the response.
func (f *Fetcher) doRequest(ctx context.Context, src Source) (*fetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, terminal(fmt.Errorf("build request for %s: %w", src.Name, err))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")
	if token := f.store.Token(src.CacheKey); token != "" {
		req.Header.Set("If-Modified-Since", token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		// Transport errors (timeout, connection reset, DNS) are retryable.
		metrics.FetchAttempts.WithLabelValues(src.Name, "retryable_error").Inc()
		return nil, fmt.Errorf("request %s: %w", src.Name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		metrics.FetchAttempts.WithLabelValues(src.Name, "not_modified").Inc()
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return &fetchResult{notModified: true}, nil
	case resp.StatusCode >= 500:
		metrics.FetchAttempts.WithLabelValues(src.Name, "retryable_error").Inc()
		return nil, fmt.Errorf("server error %d from %s", resp.StatusCode, src.Name)
	case resp.StatusCode != http.StatusOK:
		metrics.FetchAttempts.WithLabelValues(src.Name, "terminal_error").Inc()
		return nil, terminal(fmt.Errorf("unexpected status %d from %s", resp.StatusCode, src.Name))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.FetchAttempts.WithLabelValues(src.Name, "retryable_error").Inc()
		return nil, fmt.Errorf("read body from %s: %w", src.Name, err)
	}
	if !json.Valid(body) {
		metrics.FetchAttempts.WithLabelValues(src.Name, "terminal_error").Inc()
		return nil, terminal(fmt.Errorf("malformed JSON body from %s", src.Name))
	}

	metrics.FetchAttempts.WithLabelValues(src.Name, "fresh").Inc()
	return &fetchResult{body: body, token: resp.Header.Get("Last-Modified")}, nil
}

// fallback serves the cached document after a failed fetch, or reports the
// source failed when no cache entry exists.
func (f *Fetcher) fallback(src Source, cause error) Result {
	entry, ok, err := f.store.Load(src.CacheKey)
	if err != nil || !ok {
		logging.Error().Err(cause).Str("source", src.Name).Msg("Fetch failed with no cached fallback")
		return Result{Source: src.Name, Status: StatusFailed, Err: cause}
	}

	metrics.CacheFallbacks.WithLabelValues(src.Name).Inc()
	logging.Warn().Err(cause).Str("source", src.Name).Time("cached_at", entry.FetchedAt).Msg("Fetch failed, serving cached document")
	return Result{Source: src.Name, Status: StatusCached, Document: entry.Document, Err: cause}
}

func (f *Fetcher) breakerFor(source string) *breaker {
	f.breakersMu.Lock()
	defer f.breakersMu.Unlock()
	b, ok := f.breakers[source]
	if !ok {
		b = newBreaker(source)
		f.breakers[source] = b
	}
	return b
}
