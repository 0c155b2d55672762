// Relaymap - Tor Relay Network Statistics and Aggregation
// Copyright 2026 Relaymap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymap/relaymap

package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaymap/relaymap/internal/logging"
	"github.com/relaymap/relaymap/internal/metrics"
)

// StatusTable holds one status record per declared source. The coordinator
// is the only writer; monitoring callers read snapshots. One mutex guards
// the whole table since workers write disjoint keys at low frequency.
type StatusTable struct {
	mu      sync.RWMutex
	order   []string
	records map[string]StatusRecord
}

// NewStatusTable seeds one stale record per source so the status surface
// always lists every declared source, even before the first run.
func NewStatusTable(sources []Source) *StatusTable {
	t := &StatusTable{
		order:   make([]string, 0, len(sources)),
		records: make(map[string]StatusRecord, len(sources)),
	}
	for _, src := range sources {
		t.order = append(t.order, src.Name)
		t.records[src.Name] = StatusRecord{Source: src.Name, State: StateStale}
	}
	return t
}

func (t *StatusTable) set(source string, state State, lastErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := StatusRecord{Source: source, State: state, LastChecked: time.Now().UTC()}
	if lastErr != nil {
		rec.LastError = lastErr.Error()
	}
	t.records[source] = rec
}

// Snapshot returns the records in source declaration order.
func (t *StatusTable) Snapshot() []StatusRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]StatusRecord, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.records[name])
	}
	return out
}

// Summary counts records by state.
func (t *StatusTable) Summary() StatusSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sum := StatusSummary{Total: len(t.order)}
	for _, rec := range t.records {
		switch rec.State {
		case StateReady:
			sum.Ready++
		case StateStale:
			sum.Stale++
		}
	}
	return sum
}

// Coordinator runs the declared fetch tasks concurrently and owns the
// status table.
type Coordinator struct {
	fetcher *Fetcher
	sources []Source
	status  *StatusTable
}

// NewCoordinator declares the source set for all subsequent runs.
func NewCoordinator(fetcher *Fetcher, sources []Source) *Coordinator {
	return &Coordinator{
		fetcher: fetcher,
		sources: sources,
		status:  NewStatusTable(sources),
	}
}

// Status exposes the status table for the monitoring surface. Read-only
// from the caller's point of view.
func (c *Coordinator) Status() *StatusTable {
	return c.status
}

// Run starts one worker per source, joins them all, and returns the result
// map keyed by source name. The map always has one entry per declared
// source. A critical source ending with StatusFailed returns
// ErrCriticalSource after every worker has joined; non-critical failures
// only degrade the result map. Workers are never cancelled by siblings.
func (c *Coordinator) Run(ctx context.Context) (map[string]Result, error) {
	start := time.Now()
	results := make([]Result, len(c.sources))

	var wg sync.WaitGroup
	for i, src := range c.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			res := c.fetcher.Fetch(ctx, src)
			results[i] = res
			c.record(src, res)
		}(i, src)
	}
	wg.Wait()

	out := make(map[string]Result, len(results))
	var critical error
	for i, res := range results {
		out[res.Source] = res
		if c.sources[i].Critical && res.Status == StatusFailed {
			critical = fmt.Errorf("%w: %s: %v", ErrCriticalSource, res.Source, res.Err)
		}
	}

	if critical != nil {
		metrics.CoordinatorRuns.WithLabelValues("critical_failure").Inc()
		logging.Error().Err(critical).Dur("elapsed", time.Since(start)).Msg("Ingestion run aborted")
		return out, critical
	}

	metrics.CoordinatorRuns.WithLabelValues("ok").Inc()
	logging.Info().Int("sources", len(c.sources)).Dur("elapsed", time.Since(start)).Msg("Ingestion run complete")
	return out, nil
}

// record derives the worker state from the result. A cache fallback after a
// failed fetch is stale even though a document was served; a conditional
// hit is ready.
func (c *Coordinator) record(src Source, res Result) {
	state := StateReady
	if res.Status == StatusFailed || res.Err != nil {
		state = StateStale
	}
	c.status.set(src.Name, state, res.Err)

	stateValue := 0.0
	if state == StateStale {
		stateValue = 1.0
	}
	metrics.WorkerState.WithLabelValues(src.Name).Set(stateValue)
}
