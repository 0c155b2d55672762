// Relaymap - Tor Relay Network Statistics and Aggregation
// Copyright 2026 Relaymap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymap/relaymap

// Package refresh runs one complete snapshot refresh: fetch all sources,
// parse the documents, aggregate, enrich, and optionally write the result
// to the output file for downstream consumers.
package refresh

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relaymap/relaymap/internal/aggregate"
	"github.com/relaymap/relaymap/internal/enrich"
	"github.com/relaymap/relaymap/internal/ingest"
	"github.com/relaymap/relaymap/internal/logging"
	"github.com/relaymap/relaymap/internal/metrics"
	"github.com/relaymap/relaymap/internal/onionoo"
)

// Source names as declared at startup. The details source is the critical
// one; everything else degrades gracefully.
const (
	SourceDetails   = "details"
	SourceUptime    = "uptime"
	SourceBandwidth = "bandwidth"
	SourceAroi      = "aroi"
)

// DefaultSources declares the fixed source set against an Onionoo base URL
// and an optional AROI endpoint.
func DefaultSources(baseURL, aroiURL string) []ingest.Source {
	sources := []ingest.Source{
		{Name: SourceDetails, URL: baseURL + "/details", CacheKey: SourceDetails, Critical: true},
		{Name: SourceUptime, URL: baseURL + "/uptime", CacheKey: SourceUptime},
		{Name: SourceBandwidth, URL: baseURL + "/bandwidth", CacheKey: SourceBandwidth},
	}
	if aroiURL != "" {
		sources = append(sources, ingest.Source{Name: SourceAroi, URL: aroiURL, CacheKey: SourceAroi})
	}
	return sources
}

// Result is the frozen output of one refresh run. Everything reachable
// from it is immutable once Run returns; concurrent readers need no locks.
type Result struct {
	// RunID correlates this run's log lines, output file, and API
	// responses. A fresh UUID per run.
	RunID string `json:"run_id"`

	GeneratedAt     time.Time `json:"generated_at"`
	RelaysPublished string    `json:"relays_published,omitempty"`

	// Sources records each source's outcome in this run.
	Sources map[string]ingest.Status `json:"sources"`

	Relays     []onionoo.Relay     `json:"relays"`
	Snapshot   *aggregate.Snapshot `json:"snapshot"`
	Enrichment *enrich.Enrichment  `json:"enrichment"`

	// History documents are carried for downstream consumers but kept out
	// of the output file; they are bulky and reproducible from cache.
	Uptime    *onionoo.UptimeDocument    `json:"-"`
	Bandwidth *onionoo.BandwidthDocument `json:"-"`
}

// Pipeline owns the coordinator and the output path. One Run at a time.
type Pipeline struct {
	coord      *ingest.Coordinator
	outputPath string
}

// NewPipeline builds a pipeline. outputPath may be empty to skip the
// output file.
func NewPipeline(coord *ingest.Coordinator, outputPath string) *Pipeline {
	return &Pipeline{coord: coord, outputPath: outputPath}
}

// Status exposes the coordinator's worker status table.
func (p *Pipeline) Status() *ingest.StatusTable {
	return p.coord.Status()
}

// Run executes one refresh. It fails only when the critical details source
// yields no parseable roster; every other source degrades to nil and the
// corresponding enrichment stays empty.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	results, err := p.coord.Run(ctx)
	if err != nil {
		return nil, err
	}

	details, err := onionoo.ParseDetails(results[SourceDetails].Document)
	if err != nil {
		return nil, fmt.Errorf("critical source %s: %w", SourceDetails, err)
	}

	res := &Result{
		RunID:           uuid.NewString(),
		GeneratedAt:     time.Now().UTC(),
		RelaysPublished: details.RelaysPublished,
		Sources:         make(map[string]ingest.Status, len(results)),
		Relays:          details.Relays,
	}
	for name, r := range results {
		res.Sources[name] = r.Status
	}

	res.Uptime = parseOptional(results, SourceUptime, onionoo.ParseUptime)
	res.Bandwidth = parseOptional(results, SourceBandwidth, onionoo.ParseBandwidth)
	aroi := parseOptional(results, SourceAroi, onionoo.ParseAroi)

	res.Snapshot = aggregate.Aggregate(res.Relays)
	res.Enrichment = enrich.Apply(res.Relays, res.Snapshot, aroi)

	if p.outputPath != "" {
		if err := writeResult(p.outputPath, res); err != nil {
			return nil, fmt.Errorf("write output: %w", err)
		}
	}

	metrics.RefreshLastSuccess.SetToCurrentTime()
	logging.Info().
		Str("run_id", res.RunID).
		Int("relays", len(res.Relays)).
		Int("operators", len(res.Enrichment.Operators)).
		Msg("Refresh complete")
	return res, nil
}

// parseOptional decodes a non-critical source's document, returning nil
// both when the source yielded nothing and when its body fails to parse.
func parseOptional[T any](results map[string]ingest.Result, name string, parse func([]byte) (*T, error)) *T {
	r, ok := results[name]
	if !ok || r.Document == nil {
		return nil
	}
	doc, err := parse(r.Document)
	if err != nil {
		logging.Warn().Err(err).Str("source", name).Msg("Discarding unparseable document")
		return nil
	}
	return doc
}

// writeResult writes the output file through a temp file and rename so
// readers never observe a partial snapshot.
func writeResult(path string, res *Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
