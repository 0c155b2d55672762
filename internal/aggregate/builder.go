// Relaymap - Tor Relay Network Statistics and Aggregation
// Copyright 2026 Relaymap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymap/relaymap

package aggregate

import (
	"sort"
	"time"

	"github.com/relaymap/relaymap/internal/metrics"
	"github.com/relaymap/relaymap/internal/onionoo"
)

// accumulator is the unfinalized running-sum record for one
// (dimension, key) pair. It holds true sets during the pass; Finalize
// converts them to counts plus sorted lists and discards them.
type accumulator struct {
	members []int

	bandwidth       int64
	guardBandwidth  int64
	middleBandwidth int64
	exitBandwidth   int64

	guardCount  int
	middleCount int
	exitCount   int

	consensusWeight int64
	guardWeight     int64
	middleWeight    int64
	exitWeight      int64

	// weightFraction accumulates the upstream-supplied per-relay
	// fractions. It takes precedence over a locally recomputed ratio.
	weightFraction float64

	asSet         map[string]struct{}
	countryCounts map[string]int
	firstSeen     string
}

// Builder runs the single aggregation pass. It is the unfinalized form of
// a Snapshot: fraction fields do not exist here, so they cannot be read
// before the totals they depend on are known. Not safe for concurrent use;
// exactly one goroutine feeds the pass.
type Builder struct {
	dims      []dimensionSpec
	indexes   map[string]map[string]*accumulator
	totals    NetworkTotals
	processed int
	partCount int
	started   time.Time
}

// NewBuilder starts a fresh pass over the default dimension set.
func NewBuilder() *Builder {
	dims := defaultDimensions()
	indexes := make(map[string]map[string]*accumulator, len(dims))
	for _, dim := range dims {
		indexes[dim.name] = make(map[string]*accumulator)
	}
	return &Builder{dims: dims, indexes: indexes, started: time.Now()}
}

// Add feeds one relay, identified by its index in the roster, into every
// dimension it participates in and into the network totals. A key that
// fails the safe-key pattern skips the relay for that dimension only.
func (b *Builder) Add(index int, relay *onionoo.Relay) {
	b.processed++

	primary := relay.PrimaryRole()
	b.addTotals(relay, primary)

	for _, dim := range b.dims {
		for _, key := range dim.keys(relay) {
			if !safeKey(key) {
				continue
			}
			acc := b.accumulatorFor(dim.name, key)
			b.addToAccumulator(acc, dim.behavior, index, relay, primary)
			b.partCount++
		}
	}
}

func (b *Builder) addTotals(relay *onionoo.Relay, primary onionoo.Role) {
	b.totals.Relays++

	switch primary {
	case onionoo.RoleGuard:
		b.totals.Primary.Guard++
		b.totals.GuardBandwidth += relay.ObservedBandwidth
		b.totals.GuardWeight += relay.ConsensusWeight
	case onionoo.RoleExit:
		b.totals.Primary.Exit++
		b.totals.ExitBandwidth += relay.ObservedBandwidth
		b.totals.ExitWeight += relay.ConsensusWeight
	default:
		b.totals.Primary.Middle++
		b.totals.MiddleBandwidth += relay.ObservedBandwidth
		b.totals.MiddleWeight += relay.ConsensusWeight
	}

	for _, role := range relay.Roles() {
		switch role {
		case onionoo.RoleGuard:
			b.totals.Multi.Guard++
		case onionoo.RoleExit:
			b.totals.Multi.Exit++
		default:
			b.totals.Multi.Middle++
		}
	}

	b.totals.Bandwidth += relay.ObservedBandwidth
	b.totals.ConsensusWeight += relay.ConsensusWeight
	b.totals.ConsensusWeightFraction += relay.ConsensusWeightFraction
}

func (b *Builder) accumulatorFor(dimension, key string) *accumulator {
	acc, ok := b.indexes[dimension][key]
	if !ok {
		acc = &accumulator{}
		b.indexes[dimension][key] = acc
	}
	return acc
}

func (b *Builder) addToAccumulator(acc *accumulator, bh behavior, index int, relay *onionoo.Relay, primary onionoo.Role) {
	acc.members = append(acc.members, index)
	acc.bandwidth += relay.ObservedBandwidth
	acc.consensusWeight += relay.ConsensusWeight
	acc.weightFraction += relay.ConsensusWeightFraction

	// A zero-weight relay contributes a zero addend but still counts
	// toward its role.
	switch primary {
	case onionoo.RoleGuard:
		acc.guardCount++
		acc.guardBandwidth += relay.ObservedBandwidth
		acc.guardWeight += relay.ConsensusWeight
	case onionoo.RoleExit:
		acc.exitCount++
		acc.exitBandwidth += relay.ObservedBandwidth
		acc.exitWeight += relay.ConsensusWeight
	default:
		acc.middleCount++
		acc.middleBandwidth += relay.ObservedBandwidth
		acc.middleWeight += relay.ConsensusWeight
	}

	if bh == behaviorDiversity || bh == behaviorCountryBreakdown {
		if relay.AS != "" {
			if acc.asSet == nil {
				acc.asSet = make(map[string]struct{})
			}
			acc.asSet[relay.AS] = struct{}{}
		}
	}
	if bh == behaviorCountryBreakdown && relay.Country != "" {
		if acc.countryCounts == nil {
			acc.countryCounts = make(map[string]int)
		}
		acc.countryCounts[relay.Country]++
	}

	if relay.FirstSeen != "" && (acc.firstSeen == "" || relay.FirstSeen < acc.firstSeen) {
		acc.firstSeen = relay.FirstSeen
	}
}

// Finalize runs the fix-up pass and freezes the result. Every group's
// fractions are derived from the now-complete network totals; the
// upstream-accumulated overall fraction is kept unless it is exactly zero
// while raw weight exists, in which case it is recomputed from the raw
// totals. Division by a zero total yields zero, never a fault.
func (b *Builder) Finalize() *Snapshot {
	snap := &Snapshot{
		Dimensions:     make(map[string]map[string]*Group, len(b.dims)),
		Totals:         b.totals,
		Participations: b.partCount,
	}

	for _, dim := range b.dims {
		groups := make(map[string]*Group, len(b.indexes[dim.name]))
		for key, acc := range b.indexes[dim.name] {
			groups[key] = b.finalizeGroup(acc)
		}
		snap.Dimensions[dim.name] = groups
		metrics.DimensionGroups.WithLabelValues(dim.name).Set(float64(len(groups)))
	}

	metrics.EntitiesProcessed.Set(float64(b.processed))
	metrics.AggregationDuration.Observe(time.Since(b.started).Seconds())
	return snap
}

func (b *Builder) finalizeGroup(acc *accumulator) *Group {
	g := &Group{
		Members:         acc.members,
		Bandwidth:       acc.bandwidth,
		GuardBandwidth:  acc.guardBandwidth,
		MiddleBandwidth: acc.middleBandwidth,
		ExitBandwidth:   acc.exitBandwidth,
		GuardCount:      acc.guardCount,
		MiddleCount:     acc.middleCount,
		ExitCount:       acc.exitCount,
		ConsensusWeight: acc.consensusWeight,
		GuardWeight:     acc.guardWeight,
		MiddleWeight:    acc.middleWeight,
		ExitWeight:      acc.exitWeight,
		FirstSeen:       acc.firstSeen,
	}

	g.GuardWeightFraction = safeRatio(acc.guardWeight, b.totals.GuardWeight)
	g.MiddleWeightFraction = safeRatio(acc.middleWeight, b.totals.MiddleWeight)
	g.ExitWeightFraction = safeRatio(acc.exitWeight, b.totals.ExitWeight)

	g.ConsensusWeightFraction = acc.weightFraction
	if g.ConsensusWeightFraction == 0 && acc.consensusWeight > 0 {
		g.ConsensusWeightFraction = safeRatio(acc.consensusWeight, b.totals.ConsensusWeight)
	}

	if acc.asSet != nil {
		g.UniqueASCount = len(acc.asSet)
		g.UniqueAS = make([]string, 0, len(acc.asSet))
		for as := range acc.asSet {
			g.UniqueAS = append(g.UniqueAS, as)
		}
		sort.Strings(g.UniqueAS)
	}
	if acc.countryCounts != nil {
		g.CountryCounts = acc.countryCounts
	}
	return g
}

func safeRatio(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}

// Aggregate runs the whole two-phase protocol over a roster in one call.
func Aggregate(relays []onionoo.Relay) *Snapshot {
	b := NewBuilder()
	for i := range relays {
		b.Add(i, &relays[i])
	}
	return b.Finalize()
}
