// Relaymap - Tor Relay Network Statistics and Aggregation
// Copyright 2026 Relaymap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymap/relaymap

// Package enrich derives per-operator and per-relay fields from a
// finalized aggregation snapshot: percentile positions against the
// network-wide distributions, outlier classification, AROI validation
// status, and the network concentration indexes.
package enrich

import (
	"sort"
	"strings"

	"github.com/relaymap/relaymap/internal/aggregate"
	"github.com/relaymap/relaymap/internal/onionoo"
	"github.com/relaymap/relaymap/internal/stats"
)

const outlierThresholdStdDevs = 2.0

// AroiStatus is one operator's proof-validation verdict, consumed opaquely
// from the AROI source.
type AroiStatus struct {
	Valid     bool   `json:"valid"`
	ProofType string `json:"proof_type,omitempty"`
	Error     string `json:"error,omitempty"`
}

// OperatorProfile is the enriched view of one operator group.
type OperatorProfile struct {
	Contact     string `json:"contact"`
	ContactHash string `json:"contact_hash"`
	Domain      string `json:"domain,omitempty"`
	RelayCount  int    `json:"relay_count"`

	Bandwidth      int64   `json:"bandwidth"`
	BandwidthShare float64 `json:"bandwidth_share"`
	WeightShare    float64 `json:"weight_share"`

	// Efficiency is consensus weight share per bandwidth share. Above 1
	// the operator carries more traffic authority than raw capacity.
	Efficiency float64 `json:"efficiency"`

	BandwidthPercentile  int `json:"bandwidth_percentile"`
	WeightPercentile     int `json:"weight_percentile"`
	EfficiencyPercentile int `json:"efficiency_percentile"`

	LowOutlier  bool `json:"low_outlier,omitempty"`
	HighOutlier bool `json:"high_outlier,omitempty"`

	Aroi *AroiStatus `json:"aroi,omitempty"`
}

// Concentration holds the network inequality indexes over operators.
type Concentration struct {
	BandwidthGini float64 `json:"bandwidth_gini"`
	WeightGini    float64 `json:"weight_gini"`
}

// Enrichment is the output of Apply. Operators is keyed by contact hash.
type Enrichment struct {
	Operators     map[string]*OperatorProfile `json:"operators"`
	Concentration Concentration               `json:"concentration"`
}

// Apply computes operator profiles from the snapshot's contact dimension
// and writes each relay's derived support class in place. The relay list
// itself is append-only: fields are set, entities never added or removed.
// The AROI document may be nil when its source was unavailable; profiles
// then simply carry no validation status.
func Apply(relays []onionoo.Relay, snap *aggregate.Snapshot, aroi *onionoo.AroiDocument) *Enrichment {
	out := &Enrichment{Operators: make(map[string]*OperatorProfile)}

	groups := snap.Dimensions["contact"]
	hashes := make([]string, 0, len(groups))
	for hash := range groups {
		hashes = append(hashes, hash)
	}
	sort.Strings(hashes)

	bandwidths := make([]float64, 0, len(hashes))
	weights := make([]float64, 0, len(hashes))
	efficiencies := make([]float64, 0, len(hashes))

	for _, hash := range hashes {
		group := groups[hash]
		profile := &OperatorProfile{
			ContactHash:    hash,
			RelayCount:     len(group.Members),
			Bandwidth:      group.Bandwidth,
			BandwidthShare: bandwidthShare(group, &snap.Totals),
			WeightShare:    group.ConsensusWeightFraction,
		}
		if len(group.Members) > 0 {
			profile.Contact = relays[group.Members[0]].Contact
			profile.Domain = contactDomain(profile.Contact)
		}
		if profile.BandwidthShare > 0 {
			profile.Efficiency = profile.WeightShare / profile.BandwidthShare
		}
		profile.Aroi = aroiStatus(relays, group.Members, aroi)

		out.Operators[hash] = profile
		bandwidths = append(bandwidths, float64(group.Bandwidth))
		weights = append(weights, profile.WeightShare)
		efficiencies = append(efficiencies, profile.Efficiency)
	}

	rankOperators(out.Operators, hashes, bandwidths, weights, efficiencies)
	markOutliers(out.Operators, hashes, efficiencies)

	out.Concentration = Concentration{
		BandwidthGini: stats.Gini(sortedAscending(bandwidths)),
		WeightGini:    stats.Gini(sortedAscending(weights)),
	}

	classifyRelays(relays)
	return out
}

// aroiStatus joins the fingerprint-keyed validation feed onto an operator
// group: the group carries the verdict of its first member that has one,
// in member order. A failed verdict on any member overrides an earlier
// valid one, so a group is only reported valid when no member failed.
func aroiStatus(relays []onionoo.Relay, members []int, aroi *onionoo.AroiDocument) *AroiStatus {
	if aroi == nil {
		return nil
	}
	var status *AroiStatus
	for _, i := range members {
		verdict, ok := aroi.Validations[relays[i].Fingerprint]
		if !ok {
			continue
		}
		if status == nil || (status.Valid && !verdict.Valid) {
			status = &AroiStatus{Valid: verdict.Valid, ProofType: verdict.ProofType, Error: verdict.Error}
		}
	}
	return status
}

func rankOperators(operators map[string]*OperatorProfile, hashes []string, bandwidths, weights, efficiencies []float64) {
	bwRef := sortedAscending(bandwidths)
	wRef := sortedAscending(weights)
	effRef := sortedAscending(efficiencies)

	for i, hash := range hashes {
		profile := operators[hash]
		profile.BandwidthPercentile = stats.PercentileRank(bandwidths[i], bwRef)
		profile.WeightPercentile = stats.PercentileRank(weights[i], wRef)
		profile.EfficiencyPercentile = stats.PercentileRank(efficiencies[i], effRef)
	}
}

func markOutliers(operators map[string]*OperatorProfile, hashes []string, efficiencies []float64) {
	low, high := stats.Outliers(efficiencies, outlierThresholdStdDevs)
	for _, i := range low {
		operators[hashes[i]].LowOutlier = true
	}
	for _, i := range high {
		operators[hashes[i]].HighOutlier = true
	}
}

// classifyRelays derives each relay's support class from its share of the
// network consensus weight distribution.
func classifyRelays(relays []onionoo.Relay) {
	if len(relays) == 0 {
		return
	}
	weights := make([]float64, len(relays))
	for i := range relays {
		weights[i] = float64(relays[i].ConsensusWeight)
	}
	ref := sortedAscending(weights)

	for i := range relays {
		rank := stats.PercentileRank(weights[i], ref)
		switch {
		case rank >= 75:
			relays[i].SupportClass = "backbone"
		case rank >= 25:
			relays[i].SupportClass = "standard"
		default:
			relays[i].SupportClass = "marginal"
		}
	}
}

func bandwidthShare(group *aggregate.Group, totals *aggregate.NetworkTotals) float64 {
	if totals.Bandwidth == 0 {
		return 0
	}
	return float64(group.Bandwidth) / float64(totals.Bandwidth)
}

// contactDomain extracts the operator domain from a free-form contact
// string, recognizing the common "name <user@domain>" and bare address
// forms. Empty when no address is present.
func contactDomain(contact string) string {
	for _, field := range strings.Fields(contact) {
		at := strings.LastIndex(field, "@")
		if at < 0 || at == len(field)-1 {
			continue
		}
		domain := strings.Trim(field[at+1:], "<>()[],;\"'")
		domain = strings.TrimSuffix(domain, ".")
		if strings.Contains(domain, ".") {
			return strings.ToLower(domain)
		}
	}
	return ""
}

func sortedAscending(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}
