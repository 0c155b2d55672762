// Relaymap - Tor Relay Network Statistics and Aggregation
// Copyright 2026 Relaymap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymap/relaymap

package aggregate

// RoleCounts counts relays by network role.
type RoleCounts struct {
	Guard  int `json:"guard"`
	Middle int `json:"middle"`
	Exit   int `json:"exit"`
}

// NetworkTotals are the network-wide sums computed alongside the dimension
// pass. Primary counts each relay under exactly one role; Multi counts a
// relay under every role it can serve, so a Guard+Exit relay appears twice.
type NetworkTotals struct {
	Relays int `json:"relays"`

	Primary RoleCounts `json:"primary_roles"`
	Multi   RoleCounts `json:"multi_roles"`

	Bandwidth       int64 `json:"bandwidth"`
	GuardBandwidth  int64 `json:"guard_bandwidth"`
	MiddleBandwidth int64 `json:"middle_bandwidth"`
	ExitBandwidth   int64 `json:"exit_bandwidth"`

	ConsensusWeight int64 `json:"consensus_weight"`
	GuardWeight     int64 `json:"guard_weight"`
	MiddleWeight    int64 `json:"middle_weight"`
	ExitWeight      int64 `json:"exit_weight"`

	// ConsensusWeightFraction sums the upstream-supplied per-relay
	// fractions. Close to 1.0 for a full roster.
	ConsensusWeightFraction float64 `json:"consensus_weight_fraction"`
}

// Group is one finalized (dimension, key) accumulator. All fraction fields
// are populated by Finalize; a Group never exists half-derived.
type Group struct {
	// Members indexes into the relay list this snapshot was built from.
	Members []int `json:"members"`

	Bandwidth       int64 `json:"bandwidth"`
	GuardBandwidth  int64 `json:"guard_bandwidth"`
	MiddleBandwidth int64 `json:"middle_bandwidth"`
	ExitBandwidth   int64 `json:"exit_bandwidth"`

	GuardCount  int `json:"guard_count"`
	MiddleCount int `json:"middle_count"`
	ExitCount   int `json:"exit_count"`

	ConsensusWeight int64 `json:"consensus_weight"`
	GuardWeight     int64 `json:"guard_weight"`
	MiddleWeight    int64 `json:"middle_weight"`
	ExitWeight      int64 `json:"exit_weight"`

	ConsensusWeightFraction float64 `json:"consensus_weight_fraction"`
	GuardWeightFraction     float64 `json:"guard_weight_fraction"`
	MiddleWeightFraction    float64 `json:"middle_weight_fraction"`
	ExitWeightFraction      float64 `json:"exit_weight_fraction"`

	// UniqueAS lists the distinct autonomous systems contributing to this
	// group, sorted. Populated for diversity-tracking dimensions only.
	UniqueASCount int      `json:"unique_as_count,omitempty"`
	UniqueAS      []string `json:"unique_as,omitempty"`

	// CountryCounts breaks the group down by relay country. Populated for
	// country-breakdown dimensions only.
	CountryCounts map[string]int `json:"country_counts,omitempty"`

	// FirstSeen is the earliest first_seen timestamp among members.
	FirstSeen string `json:"first_seen,omitempty"`
}

// Snapshot is the frozen aggregation output. Nothing mutates a Snapshot
// after Finalize returns it; downstream consumers read it concurrently.
type Snapshot struct {
	// Dimensions maps dimension name to key to its finalized group.
	Dimensions map[string]map[string]*Group `json:"dimensions"`

	Totals NetworkTotals `json:"totals"`

	// Participations counts every (relay, key) contribution observed
	// during the pass, across all dimensions.
	Participations int `json:"participations"`
}

// Group returns the finalized group for (dimension, key), or nil.
func (s *Snapshot) Group(dimension, key string) *Group {
	groups, ok := s.Dimensions[dimension]
	if !ok {
		return nil
	}
	return groups[key]
}
