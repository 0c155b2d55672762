// Relaymap - Tor Relay Network Statistics and Aggregation
// Copyright 2026 Relaymap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymap/relaymap

package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymap/relaymap/internal/aggregate"
	"github.com/relaymap/relaymap/internal/onionoo"
)

func testRoster() []onionoo.Relay {
	return []onionoo.Relay{
		{
			Nickname:                "big",
			Fingerprint:             "AAAA",
			Contact:                 "ops@example.org",
			AS:                      "AS1",
			ObservedBandwidth:       1000,
			ConsensusWeight:         1000,
			ConsensusWeightFraction: 0.5,
		},
		{
			Nickname:                "mid",
			Fingerprint:             "BBBB",
			Contact:                 "relay admin <admin@example.net>",
			AS:                      "AS2",
			ObservedBandwidth:       100,
			ConsensusWeight:         100,
			ConsensusWeightFraction: 0.3,
		},
		{
			Nickname:                "small",
			Fingerprint:             "CCCC",
			Contact:                 "tiny@example.com",
			AS:                      "AS3",
			ObservedBandwidth:       10,
			ConsensusWeight:         10,
			ConsensusWeightFraction: 0.2,
		},
	}
}

func TestApplyBuildsOperatorProfiles(t *testing.T) {
	relays := testRoster()
	snap := aggregate.Aggregate(relays)

	enrichment := Apply(relays, snap, nil)
	require.Len(t, enrichment.Operators, 3)

	big := enrichment.Operators[aggregate.ContactHash("ops@example.org")]
	require.NotNil(t, big)
	assert.Equal(t, "ops@example.org", big.Contact)
	assert.Equal(t, "example.org", big.Domain)
	assert.Equal(t, 1, big.RelayCount)
	assert.Equal(t, int64(1000), big.Bandwidth)
	assert.InDelta(t, 1000.0/1110.0, big.BandwidthShare, 1e-12)
	assert.InDelta(t, 0.5, big.WeightShare, 1e-12)
	assert.InDelta(t, 0.5/(1000.0/1110.0), big.Efficiency, 1e-9)
}

func TestApplyPercentileRanks(t *testing.T) {
	relays := testRoster()
	snap := aggregate.Aggregate(relays)

	enrichment := Apply(relays, snap, nil)

	big := enrichment.Operators[aggregate.ContactHash("ops@example.org")]
	mid := enrichment.Operators[aggregate.ContactHash("relay admin <admin@example.net>")]
	small := enrichment.Operators[aggregate.ContactHash("tiny@example.com")]
	require.NotNil(t, big)
	require.NotNil(t, mid)
	require.NotNil(t, small)

	assert.Equal(t, 67, big.BandwidthPercentile)
	assert.Equal(t, 33, mid.BandwidthPercentile)
	// Nothing is strictly below the smallest; clamped to 1, never 0.
	assert.Equal(t, 1, small.BandwidthPercentile)
}

func TestApplyJoinsAroiByFingerprint(t *testing.T) {
	relays := testRoster()
	snap := aggregate.Aggregate(relays)

	aroi := &onionoo.AroiDocument{Validations: map[string]onionoo.AroiValidation{
		"AAAA": {Valid: true, ProofType: "uri-rsa"},
		"BBBB": {Valid: false, ProofType: "dns-rsa", Error: "proof mismatch"},
	}}

	enrichment := Apply(relays, snap, aroi)

	big := enrichment.Operators[aggregate.ContactHash("ops@example.org")]
	require.NotNil(t, big.Aroi)
	assert.True(t, big.Aroi.Valid)
	assert.Equal(t, "uri-rsa", big.Aroi.ProofType)

	mid := enrichment.Operators[aggregate.ContactHash("relay admin <admin@example.net>")]
	require.NotNil(t, mid.Aroi)
	assert.False(t, mid.Aroi.Valid)
	assert.Equal(t, "proof mismatch", mid.Aroi.Error)

	// No verdict for this fingerprint: no status, not an error.
	small := enrichment.Operators[aggregate.ContactHash("tiny@example.com")]
	assert.Nil(t, small.Aroi)
}

func TestAroiJoinDoesNotRequireContactDomain(t *testing.T) {
	relays := []onionoo.Relay{
		{Fingerprint: "AAAA", Contact: "find me on irc", ConsensusWeight: 10},
	}
	snap := aggregate.Aggregate(relays)

	aroi := &onionoo.AroiDocument{Validations: map[string]onionoo.AroiValidation{
		"AAAA": {Valid: true, ProofType: "uri-rsa"},
	}}

	enrichment := Apply(relays, snap, aroi)

	op := enrichment.Operators[aggregate.ContactHash("find me on irc")]
	require.NotNil(t, op)
	assert.Empty(t, op.Domain)
	require.NotNil(t, op.Aroi)
	assert.True(t, op.Aroi.Valid)
}

func TestAroiFailedMemberOverridesValid(t *testing.T) {
	relays := []onionoo.Relay{
		{Fingerprint: "AAAA", Contact: "ops@example.org", ConsensusWeight: 10},
		{Fingerprint: "BBBB", Contact: "ops@example.org", ConsensusWeight: 10},
	}
	snap := aggregate.Aggregate(relays)

	aroi := &onionoo.AroiDocument{Validations: map[string]onionoo.AroiValidation{
		"AAAA": {Valid: true, ProofType: "uri-rsa"},
		"BBBB": {Valid: false, ProofType: "uri-rsa", Error: "proof mismatch"},
	}}

	enrichment := Apply(relays, snap, aroi)

	op := enrichment.Operators[aggregate.ContactHash("ops@example.org")]
	require.NotNil(t, op.Aroi)
	assert.False(t, op.Aroi.Valid)
	assert.Equal(t, "proof mismatch", op.Aroi.Error)
}

func TestApplySetsSupportClasses(t *testing.T) {
	relays := []onionoo.Relay{
		{Contact: "a@example.org", ConsensusWeight: 1000},
		{Contact: "b@example.org", ConsensusWeight: 500},
		{Contact: "c@example.org", ConsensusWeight: 100},
		{Contact: "d@example.org", ConsensusWeight: 10},
	}
	snap := aggregate.Aggregate(relays)

	Apply(relays, snap, nil)

	assert.Equal(t, "backbone", relays[0].SupportClass)
	assert.Equal(t, "standard", relays[1].SupportClass)
	assert.Equal(t, "standard", relays[2].SupportClass)
	assert.Equal(t, "marginal", relays[3].SupportClass)
}

func TestApplyConcentration(t *testing.T) {
	relays := testRoster()
	snap := aggregate.Aggregate(relays)

	enrichment := Apply(relays, snap, nil)
	assert.Greater(t, enrichment.Concentration.BandwidthGini, 0.0)
	assert.Less(t, enrichment.Concentration.BandwidthGini, 1.0)
	assert.Greater(t, enrichment.Concentration.WeightGini, 0.0)
}

func TestApplyEmptyRoster(t *testing.T) {
	snap := aggregate.Aggregate(nil)
	enrichment := Apply(nil, snap, nil)

	assert.Empty(t, enrichment.Operators)
	assert.Equal(t, 0.0, enrichment.Concentration.BandwidthGini)
}

func TestContactDomain(t *testing.T) {
	tests := []struct {
		name    string
		contact string
		want    string
	}{
		{"bare address", "ops@example.org", "example.org"},
		{"angle brackets", "relay admin <admin@example.net>", "example.net"},
		{"uppercase", "OPS@EXAMPLE.ORG", "example.org"},
		{"trailing dot", "ops@example.org.", "example.org"},
		{"no address", "find me on irc", ""},
		{"bare at sign", "broken@", ""},
		{"no dot in domain", "user@localhost", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, contactDomain(tt.contact))
		})
	}
}
