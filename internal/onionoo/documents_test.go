// Relaymap - Tor Relay Network Statistics and Aggregation
// Copyright 2026 Relaymap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymap/relaymap

package onionoo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDetails(t *testing.T) {
	data := []byte(`{
		"version": "10.0",
		"relays_published": "2026-08-24 12:00:00",
		"relays": [
			{
				"nickname": "alpha",
				"fingerprint": "AAAA000011112222333344445555666677778888",
				"running": true,
				"flags": ["Fast", "Guard", "Running", "Stable"],
				"country": "de",
				"country_name": "Germany",
				"as": "AS24940",
				"as_name": "Hetzner Online GmbH",
				"platform": "Tor 0.4.8.12 on Linux",
				"contact": "ops@example.org",
				"effective_family": ["$AAAA000011112222333344445555666677778888"],
				"first_seen": "2020-01-01 00:00:00",
				"observed_bandwidth": 1048576,
				"consensus_weight": 9000,
				"consensus_weight_fraction": 0.0012,
				"guard_probability": 0.002,
				"measured": true
			}
		]
	}`)

	doc, err := ParseDetails(data)
	require.NoError(t, err)
	require.Len(t, doc.Relays, 1)

	relay := doc.Relays[0]
	assert.Equal(t, "alpha", relay.Nickname)
	assert.Equal(t, "de", relay.Country)
	assert.Equal(t, int64(1048576), relay.ObservedBandwidth)
	assert.InDelta(t, 0.0012, relay.ConsensusWeightFraction, 1e-12)
	require.NotNil(t, relay.Measured)
	assert.True(t, *relay.Measured)
}

func TestParseDetailsRejectsMalformedBody(t *testing.T) {
	_, err := ParseDetails([]byte(`{"relays": [`))
	assert.Error(t, err)
}

func TestParseDetailsRejectsEmptyRoster(t *testing.T) {
	_, err := ParseDetails([]byte(`{"version":"10.0","relays":[]}`))
	assert.Error(t, err)
}

func TestPrimaryRole(t *testing.T) {
	tests := []struct {
		name  string
		flags []string
		want  Role
	}{
		{"exit flag", []string{"Exit", "Fast"}, RoleExit},
		{"exit wins over guard", []string{"Guard", "Exit"}, RoleExit},
		{"guard flag", []string{"Guard", "Stable"}, RoleGuard},
		{"no role flags", []string{"Fast", "Running"}, RoleMiddle},
		{"no flags at all", nil, RoleMiddle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := Relay{Flags: tt.flags}
			assert.Equal(t, tt.want, relay.PrimaryRole())
		})
	}
}

func TestRoles(t *testing.T) {
	tests := []struct {
		name  string
		flags []string
		want  []Role
	}{
		{"guard and exit both count", []string{"Guard", "Exit"}, []Role{RoleGuard, RoleExit}},
		{"guard only", []string{"Guard"}, []Role{RoleGuard}},
		{"plain middle", []string{"Fast"}, []Role{RoleMiddle}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := Relay{Flags: tt.flags}
			assert.Equal(t, tt.want, relay.Roles())
		})
	}
}

func TestParseAroi(t *testing.T) {
	data := []byte(`{
		"version": "1.0",
		"validations": {
			"AAAA000011112222333344445555666677778888": {"valid": true, "proof_type": "uri-rsa"},
			"BBBB000011112222333344445555666677778888": {"valid": false, "proof_type": "dns-rsa", "error": "proof mismatch"}
		}
	}`)

	doc, err := ParseAroi(data)
	require.NoError(t, err)
	require.Len(t, doc.Validations, 2)

	assert.True(t, doc.Validations["AAAA000011112222333344445555666677778888"].Valid)
	assert.Equal(t, "proof mismatch", doc.Validations["BBBB000011112222333344445555666677778888"].Error)
}

func TestParseUptimeAcceptsOpaqueHistories(t *testing.T) {
	data := []byte(`{
		"version": "10.0",
		"relays": [
			{"fingerprint": "AAAA", "uptime": {"1_month": {"factor": 0.01, "values": [99, 98]}}}
		]
	}`)

	doc, err := ParseUptime(data)
	require.NoError(t, err)
	require.Len(t, doc.Relays, 1)
	assert.Contains(t, doc.Relays[0].Uptime, "1_month")
}
