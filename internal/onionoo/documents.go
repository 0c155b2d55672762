// Relaymap - Tor Relay Network Statistics and Aggregation
// Copyright 2026 Relaymap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymap/relaymap

// Package onionoo models the documents served by the Onionoo protocol and
// the AROI operator validation feed. The ingestion layer treats these
// documents as opaque bytes; this package is where their shape is known.
package onionoo

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Role is a relay's primary network role. Roles are mutually exclusive:
// exit wins over guard, guard wins over middle.
type Role string

const (
	RoleGuard  Role = "guard"
	RoleMiddle Role = "middle"
	RoleExit   Role = "exit"
)

// Relay is one relay record from the details document. Fields the
// aggregation passes do not read are omitted rather than carried along.
type Relay struct {
	Nickname                string   `json:"nickname"`
	Fingerprint             string   `json:"fingerprint"`
	Running                 bool     `json:"running"`
	Flags                   []string `json:"flags"`
	Country                 string   `json:"country"`
	CountryName             string   `json:"country_name"`
	AS                      string   `json:"as"`
	ASName                  string   `json:"as_name"`
	Platform                string   `json:"platform"`
	Contact                 string   `json:"contact"`
	EffectiveFamily         []string `json:"effective_family"`
	FirstSeen               string   `json:"first_seen"`
	LastSeen                string   `json:"last_seen"`
	ObservedBandwidth       int64    `json:"observed_bandwidth"`
	ConsensusWeight         int64    `json:"consensus_weight"`
	ConsensusWeightFraction float64  `json:"consensus_weight_fraction"`
	GuardProbability        float64  `json:"guard_probability"`
	MiddleProbability       float64  `json:"middle_probability"`
	ExitProbability         float64  `json:"exit_probability"`
	Measured                *bool    `json:"measured,omitempty"`

	// SupportClass is derived during enrichment, never present upstream.
	SupportClass string `json:"support_class,omitempty"`
}

// HasFlag reports whether the relay carries the named consensus flag.
func (r *Relay) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// PrimaryRole maps the relay's consensus flags to its single primary role.
// Exit takes precedence over Guard; a relay with neither flag is a middle.
func (r *Relay) PrimaryRole() Role {
	switch {
	case r.HasFlag("Exit"):
		return RoleExit
	case r.HasFlag("Guard"):
		return RoleGuard
	default:
		return RoleMiddle
	}
}

// Roles returns every role the relay can serve simultaneously. Unlike
// PrimaryRole, a relay flagged both Guard and Exit appears under both. A
// relay with neither flag serves as middle only.
func (r *Relay) Roles() []Role {
	var roles []Role
	if r.HasFlag("Guard") {
		roles = append(roles, RoleGuard)
	}
	if r.HasFlag("Exit") {
		roles = append(roles, RoleExit)
	}
	if len(roles) == 0 {
		roles = append(roles, RoleMiddle)
	}
	return roles
}

// DetailsDocument is the primary source: the full relay roster.
type DetailsDocument struct {
	Version          string  `json:"version"`
	RelaysPublished  string  `json:"relays_published"`
	BridgesPublished string  `json:"bridges_published"`
	Relays           []Relay `json:"relays"`
}

// UptimeHistory is one relay's uptime entry from the uptime document. The
// history payload is kept opaque; only identity and flag periods matter here.
type UptimeHistory struct {
	Fingerprint string                     `json:"fingerprint"`
	Uptime      map[string]json.RawMessage `json:"uptime"`
	Flags       map[string]json.RawMessage `json:"flags"`
}

// UptimeDocument is the per-relay uptime history source.
type UptimeDocument struct {
	Version         string          `json:"version"`
	RelaysPublished string          `json:"relays_published"`
	Relays          []UptimeHistory `json:"relays"`
}

// BandwidthHistory is one relay's bandwidth entry from the bandwidth
// document, payload kept opaque like UptimeHistory.
type BandwidthHistory struct {
	Fingerprint  string                     `json:"fingerprint"`
	WriteHistory map[string]json.RawMessage `json:"write_history"`
	ReadHistory  map[string]json.RawMessage `json:"read_history"`
}

// BandwidthDocument is the per-relay bandwidth history source.
type BandwidthDocument struct {
	Version         string             `json:"version"`
	RelaysPublished string             `json:"relays_published"`
	Relays          []BandwidthHistory `json:"relays"`
}

// AroiValidation is one relay's proof-validation verdict. The verdict is
// consumed as an opaque boolean plus error string; proof semantics stay
// upstream.
type AroiValidation struct {
	Valid     bool   `json:"valid"`
	ProofType string `json:"proof_type"`
	Error     string `json:"error,omitempty"`
}

// AroiDocument maps relay fingerprints to their validation verdicts.
type AroiDocument struct {
	Version     string                    `json:"version"`
	Validations map[string]AroiValidation `json:"validations"`
}

// ParseDetails decodes a details document and rejects an empty roster,
// which would silently zero every downstream statistic.
func ParseDetails(data []byte) (*DetailsDocument, error) {
	var doc DetailsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse details document: %w", err)
	}
	if len(doc.Relays) == 0 {
		return nil, fmt.Errorf("details document contains no relays")
	}
	return &doc, nil
}

// ParseUptime decodes an uptime document.
func ParseUptime(data []byte) (*UptimeDocument, error) {
	var doc UptimeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse uptime document: %w", err)
	}
	return &doc, nil
}

// ParseBandwidth decodes a bandwidth document.
func ParseBandwidth(data []byte) (*BandwidthDocument, error) {
	var doc BandwidthDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse bandwidth document: %w", err)
	}
	return &doc, nil
}

// ParseAroi decodes an AROI validation document.
func ParseAroi(data []byte) (*AroiDocument, error) {
	var doc AroiDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse aroi document: %w", err)
	}
	return &doc, nil
}
