// Relaymap - Tor Relay Network Statistics and Aggregation
// Copyright 2026 Relaymap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymap/relaymap

// Package aggregate builds the grouped statistical summaries of a relay
// roster. One pass over the relay list feeds every dimension's accumulators
// and the network-wide role totals; a finalize step derives fractions and
// freezes the result into an immutable Snapshot.
package aggregate

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/relaymap/relaymap/internal/onionoo"
)

// behavior selects the extra bookkeeping a dimension performs beyond the
// running sums every accumulator keeps.
type behavior int

const (
	// behaviorBasic keeps only the common sums and counts.
	behaviorBasic behavior = iota
	// behaviorDiversity additionally tracks the distinct autonomous
	// systems contributing to each group.
	behaviorDiversity
	// behaviorCountryBreakdown tracks distinct autonomous systems plus a
	// per-country relay count within each group.
	behaviorCountryBreakdown
)

// dimensionSpec declares one grouping axis: its name, its bookkeeping
// behavior, and the key extractor. A relay may map to zero, one, or many
// keys within a dimension.
type dimensionSpec struct {
	name     string
	behavior behavior
	keys     func(*onionoo.Relay) []string
}

// safeKeyPattern is the only shape a dimension key may take. Keys are used
// as identifiers on the output surface, so anything else is rejected and
// the relay skipped for that dimension only.
var safeKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func safeKey(key string) bool {
	return safeKeyPattern.MatchString(key)
}

// defaultDimensions is the fixed grouping axis set, declared once.
func defaultDimensions() []dimensionSpec {
	return []dimensionSpec{
		{name: "as", behavior: behaviorCountryBreakdown, keys: asKey},
		{name: "country", behavior: behaviorBasic, keys: countryKey},
		{name: "platform", behavior: behaviorBasic, keys: platformKey},
		{name: "flag", behavior: behaviorBasic, keys: flagKeys},
		{name: "family", behavior: behaviorDiversity, keys: familyKeys},
		{name: "contact", behavior: behaviorDiversity, keys: contactKey},
	}
}

func asKey(r *onionoo.Relay) []string {
	if r.AS == "" {
		return nil
	}
	return []string{r.AS}
}

func countryKey(r *onionoo.Relay) []string {
	if r.Country == "" {
		return nil
	}
	return []string{strings.ToLower(r.Country)}
}

// platformKey reduces the free-form platform string to its operating
// system name: "Tor 0.4.8.12 on Linux" groups under "Linux".
func platformKey(r *onionoo.Relay) []string {
	if r.Platform == "" {
		return nil
	}
	platform := r.Platform
	if _, os, found := strings.Cut(platform, " on "); found {
		platform = os
	}
	// "Darwin 23.4" and friends keep only the leading word.
	platform, _, _ = strings.Cut(strings.TrimSpace(platform), " ")
	if platform == "" {
		return nil
	}
	return []string{platform}
}

// flagKeys is many-valued: a relay contributes to one group per consensus
// flag it carries.
func flagKeys(r *onionoo.Relay) []string {
	return r.Flags
}

// familyKeys is many-valued: a relay contributes to the group of every
// effective family member, keyed by fingerprint with the "$" prefix
// stripped. A relay with no declared family has no family groups.
func familyKeys(r *onionoo.Relay) []string {
	if len(r.EffectiveFamily) == 0 {
		return nil
	}
	keys := make([]string, 0, len(r.EffectiveFamily))
	for _, member := range r.EffectiveFamily {
		keys = append(keys, strings.TrimPrefix(member, "$"))
	}
	return keys
}

// contactKey hashes the free-form contact string so arbitrary operator
// text becomes a safe, stable group key. Relays without contact info form
// no operator group.
func contactKey(r *onionoo.Relay) []string {
	if strings.TrimSpace(r.Contact) == "" {
		return nil
	}
	return []string{ContactHash(r.Contact)}
}

// ContactHash is the canonical operator-group key for a contact string.
// Exposed so enrichment can join operator profiles back to groups.
func ContactHash(contact string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(contact)))
	return hex.EncodeToString(sum[:])
}
