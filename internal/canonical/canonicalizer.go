// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package canonical

import (
	"strings"

	"github.com/tomtom215/tickerwire/internal/market"
)

// Resolution reports how an event's identity was resolved.
type Resolution struct {
	// SymbolMapped is false when no table entry matched and the uppercased
	// raw symbol was carried through as the canonical identity.
	SymbolMapped bool
	// VenueMapped is false when the payload carried a venue with no MIC
	// mapping. Events without a venue leave it true.
	VenueMapped bool
}

// Canonicalizer stamps events with canonical identity using frozen lookup
// tables. It holds no mutable state and is safe for concurrent use.
type Canonicalizer struct {
	symbols    *Table
	venues     *Table
	conditions *Table
	version    int
}

// NewCanonicalizer builds a canonicalizer over the given tables. Nil tables
// are replaced with empty ones; version is clamped to at least 1 so that
// enriched events are always distinguishable from raw ones.
func NewCanonicalizer(symbols, venues, conditions *Table, version int) *Canonicalizer {
	if symbols == nil {
		symbols = EmptyTable("symbols")
	}
	if venues == nil {
		venues = EmptyTable("venues")
	}
	if conditions == nil {
		conditions = EmptyTable("conditions")
	}
	if version < 1 {
		version = 1
	}
	return &Canonicalizer{
		symbols:    symbols,
		venues:     venues,
		conditions: conditions,
		version:    version,
	}
}

// Version returns the canonicalization version stamped onto events.
func (c *Canonicalizer) Version() int { return c.version }

// Canonicalize returns evt enriched with canonical symbol and venue.
// Heartbeats and already-enriched events are returned unchanged, which
// makes the operation idempotent. The input event is never mutated.
//
// Symbol resolution tries the provider-specific mapping first, then the
// generic one; an unmapped symbol falls back to its uppercase raw form.
// Venue resolution is provider-specific only and an unmapped venue leaves
// CanonicalVenue empty.
func (c *Canonicalizer) Canonicalize(evt *market.MarketEvent) (*market.MarketEvent, Resolution) {
	res := Resolution{SymbolMapped: true, VenueMapped: true}
	if evt.IsHeartbeat() || evt.IsEnriched() {
		return evt, res
	}

	symbol, ok := c.symbols.LookupGeneric(evt.Source, evt.Symbol)
	if !ok {
		symbol = strings.ToUpper(evt.Symbol)
		res.SymbolMapped = false
	}

	venue := ""
	if raw := evt.RawVenue(); raw != "" {
		mic, ok := c.venues.Lookup(evt.Source, raw)
		if !ok {
			res.VenueMapped = false
		}
		venue = mic
	}

	return evt.WithCanonical(symbol, venue, c.version), res
}

// Condition resolves a provider trade-condition code to its canonical
// name, returning UnknownCondition when no mapping exists.
func (c *Canonicalizer) Condition(provider, raw string) string {
	if v, ok := c.conditions.LookupGeneric(provider, raw); ok {
		return v
	}
	return UnknownCondition
}
