// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

// Package market defines the canonical event model carried end-to-end:
// from provider adapters through the canonicalizing publisher and the
// event pipeline into the storage sinks.
package market

import (
	"strings"
	"time"
)

// EventType identifies the payload variant carried by a MarketEvent.
type EventType string

// Event types.
const (
	// EventTypeTrade is an executed trade print.
	EventTypeTrade EventType = "trade"
	// EventTypeQuote is a top-of-book quote update.
	EventTypeQuote EventType = "quote"
	// EventTypeL2Snapshot is an aggregated price-level book snapshot.
	EventTypeL2Snapshot EventType = "l2_snapshot"
	// EventTypeLOBSnapshot is a full order-level book snapshot.
	EventTypeLOBSnapshot EventType = "lob_snapshot"
	// EventTypeHistoricalBar is an OHLCV bar delivered by a backfill provider.
	EventTypeHistoricalBar EventType = "historical_bar"
	// EventTypeHeartbeat is a liveness signal; never enriched, never persisted as a bar.
	EventTypeHeartbeat EventType = "heartbeat"
	// EventTypeIntegrity signals gap/out-of-order/stale data observed upstream.
	EventTypeIntegrity EventType = "integrity"
	// EventTypeDepthIntegrity signals an invalid or inconsistent book position.
	EventTypeDepthIntegrity EventType = "depth_integrity"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeTrade, EventTypeQuote, EventTypeL2Snapshot, EventTypeLOBSnapshot,
		EventTypeHistoricalBar, EventTypeHeartbeat, EventTypeIntegrity, EventTypeDepthIntegrity:
		return true
	default:
		return false
	}
}

// Tier marks how far an event has progressed through canonicalization.
// Tier is monotonic: Raw -> Enriched, never back.
type Tier int

const (
	// TierRaw is an event exactly as the provider delivered it.
	TierRaw Tier = 0
	// TierEnriched is an event stamped with canonical symbol/venue.
	TierEnriched Tier = 1
)

// String returns the tier name for logs and persistence.
func (t Tier) String() string {
	if t >= TierEnriched {
		return "enriched"
	}
	return "raw"
}

// Severity grades integrity findings. The resubscribe policy only reacts
// at or above its configured minimum.
type Severity int

// Severity levels, ordered. Zero is reserved so an unset severity is
// distinguishable from SeverityInfo.
const (
	SeverityInfo Severity = iota + 1
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity maps a severity name to its level, defaulting to
// SeverityError for unknown names.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return SeverityInfo
	case "warning", "warn":
		return SeverityWarning
	case "error":
		return SeverityError
	case "critical":
		return SeverityCritical
	default:
		return SeverityError
	}
}

// MarketEvent is the common value carried end-to-end.
//
// Symbol is immutable after creation: enrichment never rewrites it, the
// canonical identity goes into CanonicalSymbol. CanonicalizationVersion is
// zero for raw events and positive exactly when Tier >= TierEnriched.
type MarketEvent struct {
	// ReceiveTime is stamped at ingress (UTC).
	ReceiveTime time.Time `json:"receive_time"`
	// EventTime is the provider's timestamp for the event.
	EventTime time.Time `json:"event_time"`
	// Source is the provider id, uppercase.
	Source string `json:"source"`
	// Type selects the payload variant.
	Type EventType `json:"type"`
	// Symbol is the raw ticker exactly as the provider delivered it.
	Symbol string `json:"symbol"`
	// Payload is the variant matching Type.
	Payload Payload `json:"-"`

	// Canonical identity, set by enrichment.
	CanonicalSymbol string `json:"canonical_symbol,omitempty"`
	// CanonicalVenue is an ISO 10383 MIC (e.g. XNYS).
	CanonicalVenue string `json:"canonical_venue,omitempty"`
	// Tier is raw or enriched.
	Tier Tier `json:"tier"`
	// CanonicalizationVersion is 0 for raw events.
	CanonicalizationVersion int `json:"canonicalization_version"`

	// SequenceNumber is producer-assigned and monotonic per producer.
	SequenceNumber uint64 `json:"sequence_number"`
}

// NewEvent creates a raw event stamped with the current receive time.
// Source is uppercased; EventTime defaults to ReceiveTime when the provider
// supplied none.
func NewEvent(source string, typ EventType, symbol string, payload Payload) *MarketEvent {
	now := time.Now().UTC()
	return &MarketEvent{
		ReceiveTime: now,
		EventTime:   now,
		Source:      strings.ToUpper(source),
		Type:        typ,
		Symbol:      symbol,
		Payload:     payload,
		Tier:        TierRaw,
	}
}

// IsEnriched reports whether the event carries canonical identity.
func (e *MarketEvent) IsEnriched() bool {
	return e.CanonicalizationVersion > 0
}

// IsHeartbeat reports whether the event is a liveness signal.
func (e *MarketEvent) IsHeartbeat() bool {
	return e.Type == EventTypeHeartbeat
}

// RawVenue extracts the provider-reported venue from the payload variant.
// Returns empty for variants that carry no venue (bars, heartbeats,
// integrity findings).
func (e *MarketEvent) RawVenue() string {
	switch p := e.Payload.(type) {
	case *TradePayload:
		return p.Venue
	case *QuotePayload:
		return p.Venue
	case *DepthPayload:
		return p.Venue
	default:
		return ""
	}
}

// WithCanonical returns a copy of the event stamped with canonical identity.
// The original is never mutated; Tier only moves forward.
func (e *MarketEvent) WithCanonical(symbol, venue string, version int) *MarketEvent {
	out := *e
	out.CanonicalSymbol = symbol
	out.CanonicalVenue = venue
	out.CanonicalizationVersion = version
	if out.Tier < TierEnriched {
		out.Tier = TierEnriched
	}
	return &out
}

// Subject returns the NATS subject for this event.
// Format: market.events.<type>
// Example: market.events.trade
func (e *MarketEvent) Subject() string {
	return "market.events." + string(e.Type)
}

// DedupID is a broker-side deduplication key, stable across redelivery.
// Format: <source>:<symbol>:<sequence>
func (e *MarketEvent) DedupID() string {
	return e.Source + ":" + e.Symbol + ":" + formatUint(e.SequenceNumber)
}

// Validate checks required fields and payload/type agreement.
func (e *MarketEvent) Validate() error {
	if e.Source == "" {
		return &ValidationError{Field: "source", Message: "required"}
	}
	if !e.Type.Valid() {
		return &ValidationError{Field: "type", Message: "unknown event type"}
	}
	if e.Symbol == "" && e.Type != EventTypeHeartbeat {
		return &ValidationError{Field: "symbol", Message: "required"}
	}
	if e.CanonicalizationVersion > 0 && e.Tier < TierEnriched {
		return &ValidationError{Field: "tier", Message: "versioned event must be enriched"}
	}
	if e.CanonicalizationVersion == 0 && e.Tier >= TierEnriched {
		return &ValidationError{Field: "canonicalization_version", Message: "enriched event must carry a version"}
	}
	if e.Payload != nil && e.Payload.EventType() != e.Type {
		return &ValidationError{Field: "payload", Message: "payload variant does not match type"}
	}
	return nil
}

// ValidationError represents a field validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// formatUint converts a uint64 to string without importing strconv.
func formatUint(n uint64) string {
	if n == 0 {
		return "0"
	}
	digits := make([]byte, 0, 20)
	for n > 0 {
		digits = append(digits, byte('0'+n%10))
		n /= 10
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}
