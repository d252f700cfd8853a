// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package market

import (
	"time"

	"github.com/goccy/go-json"
)

// Payload is the tagged variant carried by a MarketEvent. Concrete types
// report the EventType they belong to so Validate can check agreement.
type Payload interface {
	EventType() EventType
}

// TradePayload is an executed trade print.
type TradePayload struct {
	Price      float64  `json:"price"`
	Size       float64  `json:"size"`
	Venue      string   `json:"venue,omitempty"`
	Conditions []string `json:"conditions,omitempty"`
}

// EventType implements Payload.
func (*TradePayload) EventType() EventType { return EventTypeTrade }

// QuotePayload is a top-of-book quote update.
type QuotePayload struct {
	BidPrice float64 `json:"bid_price"`
	BidSize  float64 `json:"bid_size"`
	AskPrice float64 `json:"ask_price"`
	AskSize  float64 `json:"ask_size"`
	Venue    string  `json:"venue,omitempty"`
}

// EventType implements Payload.
func (*QuotePayload) EventType() EventType { return EventTypeQuote }

// PriceLevel is one side entry of a book snapshot.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// DepthPayload is a book snapshot. The same shape serves aggregated (L2)
// and order-level (LOB) snapshots; Kind distinguishes them on the wire.
type DepthPayload struct {
	Bids  []PriceLevel `json:"bids"`
	Asks  []PriceLevel `json:"asks"`
	Venue string       `json:"venue,omitempty"`
	// Kind is the snapshot flavor; defaults to l2_snapshot.
	Kind EventType `json:"kind,omitempty"`
}

// EventType implements Payload.
func (p *DepthPayload) EventType() EventType {
	if p.Kind == EventTypeLOBSnapshot {
		return EventTypeLOBSnapshot
	}
	return EventTypeL2Snapshot
}

// BarPayload is an aggregated OHLCV record for a symbol over a time bucket.
type BarPayload struct {
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	Interval string    `json:"interval"` // e.g. "1d", "5m"
	BarTime  time.Time `json:"bar_time"`
}

// EventType implements Payload.
func (*BarPayload) EventType() EventType { return EventTypeHistoricalBar }

// HeartbeatPayload is a liveness signal with no data.
type HeartbeatPayload struct{}

// EventType implements Payload.
func (*HeartbeatPayload) EventType() EventType { return EventTypeHeartbeat }

// Integrity finding kinds.
const (
	IntegrityKindGap             = "gap"
	IntegrityKindOutOfOrder      = "out_of_order"
	IntegrityKindStale           = "stale"
	IntegrityKindInvalidPosition = "invalid_position"
)

// IntegrityPayload reports a data-quality finding observed upstream.
type IntegrityPayload struct {
	Severity Severity `json:"severity"`
	Kind     string   `json:"kind"`
	Detail   string   `json:"detail,omitempty"`
	// Depth marks findings raised by book validation rather than the tape.
	Depth bool `json:"depth,omitempty"`
}

// EventType implements Payload.
func (p *IntegrityPayload) EventType() EventType {
	if p.Depth {
		return EventTypeDepthIntegrity
	}
	return EventTypeIntegrity
}

// eventEnvelope is the wire form of a MarketEvent: scalar fields inline,
// payload as a raw message decoded by Type.
type eventEnvelope struct {
	ReceiveTime             time.Time       `json:"receive_time"`
	EventTime               time.Time       `json:"event_time"`
	Source                  string          `json:"source"`
	Type                    EventType       `json:"type"`
	Symbol                  string          `json:"symbol"`
	Payload                 json.RawMessage `json:"payload,omitempty"`
	CanonicalSymbol         string          `json:"canonical_symbol,omitempty"`
	CanonicalVenue          string          `json:"canonical_venue,omitempty"`
	Tier                    Tier            `json:"tier"`
	CanonicalizationVersion int             `json:"canonicalization_version"`
	SequenceNumber          uint64          `json:"sequence_number"`
}

// MarshalJSON encodes the event with the payload inline under "payload".
func (e *MarketEvent) MarshalJSON() ([]byte, error) {
	env := eventEnvelope{
		ReceiveTime:             e.ReceiveTime,
		EventTime:               e.EventTime,
		Source:                  e.Source,
		Type:                    e.Type,
		Symbol:                  e.Symbol,
		CanonicalSymbol:         e.CanonicalSymbol,
		CanonicalVenue:          e.CanonicalVenue,
		Tier:                    e.Tier,
		CanonicalizationVersion: e.CanonicalizationVersion,
		SequenceNumber:          e.SequenceNumber,
	}
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes the envelope and selects the payload variant by Type.
func (e *MarketEvent) UnmarshalJSON(data []byte) error {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	e.ReceiveTime = env.ReceiveTime
	e.EventTime = env.EventTime
	e.Source = env.Source
	e.Type = env.Type
	e.Symbol = env.Symbol
	e.CanonicalSymbol = env.CanonicalSymbol
	e.CanonicalVenue = env.CanonicalVenue
	e.Tier = env.Tier
	e.CanonicalizationVersion = env.CanonicalizationVersion
	e.SequenceNumber = env.SequenceNumber
	e.Payload = nil

	if len(env.Payload) == 0 {
		return nil
	}

	payload, err := decodePayload(env.Type, env.Payload)
	if err != nil {
		return err
	}
	e.Payload = payload
	return nil
}

// decodePayload builds the concrete variant for the given type.
func decodePayload(typ EventType, raw json.RawMessage) (Payload, error) {
	switch typ {
	case EventTypeTrade:
		var p TradePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case EventTypeQuote:
		var p QuotePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case EventTypeL2Snapshot, EventTypeLOBSnapshot:
		var p DepthPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		if typ == EventTypeLOBSnapshot {
			p.Kind = EventTypeLOBSnapshot
		}
		return &p, nil
	case EventTypeHistoricalBar:
		var p BarPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case EventTypeHeartbeat:
		return &HeartbeatPayload{}, nil
	case EventTypeIntegrity, EventTypeDepthIntegrity:
		var p IntegrityPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		if typ == EventTypeDepthIntegrity {
			p.Depth = true
		}
		return &p, nil
	default:
		return nil, &ValidationError{Field: "type", Message: "unknown event type"}
	}
}
