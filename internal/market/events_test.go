// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package market

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestNewEvent(t *testing.T) {
	evt := NewEvent("alpaca", EventTypeTrade, "AAPL", &TradePayload{Price: 187.5, Size: 100})

	if evt.Source != "ALPACA" {
		t.Errorf("Expected Source=ALPACA, got %s", evt.Source)
	}
	if evt.ReceiveTime.IsZero() {
		t.Error("Expected ReceiveTime to be set")
	}
	if evt.EventTime.IsZero() {
		t.Error("Expected EventTime to default to ReceiveTime")
	}
	if evt.Tier != TierRaw {
		t.Errorf("Expected TierRaw, got %v", evt.Tier)
	}
	if evt.CanonicalizationVersion != 0 {
		t.Errorf("Expected version 0, got %d", evt.CanonicalizationVersion)
	}
}

func TestMarketEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   *MarketEvent
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid raw trade",
			event: &MarketEvent{
				Source:  "ALPACA",
				Type:    EventTypeTrade,
				Symbol:  "AAPL",
				Payload: &TradePayload{Price: 1, Size: 1},
			},
			wantErr: false,
		},
		{
			name: "valid heartbeat without symbol",
			event: &MarketEvent{
				Source:  "POLYGON",
				Type:    EventTypeHeartbeat,
				Payload: &HeartbeatPayload{},
			},
			wantErr: false,
		},
		{
			name:    "missing source",
			event:   &MarketEvent{Type: EventTypeTrade, Symbol: "AAPL"},
			wantErr: true,
			errMsg:  "source: required",
		},
		{
			name:    "missing symbol",
			event:   &MarketEvent{Source: "ALPACA", Type: EventTypeTrade},
			wantErr: true,
			errMsg:  "symbol: required",
		},
		{
			name:    "unknown type",
			event:   &MarketEvent{Source: "ALPACA", Type: "bogus", Symbol: "AAPL"},
			wantErr: true,
			errMsg:  "type: unknown event type",
		},
		{
			name: "version without enriched tier",
			event: &MarketEvent{
				Source: "ALPACA", Type: EventTypeTrade, Symbol: "AAPL",
				CanonicalizationVersion: 1,
			},
			wantErr: true,
			errMsg:  "tier: versioned event must be enriched",
		},
		{
			name: "enriched tier without version",
			event: &MarketEvent{
				Source: "ALPACA", Type: EventTypeTrade, Symbol: "AAPL",
				Tier: TierEnriched,
			},
			wantErr: true,
			errMsg:  "canonicalization_version: enriched event must carry a version",
		},
		{
			name: "payload variant mismatch",
			event: &MarketEvent{
				Source: "ALPACA", Type: EventTypeTrade, Symbol: "AAPL",
				Payload: &QuotePayload{},
			},
			wantErr: true,
			errMsg:  "payload: payload variant does not match type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if err.Error() != tt.errMsg {
					t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWithCanonical(t *testing.T) {
	raw := NewEvent("alpaca", EventTypeTrade, "AAPL", &TradePayload{Price: 187.5, Size: 100, Venue: "V"})
	raw.SequenceNumber = 7

	enriched := raw.WithCanonical("AAPL", "XNAS", 1)

	if raw.CanonicalSymbol != "" || raw.Tier != TierRaw || raw.CanonicalizationVersion != 0 {
		t.Error("original event must not be mutated")
	}
	if enriched.CanonicalSymbol != "AAPL" || enriched.CanonicalVenue != "XNAS" {
		t.Errorf("canonical identity not stamped: %+v", enriched)
	}
	if enriched.Tier != TierEnriched {
		t.Errorf("expected TierEnriched, got %v", enriched.Tier)
	}
	if enriched.CanonicalizationVersion != 1 {
		t.Errorf("expected version 1, got %d", enriched.CanonicalizationVersion)
	}
	if enriched.Symbol != "AAPL" || enriched.SequenceNumber != 7 {
		t.Error("raw fields must carry over unchanged")
	}
}

func TestTierMonotonic(t *testing.T) {
	evt := NewEvent("x", EventTypeTrade, "AAPL", nil)
	first := evt.WithCanonical("AAPL", "XNYS", 1)
	second := first.WithCanonical("AAPL", "XNAS", 2)

	if second.Tier != TierEnriched {
		t.Errorf("tier must stay enriched, got %v", second.Tier)
	}
}

func TestRawVenue(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		want    string
	}{
		{"trade", &TradePayload{Venue: "Q"}, "Q"},
		{"quote", &QuotePayload{Venue: "N"}, "N"},
		{"depth", &DepthPayload{Venue: "P"}, "P"},
		{"bar", &BarPayload{}, ""},
		{"heartbeat", &HeartbeatPayload{}, ""},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := &MarketEvent{Payload: tt.payload}
			if got := evt.RawVenue(); got != tt.want {
				t.Errorf("RawVenue() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSubjectAndDedupID(t *testing.T) {
	evt := NewEvent("alpaca", EventTypeQuote, "MSFT", &QuotePayload{})
	evt.SequenceNumber = 42

	if got := evt.Subject(); got != "market.events.quote" {
		t.Errorf("Subject() = %q", got)
	}
	if got := evt.DedupID(); got != "ALPACA:MSFT:42" {
		t.Errorf("DedupID() = %q", got)
	}
}

func TestEventJSONRoundTrip(t *testing.T) {
	barTime := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		evt  *MarketEvent
	}{
		{
			name: "trade",
			evt: &MarketEvent{
				ReceiveTime: time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
				EventTime:   time.Date(2026, 3, 2, 14, 29, 59, 0, time.UTC),
				Source:      "ALPACA",
				Type:        EventTypeTrade,
				Symbol:      "AAPL",
				Payload:     &TradePayload{Price: 187.52, Size: 200, Venue: "V", Conditions: []string{"@", "T"}},
			},
		},
		{
			name: "historical bar",
			evt: &MarketEvent{
				Source:  "YAHOO",
				Type:    EventTypeHistoricalBar,
				Symbol:  "MSFT",
				Payload: &BarPayload{Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1000, Interval: "1d", BarTime: barTime},
			},
		},
		{
			name: "lob snapshot keeps kind",
			evt: &MarketEvent{
				Source: "POLYGON",
				Type:   EventTypeLOBSnapshot,
				Symbol: "TSLA",
				Payload: &DepthPayload{
					Bids: []PriceLevel{{Price: 100, Size: 5}},
					Asks: []PriceLevel{{Price: 101, Size: 3}},
					Kind: EventTypeLOBSnapshot,
				},
			},
		},
		{
			name: "depth integrity",
			evt: &MarketEvent{
				Source:  "POLYGON",
				Type:    EventTypeDepthIntegrity,
				Symbol:  "TSLA",
				Payload: &IntegrityPayload{Severity: SeverityError, Kind: IntegrityKindInvalidPosition, Depth: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.evt)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}

			var got MarketEvent
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}

			if got.Type != tt.evt.Type || got.Symbol != tt.evt.Symbol || got.Source != tt.evt.Source {
				t.Errorf("scalar fields differ: got %+v", got)
			}
			if got.Payload == nil {
				t.Fatal("payload lost in round trip")
			}
			if got.Payload.EventType() != tt.evt.Type {
				t.Errorf("payload variant %v does not match type %v", got.Payload.EventType(), tt.evt.Type)
			}
		})
	}
}

func TestSeverityString(t *testing.T) {
	tests := []struct {
		sev  Severity
		want string
	}{
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.sev.String(); got != tt.want {
			t.Errorf("Severity(%d).String() = %q, want %q", tt.sev, got, tt.want)
		}
	}
}
