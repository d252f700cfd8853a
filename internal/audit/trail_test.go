// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package audit

import (
	"testing"

	"github.com/tomtom215/tickerwire/internal/market"
)

func TestMemoryTrailRingOverwritesOldest(t *testing.T) {
	trail := NewMemoryTrail(3)

	reasons := []string{"a", "b", "c", "d", "e"}
	for _, r := range reasons {
		trail.Record(droppedTrade("AAPL", 100), r)
	}

	drops := trail.RecentDrops(10)
	if len(drops) != 3 {
		t.Fatalf("RecentDrops(10) returned %d drops, want 3", len(drops))
	}
	got := []string{drops[0].Reason, drops[1].Reason, drops[2].Reason}
	want := []string{"e", "d", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("drop reasons = %v, want %v", got, want)
		}
	}
}

func TestMemoryTrailPartialFill(t *testing.T) {
	trail := NewMemoryTrail(8)
	trail.Record(droppedTrade("AAPL", 100), "first")
	trail.Record(droppedTrade("MSFT", 200), "second")

	drops := trail.RecentDrops(1)
	if len(drops) != 1 || drops[0].Reason != "second" {
		t.Fatalf("RecentDrops(1) = %+v, want the newest drop", drops)
	}
	if got := trail.RecentDrops(5); len(got) != 2 {
		t.Errorf("RecentDrops(5) returned %d drops, want 2", len(got))
	}
	if err := trail.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestMemoryTrailEmpty(t *testing.T) {
	trail := NewMemoryTrail(4)
	if got := trail.RecentDrops(3); got != nil {
		t.Errorf("RecentDrops on empty trail = %v, want nil", got)
	}
}

func TestNopTrail(t *testing.T) {
	var trail Trail = NopTrail{}
	trail.Record(market.NewEvent("polygon", market.EventTypeTrade, "AAPL", nil), "x")
	if got := trail.RecentDrops(5); got != nil {
		t.Errorf("RecentDrops() = %v, want nil", got)
	}
	if err := trail.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
