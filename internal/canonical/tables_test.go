// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package canonical

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func writeTable(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "table.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write table file: %v", err)
	}
	return path
}

func TestLoadTable(t *testing.T) {
	path := writeTable(t, `{
		"version": 3,
		"mappings": {
			"alpaca": {"AAPL": "AAPL", "BRK.B": "BRK-B"},
			"*": {"MSFT": "MSFT"}
		}
	}`)

	tbl, err := LoadTable(path, "symbols", zerolog.Nop())
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}
	if tbl.Version() != 3 {
		t.Errorf("Version() = %d, want 3", tbl.Version())
	}
	if tbl.Len() != 3 {
		t.Errorf("Len() = %d, want 3", tbl.Len())
	}

	// Provider keys are folded to uppercase at load.
	if v, ok := tbl.Lookup("ALPACA", "BRK.B"); !ok || v != "BRK-B" {
		t.Errorf("Lookup(ALPACA, BRK.B) = %q, %v; want BRK-B, true", v, ok)
	}
}

func TestLoadTableMissingFile(t *testing.T) {
	tbl, err := LoadTable(filepath.Join(t.TempDir(), "nope.json"), "venues", zerolog.Nop())
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}
	if tbl.Len() != 0 {
		t.Errorf("Len() = %d, want 0 for missing file", tbl.Len())
	}
}

func TestLoadTableMalformed(t *testing.T) {
	path := writeTable(t, `{"version": `)
	if _, err := LoadTable(path, "symbols", zerolog.Nop()); err == nil {
		t.Error("expected parse error for malformed table")
	}
}

func TestLookupUppercaseRetry(t *testing.T) {
	path := writeTable(t, `{"version": 1, "mappings": {"IBKR": {"AAPL": "AAPL"}}}`)
	tbl, err := LoadTable(path, "symbols", zerolog.Nop())
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}

	// Exact raw misses, uppercase form hits.
	if v, ok := tbl.Lookup("ibkr", "aapl"); !ok || v != "AAPL" {
		t.Errorf("Lookup(ibkr, aapl) = %q, %v; want AAPL, true", v, ok)
	}
	if _, ok := tbl.Lookup("ibkr", "tsla"); ok {
		t.Error("Lookup(ibkr, tsla) hit, want miss")
	}
	if _, ok := tbl.Lookup("ibkr", ""); ok {
		t.Error("Lookup with empty raw hit, want miss")
	}
}

func TestLookupGenericFallback(t *testing.T) {
	path := writeTable(t, `{
		"version": 1,
		"mappings": {
			"ALPACA": {"Q": "XNAS"},
			"*": {"Q": "GENERIC", "N": "XNYS"}
		}
	}`)
	tbl, err := LoadTable(path, "venues", zerolog.Nop())
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}

	// Provider-specific mapping wins over the generic one.
	if v, _ := tbl.LookupGeneric("alpaca", "Q"); v != "XNAS" {
		t.Errorf("LookupGeneric(alpaca, Q) = %q, want XNAS", v)
	}
	// Unknown provider falls through to generic.
	if v, _ := tbl.LookupGeneric("polygon", "N"); v != "XNYS" {
		t.Errorf("LookupGeneric(polygon, N) = %q, want XNYS", v)
	}
	if _, ok := tbl.LookupGeneric("polygon", "Z"); ok {
		t.Error("LookupGeneric(polygon, Z) hit, want miss")
	}
}

func TestNullMappingTreatedAsAbsent(t *testing.T) {
	path := writeTable(t, `{"version": 1, "mappings": {"*": {"GONE": null, "HERE": "X"}}}`)
	tbl, err := LoadTable(path, "symbols", zerolog.Nop())
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}
	if _, ok := tbl.Lookup("*", "GONE"); ok {
		t.Error("null mapping resolved, want miss")
	}
	if v, ok := tbl.Lookup("*", "HERE"); !ok || v != "X" {
		t.Errorf("Lookup(*, HERE) = %q, %v; want X, true", v, ok)
	}
}

func TestEmptyPathYieldsEmptyTable(t *testing.T) {
	tbl, err := LoadTable("", "conditions", zerolog.Nop())
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}
	if tbl.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tbl.Len())
	}
}
