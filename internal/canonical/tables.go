// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

// Package canonical maps provider-specific symbols, venues, and condition
// codes onto canonical identifiers (ISO 10383 MICs for venues). Tables are
// frozen at load time and read without synchronization.
package canonical

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// GenericProvider is the reserved mappings key consulted when a
// provider-specific lookup misses.
const GenericProvider = "*"

// UnknownCondition is returned for condition codes with no mapping.
const UnknownCondition = "Unknown"

type tableFile struct {
	Version  int                          `json:"version"`
	Mappings map[string]map[string]string `json:"mappings"`
}

// Table is an immutable two-level mapping: provider (uppercase) to raw key
// to canonical value. A null JSON value loads as the empty string and is
// treated as absent.
type Table struct {
	name    string
	version int
	m       map[string]map[string]string
}

// EmptyTable returns a table with no mappings.
func EmptyTable(name string) *Table {
	return &Table{name: name, m: map[string]map[string]string{}}
}

// LoadTable reads a mapping table from a JSON file of the form
// {"version": 3, "mappings": {"PROVIDER": {"RAW": "CANONICAL"}}}.
// A missing file yields an empty table and a warning, not an error.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func LoadTable(path, name string, logger zerolog.Logger) (*Table, error) {
	if path == "" {
		return EmptyTable(name), nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn().Str("table", name).Str("path", path).Msg("mapping table file missing, using empty table")
			return EmptyTable(name), nil
		}
		return nil, fmt.Errorf("read %s table: %w", name, err)
	}

	var f tableFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s table: %w", name, err)
	}

	m := make(map[string]map[string]string, len(f.Mappings))
	entries := 0
	for provider, raw := range f.Mappings {
		inner := make(map[string]string, len(raw))
		for k, v := range raw {
			inner[k] = v
		}
		m[strings.ToUpper(provider)] = inner
		entries += len(raw)
	}

	logger.Info().
		Str("table", name).
		Int("version", f.Version).
		Int("providers", len(m)).
		Int("entries", entries).
		Msg("mapping table loaded")
	return &Table{name: name, version: f.Version, m: m}, nil
}

// Name returns the table's name used in logs.
func (t *Table) Name() string { return t.name }

// Version returns the version field from the table file, 0 when empty.
func (t *Table) Version() int { return t.version }

// Len returns the total number of mappings across providers.
func (t *Table) Len() int {
	n := 0
	for _, inner := range t.m {
		n += len(inner)
	}
	return n
}

// Lookup resolves raw under the given provider. If the exact raw key
// misses and its uppercase form differs, the uppercase form is retried.
func (t *Table) Lookup(provider, raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	inner, ok := t.m[strings.ToUpper(provider)]
	if !ok {
		return "", false
	}
	if v, ok := inner[raw]; ok && v != "" {
		return v, true
	}
	if upper := strings.ToUpper(raw); upper != raw {
		if v, ok := inner[upper]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// LookupGeneric resolves raw under the provider first, then under the
// generic "*" mappings.
func (t *Table) LookupGeneric(provider, raw string) (string, bool) {
	if v, ok := t.Lookup(provider, raw); ok {
		return v, true
	}
	return t.Lookup(GenericProvider, raw)
}
