// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

// Package audit keeps a short-lived trail of events dropped by the
// pipeline, so operators can answer "what did we lose and why" after a
// burst. Entries expire by TTL; this is an inspection window, not an
// archive.
package audit

import (
	"sync"
	"time"

	"github.com/tomtom215/tickerwire/internal/market"
)

// Drop is one recorded pipeline drop.
type Drop struct {
	Time   time.Time           `json:"time"`
	Reason string              `json:"reason"`
	Event  *market.MarketEvent `json:"event"`
}

// Trail records drops and serves them back newest-first. Record must never
// block the publish path.
type Trail interface {
	Record(evt *market.MarketEvent, reason string)
	RecentDrops(n int) []Drop
	Close() error
}

// MemoryTrail is a fixed-size ring of drops kept in memory. Suitable for
// tests and metrics-only deployments where persistence is not wanted.
type MemoryTrail struct {
	mu    sync.Mutex
	drops []Drop
	next  int
	full  bool
}

// NewMemoryTrail returns a ring holding the most recent capacity drops.
func NewMemoryTrail(capacity int) *MemoryTrail {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryTrail{drops: make([]Drop, capacity)}
}

// Record stores the drop, overwriting the oldest entry when full.
func (m *MemoryTrail) Record(evt *market.MarketEvent, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drops[m.next] = Drop{Time: time.Now().UTC(), Reason: reason, Event: evt}
	m.next++
	if m.next == len(m.drops) {
		m.next = 0
		m.full = true
	}
}

// RecentDrops returns up to n drops, newest first.
func (m *MemoryTrail) RecentDrops(n int) []Drop {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.next
	if m.full {
		size = len(m.drops)
	}
	if n > size {
		n = size
	}
	if n <= 0 {
		return nil
	}

	out := make([]Drop, 0, n)
	idx := m.next - 1
	for len(out) < n {
		if idx < 0 {
			idx = len(m.drops) - 1
		}
		out = append(out, m.drops[idx])
		idx--
	}
	return out
}

// Close implements Trail.
func (m *MemoryTrail) Close() error { return nil }

// NopTrail discards everything.
type NopTrail struct{}

// Record implements Trail.
func (NopTrail) Record(*market.MarketEvent, string) {}

// RecentDrops implements Trail.
func (NopTrail) RecentDrops(int) []Drop { return nil }

// Close implements Trail.
func (NopTrail) Close() error { return nil }
