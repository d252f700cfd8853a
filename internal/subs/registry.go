// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

// Package subs tracks live (symbol, kind) subscriptions for a streaming
// provider. The registry exclusively owns the mapping; providers hold only
// the allocated ids.
package subs

import (
	"sort"
	"sync"
	"time"
)

// Kind is the subscription flavor.
type Kind string

// Subscription kinds.
const (
	KindTrades Kind = "trades"
	KindDepth  Kind = "depth"
	KindQuotes Kind = "quotes"
)

// Subscription is one live (symbol, kind) registration.
type Subscription struct {
	ID        int64     `json:"id"`
	Symbol    string    `json:"symbol"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry allocates process-unique subscription ids and maintains the
// per-kind symbol sets. IDs grow monotonically from a per-provider base
// (e.g. 100000) so ids from different providers never collide.
//
// A symbol may be subscribed under several kinds at once, and several times
// under the same kind; the symbol leaves a kind's set only when the last
// subscription of that kind releases it.
type Registry struct {
	mu     sync.Mutex
	nextID int64
	subs   map[int64]Subscription
	// byKind holds per-kind symbol refcounts; empty kind maps are pruned.
	byKind map[Kind]map[string]int
}

// NewRegistry creates a registry allocating ids from baseID upwards.
func NewRegistry(baseID int64) *Registry {
	return &Registry{
		nextID: baseID,
		subs:   make(map[int64]Subscription),
		byKind: make(map[Kind]map[string]int),
	}
}

// Add registers (symbol, kind) and returns the new subscription.
func (r *Registry) Add(symbol string, kind Kind) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := Subscription{
		ID:        r.nextID,
		Symbol:    symbol,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
	r.nextID++
	r.subs[sub.ID] = sub

	symbols := r.byKind[kind]
	if symbols == nil {
		symbols = make(map[string]int)
		r.byKind[kind] = symbols
	}
	symbols[symbol]++

	return sub
}

// Remove releases a subscription by id. The symbol leaves its kind's set
// only when no other live subscription of that kind references it.
func (r *Registry) Remove(id int64) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return Subscription{}, false
	}
	delete(r.subs, id)

	if symbols := r.byKind[sub.Kind]; symbols != nil {
		symbols[sub.Symbol]--
		if symbols[sub.Symbol] <= 0 {
			delete(symbols, sub.Symbol)
		}
		if len(symbols) == 0 {
			delete(r.byKind, sub.Kind)
		}
	}

	return sub, true
}

// Get returns the subscription for id.
func (r *Registry) Get(id int64) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	return sub, ok
}

// SymbolsByKind returns the sorted set of symbols with at least one live
// subscription of the given kind.
func (r *Registry) SymbolsByKind(kind Kind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	symbols := r.byKind[kind]
	out := make([]string, 0, len(symbols))
	for s := range symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// AllSymbols returns the sorted union of symbols across every kind.
func (r *Registry) AllSymbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{})
	for _, symbols := range r.byKind {
		for s := range symbols {
			seen[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// All returns every live subscription, ordered by id.
func (r *Registry) All() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of live subscriptions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Clear drops every subscription, typically on provider disconnect.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[int64]Subscription)
	r.byKind = make(map[Kind]map[string]int)
}
