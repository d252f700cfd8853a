// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

// Package state provides symbol-keyed in-memory state stores shared by the
// feed components: a plain generic store and an expiring wrapper that
// evicts entries by last access.
package state

import (
	"strings"
	"sync"
)

// Store is a thread-safe generic map keyed by symbol.
//
// Keys are case-insensitive by default (folded to upper case), matching how
// equity tickers arrive from providers with inconsistent casing. Use
// NewCaseSensitive when raw keys must be preserved.
type Store[V any] struct {
	mu       sync.RWMutex
	entries  map[string]V
	foldCase bool
}

// New creates a case-insensitive store.
func New[V any]() *Store[V] {
	return &Store[V]{
		entries:  make(map[string]V),
		foldCase: true,
	}
}

// NewCaseSensitive creates a store that preserves key case.
func NewCaseSensitive[V any]() *Store[V] {
	return &Store[V]{
		entries: make(map[string]V),
	}
}

// fold normalizes a key according to the store's case policy.
func (s *Store[V]) fold(key string) string {
	if s.foldCase {
		return strings.ToUpper(key)
	}
	return key
}

// GetOrAdd returns the value for key, creating it with create when absent.
// The create function runs under the write lock; keep it cheap.
func (s *Store[V]) GetOrAdd(key string, create func() V) V {
	k := s.fold(key)

	s.mu.RLock()
	v, ok := s.entries[k]
	s.mu.RUnlock()
	if ok {
		return v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check: another writer may have won the race.
	if v, ok := s.entries[k]; ok {
		return v
	}
	v = create()
	s.entries[k] = v
	return v
}

// TryGet returns the value for key and whether it exists.
func (s *Store[V]) TryGet(key string) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[s.fold(key)]
	return v, ok
}

// Set stores a value, overwriting any existing entry.
func (s *Store[V]) Set(key string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[s.fold(key)] = value
}

// AddOrUpdate inserts via add when absent, otherwise replaces the entry
// with update(existing). Returns the stored value.
func (s *Store[V]) AddOrUpdate(key string, add func() V, update func(V) V) V {
	k := s.fold(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[k]; ok {
		v := update(existing)
		s.entries[k] = v
		return v
	}
	v := add()
	s.entries[k] = v
	return v
}

// Remove deletes the entry. Returns true if it existed.
func (s *Store[V]) Remove(key string) bool {
	k := s.fold(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[k]; !ok {
		return false
	}
	delete(s.entries, k)
	return true
}

// Contains reports whether the key exists.
func (s *Store[V]) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[s.fold(key)]
	return ok
}

// Len returns the number of entries.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot returns a copy of the current entries.
func (s *Store[V]) Snapshot() map[string]V {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]V, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// ForEach calls fn for every entry on a snapshot taken under the read lock,
// so fn may safely call back into the store.
func (s *Store[V]) ForEach(fn func(key string, value V)) {
	for k, v := range s.Snapshot() {
		fn(k, v)
	}
}

// RemoveStale deletes every entry the predicate marks stale and returns the
// number removed. The predicate runs under the write lock.
func (s *Store[V]) RemoveStale(stale func(key string, value V) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, v := range s.entries {
		if stale(k, v) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}
