// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package state

import (
	"context"
	"time"

	"github.com/tomtom215/tickerwire/internal/clock"
)

// expiringEntry wraps a value with access bookkeeping.
type expiringEntry[V any] struct {
	value        V
	createdAt    time.Time
	lastAccessed time.Time
}

// Expiring is a Store wrapper that evicts entries idle longer than the
// configured expiration. Reads refresh the access time; a stale entry found
// on read is evicted and reported as missing. RunJanitor can additionally
// sweep in the background.
type Expiring[V any] struct {
	store      *Store[*expiringEntry[V]]
	expiration time.Duration
	clk        clock.Clock
}

// NewExpiring creates a case-insensitive expiring store. A nil clk uses the
// system clock.
func NewExpiring[V any](expiration time.Duration, clk clock.Clock) *Expiring[V] {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Expiring[V]{
		store:      New[*expiringEntry[V]](),
		expiration: expiration,
		clk:        clk,
	}
}

// Get returns the value for key, refreshing its access time. Entries idle
// longer than the expiration are evicted and reported missing.
func (e *Expiring[V]) Get(key string) (V, bool) {
	var zero V

	ent, ok := e.store.TryGet(key)
	if !ok {
		return zero, false
	}

	now := e.clk.Now()
	if now.Sub(ent.lastAccessed) > e.expiration {
		e.store.Remove(key)
		return zero, false
	}

	ent.lastAccessed = now
	return ent.value, true
}

// Set stores a value with fresh access bookkeeping.
func (e *Expiring[V]) Set(key string, value V) {
	now := e.clk.Now()
	e.store.Set(key, &expiringEntry[V]{
		value:        value,
		createdAt:    now,
		lastAccessed: now,
	})
}

// GetOrAdd returns the live value for key, creating it when absent or
// expired.
func (e *Expiring[V]) GetOrAdd(key string, create func() V) V {
	if v, ok := e.Get(key); ok {
		return v
	}
	v := create()
	e.Set(key, v)
	return v
}

// Remove deletes the entry. Returns true if it existed.
func (e *Expiring[V]) Remove(key string) bool {
	return e.store.Remove(key)
}

// Contains reports whether a live entry exists, without refreshing it.
func (e *Expiring[V]) Contains(key string) bool {
	ent, ok := e.store.TryGet(key)
	if !ok {
		return false
	}
	return e.clk.Now().Sub(ent.lastAccessed) <= e.expiration
}

// Len returns the number of entries, including any not yet swept.
func (e *Expiring[V]) Len() int {
	return e.store.Len()
}

// RemoveExpired sweeps entries idle longer than the expiration and returns
// the number evicted.
func (e *Expiring[V]) RemoveExpired() int {
	now := e.clk.Now()
	return e.store.RemoveStale(func(_ string, ent *expiringEntry[V]) bool {
		return now.Sub(ent.lastAccessed) > e.expiration
	})
}

// RunJanitor sweeps expired entries every interval until ctx is cancelled.
// Run it in its own goroutine.
func (e *Expiring[V]) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RemoveExpired()
		}
	}
}
