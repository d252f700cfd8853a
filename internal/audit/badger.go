// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package audit

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/tickerwire/internal/market"
	"github.com/tomtom215/tickerwire/internal/metrics"
)

const (
	dropKeyPrefix = "drop:"

	defaultTTL       = 72 * time.Hour
	defaultQueueSize = 1024

	gcDiscardRatio = 0.5
)

// Config tunes the persistent trail.
type Config struct {
	// Path is the BadgerDB directory, typically <dataRoot>/audit.
	Path string
	// TTL is how long entries survive before expiry. Defaults to 72h.
	TTL time.Duration
	// QueueSize bounds the async write queue. Defaults to 1024.
	QueueSize int
	// InMemory runs BadgerDB without files. For tests.
	InMemory bool
	// EnableMetrics toggles Prometheus counters.
	EnableMetrics bool
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = defaultTTL
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	return c
}

// Stats is a snapshot of trail counters.
type Stats struct {
	Enqueued uint64 `json:"enqueued"`
	Written  uint64 `json:"written"`
	Failed   uint64 `json:"failed"`
	Lost     uint64 `json:"lost"`
}

type record struct {
	at     time.Time
	reason string
	evt    *market.MarketEvent
}

// storedDrop is the persisted value; the timestamp lives in the key.
type storedDrop struct {
	Reason string              `json:"reason"`
	Event  *market.MarketEvent `json:"event"`
}

// BadgerTrail persists drops in BadgerDB with TTL expiry. Writes happen on
// a single background goroutine fed by a bounded queue, so Record costs one
// channel send no matter how slow the disk is. When the queue is full the
// drop record itself is lost and counted.
type BadgerTrail struct {
	db     *badger.DB
	cfg    Config
	logger zerolog.Logger

	queue chan record
	quit  chan struct{}
	wg    sync.WaitGroup

	enqueued atomic.Uint64
	written  atomic.Uint64
	failed   atomic.Uint64
	lost     atomic.Uint64
	closed   atomic.Bool
}

var _ Trail = (*BadgerTrail)(nil)

// OpenBadger opens (or creates) the trail at cfg.Path and starts the
// background writer.
func OpenBadger(cfg Config, logger zerolog.Logger) (*BadgerTrail, error) {
	cfg = cfg.withDefaults()
	if cfg.Path == "" && !cfg.InMemory {
		return nil, errors.New("audit: trail path required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.InMemory = cfg.InMemory
	// Drops are advisory; losing the tail on crash beats fsync on the
	// publish path.
	opts.SyncWrites = false
	opts.Compression = options.Snappy
	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	t := &BadgerTrail{
		db:     db,
		cfg:    cfg,
		logger: logger.With().Str("component", "audit").Logger(),
		queue:  make(chan record, cfg.QueueSize),
		quit:   make(chan struct{}),
	}
	t.wg.Add(1)
	go t.writer()
	return t, nil
}

// Record enqueues the drop for persistence. Never blocks: when the queue is
// full or the trail is closed the record is discarded and counted.
func (t *BadgerTrail) Record(evt *market.MarketEvent, reason string) {
	if t.closed.Load() {
		return
	}
	select {
	case t.queue <- record{at: time.Now().UTC(), reason: reason, evt: evt}:
		t.enqueued.Add(1)
	default:
		t.lost.Add(1)
	}
}

func (t *BadgerTrail) writer() {
	defer t.wg.Done()
	for {
		select {
		case rec := <-t.queue:
			t.write(rec)
		case <-t.quit:
			for {
				select {
				case rec := <-t.queue:
					t.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (t *BadgerTrail) write(rec record) {
	key := dropKeyPrefix + rec.at.Format(time.RFC3339Nano) + ":" + uuid.NewString()
	value, err := json.Marshal(storedDrop{Reason: rec.reason, Event: rec.evt})
	if err == nil {
		err = t.db.Update(func(txn *badger.Txn) error {
			entry := badger.NewEntry([]byte(key), value).WithTTL(t.cfg.TTL)
			return txn.SetEntry(entry)
		})
	}
	if t.cfg.EnableMetrics {
		metrics.RecordAuditWrite(err)
	}
	if err != nil {
		t.failed.Add(1)
		t.logger.Debug().Err(err).Str("reason", rec.reason).Msg("Audit write failed")
		return
	}
	t.written.Add(1)
}

// RecentDrops returns up to n persisted drops, newest first.
func (t *BadgerTrail) RecentDrops(n int) []Drop {
	if n <= 0 || t.closed.Load() {
		return nil
	}

	drops := make([]Drop, 0, n)
	err := t.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(dropKeyPrefix)
		// Reverse iteration needs a seek key past the whole prefix range.
		seek := append(append(make([]byte, 0, len(prefix)+1), prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(drops) < n; it.Next() {
			item := it.Item()
			key := string(item.Key())

			var stored storedDrop
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			}); err != nil {
				t.logger.Debug().Err(err).Str("key", key).Msg("Skipping undecodable audit entry")
				continue
			}
			drops = append(drops, Drop{
				Time:   parseDropTime(key),
				Reason: stored.Reason,
				Event:  stored.Event,
			})
		}
		return nil
	})
	if err != nil {
		t.logger.Debug().Err(err).Msg("Audit iteration failed")
	}
	return drops
}

// RunGC rewrites the value log until BadgerDB reports nothing left to
// reclaim, releasing space held by TTL-expired entries.
func (t *BadgerTrail) RunGC() error {
	if t.closed.Load() {
		return nil
	}
	for {
		err := t.db.RunValueLogGC(gcDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("value log gc: %w", err)
		}
	}
}

// Stats returns a snapshot of trail counters.
func (t *BadgerTrail) Stats() Stats {
	return Stats{
		Enqueued: t.enqueued.Load(),
		Written:  t.written.Load(),
		Failed:   t.failed.Load(),
		Lost:     t.lost.Load(),
	}
}

// Close drains the queue and closes the store. Idempotent.
func (t *BadgerTrail) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(t.quit)
	t.wg.Wait()
	if err := t.db.Close(); err != nil {
		return fmt.Errorf("close audit store: %w", err)
	}
	return nil
}

func parseDropTime(key string) time.Time {
	rest := strings.TrimPrefix(key, dropKeyPrefix)
	if i := strings.LastIndex(rest, ":"); i > 0 {
		if ts, err := time.Parse(time.RFC3339Nano, rest[:i]); err == nil {
			return ts
		}
	}
	return time.Time{}
}
