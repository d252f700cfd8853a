// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

// Package store persists market events in an embedded DuckDB database.
//
// The sink buffers appended events in memory and writes them out in batched
// transactions, so the hot publish path never touches disk. Historical bars
// additionally land in a dedicated daily_bars table keyed by canonical
// identity, which keeps gap backfills idempotent.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/tickerwire/internal/market"
	"github.com/tomtom215/tickerwire/internal/metrics"
	"github.com/tomtom215/tickerwire/internal/pipeline"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("store: closed")

const (
	// defaultChunkSize bounds rows per INSERT statement inside a flush
	// transaction. DuckDB handles wide multi-row VALUES well; the cap keeps
	// statement size and placeholder counts predictable.
	defaultChunkSize = 500

	defaultMaxMemory = "512MB"

	schemaTimeout = 30 * time.Second
)

// Config tunes the DuckDB sink.
type Config struct {
	// Path is the database file. Parent directories are created on open.
	Path string
	// Threads caps DuckDB's internal worker threads. Zero means NumCPU.
	Threads int
	// MaxMemory is DuckDB's memory ceiling, e.g. "512MB".
	MaxMemory string
	// ChunkSize bounds rows per INSERT statement within a flush transaction.
	ChunkSize int
	// EnableMetrics toggles Prometheus counters.
	EnableMetrics bool
}

// DefaultConfig returns production defaults for the given database file.
func DefaultConfig(path string) Config {
	return Config{
		Path:          path,
		MaxMemory:     defaultMaxMemory,
		ChunkSize:     defaultChunkSize,
		EnableMetrics: true,
	}
}

func (c Config) withDefaults() Config {
	if c.Threads <= 0 {
		c.Threads = runtime.NumCPU()
	}
	if c.MaxMemory == "" {
		c.MaxMemory = defaultMaxMemory
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	return c
}

// Stats is a snapshot of sink counters.
type Stats struct {
	Appended      uint64 `json:"appended"`
	Flushed       uint64 `json:"flushed"`
	FailedFlushes uint64 `json:"failed_flushes"`
	Buffered      int    `json:"buffered"`
}

// DuckDB is a buffering storage sink backed by an embedded DuckDB file.
type DuckDB struct {
	db     *sql.DB
	cfg    Config
	logger zerolog.Logger

	mu  sync.Mutex // guards buf
	buf []*market.MarketEvent

	flushMu sync.Mutex // serializes flush transactions

	appended      atomic.Uint64
	flushed       atomic.Uint64
	failedFlushes atomic.Uint64
	closed        atomic.Bool
}

var _ pipeline.StorageSink = (*DuckDB)(nil)

// Open creates the database file if needed, applies the schema and returns
// a ready sink.
func Open(cfg Config, logger zerolog.Logger) (*DuckDB, error) {
	cfg = cfg.withDefaults()
	if cfg.Path == "" {
		return nil, errors.New("store: database path required")
	}

	// 0750 per gosec G301.
	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dbDir, err)
		}
	}

	// Disable extension auto-install/auto-load to prevent hangs in
	// restricted network environments. Nothing in the schema needs one.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, cfg.Threads, cfg.MaxMemory)

	db, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(runtime.NumCPU())
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()
	if err := createSchema(ctx, db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warn().Err(closeErr).Msg("Failed to close database after schema error")
		}
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &DuckDB{
		db:     db,
		cfg:    cfg,
		logger: logger.With().Str("component", "store").Logger(),
		buf:    make([]*market.MarketEvent, 0, cfg.ChunkSize),
	}, nil
}

func createSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS market_events (
			receive_time             TIMESTAMP NOT NULL,
			event_time               TIMESTAMP NOT NULL,
			source                   VARCHAR NOT NULL,
			event_type               VARCHAR NOT NULL,
			symbol                   VARCHAR NOT NULL,
			canonical_symbol         VARCHAR,
			canonical_venue          VARCHAR,
			tier                     SMALLINT NOT NULL,
			canonicalization_version INTEGER NOT NULL,
			sequence_number          UBIGINT NOT NULL,
			payload                  VARCHAR
		)`,
		`CREATE TABLE IF NOT EXISTS daily_bars (
			symbol       VARCHAR NOT NULL,
			bar_time     TIMESTAMP NOT NULL,
			open         DOUBLE NOT NULL,
			high         DOUBLE NOT NULL,
			low          DOUBLE NOT NULL,
			close        DOUBLE NOT NULL,
			volume       DOUBLE NOT NULL,
			bar_interval VARCHAR NOT NULL,
			source       VARCHAR NOT NULL,
			PRIMARY KEY (symbol, bar_time, bar_interval, source)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_symbol_time ON market_events (symbol, event_time)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type_time ON market_events (event_type, event_time)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}

// Append buffers evt for the next flush. Heartbeats are liveness signals,
// not market data, and are never persisted.
func (s *DuckDB) Append(_ context.Context, evt *market.MarketEvent) error {
	if evt == nil || evt.IsHeartbeat() {
		return nil
	}
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	s.buf = append(s.buf, evt)
	s.mu.Unlock()

	s.appended.Add(1)
	if s.cfg.EnableMetrics {
		metrics.RecordStoreAppend()
	}
	return nil
}

// Flush writes all buffered events in one transaction. On failure the batch
// is restored to the front of the buffer so nothing is lost and ordering is
// preserved for the next attempt.
func (s *DuckDB) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	batch := s.buf
	s.buf = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	err := s.writeBatch(ctx, batch)
	if s.cfg.EnableMetrics {
		metrics.RecordStoreFlush(len(batch), time.Since(start), err)
	}
	if err != nil {
		s.failedFlushes.Add(1)
		s.mu.Lock()
		s.buf = append(batch, s.buf...)
		s.mu.Unlock()
		s.logger.Error().Err(err).Int("rows", len(batch)).Msg("Flush failed, batch retained")
		return err
	}

	s.flushed.Add(uint64(len(batch)))
	s.logger.Debug().
		Int("rows", len(batch)).
		Dur("duration", time.Since(start)).
		Msg("Flushed batch")
	return nil
}

// Close flushes buffered events, then closes the database. Idempotent.
func (s *DuckDB) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	flushErr := s.Flush(ctx)
	if flushErr != nil {
		s.logger.Error().Err(flushErr).Msg("Final flush failed on close")
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return flushErr
}

// Stats returns a snapshot of sink counters.
func (s *DuckDB) Stats() Stats {
	s.mu.Lock()
	buffered := len(s.buf)
	s.mu.Unlock()
	return Stats{
		Appended:      s.appended.Load(),
		Flushed:       s.flushed.Load(),
		FailedFlushes: s.failedFlushes.Load(),
		Buffered:      buffered,
	}
}

// writeBatch persists batch inside a single transaction, chunked so no
// statement exceeds ChunkSize rows.
func (s *DuckDB) writeBatch(ctx context.Context, batch []*market.MarketEvent) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin flush transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Error().
					Err(rbErr).
					AnErr("original_error", err).
					Msg("Failed to rollback flush transaction")
			}
		}
	}()

	for low := 0; low < len(batch); low += s.cfg.ChunkSize {
		high := low + s.cfg.ChunkSize
		if high > len(batch) {
			high = len(batch)
		}
		if err = s.insertEvents(ctx, tx, batch[low:high]); err != nil {
			return err
		}
		if err = s.insertBars(ctx, tx, batch[low:high]); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit flush transaction: %w", err)
	}
	return nil
}

const eventColumns = 11

func (s *DuckDB) insertEvents(ctx context.Context, tx *sql.Tx, events []*market.MarketEvent) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO market_events (
		receive_time, event_time, source, event_type, symbol,
		canonical_symbol, canonical_venue, tier, canonicalization_version,
		sequence_number, payload
	) VALUES `)

	args := make([]any, 0, len(events)*eventColumns)
	for i, evt := range events {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")

		payload, err := encodePayload(evt)
		if err != nil {
			return fmt.Errorf("encode %s payload for %s: %w", evt.Type, evt.Symbol, err)
		}
		args = append(args,
			evt.ReceiveTime, evt.EventTime, evt.Source, string(evt.Type), evt.Symbol,
			nullable(evt.CanonicalSymbol), nullable(evt.CanonicalVenue),
			int(evt.Tier), evt.CanonicalizationVersion, evt.SequenceNumber, payload,
		)
	}

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert %d events: %w", len(events), err)
	}
	return nil
}

const barColumns = 9

// insertBars projects historical-bar events into daily_bars. The conflict
// clause makes repeated backfills of the same range a no-op.
func (s *DuckDB) insertBars(ctx context.Context, tx *sql.Tx, events []*market.MarketEvent) error {
	var (
		sb   strings.Builder
		args = make([]any, 0, barColumns)
		rows int
	)
	for _, evt := range events {
		bar, ok := evt.Payload.(*market.BarPayload)
		if evt.Type != market.EventTypeHistoricalBar || !ok {
			continue
		}
		if rows > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?)")

		symbol := evt.Symbol
		if evt.CanonicalSymbol != "" {
			symbol = evt.CanonicalSymbol
		}
		args = append(args,
			symbol, bar.BarTime, bar.Open, bar.High, bar.Low, bar.Close,
			bar.Volume, bar.Interval, evt.Source,
		)
		rows++
	}
	if rows == 0 {
		return nil
	}

	query := `INSERT INTO daily_bars (
		symbol, bar_time, open, high, low, close, volume, bar_interval, source
	) VALUES ` + sb.String() + ` ON CONFLICT DO NOTHING`

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %d bars: %w", rows, err)
	}
	return nil
}

func encodePayload(evt *market.MarketEvent) (any, error) {
	if evt.Payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
