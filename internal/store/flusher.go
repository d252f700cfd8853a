// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// FlushTarget is the flushable subset of a storage sink. Both *DuckDB and a
// pipeline sink set satisfy it.
type FlushTarget interface {
	Flush(ctx context.Context) error
}

const defaultFlushInterval = 30 * time.Second

// Flusher drives a sink's Flush on a fixed interval as a durability
// backstop, independent of the pipeline's own batch cadence. A failed flush
// leaves the buffer intact, so the next tick simply retries. It runs as a
// service under the supervision tree.
type Flusher struct {
	target   FlushTarget
	interval time.Duration
	logger   zerolog.Logger
}

// NewFlusher returns a Flusher ticking at interval (30s when zero).
func NewFlusher(target FlushTarget, interval time.Duration, logger zerolog.Logger) *Flusher {
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return &Flusher{
		target:   target,
		interval: interval,
		logger:   logger.With().Str("component", "store-flusher").Logger(),
	}
}

// Serve flushes until ctx is cancelled, then performs one final flush so a
// clean shutdown leaves nothing buffered.
func (f *Flusher) Serve(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), f.interval)
			if err := f.target.Flush(flushCtx); err != nil {
				f.logger.Error().Err(err).Msg("Final flush failed")
			}
			cancel()
			return ctx.Err()
		case <-ticker.C:
			if err := f.target.Flush(ctx); err != nil {
				f.logger.Error().Err(err).Msg("Periodic flush failed")
			}
		}
	}
}

// String identifies the service in supervisor logs.
func (f *Flusher) String() string { return "store-flusher" }
