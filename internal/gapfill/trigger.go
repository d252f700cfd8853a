// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

// Package gapfill turns stream reconnect notifications into historical
// backfills covering the outage window, so downstream storage sees no hole
// where the feed dropped.
package gapfill

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tickerwire/internal/backfill"
	"github.com/tomtom215/tickerwire/internal/metrics"
	"github.com/tomtom215/tickerwire/internal/stream"
)

// Runner executes one backfill run; *backfill.Coordinator satisfies it.
type Runner interface {
	Run(ctx context.Context, req backfill.Request) (backfill.Result, error)
}

// SymbolSource lists the currently subscribed symbols;
// *subs.Registry satisfies it.
type SymbolSource interface {
	AllSymbols() []string
}

// Config tunes the trigger.
type Config struct {
	// Enabled gates the whole trigger; events are counted but ignored
	// while false.
	Enabled bool
	// MinimumGap is the smallest outage worth a backfill.
	MinimumGap time.Duration
	// Provider names the historical provider for the fill, normally the
	// composite.
	Provider string
	// EnableMetrics exports trigger counters to Prometheus.
	EnableMetrics bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		MinimumGap:    10 * time.Second,
		Provider:      "composite",
		EnableMetrics: true,
	}
}

func (c Config) withDefaults() Config {
	if c.MinimumGap <= 0 {
		c.MinimumGap = 10 * time.Second
	}
	if c.Provider == "" {
		c.Provider = "composite"
	}
	return c
}

// Stats is a snapshot of the trigger's counters.
type Stats struct {
	Triggered uint64 `json:"triggered"`
	Succeeded uint64 `json:"succeeded"`
	Skipped   uint64 `json:"skipped"`
}

// Trigger consumes reconnect events and launches gap backfills without
// ever blocking the notifier.
type Trigger struct {
	cfg     Config
	events  <-chan stream.ReconnectEvent
	runner  Runner
	symbols SymbolSource
	logger  zerolog.Logger

	triggered atomic.Uint64
	succeeded atomic.Uint64
	skipped   atomic.Uint64

	wg sync.WaitGroup
}

// NewTrigger builds a trigger over a stream's reconnect channel.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewTrigger(cfg Config, events <-chan stream.ReconnectEvent, runner Runner, symbols SymbolSource, logger zerolog.Logger) *Trigger {
	return &Trigger{
		cfg:     cfg.withDefaults(),
		events:  events,
		runner:  runner,
		symbols: symbols,
		logger:  logger.With().Str("component", "gapfill").Logger(),
	}
}

// Serve consumes reconnect events until ctx is canceled. It implements
// suture.Service. In-flight backfills are waited for on shutdown.
func (t *Trigger) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			t.wg.Wait()
			return ctx.Err()
		case evt := <-t.events:
			t.handle(ctx, evt)
		}
	}
}

// String identifies the trigger in supervisor logs.
func (t *Trigger) String() string {
	return "gapfill-trigger"
}

func (t *Trigger) handle(ctx context.Context, evt stream.ReconnectEvent) {
	if !t.cfg.Enabled {
		t.skip(evt, "disabled")
		return
	}
	if evt.GapDuration < t.cfg.MinimumGap {
		t.skip(evt, "gap below minimum")
		return
	}
	symbols := t.symbols.AllSymbols()
	if len(symbols) == 0 {
		t.skip(evt, "no subscriptions")
		return
	}

	t.triggered.Add(1)
	if t.cfg.EnableMetrics {
		metrics.RecordGapBackfillTriggered()
	}

	from := evt.DisconnectedAt
	to := evt.ReconnectedAt
	req := backfill.Request{
		Provider: t.cfg.Provider,
		Symbols:  symbols,
		From:     &from,
		To:       &to,
	}
	t.logger.Info().
		Str("provider", evt.Provider).
		Dur("gap", evt.GapDuration).
		Int("symbols", len(symbols)).
		Msg("gap detected, starting backfill")

	// The fill runs detached: a slow provider must not delay the next
	// reconnect notification.
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		res, err := t.runner.Run(ctx, req)
		if err != nil {
			t.logger.Warn().Err(err).Dur("gap", evt.GapDuration).Msg("gap backfill not run")
			return
		}
		if res.Success {
			t.succeeded.Add(1)
			if t.cfg.EnableMetrics {
				metrics.RecordGapBackfillSucceeded()
			}
			t.logger.Info().
				Str("job_id", res.JobID).
				Int("bars_written", res.BarsWritten).
				Msg("gap backfill completed")
			return
		}
		t.logger.Warn().
			Str("job_id", res.JobID).
			Str("error", res.Error).
			Msg("gap backfill finished with failures")
	}()
}

func (t *Trigger) skip(evt stream.ReconnectEvent, reason string) {
	t.skipped.Add(1)
	t.logger.Debug().
		Str("provider", evt.Provider).
		Dur("gap", evt.GapDuration).
		Str("reason", reason).
		Msg("reconnect ignored")
}

// Stats returns a snapshot of the trigger's counters.
func (t *Trigger) Stats() Stats {
	return Stats{
		Triggered: t.triggered.Load(),
		Succeeded: t.succeeded.Load(),
		Skipped:   t.skipped.Load(),
	}
}
