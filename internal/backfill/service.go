// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package backfill

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tickerwire/internal/clock"
	"github.com/tomtom215/tickerwire/internal/history"
	"github.com/tomtom215/tickerwire/internal/market"
	"github.com/tomtom215/tickerwire/internal/metrics"
)

// Target is the pipeline surface a backfill publishes into. PublishAsync
// is used deliberately: the scratch pipeline runs in Wait mode and the
// backfill has a bounded lifetime, so blocking is the correct behavior.
type Target interface {
	PublishAsync(ctx context.Context, evt *market.MarketEvent) error
	Flush(ctx context.Context) error
}

// Service fetches bars for each requested symbol and publishes them.
type Service struct {
	registry *history.Registry
	tracker  *ProgressTracker
	clk      clock.Clock
	logger   zerolog.Logger

	seq           atomic.Uint64
	enableMetrics bool
}

// NewService builds a backfill service. The tracker may be nil.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewService(registry *history.Registry, tracker *ProgressTracker, clk clock.Clock, logger zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{
		registry:      registry,
		tracker:       tracker,
		clk:           clk,
		logger:        logger.With().Str("component", "backfill").Logger(),
		enableMetrics: true,
	}
}

// DisableMetrics turns off the Prometheus counters (tests).
func (s *Service) DisableMetrics() { s.enableMetrics = false }

// Run executes one backfill. Per-symbol failures are recorded and the loop
// continues; a canceled context stops immediately. The returned Result is
// always populated, Success reporting whether every symbol made it.
func (s *Service) Run(ctx context.Context, jobID string, req Request, target Target) Result {
	started := s.clk.Now()
	res := Result{
		JobID:         jobID,
		Provider:      req.Provider,
		Symbols:       req.CleanSymbols(),
		From:          req.From,
		To:            req.To,
		FailedSymbols: []string{},
		StartedAt:     started,
	}

	if len(res.Symbols) == 0 {
		res.Error = "no symbols requested"
		res.CompletedAt = s.clk.Now()
		s.finish(jobID, &res)
		return res
	}
	provider, ok := s.registry.Get(req.Provider)
	if !ok {
		res.Error = fmt.Sprintf("unknown provider %q (registered: %s)",
			req.Provider, strings.Join(s.registry.Names(), ", "))
		res.CompletedAt = s.clk.Now()
		s.finish(jobID, &res)
		return res
	}

	if s.tracker != nil {
		s.tracker.StartJob(jobID, req)
	}
	s.logger.Info().
		Str("job_id", jobID).
		Str("provider", provider.Name()).
		Int("symbols", len(res.Symbols)).
		Msg("backfill started")

	var failures []string
	for _, symbol := range res.Symbols {
		if err := ctx.Err(); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", symbol, err))
			res.FailedSymbols = append(res.FailedSymbols, symbol)
			s.failSymbol(jobID, symbol, err)
			break
		}

		s.startSymbol(jobID, symbol)
		written, err := s.fillSymbol(ctx, provider, symbol, req, target)
		res.BarsWritten += written
		if written > 0 {
			s.recordBars(jobID, symbol, written)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", symbol, err))
			res.FailedSymbols = append(res.FailedSymbols, symbol)
			s.failSymbol(jobID, symbol, err)
			s.logger.Warn().
				Err(err).
				Str("job_id", jobID).
				Str("symbol", symbol).
				Msg("backfill symbol failed")
			continue
		}
		s.completeSymbol(jobID, symbol)
	}

	if err := target.Flush(ctx); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("backfill flush failed")
	}

	res.Success = len(failures) == 0
	if len(failures) > 0 {
		res.Error = strings.Join(failures, "; ")
	}
	res.CompletedAt = s.clk.Now()
	s.finish(jobID, &res)

	s.logger.Info().
		Str("job_id", jobID).
		Bool("success", res.Success).
		Int("bars_written", res.BarsWritten).
		Int("failed_symbols", len(res.FailedSymbols)).
		Dur("elapsed", res.Duration()).
		Msg("backfill finished")
	return res
}

// fillSymbol fetches and publishes one symbol's bars, returning how many
// were written before any error.
func (s *Service) fillSymbol(ctx context.Context, provider history.Provider, symbol string, req Request, target Target) (int, error) {
	bars, err := provider.GetDailyBars(ctx, symbol, req.From, req.To)
	if err != nil {
		return 0, err
	}

	written := 0
	for i := range bars {
		bar := bars[i]
		if bar.Source == "" {
			bar.Source = provider.Name()
		}
		if bar.Symbol == "" {
			bar.Symbol = symbol
		}
		evt := bar.Event()
		evt.SequenceNumber = s.seq.Add(1)
		if err := target.PublishAsync(ctx, evt); err != nil {
			return written, fmt.Errorf("publish bar %d/%d: %w", i+1, len(bars), err)
		}
		written++
	}
	return written, nil
}

func (s *Service) finish(jobID string, res *Result) {
	if s.tracker != nil && jobID != "" {
		s.tracker.CompleteJob(jobID, res.Success)
	}
	if s.enableMetrics {
		metrics.RecordBackfillRun(res.Success, res.Duration())
		metrics.RecordBackfillBars(res.BarsWritten)
	}
}

func (s *Service) startSymbol(jobID, symbol string) {
	if s.tracker != nil {
		s.tracker.StartSymbol(jobID, symbol)
	}
}

func (s *Service) recordBars(jobID, symbol string, n int) {
	if s.tracker != nil {
		s.tracker.RecordBars(jobID, symbol, n)
	}
}

func (s *Service) completeSymbol(jobID, symbol string) {
	if s.tracker != nil {
		s.tracker.CompleteSymbol(jobID, symbol)
	}
}

func (s *Service) failSymbol(jobID, symbol string, err error) {
	if s.tracker != nil {
		s.tracker.FailSymbol(jobID, symbol, err)
	}
}
