// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

// Package resub decides when an integrity finding justifies forcing a
// symbol's subscription to be torn down and re-applied.
//
// The policy is deliberately paranoid: a per-symbol cooldown and minimum
// attempt spacing stop a flapping feed from hammering the provider, a
// per-symbol circuit breaker isolates symbols that keep failing, and a
// global circuit breaker halts all resubscription when the provider itself
// is the problem. There are exactly two lock domains (one global, one per
// symbol) and no lock is ever held across the subscription call itself.
package resub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tickerwire/internal/clock"
	"github.com/tomtom215/tickerwire/internal/market"
	"github.com/tomtom215/tickerwire/internal/metrics"
	"github.com/tomtom215/tickerwire/internal/state"
	"github.com/tomtom215/tickerwire/internal/subs"
)

// CircuitState is the condition of a circuit breaker. The numeric values
// are exported on the resubscribe_global_circuit_state gauge.
type CircuitState int

// Circuit states.
const (
	CircuitClosed CircuitState = iota
	CircuitHalfOpen
	CircuitOpen
)

// String returns a human-readable state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half_open"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Outcome reports what the policy did with one integrity event.
type Outcome int

// Outcomes.
const (
	OutcomeSkippedSeverity Outcome = iota
	OutcomeSkippedGlobalCircuit
	OutcomeSkippedCooldown
	OutcomeSkippedRateLimited
	OutcomeSkippedSymbolCircuit
	OutcomeSucceeded
	OutcomeFailed
)

// String returns the outcome name used in logs and skip-reason labels.
func (o Outcome) String() string {
	switch o {
	case OutcomeSkippedSeverity:
		return "severity"
	case OutcomeSkippedGlobalCircuit:
		return "global_circuit"
	case OutcomeSkippedCooldown:
		return "cooldown"
	case OutcomeSkippedRateLimited:
		return "rate_limited"
	case OutcomeSkippedSymbolCircuit:
		return "symbol_circuit"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Skipped reports whether the outcome is any of the skip variants.
func (o Outcome) Skipped() bool {
	return o != OutcomeSucceeded && o != OutcomeFailed
}

// Applier re-applies a symbol's subscription on the live connection,
// forcing an unsubscribe/resubscribe round trip.
type Applier interface {
	Apply(ctx context.Context, cfg subs.SymbolConfig) error
}

// Config tunes the policy. Zero values fall back to defaults.
type Config struct {
	// MinSeverity is the least severe integrity finding that triggers a
	// resubscribe attempt.
	MinSeverity market.Severity
	// SymbolCooldown blocks further attempts for a symbol after a success.
	SymbolCooldown time.Duration
	// MinResubscribeInterval spaces attempts for the same symbol.
	MinResubscribeInterval time.Duration
	// SymbolCircuitThreshold is the consecutive failure count that opens a
	// symbol's circuit.
	SymbolCircuitThreshold int
	// SymbolCircuitDuration is how long an open symbol circuit blocks
	// attempts before a probe is allowed.
	SymbolCircuitDuration time.Duration
	// GlobalCircuitThreshold is the consecutive failure count that opens
	// the global circuit.
	GlobalCircuitThreshold int
	// GlobalCircuitDuration is how long the open global circuit blocks all
	// attempts.
	GlobalCircuitDuration time.Duration
	// HalfOpenTestInterval spaces probes while the global circuit is
	// half-open.
	HalfOpenTestInterval time.Duration
	// SweepInterval is the period of the idle-state eviction sweep.
	SweepInterval time.Duration
	// IdleEviction is the inactivity age at which symbol state is evicted.
	IdleEviction time.Duration
	// EnableMetrics exports policy counters to Prometheus.
	EnableMetrics bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MinSeverity:            market.SeverityError,
		SymbolCooldown:         30 * time.Second,
		MinResubscribeInterval: 5 * time.Second,
		SymbolCircuitThreshold: 3,
		SymbolCircuitDuration:  120 * time.Second,
		GlobalCircuitThreshold: 5,
		GlobalCircuitDuration:  60 * time.Second,
		HalfOpenTestInterval:   5 * time.Second,
		SweepInterval:          5 * time.Minute,
		IdleEviction:           time.Hour,
		EnableMetrics:          true,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MinSeverity == 0 {
		c.MinSeverity = def.MinSeverity
	}
	if c.SymbolCooldown <= 0 {
		c.SymbolCooldown = def.SymbolCooldown
	}
	if c.MinResubscribeInterval <= 0 {
		c.MinResubscribeInterval = def.MinResubscribeInterval
	}
	if c.SymbolCircuitThreshold <= 0 {
		c.SymbolCircuitThreshold = def.SymbolCircuitThreshold
	}
	if c.SymbolCircuitDuration <= 0 {
		c.SymbolCircuitDuration = def.SymbolCircuitDuration
	}
	if c.GlobalCircuitThreshold <= 0 {
		c.GlobalCircuitThreshold = def.GlobalCircuitThreshold
	}
	if c.GlobalCircuitDuration <= 0 {
		c.GlobalCircuitDuration = def.GlobalCircuitDuration
	}
	if c.HalfOpenTestInterval <= 0 {
		c.HalfOpenTestInterval = def.HalfOpenTestInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.IdleEviction <= 0 {
		c.IdleEviction = def.IdleEviction
	}
	return c
}

// symbolState tracks one symbol's attempt history under its own lock.
type symbolState struct {
	mu                  sync.Mutex
	lastAttempt         time.Time
	lastSuccess         time.Time
	lastActivity        time.Time
	consecutiveFailures int
	circuit             CircuitState
	circuitOpenedAt     time.Time
}

// Policy is the auto-resubscribe decision engine. Safe for concurrent use.
type Policy struct {
	cfg     Config
	applier Applier
	clk     clock.Clock
	logger  zerolog.Logger

	symbols *state.Store[*symbolState]

	globalMu         sync.Mutex
	globalState      CircuitState
	globalOpenedAt   time.Time
	globalFailures   int
	lastHalfOpenTest time.Time

	attempts    atomic.Int64
	successes   atomic.Int64
	failures    atomic.Int64
	rateLimited atomic.Int64
}

// Snapshot is a point-in-time view of policy counters.
type Snapshot struct {
	Attempts               int64  `json:"attempts"`
	Successes              int64  `json:"successes"`
	Failures               int64  `json:"failures"`
	RateLimitedSkips       int64  `json:"rate_limited_skips"`
	SymbolsTracked         int    `json:"symbols_tracked"`
	SymbolsInCooldown      int    `json:"symbols_in_cooldown"`
	SymbolsWithOpenCircuit int    `json:"symbols_with_open_circuit"`
	GlobalCircuit          string `json:"global_circuit"`
}

// NewPolicy builds a policy around the given applier. A nil clock uses
// wall time.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewPolicy(cfg Config, applier Applier, clk clock.Clock, logger zerolog.Logger) *Policy {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Policy{
		cfg:     cfg.withDefaults(),
		applier: applier,
		clk:     clk,
		logger:  logger.With().Str("component", "resub").Logger(),
		symbols: state.New[*symbolState](),
	}
}

// OnIntegrityEvent runs the policy for one integrity finding and returns
// what was decided. The subscription call itself runs with no policy lock
// held.
func (p *Policy) OnIntegrityEvent(ctx context.Context, symbol string, severity market.Severity, cfg subs.SymbolConfig) Outcome {
	if severity < p.cfg.MinSeverity {
		return p.skip(symbol, OutcomeSkippedSeverity)
	}

	now := p.clk.Now()
	halfOpenTest, pass := p.checkGlobal(now)
	if !pass {
		return p.skip(symbol, OutcomeSkippedGlobalCircuit)
	}

	st := p.symbols.GetOrAdd(symbol, func() *symbolState { return &symbolState{} })
	if out, ok := p.admitSymbol(st, now); !ok {
		return p.skip(symbol, out)
	}

	start := time.Now()
	err := p.applier.Apply(ctx, cfg)
	elapsed := time.Since(start)

	p.attempts.Add(1)
	if p.cfg.EnableMetrics {
		metrics.RecordResubscribeAttempt(err == nil)
	}

	if err != nil {
		p.failures.Add(1)
		p.recordFailure(st, halfOpenTest)
		p.logger.Warn().
			Err(err).
			Str("symbol", symbol).
			Dur("elapsed", elapsed).
			Msg("resubscribe attempt failed")
		return OutcomeFailed
	}

	p.successes.Add(1)
	p.recordSuccess(st)
	p.logger.Info().
		Str("symbol", symbol).
		Dur("elapsed", elapsed).
		Msg("resubscribed after integrity finding")
	return OutcomeSucceeded
}

// checkGlobal applies the global circuit gate. It returns whether this
// attempt is a half-open probe and whether the attempt may proceed.
func (p *Policy) checkGlobal(now time.Time) (halfOpenTest, pass bool) {
	p.globalMu.Lock()
	defer p.globalMu.Unlock()

	switch p.globalState {
	case CircuitClosed:
		return false, true
	case CircuitOpen:
		if now.Sub(p.globalOpenedAt) < p.cfg.GlobalCircuitDuration {
			return false, false
		}
		p.setGlobal(CircuitHalfOpen)
		p.lastHalfOpenTest = now
		return true, true
	case CircuitHalfOpen:
		if now.Sub(p.lastHalfOpenTest) < p.cfg.HalfOpenTestInterval {
			return false, false
		}
		p.lastHalfOpenTest = now
		return true, true
	default:
		return false, false
	}
}

// admitSymbol applies the per-symbol gates and stamps the attempt time
// when admitted.
func (p *Policy) admitSymbol(st *symbolState, now time.Time) (Outcome, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.lastActivity = now
	if !st.lastSuccess.IsZero() && now.Sub(st.lastSuccess) < p.cfg.SymbolCooldown {
		p.rateLimited.Add(1)
		return OutcomeSkippedCooldown, false
	}
	if !st.lastAttempt.IsZero() && now.Sub(st.lastAttempt) < p.cfg.MinResubscribeInterval {
		p.rateLimited.Add(1)
		return OutcomeSkippedRateLimited, false
	}
	if st.circuit == CircuitOpen {
		if now.Sub(st.circuitOpenedAt) < p.cfg.SymbolCircuitDuration {
			return OutcomeSkippedSymbolCircuit, false
		}
		st.circuit = CircuitHalfOpen
	}
	st.lastAttempt = now
	return 0, true
}

func (p *Policy) recordSuccess(st *symbolState) {
	now := p.clk.Now()

	st.mu.Lock()
	st.lastSuccess = now
	st.consecutiveFailures = 0
	st.circuit = CircuitClosed
	st.mu.Unlock()

	p.globalMu.Lock()
	if p.globalState == CircuitHalfOpen {
		p.setGlobal(CircuitClosed)
	}
	p.globalFailures = 0
	p.globalMu.Unlock()
}

func (p *Policy) recordFailure(st *symbolState, halfOpenTest bool) {
	now := p.clk.Now()

	st.mu.Lock()
	st.consecutiveFailures++
	if st.consecutiveFailures >= p.cfg.SymbolCircuitThreshold && st.circuit != CircuitOpen {
		st.circuit = CircuitOpen
		st.circuitOpenedAt = now
	}
	st.mu.Unlock()

	p.globalMu.Lock()
	p.globalFailures++
	switch {
	case halfOpenTest:
		// The probe failed; the provider is still unhealthy.
		p.setGlobal(CircuitOpen)
		p.globalOpenedAt = now
	case p.globalFailures >= p.cfg.GlobalCircuitThreshold && p.globalState == CircuitClosed:
		p.setGlobal(CircuitOpen)
		p.globalOpenedAt = now
		p.logger.Error().
			Int("failures", p.globalFailures).
			Dur("duration", p.cfg.GlobalCircuitDuration).
			Msg("global resubscribe circuit opened")
	}
	p.globalMu.Unlock()
}

// setGlobal transitions the global circuit. Callers hold globalMu.
func (p *Policy) setGlobal(s CircuitState) {
	p.globalState = s
	if p.cfg.EnableMetrics {
		metrics.UpdateGlobalCircuit(float64(s))
	}
}

func (p *Policy) skip(symbol string, out Outcome) Outcome {
	if p.cfg.EnableMetrics {
		metrics.RecordResubscribeSkip(out.String())
	}
	p.logger.Debug().
		Str("symbol", symbol).
		Str("reason", out.String()).
		Msg("integrity event skipped")
	return out
}

// GlobalCircuit returns the current global circuit state.
func (p *Policy) GlobalCircuit() CircuitState {
	p.globalMu.Lock()
	defer p.globalMu.Unlock()
	return p.globalState
}

// Stats returns a snapshot of the policy counters. The per-symbol scan
// takes each symbol lock briefly; with the one-hour eviction the state
// population stays small.
func (p *Policy) Stats() Snapshot {
	now := p.clk.Now()
	inCooldown, openCircuits, tracked := 0, 0, 0
	p.symbols.ForEach(func(_ string, st *symbolState) {
		st.mu.Lock()
		if !st.lastSuccess.IsZero() && now.Sub(st.lastSuccess) < p.cfg.SymbolCooldown {
			inCooldown++
		}
		if st.circuit == CircuitOpen {
			openCircuits++
		}
		st.mu.Unlock()
		tracked++
	})
	if p.cfg.EnableMetrics {
		metrics.UpdateOpenSymbolCircuits(openCircuits)
	}

	return Snapshot{
		Attempts:               p.attempts.Load(),
		Successes:              p.successes.Load(),
		Failures:               p.failures.Load(),
		RateLimitedSkips:       p.rateLimited.Load(),
		SymbolsTracked:         tracked,
		SymbolsInCooldown:      inCooldown,
		SymbolsWithOpenCircuit: openCircuits,
		GlobalCircuit:          p.GlobalCircuit().String(),
	}
}

// EvictIdle removes symbol states with no activity for the configured
// idle window and returns how many were evicted.
func (p *Policy) EvictIdle() int {
	cutoff := p.clk.Now().Add(-p.cfg.IdleEviction)
	evicted := p.symbols.RemoveStale(func(_ string, st *symbolState) bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.lastActivity.Before(cutoff)
	})
	if evicted > 0 {
		p.logger.Debug().Int("evicted", evicted).Msg("idle resubscribe state evicted")
	}
	return evicted
}

// Serve runs the periodic idle-state sweep until ctx is canceled. It
// implements suture.Service.
func (p *Policy) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.EvictIdle()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// String identifies the policy in supervisor logs.
func (p *Policy) String() string {
	return "resub-policy"
}
