// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/tickerwire/internal/metrics"
)

// SymbolResolver maps a raw ticker to the form a specific provider
// expects (e.g. BRK.B vs BRK-B). Errors fall back to the raw symbol.
type SymbolResolver interface {
	Resolve(ctx context.Context, provider, symbol string) (string, error)
}

// CompositeOption customizes a Composite.
type CompositeOption func(*Composite)

// WithResolver installs a per-provider symbol resolver.
func WithResolver(r SymbolResolver) CompositeOption {
	return func(c *Composite) { c.resolver = r }
}

// WithRetry overrides the transient-error retry policy applied to each
// provider before failing over.
func WithRetry(attempts int, backoff time.Duration) CompositeOption {
	return func(c *Composite) {
		if attempts > 0 {
			c.retryAttempts = attempts
		}
		if backoff > 0 {
			c.retryBackoff = backoff
		}
	}
}

// WithMetrics toggles Prometheus counters.
func WithMetrics(enabled bool) CompositeOption {
	return func(c *Composite) { c.enableMetrics = enabled }
}

// Composite fails over between providers in priority order (lowest
// Priority first). A provider is skipped when it reports unavailable or
// its circuit is open; it is retried on transient errors and abandoned
// immediately on permanent ones. The first non-empty result wins.
//
// Composite itself satisfies Provider, so a registry can hold it next to
// the concrete providers it wraps.
type Composite struct {
	providers []Provider
	breakers  map[string]*gobreaker.CircuitBreaker[[]Bar]
	resolver  SymbolResolver
	logger    zerolog.Logger

	retryAttempts int
	retryBackoff  time.Duration
	enableMetrics bool
}

// CompositeName is the reserved provider name of the composite.
const CompositeName = "composite"

const (
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 500 * time.Millisecond

	breakerFailureThreshold = 5
	breakerOpenTimeout      = 60 * time.Second
)

// NewComposite builds a composite over the given providers.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewComposite(providers []Provider, logger zerolog.Logger, opts ...CompositeOption) *Composite {
	ordered := make([]Provider, len(providers))
	copy(ordered, providers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() < ordered[j].Priority()
	})

	c := &Composite{
		providers:     ordered,
		breakers:      make(map[string]*gobreaker.CircuitBreaker[[]Bar], len(ordered)),
		logger:        logger.With().Str("component", "composite-historical").Logger(),
		retryAttempts: defaultRetryAttempts,
		retryBackoff:  defaultRetryBackoff,
		enableMetrics: true,
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, p := range ordered {
		name := p.Name()
		c.breakers[name] = gobreaker.NewCircuitBreaker[[]Bar](gobreaker.Settings{
			Name:    "historical-" + name,
			Timeout: breakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("historical provider circuit state changed")
			},
			// Permanent errors (bad symbol, 4xx) say nothing about provider
			// health, so they must not accumulate toward opening.
			IsSuccessful: func(err error) bool {
				return err == nil || IsPermanent(err)
			},
		})
	}
	return c
}

// Name implements Provider.
func (c *Composite) Name() string { return CompositeName }

// DisplayName implements Provider.
func (c *Composite) DisplayName() string { return "Composite" }

// Description implements Provider.
func (c *Composite) Description() string {
	return "Priority-ordered failover across all configured historical providers"
}

// Priority implements Provider. The composite sorts ahead of everything.
func (c *Composite) Priority() int { return 0 }

// Capabilities implements Provider: the union of the children.
func (c *Composite) Capabilities() Capabilities {
	var caps Capabilities
	markets := map[string]struct{}{}
	for _, p := range c.providers {
		pc := p.Capabilities()
		caps.AdjustedPrices = caps.AdjustedPrices || pc.AdjustedPrices
		caps.Intraday = caps.Intraday || pc.Intraday
		caps.Dividends = caps.Dividends || pc.Dividends
		caps.Splits = caps.Splits || pc.Splits
		caps.Quotes = caps.Quotes || pc.Quotes
		caps.Trades = caps.Trades || pc.Trades
		caps.Auctions = caps.Auctions || pc.Auctions
		for _, m := range pc.SupportedMarkets {
			markets[m] = struct{}{}
		}
	}
	for m := range markets {
		caps.SupportedMarkets = append(caps.SupportedMarkets, m)
	}
	sort.Strings(caps.SupportedMarkets)
	return caps
}

// RateLimit implements Provider. The children enforce their own budgets.
func (c *Composite) RateLimit() RateLimit { return RateLimit{} }

// IsAvailable implements Provider: true when any child is available.
func (c *Composite) IsAvailable(ctx context.Context) bool {
	for _, p := range c.providers {
		if p.IsAvailable(ctx) {
			return true
		}
	}
	return false
}

// Providers returns the wrapped providers in failover order.
func (c *Composite) Providers() []Provider {
	out := make([]Provider, len(c.providers))
	copy(out, c.providers)
	return out
}

// GetDailyBars implements Provider with failover. Bars in the returned
// slice carry the serving provider in Source.
func (c *Composite) GetDailyBars(ctx context.Context, symbol string, from, to *time.Time) ([]Bar, error) {
	if len(c.providers) == 0 {
		return nil, ErrNoProviders
	}

	var lastErr error
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !p.IsAvailable(ctx) {
			c.record(p.Name(), "unavailable")
			continue
		}

		resolved := c.resolve(ctx, p.Name(), symbol)
		bars, err := c.fetch(ctx, p, resolved, from, to)
		switch {
		case err != nil:
			lastErr = err
			c.logger.Warn().
				Err(err).
				Str("provider", p.Name()).
				Str("symbol", symbol).
				Msg("historical provider failed, trying next")
			c.fallback()
			continue
		case len(bars) == 0:
			c.record(p.Name(), "empty")
			c.logger.Debug().
				Str("provider", p.Name()).
				Str("symbol", symbol).
				Msg("historical provider returned no bars, trying next")
			c.fallback()
			continue
		}

		for i := range bars {
			if bars[i].Source == "" {
				bars[i].Source = p.Name()
			}
			if bars[i].Symbol == "" {
				bars[i].Symbol = symbol
			}
		}
		c.record(p.Name(), "success")
		if c.enableMetrics {
			metrics.RecordHistoricalBars(p.Name(), len(bars))
		}
		return bars, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all providers failed for %s: %w", symbol, lastErr)
	}
	return nil, fmt.Errorf("%w: %s", ErrNoData, symbol)
}

// fetch runs one provider call through its circuit breaker with the
// transient retry policy.
func (c *Composite) fetch(ctx context.Context, p Provider, symbol string, from, to *time.Time) ([]Bar, error) {
	breaker := c.breakers[p.Name()]

	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.retryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		bars, err := breaker.Execute(func() ([]Bar, error) {
			return p.GetDailyBars(ctx, symbol, from, to)
		})
		if err == nil {
			return bars, nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.record(p.Name(), "circuit_open")
			return nil, err
		}
		if IsPermanent(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			c.record(p.Name(), "permanent")
			return nil, err
		}
		c.record(p.Name(), "transient")
	}
	return nil, lastErr
}

func (c *Composite) resolve(ctx context.Context, provider, symbol string) string {
	if c.resolver == nil {
		return symbol
	}
	resolved, err := c.resolver.Resolve(ctx, provider, symbol)
	if err != nil || resolved == "" {
		c.logger.Debug().
			Err(err).
			Str("provider", provider).
			Str("symbol", symbol).
			Msg("symbol resolution failed, using raw ticker")
		return symbol
	}
	return resolved
}

func (c *Composite) record(provider, outcome string) {
	if c.enableMetrics {
		metrics.RecordHistoricalRequest(provider, outcome)
	}
}

func (c *Composite) fallback() {
	if c.enableMetrics {
		metrics.RecordHistoricalFallback()
	}
}
