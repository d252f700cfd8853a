// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

// Package history defines the historical market-data provider contract and
// the composite that fails over between providers in priority order.
//
// Wire-format adapters for concrete vendors live behind the Provider
// interface; this package supplies the pieces they share: the rate limiter
// every adapter embeds, the transient/permanent error taxonomy the
// composite's retry and failover decisions key off, and the provider
// registry the backfill service resolves names against.
package history

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/tickerwire/internal/market"
)

// Bar is one OHLCV record returned by a historical provider.
type Bar struct {
	Symbol string `json:"symbol"`
	// Source is the provider that served the bar; the composite stamps it
	// when the provider leaves it empty.
	Source   string    `json:"source"`
	BarTime  time.Time `json:"bar_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	Interval string    `json:"interval"`
	Adjusted bool      `json:"adjusted,omitempty"`
}

// Event converts the bar to a historical-bar market event. EventTime is
// the bar's own timestamp; ReceiveTime is stamped now.
func (b Bar) Event() *market.MarketEvent {
	interval := b.Interval
	if interval == "" {
		interval = "1d"
	}
	evt := market.NewEvent(b.Source, market.EventTypeHistoricalBar, b.Symbol, &market.BarPayload{
		Open:     b.Open,
		High:     b.High,
		Low:      b.Low,
		Close:    b.Close,
		Volume:   b.Volume,
		Interval: interval,
		BarTime:  b.BarTime,
	})
	if !b.BarTime.IsZero() {
		evt.EventTime = b.BarTime
	}
	return evt
}

// Capabilities declares what a provider can serve.
type Capabilities struct {
	AdjustedPrices   bool     `json:"adjusted_prices"`
	Intraday         bool     `json:"intraday"`
	Dividends        bool     `json:"dividends"`
	Splits           bool     `json:"splits"`
	Quotes           bool     `json:"quotes"`
	Trades           bool     `json:"trades"`
	Auctions         bool     `json:"auctions"`
	SupportedMarkets []string `json:"supported_markets,omitempty"`
}

// RateLimit is a provider's declared request budget.
type RateLimit struct {
	// MaxRequestsPerWindow caps requests inside each Window.
	MaxRequestsPerWindow int `json:"max_requests_per_window"`
	// Window is the budget period.
	Window time.Duration `json:"window"`
	// MinInterRequestDelay is the floor between consecutive requests.
	MinInterRequestDelay time.Duration `json:"min_inter_request_delay"`
}

// Provider serves historical bars for equity symbols. Implementations
// enforce their own declared rate limit (see Limiter) and classify
// failures with Transient/Permanent so the composite can decide between
// retrying and failing over.
type Provider interface {
	// Name is the stable lowercase identifier used in requests and logs.
	Name() string
	DisplayName() string
	Description() string
	// Priority orders providers in the composite; lower is tried first.
	Priority() int
	Capabilities() Capabilities
	RateLimit() RateLimit
	// IsAvailable reports whether the provider is configured and healthy
	// enough to try. Unavailable providers are skipped, not failed.
	IsAvailable(ctx context.Context) bool
	// GetDailyBars returns daily bars for symbol, oldest first. Nil from/to
	// mean the provider's default range.
	GetDailyBars(ctx context.Context, symbol string, from, to *time.Time) ([]Bar, error)
}

// AdjustedDailyBarProvider is implemented by providers that can serve
// split/dividend-adjusted daily bars.
type AdjustedDailyBarProvider interface {
	GetAdjustedDailyBars(ctx context.Context, symbol string, from, to *time.Time) ([]Bar, error)
}

// IntradayBarProvider is implemented by providers that can serve intraday
// intervals (e.g. "5m", "1h").
type IntradayBarProvider interface {
	GetIntradayBars(ctx context.Context, symbol, interval string, from, to *time.Time) ([]Bar, error)
}

// Registry holds named providers. Lookups are case-insensitive.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its Name. Duplicate names error.
func (r *Registry) Register(p Provider) error {
	name := strings.ToLower(strings.TrimSpace(p.Name()))
	if name == "" {
		return fmt.Errorf("history: provider has empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("history: provider %q already registered", name)
	}
	r.providers[name] = p
	return nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// All returns the registered providers ordered by priority, then name.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority() != out[j].Priority() {
			return out[i].Priority() < out[j].Priority()
		}
		return out[i].Name() < out[j].Name()
	})
	return out
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
