// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package canonical

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tomtom215/tickerwire/internal/market"
	"github.com/tomtom215/tickerwire/internal/pipeline"
)

// Options configures the canonicalizing publisher decorator.
type Options struct {
	// PilotSymbols restricts enrichment to the listed symbols
	// (case-insensitive). Empty means all symbols are enriched.
	PilotSymbols []string
	// DualWrite forwards the raw event before its enriched twin so
	// downstream consumers can compare the two during rollout.
	DualWrite bool
	// Metrics receives telemetry; nil disables it.
	Metrics MetricsSink
}

// CanonicalizingPublisher decorates a pipeline publisher with identity
// enrichment. Events outside the pilot set, heartbeats, and already
// enriched events are forwarded untouched. In dual-write mode the raw
// event is published first and a rejected raw publish short-circuits the
// enriched one, so backpressure is never hidden from the producer.
type CanonicalizingPublisher struct {
	inner     pipeline.Publisher
	canon     *Canonicalizer
	pilot     map[string]struct{}
	dualWrite bool
	sink      MetricsSink

	canonicalized     atomic.Int64
	skipped           atomic.Int64
	unresolvedSymbols atomic.Int64
	unresolvedVenues  atomic.Int64
	dualWrites        atomic.Int64
	durationNanos     atomic.Int64
}

// Stats is a point-in-time snapshot of decorator counters.
type Stats struct {
	Canonicalized     int64   `json:"canonicalized"`
	Skipped           int64   `json:"skipped"`
	UnresolvedSymbols int64   `json:"unresolved_symbols"`
	UnresolvedVenues  int64   `json:"unresolved_venues"`
	DualWrites        int64   `json:"dual_writes"`
	AvgDurationMicros float64 `json:"avg_duration_micros"`
}

// NewPublisher wraps inner with canonicalization. A nil Metrics sink is
// replaced with NopSink.
func NewPublisher(inner pipeline.Publisher, canon *Canonicalizer, opts Options) *CanonicalizingPublisher {
	if opts.Metrics == nil {
		opts.Metrics = NopSink{}
	}
	pilot := make(map[string]struct{}, len(opts.PilotSymbols))
	for _, s := range opts.PilotSymbols {
		if s = strings.TrimSpace(s); s != "" {
			pilot[strings.ToUpper(s)] = struct{}{}
		}
	}
	return &CanonicalizingPublisher{
		inner:     inner,
		canon:     canon,
		pilot:     pilot,
		dualWrite: opts.DualWrite,
		sink:      opts.Metrics,
	}
}

// TryPublish implements pipeline.Publisher.
func (p *CanonicalizingPublisher) TryPublish(evt *market.MarketEvent) bool {
	if !p.inPilot(evt) {
		p.skip()
		return p.inner.TryPublish(evt)
	}
	if evt.IsHeartbeat() || evt.IsEnriched() {
		return p.inner.TryPublish(evt)
	}
	if p.dualWrite {
		if !p.inner.TryPublish(evt) {
			return false
		}
		p.dualWrites.Add(1)
		p.sink.DualWrite()
	}
	return p.inner.TryPublish(p.enrich(evt))
}

// PublishAsync implements pipeline.Publisher. In dual-write mode a failed
// raw publish returns its error without attempting the enriched write.
func (p *CanonicalizingPublisher) PublishAsync(ctx context.Context, evt *market.MarketEvent) error {
	if !p.inPilot(evt) {
		p.skip()
		return p.inner.PublishAsync(ctx, evt)
	}
	if evt.IsHeartbeat() || evt.IsEnriched() {
		return p.inner.PublishAsync(ctx, evt)
	}
	if p.dualWrite {
		if err := p.inner.PublishAsync(ctx, evt); err != nil {
			return err
		}
		p.dualWrites.Add(1)
		p.sink.DualWrite()
	}
	return p.inner.PublishAsync(ctx, p.enrich(evt))
}

// Stats returns a snapshot of the decorator counters.
func (p *CanonicalizingPublisher) Stats() Stats {
	count := p.canonicalized.Load()
	var avg float64
	if count > 0 {
		avg = float64(p.durationNanos.Load()) / float64(count) / float64(time.Microsecond)
	}
	return Stats{
		Canonicalized:     count,
		Skipped:           p.skipped.Load(),
		UnresolvedSymbols: p.unresolvedSymbols.Load(),
		UnresolvedVenues:  p.unresolvedVenues.Load(),
		DualWrites:        p.dualWrites.Load(),
		AvgDurationMicros: avg,
	}
}

func (p *CanonicalizingPublisher) inPilot(evt *market.MarketEvent) bool {
	if len(p.pilot) == 0 {
		return true
	}
	_, ok := p.pilot[strings.ToUpper(evt.Symbol)]
	return ok
}

func (p *CanonicalizingPublisher) skip() {
	p.skipped.Add(1)
	p.sink.Skipped()
}

func (p *CanonicalizingPublisher) enrich(evt *market.MarketEvent) *market.MarketEvent {
	start := time.Now()
	out, res := p.canon.Canonicalize(evt)
	elapsed := time.Since(start)

	p.canonicalized.Add(1)
	p.durationNanos.Add(int64(elapsed))
	p.sink.Canonicalized(elapsed)
	if !res.SymbolMapped {
		p.unresolvedSymbols.Add(1)
		p.sink.UnresolvedSymbol(evt.Source)
	}
	if !res.VenueMapped {
		p.unresolvedVenues.Add(1)
		p.sink.UnresolvedVenue(evt.Source)
	}
	return out
}
