// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package canonical

import (
	"time"

	"github.com/tomtom215/tickerwire/internal/metrics"
)

// MetricsSink receives canonicalization telemetry. Implementations must be
// safe for concurrent use and must not block.
type MetricsSink interface {
	Canonicalized(d time.Duration)
	Skipped()
	UnresolvedSymbol(provider string)
	UnresolvedVenue(provider string)
	DualWrite()
}

// PromSink forwards telemetry to the process-wide Prometheus collectors.
type PromSink struct{}

// Canonicalized implements MetricsSink.
func (PromSink) Canonicalized(d time.Duration) { metrics.RecordCanonicalization(d) }

// Skipped implements MetricsSink.
func (PromSink) Skipped() { metrics.RecordCanonicalizationSkip() }

// UnresolvedSymbol implements MetricsSink.
func (PromSink) UnresolvedSymbol(provider string) { metrics.RecordUnresolvedSymbol(provider) }

// UnresolvedVenue implements MetricsSink.
func (PromSink) UnresolvedVenue(provider string) { metrics.RecordUnresolvedVenue(provider) }

// DualWrite implements MetricsSink.
func (PromSink) DualWrite() { metrics.RecordDualWrite() }

// NopSink discards all telemetry.
type NopSink struct{}

// Canonicalized implements MetricsSink.
func (NopSink) Canonicalized(time.Duration) {}

// Skipped implements MetricsSink.
func (NopSink) Skipped() {}

// UnresolvedSymbol implements MetricsSink.
func (NopSink) UnresolvedSymbol(string) {}

// UnresolvedVenue implements MetricsSink.
func (NopSink) UnresolvedVenue(string) {}

// DualWrite implements MetricsSink.
func (NopSink) DualWrite() {}
