// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

// Package metrics provides Prometheus instrumentation for the event
// pipeline, canonicalization, streaming connections, historical providers,
// backfill runs, and the resubscribe policy. Collectors are registered via
// promauto at package load and exposed on /metrics by the ops API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	PipelineEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_events_published_total",
			Help: "Total events accepted by a pipeline",
		},
		[]string{"pipeline"},
	)

	PipelineEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_events_dropped_total",
			Help: "Total events dropped by a pipeline",
		},
		[]string{"pipeline", "reason"},
	)

	PipelineEventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_events_consumed_total",
			Help: "Total events handed to the storage sink",
		},
		[]string{"pipeline"},
	)

	PipelineQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Current queue depth of a pipeline",
		},
		[]string{"pipeline"},
	)

	PipelineHighWater = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_high_water",
			Help: "1 while the high-water-mark warning latch is set",
		},
		[]string{"pipeline"},
	)

	PipelineBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_batch_duration_seconds",
			Help:    "Wall-clock duration of one consumer batch",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"pipeline"},
	)

	PipelineFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_flush_duration_seconds",
			Help:    "Duration of sink flush operations",
			Buckets: prometheus.DefBuckets,
		},
	)

	PipelineFlushErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_flush_errors_total",
			Help: "Total failed sink flush operations",
		},
	)

	// Canonicalization metrics
	CanonicalizedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canonicalization_events_total",
			Help: "Total events enriched with canonical identity",
		},
	)

	CanonicalizationSkips = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canonicalization_skips_total",
			Help: "Total events forwarded raw by the pilot filter",
		},
	)

	CanonicalizationUnresolvedSymbols = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canonicalization_unresolved_symbols_total",
			Help: "Symbol lookups with no canonical mapping",
		},
		[]string{"provider"},
	)

	CanonicalizationUnresolvedVenues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canonicalization_unresolved_venues_total",
			Help: "Venue lookups with no MIC mapping",
		},
		[]string{"provider"},
	)

	CanonicalizationDualWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canonicalization_dual_writes_total",
			Help: "Total raw+enriched event pairs emitted in dual-write mode",
		},
	)

	CanonicalizationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "canonicalization_duration_seconds",
			Help:    "Duration of single-event canonicalization",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.001},
		},
	)

	// Streaming connection metrics
	StreamConnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_connects_total",
			Help: "WebSocket connect attempts by outcome",
		},
		[]string{"provider", "outcome"},
	)

	StreamReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_reconnects_total",
			Help: "Completed reconnect cycles",
		},
		[]string{"provider"},
	)

	StreamHeartbeatFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_heartbeat_failures_total",
			Help: "Heartbeat probes that failed or timed out",
		},
		[]string{"provider"},
	)

	StreamMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_messages_received_total",
			Help: "Raw WebSocket messages received",
		},
		[]string{"provider"},
	)

	StreamConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stream_connected",
			Help: "1 while the provider socket is connected",
		},
		[]string{"provider"},
	)

	// Historical provider metrics
	HistoricalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "historical_requests_total",
			Help: "Historical bar requests by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	HistoricalBarsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "historical_bars_fetched_total",
			Help: "Bars returned by historical providers",
		},
		[]string{"provider"},
	)

	HistoricalFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "historical_fallbacks_total",
			Help: "Times the composite provider moved past a provider",
		},
	)

	// Backfill metrics
	BackfillRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_runs_total",
			Help: "Backfill runs by outcome",
		},
		[]string{"outcome"},
	)

	BackfillBarsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backfill_bars_written_total",
			Help: "Historical bars published into a pipeline by backfills",
		},
	)

	BackfillDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backfill_duration_seconds",
			Help:    "Duration of backfill runs",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	GapBackfillsTriggered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gap_backfills_triggered_total",
			Help: "Backfills triggered by reconnect gaps",
		},
	)

	GapBackfillsSucceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gap_backfills_succeeded_total",
			Help: "Gap backfills that completed successfully",
		},
	)

	// Resubscribe policy metrics
	ResubscribeAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resubscribe_attempts_total",
			Help: "Resubscribe attempts made by the policy",
		},
	)

	ResubscribeSuccesses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resubscribe_successes_total",
			Help: "Resubscribe attempts that succeeded",
		},
	)

	ResubscribeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resubscribe_failures_total",
			Help: "Resubscribe attempts that failed",
		},
	)

	ResubscribeSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resubscribe_skips_total",
			Help: "Integrity events skipped by the policy",
		},
		[]string{"reason"},
	)

	ResubscribeGlobalCircuit = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resubscribe_global_circuit_state",
			Help: "Global circuit state (0=closed, 1=half-open, 2=open)",
		},
	)

	ResubscribeOpenSymbolCircuits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resubscribe_open_symbol_circuits",
			Help: "Symbols whose per-symbol circuit is currently open",
		},
	)

	// Distributor (NATS) metrics
	BusEventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_events_published_total",
			Help: "Events mirrored to the JetStream distributor",
		},
	)

	BusPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_publish_errors_total",
			Help: "Failed JetStream publishes",
		},
	)

	// Storage sink metrics
	StoreEventsAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "store_events_appended_total",
			Help: "Events buffered by the DuckDB sink",
		},
	)

	StoreRowsFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "store_rows_flushed_total",
			Help: "Rows written by the DuckDB sink",
		},
	)

	StoreFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "store_flush_duration_seconds",
			Help:    "Duration of DuckDB flush transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	StoreFlushErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "store_flush_errors_total",
			Help: "Failed DuckDB flush transactions",
		},
	)

	// Dropped-event audit trail metrics
	AuditRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_records_total",
			Help: "Dropped events recorded to the audit trail",
		},
	)

	AuditErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_errors_total",
			Help: "Audit trail writes that failed",
		},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordPipelinePublish counts one accepted publish.
func RecordPipelinePublish(pipeline string) {
	PipelineEventsPublished.WithLabelValues(pipeline).Inc()
}

// RecordPipelineDrop counts one dropped event.
func RecordPipelineDrop(pipeline, reason string) {
	PipelineEventsDropped.WithLabelValues(pipeline, reason).Inc()
}

// RecordPipelineBatch counts a consumed batch and its duration.
func RecordPipelineBatch(pipeline string, events int, duration time.Duration) {
	PipelineEventsConsumed.WithLabelValues(pipeline).Add(float64(events))
	PipelineBatchDuration.WithLabelValues(pipeline).Observe(duration.Seconds())
}

// UpdatePipelineQueueDepth records the sampled queue depth.
func UpdatePipelineQueueDepth(pipeline string, depth int) {
	PipelineQueueDepth.WithLabelValues(pipeline).Set(float64(depth))
}

// UpdatePipelineHighWater records the warning latch state.
func UpdatePipelineHighWater(pipeline string, latched bool) {
	v := 0.0
	if latched {
		v = 1.0
	}
	PipelineHighWater.WithLabelValues(pipeline).Set(v)
}

// RecordPipelineFlush records a flush and its outcome.
func RecordPipelineFlush(duration time.Duration, err error) {
	PipelineFlushDuration.Observe(duration.Seconds())
	if err != nil {
		PipelineFlushErrors.Inc()
	}
}

// RecordCanonicalization counts one enriched event and its duration.
func RecordCanonicalization(duration time.Duration) {
	CanonicalizedEvents.Inc()
	CanonicalizationDuration.Observe(duration.Seconds())
}

// RecordCanonicalizationSkip counts one pilot-filtered event.
func RecordCanonicalizationSkip() {
	CanonicalizationSkips.Inc()
}

// RecordUnresolvedSymbol counts a symbol lookup miss.
func RecordUnresolvedSymbol(provider string) {
	CanonicalizationUnresolvedSymbols.WithLabelValues(provider).Inc()
}

// RecordUnresolvedVenue counts a venue lookup miss.
func RecordUnresolvedVenue(provider string) {
	CanonicalizationUnresolvedVenues.WithLabelValues(provider).Inc()
}

// RecordDualWrite counts one raw+enriched pair.
func RecordDualWrite() {
	CanonicalizationDualWrites.Inc()
}

// RecordStreamConnect counts a connect attempt.
func RecordStreamConnect(provider string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	StreamConnects.WithLabelValues(provider, outcome).Inc()
}

// RecordStreamReconnect counts a completed reconnect cycle.
func RecordStreamReconnect(provider string) {
	StreamReconnects.WithLabelValues(provider).Inc()
}

// RecordStreamHeartbeatFailure counts a failed heartbeat probe.
func RecordStreamHeartbeatFailure(provider string) {
	StreamHeartbeatFailures.WithLabelValues(provider).Inc()
}

// RecordStreamMessage counts a received WebSocket message.
func RecordStreamMessage(provider string) {
	StreamMessagesReceived.WithLabelValues(provider).Inc()
}

// UpdateStreamConnected records the connection gauge.
func UpdateStreamConnected(provider string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	StreamConnected.WithLabelValues(provider).Set(v)
}

// RecordHistoricalRequest counts one provider request by outcome
// (success, empty, transient, permanent, unavailable).
func RecordHistoricalRequest(provider, outcome string) {
	HistoricalRequests.WithLabelValues(provider, outcome).Inc()
}

// RecordHistoricalBars counts bars returned by a provider.
func RecordHistoricalBars(provider string, count int) {
	HistoricalBarsFetched.WithLabelValues(provider).Add(float64(count))
}

// RecordHistoricalFallback counts a provider failover.
func RecordHistoricalFallback() {
	HistoricalFallbacks.Inc()
}

// RecordBackfillRun records a backfill outcome and duration.
func RecordBackfillRun(success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	BackfillRuns.WithLabelValues(outcome).Inc()
	BackfillDuration.Observe(duration.Seconds())
}

// RecordBackfillBars counts bars published by a backfill.
func RecordBackfillBars(count int) {
	BackfillBarsWritten.Add(float64(count))
}

// RecordGapBackfillTriggered counts one gap-triggered backfill.
func RecordGapBackfillTriggered() {
	GapBackfillsTriggered.Inc()
}

// RecordGapBackfillSucceeded counts one successful gap backfill.
func RecordGapBackfillSucceeded() {
	GapBackfillsSucceeded.Inc()
}

// RecordResubscribeAttempt counts a policy attempt and its outcome.
func RecordResubscribeAttempt(success bool) {
	ResubscribeAttempts.Inc()
	if success {
		ResubscribeSuccesses.Inc()
	} else {
		ResubscribeFailures.Inc()
	}
}

// RecordResubscribeSkip counts a skipped integrity event by reason
// (severity, global_circuit, cooldown, rate_limited, symbol_circuit).
func RecordResubscribeSkip(reason string) {
	ResubscribeSkips.WithLabelValues(reason).Inc()
}

// UpdateGlobalCircuit records the global circuit state gauge.
func UpdateGlobalCircuit(state float64) {
	ResubscribeGlobalCircuit.Set(state)
}

// UpdateOpenSymbolCircuits records the open per-symbol circuit count.
func UpdateOpenSymbolCircuits(count int) {
	ResubscribeOpenSymbolCircuits.Set(float64(count))
}

// RecordBusPublish counts a distributor publish and its outcome.
func RecordBusPublish(err error) {
	if err != nil {
		BusPublishErrors.Inc()
		return
	}
	BusEventsPublished.Inc()
}

// RecordStoreAppend counts one buffered event.
func RecordStoreAppend() {
	StoreEventsAppended.Inc()
}

// RecordStoreFlush records a flush transaction.
func RecordStoreFlush(rows int, duration time.Duration, err error) {
	StoreFlushDuration.Observe(duration.Seconds())
	if err != nil {
		StoreFlushErrors.Inc()
		return
	}
	StoreRowsFlushed.Add(float64(rows))
}

// RecordAuditWrite counts an audit trail write and its outcome.
func RecordAuditWrite(err error) {
	if err != nil {
		AuditErrors.Inc()
		return
	}
	AuditRecords.Inc()
}

// RecordAPIRequest records API request metrics.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
