// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package pipeline

import "time"

// FullMode selects the behavior of a pipeline whose queue is full.
type FullMode int

const (
	// DropOldest evicts the oldest queued event to make room for the new
	// one. The evicted event is counted dropped and sent to the audit trail.
	DropOldest FullMode = iota
	// Wait rejects non-blocking publishes and blocks PublishAsync until
	// space frees, the context is canceled, or the pipeline completes.
	Wait
)

// String returns a human-readable mode name.
func (m FullMode) String() string {
	switch m {
	case DropOldest:
		return "drop_oldest"
	case Wait:
		return "wait"
	default:
		return "unknown"
	}
}

// Policy controls queue capacity and full-queue behavior.
type Policy struct {
	Capacity      int
	FullMode      FullMode
	EnableMetrics bool
}

// DefaultPolicy sizes the main market-data pipeline.
func DefaultPolicy() Policy {
	return Policy{Capacity: 100000, FullMode: DropOldest, EnableMetrics: true}
}

// HighThroughputPolicy sizes a pipeline fed by bursty depth streams.
func HighThroughputPolicy() Policy {
	return Policy{Capacity: 50000, FullMode: DropOldest, EnableMetrics: true}
}

// MessageBufferPolicy sizes an intermediate raw-message buffer.
func MessageBufferPolicy() Policy {
	return Policy{Capacity: 50000, FullMode: DropOldest, EnableMetrics: true}
}

// MaintenanceQueuePolicy sizes a small queue for maintenance work where
// losing entries is worse than blocking the producer.
func MaintenanceQueuePolicy() Policy {
	return Policy{Capacity: 100, FullMode: Wait, EnableMetrics: false}
}

// LoggingPolicy sizes a best-effort diagnostics queue.
func LoggingPolicy() Policy {
	return Policy{Capacity: 1000, FullMode: DropOldest, EnableMetrics: false}
}

// CompletionQueuePolicy sizes a queue of completion notifications that
// must not be lost.
func CompletionQueuePolicy() Policy {
	return Policy{Capacity: 500, FullMode: Wait, EnableMetrics: false}
}

func (p Policy) withDefaults() Policy {
	if p.Capacity <= 0 {
		p.Capacity = DefaultPolicy().Capacity
	}
	return p
}

// Config controls consumer batching, flushing, and shutdown timeouts.
type Config struct {
	// BatchSize caps the number of events drained per consumer iteration.
	BatchSize int
	// FlushInterval is the period of the background flusher.
	FlushInterval time.Duration
	// EnablePeriodicFlush starts the background flusher alongside the
	// consumer.
	EnablePeriodicFlush bool
	// DisposeTimeout caps how long Dispose waits for the consumer.
	DisposeTimeout time.Duration
	// FinalFlushTimeout caps the consumer's last flush before exit.
	FinalFlushTimeout time.Duration
	// FlusherStopTimeout caps how long Dispose waits for the flusher.
	FlusherStopTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:           100,
		FlushInterval:       5 * time.Second,
		EnablePeriodicFlush: true,
		DisposeTimeout:      35 * time.Second,
		FinalFlushTimeout:   30 * time.Second,
		FlusherStopTimeout:  5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	if c.DisposeTimeout <= 0 {
		c.DisposeTimeout = def.DisposeTimeout
	}
	if c.FinalFlushTimeout <= 0 {
		c.FinalFlushTimeout = def.FinalFlushTimeout
	}
	if c.FlusherStopTimeout <= 0 {
		c.FlusherStopTimeout = def.FlusherStopTimeout
	}
	return c
}
