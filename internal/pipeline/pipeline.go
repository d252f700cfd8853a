// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

// Package pipeline implements the bounded event pipeline that carries
// market events from providers to a storage sink.
//
// A pipeline owns a fixed-capacity queue, exactly one consumer goroutine,
// and an optional periodic flusher. Producers publish through TryPublish
// (non-blocking) or PublishAsync (blocking under the Wait policy). When the
// queue is full under DropOldest, the oldest event is evicted, counted, and
// recorded to the drop audit trail; publishes to a completed pipeline are
// rejected the same way.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tickerwire/internal/market"
	"github.com/tomtom215/tickerwire/internal/metrics"
)

// Drop reasons recorded to the audit trail.
const (
	ReasonQueueFull = "backpressure_queue_full"
	ReasonCompleted = "pipeline_completed"
)

const (
	highWaterThreshold = 0.80
	lowWaterThreshold  = 0.50

	periodicFlushTimeout = 30 * time.Second
)

// ErrCompleted is returned by PublishAsync after Complete or Dispose.
var ErrCompleted = errors.New("pipeline: completed")

// EventPipeline is a bounded multi-producer, single-consumer event queue.
// All methods are safe for concurrent use.
type EventPipeline struct {
	name   string
	policy Policy
	cfg    Config
	sink   StorageSink
	audit  DropAudit
	logger zerolog.Logger

	ch         chan *market.MarketEvent
	ctx        context.Context
	cancel     context.CancelFunc
	completeCh chan struct{}

	completeOnce sync.Once
	completed    atomic.Bool
	started      atomic.Bool
	disposed     atomic.Bool

	consumerDone chan struct{}
	flusherDone  chan struct{}

	published atomic.Int64
	dropped   atomic.Int64
	consumed  atomic.Int64
	procNanos atomic.Int64
	lastFlush atomic.Int64
	highWater atomic.Bool
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	Name            string    `json:"name"`
	Published       int64     `json:"published"`
	Dropped         int64     `json:"dropped"`
	Consumed        int64     `json:"consumed"`
	QueueDepth      int       `json:"queue_depth"`
	Capacity        int       `json:"capacity"`
	AvgProcessNanos int64     `json:"avg_process_nanos"`
	LastFlush       time.Time `json:"last_flush"`
	HighWater       bool      `json:"high_water"`
}

// New builds a pipeline. The audit trail may be nil; drops are then only
// counted. Call Start to launch the consumer.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(name string, policy Policy, cfg Config, sink StorageSink, audit DropAudit, logger zerolog.Logger) (*EventPipeline, error) {
	if name == "" {
		return nil, errors.New("pipeline: name is required")
	}
	if sink == nil {
		return nil, errors.New("pipeline: sink is required")
	}
	policy = policy.withDefaults()
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &EventPipeline{
		name:         name,
		policy:       policy,
		cfg:          cfg,
		sink:         sink,
		audit:        audit,
		logger:       logger.With().Str("pipeline", name).Logger(),
		ch:           make(chan *market.MarketEvent, policy.Capacity),
		ctx:          ctx,
		cancel:       cancel,
		completeCh:   make(chan struct{}),
		consumerDone: make(chan struct{}),
		flusherDone:  make(chan struct{}),
	}, nil
}

// Start launches the consumer and, when configured, the periodic flusher.
// Safe to call once; later calls are no-ops.
func (p *EventPipeline) Start() {
	if p.started.Swap(true) {
		return
	}

	go p.consume()
	if p.cfg.EnablePeriodicFlush {
		go p.flushLoop()
	} else {
		close(p.flusherDone)
	}

	p.logger.Info().
		Int("capacity", p.policy.Capacity).
		Str("full_mode", p.policy.FullMode.String()).
		Int("batch_size", p.cfg.BatchSize).
		Bool("periodic_flush", p.cfg.EnablePeriodicFlush).
		Msg("pipeline started")
}

// TryPublish offers evt without blocking. Under DropOldest a full queue
// evicts its oldest entry and the publish still succeeds; false means the
// pipeline is completed (or the queue is full under Wait). Rejected and
// evicted events are counted dropped and recorded to the audit trail.
func (p *EventPipeline) TryPublish(evt *market.MarketEvent) bool {
	if p.completed.Load() {
		p.drop(evt, ReasonCompleted)
		return false
	}

	select {
	case p.ch <- evt:
		p.accepted()
		return true
	default:
	}

	if p.policy.FullMode == Wait {
		p.drop(evt, ReasonQueueFull)
		return false
	}

	// DropOldest: evict until the send lands. The consumer may free a slot
	// between the failed send and the eviction, in which case nothing is
	// evicted on that iteration.
	for {
		select {
		case p.ch <- evt:
			p.accepted()
			return true
		default:
		}
		select {
		case oldest := <-p.ch:
			p.drop(oldest, ReasonQueueFull)
		default:
		}
	}
}

// PublishAsync publishes evt, blocking under the Wait policy until space
// frees, ctx is canceled, or the pipeline completes. Under DropOldest it
// yields once when the queue is momentarily full, then behaves as
// TryPublish.
func (p *EventPipeline) PublishAsync(ctx context.Context, evt *market.MarketEvent) error {
	if p.completed.Load() {
		p.drop(evt, ReasonCompleted)
		return ErrCompleted
	}

	if p.policy.FullMode == Wait {
		select {
		case p.ch <- evt:
			p.accepted()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-p.completeCh:
			p.drop(evt, ReasonCompleted)
			return ErrCompleted
		}
	}

	select {
	case p.ch <- evt:
		p.accepted()
		return nil
	default:
	}
	runtime.Gosched()
	if !p.TryPublish(evt) {
		return ErrCompleted
	}
	return nil
}

// Flush forces the sink to persist buffered data now.
func (p *EventPipeline) Flush(ctx context.Context) error {
	start := time.Now()
	err := p.sink.Flush(ctx)
	if p.policy.EnableMetrics {
		metrics.RecordPipelineFlush(time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("flush sink: %w", err)
	}
	p.lastFlush.Store(time.Now().UnixNano())
	return nil
}

// Complete signals that no more producers will publish. The consumer
// drains the queue, flushes, and exits. Idempotent.
func (p *EventPipeline) Complete() {
	p.completeOnce.Do(func() {
		p.completed.Store(true)
		close(p.completeCh)
	})
}

// Dispose shuts the pipeline down: cancels in-flight work, completes the
// queue, waits for the consumer and flusher with bounded patience, then
// closes the sink and the audit trail. Idempotent.
func (p *EventPipeline) Dispose(ctx context.Context) error {
	if p.disposed.Swap(true) {
		return nil
	}

	p.logger.Info().Msg("disposing pipeline")
	p.cancel()
	p.Complete()

	if p.started.Load() {
		select {
		case <-p.consumerDone:
		case <-time.After(p.cfg.DisposeTimeout):
			p.logger.Warn().
				Dur("timeout", p.cfg.DisposeTimeout).
				Int("queue_depth", len(p.ch)).
				Msg("pipeline consumer did not stop in time")
		}
		select {
		case <-p.flusherDone:
		case <-time.After(p.cfg.FlusherStopTimeout):
			p.logger.Warn().
				Dur("timeout", p.cfg.FlusherStopTimeout).
				Msg("pipeline flusher did not stop in time")
		}
	}

	var closeErr error
	if err := p.sink.Close(ctx); err != nil {
		closeErr = fmt.Errorf("close sink: %w", err)
		p.logger.Error().Err(err).Msg("failed to close pipeline sink")
	}
	if p.audit != nil {
		if err := p.audit.Close(); err != nil {
			p.logger.Error().Err(err).Msg("failed to close drop audit trail")
		}
	}

	p.logger.Info().
		Int64("published", p.published.Load()).
		Int64("consumed", p.consumed.Load()).
		Int64("dropped", p.dropped.Load()).
		Msg("pipeline disposed")
	return closeErr
}

// Stats returns a snapshot of the pipeline counters.
func (p *EventPipeline) Stats() Stats {
	consumed := p.consumed.Load()
	var avg int64
	if consumed > 0 {
		avg = p.procNanos.Load() / consumed
	}
	var last time.Time
	if n := p.lastFlush.Load(); n > 0 {
		last = time.Unix(0, n).UTC()
	}
	return Stats{
		Name:            p.name,
		Published:       p.published.Load(),
		Dropped:         p.dropped.Load(),
		Consumed:        consumed,
		QueueDepth:      len(p.ch),
		Capacity:        p.policy.Capacity,
		AvgProcessNanos: avg,
		LastFlush:       last,
		HighWater:       p.highWater.Load(),
	}
}

// Name returns the pipeline name used in logs and metrics.
func (p *EventPipeline) Name() string {
	return p.name
}

func (p *EventPipeline) accepted() {
	p.published.Add(1)
	if p.policy.EnableMetrics {
		metrics.RecordPipelinePublish(p.name)
		metrics.UpdatePipelineQueueDepth(p.name, len(p.ch))
	}
	p.checkHighWater()
}

func (p *EventPipeline) drop(evt *market.MarketEvent, reason string) {
	p.dropped.Add(1)
	if p.policy.EnableMetrics {
		metrics.RecordPipelineDrop(p.name, reason)
	}
	if p.audit != nil {
		p.audit.Record(evt, reason)
	}
}

// checkHighWater latches a warning at 80% utilization and clears it below
// 50%. Runs on the publish path only, so it costs two atomic loads when
// nothing changes.
func (p *EventPipeline) checkHighWater() {
	capacity := cap(p.ch)
	if capacity == 0 {
		return
	}
	depth := len(p.ch)
	util := float64(depth) / float64(capacity)

	switch {
	case util >= highWaterThreshold:
		if p.highWater.CompareAndSwap(false, true) {
			p.logger.Warn().
				Float64("utilization", util).
				Int("size", depth).
				Int("capacity", capacity).
				Msg("pipeline queue above high-water mark")
			if p.policy.EnableMetrics {
				metrics.UpdatePipelineHighWater(p.name, true)
			}
		}
	case util < lowWaterThreshold:
		if p.highWater.CompareAndSwap(true, false) {
			p.logger.Info().
				Float64("utilization", util).
				Int("size", depth).
				Int("capacity", capacity).
				Msg("pipeline queue recovered")
			if p.policy.EnableMetrics {
				metrics.UpdatePipelineHighWater(p.name, false)
			}
		}
	}
}

// consume is the single consumer goroutine. It batches greedily up to
// BatchSize, hands each event to the sink, and on completion drains the
// queue and runs one final bounded flush. A sink append error stops
// consumption entirely; the queue then backs up and publishes drop.
func (p *EventPipeline) consume() {
	defer close(p.consumerDone)

	batch := make([]*market.MarketEvent, 0, p.cfg.BatchSize)
	for {
		select {
		case evt := <-p.ch:
			batch = append(batch[:0], evt)
			p.drainInto(&batch)
			if !p.processBatch(batch) {
				return
			}
		case <-p.completeCh:
			if p.drainRemaining() {
				p.finalFlush()
			}
			return
		case <-p.ctx.Done():
			if p.drainRemaining() {
				p.finalFlush()
			}
			return
		}
	}
}

// drainInto appends queued events to batch without blocking, up to
// BatchSize.
func (p *EventPipeline) drainInto(batch *[]*market.MarketEvent) {
	for len(*batch) < p.cfg.BatchSize {
		select {
		case evt := <-p.ch:
			*batch = append(*batch, evt)
		default:
			return
		}
	}
}

// drainRemaining consumes everything left in the queue after completion.
// Returns false if the sink failed mid-drain.
func (p *EventPipeline) drainRemaining() bool {
	batch := make([]*market.MarketEvent, 0, p.cfg.BatchSize)
	drained := 0
	for {
		batch = batch[:0]
		p.drainInto(&batch)
		if len(batch) == 0 {
			if drained > 0 {
				p.logger.Info().Int("count", drained).Msg("pipeline drained queued events during shutdown")
			}
			return true
		}
		if !p.processBatch(batch) {
			return false
		}
		drained += len(batch)
	}
}

func (p *EventPipeline) processBatch(batch []*market.MarketEvent) bool {
	start := time.Now()
	for _, evt := range batch {
		// The publish-path context may already be canceled during drain;
		// appends buffer only, so a background context is safe here.
		if err := p.sink.Append(context.Background(), evt); err != nil {
			p.logger.Error().
				Err(err).
				Int("batch_size", len(batch)).
				Msg("sink append failed, pipeline consumer stopping")
			return false
		}
	}
	elapsed := time.Since(start)

	p.consumed.Add(int64(len(batch)))
	p.procNanos.Add(int64(elapsed))
	if p.policy.EnableMetrics {
		metrics.RecordPipelineBatch(p.name, len(batch), elapsed)
		metrics.UpdatePipelineQueueDepth(p.name, len(p.ch))
	}
	return true
}

// finalFlush is the consumer's last act before exit. Timeouts here lose
// whatever the sink still buffers, so they log at warning.
func (p *EventPipeline) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.FinalFlushTimeout)
	defer cancel()

	start := time.Now()
	err := p.sink.Flush(ctx)
	if p.policy.EnableMetrics {
		metrics.RecordPipelineFlush(time.Since(start), err)
	}
	if err != nil {
		p.logger.Warn().
			Err(err).
			Dur("timeout", p.cfg.FinalFlushTimeout).
			Msg("final flush failed, buffered events may be lost")
		return
	}
	p.lastFlush.Store(time.Now().UnixNano())
}

// flushLoop flushes the sink every FlushInterval until shutdown. Errors
// are logged and the loop continues.
func (p *EventPipeline) flushLoop() {
	defer close(p.flusherDone)

	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), periodicFlushTimeout)
			start := time.Now()
			err := p.sink.Flush(ctx)
			cancel()
			if p.policy.EnableMetrics {
				metrics.RecordPipelineFlush(time.Since(start), err)
			}
			if err != nil {
				p.logger.Warn().Err(err).Msg("periodic flush failed")
				continue
			}
			p.lastFlush.Store(time.Now().UnixNano())
		case <-p.completeCh:
			return
		case <-p.ctx.Done():
			return
		}
	}
}
