// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tickerwire/internal/market"
)

type memorySink struct {
	mu          sync.Mutex
	events      []*market.MarketEvent
	appendErr   error
	appendDelay time.Duration
	flushes     int
	flushErr    error
	closed      bool
}

func (s *memorySink) Append(_ context.Context, evt *market.MarketEvent) error {
	if s.appendDelay > 0 {
		time.Sleep(s.appendDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.events = append(s.events, evt)
	return nil
}

func (s *memorySink) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flushErr != nil {
		return s.flushErr
	}
	s.flushes++
	return nil
}

func (s *memorySink) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *memorySink) symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, evt := range s.events {
		out[i] = evt.Symbol
	}
	return out
}

func (s *memorySink) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

func (s *memorySink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type auditEntry struct {
	symbol string
	reason string
}

type memoryAudit struct {
	mu      sync.Mutex
	entries []auditEntry
	closed  bool
}

func (a *memoryAudit) Record(evt *market.MarketEvent, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, auditEntry{symbol: evt.Symbol, reason: reason})
}

func (a *memoryAudit) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *memoryAudit) all() []auditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]auditEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

func tradeEvent(symbol string) *market.MarketEvent {
	return market.NewEvent("alpaca", market.EventTypeTrade, symbol, &market.TradePayload{
		Price: 187.25,
		Size:  100,
		Venue: "Q",
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

func newTestPipeline(t *testing.T, policy Policy, cfg Config, sink StorageSink, audit DropAudit) *EventPipeline {
	t.Helper()
	p, err := New("test", policy, cfg, sink, audit, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func TestNewValidation(t *testing.T) {
	if _, err := New("", DefaultPolicy(), DefaultConfig(), &memorySink{}, nil, zerolog.Nop()); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := New("p", DefaultPolicy(), DefaultConfig(), nil, nil, zerolog.Nop()); err == nil {
		t.Error("expected error for nil sink")
	}
}

func TestBackpressureDropOldest(t *testing.T) {
	sink := &memorySink{}
	audit := &memoryAudit{}
	p := newTestPipeline(t, Policy{Capacity: 4, FullMode: DropOldest, EnableMetrics: true}, Config{EnablePeriodicFlush: false}, sink, audit)

	for i := 1; i <= 10; i++ {
		evt := tradeEvent(fmt.Sprintf("E%d", i))
		if !p.TryPublish(evt) {
			t.Fatalf("TryPublish(E%d) returned false, want true", i)
		}
	}

	stats := p.Stats()
	if stats.Published != 10 {
		t.Errorf("Published = %d, want 10", stats.Published)
	}
	if stats.Dropped != 6 {
		t.Errorf("Dropped = %d, want 6", stats.Dropped)
	}
	if stats.QueueDepth != 4 {
		t.Errorf("QueueDepth = %d, want 4", stats.QueueDepth)
	}

	entries := audit.all()
	if len(entries) != 6 {
		t.Fatalf("audit entries = %d, want 6", len(entries))
	}
	for i, e := range entries {
		wantSym := fmt.Sprintf("E%d", i+1)
		if e.symbol != wantSym {
			t.Errorf("audit[%d].symbol = %q, want %q", i, e.symbol, wantSym)
		}
		if e.reason != ReasonQueueFull {
			t.Errorf("audit[%d].reason = %q, want %q", i, e.reason, ReasonQueueFull)
		}
	}

	p.Start()
	waitFor(t, 2*time.Second, func() bool { return sink.count() == 4 }, "consumer drain")

	got := sink.symbols()
	want := []string{"E7", "E8", "E9", "E10"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("consumed[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if err := p.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose failed: %v", err)
	}
}

func TestConservation(t *testing.T) {
	sink := &memorySink{}
	p := newTestPipeline(t, Policy{Capacity: 8, FullMode: DropOldest}, Config{EnablePeriodicFlush: false}, sink, nil)
	p.Start()

	const producers = 4
	const perProducer = 250

	var wg sync.WaitGroup
	for g := 0; g < producers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				evt := tradeEvent(fmt.Sprintf("S%d_%d", g, i))
				if !p.TryPublish(evt) {
					t.Errorf("TryPublish returned false before completion")
					return
				}
				if depth := len(p.ch); depth > 8 {
					t.Errorf("queue depth %d exceeded capacity 8", depth)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	p.Complete()
	waitFor(t, 5*time.Second, func() bool {
		select {
		case <-p.consumerDone:
			return true
		default:
			return false
		}
	}, "consumer exit after Complete")

	stats := p.Stats()
	if stats.Published != producers*perProducer {
		t.Errorf("Published = %d, want %d", stats.Published, producers*perProducer)
	}
	if got := stats.Consumed + int64(stats.QueueDepth) + stats.Dropped; got != stats.Published {
		t.Errorf("conservation violated: consumed(%d) + depth(%d) + dropped(%d) = %d, want published %d",
			stats.Consumed, stats.QueueDepth, stats.Dropped, got, stats.Published)
	}
	if int64(sink.count()) != stats.Consumed {
		t.Errorf("sink received %d events, stats report %d consumed", sink.count(), stats.Consumed)
	}
}

func TestWaitModeTryPublishRejectsWhenFull(t *testing.T) {
	sink := &memorySink{}
	audit := &memoryAudit{}
	p := newTestPipeline(t, Policy{Capacity: 2, FullMode: Wait}, Config{EnablePeriodicFlush: false}, sink, audit)

	if !p.TryPublish(tradeEvent("A")) || !p.TryPublish(tradeEvent("B")) {
		t.Fatal("publishes within capacity must succeed")
	}
	if p.TryPublish(tradeEvent("C")) {
		t.Error("TryPublish on a full Wait queue must return false")
	}

	stats := p.Stats()
	if stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", stats.Dropped)
	}
	entries := audit.all()
	if len(entries) != 1 || entries[0].symbol != "C" || entries[0].reason != ReasonQueueFull {
		t.Errorf("audit = %+v, want single C/%s entry", entries, ReasonQueueFull)
	}
}

func TestWaitModePublishAsyncBlocks(t *testing.T) {
	sink := &memorySink{}
	p := newTestPipeline(t, Policy{Capacity: 1, FullMode: Wait}, Config{EnablePeriodicFlush: false}, sink, nil)

	if err := p.PublishAsync(context.Background(), tradeEvent("A")); err != nil {
		t.Fatalf("PublishAsync within capacity failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.PublishAsync(ctx, tradeEvent("B")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("PublishAsync on full Wait queue = %v, want deadline exceeded", err)
	}

	// Once the consumer frees space, the blocked publish proceeds.
	p.Start()
	waitFor(t, 2*time.Second, func() bool { return len(p.ch) == 0 }, "consumer drain")
	if err := p.PublishAsync(context.Background(), tradeEvent("C")); err != nil {
		t.Errorf("PublishAsync after drain failed: %v", err)
	}

	if err := p.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose failed: %v", err)
	}
}

func TestPublishAsyncDropOldest(t *testing.T) {
	sink := &memorySink{}
	audit := &memoryAudit{}
	p := newTestPipeline(t, Policy{Capacity: 1, FullMode: DropOldest}, Config{EnablePeriodicFlush: false}, sink, audit)

	if err := p.PublishAsync(context.Background(), tradeEvent("A")); err != nil {
		t.Fatalf("first PublishAsync failed: %v", err)
	}
	if err := p.PublishAsync(context.Background(), tradeEvent("B")); err != nil {
		t.Fatalf("second PublishAsync failed: %v", err)
	}

	stats := p.Stats()
	if stats.Published != 2 {
		t.Errorf("Published = %d, want 2", stats.Published)
	}
	if stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", stats.Dropped)
	}
	entries := audit.all()
	if len(entries) != 1 || entries[0].symbol != "A" {
		t.Errorf("audit = %+v, want evicted A", entries)
	}
}

func TestCompletedPipelineRejects(t *testing.T) {
	sink := &memorySink{}
	audit := &memoryAudit{}
	p := newTestPipeline(t, Policy{Capacity: 4, FullMode: DropOldest}, Config{EnablePeriodicFlush: false}, sink, audit)

	p.Complete()

	if p.TryPublish(tradeEvent("A")) {
		t.Error("TryPublish after Complete must return false")
	}
	if err := p.PublishAsync(context.Background(), tradeEvent("B")); !errors.Is(err, ErrCompleted) {
		t.Errorf("PublishAsync after Complete = %v, want ErrCompleted", err)
	}

	entries := audit.all()
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.reason != ReasonCompleted {
			t.Errorf("audit reason = %q, want %q", e.reason, ReasonCompleted)
		}
	}
}

func TestHighWaterLatch(t *testing.T) {
	sink := &memorySink{}
	p := newTestPipeline(t, Policy{Capacity: 10, FullMode: DropOldest}, Config{EnablePeriodicFlush: false}, sink, nil)

	for i := 0; i < 8; i++ {
		p.TryPublish(tradeEvent("HWM"))
	}
	if !p.Stats().HighWater {
		t.Error("latch must set at 80% utilization")
	}

	// Latch clears on the first publish observed below 50%.
	p.Start()
	waitFor(t, 2*time.Second, func() bool { return len(p.ch) == 0 }, "consumer drain")
	p.TryPublish(tradeEvent("LOW"))
	if p.Stats().HighWater {
		t.Error("latch must clear below 50% utilization")
	}

	if err := p.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose failed: %v", err)
	}
}

func TestConsumerStopsOnSinkError(t *testing.T) {
	sink := &memorySink{appendErr: errors.New("disk full")}
	p := newTestPipeline(t, Policy{Capacity: 4, FullMode: DropOldest}, Config{EnablePeriodicFlush: false}, sink, nil)
	p.Start()

	p.TryPublish(tradeEvent("A"))
	waitFor(t, 2*time.Second, func() bool {
		select {
		case <-p.consumerDone:
			return true
		default:
			return false
		}
	}, "consumer exit on sink error")

	if got := p.Stats().Consumed; got != 0 {
		t.Errorf("Consumed = %d, want 0 after sink failure", got)
	}
	// No final flush on the failure path.
	if sink.flushCount() != 0 {
		t.Errorf("flushes = %d, want 0", sink.flushCount())
	}

	// The queue backs up and publishes start dropping.
	for i := 0; i < 6; i++ {
		p.TryPublish(tradeEvent("BACKUP"))
	}
	if p.Stats().Dropped == 0 {
		t.Error("expected drops once the queue backed up")
	}
}

func TestDispose(t *testing.T) {
	sink := &memorySink{}
	audit := &memoryAudit{}
	p := newTestPipeline(t, Policy{Capacity: 16, FullMode: DropOldest}, Config{EnablePeriodicFlush: false}, sink, audit)
	p.Start()

	for i := 0; i < 3; i++ {
		p.TryPublish(tradeEvent(fmt.Sprintf("D%d", i)))
	}

	if err := p.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose failed: %v", err)
	}

	if got := sink.count(); got != 3 {
		t.Errorf("sink received %d events, want 3", got)
	}
	if sink.flushCount() == 0 {
		t.Error("expected a final flush before exit")
	}
	if !sink.isClosed() {
		t.Error("sink must be closed on dispose")
	}
	audit.mu.Lock()
	closed := audit.closed
	audit.mu.Unlock()
	if !closed {
		t.Error("audit trail must be closed on dispose")
	}

	// Idempotent.
	if err := p.Dispose(context.Background()); err != nil {
		t.Errorf("second Dispose failed: %v", err)
	}
}

func TestCompleteDrainsBeforeExit(t *testing.T) {
	sink := &memorySink{appendDelay: time.Millisecond}
	p := newTestPipeline(t, Policy{Capacity: 64, FullMode: DropOldest}, Config{BatchSize: 8, EnablePeriodicFlush: false}, sink, nil)
	p.Start()

	const total = 50
	for i := 0; i < total; i++ {
		p.TryPublish(tradeEvent(fmt.Sprintf("C%d", i)))
	}
	p.Complete()

	waitFor(t, 5*time.Second, func() bool {
		select {
		case <-p.consumerDone:
			return true
		default:
			return false
		}
	}, "consumer exit")

	stats := p.Stats()
	if stats.Consumed != total {
		t.Errorf("Consumed = %d, want %d", stats.Consumed, total)
	}
	if stats.QueueDepth != 0 {
		t.Errorf("QueueDepth = %d, want 0", stats.QueueDepth)
	}
	if stats.AvgProcessNanos <= 0 {
		t.Errorf("AvgProcessNanos = %d, want > 0", stats.AvgProcessNanos)
	}
	if sink.flushCount() == 0 {
		t.Error("expected final flush after drain")
	}
}

func TestFlushUpdatesLastFlush(t *testing.T) {
	sink := &memorySink{}
	p := newTestPipeline(t, DefaultPolicy(), Config{EnablePeriodicFlush: false}, sink, nil)

	if !p.Stats().LastFlush.IsZero() {
		t.Error("LastFlush must start zero")
	}
	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if p.Stats().LastFlush.IsZero() {
		t.Error("LastFlush must be stamped after Flush")
	}

	sink.mu.Lock()
	sink.flushErr = errors.New("tx aborted")
	sink.mu.Unlock()
	if err := p.Flush(context.Background()); err == nil {
		t.Error("Flush must propagate sink errors")
	}
}

func TestPeriodicFlush(t *testing.T) {
	sink := &memorySink{}
	p := newTestPipeline(t, Policy{Capacity: 4, FullMode: DropOldest},
		Config{FlushInterval: 20 * time.Millisecond, EnablePeriodicFlush: true}, sink, nil)
	p.Start()

	waitFor(t, 2*time.Second, func() bool { return sink.flushCount() >= 2 }, "periodic flushes")

	if err := p.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose failed: %v", err)
	}
}
