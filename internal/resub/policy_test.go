// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package resub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tickerwire/internal/clock"
	"github.com/tomtom215/tickerwire/internal/market"
	"github.com/tomtom215/tickerwire/internal/subs"
)

type fakeApplier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (a *fakeApplier) Apply(_ context.Context, cfg subs.SymbolConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, cfg.Symbol)
	return a.err
}

func (a *fakeApplier) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *fakeApplier) setErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func newTestPolicy(applier Applier, clk clock.Clock) *Policy {
	cfg := DefaultConfig()
	cfg.EnableMetrics = false
	return NewPolicy(cfg, applier, clk, zerolog.Nop())
}

func symCfg(symbol string) subs.SymbolConfig {
	return subs.SymbolConfig{Symbol: symbol, SubscribeTrades: true}
}

func fire(p *Policy, symbol string) Outcome {
	return p.OnIntegrityEvent(context.Background(), symbol, market.SeverityError, symCfg(symbol))
}

func TestSeverityGate(t *testing.T) {
	applier := &fakeApplier{}
	p := newTestPolicy(applier, clock.NewFake(time.Now()))

	out := p.OnIntegrityEvent(context.Background(), "AAPL", market.SeverityWarning, symCfg("AAPL"))
	if out != OutcomeSkippedSeverity {
		t.Errorf("outcome = %v, want severity skip", out)
	}
	if applier.count() != 0 {
		t.Errorf("applier called %d times, want 0", applier.count())
	}

	if out := fire(p, "AAPL"); out != OutcomeSucceeded {
		t.Errorf("outcome = %v, want success at error severity", out)
	}
}

func TestMinResubscribeInterval(t *testing.T) {
	applier := &fakeApplier{}
	clk := clock.NewFake(time.Now())
	p := newTestPolicy(applier, clk)

	if out := fire(p, "AAPL"); out != OutcomeSucceeded {
		t.Fatalf("first event outcome = %v, want success", out)
	}

	// Two seconds later: still inside both the 5s minimum interval and the
	// 30s cooldown, so the second event is rate limited.
	clk.Advance(2 * time.Second)
	out := fire(p, "AAPL")
	if !out.Skipped() {
		t.Errorf("outcome = %v, want a skip", out)
	}
	if applier.count() != 1 {
		t.Errorf("applier called %d times, want 1", applier.count())
	}
	if got := p.Stats().RateLimitedSkips; got != 1 {
		t.Errorf("RateLimitedSkips = %d, want 1", got)
	}
}

func TestCooldownAfterSuccess(t *testing.T) {
	applier := &fakeApplier{}
	clk := clock.NewFake(time.Now())
	p := newTestPolicy(applier, clk)

	if out := fire(p, "AAPL"); out != OutcomeSucceeded {
		t.Fatalf("first event outcome = %v, want success", out)
	}

	// Past the minimum interval but inside the cooldown.
	clk.Advance(10 * time.Second)
	if out := fire(p, "AAPL"); out != OutcomeSkippedCooldown {
		t.Errorf("outcome = %v, want cooldown skip", out)
	}

	// Past the cooldown: attempts flow again.
	clk.Advance(25 * time.Second)
	if out := fire(p, "AAPL"); out != OutcomeSucceeded {
		t.Errorf("outcome = %v, want success after cooldown", out)
	}
	if applier.count() != 2 {
		t.Errorf("applier called %d times, want 2", applier.count())
	}
}

func TestSymbolCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	applier := &fakeApplier{err: errors.New("subscribe refused")}
	clk := clock.NewFake(time.Now())
	p := newTestPolicy(applier, clk)

	for i := 0; i < 3; i++ {
		if out := fire(p, "AAPL"); out != OutcomeFailed {
			t.Fatalf("attempt %d outcome = %v, want failure", i+1, out)
		}
		clk.Advance(6 * time.Second)
	}

	if got := p.Stats().SymbolsWithOpenCircuit; got != 1 {
		t.Errorf("SymbolsWithOpenCircuit = %d, want 1", got)
	}
	if out := fire(p, "AAPL"); out != OutcomeSkippedSymbolCircuit {
		t.Errorf("outcome = %v, want symbol circuit skip", out)
	}

	// After the circuit duration the next attempt is admitted as a probe,
	// and its success closes the circuit.
	applier.setErr(nil)
	clk.Advance(121 * time.Second)
	if out := fire(p, "AAPL"); out != OutcomeSucceeded {
		t.Errorf("outcome = %v, want success after circuit duration", out)
	}
	if got := p.Stats().SymbolsWithOpenCircuit; got != 0 {
		t.Errorf("SymbolsWithOpenCircuit = %d, want 0 after success", got)
	}
}

func TestGlobalCircuitLifecycle(t *testing.T) {
	applier := &fakeApplier{err: errors.New("provider down")}
	clk := clock.NewFake(time.Now())
	p := newTestPolicy(applier, clk)

	// Five failing applies for distinct symbols open the global circuit.
	for i := 0; i < 5; i++ {
		sym := fmt.Sprintf("S%d", i)
		if out := fire(p, sym); out != OutcomeFailed {
			t.Fatalf("attempt %d outcome = %v, want failure", i+1, out)
		}
	}
	if got := p.GlobalCircuit(); got != CircuitOpen {
		t.Fatalf("global circuit = %v, want open", got)
	}

	// While open, events for fresh symbols are skipped without an attempt.
	before := applier.count()
	if out := fire(p, "FRESH"); out != OutcomeSkippedGlobalCircuit {
		t.Errorf("outcome = %v, want global circuit skip", out)
	}
	if applier.count() != before {
		t.Error("applier was called while the global circuit was open")
	}

	// After the circuit duration the next event runs as a half-open probe;
	// success closes the circuit.
	applier.setErr(nil)
	clk.Advance(61 * time.Second)
	if out := fire(p, "PROBE"); out != OutcomeSucceeded {
		t.Errorf("probe outcome = %v, want success", out)
	}
	if got := p.GlobalCircuit(); got != CircuitClosed {
		t.Errorf("global circuit = %v, want closed after probe success", got)
	}
}

func TestGlobalHalfOpenProbeFailureReopens(t *testing.T) {
	applier := &fakeApplier{err: errors.New("provider down")}
	clk := clock.NewFake(time.Now())
	p := newTestPolicy(applier, clk)

	for i := 0; i < 5; i++ {
		fire(p, fmt.Sprintf("S%d", i))
	}
	if got := p.GlobalCircuit(); got != CircuitOpen {
		t.Fatalf("global circuit = %v, want open", got)
	}

	clk.Advance(61 * time.Second)
	if out := fire(p, "PROBE"); out != OutcomeFailed {
		t.Errorf("probe outcome = %v, want failure", out)
	}
	if got := p.GlobalCircuit(); got != CircuitOpen {
		t.Errorf("global circuit = %v, want reopened after failed probe", got)
	}

	// The reopen restarted the clock: still open before another duration.
	clk.Advance(30 * time.Second)
	if out := fire(p, "PROBE2"); out != OutcomeSkippedGlobalCircuit {
		t.Errorf("outcome = %v, want global circuit skip", out)
	}
}

func TestHalfOpenProbeSpacing(t *testing.T) {
	applier := &fakeApplier{}
	clk := clock.NewFake(time.Now())
	p := newTestPolicy(applier, clk)

	// Half-open with a probe in flight: a second event inside the 5s
	// spacing is skipped without touching the applier.
	p.globalMu.Lock()
	p.globalState = CircuitHalfOpen
	p.lastHalfOpenTest = clk.Now()
	p.globalMu.Unlock()

	if out := fire(p, "A"); out != OutcomeSkippedGlobalCircuit {
		t.Errorf("outcome = %v, want skip inside probe spacing", out)
	}
	if applier.count() != 0 {
		t.Errorf("applier called %d times, want 0", applier.count())
	}

	// Past the spacing the next event probes, and success closes.
	clk.Advance(6 * time.Second)
	if out := fire(p, "B"); out != OutcomeSucceeded {
		t.Errorf("outcome = %v, want admitted probe", out)
	}
	if got := p.GlobalCircuit(); got != CircuitClosed {
		t.Errorf("global circuit = %v, want closed", got)
	}
}

func TestStatsSnapshot(t *testing.T) {
	applier := &fakeApplier{}
	clk := clock.NewFake(time.Now())
	p := newTestPolicy(applier, clk)

	fire(p, "AAPL")
	fire(p, "MSFT")
	clk.Advance(2 * time.Second)
	fire(p, "AAPL") // rate limited

	stats := p.Stats()
	if stats.Attempts != 2 || stats.Successes != 2 || stats.Failures != 0 {
		t.Errorf("Stats = %+v, want 2 attempts, 2 successes", stats)
	}
	if stats.RateLimitedSkips != 1 {
		t.Errorf("RateLimitedSkips = %d, want 1", stats.RateLimitedSkips)
	}
	if stats.SymbolsInCooldown != 2 {
		t.Errorf("SymbolsInCooldown = %d, want 2", stats.SymbolsInCooldown)
	}
	if stats.GlobalCircuit != "closed" {
		t.Errorf("GlobalCircuit = %q, want closed", stats.GlobalCircuit)
	}
}

func TestEvictIdle(t *testing.T) {
	applier := &fakeApplier{}
	clk := clock.NewFake(time.Now())
	p := newTestPolicy(applier, clk)

	fire(p, "AAPL")
	clk.Advance(30 * time.Minute)
	fire(p, "MSFT")

	clk.Advance(45 * time.Minute)
	if evicted := p.EvictIdle(); evicted != 1 {
		t.Errorf("EvictIdle() = %d, want 1 (AAPL idle for 75m)", evicted)
	}
	if got := p.Stats().SymbolsTracked; got != 1 {
		t.Errorf("SymbolsTracked = %d, want 1", got)
	}
}

func TestCaseInsensitiveSymbolState(t *testing.T) {
	applier := &fakeApplier{}
	clk := clock.NewFake(time.Now())
	p := newTestPolicy(applier, clk)

	fire(p, "AAPL")
	clk.Advance(2 * time.Second)
	if out := fire(p, "aapl"); !out.Skipped() {
		t.Errorf("outcome = %v, want skip via shared state for aapl/AAPL", out)
	}
}
