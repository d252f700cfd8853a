// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package history

import (
	"context"
	"testing"
	"time"
)

func TestLimiterUnconstrained(t *testing.T) {
	l := NewLimiter(RateLimit{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("100 unconstrained waits took %v, want instant", elapsed)
	}
}

func TestLimiterFloorSpacing(t *testing.T) {
	l := NewLimiter(RateLimit{MinInterRequestDelay: 50 * time.Millisecond})
	ctx := context.Background()

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("first Wait failed: %v", err)
	}
	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("second Wait failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("second request after %v, want >= ~50ms spacing", elapsed)
	}
}

func TestLimiterWindowBudget(t *testing.T) {
	// Two requests per 200ms window: the third must wait for a refill.
	l := NewLimiter(RateLimit{MaxRequestsPerWindow: 2, Window: 200 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait %d failed: %v", i+1, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("three requests in %v, want the third delayed by the window budget", elapsed)
	}
}

func TestLimiterContextCanceled(t *testing.T) {
	l := NewLimiter(RateLimit{MinInterRequestDelay: time.Hour})
	ctx := context.Background()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("first Wait failed: %v", err)
	}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(canceled); err == nil {
		t.Error("Wait with canceled context succeeded, want error")
	}
}
