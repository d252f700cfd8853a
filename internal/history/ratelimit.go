// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package history

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter enforces a provider's declared RateLimit: a token bucket for the
// request window plus a hard floor between consecutive requests. Provider
// adapters call Wait before every outbound request.
type Limiter struct {
	window *rate.Limiter
	floor  *rate.Limiter
}

// NewLimiter builds a limiter from the declared budget. Zero or negative
// fields disable the corresponding constraint.
func NewLimiter(rl RateLimit) *Limiter {
	window := rate.NewLimiter(rate.Inf, 1)
	if rl.MaxRequestsPerWindow > 0 && rl.Window > 0 {
		perSecond := float64(rl.MaxRequestsPerWindow) / rl.Window.Seconds()
		window = rate.NewLimiter(rate.Limit(perSecond), rl.MaxRequestsPerWindow)
	}
	floor := rate.NewLimiter(rate.Inf, 1)
	if rl.MinInterRequestDelay > 0 {
		floor = rate.NewLimiter(rate.Every(rl.MinInterRequestDelay), 1)
	}
	return &Limiter{window: window, floor: floor}
}

// Wait blocks until a request may proceed or ctx is done. The wait is
// bounded by the window size for any sane configuration; a canceled
// context returns its error immediately.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.floor.Wait(ctx); err != nil {
		return err
	}
	return l.window.Wait(ctx)
}

// Allow reports whether a request may proceed right now without waiting,
// consuming the tokens when it may.
func (l *Limiter) Allow() bool {
	if !l.floor.Allow() {
		return false
	}
	if !l.window.Allow() {
		// Refund is not possible with rate.Limiter; the floor token is
		// burned. Acceptable: Allow is only used for health probes.
		return false
	}
	return true
}
