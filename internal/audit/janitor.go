// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const defaultGCInterval = 10 * time.Minute

// Janitor periodically compacts the trail's value log so TTL-expired
// entries release disk space. Without it BadgerDB only reclaims space on
// its own compaction schedule. Runs as a service under the supervision
// tree.
type Janitor struct {
	trail    *BadgerTrail
	interval time.Duration
	logger   zerolog.Logger
}

// NewJanitor returns a Janitor running GC every interval (10m when zero).
func NewJanitor(trail *BadgerTrail, interval time.Duration, logger zerolog.Logger) *Janitor {
	if interval <= 0 {
		interval = defaultGCInterval
	}
	return &Janitor{
		trail:    trail,
		interval: interval,
		logger:   logger.With().Str("component", "audit-janitor").Logger(),
	}
}

// Serve runs value log GC until ctx is cancelled.
func (j *Janitor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := j.trail.RunGC(); err != nil {
				j.logger.Warn().Err(err).Msg("Audit value log GC failed")
			}
		}
	}
}

// String identifies the service in supervisor logs.
func (j *Janitor) String() string { return "audit-janitor" }
