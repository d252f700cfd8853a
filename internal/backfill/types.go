// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

// Package backfill fetches historical bars from a named provider and
// publishes them through a scratch pipeline into the storage sink. The
// coordinator admits one run at a time so a backfill can never starve the
// streaming path.
package backfill

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/tickerwire/internal/clock"
)

// Request asks for daily bars for a set of symbols from one provider
// (possibly the composite). Nil From/To mean the provider's default range.
type Request struct {
	Provider string     `json:"provider"`
	Symbols  []string   `json:"symbols"`
	From     *time.Time `json:"from,omitempty"`
	To       *time.Time `json:"to,omitempty"`
}

// CleanSymbols returns the requested symbols trimmed, uppercased, and with
// blanks dropped.
func (r Request) CleanSymbols() []string {
	out := make([]string, 0, len(r.Symbols))
	for _, s := range r.Symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Result is the outcome of one backfill run.
type Result struct {
	JobID         string     `json:"job_id"`
	Success       bool       `json:"success"`
	Provider      string     `json:"provider"`
	Symbols       []string   `json:"symbols"`
	From          *time.Time `json:"from,omitempty"`
	To            *time.Time `json:"to,omitempty"`
	BarsWritten   int        `json:"bars_written"`
	FailedSymbols []string   `json:"failed_symbols"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   time.Time  `json:"completed_at"`
	Error         string     `json:"error,omitempty"`
}

// Duration is the wall-clock length of the run.
func (r Result) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// NewJobID generates a sortable job identifier:
// bf_<UTC yyyymmddhhmmss>_<first 6 hex of a UUID, lowercase>.
func NewJobID(clk clock.Clock) string {
	if clk == nil {
		clk = clock.Real{}
	}
	return fmt.Sprintf("bf_%s_%s", clk.Now().UTC().Format("20060102150405"), uuid.New().String()[:6])
}
