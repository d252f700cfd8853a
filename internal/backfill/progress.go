// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package backfill

import (
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/tickerwire/internal/clock"
)

// JobStatus is a backfill job's lifecycle state.
type JobStatus string

// Job statuses.
const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Per-symbol states within a job.
const (
	SymbolPending   = "pending"
	SymbolRunning   = "running"
	SymbolCompleted = "completed"
	SymbolFailed    = "failed"
)

// JobProgress is the mutable in-memory record of one backfill job.
type JobProgress struct {
	JobID            string            `json:"job_id"`
	Provider         string            `json:"provider"`
	Symbols          []string          `json:"symbols"`
	From             *time.Time        `json:"from,omitempty"`
	To               *time.Time        `json:"to,omitempty"`
	StartedAt        time.Time         `json:"started_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	Status           JobStatus         `json:"status"`
	CompletedSymbols int               `json:"completed_symbols"`
	FailedSymbols    int               `json:"failed_symbols"`
	TotalBarsWritten int               `json:"total_bars_written"`
	CurrentSymbol    string            `json:"current_symbol,omitempty"`
	SymbolStates     map[string]string `json:"symbol_states"`
	LastError        string            `json:"last_error,omitempty"`
}

// Snapshot is a JobProgress copy with derived timing fields.
type Snapshot struct {
	JobProgress
	Elapsed            time.Duration `json:"elapsed"`
	PercentComplete    float64       `json:"percent_complete"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`
}

// ProgressTracker keeps in-memory progress for running and recent jobs.
// Completed jobs older than the retention window are pruned on ListJobs.
type ProgressTracker struct {
	mu        sync.Mutex
	jobs      map[string]*JobProgress
	clk       clock.Clock
	retention time.Duration
}

// NewProgressTracker builds a tracker with a one-hour retention for
// finished jobs. A nil clock uses wall time.
func NewProgressTracker(clk clock.Clock) *ProgressTracker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &ProgressTracker{
		jobs:      make(map[string]*JobProgress),
		clk:       clk,
		retention: time.Hour,
	}
}

// StartJob registers a new running job.
func (t *ProgressTracker) StartJob(jobID string, req Request) {
	symbols := req.CleanSymbols()
	states := make(map[string]string, len(symbols))
	for _, s := range symbols {
		states[s] = SymbolPending
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[jobID] = &JobProgress{
		JobID:        jobID,
		Provider:     req.Provider,
		Symbols:      symbols,
		From:         req.From,
		To:           req.To,
		StartedAt:    t.clk.Now(),
		Status:       JobRunning,
		SymbolStates: states,
	}
}

// StartSymbol marks a symbol as the one currently being fetched.
func (t *ProgressTracker) StartSymbol(jobID, symbol string) {
	t.withJob(jobID, func(j *JobProgress) {
		j.CurrentSymbol = symbol
		j.SymbolStates[symbol] = SymbolRunning
	})
}

// RecordBars adds bars written for a symbol.
func (t *ProgressTracker) RecordBars(jobID, symbol string, count int) {
	t.withJob(jobID, func(j *JobProgress) {
		j.TotalBarsWritten += count
	})
}

// CompleteSymbol marks a symbol done.
func (t *ProgressTracker) CompleteSymbol(jobID, symbol string) {
	t.withJob(jobID, func(j *JobProgress) {
		j.CompletedSymbols++
		j.SymbolStates[symbol] = SymbolCompleted
		if j.CurrentSymbol == symbol {
			j.CurrentSymbol = ""
		}
	})
}

// FailSymbol marks a symbol failed.
func (t *ProgressTracker) FailSymbol(jobID, symbol string, err error) {
	t.withJob(jobID, func(j *JobProgress) {
		j.FailedSymbols++
		j.SymbolStates[symbol] = SymbolFailed
		if err != nil {
			j.LastError = symbol + ": " + err.Error()
		}
		if j.CurrentSymbol == symbol {
			j.CurrentSymbol = ""
		}
	})
}

// CompleteJob finalizes a job's status.
func (t *ProgressTracker) CompleteJob(jobID string, success bool) {
	t.withJob(jobID, func(j *JobProgress) {
		now := t.clk.Now()
		j.CompletedAt = &now
		j.CurrentSymbol = ""
		if success {
			j.Status = JobCompleted
		} else {
			j.Status = JobFailed
		}
	})
}

// GetProgress returns a snapshot of one job.
func (t *ProgressTracker) GetProgress(jobID string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[jobID]
	if !ok {
		return Snapshot{}, false
	}
	return t.snapshot(j), true
}

// ListJobs returns snapshots of all known jobs, newest first, pruning
// finished jobs older than the retention window.
func (t *ProgressTracker) ListJobs() []Snapshot {
	now := t.clk.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Snapshot, 0, len(t.jobs))
	for id, j := range t.jobs {
		if j.CompletedAt != nil && now.Sub(*j.CompletedAt) > t.retention {
			delete(t.jobs, id)
			continue
		}
		out = append(out, t.snapshot(j))
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].StartedAt.After(out[k].StartedAt)
	})
	return out
}

// withJob runs fn with the job's record under the tracker lock. Unknown
// jobs are ignored: tracking is best-effort and never fails a backfill.
func (t *ProgressTracker) withJob(jobID string, fn func(*JobProgress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if j, ok := t.jobs[jobID]; ok {
		fn(j)
	}
}

// snapshot copies j and derives timing. Callers hold the tracker lock.
func (t *ProgressTracker) snapshot(j *JobProgress) Snapshot {
	cp := *j
	cp.Symbols = append([]string(nil), j.Symbols...)
	cp.SymbolStates = make(map[string]string, len(j.SymbolStates))
	for k, v := range j.SymbolStates {
		cp.SymbolStates[k] = v
	}

	end := t.clk.Now()
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	elapsed := end.Sub(j.StartedAt)

	done := j.CompletedSymbols + j.FailedSymbols
	total := len(j.Symbols)
	var percent float64
	var remaining time.Duration
	if total > 0 {
		percent = float64(done) / float64(total) * 100
	}
	if j.CompletedAt == nil && j.CompletedSymbols > 0 && total > done {
		avg := elapsed / time.Duration(j.CompletedSymbols)
		remaining = avg * time.Duration(total-done)
	}

	return Snapshot{
		JobProgress:        cp,
		Elapsed:            elapsed,
		PercentComplete:    percent,
		EstimatedRemaining: remaining,
	}
}
