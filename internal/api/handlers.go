// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/tickerwire/internal/audit"
	"github.com/tomtom215/tickerwire/internal/backfill"
	"github.com/tomtom215/tickerwire/internal/subs"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

const (
	defaultDropLimit = 100
	maxDropLimit     = 1000
)

// StatsSource returns a point-in-time snapshot of one component's
// counters. The value must marshal to JSON.
type StatsSource func() any

// DropLister exposes the audit trail's recent drops.
type DropLister interface {
	RecentDrops(n int) []audit.Drop
}

// BackfillRunner is the coordinator surface the API drives.
type BackfillRunner interface {
	Start(ctx context.Context, req backfill.Request) (string, error)
	LastRun() *backfill.Result
	Running() bool
}

// JobLister exposes per-job backfill progress.
type JobLister interface {
	ListJobs() []backfill.Snapshot
	GetProgress(jobID string) (backfill.Snapshot, bool)
}

// Deps wires the handlers to the running system. A nil field turns its
// endpoints into 503s so a partially assembled server stays safe.
type Deps struct {
	// Stats maps component name to its stats source, served as one
	// document by GET /api/v1/stats.
	Stats map[string]StatsSource
	// Subscriptions returns the live subscriptions across providers.
	Subscriptions func() []subs.Subscription
	Drops         DropLister
	Backfill      BackfillRunner
	Jobs          JobLister
}

// Handler owns the ops API endpoints.
type Handler struct {
	deps    Deps
	logger  zerolog.Logger
	started time.Time
}

// NewHandler builds the endpoint set.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewHandler(deps Deps, logger zerolog.Logger) *Handler {
	return &Handler{
		deps:    deps,
		logger:  logger.With().Str("component", "api").Logger(),
		started: time.Now(),
	}
}

// Health reports process liveness. Unauthenticated.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        Version,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// Stats serves every registered component snapshot in one document.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	doc := make(map[string]any, len(h.deps.Stats))
	for name, src := range h.deps.Stats {
		if src != nil {
			doc[name] = src()
		}
	}
	writeJSON(w, http.StatusOK, doc)
}

// Subscriptions lists the live (symbol, kind) registrations.
func (h *Handler) Subscriptions(w http.ResponseWriter, r *http.Request) {
	if h.deps.Subscriptions == nil {
		writeError(w, http.StatusServiceUnavailable, "subscriptions not available")
		return
	}
	list := h.deps.Subscriptions()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":         len(list),
		"subscriptions": list,
	})
}

// Drops serves the newest audited drops, newest first. The limit query
// parameter defaults to 100 and caps at 1000.
func (h *Handler) Drops(w http.ResponseWriter, r *http.Request) {
	if h.deps.Drops == nil {
		writeError(w, http.StatusServiceUnavailable, "drop audit not available")
		return
	}
	limit := defaultDropLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxDropLimit)
	}
	drops := h.deps.Drops.RecentDrops(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(drops),
		"drops": drops,
	})
}

// BackfillStart launches a backfill in the background and answers 202
// with the job id, or 409 while one is already in flight.
func (h *Handler) BackfillStart(w http.ResponseWriter, r *http.Request) {
	if h.deps.Backfill == nil {
		writeError(w, http.StatusServiceUnavailable, "backfill not available")
		return
	}
	var req backfill.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.CleanSymbols()) == 0 {
		writeError(w, http.StatusBadRequest, "at least one symbol is required")
		return
	}
	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		writeError(w, http.StatusBadRequest, "to must not precede from")
		return
	}

	// The job outlives this request; only process shutdown ends it.
	jobID, err := h.deps.Backfill.Start(context.WithoutCancel(r.Context()), req)
	if err != nil {
		if errors.Is(err, backfill.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "a backfill is already running")
			return
		}
		h.logger.Error().Err(err).Msg("backfill start failed")
		writeError(w, http.StatusInternalServerError, "backfill start failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": jobID,
		"status": "started",
	})
}

// BackfillStatus reports whether a run is in flight and the last
// completed result.
func (h *Handler) BackfillStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Backfill == nil {
		writeError(w, http.StatusServiceUnavailable, "backfill not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"running":  h.deps.Backfill.Running(),
		"last_run": h.deps.Backfill.LastRun(),
	})
}

// BackfillJobs lists progress for running and recently finished jobs.
// With the job_id query parameter it serves that single job or 404.
func (h *Handler) BackfillJobs(w http.ResponseWriter, r *http.Request) {
	if h.deps.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "backfill not available")
		return
	}
	if jobID := r.URL.Query().Get("job_id"); jobID != "" {
		snap, ok := h.deps.Jobs.GetProgress(jobID)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown job id")
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}
	jobs := h.deps.Jobs.ListJobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(jobs),
		"jobs":  jobs,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // HTTP response write errors are not recoverable
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
