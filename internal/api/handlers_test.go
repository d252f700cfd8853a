// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/tickerwire/internal/audit"
	"github.com/tomtom215/tickerwire/internal/backfill"
	"github.com/tomtom215/tickerwire/internal/market"
	"github.com/tomtom215/tickerwire/internal/subs"
)

type fakeBackfill struct {
	busy    bool
	jobID   string
	lastRun *backfill.Result
	started []backfill.Request
}

func (f *fakeBackfill) Start(_ context.Context, req backfill.Request) (string, error) {
	if f.busy {
		return "", backfill.ErrAlreadyRunning
	}
	f.started = append(f.started, req)
	return f.jobID, nil
}

func (f *fakeBackfill) LastRun() *backfill.Result { return f.lastRun }
func (f *fakeBackfill) Running() bool             { return f.busy }

type fakeJobs struct {
	jobs []backfill.Snapshot
}

func (f *fakeJobs) ListJobs() []backfill.Snapshot { return f.jobs }

func (f *fakeJobs) GetProgress(jobID string) (backfill.Snapshot, bool) {
	for _, j := range f.jobs {
		if j.JobID == jobID {
			return j, true
		}
	}
	return backfill.Snapshot{}, false
}

// testConfig disables the rate limiter and metrics so tests exercise
// handlers in isolation.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	cfg.EnableMetrics = false
	return cfg
}

func newTestRouter(t *testing.T, deps Deps) http.Handler {
	t.Helper()
	return NewRouter(testConfig(), NewHandler(deps, zerolog.Nop()), zerolog.Nop())
}

func doRequest(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return doc
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, Deps{})

	rec := doRequest(t, router, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}
	doc := decodeBody(t, rec)
	if doc["status"] != "ok" {
		t.Errorf("status = %v, want ok", doc["status"])
	}
	if doc["version"] != Version {
		t.Errorf("version = %v, want %q", doc["version"], Version)
	}
}

func TestStatsAggregatesSources(t *testing.T) {
	deps := Deps{
		Stats: map[string]StatsSource{
			"pipeline": func() any { return map[string]int{"published": 42} },
			"store":    func() any { return map[string]int{"flushed": 7} },
			"broken":   nil, // must be skipped, not panic
		},
	}
	rec := doRequest(t, newTestRouter(t, deps), http.MethodGet, "/api/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d, want 200", rec.Code)
	}
	doc := decodeBody(t, rec)
	if _, ok := doc["pipeline"]; !ok {
		t.Error("stats document missing pipeline section")
	}
	if _, ok := doc["store"]; !ok {
		t.Error("stats document missing store section")
	}
	if _, ok := doc["broken"]; ok {
		t.Error("nil stats source should be omitted")
	}
}

func TestSubscriptions(t *testing.T) {
	reg := subs.NewRegistry(100)
	reg.Add("AAPL", subs.KindTrades)
	reg.Add("MSFT", subs.KindQuotes)

	deps := Deps{Subscriptions: func() []subs.Subscription { return reg.All() }}
	rec := doRequest(t, newTestRouter(t, deps), http.MethodGet, "/api/v1/subscriptions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("subscriptions status = %d, want 200", rec.Code)
	}
	doc := decodeBody(t, rec)
	if doc["count"] != float64(2) {
		t.Errorf("count = %v, want 2", doc["count"])
	}
}

func TestDropsServesNewestFirst(t *testing.T) {
	trail := audit.NewMemoryTrail(16)
	for i, reason := range []string{"queue_full", "queue_full", "closed"} {
		evt := market.NewEvent("polygon", market.EventTypeTrade, "AAPL",
			&market.TradePayload{Price: 100 + float64(i), Size: 10})
		evt.SequenceNumber = uint64(i + 1)
		trail.Record(evt, reason)
	}

	rec := doRequest(t, newTestRouter(t, Deps{Drops: trail}),
		http.MethodGet, "/api/v1/audit/drops?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("drops status = %d, want 200", rec.Code)
	}
	doc := decodeBody(t, rec)
	if doc["count"] != float64(2) {
		t.Errorf("count = %v, want 2", doc["count"])
	}
	drops, ok := doc["drops"].([]any)
	if !ok || len(drops) != 2 {
		t.Fatalf("drops = %v, want 2 entries", doc["drops"])
	}
	newest, ok := drops[0].(map[string]any)
	if !ok {
		t.Fatalf("drop entry has unexpected shape: %v", drops[0])
	}
	if newest["reason"] != "closed" {
		t.Errorf("newest drop reason = %v, want closed", newest["reason"])
	}
}

func TestDropsRejectsBadLimit(t *testing.T) {
	router := newTestRouter(t, Deps{Drops: audit.NewMemoryTrail(4)})
	for _, limit := range []string{"0", "-3", "abc"} {
		rec := doRequest(t, router, http.MethodGet, "/api/v1/audit/drops?limit="+limit, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", limit, rec.Code)
		}
	}
}

func TestBackfillStart(t *testing.T) {
	fb := &fakeBackfill{jobID: "bf_20260825_abc123"}
	router := newTestRouter(t, Deps{Backfill: fb})

	rec := doRequest(t, router, http.MethodPost, "/api/v1/backfill",
		`{"provider":"polygon","symbols":["aapl","MSFT"]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("backfill status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	doc := decodeBody(t, rec)
	if doc["job_id"] != fb.jobID {
		t.Errorf("job_id = %v, want %q", doc["job_id"], fb.jobID)
	}
	if len(fb.started) != 1 || fb.started[0].Provider != "polygon" {
		t.Errorf("coordinator saw %+v, want one polygon request", fb.started)
	}
}

func TestBackfillStartConflictWhileRunning(t *testing.T) {
	router := newTestRouter(t, Deps{Backfill: &fakeBackfill{busy: true}})

	rec := doRequest(t, router, http.MethodPost, "/api/v1/backfill",
		`{"symbols":["AAPL"]}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("busy backfill status = %d, want 409", rec.Code)
	}
}

func TestBackfillStartRejectsBadRequests(t *testing.T) {
	from := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	to := from.Add(-24 * time.Hour)
	fromJSON, _ := from.MarshalJSON()
	toJSON, _ := to.MarshalJSON()

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{"symbols":`},
		{"no symbols", `{"provider":"polygon","symbols":["  "]}`},
		{"inverted range", `{"symbols":["AAPL"],"from":` + string(fromJSON) + `,"to":` + string(toJSON) + `}`},
	}
	router := newTestRouter(t, Deps{Backfill: &fakeBackfill{jobID: "x"}})
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, "/api/v1/backfill", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestBackfillStatus(t *testing.T) {
	res := backfill.Result{JobID: "bf_x", Success: true, BarsWritten: 250}
	router := newTestRouter(t, Deps{Backfill: &fakeBackfill{lastRun: &res}})

	rec := doRequest(t, router, http.MethodGet, "/api/v1/backfill/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d, want 200", rec.Code)
	}
	doc := decodeBody(t, rec)
	if doc["running"] != false {
		t.Errorf("running = %v, want false", doc["running"])
	}
	last, ok := doc["last_run"].(map[string]any)
	if !ok {
		t.Fatalf("last_run missing: %v", doc)
	}
	if last["job_id"] != "bf_x" || last["bars_written"] != float64(250) {
		t.Errorf("last_run = %v", last)
	}
}

func TestBackfillJobs(t *testing.T) {
	jobs := &fakeJobs{jobs: []backfill.Snapshot{
		{JobProgress: backfill.JobProgress{JobID: "bf_1", Status: backfill.JobCompleted}},
		{JobProgress: backfill.JobProgress{JobID: "bf_2", Status: backfill.JobRunning}},
	}}
	router := newTestRouter(t, Deps{Jobs: jobs})

	rec := doRequest(t, router, http.MethodGet, "/api/v1/backfill/jobs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("jobs status = %d, want 200", rec.Code)
	}
	if doc := decodeBody(t, rec); doc["count"] != float64(2) {
		t.Errorf("count = %v, want 2", doc["count"])
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/backfill/jobs?job_id=bf_2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("single job status = %d, want 200", rec.Code)
	}
	if doc := decodeBody(t, rec); doc["job_id"] != "bf_2" {
		t.Errorf("job_id = %v, want bf_2", doc["job_id"])
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/backfill/jobs?job_id=nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown job status = %d, want 404", rec.Code)
	}
}

func TestMissingDepsAnswer503(t *testing.T) {
	router := newTestRouter(t, Deps{})
	targets := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/subscriptions"},
		{http.MethodGet, "/api/v1/audit/drops"},
		{http.MethodPost, "/api/v1/backfill"},
		{http.MethodGet, "/api/v1/backfill/status"},
		{http.MethodGet, "/api/v1/backfill/jobs"},
	}
	for _, tc := range targets {
		rec := doRequest(t, router, tc.method, tc.path, "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s = %d, want 503", tc.method, tc.path, rec.Code)
		}
	}
}

func TestRateLimitCaps(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMinute = 2
	router := NewRouter(cfg, NewHandler(Deps{}, zerolog.Nop()), zerolog.Nop())

	var last int
	for i := 0; i < 3; i++ {
		rec := doRequest(t, router, http.MethodGet, "/api/v1/health", "")
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", last)
	}
}

func TestCORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.CORSOrigins = []string{"https://ops.example.com"}
	router := NewRouter(cfg, NewHandler(Deps{}, zerolog.Nop()), zerolog.Nop())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q, want configured origin", got)
	}
}
