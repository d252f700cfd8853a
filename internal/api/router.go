// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tomtom215/tickerwire/internal/metrics"
)

// NewRouter assembles the middleware stack and routes. Health stays
// outside the auth group so probes never need credentials.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewRouter(cfg Config, h *Handler, logger zerolog.Logger) http.Handler {
	cfg = cfg.withDefaults()

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger, cfg.EnableMetrics))
	r.Use(chimiddleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         86400,
		}))
	}
	if cfg.RateLimitPerMinute > 0 {
		r.Use(httprate.Limit(
			cfg.RateLimitPerMinute,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(Auth(cfg, logger))
			r.Get("/stats", h.Stats)
			r.Get("/subscriptions", h.Subscriptions)
			r.Get("/audit/drops", h.Drops)
			r.Post("/backfill", h.BackfillStart)
			r.Get("/backfill/status", h.BackfillStatus)
			r.Get("/backfill/jobs", h.BackfillJobs)
		})
	})

	if cfg.EnableMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// requestLogger logs each request once completed and records the API
// metrics. The metrics label uses the chi route pattern, not the raw
// path, to keep cardinality bounded.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func requestLogger(logger zerolog.Logger, enableMetrics bool) func(http.Handler) http.Handler {
	log := logger.With().Str("component", "api").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			evt := log.Debug()
			switch {
			case status >= 500:
				evt = log.Error()
			case status >= 400:
				evt = log.Warn()
			}
			evt.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("elapsed", elapsed).
				Str("remote", r.RemoteAddr).
				Msg("request")

			if enableMetrics {
				pattern := chi.RouteContext(r.Context()).RoutePattern()
				if pattern == "" {
					pattern = "unmatched"
				}
				metrics.RecordAPIRequest(r.Method, pattern, strconv.Itoa(status), elapsed)
			}
		})
	}
}
