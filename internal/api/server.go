// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

// Package api serves the operational HTTP surface: health, stats,
// subscriptions, drop audit, and backfill control. It is read-mostly;
// the only mutating endpoint is POST /api/v1/backfill.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Config tunes the HTTP server and its middleware.
type Config struct {
	Listen string
	// RateLimitPerMinute caps requests per client IP; 0 disables the
	// limiter.
	RateLimitPerMinute int
	// CORSOrigins lists allowed origins. Empty disables cross-origin
	// access entirely.
	CORSOrigins []string
	// BearerTokenHash is a bcrypt hash of the static ops token. Set at
	// most one of BearerTokenHash and JWTSecret; both empty disables
	// authentication.
	BearerTokenHash string
	// JWTSecret verifies HS256 bearer tokens.
	JWTSecret string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// EnableMetrics exposes Prometheus metrics on /metrics.
	EnableMetrics bool
}

// DefaultConfig returns production defaults with authentication off.
func DefaultConfig() Config {
	return Config{
		Listen:             ":8080",
		RateLimitPerMinute: 60,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       30 * time.Second,
		ShutdownTimeout:    10 * time.Second,
		EnableMetrics:      true,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return c
}

// Server runs the ops API as a supervised service.
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
	logger          zerolog.Logger
}

// NewServer builds the server around an assembled handler.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewServer(cfg Config, handler http.Handler, logger zerolog.Logger) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		srv: &http.Server{
			Addr:         cfg.Listen,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          logger.With().Str("component", "api-server").Logger(),
	}
}

// Serve runs the server until ctx is canceled, then drains connections
// within the shutdown timeout. Implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("ops API listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
		// Shutdown needs a live context; the service's own is canceled.
		sctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("api server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *Server) String() string { return "api-server" }
