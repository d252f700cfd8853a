// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package backfill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tickerwire/internal/clock"
	"github.com/tomtom215/tickerwire/internal/pipeline"
)

// ErrAlreadyRunning is returned when a backfill is requested while one is
// in flight. The coordinator holds exactly one slot.
var ErrAlreadyRunning = errors.New("backfill already running")

// SinkFactory builds the scratch storage sink for one job. Each job gets
// its own sink so backfill IO never contends with the streaming sink.
type SinkFactory func(jobID string) (pipeline.StorageSink, error)

const (
	scratchCapacity = 20000
	disposeTimeout  = time.Minute
)

// Coordinator serializes backfill runs and owns their scratch pipelines.
type Coordinator struct {
	service         *Service
	sinkFactory     SinkFactory
	statusPath      string
	defaultProvider string
	clk             clock.Clock
	logger          zerolog.Logger

	gate    sync.Mutex
	running atomic.Bool
	lastRun atomic.Pointer[Result]
}

// NewCoordinator builds a coordinator. statusPath may be empty to skip
// persistence.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewCoordinator(service *Service, factory SinkFactory, statusPath string, clk clock.Clock, logger zerolog.Logger) *Coordinator {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Coordinator{
		service:     service,
		sinkFactory: factory,
		statusPath:  statusPath,
		clk:         clk,
		logger:      logger.With().Str("component", "backfill-coordinator").Logger(),
	}
}

// SetDefaultProvider names the provider substituted into requests that
// leave Provider empty, typically the composite. Call during wiring,
// before any job runs.
func (c *Coordinator) SetDefaultProvider(name string) {
	c.defaultProvider = strings.ToLower(strings.TrimSpace(name))
}

// Run executes one backfill if no other is in flight. The request is
// rejected in zero time with ErrAlreadyRunning when the slot is taken.
func (c *Coordinator) Run(ctx context.Context, req Request) (Result, error) {
	if !c.gate.TryLock() {
		return Result{}, ErrAlreadyRunning
	}
	defer c.gate.Unlock()
	return c.execute(ctx, NewJobID(c.clk), req)
}

// Start launches a backfill in the background if the slot is free and
// returns the new job's id immediately. Progress is observable through
// the tracker; the outcome lands in LastRun. The caller's ctx should
// not be tied to a request lifetime.
func (c *Coordinator) Start(ctx context.Context, req Request) (string, error) {
	if !c.gate.TryLock() {
		return "", ErrAlreadyRunning
	}
	jobID := NewJobID(c.clk)
	go func() {
		defer c.gate.Unlock()
		if _, err := c.execute(ctx, jobID, req); err != nil {
			c.logger.Error().Err(err).Str("job_id", jobID).Msg("background backfill failed")
		}
	}()
	return jobID, nil
}

// execute runs one job. The caller holds the gate.
func (c *Coordinator) execute(ctx context.Context, jobID string, req Request) (Result, error) {
	c.running.Store(true)
	defer c.running.Store(false)

	if req.Provider == "" {
		req.Provider = c.defaultProvider
	}

	sink, err := c.sinkFactory(jobID)
	if err != nil {
		return Result{}, fmt.Errorf("build scratch sink: %w", err)
	}

	scratch, err := pipeline.New(
		"backfill-"+jobID,
		pipeline.Policy{Capacity: scratchCapacity, FullMode: pipeline.Wait},
		pipeline.Config{EnablePeriodicFlush: false},
		sink,
		nil,
		c.logger,
	)
	if err != nil {
		if cerr := sink.Close(context.Background()); cerr != nil {
			c.logger.Error().Err(cerr).Msg("failed to close scratch sink")
		}
		return Result{}, fmt.Errorf("build scratch pipeline: %w", err)
	}
	scratch.Start()

	res := c.service.Run(ctx, jobID, req, scratch)

	// Dispose with a fresh context: the job's ctx may already be canceled
	// and the scratch sink still needs its final flush and close.
	scratch.Complete()
	dctx, cancel := context.WithTimeout(context.Background(), disposeTimeout)
	if err := scratch.Dispose(dctx); err != nil {
		c.logger.Error().Err(err).Str("job_id", jobID).Msg("scratch pipeline dispose failed")
	}
	cancel()

	c.lastRun.Store(&res)
	if err := c.persist(res); err != nil {
		c.logger.Warn().Err(err).Str("path", c.statusPath).Msg("failed to persist backfill status")
	}
	return res, nil
}

// LastRun returns the most recent result, nil before the first run.
func (c *Coordinator) LastRun() *Result {
	return c.lastRun.Load()
}

// Running reports whether a backfill is currently in flight.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

func (c *Coordinator) persist(res Result) error {
	if c.statusPath == "" {
		return nil
	}
	return WriteStatus(c.statusPath, res)
}
