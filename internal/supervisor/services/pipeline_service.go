// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

// Package services adapts components with their own lifecycle calls to
// suture's Serve(ctx) convention.
package services

import (
	"context"
	"fmt"
	"time"
)

// Pipeline matches *pipeline.EventPipeline's lifecycle surface.
type Pipeline interface {
	Start()
	Complete()
	Dispose(ctx context.Context) error
	Name() string
}

const defaultDisposeTimeout = 35 * time.Second

// PipelineService runs an event pipeline under supervision: started on
// Serve, completed and disposed on shutdown. The pipeline is one-shot;
// the service never returns a restartable error of its own.
type PipelineService struct {
	pipe           Pipeline
	disposeTimeout time.Duration
}

// NewPipelineService wraps a pipeline. disposeTimeout bounds the final
// flush; zero uses a default that outlasts one flush interval.
func NewPipelineService(pipe Pipeline, disposeTimeout time.Duration) *PipelineService {
	if disposeTimeout <= 0 {
		disposeTimeout = defaultDisposeTimeout
	}
	return &PipelineService{pipe: pipe, disposeTimeout: disposeTimeout}
}

// Serve implements suture.Service.
func (s *PipelineService) Serve(ctx context.Context) error {
	s.pipe.Start()
	<-ctx.Done()

	s.pipe.Complete()
	// Dispose needs a live context; the service's own is canceled.
	dctx, cancel := context.WithTimeout(context.Background(), s.disposeTimeout)
	defer cancel()
	if err := s.pipe.Dispose(dctx); err != nil {
		return fmt.Errorf("pipeline %s dispose: %w", s.pipe.Name(), err)
	}
	return ctx.Err()
}

func (s *PipelineService) String() string {
	return "pipeline-" + s.pipe.Name()
}
