// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Stream matches *stream.Base's lifecycle surface.
type Stream interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Name() string
}

// StreamService runs one provider stream under supervision. A failed
// connect cycle returns an error so suture restarts the service with
// backoff; once connected the stream heals its own outages and the
// service just holds the lifecycle.
type StreamService struct {
	stream Stream
	logger zerolog.Logger
}

// NewStreamService wraps a provider stream.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewStreamService(stream Stream, logger zerolog.Logger) *StreamService {
	return &StreamService{
		stream: stream,
		logger: logger.With().Str("component", "stream-service").Str("provider", stream.Name()).Logger(),
	}
}

// Serve implements suture.Service.
func (s *StreamService) Serve(ctx context.Context) error {
	if err := s.stream.Connect(ctx); err != nil {
		return fmt.Errorf("stream %s connect: %w", s.stream.Name(), err)
	}
	<-ctx.Done()

	if err := s.stream.Disconnect(); err != nil {
		s.logger.Warn().Err(err).Msg("stream disconnect failed")
	}
	return ctx.Err()
}

func (s *StreamService) String() string {
	return "stream-" + s.stream.Name()
}
