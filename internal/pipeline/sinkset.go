// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package pipeline

import (
	"context"
	"errors"

	"github.com/tomtom215/tickerwire/internal/market"
)

// SinkSet fans one consumer's sink calls out to several sinks, letting a
// pipeline write to storage and a distributor in one pass. Every member
// sees every call even when an earlier one fails; failures are joined into
// the returned error.
type SinkSet struct {
	sinks []StorageSink
}

var _ StorageSink = (*SinkSet)(nil)

// NewSinkSet builds a set from the non-nil sinks.
func NewSinkSet(sinks ...StorageSink) *SinkSet {
	members := make([]StorageSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			members = append(members, s)
		}
	}
	return &SinkSet{sinks: members}
}

// Size returns the number of member sinks.
func (s *SinkSet) Size() int { return len(s.sinks) }

// Append delivers evt to every member.
func (s *SinkSet) Append(ctx context.Context, evt *market.MarketEvent) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Append(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush flushes every member.
func (s *SinkSet) Flush(ctx context.Context) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every member.
func (s *SinkSet) Close(ctx context.Context) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shared wraps a long-lived sink for use by a short-lived pipeline.
// Close flushes instead of closing, so a backfill scratch pipeline can
// dispose itself without tearing down the store it shares with the main
// pipeline.
func Shared(sink StorageSink) StorageSink {
	return &sharedSink{sink: sink}
}

type sharedSink struct {
	sink StorageSink
}

func (s *sharedSink) Append(ctx context.Context, evt *market.MarketEvent) error {
	return s.sink.Append(ctx, evt)
}

func (s *sharedSink) Flush(ctx context.Context) error {
	return s.sink.Flush(ctx)
}

// Close flushes the underlying sink and leaves it open.
func (s *sharedSink) Close(ctx context.Context) error {
	return s.sink.Flush(ctx)
}
