// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

//go:build !nats

package bus

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tickerwire/internal/market"
)

// ErrNotBuilt is returned when distribution is requested from a binary
// compiled without the nats tag.
var ErrNotBuilt = errors.New("bus: NATS distributor not available: build with -tags=nats")

// Distributor is a stub compiled without NATS support.
// Build with -tags=nats to enable JetStream distribution.
type Distributor struct{}

// NewDistributor always fails in stub builds.
func NewDistributor(Config, zerolog.Logger) (*Distributor, error) {
	return nil, ErrNotBuilt
}

// Append implements pipeline.StorageSink as a no-op.
func (d *Distributor) Append(context.Context, *market.MarketEvent) error { return nil }

// Flush implements pipeline.StorageSink as a no-op.
func (d *Distributor) Flush(context.Context) error { return nil }

// Close implements pipeline.StorageSink as a no-op.
func (d *Distributor) Close(context.Context) error { return nil }

// Stats returns zero counters.
func (d *Distributor) Stats() Stats { return Stats{} }
