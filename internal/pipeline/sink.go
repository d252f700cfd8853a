// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package pipeline

import (
	"context"

	"github.com/tomtom215/tickerwire/internal/market"
)

// StorageSink receives consumed events. Append buffers only; batching and
// IO belong to Flush. Append errors stop the pipeline consumer.
type StorageSink interface {
	Append(ctx context.Context, evt *market.MarketEvent) error
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// DropAudit records dropped events for later inspection. Record is
// fire-and-forget: implementations must not block the publish path.
type DropAudit interface {
	Record(evt *market.MarketEvent, reason string)
	Close() error
}

// Publisher is the producer-facing side of a pipeline. Decorators wrap it.
type Publisher interface {
	TryPublish(evt *market.MarketEvent) bool
	PublishAsync(ctx context.Context, evt *market.MarketEvent) error
}
