// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

//go:build !nats

package main

import (
	"github.com/rs/zerolog"

	"github.com/tomtom215/tickerwire/internal/bus"
	"github.com/tomtom215/tickerwire/internal/config"
	"github.com/tomtom215/tickerwire/internal/logging"
)

// initDistributor is a no-op stub for non-NATS builds.
// Returns nil to indicate distribution is not available.
func initDistributor(cfg *config.Config, _ zerolog.Logger) (*bus.Distributor, error) {
	if cfg.NATS.Enabled {
		logging.Warn().Msg("NATS_ENABLED=true but NATS support not compiled (build with -tags nats)")
	}
	return nil, nil
}
