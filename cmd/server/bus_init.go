// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

//go:build nats

package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tickerwire/internal/bus"
	"github.com/tomtom215/tickerwire/internal/config"
	"github.com/tomtom215/tickerwire/internal/logging"
)

// initDistributor builds the JetStream distributor when NATS_ENABLED=true.
// The returned distributor is a storage sink; the pipeline owns its
// lifecycle and closes it on dispose.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func initDistributor(cfg *config.Config, logger zerolog.Logger) (*bus.Distributor, error) {
	if !cfg.NATS.Enabled {
		logging.Info().Msg("NATS distribution disabled (NATS_ENABLED=false)")
		return nil, nil
	}

	dist, err := bus.NewDistributor(bus.Config{
		Enabled:         true,
		URL:             cfg.NATS.URL,
		Embedded:        cfg.NATS.Embedded,
		Host:            cfg.NATS.Host,
		Port:            cfg.NATS.Port,
		StoreDir:        cfg.NATS.StoreDir,
		StreamName:      cfg.NATS.StreamName,
		MaxAge:          cfg.NATS.MaxAge,
		MaxBytes:        cfg.NATS.MaxBytes,
		DuplicateWindow: cfg.NATS.DuplicateWindow,
		EnableMetrics:   cfg.Metrics.Enabled,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build distributor: %w", err)
	}

	logging.Info().
		Bool("embedded", cfg.NATS.Embedded).
		Str("stream", cfg.NATS.StreamName).
		Msg("NATS JetStream distributor initialized")
	return dist, nil
}
