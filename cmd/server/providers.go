// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package main

import (
	"github.com/rs/zerolog"

	"github.com/tomtom215/tickerwire/internal/config"
	"github.com/tomtom215/tickerwire/internal/history"
	"github.com/tomtom215/tickerwire/internal/logging"
	"github.com/tomtom215/tickerwire/internal/pipeline"
	"github.com/tomtom215/tickerwire/internal/stream"
)

// Vendor wire-format adapters live outside this repository. An adapter
// package links itself in by adding factories to these maps from an init
// function in its own (possibly build-tagged) file under cmd/server, the
// same way the NATS distributor is wired. The daemon runs fine with none:
// enabled providers without a factory are logged and skipped, and backfill
// requests fail with a provider-not-found error until one is linked.
var (
	streamAdapterFactories   = map[string]streamAdapterFactory{}
	historyProviderFactories = map[string]historyProviderFactory{}
)

// registryBaseIDSpacing separates each provider's subscription id range.
const registryBaseIDSpacing = int64(1_000_000)

// streamAdapterFactory builds the WebSocket adapter for one configured
// provider.
type streamAdapterFactory func(name string, pc config.ProviderConfig) (stream.ProviderAdapter, error)

// historyProviderFactory builds the historical REST provider for one
// configured provider.
type historyProviderFactory func(name string, pc config.ProviderConfig) (history.Provider, error)

// buildStreams constructs one streaming base per enabled provider with a
// linked adapter and establishes its configured initial subscriptions.
// Registry base IDs are spaced so subscription ids never collide across
// providers.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func buildStreams(cfg *config.Config, publisher pipeline.Publisher, logger zerolog.Logger) []*stream.Base {
	var streams []*stream.Base
	for i, name := range enabledProviders(cfg) {
		pc := cfg.Providers[name]
		factory, ok := streamAdapterFactories[name]
		if !ok {
			logging.Warn().
				Str("provider", name).
				Msg("No streaming adapter linked for provider, skipping")
			continue
		}
		adapter, err := factory(name, pc)
		if err != nil {
			logging.Warn().
				Err(err).
				Str("provider", name).
				Msg("Failed to build streaming adapter, skipping")
			continue
		}

		base := stream.NewBase(adapter, publisher, stream.Config{
			BackoffBase:       cfg.Stream.BackoffBase,
			BackoffMultiplier: cfg.Stream.BackoffMultiplier,
			MaxDialAttempts:   cfg.Stream.MaxDialAttempts,
			DialTimeout:       cfg.Stream.DialTimeout,
			HeartbeatInterval: cfg.Stream.HeartbeatInterval,
			ProbeTimeout:      cfg.Stream.ProbeTimeout,
			MaxMissedProbes:   cfg.Stream.MaxMissedProbes,
			ReadDeadline:      cfg.Stream.ReadDeadline,
			RegistryBaseID:    int64(i+1) * registryBaseIDSpacing,
			ReconnectBuffer:   cfg.Stream.ReconnectBuffer,
			EnableMetrics:     cfg.Metrics.Enabled,
		}, logger)

		// Seed the registry before the service connects; the connect
		// handshake pushes the full subscription set.
		base.SubscribeTrades(pc.SubscribeTrades...)
		base.SubscribeQuotes(pc.SubscribeQuotes...)
		base.SubscribeDepth(pc.SubscribeDepth...)

		logging.Info().
			Str("provider", name).
			Int("trades", len(pc.SubscribeTrades)).
			Int("quotes", len(pc.SubscribeQuotes)).
			Int("depth", len(pc.SubscribeDepth)).
			Msg("Provider stream configured")
		streams = append(streams, base)
	}
	return streams
}

// buildHistoryRegistry registers the historical provider for every enabled
// provider with a linked factory, then wraps them all in the composite so
// requests naming no provider get priority-ordered fallback.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func buildHistoryRegistry(cfg *config.Config, logger zerolog.Logger) *history.Registry {
	registry := history.NewRegistry()
	for _, name := range enabledProviders(cfg) {
		pc := cfg.Providers[name]
		factory, ok := historyProviderFactories[name]
		if !ok {
			continue
		}
		provider, err := factory(name, pc)
		if err != nil {
			logging.Warn().
				Err(err).
				Str("provider", name).
				Msg("Failed to build historical provider, skipping")
			continue
		}
		if err := registry.Register(provider); err != nil {
			logging.Warn().
				Err(err).
				Str("provider", name).
				Msg("Failed to register historical provider")
			continue
		}
		logging.Info().
			Str("provider", name).
			Int("priority", provider.Priority()).
			Msg("Historical provider registered")
	}

	if providers := registry.All(); len(providers) > 0 {
		composite := history.NewComposite(providers, logger,
			history.WithMetrics(cfg.Metrics.Enabled))
		if err := registry.Register(composite); err != nil {
			logging.Warn().Err(err).Msg("Failed to register composite provider")
		} else {
			logging.Info().
				Int("providers", len(providers)).
				Msg("Composite historical provider registered")
		}
	} else {
		logging.Info().Msg("No historical providers linked, backfill requests will be rejected")
	}
	return registry
}
