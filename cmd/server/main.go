// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

// Package main is the entry point for the Tickerwire daemon.
//
// Tickerwire ingests equities market data from streaming WebSocket feeds,
// canonicalizes events to a uniform identity scheme, and writes them to a
// DuckDB store behind a bounded, backpressured pipeline. Historical bars
// are backfilled on demand (and automatically after reconnect gaps) through
// priority-ordered provider fallback.
//
// # Application Architecture
//
// The daemon initializes components in the following order:
//
//  1. Configuration: layered load from defaults, config.yaml, and
//     TICKERWIRE_* environment variables (Koanf v2)
//  2. Canonical tables: frozen symbol/venue/condition mappings from JSON
//  3. Event store: DuckDB file with batched appends and periodic flushes
//  4. Distributor (optional): NATS JetStream fan-out, requires -tags nats
//  5. Audit trail: BadgerDB store of dropped events with TTL expiry
//  6. Event pipeline: bounded queue, single consumer, canonicalizing
//     publisher decorator in front when enabled
//  7. Backfill: historical provider registry, composite fallback,
//     one-at-a-time coordinator with persisted status
//  8. Streams: one WebSocket service per enabled provider, plus the
//     gap-fill trigger and resubscribe sweeper
//  9. Ops API: chi HTTP server for health, stats, and backfill control
//  10. Supervisor tree: suture root with data / feed / api layers
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (TICKERWIRE_ prefix, __ for nesting)
//   - Config file (config.yaml, or TICKERWIRE_CONFIG to point elsewhere)
//   - Built-in defaults
//
// # Build Tags
//
// Optional build tags enable additional functionality:
//
//	go build -tags "nats" ./cmd/server  # Enable NATS JetStream fan-out
//
// Without the tag the distributor is compiled out and events are only
// written to DuckDB.
//
// # Signal Handling
//
// The daemon handles graceful shutdown on SIGINT and SIGTERM:
//   - Disconnects provider streams
//   - Completes the pipeline and flushes buffered events to the store
//   - Stops the ops API after in-flight requests finish (10s timeout)
//   - Closes the audit trail and, when enabled, the distributor
//
// # Example Usage
//
// Minimal single-node run:
//
//	export TICKERWIRE_DATA_ROOT=/data/tickerwire
//	./tickerwire
//
// With a provider feed and API token auth:
//
//	export TICKERWIRE_DATA_ROOT=/data/tickerwire
//	export TICKERWIRE_PROVIDERS__POLYGON__ENABLED=true
//	export TICKERWIRE_PROVIDERS__POLYGON__API_KEY=pk_live_...
//	export TICKERWIRE_PROVIDERS__POLYGON__SUBSCRIBE_TRADES=AAPL,MSFT,SPY
//	export TICKERWIRE_API__BEARER_TOKEN_HASH='$2a$10$...'
//	./tickerwire
//
// With JetStream distribution (binary built with -tags nats):
//
//	export TICKERWIRE_NATS__ENABLED=true
//	export TICKERWIRE_NATS__EMBEDDED=true
//	./tickerwire
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"slices"
	"sort"
	"strings"
	"syscall"

	"github.com/tomtom215/tickerwire/internal/api"
	"github.com/tomtom215/tickerwire/internal/audit"
	"github.com/tomtom215/tickerwire/internal/backfill"
	"github.com/tomtom215/tickerwire/internal/bus"
	"github.com/tomtom215/tickerwire/internal/canonical"
	"github.com/tomtom215/tickerwire/internal/clock"
	"github.com/tomtom215/tickerwire/internal/config"
	"github.com/tomtom215/tickerwire/internal/gapfill"
	"github.com/tomtom215/tickerwire/internal/logging"
	"github.com/tomtom215/tickerwire/internal/market"
	"github.com/tomtom215/tickerwire/internal/pipeline"
	"github.com/tomtom215/tickerwire/internal/resub"
	"github.com/tomtom215/tickerwire/internal/store"
	"github.com/tomtom215/tickerwire/internal/stream"
	"github.com/tomtom215/tickerwire/internal/subs"
	"github.com/tomtom215/tickerwire/internal/supervisor"
	"github.com/tomtom215/tickerwire/internal/supervisor/services"
)

// version is injected at build time via
// -ldflags "-X main.version=v1.2.3".
var version = "dev"

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: cfg.Logging.Timestamp,
	})
	api.Version = version

	logging.Info().
		Str("version", version).
		Str("data_root", cfg.DataRoot).
		Int("pipeline_capacity", cfg.Pipeline.Capacity).
		Str("full_mode", cfg.Pipeline.FullMode).
		Msg("Starting Tickerwire")

	baseLogger := logging.Logger()

	// Canonical identity tables (frozen after load)
	canon, err := loadCanonicalizer(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load canonical tables")
	}

	// DuckDB event store
	db, err := store.Open(store.Config{
		Path:          cfg.Store.Path,
		Threads:       cfg.Store.Threads,
		MaxMemory:     cfg.Store.MaxMemory,
		ChunkSize:     cfg.Store.ChunkSize,
		EnableMetrics: cfg.Metrics.Enabled,
	}, baseLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open event store")
	}
	defer func() {
		if err := db.Close(context.Background()); err != nil {
			logging.Error().Err(err).Msg("Error closing event store")
		}
	}()
	logging.Info().Str("path", cfg.Store.Path).Msg("Event store opened")

	// NATS JetStream distributor (optional - requires build with -tags nats)
	dist, err := initDistributor(cfg, baseLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize distributor")
	}

	// The pipeline writes to the store and, when enabled, the distributor
	// in one pass.
	var mainSink pipeline.StorageSink = db
	if dist != nil {
		mainSink = pipeline.NewSinkSet(db, dist)
	}

	// Dropped-event audit trail
	var trail audit.Trail = audit.NopTrail{}
	var badgerTrail *audit.BadgerTrail
	if cfg.Audit.Enabled {
		badgerTrail, err = audit.OpenBadger(audit.Config{
			Path:          cfg.Audit.Path,
			TTL:           cfg.Audit.TTL,
			QueueSize:     cfg.Audit.QueueSize,
			EnableMetrics: cfg.Metrics.Enabled,
		}, baseLogger)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to open audit trail")
		}
		trail = badgerTrail
		logging.Info().
			Str("path", cfg.Audit.Path).
			Dur("ttl", cfg.Audit.TTL).
			Msg("Dropped-event audit trail opened")
	} else {
		logging.Info().Msg("Dropped-event audit trail disabled (AUDIT_ENABLED=false)")
	}

	// Event pipeline: bounded queue feeding the sink set. The pipeline
	// owns the sinks and the trail from here on; its Dispose closes them.
	pipe, err := pipeline.New(
		"market-data",
		pipeline.Policy{
			Capacity:      cfg.Pipeline.Capacity,
			FullMode:      fullMode(cfg.Pipeline.FullMode),
			EnableMetrics: cfg.Metrics.Enabled,
		},
		pipeline.Config{
			BatchSize:           cfg.Pipeline.BatchSize,
			FlushInterval:       cfg.Pipeline.FlushInterval,
			EnablePeriodicFlush: true,
		},
		mainSink,
		trail,
		baseLogger,
	)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build event pipeline")
	}

	// Streams publish through the canonicalizing decorator when enabled.
	var publisher pipeline.Publisher = pipe
	var canonPub *canonical.CanonicalizingPublisher
	if canon != nil {
		var sink canonical.MetricsSink = canonical.NopSink{}
		if cfg.Metrics.Enabled {
			sink = canonical.PromSink{}
		}
		canonPub = canonical.NewPublisher(pipe, canon, canonical.Options{
			PilotSymbols: cfg.Canonical.PilotSymbols,
			DualWrite:    cfg.Canonical.DualWrite,
			Metrics:      sink,
		})
		publisher = canonPub
		logging.Info().
			Int("version", cfg.Canonical.Version).
			Int("pilot_symbols", len(cfg.Canonical.PilotSymbols)).
			Bool("dual_write", cfg.Canonical.DualWrite).
			Msg("Canonicalizing publisher enabled")
	} else {
		logging.Info().Msg("Canonicalization disabled, events pass through raw")
	}

	// Historical providers and backfill. Vendor provider packages register
	// factories from their own files; see providers.go.
	clk := clock.Real{}
	registry := buildHistoryRegistry(cfg, baseLogger)
	tracker := backfill.NewProgressTracker(clk)
	service := backfill.NewService(registry, tracker, clk, baseLogger)
	coordinator := backfill.NewCoordinator(
		service,
		// Scratch pipelines share the main sink set; their dispose must
		// flush it, not close it.
		func(string) (pipeline.StorageSink, error) { return pipeline.Shared(mainSink), nil },
		cfg.Backfill.StatusFile,
		clk,
		baseLogger,
	)
	coordinator.SetDefaultProvider(cfg.Backfill.DefaultProvider)
	if last, err := backfill.ReadStatus(cfg.Backfill.StatusFile); err == nil {
		logging.Info().
			Str("job_id", last.JobID).
			Bool("success", last.Success).
			Time("completed_at", last.CompletedAt).
			Msg("Previous backfill status loaded")
	}

	// Provider streams
	streams := buildStreams(cfg, publisher, baseLogger)

	// Gap-fill triggers, one per stream, all funneling into the shared
	// coordinator so fills respect its one-at-a-time gate.
	var triggers []*gapfill.Trigger
	if cfg.Gapfill.Enabled {
		for _, st := range streams {
			trigger := gapfill.NewTrigger(gapfill.Config{
				Enabled:       true,
				MinimumGap:    cfg.Gapfill.MinimumGap,
				Provider:      cfg.Gapfill.Provider,
				EnableMetrics: cfg.Metrics.Enabled,
			}, st.Reconnects(), coordinator, st.Registry(), baseLogger)
			triggers = append(triggers, trigger)
		}
	} else if len(streams) > 0 {
		logging.Info().Msg("Gap-fill trigger disabled (GAPFILL_ENABLED=false)")
	}

	// Resubscribe policy over all streams
	var policy *resub.Policy
	if cfg.Resubscribe.Enabled && len(streams) > 0 {
		policy = resub.NewPolicy(resub.Config{
			MinSeverity:            market.ParseSeverity(cfg.Resubscribe.MinSeverity),
			SymbolCooldown:         cfg.Resubscribe.SymbolCooldown,
			MinResubscribeInterval: cfg.Resubscribe.MinInterval,
			SymbolCircuitThreshold: cfg.Resubscribe.SymbolCircuitThreshold,
			SymbolCircuitDuration:  cfg.Resubscribe.SymbolCircuitDuration,
			GlobalCircuitThreshold: cfg.Resubscribe.GlobalCircuitThreshold,
			GlobalCircuitDuration:  cfg.Resubscribe.GlobalCircuitDuration,
			HalfOpenTestInterval:   cfg.Resubscribe.HalfOpenTestInterval,
			SweepInterval:          cfg.Resubscribe.SweepInterval,
			IdleEviction:           cfg.Resubscribe.IdleEviction,
			EnableMetrics:          cfg.Metrics.Enabled,
		}, fanoutApplier(streams), clk, baseLogger)
		logging.Info().
			Str("min_severity", cfg.Resubscribe.MinSeverity).
			Int("symbol_threshold", cfg.Resubscribe.SymbolCircuitThreshold).
			Int("global_threshold", cfg.Resubscribe.GlobalCircuitThreshold).
			Msg("Resubscribe policy enabled")
	}

	// Ops API
	handler := api.NewHandler(api.Deps{
		Stats:         statsSources(pipe, canonPub, policy, db, badgerTrail, dist, triggers),
		Subscriptions: allSubscriptions(streams),
		Drops:         trail,
		Backfill:      coordinator,
		Jobs:          tracker,
	}, baseLogger)
	apiCfg := api.Config{
		Listen:             cfg.API.Listen,
		RateLimitPerMinute: cfg.API.RateLimitPerMinute,
		CORSOrigins:        cfg.API.CORSOrigins,
		BearerTokenHash:    cfg.API.BearerTokenHash,
		JWTSecret:          cfg.API.JWTSecret,
		ReadTimeout:        cfg.API.ReadTimeout,
		WriteTimeout:       cfg.API.WriteTimeout,
		ShutdownTimeout:    cfg.API.ShutdownTimeout,
		EnableMetrics:      cfg.Metrics.Enabled,
	}
	server := api.NewServer(apiCfg, api.NewRouter(apiCfg, handler, baseLogger), baseLogger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog compatibility
	slogLogger := logging.NewSlogLogger()

	tree := supervisor.NewTree(slogLogger, supervisor.DefaultTreeConfig())

	// === ADD SERVICES TO SUPERVISOR TREE ===

	// Data layer: the pipeline first so it is stopped last and its final
	// flush sees everything the other services produced on the way down.
	tree.AddDataService(services.NewPipelineService(pipe, 0))
	tree.AddDataService(store.NewFlusher(db, cfg.Store.FlushInterval, baseLogger))
	if badgerTrail != nil {
		tree.AddDataService(audit.NewJanitor(badgerTrail, cfg.Audit.GCInterval, baseLogger))
	}

	// Feed layer
	for _, st := range streams {
		tree.AddFeedService(services.NewStreamService(st, baseLogger))
		logging.Info().Str("provider", st.Name()).Msg("Stream service added to supervisor tree")
	}
	for _, trigger := range triggers {
		tree.AddFeedService(trigger)
	}
	if policy != nil {
		tree.AddFeedService(policy)
	}

	// API layer
	if cfg.API.Enabled {
		tree.AddAPIService(server)
		logging.Info().Str("addr", cfg.API.Listen).Msg("Ops API service added")
	} else {
		logging.Info().Msg("Ops API disabled (API_ENABLED=false)")
	}

	// === START SUPERVISOR TREE ===

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Wait for the error channel to close (supervisor finished)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	// Report any services that failed to stop within timeout
	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Tickerwire stopped gracefully")
}

// loadCanonicalizer loads the three mapping tables and builds the
// canonicalizer, or returns nil when canonicalization is disabled.
// Missing table files degrade to empty tables; unparseable ones are fatal.
func loadCanonicalizer(cfg *config.Config) (*canonical.Canonicalizer, error) {
	if !cfg.Canonical.Enabled {
		return nil, nil
	}
	logger := logging.Logger()
	symbols, err := canonical.LoadTable(cfg.Canonical.SymbolTable, "symbols", logger)
	if err != nil {
		return nil, err
	}
	venues, err := canonical.LoadTable(cfg.Canonical.VenueTable, "venues", logger)
	if err != nil {
		return nil, err
	}
	conditions, err := canonical.LoadTable(cfg.Canonical.ConditionTable, "conditions", logger)
	if err != nil {
		return nil, err
	}
	return canonical.NewCanonicalizer(symbols, venues, conditions, cfg.Canonical.Version), nil
}

// fullMode maps the config string to a pipeline mode. Validation has
// already rejected anything else.
func fullMode(s string) pipeline.FullMode {
	if s == "wait" {
		return pipeline.Wait
	}
	return pipeline.DropOldest
}

// enabledProviders returns the enabled provider names in stable order.
func enabledProviders(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		if pc.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// allSubscriptions aggregates the live subscriptions across every stream
// for the ops API.
func allSubscriptions(streams []*stream.Base) func() []subs.Subscription {
	return func() []subs.Subscription {
		var out []subs.Subscription
		for _, st := range streams {
			out = append(out, st.Registry().All()...)
		}
		return out
	}
}

// fanoutApplier routes a resubscribe to every stream currently holding the
// symbol. Streams that never saw the symbol are skipped, not failed.
func fanoutApplier(streams []*stream.Base) resub.Applier {
	return applierFunc(func(ctx context.Context, sc subs.SymbolConfig) error {
		symbol := strings.ToUpper(strings.TrimSpace(sc.Symbol))
		var errs []error
		applied := 0
		for _, st := range streams {
			if !slices.Contains(st.Registry().AllSymbols(), symbol) {
				continue
			}
			applied++
			if err := st.Apply(ctx, sc); err != nil {
				errs = append(errs, err)
			}
		}
		if applied == 0 {
			return errors.New("no stream holds symbol " + symbol)
		}
		return errors.Join(errs...)
	})
}

// applierFunc adapts a function to resub.Applier.
type applierFunc func(ctx context.Context, sc subs.SymbolConfig) error

func (f applierFunc) Apply(ctx context.Context, sc subs.SymbolConfig) error { return f(ctx, sc) }

// statsSources assembles the component snapshot map served by
// GET /api/v1/stats. Nil components are simply absent from the document.
func statsSources(
	pipe *pipeline.EventPipeline,
	canonPub *canonical.CanonicalizingPublisher,
	policy *resub.Policy,
	db *store.DuckDB,
	trail *audit.BadgerTrail,
	dist *bus.Distributor,
	triggers []*gapfill.Trigger,
) map[string]api.StatsSource {
	sources := map[string]api.StatsSource{
		"pipeline": func() any { return pipe.Stats() },
		"store":    func() any { return db.Stats() },
	}
	if canonPub != nil {
		sources["canonical"] = func() any { return canonPub.Stats() }
	}
	if policy != nil {
		sources["resubscribe"] = func() any { return policy.Stats() }
	}
	if trail != nil {
		sources["audit"] = func() any { return trail.Stats() }
	}
	if dist != nil {
		sources["bus"] = func() any { return dist.Stats() }
	}
	if len(triggers) > 0 {
		sources["gapfill"] = func() any {
			agg := gapfill.Stats{}
			for _, t := range triggers {
				s := t.Stats()
				agg.Triggered += s.Triggered
				agg.Succeeded += s.Succeeded
				agg.Skipped += s.Skipped
			}
			return agg
		}
	}
	return sources
}
