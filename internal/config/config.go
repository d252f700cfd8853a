// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

// Package config assembles the runtime configuration from built-in
// defaults, an optional YAML file, and TICKERWIRE_* environment
// variables, in that order of precedence (env wins).
//
// Environment variables map to config paths by stripping the
// TICKERWIRE_ prefix, lowercasing, and turning "__" into nesting:
//
//	TICKERWIRE_DATA_ROOT                     -> data_root
//	TICKERWIRE_PIPELINE__CAPACITY            -> pipeline.capacity
//	TICKERWIRE_PROVIDERS__POLYGON__API_KEY   -> providers.polygon.api_key
package config

import (
	"path/filepath"
	"time"
)

// Config is the complete runtime configuration tree. Field bounds are
// enforced by Validate; zero values in optional path fields are filled
// from DataRoot after loading.
type Config struct {
	// DataRoot anchors every derived on-disk path: the DuckDB store,
	// the audit trail, JetStream storage, and the canonical tables.
	DataRoot string `koanf:"data_root" validate:"required"`

	Logging     LoggingConfig             `koanf:"logging"`
	Metrics     MetricsConfig             `koanf:"metrics"`
	Pipeline    PipelineConfig            `koanf:"pipeline"`
	Canonical   CanonicalConfig           `koanf:"canonical"`
	Stream      StreamConfig              `koanf:"stream"`
	Providers   map[string]ProviderConfig `koanf:"providers" validate:"dive"`
	Backfill    BackfillConfig            `koanf:"backfill"`
	Gapfill     GapfillConfig             `koanf:"gapfill"`
	Resubscribe ResubscribeConfig         `koanf:"resubscribe"`
	Store       StoreConfig               `koanf:"store"`
	Audit       AuditConfig               `koanf:"audit"`
	NATS        NATSConfig                `koanf:"nats"`
	API         APIConfig                 `koanf:"api"`
}

// LoggingConfig controls the zerolog root logger.
type LoggingConfig struct {
	Level     string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format    string `koanf:"format" validate:"oneof=json console"`
	Caller    bool   `koanf:"caller"`
	Timestamp bool   `koanf:"timestamp"`
}

// MetricsConfig gates Prometheus collectors across all components.
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// PipelineConfig tunes the bounded ingestion pipeline and its batcher.
type PipelineConfig struct {
	Capacity      int           `koanf:"capacity" validate:"min=1"`
	FullMode      string        `koanf:"full_mode" validate:"oneof=drop_oldest wait"`
	BatchSize     int           `koanf:"batch_size" validate:"min=1"`
	FlushInterval time.Duration `koanf:"flush_interval"`
}

// CanonicalConfig controls symbol canonicalization and its rollout.
// Table paths left empty resolve under <data_root>/tables.
type CanonicalConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Version        int      `koanf:"version" validate:"min=0"`
	PilotSymbols   []string `koanf:"pilot_symbols"`
	DualWrite      bool     `koanf:"dual_write"`
	SymbolTable    string   `koanf:"symbol_table"`
	VenueTable     string   `koanf:"venue_table"`
	ConditionTable string   `koanf:"condition_table"`
}

// StreamConfig tunes the shared WebSocket connection lifecycle used by
// every streaming provider.
type StreamConfig struct {
	BackoffBase       time.Duration `koanf:"backoff_base"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
	MaxDialAttempts   int           `koanf:"max_dial_attempts" validate:"min=1"`
	DialTimeout       time.Duration `koanf:"dial_timeout"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	ProbeTimeout      time.Duration `koanf:"probe_timeout"`
	MaxMissedProbes   int           `koanf:"max_missed_probes" validate:"min=1"`
	ReadDeadline      time.Duration `koanf:"read_deadline"`
	ReconnectBuffer   int           `koanf:"reconnect_buffer" validate:"min=1"`
}

// ProviderConfig describes one market-data provider. The map key under
// providers is the provider name (polygon, alpaca, finnhub, ...).
type ProviderConfig struct {
	Enabled bool `koanf:"enabled"`
	// Priority orders providers inside the composite historical
	// provider; lower tries first.
	Priority  int    `koanf:"priority" validate:"min=0"`
	Endpoint  string `koanf:"endpoint"`
	APIKey    string `koanf:"api_key"`
	APISecret string `koanf:"api_secret"`

	// Rate limit for the provider's REST surface. Zero
	// MaxRequestsPerWindow means unlimited.
	MaxRequestsPerWindow int           `koanf:"max_requests_per_window" validate:"min=0"`
	RateLimitWindow      time.Duration `koanf:"rate_limit_window"`
	MinInterRequestDelay time.Duration `koanf:"min_inter_request_delay"`

	// Initial subscriptions established after every (re)connect.
	SubscribeTrades []string `koanf:"subscribe_trades"`
	SubscribeQuotes []string `koanf:"subscribe_quotes"`
	SubscribeDepth  []string `koanf:"subscribe_depth"`
}

// BackfillConfig tunes the historical backfill coordinator.
type BackfillConfig struct {
	// DefaultProvider is used when a backfill request names none.
	DefaultProvider string `koanf:"default_provider"`
	// StatusFile persists the last run's outcome across restarts.
	// Empty resolves to <data_root>/.mdc/backfill_status.json.
	StatusFile string `koanf:"status_file"`
}

// GapfillConfig tunes the reconnect gap-fill trigger.
type GapfillConfig struct {
	Enabled    bool          `koanf:"enabled"`
	MinimumGap time.Duration `koanf:"minimum_gap"`
	Provider   string        `koanf:"provider"`
}

// ResubscribeConfig tunes the integrity-driven resubscribe policy and
// its circuit breakers.
type ResubscribeConfig struct {
	Enabled                bool          `koanf:"enabled"`
	MinSeverity            string        `koanf:"min_severity" validate:"oneof=info warning error critical"`
	SymbolCooldown         time.Duration `koanf:"symbol_cooldown"`
	MinInterval            time.Duration `koanf:"min_interval"`
	SymbolCircuitThreshold int           `koanf:"symbol_circuit_threshold" validate:"min=1"`
	SymbolCircuitDuration  time.Duration `koanf:"symbol_circuit_duration"`
	GlobalCircuitThreshold int           `koanf:"global_circuit_threshold" validate:"min=1"`
	GlobalCircuitDuration  time.Duration `koanf:"global_circuit_duration"`
	HalfOpenTestInterval   time.Duration `koanf:"half_open_test_interval"`
	SweepInterval          time.Duration `koanf:"sweep_interval"`
	IdleEviction           time.Duration `koanf:"idle_eviction"`
}

// StoreConfig tunes the DuckDB event store. Path left empty resolves to
// <data_root>/tickerwire.duckdb.
type StoreConfig struct {
	Path string `koanf:"path"`
	// Threads caps DuckDB's worker threads; 0 uses runtime.NumCPU().
	Threads       int           `koanf:"threads" validate:"min=0"`
	MaxMemory     string        `koanf:"max_memory"`
	ChunkSize     int           `koanf:"chunk_size" validate:"min=0"`
	FlushInterval time.Duration `koanf:"flush_interval"`
}

// AuditConfig tunes the badger-backed drop audit trail. Path left empty
// resolves to <data_root>/audit.
type AuditConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Path       string        `koanf:"path"`
	TTL        time.Duration `koanf:"ttl"`
	QueueSize  int           `koanf:"queue_size" validate:"min=1"`
	GCInterval time.Duration `koanf:"gc_interval"`
}

// NATSConfig tunes the JetStream distribution sink. It only takes
// effect in binaries built with the nats tag. StoreDir left empty
// resolves to <data_root>/nats.
type NATSConfig struct {
	Enabled bool `koanf:"enabled"`
	// URL of an external NATS server; ignored when Embedded.
	URL      string `koanf:"url"`
	Embedded bool   `koanf:"embedded"`
	Host     string `koanf:"host"`
	// Port for the embedded server; -1 picks a random free port.
	Port            int           `koanf:"port" validate:"min=-1,max=65535"`
	StoreDir        string        `koanf:"store_dir"`
	StreamName      string        `koanf:"stream_name"`
	MaxAge          time.Duration `koanf:"max_age"`
	MaxBytes        int64         `koanf:"max_bytes" validate:"min=0"`
	DuplicateWindow time.Duration `koanf:"duplicate_window"`
}

// APIConfig tunes the operational HTTP API. BearerTokenHash and
// JWTSecret are mutually exclusive; both empty disables auth.
type APIConfig struct {
	Enabled            bool          `koanf:"enabled"`
	Listen             string        `koanf:"listen"`
	RateLimitPerMinute int           `koanf:"rate_limit_per_minute" validate:"min=0"`
	CORSOrigins        []string      `koanf:"cors_origins"`
	BearerTokenHash    string        `koanf:"bearer_token_hash"`
	JWTSecret          string        `koanf:"jwt_secret"`
	ReadTimeout        time.Duration `koanf:"read_timeout"`
	WriteTimeout       time.Duration `koanf:"write_timeout"`
	ShutdownTimeout    time.Duration `koanf:"shutdown_timeout"`
}

// Default returns the built-in defaults: ingestion, canonicalization,
// storage, audit, and the ops API on; NATS distribution off.
func Default() *Config {
	return &Config{
		DataRoot: "/data/tickerwire",
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "json",
			Caller:    false,
			Timestamp: true,
		},
		Metrics: MetricsConfig{Enabled: true},
		Pipeline: PipelineConfig{
			Capacity:      100000,
			FullMode:      "drop_oldest",
			BatchSize:     100,
			FlushInterval: 5 * time.Second,
		},
		Canonical: CanonicalConfig{
			Enabled:   true,
			Version:   1,
			DualWrite: false,
		},
		Stream: StreamConfig{
			BackoffBase:       2 * time.Second,
			BackoffMultiplier: 2.0,
			MaxDialAttempts:   5,
			DialTimeout:       30 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			ProbeTimeout:      10 * time.Second,
			MaxMissedProbes:   3,
			ReadDeadline:      60 * time.Second,
			ReconnectBuffer:   500,
		},
		Providers: map[string]ProviderConfig{},
		Backfill: BackfillConfig{
			DefaultProvider: "composite",
		},
		Gapfill: GapfillConfig{
			Enabled:    true,
			MinimumGap: 10 * time.Second,
			Provider:   "composite",
		},
		Resubscribe: ResubscribeConfig{
			Enabled:                true,
			MinSeverity:            "error",
			SymbolCooldown:         30 * time.Second,
			MinInterval:            5 * time.Second,
			SymbolCircuitThreshold: 3,
			SymbolCircuitDuration:  120 * time.Second,
			GlobalCircuitThreshold: 5,
			GlobalCircuitDuration:  60 * time.Second,
			HalfOpenTestInterval:   5 * time.Second,
			SweepInterval:          5 * time.Minute,
			IdleEviction:           time.Hour,
		},
		Store: StoreConfig{
			Threads:       0, // 0 = runtime.NumCPU()
			MaxMemory:     "512MB",
			ChunkSize:     500,
			FlushInterval: 30 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    true,
			TTL:        72 * time.Hour,
			QueueSize:  1024,
			GCInterval: 10 * time.Minute,
		},
		NATS: NATSConfig{
			Enabled:         false,
			Embedded:        true,
			Host:            "127.0.0.1",
			Port:            4222,
			StreamName:      "MARKET",
			MaxAge:          24 * time.Hour,
			MaxBytes:        1 << 30, // 1GiB
			DuplicateWindow: 2 * time.Minute,
		},
		API: APIConfig{
			Enabled:            true,
			Listen:             ":8080",
			RateLimitPerMinute: 60,
			ReadTimeout:        15 * time.Second,
			WriteTimeout:       30 * time.Second,
			ShutdownTimeout:    10 * time.Second,
		},
	}
}

// applyDerivedPaths fills path fields left empty with locations under
// DataRoot.
func (c *Config) applyDerivedPaths() {
	if c.DataRoot == "" {
		return
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataRoot, "tickerwire.duckdb")
	}
	if c.Audit.Path == "" {
		c.Audit.Path = filepath.Join(c.DataRoot, "audit")
	}
	if c.NATS.StoreDir == "" {
		c.NATS.StoreDir = filepath.Join(c.DataRoot, "nats")
	}
	if c.Backfill.StatusFile == "" {
		c.Backfill.StatusFile = filepath.Join(c.DataRoot, ".mdc", "backfill_status.json")
	}
	if c.Canonical.SymbolTable == "" {
		c.Canonical.SymbolTable = filepath.Join(c.DataRoot, "tables", "symbols.json")
	}
	if c.Canonical.VenueTable == "" {
		c.Canonical.VenueTable = filepath.Join(c.DataRoot, "tables", "venues.json")
	}
	if c.Canonical.ConditionTable == "" {
		c.Canonical.ConditionTable = filepath.Join(c.DataRoot, "tables", "conditions.json")
	}
}
