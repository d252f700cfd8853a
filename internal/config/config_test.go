// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.DataRoot != "/data/tickerwire" {
		t.Errorf("DataRoot = %q, want /data/tickerwire", cfg.DataRoot)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want info/json", cfg.Logging)
	}
	if cfg.Pipeline.Capacity != 100000 {
		t.Errorf("Pipeline.Capacity = %d, want 100000", cfg.Pipeline.Capacity)
	}
	if cfg.Pipeline.FullMode != "drop_oldest" {
		t.Errorf("Pipeline.FullMode = %q, want drop_oldest", cfg.Pipeline.FullMode)
	}
	if !cfg.Canonical.Enabled || cfg.Canonical.Version != 1 {
		t.Errorf("Canonical = %+v, want enabled version 1", cfg.Canonical)
	}
	if cfg.Stream.BackoffBase != 2*time.Second || cfg.Stream.BackoffMultiplier != 2.0 {
		t.Errorf("Stream backoff = %v/%v, want 2s/2.0",
			cfg.Stream.BackoffBase, cfg.Stream.BackoffMultiplier)
	}
	if cfg.Resubscribe.MinSeverity != "error" {
		t.Errorf("Resubscribe.MinSeverity = %q, want error", cfg.Resubscribe.MinSeverity)
	}
	if cfg.Store.MaxMemory != "512MB" {
		t.Errorf("Store.MaxMemory = %q, want 512MB", cfg.Store.MaxMemory)
	}
	if cfg.Audit.TTL != 72*time.Hour {
		t.Errorf("Audit.TTL = %v, want 72h", cfg.Audit.TTL)
	}
	// Distribution is opt-in.
	if cfg.NATS.Enabled {
		t.Error("NATS.Enabled should be false by default")
	}
	if cfg.NATS.StreamName != "MARKET" {
		t.Errorf("NATS.StreamName = %q, want MARKET", cfg.NATS.StreamName)
	}
	if !cfg.API.Enabled || cfg.API.Listen != ":8080" {
		t.Errorf("API = %+v, want enabled on :8080", cfg.API)
	}
	if cfg.API.RateLimitPerMinute != 60 {
		t.Errorf("API.RateLimitPerMinute = %d, want 60", cfg.API.RateLimitPerMinute)
	}

	cfg.applyDerivedPaths()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate, got %v", err)
	}
}

func TestApplyDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.DataRoot = "/srv/tw"
	cfg.Store.Path = "/elsewhere/events.duckdb" // explicit value wins
	cfg.applyDerivedPaths()

	if cfg.Store.Path != "/elsewhere/events.duckdb" {
		t.Errorf("Store.Path = %q, want explicit value preserved", cfg.Store.Path)
	}
	if want := filepath.Join("/srv/tw", "audit"); cfg.Audit.Path != want {
		t.Errorf("Audit.Path = %q, want %q", cfg.Audit.Path, want)
	}
	if want := filepath.Join("/srv/tw", "nats"); cfg.NATS.StoreDir != want {
		t.Errorf("NATS.StoreDir = %q, want %q", cfg.NATS.StoreDir, want)
	}
	if want := filepath.Join("/srv/tw", ".mdc", "backfill_status.json"); cfg.Backfill.StatusFile != want {
		t.Errorf("Backfill.StatusFile = %q, want %q", cfg.Backfill.StatusFile, want)
	}
	if want := filepath.Join("/srv/tw", "tables", "symbols.json"); cfg.Canonical.SymbolTable != want {
		t.Errorf("Canonical.SymbolTable = %q, want %q", cfg.Canonical.SymbolTable, want)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"TICKERWIRE_DATA_ROOT", "data_root"},
		{"TICKERWIRE_PIPELINE__FULL_MODE", "pipeline.full_mode"},
		{"TICKERWIRE_PROVIDERS__POLYGON__API_KEY", "providers.polygon.api_key"},
		{"TICKERWIRE_NATS__DUPLICATE_WINDOW", "nats.duplicate_window"},
		{"TICKERWIRE_CONFIG", ""}, // file-path override, not a config key
	}
	for _, tc := range cases {
		if got := envTransformFunc(tc.in); got != tc.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFindConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)

	t.Run("no config file", func(t *testing.T) {
		t.Setenv(ConfigPathEnvVar, "")
		if got := findConfigFile(); got != "" {
			t.Errorf("findConfigFile() = %q, want empty", got)
		}
	})

	t.Run("config.yaml in working directory", func(t *testing.T) {
		t.Setenv(ConfigPathEnvVar, "")
		path := filepath.Join(tmpDir, "config.yaml")
		if err := os.WriteFile(path, []byte("data_root: /tmp/x\n"), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
		defer os.Remove(path)
		if got := findConfigFile(); got != "config.yaml" {
			t.Errorf("findConfigFile() = %q, want config.yaml", got)
		}
	})

	t.Run("env override wins", func(t *testing.T) {
		custom := filepath.Join(tmpDir, "custom.yaml")
		if err := os.WriteFile(custom, []byte("data_root: /tmp/x\n"), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
		t.Setenv(ConfigPathEnvVar, custom)
		if got := findConfigFile(); got != custom {
			t.Errorf("findConfigFile() = %q, want %q", got, custom)
		}
	})

	t.Run("nonexistent env path falls through", func(t *testing.T) {
		t.Setenv(ConfigPathEnvVar, "/nonexistent/config.yaml")
		if got := findConfigFile(); got != "" {
			t.Errorf("findConfigFile() = %q, want empty", got)
		}
	})
}

func TestLoadDefaultsOnly(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(ConfigPathEnvVar, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pipeline.Capacity != 100000 {
		t.Errorf("Pipeline.Capacity = %d, want default 100000", cfg.Pipeline.Capacity)
	}
	if want := "/data/tickerwire/tickerwire.duckdb"; cfg.Store.Path != want {
		t.Errorf("Store.Path = %q, want derived %q", cfg.Store.Path, want)
	}
}

const testYAML = `
data_root: /tmp/tw-test
logging:
  level: debug
  format: console
pipeline:
  capacity: 5000
  full_mode: wait
canonical:
  enabled: true
  version: 3
  pilot_symbols:
    - AAPL
    - MSFT
  dual_write: true
providers:
  polygon:
    enabled: true
    priority: 1
    api_key: pk_file
    max_requests_per_window: 5
    rate_limit_window: 1m
    subscribe_trades:
      - AAPL
      - TSLA
  alpaca:
    enabled: false
    priority: 2
nats:
  enabled: true
  embedded: true
  port: -1
api:
  cors_origins:
    - https://ops.example.com
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(ConfigPathEnvVar, writeTestConfig(t))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DataRoot != "/tmp/tw-test" {
		t.Errorf("DataRoot = %q, want /tmp/tw-test", cfg.DataRoot)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Errorf("Logging = %+v, want debug/console", cfg.Logging)
	}
	if cfg.Pipeline.Capacity != 5000 || cfg.Pipeline.FullMode != "wait" {
		t.Errorf("Pipeline = %+v, want 5000/wait", cfg.Pipeline)
	}
	// Unset fields keep their defaults.
	if cfg.Pipeline.BatchSize != 100 {
		t.Errorf("Pipeline.BatchSize = %d, want default 100", cfg.Pipeline.BatchSize)
	}
	if cfg.Canonical.Version != 3 || !cfg.Canonical.DualWrite {
		t.Errorf("Canonical = %+v, want version 3 dual-write", cfg.Canonical)
	}
	if got := cfg.Canonical.PilotSymbols; len(got) != 2 || got[0] != "AAPL" || got[1] != "MSFT" {
		t.Errorf("PilotSymbols = %v, want [AAPL MSFT]", got)
	}

	if len(cfg.Providers) != 2 {
		t.Fatalf("Providers = %d entries, want 2", len(cfg.Providers))
	}
	poly := cfg.Providers["polygon"]
	if !poly.Enabled || poly.Priority != 1 || poly.APIKey != "pk_file" {
		t.Errorf("polygon = %+v, want enabled/1/pk_file", poly)
	}
	if poly.MaxRequestsPerWindow != 5 || poly.RateLimitWindow != time.Minute {
		t.Errorf("polygon rate limit = %d per %v, want 5 per 1m",
			poly.MaxRequestsPerWindow, poly.RateLimitWindow)
	}
	if got := poly.SubscribeTrades; len(got) != 2 || got[0] != "AAPL" || got[1] != "TSLA" {
		t.Errorf("polygon.SubscribeTrades = %v, want [AAPL TSLA]", got)
	}
	if cfg.Providers["alpaca"].Enabled {
		t.Error("alpaca should stay disabled")
	}

	if !cfg.NATS.Enabled || !cfg.NATS.Embedded || cfg.NATS.Port != -1 {
		t.Errorf("NATS = %+v, want enabled embedded random-port", cfg.NATS)
	}
	if got := cfg.API.CORSOrigins; len(got) != 1 || got[0] != "https://ops.example.com" {
		t.Errorf("API.CORSOrigins = %v", got)
	}

	// Paths derive from the file's data_root.
	if want := filepath.Join("/tmp/tw-test", "audit"); cfg.Audit.Path != want {
		t.Errorf("Audit.Path = %q, want %q", cfg.Audit.Path, want)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Chdir(t.TempDir())
	dataRoot := t.TempDir()
	t.Setenv(ConfigPathEnvVar, writeTestConfig(t))
	t.Setenv("TICKERWIRE_DATA_ROOT", dataRoot)
	t.Setenv("TICKERWIRE_PIPELINE__CAPACITY", "250")
	t.Setenv("TICKERWIRE_STORE__FLUSH_INTERVAL", "45s")
	t.Setenv("TICKERWIRE_CANONICAL__PILOT_SYMBOLS", "NVDA, AMD , ")
	t.Setenv("TICKERWIRE_PROVIDERS__POLYGON__API_KEY", "pk_env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DataRoot != dataRoot {
		t.Errorf("DataRoot = %q, want env value %q", cfg.DataRoot, dataRoot)
	}
	if cfg.Pipeline.Capacity != 250 {
		t.Errorf("Pipeline.Capacity = %d, want env value 250", cfg.Pipeline.Capacity)
	}
	if cfg.Store.FlushInterval != 45*time.Second {
		t.Errorf("Store.FlushInterval = %v, want 45s", cfg.Store.FlushInterval)
	}
	if got := cfg.Canonical.PilotSymbols; len(got) != 2 || got[0] != "NVDA" || got[1] != "AMD" {
		t.Errorf("PilotSymbols = %v, want comma-split [NVDA AMD]", got)
	}
	if cfg.Providers["polygon"].APIKey != "pk_env" {
		t.Errorf("polygon.APIKey = %q, want env value pk_env", cfg.Providers["polygon"].APIKey)
	}
	// File values not overridden by env survive.
	if cfg.Pipeline.FullMode != "wait" {
		t.Errorf("Pipeline.FullMode = %q, want file value wait", cfg.Pipeline.FullMode)
	}
	// Derived paths follow the env data root.
	if want := filepath.Join(dataRoot, "tickerwire.duckdb"); cfg.Store.Path != want {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, want)
	}
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(ConfigPathEnvVar, "")
	t.Setenv("TICKERWIRE_PIPELINE__FULL_MODE", "banana")

	if _, err := Load(); err == nil {
		t.Fatal("Load() should reject full_mode banana")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "missing data root",
			mutate:  func(c *Config) { c.DataRoot = "" },
			wantSub: "DataRoot",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantSub: "Level",
		},
		{
			name:    "bad full mode",
			mutate:  func(c *Config) { c.Pipeline.FullMode = "latest" },
			wantSub: "FullMode",
		},
		{
			name:    "zero pipeline capacity",
			mutate:  func(c *Config) { c.Pipeline.Capacity = 0 },
			wantSub: "Capacity",
		},
		{
			name: "nats without url or embedded",
			mutate: func(c *Config) {
				c.NATS.Enabled = true
				c.NATS.Embedded = false
				c.NATS.URL = ""
			},
			wantSub: "nats.url",
		},
		{
			name: "dual write without canonicalization",
			mutate: func(c *Config) {
				c.Canonical.Enabled = false
				c.Canonical.DualWrite = true
			},
			wantSub: "dual_write",
		},
		{
			name: "both api auth modes",
			mutate: func(c *Config) {
				c.API.BearerTokenHash = "$2a$10$x"
				c.API.JWTSecret = "secret"
			},
			wantSub: "mutually exclusive",
		},
		{
			name: "rate limited provider without window",
			mutate: func(c *Config) {
				c.Providers["polygon"] = ProviderConfig{
					Enabled:              true,
					MaxRequestsPerWindow: 5,
				}
			},
			wantSub: "rate_limit_window",
		},
		{
			name:    "sub-unity backoff multiplier",
			mutate:  func(c *Config) { c.Stream.BackoffMultiplier = 0.5 },
			wantSub: "backoff_multiplier",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.applyDerivedPaths()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("Validate() error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

func TestWatchInvokesCallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("data_root: /tmp/a\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	fired := make(chan struct{}, 1)
	if err := Watch(path, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("data_root: /tmp/b\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("watch callback not invoked within 5s")
	}
}
