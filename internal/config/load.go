// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file search with an explicit
// path.
const ConfigPathEnvVar = "TICKERWIRE_CONFIG"

// envPrefix selects which environment variables Load reads.
const envPrefix = "TICKERWIRE_"

// DefaultConfigPaths are searched in order; the first existing file
// wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/tickerwire/config.yaml",
	"/etc/tickerwire/config.yml",
}

// Load assembles the configuration in three layers: built-in defaults,
// an optional YAML file, then TICKERWIRE_* environment variables. The
// result has derived paths filled and is validated.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDerivedPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the config file to load: the ConfigPathEnvVar
// override if it exists, else the first hit in DefaultConfigPaths, else
// empty.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps an environment variable name to a koanf path:
// strip the prefix, lowercase, and treat "__" as nesting.
//
//	TICKERWIRE_DATA_ROOT                   -> data_root
//	TICKERWIRE_PIPELINE__FULL_MODE         -> pipeline.full_mode
//	TICKERWIRE_PROVIDERS__POLYGON__API_KEY -> providers.polygon.api_key
func envTransformFunc(key string) string {
	if key == ConfigPathEnvVar {
		// The file-path override is consumed by findConfigFile, not the
		// config tree.
		return ""
	}
	key = strings.TrimPrefix(key, envPrefix)
	key = strings.ToLower(key)
	return strings.ReplaceAll(key, "__", ".")
}

// sliceConfigPaths are the fixed config paths that accept a
// comma-separated string from the environment in place of a YAML list.
var sliceConfigPaths = []string{
	"canonical.pilot_symbols",
	"api.cors_origins",
}

// providerSliceSuffixes are the per-provider list fields, matched by
// suffix because provider names are free-form map keys.
var providerSliceSuffixes = []string{
	".subscribe_trades",
	".subscribe_quotes",
	".subscribe_depth",
}

// processSliceFields converts comma-separated string values into
// []string for the known list fields. Values that arrived as YAML lists
// are left alone.
func processSliceFields(k *koanf.Koanf) error {
	paths := make([]string, 0, len(sliceConfigPaths))
	paths = append(paths, sliceConfigPaths...)
	for _, key := range k.Keys() {
		if !strings.HasPrefix(key, "providers.") {
			continue
		}
		for _, suffix := range providerSliceSuffixes {
			if strings.HasSuffix(key, suffix) {
				paths = append(paths, key)
				break
			}
		}
	}

	for _, path := range paths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// Watch invokes callback whenever the config file changes. The caller
// reloads via Load and swaps the config under its own lock.
func Watch(path string, callback func()) error {
	return file.Provider(path).Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
