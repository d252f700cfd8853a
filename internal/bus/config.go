// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

// Package bus distributes stored market events to downstream consumers
// over NATS JetStream. The distributor is a storage sink, so it slots into
// a pipeline sink set next to the DuckDB store. Builds without the nats
// tag get stubs that refuse to start.
package bus

import "time"

const (
	defaultStreamName      = "MARKET"
	defaultHost            = "127.0.0.1"
	defaultPort            = 4222
	defaultMaxAge          = 24 * time.Hour
	defaultMaxBytes        = 1 << 30 // 1 GiB
	defaultDuplicateWindow = 2 * time.Minute
)

// Config tunes the distributor and, when Embedded is set, the in-process
// NATS server.
type Config struct {
	// Enabled turns distribution on. The rest is ignored when false.
	Enabled bool
	// URL is the broker to publish to. Ignored when Embedded is set.
	URL string
	// Embedded starts an in-process NATS JetStream server.
	Embedded bool
	// Host/Port bind the embedded server. Port -1 picks a random port.
	Host string
	Port int
	// StoreDir holds the embedded server's JetStream data.
	StoreDir string
	// StreamName is the JetStream stream receiving all event subjects.
	StreamName string
	// MaxAge/MaxBytes bound stream retention.
	MaxAge   time.Duration
	MaxBytes int64
	// DuplicateWindow is how long the broker remembers Nats-Msg-Ids.
	DuplicateWindow time.Duration
	// EnableMetrics toggles Prometheus counters.
	EnableMetrics bool
}

// DefaultConfig returns production defaults with distribution disabled.
func DefaultConfig() Config {
	return Config{
		Host:            defaultHost,
		Port:            defaultPort,
		StreamName:      defaultStreamName,
		MaxAge:          defaultMaxAge,
		MaxBytes:        defaultMaxBytes,
		DuplicateWindow: defaultDuplicateWindow,
		EnableMetrics:   true,
	}
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = defaultHost
	}
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.StreamName == "" {
		c.StreamName = defaultStreamName
	}
	if c.MaxAge <= 0 {
		c.MaxAge = defaultMaxAge
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = defaultMaxBytes
	}
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = defaultDuplicateWindow
	}
	return c
}

// Stats is a snapshot of distributor counters.
type Stats struct {
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
}
