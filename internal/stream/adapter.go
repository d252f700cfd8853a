// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

// Package stream owns the websocket lifecycle shared by every streaming
// market-data provider: dial with backoff behind a circuit breaker,
// authentication, a single receive loop, heartbeat probing, one-at-a-time
// reconnection with subscription replay, and reconnect notifications for
// the gap-fill trigger.
//
// Vendor specifics (URI, auth handshake, wire format, subscription
// messages) live behind ProviderAdapter; Base supplies everything else.
package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/tickerwire/internal/market"
)

// ProviderAdapter supplies the vendor-specific pieces of one streaming
// connection. Implementations must be safe for concurrent use: Base calls
// HandleMessage from the receive goroutine while subscription messages are
// built from others.
type ProviderAdapter interface {
	// Name is the stable lowercase provider identifier used in logs,
	// metrics labels, and event sources.
	Name() string

	// BuildURI returns the websocket endpoint to dial.
	BuildURI() (string, error)

	// ConfigureDial customizes the dialer and handshake headers
	// (API keys, subprotocols) before each attempt.
	ConfigureDial(dialer *websocket.Dialer, header http.Header)

	// Authenticate performs the vendor's post-connect handshake. An error
	// closes the socket and fails the connect.
	Authenticate(ctx context.Context, conn *websocket.Conn) error

	// HandleMessage decodes one frame and emits zero or more market
	// events. Returned errors are logged; the receive loop continues.
	HandleMessage(data []byte, emit func(*market.MarketEvent)) error

	// BuildSubscriptionMessage renders the provider's subscription command
	// from the total desired state, never a delta.
	BuildSubscriptionMessage(trades, depth, quotes []string) ([]byte, error)

	// ProbeMessage returns an application-level heartbeat frame. ok=false
	// means the provider has none and Base probes with a ping control
	// frame instead.
	ProbeMessage() ([]byte, bool)
}

// ReconnectEvent describes one healed connection outage. GapDuration is
// the window the gap-fill trigger may backfill.
type ReconnectEvent struct {
	Provider       string        `json:"provider"`
	DisconnectedAt time.Time     `json:"disconnected_at"`
	ReconnectedAt  time.Time     `json:"reconnected_at"`
	GapDuration    time.Duration `json:"gap_duration"`
}

// Config tunes the shared connection lifecycle.
type Config struct {
	// BackoffBase is the delay before the second dial attempt; it grows by
	// BackoffMultiplier per attempt with symmetric jitter.
	BackoffBase       time.Duration
	BackoffMultiplier float64
	// MaxDialAttempts bounds one connect cycle. The whole cycle counts as
	// a single circuit-breaker sample.
	MaxDialAttempts int
	// DialTimeout bounds each individual handshake.
	DialTimeout time.Duration

	// HeartbeatInterval is the probe cadence; ProbeTimeout bounds each
	// probe write; MaxMissedProbes consecutive failures declare the
	// connection lost.
	HeartbeatInterval time.Duration
	ProbeTimeout      time.Duration
	MaxMissedProbes   int

	// ReadDeadline is pushed forward on every received frame.
	ReadDeadline time.Duration

	// RegistryBaseID seeds subscription ids so providers never collide.
	RegistryBaseID int64

	// ReconnectBuffer bounds the reconnect-notification channel.
	ReconnectBuffer int

	// EnableMetrics exports connection counters to Prometheus.
	EnableMetrics bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxDialAttempts:   5,
		DialTimeout:       30 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		ProbeTimeout:      10 * time.Second,
		MaxMissedProbes:   3,
		ReadDeadline:      60 * time.Second,
		RegistryBaseID:    100000,
		ReconnectBuffer:   500,
		EnableMetrics:     true,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BackoffBase <= 0 {
		c.BackoffBase = def.BackoffBase
	}
	if c.BackoffMultiplier <= 1 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	if c.MaxDialAttempts <= 0 {
		c.MaxDialAttempts = def.MaxDialAttempts
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = def.ProbeTimeout
	}
	if c.MaxMissedProbes <= 0 {
		c.MaxMissedProbes = def.MaxMissedProbes
	}
	if c.ReadDeadline <= 0 {
		c.ReadDeadline = def.ReadDeadline
	}
	if c.RegistryBaseID <= 0 {
		c.RegistryBaseID = def.RegistryBaseID
	}
	if c.ReconnectBuffer <= 0 {
		c.ReconnectBuffer = def.ReconnectBuffer
	}
	return c
}
