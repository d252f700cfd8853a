// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

// Package supervisor builds the suture supervision tree that runs every
// long-lived service in the process.
//
// The tree has three layers for failure isolation:
//
//   - data: the pipeline, store flusher, and audit janitor
//   - feed: provider streams, the gap-fill trigger, the resubscribe sweeper
//   - api: the ops HTTP server
//
// A crashing feed service restarts without touching storage, and the
// API keeps answering health and stats while either recovers.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds the failure policy shared by every supervisor in the
// tree. Zero values take suture's documented defaults.
type TreeConfig struct {
	// FailureThreshold is the failure mass before a backoff pause.
	FailureThreshold float64
	// FailureDecay halves the accumulated failure mass this many
	// seconds after each failure.
	FailureDecay float64
	// FailureBackoff is the pause once the threshold is exceeded.
	FailureBackoff time.Duration
	// ShutdownTimeout bounds each service's graceful stop.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns production defaults matching suture's own.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the assembled three-layer supervision tree.
type Tree struct {
	root *suture.Supervisor
	data *suture.Supervisor
	feed *suture.Supervisor
	api  *suture.Supervisor
}

// NewTree builds the tree. Supervisor lifecycle events are logged
// through the given slog logger via sutureslog.
func NewTree(logger *slog.Logger, cfg TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	// MustHook has a pointer receiver; the Handler must be addressable.
	hook := (&sutureslog.Handler{Logger: logger}).MustHook()

	rootSpec := suture.Spec{
		EventHook:        hook,
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	root := suture.New("tickerwire", rootSpec)
	data := suture.New("data-layer", childSpec)
	feed := suture.New("feed-layer", childSpec)
	api := suture.New("api-layer", childSpec)

	root.Add(data)
	root.Add(feed)
	root.Add(api)

	return &Tree{root: root, data: data, feed: feed, api: api}
}

// AddDataService supervises a storage-side service: the pipeline, the
// store flusher, the audit janitor.
func (t *Tree) AddDataService(svc suture.Service) suture.ServiceToken {
	return t.data.Add(svc)
}

// AddFeedService supervises a market-data-side service: provider
// streams, the gap-fill trigger, the resubscribe sweeper.
func (t *Tree) AddFeedService(svc suture.Service) suture.ServiceToken {
	return t.feed.Add(svc)
}

// AddAPIService supervises the ops HTTP server.
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve runs the tree until ctx is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine; the channel yields the
// terminal error.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// Remove stops and removes a service by token, whichever layer holds
// it.
func (t *Tree) Remove(token suture.ServiceToken) error {
	for _, sup := range []*suture.Supervisor{t.data, t.feed, t.api, t.root} {
		if err := sup.Remove(token); !errors.Is(err, suture.ErrWrongSupervisor) {
			return err
		}
	}
	return suture.ErrWrongSupervisor
}

// UnstoppedServiceReport lists services that ignored their shutdown
// timeout, for debugging hung shutdowns.
func (t *Tree) UnstoppedServiceReport() (suture.UnstoppedServiceReport, error) {
	return t.root.UnstoppedServiceReport()
}
