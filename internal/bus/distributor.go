// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

//go:build nats

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/tickerwire/internal/market"
	"github.com/tomtom215/tickerwire/internal/metrics"
	"github.com/tomtom215/tickerwire/internal/pipeline"
)

const (
	// subjectWildcard must cover every subject market.MarketEvent.Subject
	// can produce.
	subjectWildcard = "market.events.>"

	breakerFailureThreshold = 5
	breakerOpenTimeout      = 30 * time.Second

	provisionTimeout = 30 * time.Second
	shutdownTimeout  = 10 * time.Second
)

// Distributor mirrors appended events onto a JetStream stream for
// downstream consumers. Distribution is best-effort: a broker outage must
// never stall ingestion or storage, so publish failures are counted and
// logged but Append always returns nil.
type Distributor struct {
	cfg       Config
	logger    zerolog.Logger
	embedded  *EmbeddedServer
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker[any]

	published atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
}

var _ pipeline.StorageSink = (*Distributor)(nil)

// NewDistributor provisions the stream and returns a ready distributor,
// starting an embedded server first when configured.
func NewDistributor(cfg Config, logger zerolog.Logger) (*Distributor, error) {
	cfg = cfg.withDefaults()
	log := logger.With().Str("component", "bus").Logger()

	d := &Distributor{cfg: cfg, logger: log}

	url := cfg.URL
	if cfg.Embedded {
		srv, err := NewEmbeddedServer(cfg, log)
		if err != nil {
			return nil, err
		}
		d.embedded = srv
		url = srv.ClientURL()
	}
	if url == "" {
		return nil, errors.New("bus: broker URL required unless embedded")
	}

	if err := ensureStream(url, cfg); err != nil {
		d.shutdownEmbedded()
		return nil, err
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL: url,
		NatsOptions: []natsgo.Option{
			natsgo.Name("tickerwire-distributor"),
			natsgo.RetryOnFailedConnect(true),
			natsgo.MaxReconnects(-1),
			natsgo.ReconnectWait(2 * time.Second),
			natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
				if err != nil {
					log.Warn().Err(err).Msg("NATS disconnected")
				}
			}),
			natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
				log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			}),
		},
		// NATSMarshaler passes message metadata through as NATS headers, so
		// the Nats-Msg-Id set in Append reaches the broker untouched.
		// TrackMsgId stays off: it would stamp the watermill UUID instead of
		// the event identity.
		Marshaler: &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false, // stream provisioned above
			TrackMsgId:    false,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, watermill.NewStdLogger(false, false))
	if err != nil {
		d.shutdownEmbedded()
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}
	d.publisher = pub

	d.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "bus-publish",
		Timeout: breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit state changed")
		},
	})

	return d, nil
}

// ensureStream creates or updates the stream so publishers never race
// broker-side provisioning. Idempotent.
func ensureStream(url string, cfg Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), provisionTimeout)
	defer cancel()

	nc, err := natsgo.Connect(url)
	if err != nil {
		return fmt.Errorf("connect for stream provisioning: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("jetstream context: %w", err)
	}

	streamCfg := jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Subjects:    []string{subjectWildcard},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		MaxBytes:    cfg.MaxBytes,
		Duplicates:  cfg.DuplicateWindow,
		Storage:     jetstream.FileStorage,
		AllowDirect: true,
		Discard:     jetstream.DiscardOld,
	}

	_, err = js.Stream(ctx, cfg.StreamName)
	switch {
	case err == nil:
		if _, err := js.UpdateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("update stream %s: %w", cfg.StreamName, err)
		}
	case errors.Is(err, jetstream.ErrStreamNotFound):
		if _, err := js.CreateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.StreamName, err)
		}
	default:
		return fmt.Errorf("look up stream %s: %w", cfg.StreamName, err)
	}
	return nil
}

// Append publishes evt to its subject with the event's dedup identity as
// Nats-Msg-Id, letting the broker drop redeliveries inside the duplicate
// window. Heartbeats are local liveness signals and are not mirrored.
func (d *Distributor) Append(_ context.Context, evt *market.MarketEvent) error {
	if evt == nil || evt.IsHeartbeat() || d.closed.Load() {
		return nil
	}

	data, err := json.Marshal(evt)
	if err != nil {
		d.failed.Add(1)
		d.logger.Error().Err(err).Str("symbol", evt.Symbol).Msg("Failed to encode event for distribution")
		return nil
	}

	msg := message.NewMessage(uuid.NewString(), data)
	msg.Metadata.Set(natsgo.MsgIdHdr, evt.DedupID())
	msg.Metadata.Set("source", evt.Source)
	msg.Metadata.Set("type", string(evt.Type))
	if evt.Symbol != "" {
		msg.Metadata.Set("symbol", evt.Symbol)
	}

	_, err = d.breaker.Execute(func() (any, error) {
		return nil, d.publisher.Publish(evt.Subject(), msg)
	})
	if d.cfg.EnableMetrics {
		metrics.RecordBusPublish(err)
	}
	if err != nil {
		d.failed.Add(1)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			d.logger.Debug().Str("symbol", evt.Symbol).Msg("Distribution circuit open, event not mirrored")
		} else {
			d.logger.Warn().Err(err).Str("symbol", evt.Symbol).Msg("Failed to distribute event")
		}
		return nil
	}

	d.published.Add(1)
	return nil
}

// Flush implements pipeline.StorageSink. JetStream publishes are
// acknowledged individually, so there is nothing buffered to write.
func (d *Distributor) Flush(context.Context) error { return nil }

// Close stops the publisher and any embedded server. Idempotent.
func (d *Distributor) Close(ctx context.Context) error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if d.publisher != nil {
		if err := d.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if d.embedded != nil {
		if err := d.embedded.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown embedded server: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Stats returns a snapshot of distributor counters.
func (d *Distributor) Stats() Stats {
	return Stats{
		Published: d.published.Load(),
		Failed:    d.failed.Load(),
	}
}

func (d *Distributor) shutdownEmbedded() {
	if d.embedded == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.embedded.Shutdown(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to shut down embedded server")
	}
}
