// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package stream

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/tickerwire/internal/market"
	"github.com/tomtom215/tickerwire/internal/metrics"
	"github.com/tomtom215/tickerwire/internal/pipeline"
	"github.com/tomtom215/tickerwire/internal/subs"
)

// Errors returned by the stream base.
var (
	// ErrNotConnected is returned by writes while the socket is down.
	ErrNotConnected = errors.New("stream: not connected")
	// ErrClosed is returned after Disconnect; a closed base never dials
	// again.
	ErrClosed = errors.New("stream: closed")
)

const (
	breakerFailureThreshold = 5
	breakerOpenTimeout      = 30 * time.Second
	closeWriteTimeout       = time.Second
	receiveStopTimeout      = 5 * time.Second
	jitterFraction          = 0.1
)

// Base owns one provider's websocket connection. Concrete providers embed
// or wrap it and contribute a ProviderAdapter; everything lifecycle-shaped
// (dialing, receive loop, heartbeats, reconnection, subscription replay)
// lives here and behaves identically across vendors.
type Base struct {
	adapter   ProviderAdapter
	cfg       Config
	publisher pipeline.Publisher
	registry  *subs.Registry
	logger    zerolog.Logger
	breaker   *gobreaker.CircuitBreaker[*websocket.Conn]

	lifeCtx  context.Context
	lifeStop context.CancelFunc

	// connMu guards conn, receiveDone, and every socket write. Reads run
	// unlocked in the single receive goroutine, per gorilla's one
	// reader / one writer rule.
	connMu      sync.Mutex
	conn        *websocket.Conn
	receiveDone chan struct{}

	// reconnectMu is the one-at-a-time reconnect gate; the monitor takes
	// it with TryLock so overlapping triggers collapse into one cycle.
	reconnectMu sync.Mutex

	rngMu sync.Mutex
	rng   *rand.Rand

	connected    atomic.Bool
	closed       atomic.Bool
	missedProbes atomic.Uint32
	// downSince is the first detection of the current outage; nil while
	// healthy. Reconnect reports the gap from this stamp.
	downSince atomic.Pointer[time.Time]

	messages          atomic.Uint64
	reconnectCount    atomic.Uint64
	heartbeatFailures atomic.Uint64

	monitorOnce sync.Once
	reconnects  chan ReconnectEvent
}

// Stats is a point-in-time snapshot of one stream's counters.
type Stats struct {
	Provider          string `json:"provider"`
	Connected         bool   `json:"connected"`
	Messages          uint64 `json:"messages"`
	Reconnects        uint64 `json:"reconnects"`
	HeartbeatFailures uint64 `json:"heartbeat_failures"`
	Subscriptions     int    `json:"subscriptions"`
}

// NewBase builds the shared connection lifecycle around an adapter.
// Decoded events are published to publisher (normally the canonicalizing
// decorator over the event pipeline).
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewBase(adapter ProviderAdapter, publisher pipeline.Publisher, cfg Config, logger zerolog.Logger) *Base {
	cfg = cfg.withDefaults()
	lifeCtx, lifeStop := context.WithCancel(context.Background())

	b := &Base{
		adapter:   adapter,
		cfg:       cfg,
		publisher: publisher,
		registry:  subs.NewRegistry(cfg.RegistryBaseID),
		logger: logger.With().
			Str("component", "stream").
			Str("provider", adapter.Name()).
			Logger(),
		lifeCtx:  lifeCtx,
		lifeStop: lifeStop,
		//nolint:gosec // G404: non-cryptographic jitter for backoff timing
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		reconnects: make(chan ReconnectEvent, cfg.ReconnectBuffer),
	}

	b.breaker = gobreaker.NewCircuitBreaker[*websocket.Conn](gobreaker.Settings{
		Name:    adapter.Name() + "-connect",
		Timeout: breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		// Cancellation is shutdown, not endpoint health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("stream connect circuit state changed")
		},
	})
	return b
}

// Connect dials, authenticates, and starts the receive loop and heartbeat
// monitor. Returns nil immediately when already connected.
func (b *Base) Connect(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if b.connected.Load() {
		return nil
	}

	conn, err := b.establish(ctx)
	if err != nil {
		return err
	}
	b.install(conn)
	b.monitorOnce.Do(func() { go b.monitor() })
	b.logger.Info().Msg("stream connected")
	return nil
}

// establish performs one full dial + authenticate cycle and records the
// connect outcome.
func (b *Base) establish(ctx context.Context) (*websocket.Conn, error) {
	conn, err := b.dial(ctx)
	if err == nil {
		if aerr := b.adapter.Authenticate(ctx, conn); aerr != nil {
			_ = conn.Close()
			conn = nil
			err = fmt.Errorf("authenticate: %w", aerr)
		}
	}
	if b.cfg.EnableMetrics {
		metrics.RecordStreamConnect(b.adapter.Name(), err)
	}
	return conn, err
}

// dial runs the backoff loop as a single circuit-breaker sample, so five
// exhausted connect cycles open the breaker rather than five attempts.
func (b *Base) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, err := b.breaker.Execute(func() (*websocket.Conn, error) {
		return b.dialWithBackoff(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("stream %s: connect circuit open: %w", b.adapter.Name(), err)
		}
		return nil, err
	}
	return conn, nil
}

func (b *Base) dialWithBackoff(ctx context.Context) (*websocket.Conn, error) {
	uri, err := b.adapter.BuildURI()
	if err != nil {
		return nil, fmt.Errorf("build uri: %w", err)
	}

	var lastErr error
	delay := b.cfg.BackoffBase
	for attempt := 1; attempt <= b.cfg.MaxDialAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(b.jitter(delay)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay = time.Duration(float64(delay) * b.cfg.BackoffMultiplier)
		}

		dialer := websocket.Dialer{HandshakeTimeout: b.cfg.DialTimeout}
		header := http.Header{}
		b.adapter.ConfigureDial(&dialer, header)

		dialCtx, cancel := context.WithTimeout(ctx, b.cfg.DialTimeout)
		conn, resp, derr := dialer.DialContext(dialCtx, uri, header)
		cancel()
		if derr == nil {
			return conn, nil
		}
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		lastErr = derr
		b.logger.Warn().
			Err(derr).
			Int("attempt", attempt).
			Int("max_attempts", b.cfg.MaxDialAttempts).
			Msg("stream dial failed")
	}
	return nil, fmt.Errorf("dial %s after %d attempts: %w", uri, b.cfg.MaxDialAttempts, lastErr)
}

func (b *Base) jitter(d time.Duration) time.Duration {
	b.rngMu.Lock()
	f := b.rng.Float64()*2 - 1 // -1..1
	b.rngMu.Unlock()
	return d + time.Duration(float64(d)*jitterFraction*f)
}

// install publishes the new socket and starts its receive loop.
func (b *Base) install(conn *websocket.Conn) {
	done := make(chan struct{})
	b.connMu.Lock()
	b.conn = conn
	b.receiveDone = done
	b.connMu.Unlock()

	b.missedProbes.Store(0)
	b.connected.Store(true)
	if b.cfg.EnableMetrics {
		metrics.UpdateStreamConnected(b.adapter.Name(), true)
	}
	go b.receiveLoop(conn, done)
}

// receiveLoop is the connection's only reader. It exits on any read error;
// recovery is the heartbeat monitor's job.
func (b *Base) receiveLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(b.cfg.ReadDeadline)); err != nil {
			b.lostConnection()
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if b.closed.Load() || b.lifeCtx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Info().Msg("stream closed by remote")
			} else {
				b.logger.Warn().Err(err).Msg("stream read failed")
			}
			b.lostConnection()
			return
		}

		b.messages.Add(1)
		if b.cfg.EnableMetrics {
			metrics.RecordStreamMessage(b.adapter.Name())
		}
		if err := b.adapter.HandleMessage(data, b.emit); err != nil {
			b.logger.Warn().Err(err).Msg("stream message handler failed")
		}
	}
}

// emit hands one decoded event to the publisher. A false return means the
// pipeline has completed; during shutdown that is expected.
func (b *Base) emit(evt *market.MarketEvent) {
	if evt == nil {
		return
	}
	if evt.Source == "" {
		evt.Source = strings.ToUpper(b.adapter.Name())
	}
	if !b.publisher.TryPublish(evt) {
		b.logger.Debug().Str("symbol", evt.Symbol).Msg("event rejected, pipeline completed")
	}
}

// lostConnection marks the outage start exactly once per outage.
func (b *Base) lostConnection() {
	if !b.connected.CompareAndSwap(true, false) {
		return
	}
	now := time.Now().UTC()
	b.downSince.CompareAndSwap(nil, &now)
	if b.cfg.EnableMetrics {
		metrics.UpdateStreamConnected(b.adapter.Name(), false)
	}
}

// monitor is the heartbeat goroutine. It survives reconnects: one ticker
// drives probing while connected and reconnect attempts while down.
func (b *Base) monitor() {
	ticker := time.NewTicker(b.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.lifeCtx.Done():
			return
		case <-ticker.C:
		}
		if b.closed.Load() {
			return
		}
		if !b.connected.Load() {
			b.tryReconnect()
			continue
		}

		if err := b.probe(); err != nil {
			misses := b.missedProbes.Add(1)
			b.heartbeatFailures.Add(1)
			if b.cfg.EnableMetrics {
				metrics.RecordStreamHeartbeatFailure(b.adapter.Name())
			}
			b.logger.Warn().
				Err(err).
				Uint32("consecutive_misses", misses).
				Msg("heartbeat probe failed")
			if int(misses) >= b.cfg.MaxMissedProbes {
				b.logger.Error().Msg("stream connection lost, reconnecting")
				b.lostConnection()
				b.teardownSocket()
				b.tryReconnect()
			}
		} else {
			b.missedProbes.Store(0)
		}
	}
}

// probe sends the adapter's heartbeat frame, or a ping control frame when
// the vendor has none. A write failure is a missed probe.
func (b *Base) probe() error {
	deadline := time.Now().Add(b.cfg.ProbeTimeout)
	if msg, ok := b.adapter.ProbeMessage(); ok {
		return b.writeMessage(msg, deadline)
	}
	b.connMu.Lock()
	defer b.connMu.Unlock()
	if b.conn == nil {
		return ErrNotConnected
	}
	return b.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (b *Base) writeMessage(data []byte, deadline time.Time) error {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	if b.conn == nil {
		return ErrNotConnected
	}
	if err := b.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return b.conn.WriteMessage(websocket.TextMessage, data)
}

// teardownSocket closes the current socket and waits for its receive loop.
func (b *Base) teardownSocket() {
	b.connMu.Lock()
	conn := b.conn
	done := b.receiveDone
	b.conn = nil
	b.connMu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(receiveStopTimeout):
			b.logger.Warn().Msg("receive loop did not stop in time")
		}
	}
}

// tryReconnect runs at most one reconnect cycle; concurrent triggers
// return immediately. Failure leaves the base down for the next heartbeat
// tick to retry.
func (b *Base) tryReconnect() {
	if !b.reconnectMu.TryLock() {
		return
	}
	defer b.reconnectMu.Unlock()
	if b.closed.Load() || b.connected.Load() {
		return
	}

	down := time.Now().UTC()
	if p := b.downSince.Load(); p != nil {
		down = *p
	}

	conn, err := b.establish(b.lifeCtx)
	if err != nil {
		b.logger.Warn().Err(err).Msg("stream reconnect failed")
		return
	}

	b.teardownSocket()
	b.install(conn)
	b.reconnectCount.Add(1)
	if b.cfg.EnableMetrics {
		metrics.RecordStreamReconnect(b.adapter.Name())
	}
	b.resendSubscriptions()

	now := time.Now().UTC()
	evt := ReconnectEvent{
		Provider:       b.adapter.Name(),
		DisconnectedAt: down,
		ReconnectedAt:  now,
		GapDuration:    now.Sub(down),
	}
	b.downSince.Store(nil)
	b.logger.Info().
		Dur("gap", evt.GapDuration).
		Int("subscriptions", b.registry.Count()).
		Msg("stream reconnected")

	select {
	case b.reconnects <- evt:
	case <-b.lifeCtx.Done():
	}
}

// SubscribeTrades registers trade subscriptions and pushes the update.
func (b *Base) SubscribeTrades(symbols ...string) []subs.Subscription {
	return b.subscribe(subs.KindTrades, symbols)
}

// SubscribeDepth registers depth subscriptions and pushes the update.
func (b *Base) SubscribeDepth(symbols ...string) []subs.Subscription {
	return b.subscribe(subs.KindDepth, symbols)
}

// SubscribeQuotes registers quote subscriptions and pushes the update.
func (b *Base) SubscribeQuotes(symbols ...string) []subs.Subscription {
	return b.subscribe(subs.KindQuotes, symbols)
}

func (b *Base) subscribe(kind subs.Kind, symbols []string) []subs.Subscription {
	out := make([]subs.Subscription, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		out = append(out, b.registry.Add(sym, kind))
	}
	if len(out) > 0 {
		go b.pushSubscriptionUpdate()
	}
	return out
}

// Unsubscribe releases subscriptions by id and pushes the update. Returns
// how many ids were live.
func (b *Base) Unsubscribe(ids ...int64) int {
	removed := 0
	for _, id := range ids {
		if _, ok := b.registry.Remove(id); ok {
			removed++
		}
	}
	if removed > 0 {
		go b.pushSubscriptionUpdate()
	}
	return removed
}

// pushSubscriptionUpdate sends the total subscription state. Not being
// connected is fine: the state is replayed after the next reconnect.
func (b *Base) pushSubscriptionUpdate() {
	if !b.connected.Load() {
		return
	}
	if err := b.sendSubscriptionState(); err != nil {
		b.logger.Warn().Err(err).Msg("subscription update failed")
	}
}

func (b *Base) resendSubscriptions() {
	if b.registry.Count() == 0 {
		return
	}
	if err := b.sendSubscriptionState(); err != nil {
		b.logger.Warn().Err(err).Msg("failed to resend subscriptions after reconnect")
	}
}

// sendSubscriptionState rebuilds the provider message from the registry's
// total state. Deltas are never sent; vendors with delta protocols diff
// inside their adapter.
func (b *Base) sendSubscriptionState() error {
	trades := b.registry.SymbolsByKind(subs.KindTrades)
	depth := b.registry.SymbolsByKind(subs.KindDepth)
	quotes := b.registry.SymbolsByKind(subs.KindQuotes)

	msg, err := b.adapter.BuildSubscriptionMessage(trades, depth, quotes)
	if err != nil {
		return fmt.Errorf("build subscription message: %w", err)
	}
	if len(msg) == 0 {
		return nil
	}
	return b.writeMessage(msg, time.Now().Add(b.cfg.ProbeTimeout))
}

// Apply re-issues the subscription state for one symbol, registering any
// kind the config asks for that is not currently live. This is the
// resubscribe policy's attempt path.
func (b *Base) Apply(ctx context.Context, cfg subs.SymbolConfig) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if !b.connected.Load() {
		return ErrNotConnected
	}
	symbol := strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	if symbol == "" {
		return fmt.Errorf("stream: empty symbol")
	}
	for _, kind := range cfg.Kinds() {
		if !b.isRegistered(symbol, kind) {
			b.registry.Add(symbol, kind)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.sendSubscriptionState()
}

func (b *Base) isRegistered(symbol string, kind subs.Kind) bool {
	symbols := b.registry.SymbolsByKind(kind)
	i := sort.SearchStrings(symbols, symbol)
	return i < len(symbols) && symbols[i] == symbol
}

// Disconnect permanently shuts the stream down. Idempotent. The heartbeat
// monitor stops before the socket closes so a dying connection cannot race
// a final reconnect; the receive loop is waited for and the registry
// cleared.
func (b *Base) Disconnect() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.lifeStop()

	// Wait out any in-flight reconnect, then hold the gate through the
	// socket close.
	b.reconnectMu.Lock()
	defer b.reconnectMu.Unlock()

	b.connected.Store(false)

	b.connMu.Lock()
	conn := b.conn
	done := b.receiveDone
	b.conn = nil
	b.connMu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(closeWriteTimeout)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			b.logger.Debug().Err(err).Msg("close frame write failed")
		}
		_ = conn.Close()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(receiveStopTimeout):
			b.logger.Warn().Msg("receive loop did not stop during disconnect")
		}
	}
	b.registry.Clear()
	if b.cfg.EnableMetrics {
		metrics.UpdateStreamConnected(b.adapter.Name(), false)
	}
	b.logger.Info().Msg("stream disconnected")
	return nil
}

// Connected reports whether the socket is currently up.
func (b *Base) Connected() bool { return b.connected.Load() }

// Name returns the adapter's provider identifier.
func (b *Base) Name() string { return b.adapter.Name() }

// Registry exposes the subscription registry (ops API, gap-fill trigger).
func (b *Base) Registry() *subs.Registry { return b.registry }

// Reconnects is the notification channel consumed by the gap-fill trigger.
func (b *Base) Reconnects() <-chan ReconnectEvent { return b.reconnects }

// Stats returns a snapshot of the stream's counters.
func (b *Base) Stats() Stats {
	return Stats{
		Provider:          b.adapter.Name(),
		Connected:         b.connected.Load(),
		Messages:          b.messages.Load(),
		Reconnects:        b.reconnectCount.Load(),
		HeartbeatFailures: b.heartbeatFailures.Load(),
		Subscriptions:     b.registry.Count(),
	}
}
