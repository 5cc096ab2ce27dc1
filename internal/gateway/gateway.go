// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

// Package gateway pumps chat-service events onto the bus and carries plugin
// sends back out. The wire protocol lives behind the Conn interface; the
// host ships a loopback Conn and treats real transports as drop-in dials.
package gateway

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	pluginpkg "github.com/cogbox/cogbox/pkg/plugin"
)

// Compile-time interface check.
var _ pluginpkg.GatewayClient = (*Gateway)(nil)

const (
	defaultSendTimeout    = 5 * time.Second
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
)

// Event is one inbound gateway occurrence. Kind becomes the bus key;
// Message is nil for kinds that carry no message.
type Event struct {
	Kind    string
	Message *pluginpkg.Message
}

// Conn is a live connection to a chat service. Events returns the same
// channel on every call; it closes when the connection dies.
type Conn interface {
	Events() <-chan Event
	Send(ctx context.Context, channelID, content string) error
	Close() error
}

// DialFunc establishes a Conn. Called once per connection attempt.
type DialFunc func(ctx context.Context) (Conn, error)

// EventBus is the slice of the bus the pump publishes to.
type EventBus interface {
	EmitDiscord(ctx context.Context, key string, payload any)
}

// Gateway owns the connection lifecycle: it dials with backoff, republishes
// inbound events on the bus's discord channel, and exposes sends to plugins.
type Gateway struct {
	log  *slog.Logger
	bus  EventBus
	dial DialFunc

	sendTimeout    time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu    sync.RWMutex
	conn  Conn
	state pluginpkg.ConnState

	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway's logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *Gateway) {
		g.log = log
	}
}

// WithSendTimeout bounds how long SendMessage waits on the connection.
func WithSendTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.sendTimeout = d
		}
	}
}

// WithBackoff sets the fibonacci reconnect backoff's base and cap.
func WithBackoff(initial, maxBackoff time.Duration) Option {
	return func(g *Gateway) {
		if initial > 0 {
			g.initialBackoff = initial
		}
		if maxBackoff > 0 {
			g.maxBackoff = maxBackoff
		}
	}
}

// New creates a gateway that dials with dial and publishes to bus.
func New(bus EventBus, dial DialFunc, opts ...Option) *Gateway {
	g := &Gateway{
		log:            slog.Default(),
		bus:            bus,
		dial:           dial,
		sendTimeout:    defaultSendTimeout,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		state:          pluginpkg.ConnDisconnected,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start spawns the connect-and-pump loop. The loop runs until Stop or until
// ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.started.CompareAndSwap(false, true) {
		return oops.Code("GATEWAY_ALREADY_STARTED").Errorf("gateway already started")
	}

	ctx, g.cancel = context.WithCancel(ctx)
	g.wg.Add(1)
	go g.run(ctx)
	return nil
}

// Stop tears down the current connection and waits for the pump to exit.
func (g *Gateway) Stop() {
	if !g.started.CompareAndSwap(true, false) {
		return
	}

	g.cancel()
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	g.wg.Wait()
}

// run dials until connected, pumps until the connection dies, and repeats.
// Backoff restarts from its base after every successful session.
func (g *Gateway) run(ctx context.Context) {
	defer g.wg.Done()
	defer g.setState(pluginpkg.ConnDisconnected)

	for {
		g.setState(pluginpkg.ConnConnecting)

		var conn Conn
		backoff := retry.WithCappedDuration(g.maxBackoff, retry.NewFibonacci(g.initialBackoff))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			c, dialErr := g.dial(ctx)
			if dialErr != nil {
				g.log.Warn("gateway dial failed, backing off", "error", dialErr)
				return retry.RetryableError(dialErr)
			}
			conn = c
			return nil
		})
		if err != nil {
			// Only context cancellation escapes the retry loop.
			return
		}

		g.setConn(conn)
		g.setState(pluginpkg.ConnConnected)
		RecordConnect()
		g.log.Info("gateway connected")

		g.pump(ctx, conn)
		_ = conn.Close()
		g.setConn(nil)

		select {
		case <-ctx.Done():
			return
		default:
		}
		g.setState(pluginpkg.ConnDisconnected)
		g.log.Warn("gateway connection lost, reconnecting")
	}
}

// pump republishes inbound events until the stream closes or ctx ends.
func (g *Gateway) pump(ctx context.Context, conn Conn) {
	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			RecordInboundEvent(ev.Kind)
			g.bus.EmitDiscord(ctx, ev.Kind, ev.Message)
		}
	}
}

// SendMessage sends content to a chat channel. Fails fast when the gateway
// is not connected.
func (g *Gateway) SendMessage(ctx context.Context, channelID, content string) error {
	if channelID == "" {
		return oops.Code("INVALID_MESSAGE").Errorf("channel id is required")
	}
	if content == "" {
		return oops.Code("INVALID_MESSAGE").Errorf("content is required")
	}

	g.mu.RLock()
	conn, state := g.conn, g.state
	g.mu.RUnlock()

	if state != pluginpkg.ConnConnected || conn == nil {
		RecordSend("unavailable")
		return oops.Code("GATEWAY_UNAVAILABLE").
			With("state", string(state)).
			Errorf("gateway is %s", state)
	}

	ctx, cancel := context.WithTimeout(ctx, g.sendTimeout)
	defer cancel()

	if err := conn.Send(ctx, channelID, content); err != nil {
		RecordSend("error")
		return oops.Code("GATEWAY_SEND_FAILED").
			With("channel_id", channelID).
			Wrapf(err, "sending message")
	}
	RecordSend("ok")
	return nil
}

// State returns the current connection state.
func (g *Gateway) State() pluginpkg.ConnState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

func (g *Gateway) setConn(conn Conn) {
	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
}

func (g *Gateway) setState(state pluginpkg.ConnState) {
	g.mu.Lock()
	changed := g.state != state
	g.state = state
	g.mu.Unlock()

	if changed {
		SetState(state)
		g.log.Debug("gateway state changed", "state", string(state))
	}
}
