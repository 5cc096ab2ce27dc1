// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

// Package realtime pushes host and plugin broadcasts to websocket
// subscribers. Traffic is one-way: clients connect and listen; anything
// they send is discarded.
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	pluginpkg "github.com/cogbox/cogbox/pkg/plugin"
)

// Compile-time interface check.
var _ pluginpkg.Broadcaster = (*Hub)(nil)

const (
	sendBuffer   = 32
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// message is the frame pushed to subscribers.
type message struct {
	Topic   string    `json:"topic"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

type client struct {
	id   ulid.ULID
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// Hub fans broadcasts out to connected websocket clients.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[ulid.ULID]*client
	closed  bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub's logger.
func WithLogger(log *slog.Logger) Option {
	return func(h *Hub) {
		h.log = log
	}
}

// WithAllowedOrigins sets browser origins accepted for upgrade. Without
// any, only same-origin and non-browser clients connect.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = checkOrigin(origins)
	}
}

// New creates a hub ready to accept connections.
func New(opts ...Option) *Hub {
	h := &Hub{
		log:     slog.Default(),
		clients: make(map[ulid.ULID]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(nil),
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// checkOrigin validates websocket Origin headers. An absent header means a
// same-origin or non-browser client and is always allowed.
func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// ServeHTTP upgrades the connection and streams broadcasts until the
// client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		id:   ulid.Make(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()

	SetClients(n)
	h.log.Debug("realtime client connected", "client", c.id.String(), "remote", r.RemoteAddr)

	go h.writePump(c)
	h.readLoop(c)
}

// readLoop discards inbound frames; its job is noticing disconnects and
// answering control frames.
func (h *Hub) readLoop(c *client) {
	defer h.drop(c)

	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains the client's queue and keeps the connection alive with
// pings.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// drop unregisters a client and tears its connection down. Safe to call
// more than once; only the call that removes the map entry signals the
// done channel. The send channel is never closed, so a Broadcast racing
// the disconnect queues into a buffer nobody drains instead of panicking.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, present := h.clients[c.id]
	if present {
		delete(h.clients, c.id)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if !present {
		return
	}
	close(c.done)
	_ = c.conn.Close()
	SetClients(n)
	h.log.Debug("realtime client disconnected", "client", c.id.String())
}

// Broadcast queues a frame for every connected client. Clients too slow to
// drain their queue miss the frame rather than stalling the caller.
func (h *Hub) Broadcast(topic string, payload any) {
	b, err := json.Marshal(message{Topic: topic, Payload: payload, At: time.Now().UTC()})
	if err != nil {
		h.log.Warn("dropping unmarshalable broadcast", "topic", topic, "error", err)
		return
	}

	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	RecordBroadcast(topic)
	for _, c := range targets {
		select {
		case c.send <- b:
		default:
			RecordDropped(topic)
			h.log.Warn("dropping frame for slow realtime client",
				"client", c.id.String(),
				"topic", topic)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.clients = make(map[ulid.ULID]*client)
	h.mu.Unlock()

	for _, c := range targets {
		close(c.done)
		_ = c.conn.Close()
	}
	SetClients(0)
}
