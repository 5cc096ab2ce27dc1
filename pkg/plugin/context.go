// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package plugin

import (
	"context"
	"log/slog"
)

// ConnState describes the gateway connection.
type ConnState string

// Gateway connection states.
const (
	ConnDisconnected ConnState = "disconnected"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
)

// GatewayClient is the read-only chat-service handle plugins receive. The
// wire protocol behind it is the host's concern.
type GatewayClient interface {
	// SendMessage sends content to a chat channel.
	SendMessage(ctx context.Context, channelID, content string) error

	// State returns the current connection state.
	State() ConnState
}

// Broadcaster pushes realtime updates to connected frontend clients.
type Broadcaster interface {
	Broadcast(topic string, payload any)
}

// HostConfig is an immutable snapshot of host settings exposed to plugins.
type HostConfig struct {
	// Version is the host's version string.
	Version string `json:"version"`

	// Debug reports whether the host runs with plugin debug logging.
	Debug bool `json:"debug"`

	// HTTPAddr is the host API listen address.
	HTTPAddr string `json:"http_addr"`

	// PluginsDir is the directory scanned for plugin manifests.
	PluginsDir string `json:"plugins_dir"`
}

// Context is the per-plugin capability bundle built at load time. All
// accessors return the same values for the lifetime of the load; the host
// never swaps them under a running plugin.
type Context struct {
	name     string
	log      *slog.Logger
	events   EventHelpers
	gateway  GatewayClient
	realtime Broadcaster
	host     HostConfig
}

// ContextConfig carries the pieces the host assembles into a Context.
type ContextConfig struct {
	Name     string
	Log      *slog.Logger
	Events   EventHelpers
	Gateway  GatewayClient
	Realtime Broadcaster
	Host     HostConfig
}

// NewContext builds a Context. Called by the host's loader once per load.
func NewContext(cfg ContextConfig) *Context {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Context{
		name:     cfg.Name,
		log:      log,
		events:   cfg.Events,
		gateway:  cfg.Gateway,
		realtime: cfg.Realtime,
		host:     cfg.Host,
	}
}

// Name returns the plugin's own name.
func (c *Context) Name() string { return c.name }

// Log returns the plugin's logger. Every record carries a plugin=<name>
// attribute; debug records pass only when the host enables them for this
// plugin.
func (c *Context) Log() *slog.Logger { return c.log }

// Events returns the owner-tagged event helpers.
func (c *Context) Events() EventHelpers { return c.events }

// Gateway returns the chat-service handle.
func (c *Context) Gateway() GatewayClient { return c.gateway }

// Realtime returns the frontend broadcast handle. Nil when the host runs
// without a realtime hub.
func (c *Context) Realtime() Broadcaster { return c.realtime }

// Host returns the host configuration snapshot.
func (c *Context) Host() HostConfig { return c.host }
