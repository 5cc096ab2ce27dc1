// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package plugin

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Channel identifies one of the bus's event channels.
type Channel string

// The three bus channels. Discord carries gateway traffic, custom carries
// plugin-to-plugin signals, and pluginLifecycle announces load/unload.
const (
	ChannelDiscord   Channel = "discord"
	ChannelCustom    Channel = "custom"
	ChannelLifecycle Channel = "pluginLifecycle"
)

// Valid reports whether c is one of the defined channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelDiscord, ChannelCustom, ChannelLifecycle:
		return true
	}
	return false
}

// Lifecycle event keys emitted on ChannelLifecycle.
const (
	EventLoaded   = "plugin:loaded"
	EventUnloaded = "plugin:unloaded"
)

// LoadedPayload is the payload of a plugin:loaded event.
type LoadedPayload struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// UnloadedPayload is the payload of a plugin:unloaded event.
type UnloadedPayload struct {
	Name string `json:"name"`
}

// Event is a single emission delivered to handlers. Payloads stay as Go
// values; the bus never serializes them.
type Event struct {
	ID      ulid.ULID `json:"id"`
	Channel Channel   `json:"channel"`
	Key     string    `json:"key"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// Handler processes one event. Returned errors are logged with the owning
// plugin's name and otherwise absorbed: a failing handler never affects the
// emitter or the other subscribers of the same key.
type Handler func(ctx context.Context, evt Event) error

// EventHelpers is the owner-tagged event surface handed to plugins. Every
// subscription made through it carries the plugin's name, which is how the
// host finds and revokes them at unload.
type EventHelpers interface {
	// OnDiscord subscribes to a gateway event key such as "message:created".
	OnDiscord(key string, h Handler) *Subscription

	// OnCustom subscribes to a plugin-defined key such as "notes:created".
	OnCustom(key string, h Handler) *Subscription

	// OnPlugin subscribes to lifecycle keys (EventLoaded, EventUnloaded).
	OnPlugin(key string, h Handler) *Subscription

	// Emit publishes on the custom channel. Plugins cannot emit on the
	// discord or lifecycle channels.
	Emit(key string, payload any)
}
