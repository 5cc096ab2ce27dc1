// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

// Package plugin defines the public contract between the cogbox host and
// its plugins. A plugin is a Definition value: metadata plus optional
// capability callbacks. The host calls the callbacks it finds; absent
// callbacks simply mean the plugin does not use that capability.
package plugin

import (
	"github.com/go-chi/chi/v5"
)

// Metadata identifies a plugin. Both fields are required.
type Metadata struct {
	// Name is the unique plugin name. It doubles as the route namespace
	// (/plugins/<name>/...) and the owner tag on event subscriptions, so it
	// must be a lowercase slug: start with a-z, contain only a-z, 0-9 and
	// hyphens, and not end with a hyphen.
	Name string `json:"name"`

	// Version is a free-form, non-empty version string.
	Version string `json:"version"`
}

// Definition is the closed plugin contract. The capability set is fixed:
// a plugin can register HTTP routes, subscribe to events, and hook the
// load/unload transitions. There is no way to declare anything else.
type Definition struct {
	Metadata

	// Routes registers the plugin's HTTP handlers on a router already
	// namespaced under /plugins/<name>/. Returning an error aborts the load.
	Routes func(r chi.Router, ctx *Context) error

	// Events subscribes the plugin to bus events using helpers that tag
	// every subscription with the plugin's name. Returned handles are kept
	// on the plugin's record; the host revokes them at unload either way.
	Events func(ev EventHelpers, ctx *Context) []*Subscription

	// OnLoad runs after routes and events are wired. An error rolls the
	// whole load back, leaving no trace of the plugin.
	OnLoad func(ctx *Context) error

	// OnUnload runs during unload, after the plugin's routes and
	// subscriptions are already inert. Errors are logged, never fatal.
	OnUnload func(ctx *Context) error
}
