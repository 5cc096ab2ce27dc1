// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package plugin

import (
	"time"

	pluginpkg "github.com/cogbox/cogbox/pkg/plugin"
)

// State tracks a plugin through its lifecycle.
type State uint8

// Lifecycle states. A failed load leaves no record behind, so there is no
// error state: the plugin is simply absent afterwards.
const (
	StateUnloaded State = iota
	StateLoading
	StateLoaded
	StateUnloading
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateUnloading:
		return "unloading"
	default:
		return "unknown"
	}
}

// Record is the manager's bookkeeping for one plugin.
type Record struct {
	Name     string
	Version  string
	Kind     string
	State    State
	LoadedAt time.Time

	def    *pluginpkg.Definition
	ctx    *pluginpkg.Context
	subs   []*pluginpkg.Subscription
	routes *RouteToken
}

// Info is the API-facing summary of one plugin.
type Info struct {
	Name          string    `json:"name"`
	Version       string    `json:"version"`
	Kind          string    `json:"kind"`
	State         string    `json:"state"`
	Subscriptions int       `json:"subscriptions"`
	Routes        bool      `json:"routes"`
	LoadedAt      time.Time `json:"loaded_at"`
}

func (r *Record) info() Info {
	live := 0
	for _, s := range r.subs {
		if s.Active() {
			live++
		}
	}
	return Info{
		Name:          r.Name,
		Version:       r.Version,
		Kind:          r.Kind,
		State:         r.State.String(),
		Subscriptions: live,
		Routes:        r.routes != nil && r.routes.Active(),
		LoadedAt:      r.LoadedAt,
	}
}
