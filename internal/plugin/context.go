// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package plugin

import (
	"context"
	"log/slog"

	"github.com/gobwas/glob"

	"github.com/cogbox/cogbox/internal/logging"
	pluginpkg "github.com/cogbox/cogbox/pkg/plugin"
)

// EventBus is the slice of the event fabric the plugin layer needs.
type EventBus interface {
	Subscribe(owner string, ch pluginpkg.Channel, key string, h pluginpkg.Handler) (*pluginpkg.Subscription, error)
	EmitCustom(ctx context.Context, key string, payload any)
	EmitPlugin(ctx context.Context, key string, payload any)
	Revoke(sub *pluginpkg.Subscription)
	RevokeAll(owner string) int
}

// Services are the host capabilities handed to plugin contexts. All fields
// may be nil-valued in tests; plugins must tolerate absent handles.
type Services struct {
	Gateway  pluginpkg.GatewayClient
	Realtime pluginpkg.Broadcaster
	Host     pluginpkg.HostConfig
}

// NameMatcher reports whether a plugin name is selected.
type NameMatcher func(name string) bool

// MatchNone selects no plugin.
func MatchNone(string) bool { return false }

// CompileNameMatcher builds a matcher from glob patterns such as "notes"
// or "web-*". Invalid patterns are logged and ignored.
func CompileNameMatcher(patterns []string, log *slog.Logger) NameMatcher {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			log.Warn("ignoring invalid plugin name pattern", "pattern", p, "error", err)
			continue
		}
		globs = append(globs, g)
	}
	if len(globs) == 0 {
		return MatchNone
	}
	return func(name string) bool {
		for _, g := range globs {
			if g.Match(name) {
				return true
			}
		}
		return false
	}
}

// ownerEvents scopes bus access to one plugin: every subscription carries
// the plugin's name as owner, and every emission lands on the custom
// channel. Handing these out per plugin is what makes bulk revocation at
// unload time possible.
type ownerEvents struct {
	bus   EventBus
	owner string
	log   *slog.Logger
}

var _ pluginpkg.EventHelpers = (*ownerEvents)(nil)

func (e *ownerEvents) OnDiscord(key string, h pluginpkg.Handler) *pluginpkg.Subscription {
	return e.subscribe(pluginpkg.ChannelDiscord, key, h)
}

func (e *ownerEvents) OnCustom(key string, h pluginpkg.Handler) *pluginpkg.Subscription {
	return e.subscribe(pluginpkg.ChannelCustom, key, h)
}

func (e *ownerEvents) OnPlugin(key string, h pluginpkg.Handler) *pluginpkg.Subscription {
	return e.subscribe(pluginpkg.ChannelLifecycle, key, h)
}

func (e *ownerEvents) subscribe(ch pluginpkg.Channel, key string, h pluginpkg.Handler) *pluginpkg.Subscription {
	sub, err := e.bus.Subscribe(e.owner, ch, key, h)
	if err != nil {
		e.log.Warn("rejecting event subscription",
			"channel", ch,
			"key", key,
			"error", err)
		return nil
	}
	return sub
}

func (e *ownerEvents) Emit(key string, payload any) {
	e.bus.EmitCustom(context.Background(), key, payload)
}

// newContext assembles the capability bundle one plugin sees for the
// lifetime of a load.
func newContext(name string, base *slog.Logger, b EventBus, svcs Services, debug bool) *pluginpkg.Context {
	log := logging.ForPlugin(base, name, debug)
	return pluginpkg.NewContext(pluginpkg.ContextConfig{
		Name:     name,
		Log:      log,
		Events:   &ownerEvents{bus: b, owner: name, log: log},
		Gateway:  svcs.Gateway,
		Realtime: svcs.Realtime,
		Host:     svcs.Host,
	})
}
