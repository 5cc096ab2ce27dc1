// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

// Package bus implements the typed publish/subscribe fabric connecting the
// gateway, the host, and plugins. Three channels exist: discord for gateway
// traffic, custom for plugin-defined signals, and pluginLifecycle for
// load/unload announcements. Delivery is at-most-once, in subscription
// order, with per-handler error isolation.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/cogbox/cogbox/pkg/plugin"
)

// OwnerHost tags subscriptions made by the host itself. The name is
// reserved, so no plugin can collide with it.
const OwnerHost = "host"

type subKey struct {
	channel plugin.Channel
	key     string
}

type entry struct {
	sub *plugin.Subscription
	fn  plugin.Handler
}

// Bus is the event fabric. The zero value is not usable; call New.
type Bus struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[subKey][]*entry
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for delivery failures.
func WithLogger(log *slog.Logger) Option {
	return func(b *Bus) {
		b.log = log
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		log:  slog.Default(),
		subs: make(map[subKey][]*entry),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe appends a handler to the ordered subscriber list for (ch, key),
// tagged with owner. The returned handle stays live until cancelled or
// revoked. Dispatch order within a key equals subscription order.
func (b *Bus) Subscribe(owner string, ch plugin.Channel, key string, h plugin.Handler) (*plugin.Subscription, error) {
	if owner == "" {
		return nil, oops.Code("INVALID_SUBSCRIPTION").With("channel", ch).With("key", key).Errorf("subscription owner is required")
	}
	if !ch.Valid() {
		return nil, oops.Code("INVALID_SUBSCRIPTION").With("owner", owner).With("channel", ch).Errorf("unknown channel %q", ch)
	}
	if key == "" {
		return nil, oops.Code("INVALID_SUBSCRIPTION").With("owner", owner).With("channel", ch).Errorf("subscription key is required")
	}
	if h == nil {
		return nil, oops.Code("INVALID_SUBSCRIPTION").With("owner", owner).With("channel", ch).With("key", key).Errorf("handler is nil")
	}

	sub := plugin.NewSubscription(owner, ch, key)

	b.mu.Lock()
	k := subKey{channel: ch, key: key}
	b.subs[k] = append(b.subs[k], &entry{sub: sub, fn: h})
	b.mu.Unlock()

	RecordSubscriptionOpened(string(ch))
	b.log.Debug("subscription added",
		"owner", owner,
		"channel", ch,
		"key", key,
		"subscription_id", sub.ID().String())

	return sub, nil
}

// OnDiscord subscribes the host to a gateway event key.
func (b *Bus) OnDiscord(key string, h plugin.Handler) (*plugin.Subscription, error) {
	return b.Subscribe(OwnerHost, plugin.ChannelDiscord, key, h)
}

// OnCustom subscribes the host to a plugin-defined key.
func (b *Bus) OnCustom(key string, h plugin.Handler) (*plugin.Subscription, error) {
	return b.Subscribe(OwnerHost, plugin.ChannelCustom, key, h)
}

// OnPlugin subscribes the host to a lifecycle key.
func (b *Bus) OnPlugin(key string, h plugin.Handler) (*plugin.Subscription, error) {
	return b.Subscribe(OwnerHost, plugin.ChannelLifecycle, key, h)
}

// EmitDiscord publishes a gateway event.
func (b *Bus) EmitDiscord(ctx context.Context, key string, payload any) {
	b.emit(ctx, plugin.ChannelDiscord, key, payload)
}

// EmitCustom publishes a plugin-defined event.
func (b *Bus) EmitCustom(ctx context.Context, key string, payload any) {
	b.emit(ctx, plugin.ChannelCustom, key, payload)
}

// EmitPlugin publishes a lifecycle event.
func (b *Bus) EmitPlugin(ctx context.Context, key string, payload any) {
	b.emit(ctx, plugin.ChannelLifecycle, key, payload)
}

// emit dispatches to the subscriber list as it stands at the moment of
// emission. Handlers subscribed during dispatch see only later emissions;
// handles cancelled during dispatch are skipped if not yet reached. With no
// subscribers the event evaporates silently.
func (b *Bus) emit(ctx context.Context, ch plugin.Channel, key string, payload any) {
	evt := plugin.Event{
		ID:      ulid.Make(),
		Channel: ch,
		Key:     key,
		Payload: payload,
		At:      time.Now().UTC(),
	}

	b.mu.Lock()
	list := b.subs[subKey{channel: ch, key: key}]
	snapshot := make([]*entry, len(list))
	copy(snapshot, list)
	b.mu.Unlock()

	RecordEventEmitted(string(ch))
	if len(snapshot) == 0 {
		return
	}

	start := time.Now()
	for _, e := range snapshot {
		if !e.sub.Active() {
			continue
		}
		b.deliver(ctx, e, evt)
	}
	RecordDispatchDuration(string(ch), time.Since(start))
}

// deliver invokes one handler, absorbing errors and panics so the emitter
// and the remaining subscribers are never affected.
func (b *Bus) deliver(ctx context.Context, e *entry, evt plugin.Event) {
	defer func() {
		if r := recover(); r != nil {
			RecordDelivery(string(evt.Channel), StatusPanic)
			b.log.Error("event handler panicked",
				"owner", e.sub.Owner(),
				"channel", evt.Channel,
				"key", evt.Key,
				"event_id", evt.ID.String(),
				"panic", r)
		}
	}()

	if err := e.fn(ctx, evt); err != nil {
		RecordDelivery(string(evt.Channel), StatusError)
		b.log.Error("event handler failed",
			"owner", e.sub.Owner(),
			"channel", evt.Channel,
			"key", evt.Key,
			"event_id", evt.ID.String(),
			"error", err)
		return
	}
	RecordDelivery(string(evt.Channel), StatusOK)
}

// Revoke cancels a subscription and drops its bookkeeping. Safe on nil and
// on already-revoked handles.
func (b *Bus) Revoke(sub *plugin.Subscription) {
	if sub == nil {
		return
	}
	sub.Cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	k := subKey{channel: sub.Channel(), key: sub.Key()}
	list, ok := b.subs[k]
	if !ok {
		return
	}
	kept := make([]*entry, 0, len(list))
	removed := false
	for _, e := range list {
		if e.sub.ID() == sub.ID() {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	if !removed {
		return
	}
	if len(kept) == 0 {
		delete(b.subs, k)
	} else {
		b.subs[k] = kept
	}
	RecordSubscriptionClosed(string(sub.Channel()))
}

// RevokeAll cancels and removes every subscription tagged with owner,
// across all channels and keys, and returns how many were removed. Once it
// returns, no new handler invocation for that owner can begin; an in-flight
// handler is not interrupted.
func (b *Bus) RevokeAll(owner string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for k, list := range b.subs {
		kept := make([]*entry, 0, len(list))
		for _, e := range list {
			if e.sub.Owner() == owner {
				e.sub.Cancel()
				RecordSubscriptionClosed(string(k.channel))
				total++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(b.subs, k)
		} else {
			b.subs[k] = kept
		}
	}

	if total > 0 {
		b.log.Debug("subscriptions revoked", "owner", owner, "count", total)
	}
	return total
}

// SubscriberCount returns the number of live subscriptions for (ch, key).
func (b *Bus) SubscriberCount(ch plugin.Channel, key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, e := range b.subs[subKey{channel: ch, key: key}] {
		if e.sub.Active() {
			n++
		}
	}
	return n
}

// OwnerCount returns the number of live subscriptions tagged with owner.
func (b *Bus) OwnerCount(owner string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, list := range b.subs {
		for _, e := range list {
			if e.sub.Owner() == owner && e.sub.Active() {
				n++
			}
		}
	}
	return n
}
