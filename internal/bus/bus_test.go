// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package bus_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cogbox/cogbox/internal/bus"
	"github.com/cogbox/cogbox/pkg/plugin"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newBus(t *testing.T) *bus.Bus {
	t.Helper()
	return bus.New(bus.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

// recorder collects handler invocations in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) handler(name string) plugin.Handler {
	return func(_ context.Context, _ plugin.Event) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, name)
		return nil
	}
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func TestSubscribe_Validation(t *testing.T) {
	b := newBus(t)
	noop := func(context.Context, plugin.Event) error { return nil }

	tests := []struct {
		name    string
		owner   string
		channel plugin.Channel
		key     string
		handler plugin.Handler
	}{
		{name: "empty owner", owner: "", channel: plugin.ChannelCustom, key: "k", handler: noop},
		{name: "unknown channel", owner: "alice", channel: plugin.Channel("bogus"), key: "k", handler: noop},
		{name: "empty key", owner: "alice", channel: plugin.ChannelCustom, key: "", handler: noop},
		{name: "nil handler", owner: "alice", channel: plugin.ChannelCustom, key: "k", handler: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := b.Subscribe(tt.owner, tt.channel, tt.key, tt.handler)
			require.Error(t, err)
			assert.Nil(t, sub)

			oopsErr, ok := oops.AsOops(err)
			require.True(t, ok)
			assert.Equal(t, "INVALID_SUBSCRIPTION", oopsErr.Code())
		})
	}
}

func TestEmit_DispatchOrder(t *testing.T) {
	b := newBus(t)
	rec := &recorder{}

	for _, name := range []string{"first", "second", "third"} {
		_, err := b.Subscribe("alice", plugin.ChannelCustom, "notes:created", rec.handler(name))
		require.NoError(t, err)
	}

	b.EmitCustom(context.Background(), "notes:created", nil)

	assert.Equal(t, []string{"first", "second", "third"}, rec.seen())
}

func TestEmit_KeyAndChannelIsolation(t *testing.T) {
	b := newBus(t)
	rec := &recorder{}

	_, err := b.Subscribe("alice", plugin.ChannelCustom, "notes:created", rec.handler("created"))
	require.NoError(t, err)
	_, err = b.Subscribe("alice", plugin.ChannelCustom, "notes:deleted", rec.handler("deleted"))
	require.NoError(t, err)
	_, err = b.Subscribe("alice", plugin.ChannelDiscord, "notes:created", rec.handler("discord"))
	require.NoError(t, err)

	b.EmitCustom(context.Background(), "notes:created", nil)

	assert.Equal(t, []string{"created"}, rec.seen())
}

func TestEmit_NoSubscribers(t *testing.T) {
	b := newBus(t)

	require.NotPanics(t, func() {
		b.EmitDiscord(context.Background(), "message:created", map[string]string{"content": "hi"})
	})
}

func TestEmit_PayloadAndEventFields(t *testing.T) {
	b := newBus(t)

	type note struct{ Title string }
	want := &note{Title: "groceries"}

	var got plugin.Event
	_, err := b.Subscribe("alice", plugin.ChannelCustom, "notes:created", func(_ context.Context, evt plugin.Event) error {
		got = evt
		return nil
	})
	require.NoError(t, err)

	b.EmitCustom(context.Background(), "notes:created", want)

	assert.Same(t, want, got.Payload)
	assert.Equal(t, plugin.ChannelCustom, got.Channel)
	assert.Equal(t, "notes:created", got.Key)
	assert.NotZero(t, got.ID)
	assert.False(t, got.At.IsZero())
}

func TestEmit_HandlerErrorDoesNotStopDispatch(t *testing.T) {
	b := newBus(t)
	rec := &recorder{}

	_, err := b.Subscribe("alice", plugin.ChannelCustom, "k", rec.handler("before"))
	require.NoError(t, err)
	_, err = b.Subscribe("alice", plugin.ChannelCustom, "k", func(context.Context, plugin.Event) error {
		return oops.Errorf("boom")
	})
	require.NoError(t, err)
	_, err = b.Subscribe("alice", plugin.ChannelCustom, "k", rec.handler("after"))
	require.NoError(t, err)

	b.EmitCustom(context.Background(), "k", nil)

	assert.Equal(t, []string{"before", "after"}, rec.seen())
}

func TestEmit_HandlerPanicDoesNotStopDispatch(t *testing.T) {
	b := newBus(t)
	rec := &recorder{}

	_, err := b.Subscribe("alice", plugin.ChannelCustom, "k", func(context.Context, plugin.Event) error {
		panic("handler exploded")
	})
	require.NoError(t, err)
	_, err = b.Subscribe("alice", plugin.ChannelCustom, "k", rec.handler("survivor"))
	require.NoError(t, err)

	require.NotPanics(t, func() {
		b.EmitCustom(context.Background(), "k", nil)
	})
	assert.Equal(t, []string{"survivor"}, rec.seen())
}

func TestEmit_SnapshotExcludesLateSubscriber(t *testing.T) {
	b := newBus(t)
	rec := &recorder{}

	_, err := b.Subscribe("alice", plugin.ChannelCustom, "k", func(context.Context, plugin.Event) error {
		// Subscribing during dispatch must not affect the current emission.
		_, subErr := b.Subscribe("bob", plugin.ChannelCustom, "k", rec.handler("late"))
		return subErr
	})
	require.NoError(t, err)

	b.EmitCustom(context.Background(), "k", nil)
	assert.Empty(t, rec.seen())

	b.EmitCustom(context.Background(), "k", nil)
	assert.Equal(t, []string{"late"}, rec.seen())
}

func TestEmit_CancelledMidDispatchSkipped(t *testing.T) {
	b := newBus(t)
	rec := &recorder{}

	// The canceller subscribes first so it runs ahead of the victim.
	var victim *plugin.Subscription
	canceller, err := b.Subscribe("alice", plugin.ChannelCustom, "k", func(context.Context, plugin.Event) error {
		b.Revoke(victim)
		return nil
	})
	require.NoError(t, err)
	victim, err = b.Subscribe("bob", plugin.ChannelCustom, "k", rec.handler("victim"))
	require.NoError(t, err)

	b.EmitCustom(context.Background(), "k", nil)

	assert.Empty(t, rec.seen())
	assert.True(t, canceller.Active())
	assert.False(t, victim.Active())
}

func TestRevoke(t *testing.T) {
	b := newBus(t)
	rec := &recorder{}

	sub, err := b.Subscribe("alice", plugin.ChannelCustom, "k", rec.handler("a"))
	require.NoError(t, err)
	require.Equal(t, 1, b.SubscriberCount(plugin.ChannelCustom, "k"))

	b.Revoke(sub)

	assert.False(t, sub.Active())
	assert.Equal(t, 0, b.SubscriberCount(plugin.ChannelCustom, "k"))

	b.EmitCustom(context.Background(), "k", nil)
	assert.Empty(t, rec.seen())

	// Idempotent, including on nil.
	require.NotPanics(t, func() {
		b.Revoke(sub)
		b.Revoke(nil)
	})
}

func TestRevokeAll(t *testing.T) {
	b := newBus(t)
	rec := &recorder{}

	_, err := b.Subscribe("alice", plugin.ChannelCustom, "notes:created", rec.handler("alice-custom"))
	require.NoError(t, err)
	_, err = b.Subscribe("alice", plugin.ChannelDiscord, "message:created", rec.handler("alice-discord"))
	require.NoError(t, err)
	_, err = b.Subscribe("bob", plugin.ChannelCustom, "notes:created", rec.handler("bob"))
	require.NoError(t, err)

	removed := b.RevokeAll("alice")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, b.OwnerCount("alice"))
	assert.Equal(t, 1, b.OwnerCount("bob"))

	b.EmitCustom(context.Background(), "notes:created", nil)
	b.EmitDiscord(context.Background(), "message:created", nil)
	assert.Equal(t, []string{"bob"}, rec.seen())

	assert.Equal(t, 0, b.RevokeAll("alice"))
	assert.Equal(t, 0, b.RevokeAll("nobody"))
}

func TestHostWrappers(t *testing.T) {
	b := newBus(t)

	var got plugin.Event
	sub, err := b.OnPlugin(plugin.EventLoaded, func(_ context.Context, evt plugin.Event) error {
		got = evt
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, bus.OwnerHost, sub.Owner())
	assert.Equal(t, plugin.ChannelLifecycle, sub.Channel())

	dSub, err := b.OnDiscord("message:created", func(context.Context, plugin.Event) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, plugin.ChannelDiscord, dSub.Channel())

	cSub, err := b.OnCustom("notes:created", func(context.Context, plugin.Event) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, plugin.ChannelCustom, cSub.Channel())

	b.EmitPlugin(context.Background(), plugin.EventLoaded, plugin.LoadedPayload{Name: "notes", Version: "1.0.0"})

	payload, ok := got.Payload.(plugin.LoadedPayload)
	require.True(t, ok)
	assert.Equal(t, "notes", payload.Name)
	assert.Equal(t, "1.0.0", payload.Version)
}

func TestSubscriberCount_ExcludesCancelled(t *testing.T) {
	b := newBus(t)

	noop := func(context.Context, plugin.Event) error { return nil }
	sub1, err := b.Subscribe("alice", plugin.ChannelCustom, "k", noop)
	require.NoError(t, err)
	_, err = b.Subscribe("alice", plugin.ChannelCustom, "k", noop)
	require.NoError(t, err)

	require.Equal(t, 2, b.SubscriberCount(plugin.ChannelCustom, "k"))

	// Cancel directly on the handle, without going through the bus.
	require.True(t, sub1.Cancel())
	assert.Equal(t, 1, b.SubscriberCount(plugin.ChannelCustom, "k"))
	assert.Equal(t, 1, b.OwnerCount("alice"))
}

func TestBus_ConcurrentUse(t *testing.T) {
	b := newBus(t)
	rec := &recorder{}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := b.Subscribe("worker", plugin.ChannelCustom, "k", rec.handler("w"))
			if err != nil {
				return
			}
			b.EmitCustom(context.Background(), "k", nil)
			b.Revoke(sub)
		}()
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.EmitCustom(context.Background(), "k", nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, b.OwnerCount("worker"))
	assert.Equal(t, 0, b.SubscriberCount(plugin.ChannelCustom, "k"))
}
