package plugin

import (
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

// Subscription states.
const (
	stateActive int32 = iota
	stateCancelled
)

// Subscription is the handle returned by the event helpers. The bus checks
// its liveness immediately before every delivery, so cancelling takes
// effect even for an emission already in flight.
type Subscription struct {
	id      ulid.ULID
	owner   string
	channel Channel
	key     string
	state   atomic.Int32
}

// NewSubscription creates an active handle. Called by the bus; plugins only
// ever receive these, they never build them.
func NewSubscription(owner string, ch Channel, key string) *Subscription {
	return &Subscription{
		id:      ulid.Make(),
		owner:   owner,
		channel: ch,
		key:     key,
	}
}

// ID returns the subscription's unique identity.
func (s *Subscription) ID() ulid.ULID { return s.id }

// Owner returns the plugin name the subscription is tagged with, or "host"
// for host-owned subscriptions.
func (s *Subscription) Owner() string { return s.owner }

// Channel returns the channel subscribed on.
func (s *Subscription) Channel() Channel { return s.channel }

// Key returns the event key subscribed to.
func (s *Subscription) Key() string { return s.key }

// Active reports whether deliveries still reach this subscription.
func (s *Subscription) Active() bool {
	return s.state.Load() == stateActive
}

// Cancel deactivates the subscription and reports whether this call did the
// deactivating. It is safe to call any number of times, from any goroutine.
// The bus drops its bookkeeping for cancelled handles lazily.
func (s *Subscription) Cancel() bool {
	return s.state.CompareAndSwap(stateActive, stateCancelled)
}
