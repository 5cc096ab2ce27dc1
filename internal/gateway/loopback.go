// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package gateway

import (
	"context"
	"sync"

	"github.com/samber/oops"
)

// loopbackBuffer bounds queued inbound events before Inject blocks.
const loopbackBuffer = 64

// SentMessage records one outbound send through a loopback connection.
type SentMessage struct {
	ChannelID string
	Content   string
}

// Loopback is an in-process Conn for development and tests. Inject feeds
// inbound events to the pump; sends are recorded instead of leaving the
// process.
type Loopback struct {
	events chan Event

	mu     sync.Mutex
	sent   []SentMessage
	closed bool
}

// NewLoopback creates an open loopback connection.
func NewLoopback() *Loopback {
	return &Loopback{
		events: make(chan Event, loopbackBuffer),
	}
}

// DialLoopback wraps an existing loopback as a DialFunc, so a dev host can
// keep a handle for injecting events while the gateway owns the dial.
func DialLoopback(lb *Loopback) DialFunc {
	return func(context.Context) (Conn, error) {
		return lb, nil
	}
}

// Events implements Conn.
func (l *Loopback) Events() <-chan Event {
	return l.events
}

// Send implements Conn by recording the message.
func (l *Loopback) Send(_ context.Context, channelID, content string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return oops.Code("GATEWAY_UNAVAILABLE").Errorf("loopback connection closed")
	}
	l.sent = append(l.sent, SentMessage{ChannelID: channelID, Content: content})
	return nil
}

// Close implements Conn. Safe to call more than once.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.events)
	return nil
}

// Inject queues an inbound event as if the chat service had sent it.
// Events injected after Close, or past a full queue, are dropped.
func (l *Loopback) Inject(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.events <- ev:
	default:
	}
}

// Sent returns a copy of every message sent through this connection.
func (l *Loopback) Sent() []SentMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]SentMessage, len(l.sent))
	copy(out, l.sent)
	return out
}
