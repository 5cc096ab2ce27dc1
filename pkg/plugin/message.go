// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package plugin

import "time"

// Discord-channel event keys emitted by the host's gateway pump.
const (
	EventMessageCreated = "message:created"
	EventMessageUpdated = "message:updated"
	EventMessageDeleted = "message:deleted"
)

// Message is the payload carried by discord-channel message events. Handlers
// receive it as *Message; fields are snapshots, mutating them has no effect
// on the chat service.
type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	AuthorID  string    `json:"author_id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	At        time.Time `json:"at"`
}
