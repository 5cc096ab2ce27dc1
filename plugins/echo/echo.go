// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

// Package echo is a built-in sample plugin that replies to chat messages
// starting with "!echo " by sending the remainder back to the same channel.
package echo

import (
	"context"
	"strings"

	"github.com/cogbox/cogbox/pkg/plugin"
)

const prefix = "!echo "

// New builds the echo plugin definition.
func New() *plugin.Definition {
	return &plugin.Definition{
		Metadata: plugin.Metadata{Name: "echo", Version: "1.0.0"},
		Events: func(ev plugin.EventHelpers, ctx *plugin.Context) []*plugin.Subscription {
			sub := ev.OnDiscord(plugin.EventMessageCreated, respond(ctx))
			return []*plugin.Subscription{sub}
		},
	}
}

func respond(pctx *plugin.Context) plugin.Handler {
	return func(ctx context.Context, evt plugin.Event) error {
		msg, ok := evt.Payload.(*plugin.Message)
		if !ok || msg == nil {
			return nil
		}

		rest, found := strings.CutPrefix(msg.Content, prefix)
		if !found || rest == "" {
			return nil
		}

		return pctx.Gateway().SendMessage(ctx, msg.ChannelID, rest)
	}
}
