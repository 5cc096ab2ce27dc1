// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

// Package notes is a built-in sample plugin: an in-memory note store with
// REST routes under /plugins/notes/. Creating a note emits notes:created on
// the custom channel and mirrors it to the realtime hub.
package notes

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/cogbox/cogbox/pkg/envelope"
	"github.com/cogbox/cogbox/pkg/plugin"
)

// EventCreated is emitted on the custom channel for every new note.
const EventCreated = "notes:created"

// Note is one stored note.
type Note struct {
	ID      string    `json:"id"`
	Text    string    `json:"text"`
	Created time.Time `json:"created"`
}

type store struct {
	mu    sync.RWMutex
	notes map[string]Note
	order []string
}

// New builds the notes plugin definition. State lives for one load; a
// reload starts empty.
func New() *plugin.Definition {
	s := &store{notes: make(map[string]Note)}
	return &plugin.Definition{
		Metadata: plugin.Metadata{Name: "notes", Version: "1.0.0"},
		Routes:   s.routes,
		OnLoad: func(ctx *plugin.Context) error {
			ctx.Log().Info("notes plugin ready")
			return nil
		},
	}
}

func (s *store) routes(r chi.Router, ctx *plugin.Context) error {
	r.Post("/", s.handleCreate(ctx))
	r.Get("/", s.handleList)
	r.Get("/{id}", s.handleGet)
	return nil
}

func (s *store) handleCreate(ctx *plugin.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			envelope.Error(w, http.StatusBadRequest, envelope.CodeBadInput, "invalid JSON body")
			return
		}
		if in.Text == "" {
			envelope.Error(w, http.StatusBadRequest, envelope.CodeBadInput, "text is required")
			return
		}

		note := Note{
			ID:      ulid.Make().String(),
			Text:    in.Text,
			Created: time.Now().UTC(),
		}
		s.mu.Lock()
		s.notes[note.ID] = note
		s.order = append(s.order, note.ID)
		s.mu.Unlock()

		ctx.Events().Emit(EventCreated, note)
		if rt := ctx.Realtime(); rt != nil {
			rt.Broadcast(EventCreated, note)
		}

		envelope.Created(w, note)
	}
}

func (s *store) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	out := make([]Note, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.notes[id])
	}
	s.mu.RUnlock()

	envelope.OK(w, out)
}

func (s *store) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.RLock()
	note, ok := s.notes[id]
	s.mu.RUnlock()

	if !ok {
		envelope.NotFound(w)
		return
	}
	envelope.OK(w, note)
}
