// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cogbox/cogbox/internal/plugin"
	"github.com/cogbox/cogbox/pkg/envelope"
	"github.com/cogbox/cogbox/pkg/errutil"
)

type healthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Plugins int    `json:"plugins"`
}

type unloadResponse struct {
	Name     string `json:"name"`
	Unloaded bool   `json:"unloaded"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	envelope.OK(w, healthStatus{
		Status:  "ok",
		Version: s.version,
		Plugins: len(s.manager.List()),
	})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	envelope.OK(w, s.manager.List())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	info, ok := s.manager.Get(name)
	if !ok {
		envelope.Error(w, http.StatusNotFound, plugin.CodeNotFound, "plugin "+name+" is not loaded")
		return
	}
	envelope.OK(w, info)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.manager.Get(name); ok {
		envelope.Error(w, http.StatusConflict, plugin.CodeValidation, "plugin "+name+" already loaded")
		return
	}

	info, err := s.manager.Load(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	envelope.OK(w, info)
}

func (s *Server) handleUnload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.manager.Unload(r.Context(), name) {
		envelope.Error(w, http.StatusNotFound, plugin.CodeNotFound, "plugin "+name+" is not loaded")
		return
	}
	envelope.OK(w, unloadResponse{Name: name, Unloaded: true})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	info, err := s.manager.Reload(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	envelope.OK(w, info)
}

// writeError maps the plugin error taxonomy onto HTTP statuses. Anything
// without a recognized code is a 500.
func writeError(w http.ResponseWriter, err error) {
	code := errutil.Code(err)
	status := http.StatusInternalServerError
	switch code {
	case plugin.CodeValidation:
		status = http.StatusBadRequest
	case plugin.CodeNotFound:
		status = http.StatusNotFound
	}
	if code == "" {
		code = envelope.CodeInternal
	}
	envelope.Error(w, status, code, err.Error())
}
