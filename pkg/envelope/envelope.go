// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

// Package envelope defines the JSON response shape shared by the host API
// and plugin route handlers.
package envelope

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Envelope is the uniform response body. Success responses carry data;
// failures carry a human-readable error and a stable machine code.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Codes used by the host itself. Plugin handlers may define their own.
const (
	CodeNotFound = "NOT_FOUND"
	CodeInternal = "INTERNAL_ERROR"
	CodeBadInput = "BAD_REQUEST"
)

// OK writes a 200 response wrapping data.
func OK(w http.ResponseWriter, data any) {
	Write(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// Created writes a 201 response wrapping data.
func Created(w http.ResponseWriter, data any) {
	Write(w, http.StatusCreated, Envelope{Success: true, Data: data})
}

// Error writes a failure response with the given status, code, and message.
func Error(w http.ResponseWriter, status int, code, msg string) {
	Write(w, status, Envelope{Success: false, Error: msg, Code: code})
}

// NotFound writes the host's standard 404 response. Deactivated plugin
// routes produce exactly this, indistinguishable from a never-mounted path.
func NotFound(w http.ResponseWriter) {
	Error(w, http.StatusNotFound, CodeNotFound, "not found")
}

// Internal writes the host's standard 500 response. The message is generic;
// details belong in the log, not on the wire.
func Internal(w http.ResponseWriter) {
	Error(w, http.StatusInternalServerError, CodeInternal, "internal error")
}

// Write encodes an envelope with the given status. Encode failures are
// logged; at that point the status line is already written, so there is
// nothing else to do for the client.
func Write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Debug("failed to encode response envelope", "error", err)
	}
}
