// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/cogbox/cogbox/pkg/envelope"
)

// requestLogger logs one line per request with method, path, status, and
// duration. Websocket upgrades log on disconnect, which is when the
// handler returns.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			elapsed := time.Since(start)
			RecordRequest(r.Method, ww.Status())
			RecordRequestDuration(r.Method, elapsed)
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", elapsed)
		})
	}
}

// recoverer converts handler panics into envelope 500s. http.ErrAbortHandler
// passes through untouched.
func recoverer(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("panic serving request",
						"method", r.Method,
						"path", r.URL.Path,
						"panic", rec)
					envelope.Internal(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
