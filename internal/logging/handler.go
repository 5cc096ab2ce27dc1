// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

// Package logging provides structured logging with OpenTelemetry trace context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// traceHandler wraps a slog.Handler to add trace context.
type traceHandler struct {
	handler slog.Handler
	service string
	version string
}

// Handle adds trace context to the log record.
func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	// Add service and version
	r.AddAttrs(
		slog.String("service", h.service),
		slog.String("version", h.version),
	)

	// Extract trace context if present
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", spanCtx.TraceID().String()))
	}
	if spanCtx.HasSpanID() {
		r.AddAttrs(slog.String("span_id", spanCtx.SpanID().String()))
	}

	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.handler.Handle(ctx, r)
}

// Enabled returns true if the level is enabled.
func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// WithAttrs returns a new handler with the given attributes.
func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{
		handler: h.handler.WithAttrs(attrs),
		service: h.service,
		version: h.version,
	}
}

// WithGroup returns a new handler with the given group.
func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{
		handler: h.handler.WithGroup(name),
		service: h.service,
		version: h.version,
	}
}

// leveler gates records below min. The wrapped handler is always built at
// LevelDebug so a per-plugin logger can lower the gate without rebuilding
// the chain.
type leveler struct {
	handler slog.Handler
	min     slog.Level
}

func (h *leveler) Handle(ctx context.Context, r slog.Record) error {
	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.handler.Handle(ctx, r)
}

func (h *leveler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.min
}

func (h *leveler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &leveler{handler: h.handler.WithAttrs(attrs), min: h.min}
}

func (h *leveler) WithGroup(name string) slog.Handler {
	return &leveler{handler: h.handler.WithGroup(name), min: h.min}
}

// Setup creates a configured slog.Logger.
// format: "json" or "text" (defaults to "json" if empty)
// If w is nil, writes to os.Stderr.
func Setup(service, version, format string, level slog.Level, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	var baseHandler slog.Handler
	opts := &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}

	if format == "text" {
		baseHandler = slog.NewTextHandler(w, opts)
	} else {
		baseHandler = slog.NewJSONHandler(w, opts)
	}

	handler := &traceHandler{
		handler: baseHandler,
		service: service,
		version: version,
	}

	return slog.New(&leveler{handler: handler, min: level})
}

// SetDefault sets up and configures the default logger.
func SetDefault(service, version, format string, level slog.Level) {
	logger := Setup(service, version, format, level, nil)
	slog.SetDefault(logger)
}

// ForPlugin derives a plugin-scoped logger from base. Every record carries a
// plugin=<name> attribute. With debug set, the gate drops to LevelDebug for
// this logger only; the host logger keeps its configured level. Loggers not
// built by Setup are returned with just the name attribute.
func ForPlugin(base *slog.Logger, name string, debug bool) *slog.Logger {
	h := base.Handler()
	if lv, ok := h.(*leveler); ok && debug && lv.min > slog.LevelDebug {
		h = &leveler{handler: lv.handler, min: slog.LevelDebug}
	}
	return slog.New(h).With("plugin", name)
}

// ParseLevel maps a config string to a slog.Level. Unknown values default
// to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
