// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

// Package api serves the host's HTTP surface: health, the plugin admin
// endpoints, mounted plugin routes, and the realtime websocket.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/oops"

	"github.com/cogbox/cogbox/internal/plugin"
)

// Manager is the slice of the plugin manager the admin endpoints drive.
type Manager interface {
	List() []plugin.Info
	Get(name string) (plugin.Info, bool)
	Load(ctx context.Context, name string) (plugin.Info, error)
	Unload(ctx context.Context, name string) bool
	Reload(ctx context.Context, name string) (plugin.Info, error)
}

// Server serves the host API.
type Server struct {
	addr    string
	log     *slog.Logger
	manager Manager
	version string

	pluginRoutes http.Handler
	realtime     http.Handler

	router     chi.Router
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithVersion sets the host version reported by the health endpoint.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithPluginRoutes mounts the plugin route tree under /plugins.
func WithPluginRoutes(h http.Handler) Option {
	return func(s *Server) {
		s.pluginRoutes = h
	}
}

// WithRealtime exposes the websocket hub at /ws.
func WithRealtime(h http.Handler) Option {
	return func(s *Server) {
		s.realtime = h
	}
}

// NewServer creates a host API server listening on addr.
func NewServer(addr string, manager Manager, opts ...Option) *Server {
	s := &Server{
		addr:    addr,
		log:     slog.Default(),
		manager: manager,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogger(s.log))
	r.Use(recoverer(s.log))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1/plugins", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Get("/{name}", s.handleGet)
		r.Post("/{name}/load", s.handleLoad)
		r.Post("/{name}/unload", s.handleUnload)
		r.Post("/{name}/reload", s.handleReload)
	})

	if s.pluginRoutes != nil {
		r.Mount("/plugins", s.pluginRoutes)
	}
	if s.realtime != nil {
		r.Handle("/ws", s.realtime)
	}
	return r
}

// Handler returns the server's router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving. It returns an error channel that receives any serve
// failure after startup; the channel closes on graceful shutdown.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("api server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.log.Error("api server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.log.Info("api server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_api_server").Wrap(err)
		}
	}

	s.log.Info("api server stopped")
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
