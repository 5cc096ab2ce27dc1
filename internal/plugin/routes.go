// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package plugin

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/cogbox/cogbox/pkg/envelope"
)

// RouteToken identifies one plugin's mounted router and carries its
// liveness flag. A deactivated token makes the whole subtree 404 without
// rebuilding any routing table.
type RouteToken struct {
	id     ulid.ULID
	name   string
	active atomic.Bool
}

// Name returns the owning plugin's name.
func (t *RouteToken) Name() string { return t.name }

// Active reports whether the subtree still serves requests.
func (t *RouteToken) Active() bool { return t.active.Load() }

type mountEntry struct {
	tok     *RouteToken
	handler http.Handler
}

// Mounter serves every plugin's routes under a shared prefix, one subtree
// per plugin name, and controls per-plugin liveness.
type Mounter struct {
	log *slog.Logger

	mu      sync.RWMutex
	entries map[string]*mountEntry
}

// MounterOption configures a Mounter.
type MounterOption func(*Mounter)

// WithMounterLogger sets the logger for mount activity and route panics.
func WithMounterLogger(log *slog.Logger) MounterOption {
	return func(m *Mounter) {
		m.log = log
	}
}

// NewMounter creates an empty mounter.
func NewMounter(opts ...MounterOption) *Mounter {
	m := &Mounter{
		log:     slog.Default(),
		entries: make(map[string]*mountEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Routes returns the router serving /{plugin}/... paths. The caller mounts
// it wherever plugin routes live, typically under /plugins.
func (m *Mounter) Routes() chi.Router {
	r := chi.NewRouter()
	r.HandleFunc("/{plugin}", m.dispatch)
	r.HandleFunc("/{plugin}/*", m.dispatch)
	return r
}

// dispatch forwards a request to the named plugin's router. Inactive or
// unknown names get the standard 404 envelope, indistinguishable from one
// another.
func (m *Mounter) dispatch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "plugin")

	m.mu.RLock()
	e := m.entries[name]
	m.mu.RUnlock()

	if e == nil || !e.tok.Active() {
		envelope.NotFound(w)
		return
	}

	// Trim the matched prefix so the plugin router sees paths relative to
	// its own root, the same rewrite chi's Mount performs.
	rctx := chi.RouteContext(r.Context())
	rctx.RoutePath = "/" + chi.URLParam(r, "*")

	e.handler.ServeHTTP(w, r)
}

// Mount builds a fresh router for name, hands it to build, and activates
// it. A still-active entry under the same name is a conflict; a
// deactivated one is replaced.
func (m *Mounter) Mount(name string, build func(chi.Router) error) (*RouteToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[name]; ok && e.tok.Active() {
		return nil, oops.Code("ROUTE_CONFLICT").With("plugin", name).Errorf("routes for %q are already mounted", name)
	}

	r := chi.NewRouter()
	r.Use(m.recoverer(name))

	if err := runBuild(r, build); err != nil {
		return nil, oops.With("plugin", name).Wrapf(err, "registering routes")
	}

	tok := &RouteToken{id: ulid.Make(), name: name}
	tok.active.Store(true)
	m.entries[name] = &mountEntry{tok: tok, handler: r}

	RecordRoutesActivated()
	m.log.Debug("plugin routes mounted", "plugin", name)
	return tok, nil
}

// runBuild invokes the registration callback, converting panics to errors
// so a broken plugin cannot take the mounter down.
func runBuild(r chi.Router, build func(chi.Router) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = oops.Errorf("route registration panicked: %v", rec)
		}
	}()
	return build(r)
}

// Deactivate flips the token off. Requests hitting the subtree 404 from
// the next dispatch on. Idempotent, safe on nil.
func (m *Mounter) Deactivate(tok *RouteToken) {
	if tok == nil {
		return
	}
	if tok.active.CompareAndSwap(true, false) {
		RecordRoutesDeactivated()
		m.log.Debug("plugin routes deactivated", "plugin", tok.name)
	}
}

// Remove deactivates tok and drops its routing entry, provided the entry
// still belongs to tok. A newer mount under the same name is left alone.
func (m *Mounter) Remove(tok *RouteToken) {
	if tok == nil {
		return
	}
	m.Deactivate(tok)

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[tok.name]; ok && e.tok == tok {
		delete(m.entries, tok.name)
	}
}

// Active reports whether name currently serves requests.
func (m *Mounter) Active(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	return ok && e.tok.Active()
}

// recoverer absorbs panics from plugin handlers, answering with the
// standard 500 envelope. http.ErrAbortHandler passes through untouched.
func (m *Mounter) recoverer(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					RecordRoutePanic(name)
					m.log.Error("plugin route panicked",
						"plugin", name,
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
