// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package plugin

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/oops"

	pluginpkg "github.com/cogbox/cogbox/pkg/plugin"
)

// Registry answers name-uniqueness questions during a load.
type Registry interface {
	Contains(name string) bool
}

// Loader runs the load pipeline for one source: resolve, validate, build
// the context, mount routes, register events, run the load hook, announce.
// Any failure rolls back every partial effect, leaving no trace of the
// attempt.
type Loader struct {
	bus      EventBus
	mounter  *Mounter
	registry Registry
	services Services
	debug    NameMatcher
	log      *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the base logger; plugin contexts derive theirs
// from it.
func WithLoaderLogger(log *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.log = log
	}
}

// WithLoaderServices sets the host handles exposed to plugin contexts.
func WithLoaderServices(svcs Services) LoaderOption {
	return func(l *Loader) {
		l.services = svcs
	}
}

// WithLoaderDebug selects which plugins get debug-level logging.
func WithLoaderDebug(m NameMatcher) LoaderOption {
	return func(l *Loader) {
		l.debug = m
	}
}

// NewLoader creates a loader. registry may be nil when uniqueness is
// checked elsewhere.
func NewLoader(bus EventBus, mounter *Mounter, registry Registry, opts ...LoaderOption) *Loader {
	l := &Loader{
		bus:      bus,
		mounter:  mounter,
		registry: registry,
		debug:    MatchNone,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load resolves src and wires the plugin in. The returned record is in
// StateLoaded; on error no record exists and no effect of the attempt
// survives.
func (l *Loader) Load(ctx context.Context, src Source) (*Record, error) {
	start := time.Now()
	rec, err := l.load(ctx, src)
	if err != nil {
		RecordLoad(src.Kind(), "error")
		return nil, err
	}
	RecordLoad(src.Kind(), "ok")
	RecordLoadDuration(src.Kind(), time.Since(start))
	return rec, nil
}

func (l *Loader) load(ctx context.Context, src Source) (*Record, error) {
	errb := oops.In("plugin").With("plugin", src.Name()).With("operation", "load")

	def, err := src.Resolve()
	if err != nil {
		return nil, errb.Code(CodeLoad).Wrapf(err, "resolving plugin")
	}

	if err := ValidateName(def.Name); err != nil {
		return nil, errb.Code(CodeValidation).Wrap(err)
	}
	if def.Version == "" {
		return nil, errb.Code(CodeValidation).Errorf("version is required")
	}

	if l.registry != nil && l.registry.Contains(def.Name) {
		return nil, errb.Code(CodeValidation).Errorf("plugin %q is already loaded", def.Name)
	}

	pctx := newContext(def.Name, l.log, l.bus, l.services, l.debug(def.Name))

	rec := &Record{
		Name:    def.Name,
		Version: def.Version,
		Kind:    src.Kind(),
		State:   StateLoading,
		def:     def,
		ctx:     pctx,
	}

	if def.Routes != nil {
		tok, err := l.mounter.Mount(def.Name, func(r chi.Router) error {
			return def.Routes(r, pctx)
		})
		if err != nil {
			// The registration callback had the context, so it may already
			// have subscribed; roll back regardless.
			l.rollback(rec)
			return nil, errb.Code(CodeLoad).Wrapf(err, "mounting routes")
		}
		rec.routes = tok
	}

	if def.Events != nil {
		subs, err := l.registerEvents(def, pctx)
		if err != nil {
			l.rollback(rec)
			return nil, errb.Code(CodeLoad).Wrapf(err, "registering events")
		}
		rec.subs = subs
	}

	if def.OnLoad != nil {
		if err := runHook(def.OnLoad, pctx); err != nil {
			l.rollback(rec)
			return nil, errb.Code(CodeLoad).Wrapf(err, "running load hook")
		}
	}

	rec.State = StateLoaded
	rec.LoadedAt = time.Now().UTC()

	l.bus.EmitPlugin(ctx, pluginpkg.EventLoaded, pluginpkg.LoadedPayload{
		Name:    def.Name,
		Version: def.Version,
	})

	l.log.Info("loaded plugin",
		"plugin", def.Name,
		"kind", src.Kind(),
		"version", def.Version)

	return rec, nil
}

// registerEvents collects subscription handles from the definition's event
// hook. Nil handles (rejected subscriptions) are dropped; a panic becomes
// an error.
func (l *Loader) registerEvents(def *pluginpkg.Definition, pctx *pluginpkg.Context) (subs []*pluginpkg.Subscription, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			subs = nil
			err = oops.Errorf("event registration panicked: %v", rec)
		}
	}()

	for _, s := range def.Events(pctx.Events(), pctx) {
		if s != nil {
			subs = append(subs, s)
		}
	}
	return subs, nil
}

// rollback undoes partial wiring after a failed load. Revoking by owner
// also catches subscriptions whose handles the plugin never returned.
func (l *Loader) rollback(rec *Record) {
	if rec.routes != nil {
		l.mounter.Remove(rec.routes)
	}
	if n := l.bus.RevokeAll(rec.Name); n > 0 {
		l.log.Debug("revoked subscriptions during rollback",
			"plugin", rec.Name,
			"count", n)
	}
}

// runHook invokes a lifecycle hook, converting a panic into an error.
func runHook(hook func(*pluginpkg.Context) error, pctx *pluginpkg.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = oops.Errorf("hook panicked: %v", rec)
		}
	}()
	return hook(pctx)
}
