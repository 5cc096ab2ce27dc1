package plugin

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/oops"

	"github.com/cogbox/cogbox/pkg/errutil"
	pluginpkg "github.com/cogbox/cogbox/pkg/plugin"
)

// Manager owns the set of loaded plugins and serializes lifecycle
// operations. Loads and unloads run one at a time; lookups stay cheap and
// concurrent.
//
// Lifecycle events are delivered synchronously while the operation holds
// the lifecycle lock, so a handler that calls back into Load, Unload, or
// Reload deadlocks.
type Manager struct {
	bus     EventBus
	mounter *Mounter
	loader  *Loader
	log     *slog.Logger

	// loaderOpts accumulates options destined for the loader until
	// NewManager assembles it.
	loaderOpts []LoaderOption

	// lifecycle serializes load/unload/reload sequences end to end.
	lifecycle sync.Mutex

	// mu guards the maps below; held only for bookkeeping, never across
	// plugin code.
	mu       sync.RWMutex
	records  map[string]*Record
	order    []string
	sources  map[string]Source
	srcOrder []string
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager's logger; plugin contexts derive
// theirs from it.
func WithManagerLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

// WithServices sets the host handles exposed to plugin contexts.
func WithServices(svcs Services) ManagerOption {
	return func(m *Manager) {
		m.loaderOpts = append(m.loaderOpts, WithLoaderServices(svcs))
	}
}

// WithDebugMatcher selects which plugins get debug-level logging.
func WithDebugMatcher(match NameMatcher) ManagerOption {
	return func(m *Manager) {
		m.loaderOpts = append(m.loaderOpts, WithLoaderDebug(match))
	}
}

// NewManager creates a manager wired to the bus and mounter.
func NewManager(bus EventBus, mounter *Mounter, opts ...ManagerOption) *Manager {
	m := &Manager{
		bus:     bus,
		mounter: mounter,
		log:     slog.Default(),
		records: make(map[string]*Record),
		sources: make(map[string]Source),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.loader = NewLoader(bus, mounter, m, append([]LoaderOption{WithLoaderLogger(m.log)}, m.loaderOpts...)...)
	m.loaderOpts = nil
	return m
}

// RegisterSource adds a source under its plugin name. Registration order
// is load order. A second source under the same name is rejected.
func (m *Manager) RegisterSource(src Source) error {
	name := src.Name()
	if err := ValidateName(name); err != nil {
		return oops.Code(CodeValidation).With("plugin", name).Wrap(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sources[name]; exists {
		return oops.Code(CodeValidation).With("plugin", name).Errorf("source %q is already registered", name)
	}
	m.sources[name] = src
	m.srcOrder = append(m.srcOrder, name)
	return nil
}

// ReplaceSource registers src, replacing any source under the same name.
// A replaced plugin keeps running on its old definition until reloaded.
func (m *Manager) ReplaceSource(src Source) error {
	name := src.Name()
	if err := ValidateName(name); err != nil {
		return oops.Code(CodeValidation).With("plugin", name).Wrap(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sources[name]; !exists {
		m.srcOrder = append(m.srcOrder, name)
	}
	m.sources[name] = src
	return nil
}

// LoadAll loads every registered source in registration order. Individual
// failures are logged and skipped; the host still comes up with whatever
// loaded cleanly.
func (m *Manager) LoadAll(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.RLock()
	names := make([]string, len(m.srcOrder))
	copy(names, m.srcOrder)
	m.mu.RUnlock()

	for _, name := range names {
		if _, err := m.loadLocked(ctx, name); err != nil {
			errutil.LogError(m.log, "failed to load plugin", err)
			continue
		}
	}
	return nil
}

// Load loads one plugin by source name.
func (m *Manager) Load(ctx context.Context, name string) (Info, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.loadLocked(ctx, name)
}

// loadLocked runs one load under the lifecycle lock.
func (m *Manager) loadLocked(ctx context.Context, name string) (Info, error) {
	m.mu.RLock()
	src, ok := m.sources[name]
	m.mu.RUnlock()
	if !ok {
		return Info{}, oops.Code(CodeNotFound).With("plugin", name).Errorf("no source for plugin %q", name)
	}

	rec, err := m.loader.Load(ctx, src)
	if err != nil {
		return Info{}, err
	}

	m.mu.Lock()
	m.records[rec.Name] = rec
	m.order = append(m.order, rec.Name)
	m.mu.Unlock()

	RecordPluginLoaded()
	return rec.info(), nil
}

// Unload tears one plugin down and reports whether it was present. An
// absent name is a no-op. Teardown always runs to completion: a failing or
// panicking unload hook is logged and does not keep routes or
// subscriptions alive.
func (m *Manager) Unload(ctx context.Context, name string) bool {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.unloadLocked(ctx, name)
}

// unloadLocked runs one unload under the lifecycle lock.
func (m *Manager) unloadLocked(ctx context.Context, name string) bool {
	m.mu.Lock()
	rec, ok := m.records[name]
	if !ok {
		m.mu.Unlock()
		m.log.Debug("unload of absent plugin is a no-op", "plugin", name)
		return false
	}
	rec.State = StateUnloading
	m.mu.Unlock()

	// Routes go dark first so no request races the teardown.
	m.mounter.Deactivate(rec.routes)

	if n := m.bus.RevokeAll(rec.Name); n > 0 {
		m.log.Debug("revoked subscriptions", "plugin", rec.Name, "count", n)
	}

	status := "ok"
	if rec.def.OnUnload != nil {
		if err := runHook(rec.def.OnUnload, rec.ctx); err != nil {
			status = "hook_error"
			wrapped := oops.In("plugin").
				With("plugin", rec.Name).
				With("operation", "unload").
				Code(CodeUnload).
				Wrapf(err, "running unload hook")
			errutil.LogError(m.log, "plugin unload hook failed", wrapped)
		}
	}

	m.bus.EmitPlugin(ctx, pluginpkg.EventUnloaded, pluginpkg.UnloadedPayload{Name: rec.Name})

	m.mounter.Remove(rec.routes)

	m.mu.Lock()
	delete(m.records, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	RecordPluginUnloaded()
	RecordUnload(status)
	m.log.Info("unloaded plugin", "plugin", name)
	return true
}

// UnloadAll unloads every plugin in reverse load order.
func (m *Manager) UnloadAll(ctx context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.RLock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	m.mu.RUnlock()

	for i := len(names) - 1; i >= 0; i-- {
		m.unloadLocked(ctx, names[i])
	}
}

// Reload unloads name if loaded, then loads it from its current source.
func (m *Manager) Reload(ctx context.Context, name string) (Info, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.unloadLocked(ctx, name)
	return m.loadLocked(ctx, name)
}

// Contains reports whether a plugin record exists under name. Part of the
// loader's Registry.
func (m *Manager) Contains(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[name]
	return ok
}

// Count returns the number of loaded plugins.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Get returns the summary for one loaded plugin.
func (m *Manager) Get(name string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[name]
	if !ok {
		return Info{}, false
	}
	return rec.info(), true
}

// List returns summaries of all loaded plugins, sorted by name.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Info, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SourceNames returns registered source names in registration order.
func (m *Manager) SourceNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.srcOrder))
	copy(out, m.srcOrder)
	return out
}
