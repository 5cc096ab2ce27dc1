// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package plugin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/oops"

	"github.com/cogbox/cogbox/pkg/errutil"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher reloads plugins when their files change on disk. Changes inside
// one plugin directory are debounced together, so an editor writing
// manifest and entry file in quick succession triggers a single reload.
type Watcher struct {
	mgr       *Manager
	discovery *Discovery
	dir       string
	debounce  time.Duration
	log       *slog.Logger

	fsw     *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool

	mu sync.Mutex
	// timers holds the pending debounce timer per plugin directory.
	timers map[string]*time.Timer
	// dirNames maps plugin directory base names to the plugin name their
	// manifest last declared, so removals and renames can be unloaded.
	dirNames map[string]string
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatchLogger sets the watcher's logger.
func WithWatchLogger(log *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.log = log
	}
}

// WithDebounce sets how long a plugin directory must stay quiet before its
// reload fires.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher over the discovery's directory, reloading
// through mgr.
func NewWatcher(mgr *Manager, discovery *Discovery, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		mgr:       mgr,
		discovery: discovery,
		dir:       discovery.Dir(),
		debounce:  defaultDebounce,
		log:       slog.Default(),
		done:      make(chan struct{}),
		timers:    make(map[string]*time.Timer),
		dirNames:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. The plugins directory must exist.
func (w *Watcher) Start() error {
	if !w.running.CompareAndSwap(false, true) {
		return oops.Errorf("watcher already running")
	}

	absDir, err := filepath.Abs(w.dir)
	if err != nil {
		w.running.Store(false)
		return oops.With("dir", w.dir).Wrapf(err, "resolving plugins directory")
	}
	w.dir = absDir

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.running.Store(false)
		return oops.Wrapf(err, "creating file watcher")
	}
	w.fsw = fsw

	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		w.running.Store(false)
		return oops.With("dir", w.dir).Wrapf(err, "watching plugins directory")
	}

	// fsnotify is not recursive; watch each plugin directory explicitly
	// and prime the name index while at it.
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		_ = fsw.Close()
		w.running.Store(false)
		return oops.With("dir", w.dir).Wrapf(err, "reading plugins directory")
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sub := filepath.Join(w.dir, entry.Name())
		if err := fsw.Add(sub); err != nil {
			w.log.Warn("cannot watch plugin directory", "dir", sub, "error", err)
			continue
		}
		if src, err := w.discovery.SourceFor(entry.Name()); err == nil && src != nil {
			w.dirNames[entry.Name()] = src.Name()
		}
	}

	w.wg.Add(1)
	go w.loop()

	w.log.Info("watching plugins directory", "dir", w.dir, "debounce", w.debounce)
	return nil
}

// Stop halts the watcher and cancels pending reloads.
func (w *Watcher) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}

	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = make(map[string]*time.Timer)
	w.mu.Unlock()

	close(w.done)
	_ = w.fsw.Close()
	w.wg.Wait()
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("plugin watcher error", "error", err)
		}
	}
}

// handle maps one filesystem event onto a plugin directory and schedules
// its refresh.
func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
		!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return
	}

	rel, err := filepath.Rel(w.dir, ev.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	dirBase, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	if dirBase == "" || strings.HasPrefix(dirBase, ".") {
		return
	}

	// A newly created plugin directory needs its own watch.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(ev.Name); err != nil {
				w.log.Warn("cannot watch new plugin directory", "dir", ev.Name, "error", err)
			}
		}
	}

	w.schedule(dirBase)
}

func (w *Watcher) schedule(dirBase string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[dirBase]; ok {
		t.Stop()
	}
	w.timers[dirBase] = time.AfterFunc(w.debounce, func() {
		w.refresh(dirBase)
	})
}

// refresh re-discovers one plugin directory and converges the manager on
// it: reload on change, unload on removal, both on rename.
func (w *Watcher) refresh(dirBase string) {
	select {
	case <-w.done:
		return
	default:
	}

	w.mu.Lock()
	delete(w.timers, dirBase)
	known := w.dirNames[dirBase]
	w.mu.Unlock()

	ctx := context.Background()

	src, err := w.discovery.SourceFor(dirBase)
	if err != nil {
		w.log.Warn("not reloading plugin after change",
			"dir", dirBase,
			"error", err)
		return
	}

	if src == nil {
		if known == "" {
			return
		}
		w.mgr.Unload(ctx, known)
		w.mu.Lock()
		delete(w.dirNames, dirBase)
		w.mu.Unlock()
		w.log.Info("plugin removed from disk, unloaded", "plugin", known)
		return
	}

	if known != "" && known != src.Name() {
		// The manifest now declares a different name; the old identity
		// goes away first.
		w.mgr.Unload(ctx, known)
	}

	if err := w.mgr.ReplaceSource(src); err != nil {
		errutil.LogError(w.log, "cannot replace plugin source", err)
		return
	}
	if _, err := w.mgr.Reload(ctx, src.Name()); err != nil {
		errutil.LogError(w.log, "failed to reload plugin", err)
		return
	}

	w.mu.Lock()
	w.dirNames[dirBase] = src.Name()
	w.mu.Unlock()

	w.log.Info("reloaded plugin after change", "plugin", src.Name(), "dir", dirBase)
}
