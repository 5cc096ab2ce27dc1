// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package plugin

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	goplugin "plugin"

	pluginpkg "github.com/cogbox/cogbox/pkg/plugin"
)

// Source kinds.
const (
	KindBuiltin      = "builtin"
	KindSharedObject = "shared-object"
	KindLua          = "lua"
)

// Source yields a plugin definition ready for loading. Name is known
// before Resolve runs, so the manager can register and order sources
// without touching plugin code.
type Source interface {
	Name() string
	Kind() string
	Resolve() (*pluginpkg.Definition, error)
}

// BuiltinSource wraps a definition compiled into the host binary.
type BuiltinSource struct {
	def *pluginpkg.Definition
}

// NewBuiltinSource wraps def. The definition is resolved as-is.
func NewBuiltinSource(def *pluginpkg.Definition) *BuiltinSource {
	return &BuiltinSource{def: def}
}

// Name returns the definition's name, or "" for a nil definition.
func (s *BuiltinSource) Name() string {
	if s.def == nil {
		return ""
	}
	return s.def.Name
}

// Kind returns "builtin".
func (s *BuiltinSource) Kind() string { return KindBuiltin }

// Resolve returns the wrapped definition.
func (s *BuiltinSource) Resolve() (*pluginpkg.Definition, error) {
	if s.def == nil {
		return nil, fmt.Errorf("builtin source holds no definition")
	}
	return s.def, nil
}

// SharedObjectSource loads a definition from a compiled shared object. The
// object must export NewPlugin with type func() *plugin.Definition.
type SharedObjectSource struct {
	manifest *Manifest
	dir      string
}

// NewSharedObjectSource creates a source for a binary-type manifest rooted
// at dir.
func NewSharedObjectSource(m *Manifest, dir string) *SharedObjectSource {
	return &SharedObjectSource{manifest: m, dir: dir}
}

// Name returns the manifest name.
func (s *SharedObjectSource) Name() string { return s.manifest.Name }

// Kind returns "shared-object".
func (s *SharedObjectSource) Kind() string { return KindSharedObject }

// Resolve opens the shared object and calls its constructor. The returned
// definition must agree with the manifest on name; an unset version
// inherits the manifest's.
func (s *SharedObjectSource) Resolve() (*pluginpkg.Definition, error) {
	path := filepath.Join(s.dir, s.manifest.BinaryPlugin.Path)

	p, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening shared object %s: %w", path, err)
	}

	sym, err := p.Lookup("NewPlugin")
	if err != nil {
		return nil, fmt.Errorf("shared object %s: %w", path, err)
	}
	factory, ok := sym.(func() *pluginpkg.Definition)
	if !ok {
		return nil, fmt.Errorf("shared object %s: NewPlugin has type %T, want func() *plugin.Definition", path, sym)
	}

	def := factory()
	if def == nil {
		return nil, fmt.Errorf("shared object %s: NewPlugin returned nil", path)
	}
	if def.Name != s.manifest.Name {
		return nil, fmt.Errorf("shared object declares name %q, manifest says %q", def.Name, s.manifest.Name)
	}
	if def.Version == "" {
		def.Version = s.manifest.Version
	} else if def.Version != s.manifest.Version {
		return nil, fmt.Errorf("shared object declares version %q, manifest says %q", def.Version, s.manifest.Version)
	}
	return def, nil
}

// SharedObjectFactory is the SourceFactory for binary manifests.
func SharedObjectFactory(m *Manifest, dir string) (Source, error) {
	return NewSharedObjectSource(m, dir), nil
}

// SourceFactory builds a Source for one manifest type.
type SourceFactory func(m *Manifest, dir string) (Source, error)

// Discovery scans a directory for plugin subdirectories carrying
// manifests and turns them into sources.
type Discovery struct {
	dir         string
	hostVersion string
	factories   map[Type]SourceFactory
	log         *slog.Logger
}

// DiscoveryOption configures a Discovery.
type DiscoveryOption func(*Discovery)

// WithSourceFactory registers the factory used for manifests of type t.
// Manifests with no registered factory are skipped with a warning.
func WithSourceFactory(t Type, f SourceFactory) DiscoveryOption {
	return func(d *Discovery) {
		d.factories[t] = f
	}
}

// WithDiscoveryLogger sets the logger for skip decisions.
func WithDiscoveryLogger(log *slog.Logger) DiscoveryOption {
	return func(d *Discovery) {
		d.log = log
	}
}

// NewDiscovery creates a Discovery over dir. hostVersion is matched
// against each manifest's requires constraint.
func NewDiscovery(dir, hostVersion string, opts ...DiscoveryOption) *Discovery {
	d := &Discovery{
		dir:         dir,
		hostVersion: hostVersion,
		factories:   make(map[Type]SourceFactory),
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SourceFor scans a single plugin directory under the discovery root. A
// missing manifest returns (nil, nil); anything else wrong with the
// directory is an error.
func (d *Discovery) SourceFor(dirName string) (Source, error) {
	pluginDir := filepath.Join(d.dir, dirName)

	data, err := os.ReadFile(filepath.Join(pluginDir, ManifestFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	if err := manifest.CheckHost(d.hostVersion); err != nil {
		return nil, err
	}

	factory, ok := d.factories[manifest.Type]
	if !ok {
		return nil, fmt.Errorf("no runtime for plugin type %q", manifest.Type)
	}
	return factory(manifest, pluginDir)
}

// Dir returns the directory the discovery scans.
func (d *Discovery) Dir() string { return d.dir }

// Sources scans one directory level, in lexical order. Directories without
// a manifest, with an invalid one, with an unsatisfied host requirement,
// or with no registered runtime are logged and skipped; the scan itself
// only fails when the directory cannot be read at all.
func (d *Discovery) Sources() ([]Source, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No plugins directory
		}
		return nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}

	var sources []Source
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pluginDir := filepath.Join(d.dir, entry.Name())
		manifestPath := filepath.Join(pluginDir, ManifestFilename)

		data, err := os.ReadFile(manifestPath) //nolint:gosec // manifestPath is constructed from ReadDir entries
		if err != nil {
			if os.IsNotExist(err) {
				d.log.Debug("skipping directory without manifest", "dir", entry.Name())
			} else {
				d.log.Warn("skipping plugin with unreadable manifest",
					"dir", entry.Name(),
					"error", err)
			}
			continue
		}

		manifest, err := ParseManifest(data)
		if err != nil {
			d.log.Warn("skipping plugin with invalid manifest",
				"dir", entry.Name(),
				"error", err)
			continue
		}

		if err := manifest.CheckHost(d.hostVersion); err != nil {
			d.log.Warn("skipping plugin incompatible with this host",
				"plugin", manifest.Name,
				"error", err)
			continue
		}

		factory, ok := d.factories[manifest.Type]
		if !ok {
			d.log.Warn("no runtime for plugin type, skipping",
				"plugin", manifest.Name,
				"type", manifest.Type)
			continue
		}

		src, err := factory(manifest, pluginDir)
		if err != nil {
			d.log.Warn("skipping plugin that failed to prepare",
				"plugin", manifest.Name,
				"error", err)
			continue
		}
		sources = append(sources, src)
	}

	return sources, nil
}
