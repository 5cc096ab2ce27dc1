// Package plugin provides plugin management and lifecycle control.
package plugin

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	pluginpkg "github.com/cogbox/cogbox/pkg/plugin"
)

// ManifestFilename is the manifest file looked for in each plugin directory.
const ManifestFilename = "plugin.yaml"

// Type identifies the plugin runtime.
type Type string

// Plugin types supported by the host.
const (
	TypeLua    Type = "lua"
	TypeBinary Type = "binary"
)

// Manifest represents a plugin.yaml file.
type Manifest struct {
	Name         string        `yaml:"name"`
	Version      string        `yaml:"version"`
	Type         Type          `yaml:"type"`
	Requires     string        `yaml:"requires,omitempty"`
	Events       []string      `yaml:"events,omitempty"`
	LuaPlugin    *LuaConfig    `yaml:"lua-plugin,omitempty"`
	BinaryPlugin *BinaryConfig `yaml:"binary-plugin,omitempty"`
}

// LuaConfig holds Lua-specific configuration.
type LuaConfig struct {
	Entry string `yaml:"entry"`
}

// BinaryConfig holds binary plugin configuration.
type BinaryConfig struct {
	Path string `yaml:"path"`
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern validates plugin names: must start with lowercase letter,
// followed by lowercase letters, digits, or hyphens.
// Cannot end with a hyphen. Single character names are allowed.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// reservedNames are taken by the host's own routes and identities.
var reservedNames = map[string]bool{
	"host":    true,
	"plugins": true,
	"api":     true,
	"ws":      true,
	"healthz": true,
	"metrics": true,
}

// ParseManifest parses and validates a plugin.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// ValidateName checks a plugin name against the naming rules shared by
// manifests and in-process plugin definitions.
func ValidateName(name string) error {
	if name == "" || !namePattern.MatchString(name) {
		return fmt.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", name)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("name must be %d characters or less, got %d", maxNameLength, len(name))
	}
	if reservedNames[name] {
		return fmt.Errorf("name %q is reserved", name)
	}
	return nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if err := ValidateName(m.Name); err != nil {
		return err
	}

	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("version %q is not valid semver: %w", m.Version, err)
	}

	if m.Requires != "" {
		if _, err := semver.NewConstraint(m.Requires); err != nil {
			return fmt.Errorf("requires %q is not a valid version constraint: %w", m.Requires, err)
		}
	}

	for _, sel := range m.Events {
		if _, _, err := parseSelector(sel); err != nil {
			return err
		}
	}

	switch m.Type {
	case TypeLua:
		if m.LuaPlugin == nil {
			return fmt.Errorf("lua-plugin is required when type is lua")
		}
		if m.LuaPlugin.Entry == "" {
			return fmt.Errorf("lua-plugin.entry is required")
		}
	case TypeBinary:
		if m.BinaryPlugin == nil {
			return fmt.Errorf("binary-plugin is required when type is binary")
		}
		if m.BinaryPlugin.Path == "" {
			return fmt.Errorf("binary-plugin.path is required")
		}
	default:
		return fmt.Errorf("type must be 'lua' or 'binary', got %q", m.Type)
	}

	return nil
}

// CheckHost verifies the requires constraint against the host version.
// Manifests without a requires clause accept any host.
func (m *Manifest) CheckHost(hostVersion string) error {
	if m.Requires == "" {
		return nil
	}

	c, err := semver.NewConstraint(m.Requires)
	if err != nil {
		return fmt.Errorf("requires %q is not a valid version constraint: %w", m.Requires, err)
	}
	v, err := semver.NewVersion(hostVersion)
	if err != nil {
		return fmt.Errorf("host version %q is not valid semver: %w", hostVersion, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("requires host %s, running %s", m.Requires, hostVersion)
	}
	return nil
}

// Selector pairs a channel with an event key.
type Selector struct {
	Channel pluginpkg.Channel
	Key     string
}

// EventSelectors parses the manifest's event list. Call after Validate.
func (m *Manifest) EventSelectors() ([]Selector, error) {
	out := make([]Selector, 0, len(m.Events))
	for _, sel := range m.Events {
		ch, key, err := parseSelector(sel)
		if err != nil {
			return nil, err
		}
		out = append(out, Selector{Channel: ch, Key: key})
	}
	return out, nil
}

// parseSelector splits "channel:key" at the first colon. The key itself may
// contain colons ("custom:notes:created" selects key "notes:created").
func parseSelector(s string) (pluginpkg.Channel, string, error) {
	ch, key, ok := strings.Cut(s, ":")
	if !ok || key == "" {
		return "", "", fmt.Errorf("event selector %q must be channel:key", s)
	}
	channel := pluginpkg.Channel(ch)
	if !channel.Valid() {
		return "", "", fmt.Errorf("event selector %q names unknown channel %q", s, ch)
	}
	return channel, key, nil
}
