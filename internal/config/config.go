// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

// Package config loads host configuration from defaults, an optional YAML
// file, and command-line flags, in that order of precedence (flags win).
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Config is the root of the host configuration tree.
type Config struct {
	Log           LogConfig           `koanf:"log"`
	HTTP          HTTPConfig          `koanf:"http"`
	Observability ObservabilityConfig `koanf:"observability"`
	Plugins       PluginsConfig       `koanf:"plugins"`
	Gateway       GatewayConfig       `koanf:"gateway"`
	Realtime      RealtimeConfig      `koanf:"realtime"`
}

// LogConfig controls the host logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// HTTPConfig controls the public API listener.
type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

// ObservabilityConfig controls the metrics and health listener.
type ObservabilityConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// PluginsConfig controls discovery and lifecycle of plugins.
type PluginsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Dir     string `koanf:"dir"`
	Debug   string `koanf:"debug"`
	Watch   bool   `koanf:"watch"`
}

// GatewayConfig controls the chat gateway connection.
type GatewayConfig struct {
	Mode        string        `koanf:"mode"`
	SendTimeout time.Duration `koanf:"send_timeout"`
}

// RealtimeConfig controls the websocket broadcast endpoint.
type RealtimeConfig struct {
	Enabled bool `koanf:"enabled"`
}

// Defaults returns a Config with every field set to its default.
func Defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Observability: ObservabilityConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Plugins: PluginsConfig{
			Enabled: true,
			Dir:     "./plugins",
			Watch:   false,
		},
		Gateway: GatewayConfig{
			Mode:        "loopback",
			SendTimeout: 5 * time.Second,
		},
		Realtime: RealtimeConfig{
			Enabled: true,
		},
	}
}

// Load builds the effective configuration. path names an optional YAML
// file; empty means no file. flags, when non-nil, overlays explicitly set
// flags on top, mapping dashes to dots ("http-addr" sets http.addr). Flag
// defaults never override file values.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrapf(err, "loading config file")
		}
	}

	if flags != nil {
		p := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key := strings.ReplaceAll(f.Name, "-", ".")
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(p, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").Wrapf(err, "loading flags")
		}
	}

	cfg := Defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").Wrapf(err, "decoding config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the host cannot run with.
func (c *Config) Validate() error {
	errb := oops.Code("INVALID_CONFIG")

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errb.With("log.level", c.Log.Level).Errorf("log level must be one of debug, info, warn, error")
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return errb.With("log.format", c.Log.Format).Errorf("log format must be text or json")
	}

	if c.HTTP.Addr == "" {
		return errb.Errorf("http.addr is required")
	}

	if c.Observability.Enabled && c.Observability.Addr == "" {
		return errb.Errorf("observability.addr is required when observability is enabled")
	}

	if c.Plugins.Enabled && c.Plugins.Dir == "" {
		return errb.Errorf("plugins.dir is required when plugins are enabled")
	}

	if c.Gateway.Mode != "loopback" {
		return errb.With("gateway.mode", c.Gateway.Mode).Errorf("unsupported gateway mode")
	}

	if c.Gateway.SendTimeout <= 0 {
		return errb.With("gateway.send_timeout", c.Gateway.SendTimeout).Errorf("gateway send timeout must be positive")
	}

	return nil
}

// DebugPatterns splits plugins.debug into its comma-separated name
// patterns, dropping empty segments.
func (c *Config) DebugPatterns() []string {
	if c.Plugins.Debug == "" {
		return nil
	}
	parts := strings.Split(c.Plugins.Debug, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
