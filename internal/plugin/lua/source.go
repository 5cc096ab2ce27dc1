// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package lua

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	plugins "github.com/cogbox/cogbox/internal/plugin"
	pluginpkg "github.com/cogbox/cogbox/pkg/plugin"
)

// Compile-time interface check.
var _ plugins.Source = (*Source)(nil)

// Source loads one Lua plugin from disk and adapts it to the definition
// contract. Scripts declare their event interest in the manifest and react
// by defining globals: on_load, on_unload, and on_event(event).
type Source struct {
	manifest *plugins.Manifest
	dir      string
	factory  *StateFactory
	log      *slog.Logger
}

// Factory returns a SourceFactory that shares one state factory across all
// Lua plugins.
func Factory(sf *StateFactory, log *slog.Logger) plugins.SourceFactory {
	if log == nil {
		log = slog.Default()
	}
	return func(m *plugins.Manifest, dir string) (plugins.Source, error) {
		return &Source{manifest: m, dir: dir, factory: sf, log: log}, nil
	}
}

// Name returns the manifest name.
func (s *Source) Name() string { return s.manifest.Name }

// Kind returns "lua".
func (s *Source) Kind() string { return plugins.KindLua }

// Resolve reads the entry file, runs it once in a throwaway sandbox to
// catch syntax errors, and builds a definition around the hooks the script
// defines. Top-level code runs at validation time, so entry files should
// only declare functions.
func (s *Source) Resolve() (*pluginpkg.Definition, error) {
	errb := oops.In("lua").With("plugin", s.manifest.Name).With("operation", "load")

	entryPath := filepath.Join(s.dir, s.manifest.LuaPlugin.Entry)
	code, err := os.ReadFile(filepath.Clean(entryPath))
	if err != nil {
		return nil, errb.With("path", entryPath).Hint("failed to read entry file").Wrap(err)
	}

	// Validate syntax by running in a throwaway state.
	L, err := s.factory.NewState(context.Background())
	if err != nil {
		return nil, errb.Hint("failed to create validation state").Wrap(err)
	}
	defer L.Close()

	if err := L.DoString(string(code)); err != nil {
		return nil, errb.With("entry", s.manifest.LuaPlugin.Entry).Hint("syntax error").Wrap(err)
	}

	hasOnLoad := L.GetGlobal("on_load").Type() != lua.LTNil
	hasOnUnload := L.GetGlobal("on_unload").Type() != lua.LTNil
	hasOnEvent := L.GetGlobal("on_event").Type() != lua.LTNil

	selectors, err := s.manifest.EventSelectors()
	if err != nil {
		return nil, errb.Wrap(err)
	}
	if len(selectors) > 0 && !hasOnEvent {
		return nil, errb.With("entry", s.manifest.LuaPlugin.Entry).
			New("manifest subscribes to events but entry defines no on_event")
	}

	sc := &script{
		name:    s.manifest.Name,
		code:    string(code),
		factory: s.factory,
	}

	def := &pluginpkg.Definition{
		Metadata: pluginpkg.Metadata{
			Name:    s.manifest.Name,
			Version: s.manifest.Version,
		},
	}

	if len(selectors) > 0 {
		def.Events = func(ev pluginpkg.EventHelpers, pctx *pluginpkg.Context) []*pluginpkg.Subscription {
			h := sc.eventHandler(pctx)
			subs := make([]*pluginpkg.Subscription, 0, len(selectors))
			for _, sel := range selectors {
				var sub *pluginpkg.Subscription
				switch sel.Channel {
				case pluginpkg.ChannelDiscord:
					sub = ev.OnDiscord(sel.Key, h)
				case pluginpkg.ChannelCustom:
					sub = ev.OnCustom(sel.Key, h)
				case pluginpkg.ChannelLifecycle:
					sub = ev.OnPlugin(sel.Key, h)
				}
				if sub != nil {
					subs = append(subs, sub)
				}
			}
			return subs
		}
	}
	if hasOnLoad {
		def.OnLoad = func(pctx *pluginpkg.Context) error {
			return sc.runHook(pctx, "on_load")
		}
	}
	if hasOnUnload {
		def.OnUnload = func(pctx *pluginpkg.Context) error {
			return sc.runHook(pctx, "on_unload")
		}
	}

	return def, nil
}

// script executes one plugin's code in throwaway sandboxed states.
type script struct {
	name    string
	code    string
	factory *StateFactory
}

// newState builds a sandbox with the host API installed and the script
// loaded.
func (sc *script) newState(ctx context.Context, pctx *pluginpkg.Context) (*lua.LState, error) {
	L, err := sc.factory.NewState(ctx)
	if err != nil {
		return nil, oops.In("lua").With("plugin", sc.name).Hint("failed to create state").Wrap(err)
	}
	L.SetContext(ctx)
	registerHostAPI(L, pctx)

	if err := L.DoString(sc.code); err != nil {
		L.Close()
		return nil, oops.In("lua").With("plugin", sc.name).Hint("failed to load code").Wrap(err)
	}
	return L, nil
}

// eventHandler returns the bus handler delivering events into on_event.
func (sc *script) eventHandler(pctx *pluginpkg.Context) pluginpkg.Handler {
	return func(ctx context.Context, evt pluginpkg.Event) error {
		L, err := sc.newState(ctx, pctx)
		if err != nil {
			return err
		}
		defer L.Close()

		onEvent := L.GetGlobal("on_event")
		if onEvent.Type() == lua.LTNil {
			return nil
		}

		if err := L.CallByParam(lua.P{
			Fn:      onEvent,
			NRet:    1,
			Protect: true,
		}, buildEventTable(L, evt)); err != nil {
			return oops.In("lua").With("plugin", sc.name).With("operation", "on_event").Wrap(err)
		}

		ret := L.Get(-1)
		L.Pop(1)

		emits, validationErrs := parseEmitEvents(ret)
		if len(validationErrs) > 0 {
			pctx.Log().Warn("plugin emit validation errors",
				"error_count", len(validationErrs),
				"errors", validationErrs)
		}
		for _, em := range emits {
			pctx.Events().Emit(em.Key, em.Payload)
		}
		return nil
	}
}

// runHook calls a lifecycle global if the script defines it.
func (sc *script) runHook(pctx *pluginpkg.Context, fnName string) error {
	L, err := sc.newState(context.Background(), pctx)
	if err != nil {
		return err
	}
	defer L.Close()

	fn := L.GetGlobal(fnName)
	if fn.Type() == lua.LTNil {
		return nil
	}

	if err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}); err != nil {
		return oops.In("lua").With("plugin", sc.name).With("operation", fnName).Wrap(err)
	}
	return nil
}
