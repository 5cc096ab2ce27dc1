// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

//go:build integration

package integration

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/cogbox/cogbox/internal/bus"
	"github.com/cogbox/cogbox/internal/plugin"
	"github.com/cogbox/cogbox/internal/plugin/lua"
	pluginpkg "github.com/cogbox/cogbox/pkg/plugin"
	"github.com/cogbox/cogbox/plugins/notes"
)

const responderManifest = `name: responder
version: 1.0.0
type: lua
events:
  - "custom:ping"
lua-plugin:
  entry: main.lua
`

const responderScript = `
function on_load()
  cogbox.emit("responder:ready", cogbox.name)
end

function on_event(evt)
  if evt.key == "ping" then
    return {
      { key = "responder:pong", payload = evt.payload },
    }
  end
end

function on_unload()
  cogbox.emit("responder:bye", cogbox.name)
end
`

// luaEnv is the minimal host wiring for script plugins: no HTTP surface,
// just the bus, the manager, and a discovery over dir.
type luaEnv struct {
	bus     *bus.Bus
	manager *plugin.Manager
	disc    *plugin.Discovery
}

func startLuaHost(dir string) *luaEnv {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New(bus.WithLogger(log))
	m := plugin.NewMounter(plugin.WithMounterLogger(log))
	return &luaEnv{
		bus:     b,
		manager: plugin.NewManager(b, m, plugin.WithManagerLogger(log)),
		disc: plugin.NewDiscovery(dir, "1.0.0",
			plugin.WithDiscoveryLogger(log),
			plugin.WithSourceFactory(plugin.TypeLua, lua.Factory(lua.NewStateFactory(), log))),
	}
}

// record subscribes the host to a custom key and collects payloads.
func record(b *bus.Bus, key string) *[]any {
	var got []any
	_, err := b.OnCustom(key, func(_ context.Context, evt pluginpkg.Event) error {
		got = append(got, evt.Payload)
		return nil
	})
	Expect(err).NotTo(HaveOccurred())
	return &got
}

var _ = Describe("Lua runtime", func() {
	Context("with a scratch responder plugin", func() {
		var env *luaEnv

		BeforeEach(func() {
			dir, err := os.MkdirTemp("", "cogbox-lua-*")
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(os.RemoveAll, dir)

			pluginDir := filepath.Join(dir, "responder")
			Expect(os.MkdirAll(pluginDir, 0o750)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(pluginDir, plugin.ManifestFilename), []byte(responderManifest), 0o600)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(pluginDir, "main.lua"), []byte(responderScript), 0o600)).To(Succeed())

			env = startLuaHost(dir)
			sources, err := env.disc.Sources()
			Expect(err).NotTo(HaveOccurred())
			Expect(sources).To(HaveLen(1))
			Expect(env.manager.RegisterSource(sources[0])).To(Succeed())
		})

		It("runs the load hook with the host API", func() {
			ready := record(env.bus, "responder:ready")

			_, err := env.manager.Load(context.Background(), "responder")
			Expect(err).NotTo(HaveOccurred())

			Expect(*ready).To(Equal([]any{"responder"}))
		})

		It("answers events declared in the manifest", func() {
			pong := record(env.bus, "responder:pong")

			_, err := env.manager.Load(context.Background(), "responder")
			Expect(err).NotTo(HaveOccurred())

			env.bus.EmitCustom(context.Background(), "ping", map[string]any{"n": 1})

			Expect(*pong).To(HaveLen(1))
			payload, ok := (*pong)[0].(string)
			Expect(ok).To(BeTrue(), "script payloads cross the boundary as JSON")
			Expect(payload).To(MatchJSON(`{"n": 1}`))
		})

		It("stops answering after unload", func() {
			pong := record(env.bus, "responder:pong")
			bye := record(env.bus, "responder:bye")

			_, err := env.manager.Load(context.Background(), "responder")
			Expect(err).NotTo(HaveOccurred())
			Expect(env.manager.Unload(context.Background(), "responder")).To(BeTrue())

			Expect(*bye).To(HaveLen(1), "the unload hook still runs")

			env.bus.EmitCustom(context.Background(), "ping", "late")
			Expect(*pong).To(BeEmpty())
			Expect(env.bus.OwnerCount("responder")).To(BeZero())
		})
	})

	Context("with the shipped greeter plugin", func() {
		It("welcomes every plugin load", func() {
			env := startLuaHost("../../plugins")

			src, err := env.disc.SourceFor("greeter")
			Expect(err).NotTo(HaveOccurred())
			Expect(src).NotTo(BeNil())
			Expect(env.manager.RegisterSource(src)).To(Succeed())
			Expect(env.manager.RegisterSource(plugin.NewBuiltinSource(notes.New()))).To(Succeed())

			welcomed := record(env.bus, "greeter:welcomed")

			// Registration order is load order: greeter comes up first and
			// welcomes its own load announcement, then notes's.
			Expect(env.manager.LoadAll(context.Background())).To(Succeed())

			Expect(*welcomed).To(HaveLen(2))
			first, ok := (*welcomed)[0].(string)
			Expect(ok).To(BeTrue(), "script payloads cross the boundary as JSON")
			Expect(first).To(MatchJSON(`{"name": "greeter", "version": "1.0.0"}`))
			second, ok := (*welcomed)[1].(string)
			Expect(ok).To(BeTrue())
			Expect(second).To(MatchJSON(`{"name": "notes", "version": "1.0.0"}`))
		})
	})
})
