// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/cogbox/cogbox/internal/api"
	"github.com/cogbox/cogbox/internal/bus"
	"github.com/cogbox/cogbox/internal/gateway"
	"github.com/cogbox/cogbox/internal/plugin"
	"github.com/cogbox/cogbox/internal/realtime"
	"github.com/cogbox/cogbox/pkg/envelope"
	pluginpkg "github.com/cogbox/cogbox/pkg/plugin"
	"github.com/cogbox/cogbox/plugins/echo"
	"github.com/cogbox/cogbox/plugins/notes"
)

// hostEnv assembles the full host wiring the serve command builds, on
// ephemeral ports and with a loopback chat connection.
type hostEnv struct {
	bus      *bus.Bus
	mounter  *plugin.Mounter
	manager  *plugin.Manager
	gateway  *gateway.Gateway
	loopback *gateway.Loopback
	hub      *realtime.Hub
	server   *api.Server
	baseURL  string
	cancel   context.CancelFunc
}

func startHost() (*hostEnv, error) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())

	env := &hostEnv{cancel: cancel}
	env.bus = bus.New(bus.WithLogger(log))
	env.mounter = plugin.NewMounter(plugin.WithMounterLogger(log))
	env.hub = realtime.New(realtime.WithLogger(log))

	env.loopback = gateway.NewLoopback()
	env.gateway = gateway.New(env.bus, gateway.DialLoopback(env.loopback), gateway.WithLogger(log))
	if err := env.gateway.Start(ctx); err != nil {
		cancel()
		return nil, err
	}

	env.manager = plugin.NewManager(env.bus, env.mounter,
		plugin.WithManagerLogger(log),
		plugin.WithServices(plugin.Services{
			Gateway:  env.gateway,
			Realtime: env.hub,
			Host:     pluginpkg.HostConfig{Version: "1.0.0", HTTPAddr: "127.0.0.1:0"},
		}))

	env.server = api.NewServer("127.0.0.1:0", env.manager,
		api.WithLogger(log),
		api.WithVersion("1.0.0"),
		api.WithPluginRoutes(env.mounter.Routes()),
		api.WithRealtime(env.hub))
	if _, err := env.server.Start(); err != nil {
		env.gateway.Stop()
		cancel()
		return nil, err
	}
	env.baseURL = "http://" + env.server.Addr()
	return env, nil
}

func (e *hostEnv) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = e.server.Stop(shutdownCtx)
	e.manager.UnloadAll(shutdownCtx)
	e.gateway.Stop()
	e.hub.Close()
	e.cancel()
}

func getJSON(url string) (int, envelope.Envelope, error) {
	resp, err := http.Get(url) //nolint:gosec // test URL
	if err != nil {
		return 0, envelope.Envelope{}, err
	}
	defer resp.Body.Close()

	var env envelope.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return resp.StatusCode, envelope.Envelope{}, err
	}
	return resp.StatusCode, env, nil
}

func postJSON(url string, body any) (int, envelope.Envelope, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, envelope.Envelope{}, err
		}
	}
	resp, err := http.Post(url, "application/json", &buf) //nolint:gosec // test URL
	if err != nil {
		return 0, envelope.Envelope{}, err
	}
	defer resp.Body.Close()

	var env envelope.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return resp.StatusCode, envelope.Envelope{}, err
	}
	return resp.StatusCode, env, nil
}

var _ = Describe("Plugin host", func() {
	var env *hostEnv

	BeforeEach(func() {
		var err error
		env, err = startHost()
		Expect(err).NotTo(HaveOccurred())

		Expect(env.manager.RegisterSource(plugin.NewBuiltinSource(notes.New()))).To(Succeed())
		Expect(env.manager.RegisterSource(plugin.NewBuiltinSource(echo.New()))).To(Succeed())
		Expect(env.manager.LoadAll(context.Background())).To(Succeed())
	})

	AfterEach(func() {
		env.stop()
	})

	It("reports healthy with loaded plugins", func() {
		code, resp, err := getJSON(env.baseURL + "/healthz")
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(http.StatusOK))
		Expect(resp.Success).To(BeTrue())

		data, ok := resp.Data.(map[string]any)
		Expect(ok).To(BeTrue())
		Expect(data["status"]).To(Equal("ok"))
		Expect(data["plugins"]).To(BeEquivalentTo(2))
	})

	It("serves plugin routes under their namespace", func() {
		code, resp, err := postJSON(env.baseURL+"/plugins/notes/", map[string]string{"text": "first note"})
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(http.StatusCreated))
		Expect(resp.Success).To(BeTrue())

		code, resp, err = getJSON(env.baseURL + "/plugins/notes/")
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(http.StatusOK))
		list, ok := resp.Data.([]any)
		Expect(ok).To(BeTrue())
		Expect(list).To(HaveLen(1))
	})

	It("lists and inspects plugins through the management API", func() {
		code, resp, err := getJSON(env.baseURL + "/api/v1/plugins/")
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(http.StatusOK))

		list, ok := resp.Data.([]any)
		Expect(ok).To(BeTrue())
		Expect(list).To(HaveLen(2))

		code, resp, err = getJSON(env.baseURL + "/api/v1/plugins/echo")
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(http.StatusOK))
		info, ok := resp.Data.(map[string]any)
		Expect(ok).To(BeTrue())
		Expect(info["name"]).To(Equal("echo"))
		Expect(info["state"]).To(Equal("loaded"))
	})

	It("round-trips chat through the gateway and the echo plugin", func() {
		env.loopback.Inject(gateway.Event{
			Kind: pluginpkg.EventMessageCreated,
			Message: &pluginpkg.Message{
				ID:        "m1",
				ChannelID: "c1",
				Author:    "tester",
				Content:   "!echo hello there",
			},
		})

		Eventually(env.loopback.Sent, 3*time.Second, 20*time.Millisecond).Should(
			ContainElement(gateway.SentMessage{ChannelID: "c1", Content: "hello there"}))
	})

	It("pushes plugin events to websocket subscribers", func() {
		wsURL := "ws" + env.baseURL[len("http"):] + "/ws"
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		Expect(err).NotTo(HaveOccurred())
		if resp != nil {
			resp.Body.Close()
		}
		defer conn.Close()

		// The hub registers the client asynchronously; give it a beat.
		Eventually(env.hub.Clients, 3*time.Second, 20*time.Millisecond).Should(Equal(1))

		_, _, err = postJSON(env.baseURL+"/plugins/notes/", map[string]string{"text": "broadcast me"})
		Expect(err).NotTo(HaveOccurred())

		Expect(conn.SetReadDeadline(time.Now().Add(3 * time.Second))).To(Succeed())
		_, frame, err := conn.ReadMessage()
		Expect(err).NotTo(HaveOccurred())

		var pushed struct {
			Topic   string         `json:"topic"`
			Payload map[string]any `json:"payload"`
		}
		Expect(json.Unmarshal(frame, &pushed)).To(Succeed())
		Expect(pushed.Topic).To(Equal(notes.EventCreated))
		Expect(pushed.Payload["text"]).To(Equal("broadcast me"))
	})

	It("unloads a plugin and goes dark everywhere", func() {
		var unloaded []string
		_, err := env.bus.OnPlugin(pluginpkg.EventUnloaded, func(_ context.Context, evt pluginpkg.Event) error {
			if p, ok := evt.Payload.(pluginpkg.UnloadedPayload); ok {
				unloaded = append(unloaded, p.Name)
			}
			return nil
		})
		Expect(err).NotTo(HaveOccurred())

		code, resp, err := postJSON(env.baseURL+"/api/v1/plugins/notes/unload", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(http.StatusOK))
		Expect(resp.Success).To(BeTrue())

		Expect(unloaded).To(Equal([]string{"notes"}))
		Expect(env.bus.OwnerCount("notes")).To(BeZero())

		code, _, err = getJSON(env.baseURL + "/plugins/notes/")
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(http.StatusNotFound))

		code, _, err = getJSON(env.baseURL + "/api/v1/plugins/notes")
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(http.StatusNotFound))
	})

	It("reloads a plugin with fresh state", func() {
		_, _, err := postJSON(env.baseURL+"/plugins/notes/", map[string]string{"text": "pre-reload"})
		Expect(err).NotTo(HaveOccurred())

		code, resp, err := postJSON(env.baseURL+"/api/v1/plugins/notes/reload", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(http.StatusOK))
		Expect(resp.Success).To(BeTrue())

		code, resp, err = getJSON(env.baseURL + "/plugins/notes/")
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(http.StatusOK))
		list, ok := resp.Data.([]any)
		Expect(ok).To(BeTrue())
		Expect(list).To(BeEmpty(), "note state does not survive a reload")
	})
})
