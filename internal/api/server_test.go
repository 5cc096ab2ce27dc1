// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cogbox/cogbox/internal/api"
	"github.com/cogbox/cogbox/internal/plugin"
	"github.com/cogbox/cogbox/pkg/envelope"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeManager implements api.Manager over an in-memory table.
type fakeManager struct {
	mu      sync.Mutex
	infos   map[string]plugin.Info
	loadErr map[string]error
}

func newFakeManager() *fakeManager {
	return &fakeManager{
		infos:   make(map[string]plugin.Info),
		loadErr: make(map[string]error),
	}
}

func (f *fakeManager) add(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infos[name] = plugin.Info{Name: name, Version: "1.0.0", State: plugin.StateLoaded.String()}
}

func (f *fakeManager) List() []plugin.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]plugin.Info, 0, len(f.infos))
	for _, info := range f.infos {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (f *fakeManager) Get(name string) (plugin.Info, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.infos[name]
	return info, ok
}

func (f *fakeManager) Load(_ context.Context, name string) (plugin.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadErr[name]; err != nil {
		return plugin.Info{}, err
	}
	info := plugin.Info{Name: name, Version: "1.0.0", State: plugin.StateLoaded.String()}
	f.infos[name] = info
	return info, nil
}

func (f *fakeManager) Unload(_ context.Context, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.infos[name]; !ok {
		return false
	}
	delete(f.infos, name)
	return true
}

func (f *fakeManager) Reload(ctx context.Context, name string) (plugin.Info, error) {
	f.Unload(ctx, name)
	return f.Load(ctx, name)
}

func newServer(t *testing.T, mgr api.Manager, opts ...api.Option) *api.Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]api.Option{api.WithLogger(log), api.WithVersion("1.2.3")}, opts...)
	return api.NewServer("127.0.0.1:0", mgr, opts...)
}

func doRequest(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, envelope.Envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return rec, env
}

func TestHealth(t *testing.T) {
	mgr := newFakeManager()
	mgr.add("notes")
	s := newServer(t, mgr)

	rec, env := doRequest(t, s.Handler(), http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	data := env.Data.(map[string]any)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "1.2.3", data["version"])
	assert.EqualValues(t, 1, data["plugins"])
}

func TestListPlugins(t *testing.T) {
	mgr := newFakeManager()
	mgr.add("notes")
	mgr.add("echo")
	s := newServer(t, mgr)

	rec, env := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/plugins/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	items := env.Data.([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "echo", items[0].(map[string]any)["name"])
	assert.Equal(t, "notes", items[1].(map[string]any)["name"])
}

func TestGetPlugin(t *testing.T) {
	mgr := newFakeManager()
	mgr.add("notes")
	s := newServer(t, mgr)

	rec, env := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/plugins/notes")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "notes", env.Data.(map[string]any)["name"])

	rec, env = doRequest(t, s.Handler(), http.MethodGet, "/api/v1/plugins/ghost")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, plugin.CodeNotFound, env.Code)
}

func TestLoadPlugin(t *testing.T) {
	t.Run("loads and returns info", func(t *testing.T) {
		mgr := newFakeManager()
		s := newServer(t, mgr)

		rec, env := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/plugins/notes/load")
		require.Equal(t, http.StatusOK, rec.Code)
		require.True(t, env.Success)
		assert.Equal(t, "notes", env.Data.(map[string]any)["name"])
	})

	t.Run("conflict when already loaded", func(t *testing.T) {
		mgr := newFakeManager()
		mgr.add("notes")
		s := newServer(t, mgr)

		rec, env := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/plugins/notes/load")
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, plugin.CodeValidation, env.Code)
	})

	t.Run("validation failure is a 400", func(t *testing.T) {
		mgr := newFakeManager()
		mgr.loadErr["bad"] = oops.Code(plugin.CodeValidation).Errorf("invalid manifest")
		s := newServer(t, mgr)

		rec, env := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/plugins/bad/load")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, plugin.CodeValidation, env.Code)
		assert.Contains(t, env.Error, "invalid manifest")
	})

	t.Run("unknown plugin is a 404", func(t *testing.T) {
		mgr := newFakeManager()
		mgr.loadErr["ghost"] = oops.Code(plugin.CodeNotFound).Errorf("no source for plugin")
		s := newServer(t, mgr)

		rec, env := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/plugins/ghost/load")
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, plugin.CodeNotFound, env.Code)
	})

	t.Run("load failure is a 500", func(t *testing.T) {
		mgr := newFakeManager()
		mgr.loadErr["broken"] = oops.Code(plugin.CodeLoad).Errorf("hook exploded")
		s := newServer(t, mgr)

		rec, env := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/plugins/broken/load")
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, plugin.CodeLoad, env.Code)
	})
}

func TestUnloadPlugin(t *testing.T) {
	mgr := newFakeManager()
	mgr.add("notes")
	s := newServer(t, mgr)

	rec, env := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/plugins/notes/unload")
	require.Equal(t, http.StatusOK, rec.Code)
	data := env.Data.(map[string]any)
	assert.Equal(t, "notes", data["name"])
	assert.Equal(t, true, data["unloaded"])

	rec, env = doRequest(t, s.Handler(), http.MethodPost, "/api/v1/plugins/notes/unload")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, plugin.CodeNotFound, env.Code)
}

func TestReloadPlugin(t *testing.T) {
	mgr := newFakeManager()
	mgr.add("notes")
	s := newServer(t, mgr)

	rec, env := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/plugins/notes/reload")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "notes", env.Data.(map[string]any)["name"])
}

func TestPanickingPluginRouteBecomesEnvelope500(t *testing.T) {
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler bug")
	})
	s := newServer(t, newFakeManager(), api.WithPluginRoutes(panicky))

	rec, env := doRequest(t, s.Handler(), http.MethodGet, "/plugins/broken/anything")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, envelope.CodeInternal, env.Code)
}

func TestServerStartStop(t *testing.T) {
	s := newServer(t, newFakeManager())

	errCh, err := s.Start()
	require.NoError(t, err)
	require.NotEmpty(t, s.Addr())

	_, startAgain := s.Start()
	require.Error(t, startAgain)

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	select {
	case serveErr, open := <-errCh:
		require.False(t, open, "unexpected serve error: %v", serveErr)
	case <-time.After(2 * time.Second):
		t.Fatal("error channel not closed after stop")
	}

	require.NoError(t, s.Stop(ctx))
}
