// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cogbox Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/cogbox/cogbox/internal/api"
	"github.com/cogbox/cogbox/internal/bus"
	"github.com/cogbox/cogbox/internal/config"
	"github.com/cogbox/cogbox/internal/gateway"
	"github.com/cogbox/cogbox/internal/logging"
	"github.com/cogbox/cogbox/internal/observability"
	"github.com/cogbox/cogbox/internal/plugin"
	"github.com/cogbox/cogbox/internal/plugin/lua"
	"github.com/cogbox/cogbox/internal/realtime"
	"github.com/cogbox/cogbox/pkg/errutil"
	pluginpkg "github.com/cogbox/cogbox/pkg/plugin"
	"github.com/cogbox/cogbox/plugins/echo"
	"github.com/cogbox/cogbox/plugins/notes"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the cogbox host",
		Long: `Start the cogbox host: connect the chat gateway, load plugins,
and serve the HTTP API until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, cmd)
		},
	}

	// Flag names map onto config keys with dashes read as dots, so
	// "--http-addr" sets http.addr. Defaults here mirror config.Defaults;
	// only explicitly set flags override file values.
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "text", "log format (text or json)")
	cmd.Flags().String("http-addr", ":8080", "host API listen address")
	cmd.Flags().String("observability-addr", ":9090", "metrics and health listen address")
	cmd.Flags().String("plugins-dir", "./plugins", "directory scanned for plugin manifests")
	cmd.Flags().String("plugins-debug", "", "comma-separated plugin name patterns granted debug logging")
	cmd.Flags().Bool("plugins-watch", false, "reload plugins when their directories change")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, cmd *cobra.Command) error {
	logging.SetDefault("cogbox", version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))
	log := slog.Default()

	log.Info("starting cogbox host",
		"version", version,
		"http_addr", cfg.HTTP.Addr,
		"plugins_enabled", cfg.Plugins.Enabled)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b := bus.New(bus.WithLogger(log))
	mounter := plugin.NewMounter(plugin.WithMounterLogger(log))

	var hub *realtime.Hub
	if cfg.Realtime.Enabled {
		hub = realtime.New(realtime.WithLogger(log))
		defer hub.Close()
	}

	gw := gateway.New(b, gateway.DialLoopback(gateway.NewLoopback()),
		gateway.WithLogger(log),
		gateway.WithSendTimeout(cfg.Gateway.SendTimeout))
	if err := gw.Start(ctx); err != nil {
		return oops.Wrapf(err, "starting gateway")
	}
	defer gw.Stop()

	services := plugin.Services{
		Gateway: gw,
		Host: pluginpkg.HostConfig{
			Version:    version,
			Debug:      len(cfg.DebugPatterns()) > 0,
			HTTPAddr:   cfg.HTTP.Addr,
			PluginsDir: cfg.Plugins.Dir,
		},
	}
	// Assign through the nil check so a disabled hub stays a nil interface.
	if hub != nil {
		services.Realtime = hub
	}

	mgr := plugin.NewManager(b, mounter,
		plugin.WithManagerLogger(log),
		plugin.WithServices(services),
		plugin.WithDebugMatcher(plugin.CompileNameMatcher(cfg.DebugPatterns(), log)))

	var disc *plugin.Discovery
	if cfg.Plugins.Enabled {
		for _, def := range []*pluginpkg.Definition{notes.New(), echo.New()} {
			if err := mgr.RegisterSource(plugin.NewBuiltinSource(def)); err != nil {
				return oops.Wrapf(err, "registering builtin plugin")
			}
		}

		disc = plugin.NewDiscovery(cfg.Plugins.Dir, version,
			plugin.WithDiscoveryLogger(log),
			plugin.WithSourceFactory(plugin.TypeLua, lua.Factory(lua.NewStateFactory(), log)),
			plugin.WithSourceFactory(plugin.TypeBinary, plugin.SharedObjectFactory))

		sources, err := disc.Sources()
		if err != nil {
			return oops.Wrapf(err, "scanning plugins directory")
		}
		for _, src := range sources {
			if err := mgr.RegisterSource(src); err != nil {
				errutil.LogError(log, "skipping discovered plugin", err)
			}
		}
	}

	var ready atomic.Bool

	apiOpts := []api.Option{
		api.WithLogger(log),
		api.WithVersion(version),
		api.WithPluginRoutes(mounter.Routes()),
	}
	if hub != nil {
		apiOpts = append(apiOpts, api.WithRealtime(hub))
	}
	apiServer := api.NewServer(cfg.HTTP.Addr, mgr, apiOpts...)

	apiErrCh, err := apiServer.Start()
	if err != nil {
		return oops.Wrapf(err, "starting api server")
	}
	go monitorServerErrors(ctx, cancel, apiErrCh, "api")

	var obsServer *observability.Server
	if cfg.Observability.Enabled {
		obsServer = observability.NewServer(cfg.Observability.Addr, ready.Load,
			observability.WithLogger(log))
		registerMetrics(obsServer.Registry())

		obsErrCh, obsErr := obsServer.Start()
		if obsErr != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if stopErr := apiServer.Stop(stopCtx); stopErr != nil {
				errutil.LogError(log, "failed to stop api server", stopErr)
			}
			return oops.Wrapf(obsErr, "starting observability server")
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	var watcher *plugin.Watcher
	if cfg.Plugins.Enabled {
		if err := mgr.LoadAll(ctx); err != nil {
			// Individual plugin failures are logged and skipped inside
			// LoadAll; an error here means the pass itself never ran.
			errutil.LogError(log, "plugin load pass failed", err)
		}
		if cfg.Plugins.Watch && disc != nil {
			watcher = plugin.NewWatcher(mgr, disc, plugin.WithWatchLogger(log))
			if err := watcher.Start(); err != nil {
				errutil.LogError(log, "plugin watcher failed to start", err)
				watcher = nil
			}
		}
	}

	ready.Store(true)
	log.Info("cogbox host ready", "addr", apiServer.Addr(), "plugins", mgr.Count())
	cmd.Println("Cogbox host started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		log.Info("context cancelled, shutting down")
	}

	ready.Store(false)
	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if watcher != nil {
		watcher.Stop()
	}
	if err := apiServer.Stop(shutdownCtx); err != nil {
		errutil.LogError(log, "failed to stop api server", err)
	}
	mgr.UnloadAll(shutdownCtx)
	gw.Stop()
	if hub != nil {
		hub.Close()
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			errutil.LogError(log, "failed to stop observability server", err)
		}
	}

	log.Info("shutdown complete")
	return nil
}

// registerMetrics hooks every subsystem's collectors into the shared registry.
func registerMetrics(reg *prometheus.Registry) {
	bus.RegisterMetrics(reg)
	plugin.RegisterMetrics(reg)
	api.RegisterMetrics(reg)
	realtime.RegisterMetrics(reg)
	gateway.RegisterMetrics(reg)
}

// monitorServerErrors watches a server's error channel and triggers host
// shutdown when the server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			slog.Error("server failed", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
