// Package main is the entry point for spaced, the space-management daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/nugget/spaced/internal/broadcast"
	"github.com/nugget/spaced/internal/buildinfo"
	"github.com/nugget/spaced/internal/config"
	"github.com/nugget/spaced/internal/connwatch"
	"github.com/nugget/spaced/internal/dispatcher"
	"github.com/nugget/spaced/internal/eventqueue"
	"github.com/nugget/spaced/internal/gate"
	"github.com/nugget/spaced/internal/helper"
	"github.com/nugget/spaced/internal/model"
	"github.com/nugget/spaced/internal/mutation"
	"github.com/nugget/spaced/internal/rebindcache"
	"github.com/nugget/spaced/internal/rpc"
	"github.com/nugget/spaced/internal/sources"
	"github.com/nugget/spaced/internal/webui"
	"github.com/nugget/spaced/internal/wsdk"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := newBootstrapLogger()

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(logger, *configPath)
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
		return
	}

	fmt.Println("spaced - macOS space and window management daemon")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Start the daemon")
	fmt.Println("  version  Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

// newBootstrapLogger picks a handler before config is loaded: text on a
// TTY, JSON when output is redirected to a file or another process (the
// common case for a launchd-managed daemon). Reconfigured once the
// config's log_level is known, in runServe.
func newBootstrapLogger() *slog.Logger {
	return newLogger(os.Stdout, slog.LevelInfo)
}

func newLogger(w *os.File, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: config.ReplaceLogLevelNames}
	if isatty.IsTerminal(w.Fd()) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func runServe(logger *slog.Logger, configPath string) {
	logger.Info("starting spaced", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = newLogger(os.Stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"rpc_socket", cfg.RPC.SocketPath,
		"helper_socket", cfg.Helper.SocketPath,
		"data_dir", cfg.DataDir,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	// Core state and plumbing. Exactly one of each per daemon (spec §5).
	m := model.New()
	queue := eventqueue.New(4096, logger)
	bus := broadcast.New()

	// internal/wsdk, internal/sources's AXFuncs/WorkspaceFuncs, and
	// internal/gate.Funcs are all optional-function-pointer tables
	// resolved against the running OS's private frameworks. The
	// platform* functions (platform.go) are
	// the sole place that performs that resolution; main only wires the
	// result through.
	sdk := wsdk.New(platformWSDKFuncs())
	axFuncs := platformAXFuncs()
	wsFuncs := platformWorkspaceFuncs()
	gateFuncs := platformGateFuncs()

	// Helper side-channel client and liveness watcher (spec §6.4, §7).
	hc := helper.NewClient(cfg.Helper.SocketPath, logger)
	watchMgr := connwatch.NewManager(logger)
	helperWatch := watchMgr.Watch(context.Background(), connwatch.WatcherConfig{
		Name: "helper",
		Probe: func(ctx context.Context) error {
			dctx, cancel := context.WithTimeout(ctx, cfg.Helper.DialTimeout)
			defer cancel()
			return hc.Dial(dctx)
		},
		Backoff: connwatch.DefaultBackoffConfig(),
		OnReady: func() { logger.Info("helper connected") },
		OnDown:  func(err error) { logger.Warn("helper unreachable", "error", err) },
	})

	g := gate.New(gateFuncs, sdk, hc, helperWatch)
	if cfg.Capability.RequireAccessibilityTrust && !g.Snapshot(context.Background()).AccessibilityTrusted {
		logger.Error("accessibility permission not granted and capability.require_accessibility_trust is set")
		os.Exit(1)
	}

	obs := sources.NewAppObserver(axFuncs, queue, logger, 0)
	wsSource := sources.NewWindowServerSource(sdk, queue, logger)
	workspaceSource := sources.NewWorkspaceSource(wsFuncs, queue, logger)
	reconcileSource := sources.NewReconcileSource(queue, cfg.Reconcile.Interval, logger)

	disp := dispatcher.New(m, queue, sdk, axFuncs, obs, bus, logger)

	rebindStore, err := rebindcache.Open(cfg.DataDir + "/rebind.db")
	if err != nil {
		logger.Error("failed to open rebind cache", "error", err)
		os.Exit(1)
	}
	defer rebindStore.Close()
	disp.SetRebindCache(rebindStore)

	exec := mutation.New(m, sdk, hc, axFuncs, g, queue, cfg.Mutation)

	rpcServer := rpc.New(cfg.RPC, queue, exec, bus, logger)
	rpc.RegisterReadMethods(disp, rpc.ServerInfo{
		Name:                  "spaced",
		Version:               buildinfo.Version,
		Platform:              "darwin",
		SupportsSpaces:        true,
		SupportsWindows:       true,
		SupportsEvents:        true,
		SupportsStateTracking: true,
	})

	if err := rpcServer.Listen(); err != nil {
		logger.Error("failed to start RPC gateway", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go disp.Run(ctx)
	wsSource.Subscribe(platformNotifyCodes(g))
	workspaceSource.Start()
	go reconcileSource.Run(ctx)

	var debugServer *webui.Server
	if cfg.Debug.Enabled {
		debugServer = webui.New(webui.Config{
			Address:    cfg.Debug.Address,
			Bus:        bus,
			QueueDepth: queue.Depth,
			Logger:     logger,
			Dump:       dumpFunc(queue),
		})
		go func() {
			if err := debugServer.Serve(ctx); err != nil {
				logger.Error("debug dashboard stopped", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	shutdownOnce := func() {
		shutdown(logger, rpcServer, disp, workspaceSource, wsSource, obs, watchMgr, hc, cancel)
	}

	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		shutdownOnce()
	}()

	if err := rpcServer.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("RPC gateway failed", "error", err)
		shutdownOnce()
	}

	<-ctx.Done()
	logger.Info("spaced stopped")
}

// shutdown performs the sequence spec §5 requires: stop accepting new
// clients, close every client socket, drain and stop the dispatcher,
// unregister every OS callback, close the helper socket.
func shutdown(logger *slog.Logger, rpcServer *rpc.Server, disp *dispatcher.Dispatcher, workspaceSource *sources.WorkspaceSource, wsSource *sources.WindowServerSource, obs *sources.AppObserver, watchMgr *connwatch.Manager, hc *helper.Client, cancel context.CancelFunc) {
	rpcServer.Stop()
	disp.Stop()
	workspaceSource.Stop()
	wsSource.Stop()
	obs.StopAll()
	watchMgr.Stop()
	if err := hc.Close(); err != nil {
		logger.Warn("helper socket close", "error", err)
	}
	cancel()
}

// dumpFunc wraps the "dump" method's request/reply round trip so the
// debug dashboard reads the model through the same path a real RPC client
// would, never touching internal/model directly.
func dumpFunc(queue *eventqueue.Queue) webui.DumpFunc {
	return func(ctx context.Context) (any, error) {
		reply := make(chan any, 1)
		queue.Post(eventqueue.Event{
			Kind: eventqueue.KindClientRequest,
			Request: eventqueue.ClientRequestBody{
				Method: "dump",
				Reply:  reply,
			},
		})
		select {
		case v := <-reply:
			rr, ok := v.(dispatcher.RequestResult)
			if !ok {
				return nil, errors.New("spaced: malformed dispatcher reply")
			}
			return rr.Value, rr.Err
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return nil, errors.New("spaced: dump request timed out")
		}
	}
}
