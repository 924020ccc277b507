package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gridwarden.ai/internal/config"
	"gridwarden.ai/internal/persistence/archive"
	"gridwarden.ai/internal/persistence/eventlog"
	"gridwarden.ai/internal/protocol"
	"gridwarden.ai/internal/sim/kernel"
	"gridwarden.ai/internal/sim/replay"
	"gridwarden.ai/internal/sim/rng"
	"gridwarden.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		worldID    = flag.String("world", "", "world id (overrides config)")
		seed       = flag.Uint64("seed", 0, "genesis seed (used only when starting a fresh world)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
		snapPath   = flag.String("snapshot", "", "path to snapshot to resume from (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "resume from the latest indexed snapshot (when -snapshot is empty)")
		maxTicks   = flag.Uint64("max_ticks", 0, "stop after this tick (0 = run until signalled)")
	)
	flag.Parse()

	cfg, err := config.LoadKernel(filepath.Join(*configDir, "kernel.yaml"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *worldID != "" {
		cfg.WorldID = *worldID
	}
	if *seed != 0 {
		cfg.GenesisSeed = *seed
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *maxTicks != 0 {
		cfg.MaxTicks = *maxTicks
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	tune, err := config.LoadTuning(filepath.Join(*configDir, "tuning.yaml"))
	if err != nil {
		logger.Error("load tuning", "err", err)
		os.Exit(1)
	}
	laws, err := config.LoadLaws(filepath.Join(*configDir, "laws.yaml"))
	if err != nil {
		logger.Error("load laws", "err", err)
		os.Exit(1)
	}

	worldDir := filepath.Join(cfg.DataDir, "worlds", cfg.WorldID)
	snapshotDir := filepath.Join(worldDir, "snapshots")
	for _, dir := range []string{worldDir, snapshotDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("mkdir", "dir", dir, "err", err)
			os.Exit(1)
		}
	}

	store, err := eventlog.Open(filepath.Join(worldDir, "events.db"))
	if err != nil {
		logger.Error("open event log", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	k, err := openKernel(store, cfg, tune, laws, *snapPath, *loadLatest, snapshotDir, logger)
	if err != nil {
		logger.Error("start kernel", "err", err)
		os.Exit(1)
	}

	obsLog := archive.NewObservationLog(worldDir)
	drawLog := archive.NewDrawLog(worldDir)
	defer obsLog.Close()
	defer drawLog.Close()

	wsrv := ws.NewServer(k, store, logger)
	k.SetObservationSink(func(tick uint64, obs []protocol.ObservationEvent) {
		wsrv.Broadcast(tick, obs)
		if err := obsLog.WriteBatch(tick, obs); err != nil {
			logger.Warn("observation archive", "tick", tick, "err", err)
		}
	})
	k.SetDrawSink(func(recs []rng.DrawRecord) {
		if err := drawLog.WriteDraws(recs); err != nil {
			logger.Warn("draw archive", "err", err)
		}
	})

	ctx, cancel := signalContext()
	defer cancel()

	kernelDone := make(chan struct{})
	go func() {
		defer close(kernelDone)
		every := time.Duration(cfg.TickEveryMs) * time.Millisecond
		if err := k.Run(ctx, every, cfg.MaxTicks); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("kernel stopped", "err", err)
		}
		cancel()
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if k.Halted() != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_, _ = rw.Write([]byte("halted"))
			return
		}
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/statusz", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(k.Status())
	})
	mux.HandleFunc("/v1/ws", wsrv.Handler())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info("listening", "addr", cfg.Addr, "world", cfg.WorldID, "tick", k.Status().Tick)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("serve", "err", err)
		os.Exit(1)
	}

	<-kernelDone
	if k.Halted() == nil {
		if path, err := k.Snapshot(); err != nil {
			logger.Warn("final snapshot", "err", err)
		} else {
			logger.Info("final snapshot written", "path", filepath.Base(path))
		}
	}
}

// openKernel starts a fresh world on an empty log, resumes from a snapshot
// at the chain tip, or catches up by verified replay when the newest
// snapshot trails the stored checkpoints.
func openKernel(store *eventlog.Store, cfg config.Kernel, tune config.Tuning, laws config.LawSet, snapPath string, loadLatest bool, snapshotDir string, logger *slog.Logger) (*kernel.Kernel, error) {
	last, ok, err := store.LastCheckpoint()
	if err != nil {
		return nil, err
	}
	if !ok {
		return kernel.Boot(store, cfg.WorldID, cfg.GenesisSeed, tune, laws, snapshotDir, logger)
	}

	if snapPath == "" && loadLatest {
		tick, path, found, err := store.LatestSnapshot()
		if err != nil {
			return nil, err
		}
		if found {
			if tick == last.Tick {
				return kernel.Resume(store, cfg.WorldID, path, snapshotDir, logger)
			}
			snapPath = path
		}
	}

	var h *replay.Harness
	if snapPath != "" {
		h, err = replay.FromSnapshot(store, cfg.WorldID, snapPath, logger)
	} else {
		h, err = replay.FromGenesis(store, cfg.WorldID, tune, laws, logger)
	}
	if err != nil {
		return nil, err
	}
	rep, err := h.Verify(last.Tick)
	if err != nil {
		return nil, err
	}
	if !rep.OK {
		return nil, fmt.Errorf("refusing to serve a divergent history:\n%s", rep)
	}
	logger.Info("caught up by replay", "ticks", rep.Checked, "events", rep.Events)
	return kernel.New(store, h.Stepper(), cfg.WorldID, snapshotDir, logger), nil
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
