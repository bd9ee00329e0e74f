package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/convoflowhq/convoflow/internal/actions"
	"github.com/convoflowhq/convoflow/internal/config"
	"github.com/convoflowhq/convoflow/internal/generation"
	"github.com/convoflowhq/convoflow/internal/httpapi"
	"github.com/convoflowhq/convoflow/internal/kv"
	"github.com/convoflowhq/convoflow/internal/orchestrator"
	"github.com/convoflowhq/convoflow/internal/queue"
	"github.com/convoflowhq/convoflow/internal/registry"
	"github.com/convoflowhq/convoflow/internal/store"
	"github.com/convoflowhq/convoflow/internal/store/lite"
	"github.com/convoflowhq/convoflow/internal/store/pg"
	"github.com/convoflowhq/convoflow/internal/tracing"
	"github.com/convoflowhq/convoflow/internal/window"
	"github.com/convoflowhq/convoflow/internal/workflow"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
	log := slog.Default()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, log, cfg.Telemetry)
	if err != nil {
		log.Warn("telemetry init failed, continuing without export", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	// Persistence: Postgres in managed mode, SQLite standalone. The window
	// coordination keys live in Postgres alongside the data in managed mode
	// so claims survive restarts; standalone keeps them in memory.
	var (
		stores  *store.Stores
		kvStore kv.Store
	)
	if cfg.IsManagedMode() {
		db, err := pg.OpenDB(cfg.Database.PostgresDSN)
		if err != nil {
			log.Error("failed to open postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		stores = pg.NewStores(db)
		kvStore = kv.NewPG(db)
		log.Info("managed mode: postgres storage")
	} else {
		db, err := lite.Open(cfg.SQLiteFile())
		if err != nil {
			log.Error("failed to open sqlite database", "path", cfg.SQLiteFile(), "error", err)
			os.Exit(1)
		}
		defer db.Close()
		stores = lite.NewStores(db)
		kvStore = kv.NewMemory()
		log.Info("standalone mode: sqlite storage", "path", cfg.SQLiteFile())
	}

	win := window.New(kvStore, windowConfig(cfg.Window))

	genClient := generation.NewOpenAIClient("openai", cfg.Model.APIKey, cfg.Model.APIBase, cfg.Model.Model)
	gen := generation.NewService(genClient, cfg.ModelTiers())

	replier := actions.NewReplier(log)
	alerter := actions.NewAlerter(log)
	if cfg.Alerts.TelegramToken != "" {
		if err := alerter.WithTelegram(cfg.Alerts.TelegramToken); err != nil {
			log.Warn("telegram alert bot unavailable", "error", err)
		}
	}
	if cfg.Alerts.DiscordToken != "" {
		if err := alerter.WithDiscord(cfg.Alerts.DiscordToken); err != nil {
			log.Warn("discord alert bot unavailable", "error", err)
		}
	}
	caller := actions.NewCaller(log)

	engine := workflow.NewEngine(log, stores, gen, replier, alerter, caller)
	flows := workflow.NewRegistry(engine)

	ingestPool := queue.NewPool("ingest", log, cfg.Pools.Ingest.Workers, cfg.Pools.Ingest.PerSecond)
	flowPool := queue.NewPool("flow", log, cfg.Pools.Flow.Workers, cfg.Pools.Flow.PerSecond)

	reg := registry.New(log)
	orch := orchestrator.New(log, stores, win, gen, reg, flows, ingestPool, flowPool)

	sweeper := queue.NewSweeper(log, cfg.Sweep.Schedule, ingestPool, flowPool)
	sweeper.AddTask(kvStore.Sweep)
	go sweeper.Run(ctx)

	// Hot-reload: pool rates follow the config file without a restart.
	go func() {
		err := config.Watch(ctx, log, cfgPath, func(fresh *config.Config) {
			ingestPool.SetRate(fresh.Pools.Ingest.PerSecond)
			flowPool.SetRate(fresh.Pools.Flow.PerSecond)
		})
		if err != nil {
			log.Warn("config watcher unavailable", "error", err)
		}
	}()

	srv := httpapi.NewServer(log, cfg.Addr(), orch, stores, reg)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			log.Error("server failed", "error", err)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown incomplete", "error", err)
	}

	// Let in-flight turns finish so sessions are not left mid-stage.
	ingestPool.Wait()
	flowPool.Wait()

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("telemetry shutdown incomplete", "error", err)
	}
	log.Info("goodbye")
	return nil
}

func windowConfig(wc config.WindowConfig) window.Config {
	cfg := window.DefaultConfig()
	if wc.SessionWindowTTLSec > 0 {
		cfg.SessionWindowTTL = time.Duration(wc.SessionWindowTTLSec) * time.Second
	}
	if wc.ColdWindowTTLSec > 0 {
		cfg.ColdWindowTTL = time.Duration(wc.ColdWindowTTLSec) * time.Second
	}
	if wc.SessionSleepSec > 0 {
		cfg.SessionSleep = time.Duration(wc.SessionSleepSec) * time.Second
	}
	if wc.ColdSleepSec > 0 {
		cfg.ColdSleep = time.Duration(wc.ColdSleepSec) * time.Second
	}
	return cfg
}
