// Package main is the entry point for the labcontrol API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"labcontrol/internal/config"
	appctx "labcontrol/internal/core/context"
	"labcontrol/internal/core/tx"
	"labcontrol/internal/domain/lab"
	v1 "labcontrol/internal/infrastructure/http/v1"
	"labcontrol/internal/infrastructure/http/v1/handlers"
	"labcontrol/internal/infrastructure/metrics"
	"labcontrol/internal/infrastructure/storage"
	"labcontrol/internal/infrastructure/storage/labrepo"
	"labcontrol/internal/patch"
	"labcontrol/internal/schema"
	"labcontrol/pkg/logger"
)

var version = "dev"

func main() {
	cfg, err := config.Load(os.Getenv("LABCONTROL_CONFIG"))
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Development(),
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	ctx := appctx.WithTrace(context.Background(), appctx.NewTraceContext("", ""))
	log.Infow("starting labcontrol server", "version", version, "driver", cfg.Database.Driver)

	// --- Metrics ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	observer, err := metrics.NewTxObserver(registry)
	if err != nil {
		log.Fatalw("failed to register metrics", "error", err)
	}

	// --- Database ---
	store, err := storage.Open(ctx, cfg.Database, cfg.Transaction, tx.WithObserver(observer))
	if err != nil {
		log.Fatalw("failed to open database", "error", err)
	}
	defer store.Close()
	if err := metrics.RegisterConnStats(registry, store); err != nil {
		log.Fatalw("failed to register connection metrics", "error", err)
	}

	// --- Schema patches ---
	var source fs.FS
	if cfg.Patches.Dir != "" {
		source = os.DirFS(cfg.Patches.Dir)
	}
	runner, err := schema.NewRunner(source, store.Dialect)
	if err != nil {
		log.Fatalw("failed to load patches", "error", err)
	}
	if cfg.Patches.AutoApply {
		if err := applyPatches(ctx, store, runner); err != nil {
			log.Fatalw("failed to apply patches", "error", err)
		}
	}

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		NewTransaction: store.NewTransaction,
		Logger:         log,
		Lab:            lab.NewService(labrepo.New(store.Dialect)),
		Patches:        runner,
		Metrics:        metrics.Handler(registry),
		Info: handlers.AppInfo{
			Name:    "labcontrol",
			Version: version,
			Driver:  store.Dialect.Name,
		},
	})

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	statsCtx, stopStats := context.WithCancel(ctx)
	defer stopStats()
	go logPoolStats(statsCtx, store, 5*time.Minute)

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}

// applyPatches brings the schema up to date before traffic is accepted.
func applyPatches(ctx context.Context, store *storage.Store, runner *patch.Runner) error {
	t := store.NewTransaction()
	defer func() { _ = t.Close(ctx) }()

	applied, err := runner.Apply(ctx, t)
	if err != nil {
		return err
	}
	if len(applied) > 0 {
		logger.Info(ctx, "schema patched", "applied", applied)
	}
	return nil
}

func logPoolStats(ctx context.Context, store *storage.Store, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.LogStats(ctx)
		}
	}
}
