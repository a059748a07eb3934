// Package main provides the casegraph HTTP server: timeline queries, the
// workflow runner and the scheduled enrichment refresh.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/casegraph/internal/api"
	"github.com/raphaelgruber/casegraph/internal/cache"
	"github.com/raphaelgruber/casegraph/internal/config"
	"github.com/raphaelgruber/casegraph/internal/db"
	"github.com/raphaelgruber/casegraph/internal/llm"
	"github.com/raphaelgruber/casegraph/internal/metrics"
	"github.com/raphaelgruber/casegraph/internal/phases"
	"github.com/raphaelgruber/casegraph/internal/scheduler"
	"github.com/raphaelgruber/casegraph/internal/timeline"
	"github.com/raphaelgruber/casegraph/internal/workflow"
)

const version = "0.1.0"

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	cfg := config.Load()

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel, "casegraph-server")
	defer cleanup()

	if err := run(cfg, logger, *wipeDB || os.Getenv("CASEGRAPH_WIPE_DB") == "true"); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger, wipe bool) error {
	logger.Info("starting casegraph-server",
		"version", version,
		"addr", cfg.ServerAddr,
		"surrealdb_url", cfg.SurrealDBURL,
		"llm_provider", cfg.LLMProvider,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shutdownTelemetry, err := config.SetupTelemetry(ctx, cfg.OTLPEndpoint, version)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	collector := metrics.NewCollector()

	dbClient, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger, db.WithCollector(collector))
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("closing database connection")
		_ = dbClient.Close(context.Background())
	}()

	if wipe {
		if err := dbClient.WipeData(ctx); err != nil {
			return err
		}
	}
	if err := dbClient.InitSchema(ctx); err != nil {
		return err
	}

	var graph cache.Backend = dbClient
	if cfg.RedisURL != "" {
		rdb, err := cache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		graph = cache.NewGraph(dbClient, rdb, cache.WithTTL(cfg.CacheTTL), cache.WithLogger(logger))
		logger.Info("graph cache enabled", "ttl", cfg.CacheTTL)
	}

	timelines, err := timeline.NewService(dbClient, graph,
		timeline.WithCollector(collector),
		timeline.WithLogger(logger),
		timeline.WithEnricherOptions(
			timeline.WithParallelism(cfg.EnrichParallelism),
			timeline.WithEnricherLogger(logger),
		),
	)
	if err != nil {
		return err
	}

	deps := phases.Deps{Timeline: timelines, Logger: logger}
	if cfg.LLMProvider != config.ProviderNone {
		model, err := llm.NewModel(ctx, cfg, llm.WithCollector(collector))
		if err != nil {
			return err
		}
		deps.Model = model
		logger.Info("language model initialized", "model", model.Model())
	}

	plan, err := config.LoadPlan(cfg.PlanFile)
	if err != nil {
		return err
	}

	registry := workflow.NewRegistry()
	if err := phases.New(deps).Register(registry); err != nil {
		return err
	}

	runner := workflow.NewRunner(dbClient, registry,
		workflow.WithGraphWriter(graph),
		workflow.WithCollector(collector),
		workflow.WithPollInterval(cfg.PollInterval),
		workflow.WithDefaultPhases(plan),
		workflow.WithLogger(logger),
	)
	if err := runner.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := runner.Shutdown(10 * time.Second); err != nil {
			logger.Warn("workflow runner shutdown", "error", err)
		}
	}()

	apiDeps := api.Deps{
		Timeline:  timelines,
		Workflow:  runner,
		History:   dbClient,
		Collector: collector,
		Ping:      dbClient.Ping,
		Logger:    logger,
	}
	if cfg.RefreshSchedule != "" {
		sched, err := scheduler.New(cfg.RefreshSchedule, dbClient, timelines, scheduler.WithLogger(logger))
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()
			if err := sched.Stop(stopCtx); err != nil {
				logger.Warn("scheduler stop", "error", err)
			}
		}()
		apiDeps.Scheduler = sched
	}

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      api.New(apiDeps),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second, // Long for timeline refreshes
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP API available", "addr", cfg.ServerAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down server...", "signal", sig)
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
	return nil
}
