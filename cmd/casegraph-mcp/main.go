// Package main provides the entry point for the casegraph MCP server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/casegraph/internal/client"
	"github.com/raphaelgruber/casegraph/internal/config"
	"github.com/raphaelgruber/casegraph/internal/server"
	"github.com/raphaelgruber/casegraph/internal/tools"
)

const version = "0.1.0"

func main() {
	cfg := config.Load()

	// stdout carries the MCP protocol, so logs go to stderr and the log file.
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel, "casegraph-mcp")
	defer cleanup()

	logger.Info("casegraph-mcp starting",
		"version", version,
		"server_url", cfg.ServerURL,
		"default_case", cfg.DefaultCase,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	api := client.New(cfg.ServerURL)
	if err := api.Health(ctx); err != nil {
		// Tools report the outage per call; the server may come up later.
		logger.Warn("casegraph server not reachable", "url", cfg.ServerURL, "error", err)
	}

	srv := server.New(version, logger)
	srv.Setup()

	tools.RegisterAll(srv.MCPServer(), &tools.Dependencies{
		API:    api,
		Logger: logger,
	}, &cfg)

	logger.Info("server ready, awaiting connections")

	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
