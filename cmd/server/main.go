// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Tracker reconciliation service
//
// Entry point for the HTTP reconciliation service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Opens the application store (SQLite or PostgreSQL)
//  3. Connects to Redis for processed tracking and outcome events
//  4. Serves the reconciliation API and /metrics
//  5. Sweeps queued merges on an interval when configured
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bcem/tracker/internal/api"
	"github.com/bcem/tracker/internal/app"
	"github.com/bcem/tracker/internal/config"
	"github.com/bcem/tracker/internal/sweep"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting tracker reconciliation service")

	cfg, err := config.Load("")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded",
		"store", cfg.StoreBackend,
		"redis", cfg.RedisURL != "",
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open tracker", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	orch, err := a.Orchestrator(ctx, app.RunOptions{})
	if err != nil {
		slog.Error("failed to build orchestrator", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(orch, a.Store, a.HealthChecks())
	ready, stopped, err := api.Serve(ctx, cfg.Port, handler.Routes())
	if err != nil {
		slog.Error("failed to start api server", "error", err)
		os.Exit(1)
	}
	<-ready

	if cfg.MergeSweepInterval > 0 {
		go sweep.New(orch, handler.RunLock(), cfg.MergeSweepInterval).Run(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("received shutdown signal", "signal", sig)
	cancel()
	<-stopped

	slog.Info("tracker service stopped")
}
