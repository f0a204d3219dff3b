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

// Package app wires configuration into the components a reconciliation run
// needs. Both the CLI and the server binary build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/bcem/tracker/internal/api"
	"github.com/bcem/tracker/internal/config"
	"github.com/bcem/tracker/internal/dedup"
	"github.com/bcem/tracker/internal/matcher"
	"github.com/bcem/tracker/internal/metrics"
	"github.com/bcem/tracker/internal/normalize"
	"github.com/bcem/tracker/internal/progression"
	"github.com/bcem/tracker/internal/queue"
	"github.com/bcem/tracker/internal/reconcile"
	"github.com/bcem/tracker/internal/resolution"
	"github.com/bcem/tracker/internal/store"
)

// App holds the opened dependencies.
type App struct {
	Config *config.Config
	Store  store.Store

	// Nil when no Redis URL is configured.
	Redis     *redis.Client
	Processed *dedup.Tracker
	Events    *queue.Publisher

	norm   *normalize.Normalizer
	policy *progression.Policy
}

// Open validates cfg, opens the store and connects to Redis when configured.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, store.Options{
		Backend:     cfg.StoreBackend,
		SQLitePath:  cfg.SQLitePath,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	a := &App{Config: cfg, Store: st, norm: cfg.Normalizer(), policy: policy}

	if cfg.RedisURL == "" {
		slog.Debug("redis not configured, processed tracking and events disabled")
		return a, nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	a.Redis = redis.NewClient(opt)
	a.Events = queue.NewPublisher(a.Redis, cfg.EventsQueue)
	if err := a.Events.Ping(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.Processed = dedup.NewTracker(a.Redis, cfg.ProcessedTTL)
	slog.Debug("connected to redis", "events_queue", cfg.EventsQueue)
	return a, nil
}

// RunOptions adjusts one orchestrator.
type RunOptions struct {
	// Asker answers unlearned conflicts. Nil keeps existing values.
	Asker resolution.Asker

	// DryRun reconciles against an in-memory copy of the store and neither
	// marks emails processed nor publishes events.
	DryRun bool
}

// Orchestrator builds a reconciler over the app's dependencies.
func (a *App) Orchestrator(ctx context.Context, opts RunOptions) (*reconcile.Orchestrator, error) {
	var st store.Store = a.Store
	if opts.DryRun {
		snap, err := store.Snapshot(ctx, a.Store)
		if err != nil {
			return nil, err
		}
		st = snap
	}

	cfg := reconcile.Config{
		Store:      st,
		Learner:    resolution.NewLearner(st.Resolutions(), a.norm),
		Normalizer: a.norm,
		Matcher:    matcher.New(a.norm, a.Config.Matching),
		Policy:     a.policy,
		History:    st.MergeHistory(),
		Asker:      opts.Asker,
		Metrics:    metrics.Recorder{},
	}
	// Assigning a nil *dedup.Tracker would make a non-nil interface.
	if !opts.DryRun && a.Processed != nil {
		cfg.Processed = a.Processed
	}
	if !opts.DryRun && a.Events != nil {
		cfg.Events = a.Events
	}
	return reconcile.New(cfg), nil
}

// HealthChecks returns the dependency checks served by /health.
func (a *App) HealthChecks() map[string]api.HealthCheck {
	checks := make(map[string]api.HealthCheck)
	if p, ok := a.Store.(interface{ Ping(context.Context) error }); ok {
		checks["store"] = p.Ping
	}
	if a.Events != nil {
		checks["redis"] = a.Events.Ping
	}
	return checks
}

// Close releases the store and the Redis client.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	errs = append(errs, a.Store.Close())
	return errors.Join(errs...)
}
