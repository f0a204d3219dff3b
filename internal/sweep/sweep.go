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

// Package sweep runs a background loop that periodically executes the merges
// queued in merge_into cells, so a server picks them up without waiting for
// the next reconcile request.
package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bcem/tracker/internal/metrics"
	"github.com/bcem/tracker/internal/models"
	"github.com/bcem/tracker/internal/reconcile"
)

// Reconciler is the part of the orchestrator the sweeper drives.
type Reconciler interface {
	Reconcile(ctx context.Context, emails []models.EmailRecord, merges []models.MergeRequest) (*reconcile.Report, error)
	PendingMerges(ctx context.Context) ([]models.MergeRequest, error)
}

// Sweeper periodically runs pending merges.
type Sweeper struct {
	rec      Reconciler
	lock     sync.Locker
	interval time.Duration
}

// New creates a sweeper. lock is held for every sweep so sweeps never overlap
// other runs sharing it; pass the API handler's run lock.
func New(rec Reconciler, lock sync.Locker, interval time.Duration) *Sweeper {
	return &Sweeper{rec: rec, lock: lock, interval: interval}
}

// Run starts the sweep loop. It blocks until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("merge sweeper starting", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("merge sweeper stopping")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				slog.Error("merge sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs the currently queued merges once. It returns nil without
// running anything when no merge is queued.
func (s *Sweeper) Sweep(ctx context.Context) (*reconcile.Report, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	pending, err := s.rec.PendingMerges(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		slog.Debug("no merges queued")
		return nil, nil
	}

	slog.Info("found queued merges", "count", len(pending))
	started := time.Now()
	report, err := s.rec.Reconcile(ctx, nil, pending)
	metrics.ObserveRun(started, err)
	return report, err
}
