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

// Package store persists tracked applications and learned resolutions.
// Three backends share one contract: an in-memory store for dry runs and
// tests, a single-file SQLite database for local use, and Postgres for the
// service.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/bcem/tracker/internal/merge"
	"github.com/bcem/tracker/internal/models"
	"github.com/bcem/tracker/internal/resolution"
)

// ErrNotFound is returned when an application id does not exist.
var ErrNotFound = errors.New("application not found")

// Applications is the record store contract.
type Applications interface {
	List(ctx context.Context) ([]models.Application, error)
	Create(ctx context.Context, draft models.Application) (models.Application, error)
	Upsert(ctx context.Context, app models.Application) error
	Delete(ctx context.Context, id int64) error
}

// Store is a backend holding both applications and resolutions.
type Store interface {
	Applications
	Resolutions() resolution.Repository
	MergeHistory() merge.History
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	SQLitePath  string
	DatabaseURL string
}

// Open connects to the configured backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendMemory, "":
		return NewMemory(), nil
	case BackendSQLite:
		return OpenSQLite(opts.SQLitePath)
	case BackendPostgres:
		return OpenPostgres(ctx, opts.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

// Snapshot copies every application, resolution and merge log entry of src
// into a new memory store. Dry runs reconcile against the copy.
func Snapshot(ctx context.Context, src Store) (*Memory, error) {
	apps, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot applications: %w", err)
	}
	res, err := src.Resolutions().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot resolutions: %w", err)
	}
	history, err := src.MergeHistory().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot merge history: %w", err)
	}
	m := NewMemory(apps...)
	m.resolutions = resolution.NewMemoryRepository(res...)
	m.history.records = history
	return m, nil
}
