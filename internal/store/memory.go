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

package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/bcem/tracker/internal/merge"
	"github.com/bcem/tracker/internal/models"
	"github.com/bcem/tracker/internal/resolution"
)

// Memory is a process-local Store.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	apps   map[int64]models.Application

	resolutions *resolution.MemoryRepository
	history     *memoryHistory
}

// NewMemory returns a memory store seeded with apps. Ids are kept; new
// applications get ids above the highest seeded one.
func NewMemory(apps ...models.Application) *Memory {
	m := &Memory{
		nextID:      1,
		apps:        make(map[int64]models.Application, len(apps)),
		resolutions: resolution.NewMemoryRepository(),
		history:     &memoryHistory{},
	}
	for _, a := range apps {
		m.apps[a.ID] = a.Clone()
		if a.ID >= m.nextID {
			m.nextID = a.ID + 1
		}
	}
	return m
}

// List returns all applications ordered by id.
func (m *Memory) List(_ context.Context) ([]models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Application, 0, len(m.apps))
	for _, a := range m.apps {
		out = append(out, a.Clone())
	}
	slices.SortFunc(out, func(a, b models.Application) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// Create stores draft under a fresh id.
func (m *Memory) Create(_ context.Context, draft models.Application) (models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	draft = draft.Clone()
	draft.ID = m.nextID
	m.nextID++
	m.apps[draft.ID] = draft
	return draft.Clone(), nil
}

// Upsert writes app under its id.
func (m *Memory) Upsert(_ context.Context, app models.Application) error {
	if app.ID <= 0 {
		return fmt.Errorf("upsert application: invalid id %d", app.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apps[app.ID] = app.Clone()
	if app.ID >= m.nextID {
		m.nextID = app.ID + 1
	}
	return nil
}

// Delete removes the application with the given id.
func (m *Memory) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[id]; !ok {
		return fmt.Errorf("delete application %d: %w", id, ErrNotFound)
	}
	delete(m.apps, id)
	return nil
}

// Resolutions returns the in-memory resolution repository.
func (m *Memory) Resolutions() resolution.Repository {
	return m.resolutions
}

// MergeHistory returns the in-memory merge log.
func (m *Memory) MergeHistory() merge.History {
	return m.history
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

type memoryHistory struct {
	mu      sync.Mutex
	records []models.MergeRecord
}

func (h *memoryHistory) Record(_ context.Context, rec models.MergeRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rec.ID != "" && slices.ContainsFunc(h.records, func(r models.MergeRecord) bool { return r.ID == rec.ID }) {
		return nil
	}
	rec.MovedThreads = slices.Clone(rec.MovedThreads)
	h.records = append(h.records, rec)
	return nil
}

// List returns the log oldest first.
func (h *memoryHistory) List(_ context.Context) ([]models.MergeRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.MergeRecord, len(h.records))
	for i, r := range h.records {
		r.MovedThreads = slices.Clone(r.MovedThreads)
		out[i] = r
	}
	return out, nil
}
