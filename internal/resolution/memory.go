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

package resolution

import (
	"context"
	"sync"

	"github.com/bcem/tracker/internal/models"
)

// MemoryRepository keeps resolutions in process memory. It backs dry runs
// and tests.
type MemoryRepository struct {
	mu      sync.Mutex
	order   []string
	entries map[string]models.Resolution
}

// NewMemoryRepository returns a repository holding the given entries.
func NewMemoryRepository(initial ...models.Resolution) *MemoryRepository {
	r := &MemoryRepository{entries: make(map[string]models.Resolution)}
	for _, res := range initial {
		r.put(res)
	}
	return r
}

// List returns every entry in insertion order.
func (r *MemoryRepository) List(_ context.Context) ([]models.Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Resolution, 0, len(r.order))
	for _, fp := range r.order {
		out = append(out, r.entries[fp])
	}
	return out, nil
}

// Save inserts or replaces the entry for the resolution's fingerprint.
func (r *MemoryRepository) Save(_ context.Context, res models.Resolution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(res)
	return nil
}

func (r *MemoryRepository) put(res models.Resolution) {
	if _, ok := r.entries[res.Fingerprint]; !ok {
		r.order = append(r.order, res.Fingerprint)
	}
	r.entries[res.Fingerprint] = res
}
