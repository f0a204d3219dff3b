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

// Package dedup remembers which messages a reconciliation run has already
// applied, so a re-delivered email is not counted twice.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces processed-message keys in Redis.
const keyPrefix = "tracker:processed:"

// Tracker records processed message ids in Redis.
type Tracker struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewTracker creates a tracker backed by Redis. A zero ttl keeps ids
// forever.
func NewTracker(rdb *redis.Client, ttl time.Duration) *Tracker {
	return &Tracker{rdb: rdb, ttl: ttl}
}

// IsProcessed reports whether messageID was marked before.
func (t *Tracker) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	n, err := t.rdb.Exists(ctx, keyPrefix+messageID).Result()
	if err != nil {
		return false, fmt.Errorf("processed EXISTS: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed records messageID.
func (t *Tracker) MarkProcessed(ctx context.Context, messageID string) error {
	if err := t.rdb.Set(ctx, keyPrefix+messageID, time.Now().UTC().Format(time.RFC3339), t.ttl).Err(); err != nil {
		return fmt.Errorf("processed SET: %w", err)
	}
	return nil
}

// Forget removes the mark for messageID so the next run applies it again.
func (t *Tracker) Forget(ctx context.Context, messageID string) error {
	if err := t.rdb.Del(ctx, keyPrefix+messageID).Err(); err != nil {
		return fmt.Errorf("processed DEL: %w", err)
	}
	return nil
}
