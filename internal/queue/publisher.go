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

// Package queue publishes reconciliation outcome events to a Redis list for
// downstream consumers (dashboards, notifiers).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/tracker/internal/models"
)

// Publisher sends outcome events to Redis.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a new Redis publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// envelope wraps an event for transport so consumers can route on type
// without decoding the payload.
type envelope struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	ContentType string          `json:"content-type"`
	Body        json.RawMessage `json:"body"`
}

// Publish serialises ev and pushes it onto the queue. Consumers pop from the
// other end (BRPOP), so events are delivered in publish order.
func (p *Publisher) Publish(ctx context.Context, ev models.OutcomeEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal outcome event: %w", err)
	}
	msg, err := json.Marshal(envelope{
		ID:          ev.ID,
		Type:        "tracker.outcome." + ev.Kind,
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, string(msg)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Debug("published outcome event",
		"event_id", ev.ID,
		"run_id", ev.RunID,
		"kind", ev.Kind,
		"queue", p.queueName,
	)
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
