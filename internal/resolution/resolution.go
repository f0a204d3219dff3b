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

// Package resolution caches conflict decisions under a fingerprint of the
// conflicting values, so the same disagreement is only ever asked about once.
package resolution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bcem/tracker/internal/models"
	"github.com/bcem/tracker/internal/normalize"
)

// fingerprintDomain separates resolution digests from any other hash the
// store might hold. Bump the version if the normalization rules change.
const fingerprintDomain = "tracker/resolution/v1"

// Repository is the durable backing for learned resolutions.
type Repository interface {
	List(ctx context.Context) ([]models.Resolution, error)
	Save(ctx context.Context, r models.Resolution) error
}

// Asker obtains a decision from the user for a conflict.
type Asker interface {
	Ask(ctx context.Context, c models.Conflict, options []models.DecisionKind) (models.Resolution, error)
}

// AskFunc adapts a function to Asker.
type AskFunc func(ctx context.Context, c models.Conflict, options []models.DecisionKind) (models.Resolution, error)

// Ask calls f.
func (f AskFunc) Ask(ctx context.Context, c models.Conflict, options []models.DecisionKind) (models.Resolution, error) {
	return f(ctx, c, options)
}

// Source records where a resolution came from.
type Source string

const (
	SourceCached  Source = "cached"
	SourceAsked   Source = "asked"
	SourceDefault Source = "default"
)

// Fingerprint derives the cache key for a conflict. Each conflicting field
// contributes sha256(domain 0x00 field 0x00 existing 0x00 new) over the
// normalized values; the sorted field digests are hashed again under the same
// domain. The result does not depend on field order or on the application
// the conflict was raised against.
func Fingerprint(c models.Conflict, n *normalize.Normalizer) string {
	if n == nil {
		n = normalize.Default
	}
	parts := make([]string, 0, len(c.Fields))
	for _, fc := range c.Fields {
		parts = append(parts, digest(string(fc.Field), normalizeField(n, fc.Field, fc.Existing), normalizeField(n, fc.Field, fc.New)))
	}
	slices.Sort(parts)
	return digest(parts...)
}

func normalizeField(n *normalize.Normalizer, f models.Field, v string) string {
	if f == models.FieldCompany {
		return n.Company(v)
	}
	return n.Position(v)
}

func digest(parts ...string) string {
	h := sha256.New()
	h.Write([]byte(fingerprintDomain))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ValidFingerprint reports whether s has the shape Fingerprint produces.
func ValidFingerprint(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// Learner is the in-memory resolution cache. Load it before a run and Flush
// it afterwards; Resolve only touches the cache.
type Learner struct {
	repo Repository
	norm *normalize.Normalizer
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]models.Resolution
	pending []string
}

// NewLearner creates a learner over repo. A nil normalizer uses
// normalize.Default.
func NewLearner(repo Repository, n *normalize.Normalizer) *Learner {
	if n == nil {
		n = normalize.Default
	}
	return &Learner{
		repo:    repo,
		norm:    n,
		now:     time.Now,
		entries: make(map[string]models.Resolution),
	}
}

// Load replaces the cache with the repository contents. Malformed entries
// are discarded with a warning and behave as cache misses.
func (l *Learner) Load(ctx context.Context) error {
	list, err := l.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading resolutions: %w", err)
	}

	entries := make(map[string]models.Resolution, len(list))
	discarded := 0
	for _, r := range list {
		if !ValidFingerprint(r.Fingerprint) {
			slog.Warn("discarding resolution with malformed fingerprint", "fingerprint", r.Fingerprint)
			discarded++
			continue
		}
		if err := r.Validate(); err != nil {
			slog.Warn("discarding corrupt resolution", "fingerprint", r.Fingerprint, "error", err)
			discarded++
			continue
		}
		entries[r.Fingerprint] = r
	}

	l.mu.Lock()
	l.entries = entries
	l.pending = nil
	l.mu.Unlock()

	slog.Debug("resolutions loaded", "count", len(entries), "discarded", discarded)
	return nil
}

// Resolve returns the decision for c. A cached decision is returned as is.
// Otherwise ask is consulted and its answer cached; with no asker, or when
// the answer is invalid, the conflict defaults to KeepExisting, which is not
// cached.
func (l *Learner) Resolve(ctx context.Context, c models.Conflict, ask Asker) (models.Resolution, Source, error) {
	fp := Fingerprint(c, l.norm)

	l.mu.Lock()
	cached, ok := l.entries[fp]
	l.mu.Unlock()
	if ok {
		return cached, SourceCached, nil
	}

	fallback := models.Resolution{Fingerprint: fp, Decision: models.DecisionKeepExisting}
	if ask == nil {
		return fallback, SourceDefault, nil
	}

	r, err := ask.Ask(ctx, c, slices.Clone(models.Decisions))
	if err != nil {
		return models.Resolution{}, "", fmt.Errorf("asking for resolution: %w", err)
	}
	if err := checkAnswer(c, r); err != nil {
		slog.Warn("invalid conflict answer, keeping existing values",
			"application_id", c.ApplicationID,
			"message_id", c.MessageID,
			"error", err,
		)
		return fallback, SourceDefault, nil
	}
	r.Fingerprint = fp
	if r.CreatedAt.IsZero() {
		r.CreatedAt = l.now().UTC()
	}

	l.mu.Lock()
	l.entries[fp] = r
	l.pending = append(l.pending, fp)
	l.mu.Unlock()
	return r, SourceAsked, nil
}

func checkAnswer(c models.Conflict, r models.Resolution) error {
	if err := r.Validate(); err != nil {
		return err
	}
	for f := range r.Values {
		if _, ok := c.Field(f); !ok {
			return fmt.Errorf("%w: value for non-conflicting field %q", models.ErrInvalidDecision, f)
		}
	}
	return nil
}

// Flush persists resolutions learned since the last Load or Flush. Entries
// that fail to save stay pending for the next Flush.
func (l *Learner) Flush(ctx context.Context) error {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for i, fp := range pending {
		l.mu.Lock()
		r := l.entries[fp]
		l.mu.Unlock()
		if err := l.repo.Save(ctx, r); err != nil {
			l.mu.Lock()
			l.pending = append(pending[i:], l.pending...)
			l.mu.Unlock()
			return fmt.Errorf("saving resolution %s: %w", fp, err)
		}
	}
	if len(pending) > 0 {
		slog.Info("resolutions flushed", "count", len(pending))
	}
	return nil
}

// Len returns the number of cached resolutions.
func (l *Learner) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns the cached resolutions ordered by creation time.
func (l *Learner) Entries() []models.Resolution {
	l.mu.Lock()
	out := make([]models.Resolution, 0, len(l.entries))
	for _, r := range l.entries {
		out = append(out, r)
	}
	l.mu.Unlock()

	slices.SortFunc(out, func(a, b models.Resolution) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Fingerprint, b.Fingerprint)
	})
	return out
}
