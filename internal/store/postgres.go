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
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/tracker/internal/merge"
	"github.com/bcem/tracker/internal/models"
	"github.com/bcem/tracker/internal/resolution"
)

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and ensures the schema exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	s, err := NewPostgres(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres wraps an existing pool. It ensures the tables exist.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	s := &Postgres{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure tracker schema: %w", err)
	}
	slog.Info("postgres store initialised")
	return s, nil
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS applications (
			id                BIGSERIAL PRIMARY KEY,
			company           TEXT NOT NULL DEFAULT '',
			position          TEXT NOT NULL DEFAULT '',
			application_date  TIMESTAMPTZ,
			status            TEXT NOT NULL DEFAULT '',
			last_updated      TIMESTAMPTZ,
			email_count       INTEGER NOT NULL DEFAULT 0,
			latest_email_date TIMESTAMPTZ,
			latest_email_link TEXT NOT NULL DEFAULT '',
			notes             TEXT NOT NULL DEFAULT '',
			thread_ids        TEXT[] NOT NULL DEFAULT '{}',
			merge_into        BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_applications_merge_into ON applications(merge_into);
		CREATE INDEX IF NOT EXISTS idx_applications_thread_ids ON applications USING GIN (thread_ids);

		CREATE TABLE IF NOT EXISTS conflict_resolutions (
			fingerprint  TEXT PRIMARY KEY,
			decision     TEXT NOT NULL,
			field_values TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS merge_history (
			id              TEXT PRIMARY KEY,
			recorded_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			source_id       BIGINT NOT NULL,
			target_id       BIGINT NOT NULL,
			outcome         TEXT NOT NULL,
			reason          TEXT NOT NULL DEFAULT '',
			source_company  TEXT NOT NULL DEFAULT '',
			source_position TEXT NOT NULL DEFAULT '',
			target_company  TEXT NOT NULL DEFAULT '',
			target_position TEXT NOT NULL DEFAULT '',
			moved_threads   TEXT[] NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS idx_merge_history_recorded_at ON merge_history(recorded_at);
	`)
	return err
}

// Ping checks the pool can reach the server.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

// List returns all applications ordered by id.
func (s *Postgres) List(ctx context.Context) ([]models.Application, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, company, position, application_date, status, last_updated,
		       email_count, latest_email_date, latest_email_link, notes,
		       thread_ids, merge_into
		FROM applications
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()
	return collectApplications(rows)
}

// Create inserts draft and returns it with its assigned id.
func (s *Postgres) Create(ctx context.Context, draft models.Application) (models.Application, error) {
	out := draft.Clone()
	err := s.pool.QueryRow(ctx, `
		INSERT INTO applications
			(company, position, application_date, status, last_updated, email_count,
			 latest_email_date, latest_email_link, notes, thread_ids, merge_into)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, draft.Company, draft.Position, nullTime(draft.ApplicationDate), draft.Status, nullTime(draft.LastUpdated),
		draft.EmailCount, nullTime(draft.LatestEmailDate), draft.LatestEmailLink, draft.Notes,
		threadsOrEmpty(draft.ThreadIDs), draft.MergeInto,
	).Scan(&out.ID)
	if err != nil {
		return models.Application{}, fmt.Errorf("create application: %w", err)
	}
	return out, nil
}

// Upsert inserts or updates the application keyed on id.
func (s *Postgres) Upsert(ctx context.Context, app models.Application) error {
	if app.ID <= 0 {
		return fmt.Errorf("upsert application: invalid id %d", app.ID)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO applications
			(id, company, position, application_date, status, last_updated, email_count,
			 latest_email_date, latest_email_link, notes, thread_ids, merge_into)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			company           = EXCLUDED.company,
			position          = EXCLUDED.position,
			application_date  = EXCLUDED.application_date,
			status            = EXCLUDED.status,
			last_updated      = EXCLUDED.last_updated,
			email_count       = EXCLUDED.email_count,
			latest_email_date = EXCLUDED.latest_email_date,
			latest_email_link = EXCLUDED.latest_email_link,
			notes             = EXCLUDED.notes,
			thread_ids        = EXCLUDED.thread_ids,
			merge_into        = EXCLUDED.merge_into
	`, app.ID, app.Company, app.Position, nullTime(app.ApplicationDate), app.Status, nullTime(app.LastUpdated),
		app.EmailCount, nullTime(app.LatestEmailDate), app.LatestEmailLink, app.Notes,
		threadsOrEmpty(app.ThreadIDs), app.MergeInto)
	if err != nil {
		return fmt.Errorf("upsert application %d: %w", app.ID, err)
	}
	return nil
}

// Delete removes the application with the given id.
func (s *Postgres) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM applications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete application %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete application %d: %w", id, ErrNotFound)
	}
	return nil
}

// Resolutions returns the conflict_resolutions table.
func (s *Postgres) Resolutions() resolution.Repository {
	return pgResolutions{pool: s.pool}
}

// MergeHistory returns the merge_history table.
func (s *Postgres) MergeHistory() merge.History {
	return pgHistory{pool: s.pool}
}

type pgResolutions struct {
	pool *pgxpool.Pool
}

func (r pgResolutions) List(ctx context.Context) ([]models.Resolution, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT fingerprint, decision, field_values, created_at
		FROM conflict_resolutions
		ORDER BY created_at, fingerprint
	`)
	if err != nil {
		return nil, fmt.Errorf("list resolutions: %w", err)
	}
	defer rows.Close()

	var out []models.Resolution
	for rows.Next() {
		var (
			res      models.Resolution
			decision string
			values   string
			created  *time.Time
		)
		if err := rows.Scan(&res.Fingerprint, &decision, &values, &created); err != nil {
			return nil, fmt.Errorf("scan resolution: %w", err)
		}
		res.Decision = models.DecisionKind(decision)
		res.Values = decodeValues(values)
		if created != nil {
			res.CreatedAt = *created
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r pgResolutions) Save(ctx context.Context, res models.Resolution) error {
	values, err := encodeValues(res.Values)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO conflict_resolutions (fingerprint, decision, field_values, created_at)
		VALUES ($1, $2, $3, COALESCE($4, NOW()))
		ON CONFLICT (fingerprint) DO UPDATE SET
			decision     = EXCLUDED.decision,
			field_values = EXCLUDED.field_values,
			created_at   = EXCLUDED.created_at
	`, res.Fingerprint, string(res.Decision), values, nullTime(res.CreatedAt))
	if err != nil {
		return fmt.Errorf("save resolution %s: %w", res.Fingerprint, err)
	}
	return nil
}

type pgHistory struct {
	pool *pgxpool.Pool
}

func (h pgHistory) Record(ctx context.Context, rec models.MergeRecord) error {
	_, err := h.pool.Exec(ctx, `
		INSERT INTO merge_history (id, recorded_at, source_id, target_id, outcome, reason,
			source_company, source_position, target_company, target_position, moved_threads)
		VALUES ($1, COALESCE($2, NOW()), $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, nullTime(rec.RecordedAt), rec.SourceID, rec.TargetID, string(rec.Outcome), rec.Reason,
		rec.SourceCompany, rec.SourcePosition, rec.TargetCompany, rec.TargetPosition, threadsOrEmpty(rec.MovedThreads))
	if err != nil {
		return fmt.Errorf("record merge %d->%d: %w", rec.SourceID, rec.TargetID, err)
	}
	return nil
}

func (h pgHistory) List(ctx context.Context) ([]models.MergeRecord, error) {
	rows, err := h.pool.Query(ctx, `
		SELECT id, recorded_at, source_id, target_id, outcome, reason,
		       source_company, source_position, target_company, target_position, moved_threads
		FROM merge_history
		ORDER BY recorded_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list merge history: %w", err)
	}
	defer rows.Close()

	var out []models.MergeRecord
	for rows.Next() {
		var (
			rec     models.MergeRecord
			outcome string
		)
		if err := rows.Scan(&rec.ID, &rec.RecordedAt, &rec.SourceID, &rec.TargetID, &outcome, &rec.Reason,
			&rec.SourceCompany, &rec.SourcePosition, &rec.TargetCompany, &rec.TargetPosition, &rec.MovedThreads); err != nil {
			return nil, fmt.Errorf("scan merge record: %w", err)
		}
		rec.Outcome = models.MergeStatus(outcome)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// collectApplications scans rows into applications.
func collectApplications(rows pgx.Rows) ([]models.Application, error) {
	var apps []models.Application
	for rows.Next() {
		var (
			a                        models.Application
			appDate, updated, latest *time.Time
		)
		if err := rows.Scan(
			&a.ID, &a.Company, &a.Position, &appDate, &a.Status, &updated,
			&a.EmailCount, &latest, &a.LatestEmailLink, &a.Notes,
			&a.ThreadIDs, &a.MergeInto,
		); err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		a.ApplicationDate = derefTime(appDate)
		a.LastUpdated = derefTime(updated)
		a.LatestEmailDate = derefTime(latest)
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func threadsOrEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
