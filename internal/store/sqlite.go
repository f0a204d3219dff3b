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
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bcem/tracker/internal/merge"
	"github.com/bcem/tracker/internal/models"
	"github.com/bcem/tracker/internal/resolution"
)

//go:embed schema.sql
var sqliteSchema string

const sqliteSchemaVersion = 2

// SQLite is a Store in a single database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite %s: %w", path, err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}

	slog.Debug("sqlite store opened", "path", path)
	return &SQLite{db: db}, nil
}

func migrateSQLite(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_applications_merge_into ON applications(merge_into)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if version < 2 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_merge_history_recorded_at ON merge_history(recorded_at)`); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

const sqliteAppColumns = `id, company, position, application_date, status, last_updated,
	email_count, latest_email_date, latest_email_link, notes, thread_ids, merge_into`

// List returns all applications ordered by id.
func (s *SQLite) List(ctx context.Context) ([]models.Application, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteAppColumns+` FROM applications ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var apps []models.Application
	for rows.Next() {
		var (
			a                                  models.Application
			appDate, updated, latest, threadsJ string
		)
		if err := rows.Scan(&a.ID, &a.Company, &a.Position, &appDate, &a.Status, &updated,
			&a.EmailCount, &latest, &a.LatestEmailLink, &a.Notes, &threadsJ, &a.MergeInto); err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		for _, f := range []struct {
			dst *time.Time
			src string
		}{{&a.ApplicationDate, appDate}, {&a.LastUpdated, updated}, {&a.LatestEmailDate, latest}} {
			t, err := parseTime(f.src)
			if err != nil {
				return nil, fmt.Errorf("application %d: %w", a.ID, err)
			}
			*f.dst = t
		}
		if err := json.Unmarshal([]byte(threadsJ), &a.ThreadIDs); err != nil {
			return nil, fmt.Errorf("application %d thread_ids: %w", a.ID, err)
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

// Create inserts draft and returns it with its assigned id.
func (s *SQLite) Create(ctx context.Context, draft models.Application) (models.Application, error) {
	threads, err := marshalThreads(draft.ThreadIDs)
	if err != nil {
		return models.Application{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO applications
			(company, position, application_date, status, last_updated, email_count,
			 latest_email_date, latest_email_link, notes, thread_ids, merge_into)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, draft.Company, draft.Position, formatTime(draft.ApplicationDate), draft.Status, formatTime(draft.LastUpdated),
		draft.EmailCount, formatTime(draft.LatestEmailDate), draft.LatestEmailLink, draft.Notes, threads, draft.MergeInto)
	if err != nil {
		return models.Application{}, fmt.Errorf("create application: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Application{}, fmt.Errorf("create application: %w", err)
	}
	out := draft.Clone()
	out.ID = id
	return out, nil
}

// Upsert inserts or replaces the application keyed on id.
func (s *SQLite) Upsert(ctx context.Context, app models.Application) error {
	if app.ID <= 0 {
		return fmt.Errorf("upsert application: invalid id %d", app.ID)
	}
	threads, err := marshalThreads(app.ThreadIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO applications
			(id, company, position, application_date, status, last_updated, email_count,
			 latest_email_date, latest_email_link, notes, thread_ids, merge_into)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			company           = excluded.company,
			position          = excluded.position,
			application_date  = excluded.application_date,
			status            = excluded.status,
			last_updated      = excluded.last_updated,
			email_count       = excluded.email_count,
			latest_email_date = excluded.latest_email_date,
			latest_email_link = excluded.latest_email_link,
			notes             = excluded.notes,
			thread_ids        = excluded.thread_ids,
			merge_into        = excluded.merge_into
	`, app.ID, app.Company, app.Position, formatTime(app.ApplicationDate), app.Status, formatTime(app.LastUpdated),
		app.EmailCount, formatTime(app.LatestEmailDate), app.LatestEmailLink, app.Notes, threads, app.MergeInto)
	if err != nil {
		return fmt.Errorf("upsert application %d: %w", app.ID, err)
	}
	return nil
}

// Delete removes the application with the given id.
func (s *SQLite) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM applications WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete application %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete application %d: %w", id, ErrNotFound)
	}
	return nil
}

// Resolutions returns the conflict_resolutions table.
func (s *SQLite) Resolutions() resolution.Repository {
	return sqliteResolutions{db: s.db}
}

// MergeHistory returns the merge_history table.
func (s *SQLite) MergeHistory() merge.History {
	return sqliteHistory{db: s.db}
}

type sqliteResolutions struct {
	db *sql.DB
}

// List returns every stored resolution. Rows with unreadable values are
// returned as-is so the learner can discard them.
func (r sqliteResolutions) List(ctx context.Context) ([]models.Resolution, error) {
	rows, err := r.db.QueryContext(ctx, `
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
			res             models.Resolution
			decision        string
			values, created string
		)
		if err := rows.Scan(&res.Fingerprint, &decision, &values, &created); err != nil {
			return nil, fmt.Errorf("scan resolution: %w", err)
		}
		res.Decision = models.DecisionKind(decision)
		res.Values = decodeValues(values)
		res.CreatedAt, _ = parseTime(created)
		out = append(out, res)
	}
	return out, rows.Err()
}

// Save inserts or replaces the resolution keyed on fingerprint.
func (r sqliteResolutions) Save(ctx context.Context, res models.Resolution) error {
	values, err := encodeValues(res.Values)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO conflict_resolutions (fingerprint, decision, field_values, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO UPDATE SET
			decision     = excluded.decision,
			field_values = excluded.field_values,
			created_at   = excluded.created_at
	`, res.Fingerprint, string(res.Decision), values, formatTime(res.CreatedAt))
	if err != nil {
		return fmt.Errorf("save resolution %s: %w", res.Fingerprint, err)
	}
	return nil
}

type sqliteHistory struct {
	db *sql.DB
}

// Record appends rec. Re-recording an id is a no-op.
func (h sqliteHistory) Record(ctx context.Context, rec models.MergeRecord) error {
	moved, err := marshalThreads(rec.MovedThreads)
	if err != nil {
		return err
	}
	_, err = h.db.ExecContext(ctx, `
		INSERT INTO merge_history (id, recorded_at, source_id, target_id, outcome, reason,
			source_company, source_position, target_company, target_position, moved_threads)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, formatTime(rec.RecordedAt), rec.SourceID, rec.TargetID, string(rec.Outcome), rec.Reason,
		rec.SourceCompany, rec.SourcePosition, rec.TargetCompany, rec.TargetPosition, moved)
	if err != nil {
		return fmt.Errorf("record merge %d->%d: %w", rec.SourceID, rec.TargetID, err)
	}
	return nil
}

// List returns the log oldest first.
func (h sqliteHistory) List(ctx context.Context) ([]models.MergeRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
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
			rec               models.MergeRecord
			recorded, outcome string
			moved             string
		)
		if err := rows.Scan(&rec.ID, &recorded, &rec.SourceID, &rec.TargetID, &outcome, &rec.Reason,
			&rec.SourceCompany, &rec.SourcePosition, &rec.TargetCompany, &rec.TargetPosition, &moved); err != nil {
			return nil, fmt.Errorf("scan merge record: %w", err)
		}
		if rec.RecordedAt, err = parseTime(recorded); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(moved), &rec.MovedThreads); err != nil {
			return nil, fmt.Errorf("decode moved threads of merge %s: %w", rec.ID, err)
		}
		rec.Outcome = models.MergeStatus(outcome)
		out = append(out, rec)
	}
	return out, rows.Err()
}
