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

// Package reconcile runs the per-email pipeline: pending merges first, then
// every email in date order through the matcher, the conflict detector, the
// resolution learner and the status policy before the result is written
// back to the store.
package reconcile

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/tracker/internal/conflict"
	"github.com/bcem/tracker/internal/matcher"
	"github.com/bcem/tracker/internal/merge"
	"github.com/bcem/tracker/internal/models"
	"github.com/bcem/tracker/internal/normalize"
	"github.com/bcem/tracker/internal/progression"
	"github.com/bcem/tracker/internal/resolution"
	"github.com/bcem/tracker/internal/store"
)

// ProcessedTracker remembers message ids across runs.
type ProcessedTracker interface {
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string) error
}

// EventSink receives one event per outcome.
type EventSink interface {
	Publish(ctx context.Context, ev models.OutcomeEvent) error
}

// Recorder counts outcomes.
type Recorder interface {
	Email(outcome models.OutcomeKind)
	Merge(status models.MergeStatus)
	Conflict(source resolution.Source)
}

// Config wires an Orchestrator. Store and Learner are required; the rest
// default to the standard components or are skipped when nil.
type Config struct {
	Store      store.Applications
	Learner    *resolution.Learner
	Normalizer *normalize.Normalizer
	Matcher    *matcher.Matcher
	Detector   *conflict.Detector
	Policy     *progression.Policy
	Merger     *merge.Coordinator

	// History is the merge log used by the default Merger. Nil keeps no
	// log, and rejected merge_into cells are offered on every run.
	History merge.History

	// Asker is consulted for conflicts without a learned decision. Nil
	// means non-interactive: such conflicts keep existing values.
	Asker resolution.Asker

	Processed ProcessedTracker
	Events    EventSink
	Metrics   Recorder
}

// Orchestrator reconciles emails against the store.
type Orchestrator struct {
	store     store.Applications
	learner   *resolution.Learner
	norm      *normalize.Normalizer
	matcher   *matcher.Matcher
	detector  *conflict.Detector
	policy    *progression.Policy
	merger    *merge.Coordinator
	asker     resolution.Asker
	processed ProcessedTracker
	events    EventSink
	metrics   Recorder
	now       func() time.Time
}

// New creates an orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		store:     cfg.Store,
		learner:   cfg.Learner,
		norm:      cfg.Normalizer,
		matcher:   cfg.Matcher,
		detector:  cfg.Detector,
		policy:    cfg.Policy,
		merger:    cfg.Merger,
		asker:     cfg.Asker,
		processed: cfg.Processed,
		events:    cfg.Events,
		metrics:   cfg.Metrics,
		now:       time.Now,
	}
	if o.norm == nil {
		o.norm = normalize.Default
	}
	if o.matcher == nil {
		o.matcher = matcher.New(o.norm, matcher.DefaultConfig())
	}
	if o.detector == nil {
		o.detector = conflict.NewDetector(o.norm)
	}
	if o.policy == nil {
		o.policy = progression.Default()
	}
	if o.merger == nil {
		o.merger = merge.NewCoordinator(o.store, o.policy, cfg.History)
	}
	if o.metrics == nil {
		o.metrics = nopRecorder{}
	}
	return o
}

// PendingMerges returns the merge requests recorded in merge_into cells.
// A cell already rejected for the same reason is left out until it changes.
func (o *Orchestrator) PendingMerges(ctx context.Context) ([]models.MergeRequest, error) {
	return o.merger.Pending(ctx)
}

// Reconcile runs merges and then emails. The returned report is always
// non-nil and holds every outcome reached before an error. Learned
// resolutions are flushed even when the run fails.
func (o *Orchestrator) Reconcile(ctx context.Context, emails []models.EmailRecord, merges []models.MergeRequest) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), StartedAt: o.now().UTC()}
	log := slog.With("run_id", report.RunID)
	log.Info("reconciliation started", "emails", len(emails), "merges", len(merges))

	if err := o.learner.Load(ctx); err != nil {
		report.FinishedAt = o.now().UTC()
		return report, err
	}

	err := o.run(ctx, log, report, emails, merges)
	if ferr := o.learner.Flush(ctx); ferr != nil {
		if err == nil {
			err = ferr
		} else {
			log.Error("failed to flush resolutions after error", "error", ferr)
		}
	}
	report.FinishedAt = o.now().UTC()
	report.tally()
	o.publish(ctx, log, report)

	if err != nil {
		log.Error("reconciliation aborted", "error", err, "processed", len(report.Emails))
		return report, err
	}
	log.Info("reconciliation finished",
		"created", report.Totals.Created,
		"updated", report.Totals.Updated,
		"created_separate", report.Totals.CreatedSeparate,
		"skipped", report.Totals.Skipped,
		"merges_executed", report.Totals.MergesExecuted,
		"merges_rejected", report.Totals.MergesRejected,
	)
	return report, nil
}

func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, report *Report, emails []models.EmailRecord, merges []models.MergeRequest) error {
	results, err := o.merger.Run(ctx, merges)
	for _, r := range results {
		if r.Status == models.MergeExecuted || r.Status == models.MergeRejected {
			report.Merges = append(report.Merges, r)
			o.metrics.Merge(r.Status)
		}
	}
	if err != nil {
		return fmt.Errorf("running merges: %w", err)
	}

	apps, err := o.store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing applications: %w", err)
	}

	for _, email := range sortEmails(emails) {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := o.process(ctx, log, email, &apps)
		if err != nil {
			return fmt.Errorf("email %s: %w", email.MessageID, err)
		}
		report.Emails = append(report.Emails, out)
		o.metrics.Email(out.Outcome)
	}
	return nil
}

// sortEmails orders emails by date, then message id. The input is not
// modified.
func sortEmails(emails []models.EmailRecord) []models.EmailRecord {
	sorted := slices.Clone(emails)
	slices.SortStableFunc(sorted, func(a, b models.EmailRecord) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.MessageID, b.MessageID)
	})
	return sorted
}

func (o *Orchestrator) process(ctx context.Context, log *slog.Logger, email models.EmailRecord, apps *[]models.Application) (models.EmailOutcome, error) {
	out := models.EmailOutcome{MessageID: email.MessageID}
	log = log.With("message_id", email.MessageID)

	if email.MessageID == "" {
		return skip(out, models.SkipMissingMessageID), nil
	}
	if o.processed != nil {
		seen, err := o.processed.IsProcessed(ctx, email.MessageID)
		if err != nil {
			log.Warn("processed check failed, continuing", "error", err)
		} else if seen {
			return skip(out, models.SkipAlreadyProcessed), nil
		}
	}

	status, known := o.policy.Parse(email.Extracted.Status)
	if !known && email.Extracted.Status != "" {
		log.Debug("unknown status token, no status signal", "status", email.Extracted.Status)
	}

	cand, matched := o.matcher.Match(email, *apps)
	if !matched {
		if o.norm.Company(email.Extracted.Company) == "" {
			return skip(out, models.SkipNoCompany), nil
		}
		created, err := o.create(ctx, email, status, apps)
		if err != nil {
			return out, err
		}
		out.Outcome = models.OutcomeCreated
		out.ApplicationID = created.ID
		out.NewStatus = created.Status
		log.Info("application created", "application_id", created.ID, "company", created.Company)
		return o.markProcessed(ctx, log, out), nil
	}

	idx := slices.IndexFunc(*apps, func(a models.Application) bool { return a.ID == cand.ApplicationID })
	if idx < 0 {
		return out, fmt.Errorf("matched application %d: %w", cand.ApplicationID, store.ErrNotFound)
	}
	app := (*apps)[idx].Clone()
	out.ApplicationID = app.ID
	out.Strategy = cand.Strategy
	out.Confidence = cand.Confidence
	out.PreviousStatus = app.Status

	detected := o.detector.Detect(email, app)
	if detected.Conflict != nil {
		res, source, err := o.learner.Resolve(ctx, *detected.Conflict, o.asker)
		if err != nil {
			return out, fmt.Errorf("resolving conflict on application %d: %w", app.ID, err)
		}
		o.metrics.Conflict(source)
		out.Conflict = true
		out.Resolution = res.Decision
		out.ResolutionSource = string(source)
		log.Info("conflict resolved",
			"application_id", app.ID,
			"decision", res.Decision,
			"source", source,
		)

		switch res.Decision {
		case models.DecisionCreateSeparate:
			return o.createSeparate(ctx, log, email, status, app, out, apps)
		case models.DecisionUseNew:
			for _, fc := range detected.Conflict.Fields {
				conflict.SetField(&app, fc.Field, fc.New)
			}
		case models.DecisionPerField:
			for f, v := range res.Values {
				conflict.SetField(&app, f, v)
			}
		}
	}
	conflict.ApplyUpgrades(&app, detected.Upgrades)

	app, _ = o.policy.Advance(app, status, email)
	app.AddThread(email.ThreadID)
	if err := o.store.Upsert(ctx, app); err != nil {
		return out, err
	}
	(*apps)[idx] = app

	out.Outcome = models.OutcomeUpdated
	out.NewStatus = app.Status
	log.Info("application updated",
		"application_id", app.ID,
		"strategy", cand.Strategy,
		"status", app.Status,
		"email_count", app.EmailCount,
	)
	return o.markProcessed(ctx, log, out), nil
}

// create stores a new application built from email. An unusable status
// token falls back to the first status of the order.
func (o *Orchestrator) create(ctx context.Context, email models.EmailRecord, status string, apps *[]models.Application) (models.Application, error) {
	if status == "" {
		status = o.policy.Initial()
	}
	draft := models.Application{
		Company:         email.Extracted.Company,
		Position:        email.Extracted.Position,
		ApplicationDate: email.Date,
		Status:          status,
		LastUpdated:     email.Date,
		EmailCount:      1,
		LatestEmailDate: email.Date,
		LatestEmailLink: email.Link,
	}
	draft.AddThread(email.ThreadID)

	created, err := o.store.Create(ctx, draft)
	if err != nil {
		return models.Application{}, err
	}
	*apps = append(*apps, created)
	return created, nil
}

// createSeparate leaves old untouched apart from giving up the email's
// thread, which moves to the newly created application.
func (o *Orchestrator) createSeparate(ctx context.Context, log *slog.Logger, email models.EmailRecord, status string, old models.Application,
	out models.EmailOutcome, apps *[]models.Application) (models.EmailOutcome, error) {
	if old.RemoveThread(email.ThreadID) {
		if err := o.store.Upsert(ctx, old); err != nil {
			return out, err
		}
		for i := range *apps {
			if (*apps)[i].ID == old.ID {
				(*apps)[i] = old
			}
		}
	}

	created, err := o.create(ctx, email, status, apps)
	if err != nil {
		return out, err
	}
	out.Outcome = models.OutcomeCreatedSeparate
	out.ApplicationID = created.ID
	out.PreviousStatus = ""
	out.NewStatus = created.Status
	log.Info("separate application created",
		"application_id", created.ID,
		"split_from", old.ID,
	)
	return o.markProcessed(ctx, log, out), nil
}

func (o *Orchestrator) markProcessed(ctx context.Context, log *slog.Logger, out models.EmailOutcome) models.EmailOutcome {
	if o.processed == nil {
		return out
	}
	if err := o.processed.MarkProcessed(ctx, out.MessageID); err != nil {
		log.Warn("failed to mark message processed", "error", err)
	}
	return out
}

func skip(out models.EmailOutcome, reason string) models.EmailOutcome {
	out.Outcome = models.OutcomeSkipped
	out.Reason = reason
	return out
}

// publish sends every outcome to the event sink. Failures are logged and
// do not affect the run.
func (o *Orchestrator) publish(ctx context.Context, log *slog.Logger, report *Report) {
	if o.events == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	send := func(ev models.OutcomeEvent) {
		ev.ID = uuid.NewString()
		ev.RunID = report.RunID
		ev.Timestamp = report.FinishedAt
		if err := o.events.Publish(ctx, ev); err != nil {
			log.Warn("failed to publish outcome event", "kind", ev.Kind, "error", err)
		}
	}
	for i := range report.Merges {
		send(models.OutcomeEvent{Kind: "merge", Merge: &report.Merges[i]})
	}
	for i := range report.Emails {
		send(models.OutcomeEvent{Kind: "email", Email: &report.Emails[i]})
	}
}

type nopRecorder struct{}

func (nopRecorder) Email(models.OutcomeKind)   {}
func (nopRecorder) Merge(models.MergeStatus)   {}
func (nopRecorder) Conflict(resolution.Source) {}
