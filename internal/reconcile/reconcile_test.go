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

package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bcem/tracker/internal/models"
	"github.com/bcem/tracker/internal/resolution"
	"github.com/bcem/tracker/internal/store"
)

var base = time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)

func mail(id, thread, company, position, status string, day int) models.EmailRecord {
	return models.EmailRecord{
		MessageID: id,
		ThreadID:  thread,
		Date:      base.AddDate(0, 0, day),
		Link:      "https://mail.example/" + id,
		Extracted: models.Extraction{Company: company, Position: position, Status: status, Confidence: 0.9},
	}
}

type fixture struct {
	store *store.Memory
	orch  *Orchestrator
	asker *scriptedAsker
}

func newFixture(t *testing.T, apps ...models.Application) *fixture {
	t.Helper()
	s := store.NewMemory(apps...)
	return &fixture{store: s}
}

func (f *fixture) build(cfg Config) *Orchestrator {
	cfg.Store = f.store
	if cfg.Learner == nil {
		cfg.Learner = resolution.NewLearner(f.store.Resolutions(), nil)
	}
	if cfg.History == nil {
		cfg.History = f.store.MergeHistory()
	}
	if f.asker != nil {
		cfg.Asker = f.asker
	}
	f.orch = New(cfg)
	return f.orch
}

func (f *fixture) app(t *testing.T, id int64) models.Application {
	t.Helper()
	apps, _ := f.store.List(context.Background())
	for _, a := range apps {
		if a.ID == id {
			return a
		}
	}
	t.Fatalf("application %d not found", id)
	return models.Application{}
}

// scriptedAsker answers every conflict with the same decision.
type scriptedAsker struct {
	answer models.Resolution
	calls  int
}

func (a *scriptedAsker) Ask(_ context.Context, _ models.Conflict, _ []models.DecisionKind) (models.Resolution, error) {
	a.calls++
	return a.answer, nil
}

type fakeTracker struct {
	seen   map[string]bool
	marked []string
}

func (f *fakeTracker) IsProcessed(_ context.Context, id string) (bool, error) {
	return f.seen[id], nil
}

func (f *fakeTracker) MarkProcessed(_ context.Context, id string) error {
	f.marked = append(f.marked, id)
	return nil
}

type fakeSink struct {
	events []models.OutcomeEvent
	err    error
}

func (f *fakeSink) Publish(_ context.Context, ev models.OutcomeEvent) error {
	f.events = append(f.events, ev)
	return f.err
}

type countingRecorder struct {
	emails    map[models.OutcomeKind]int
	merges    map[models.MergeStatus]int
	conflicts map[resolution.Source]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		emails:    map[models.OutcomeKind]int{},
		merges:    map[models.MergeStatus]int{},
		conflicts: map[resolution.Source]int{},
	}
}

func (r *countingRecorder) Email(o models.OutcomeKind) { r.emails[o]++ }
func (r *countingRecorder) Merge(s models.MergeStatus) { r.merges[s]++ }
func (r *countingRecorder) Conflict(s resolution.Source) { r.conflicts[s]++ }

func reconcile(t *testing.T, o *Orchestrator, emails []models.EmailRecord, merges []models.MergeRequest) *Report {
	t.Helper()
	report, err := o.Reconcile(context.Background(), emails, merges)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	return report
}

// Scenario A.
func TestReconcile_CreateThenAdvanceOnThread(t *testing.T) {
	f := newFixture(t)
	o := f.build(Config{})

	report := reconcile(t, o, []models.EmailRecord{
		mail("m2", "T1", "Google", "Software Engineer", "Interview", 5),
		mail("m1", "T1", "Google Inc.", "Software Engineer", "Applied", 0),
	}, nil)

	if len(report.Emails) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(report.Emails))
	}
	first, second := report.Emails[0], report.Emails[1]
	if first.MessageID != "m1" || first.Outcome != models.OutcomeCreated {
		t.Errorf("first = %+v, want m1 created", first)
	}
	if second.Outcome != models.OutcomeUpdated || second.Strategy != models.StrategyThreadID || second.Conflict {
		t.Errorf("second = %+v, want thread update without conflict", second)
	}

	app := f.app(t, first.ApplicationID)
	if app.Company != "Google Inc." {
		t.Errorf("company = %q, want %q", app.Company, "Google Inc.")
	}
	if app.Status != "Interview" {
		t.Errorf("status = %q, want Interview", app.Status)
	}
	if app.EmailCount != 2 {
		t.Errorf("email_count = %d, want 2", app.EmailCount)
	}
	if !app.ApplicationDate.Equal(base) || !app.LatestEmailDate.Equal(base.AddDate(0, 0, 5)) {
		t.Errorf("dates = %v / %v", app.ApplicationDate, app.LatestEmailDate)
	}
	if app.LatestEmailLink != "https://mail.example/m2" {
		t.Errorf("latest link = %q", app.LatestEmailLink)
	}
	if report.Totals.Created != 1 || report.Totals.Updated != 1 {
		t.Errorf("totals = %+v", report.Totals)
	}
	if report.RunID == "" || report.FinishedAt.Before(report.StartedAt) {
		t.Errorf("run metadata = %q %v %v", report.RunID, report.StartedAt, report.FinishedAt)
	}
}

// Scenario B.
func TestReconcile_NoDowngrade(t *testing.T) {
	f := newFixture(t, models.Application{
		ID: 1, Company: "Acme", Position: "Engineer", Status: "Interview",
		EmailCount: 2, ApplicationDate: base, LastUpdated: base, LatestEmailDate: base,
		ThreadIDs: []string{"T1"},
	})
	report := reconcile(t, f.build(Config{}), []models.EmailRecord{mail("m1", "T1", "Acme", "Engineer", "Applied", 3)}, nil)

	app := f.app(t, 1)
	if app.Status != "Interview" || app.EmailCount != 3 {
		t.Errorf("status/count = %s/%d, want Interview/3", app.Status, app.EmailCount)
	}
	if !app.LastUpdated.Equal(base) {
		t.Errorf("last_updated moved without a status change: %v", app.LastUpdated)
	}
	if report.Emails[0].PreviousStatus != "Interview" || report.Emails[0].NewStatus != "Interview" {
		t.Errorf("outcome statuses = %+v", report.Emails[0])
	}
}

func TestReconcile_ThreadBeatsExact(t *testing.T) {
	f := newFixture(t,
		models.Application{ID: 1, Company: "Initech", Position: "Analyst", Status: "Applied", EmailCount: 1, ThreadIDs: []string{"T9"}, LatestEmailDate: base},
		models.Application{ID: 2, Company: "Acme", Position: "Engineer", Status: "Applied", EmailCount: 1, LatestEmailDate: base},
	)
	report := reconcile(t, f.build(Config{}), []models.EmailRecord{mail("m1", "T9", "Acme", "Engineer", "", 1)}, nil)

	out := report.Emails[0]
	if out.ApplicationID != 1 || out.Strategy != models.StrategyThreadID {
		t.Fatalf("outcome = %+v, want thread match on 1", out)
	}
	if !out.Conflict || out.Resolution != models.DecisionKeepExisting || out.ResolutionSource != string(resolution.SourceDefault) {
		t.Errorf("outcome = %+v, want default keep_existing conflict", out)
	}
	if got := f.app(t, 1); got.Company != "Initech" || got.EmailCount != 2 {
		t.Errorf("app 1 = %+v", got)
	}
	if got := f.app(t, 2); got.EmailCount != 1 {
		t.Errorf("app 2 touched: %+v", got)
	}
}

func TestReconcile_CreateSeparateRepointsThread(t *testing.T) {
	f := newFixture(t, models.Application{
		ID: 1, Company: "Google", Position: "SWE", Status: "Interview",
		EmailCount: 3, ThreadIDs: []string{"T1", "T2"}, LatestEmailDate: base,
	})
	f.asker = &scriptedAsker{answer: models.Resolution{Decision: models.DecisionCreateSeparate}}
	report := reconcile(t, f.build(Config{}), []models.EmailRecord{mail("m1", "T1", "Alphabet", "SWE", "Applied", 1)}, nil)

	out := report.Emails[0]
	if out.Outcome != models.OutcomeCreatedSeparate || out.ApplicationID == 1 {
		t.Fatalf("outcome = %+v, want created_separate", out)
	}
	old := f.app(t, 1)
	if old.HasThread("T1") || !old.HasThread("T2") {
		t.Errorf("old threads = %v, want only T2", old.ThreadIDs)
	}
	if old.EmailCount != 3 || old.Company != "Google" || old.Status != "Interview" {
		t.Errorf("old application changed: %+v", old)
	}
	created := f.app(t, out.ApplicationID)
	if created.Company != "Alphabet" || created.EmailCount != 1 || len(created.ThreadIDs) != 1 || created.ThreadIDs[0] != "T1" {
		t.Errorf("new application = %+v", created)
	}
}

func TestReconcile_UseNewAndPerField(t *testing.T) {
	tests := []struct {
		name         string
		answer       models.Resolution
		wantCompany  string
		wantPosition string
	}{
		{"use new", models.Resolution{Decision: models.DecisionUseNew}, "Alphabet", "Staff SWE"},
		{"per field", models.Resolution{
			Decision: models.DecisionPerField,
			Values:   map[models.Field]string{models.FieldPosition: "Staff Software Engineer"},
		}, "Google", "Staff Software Engineer"},
		{"keep existing", models.Resolution{Decision: models.DecisionKeepExisting}, "Google", "SWE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, models.Application{ID: 1, Company: "Google", Position: "SWE", Status: "Applied", EmailCount: 1, ThreadIDs: []string{"T1"}})
			f.asker = &scriptedAsker{answer: tt.answer}
			reconcile(t, f.build(Config{}), []models.EmailRecord{mail("m1", "T1", "Alphabet", "Staff SWE", "", 1)}, nil)

			got := f.app(t, 1)
			if got.Company != tt.wantCompany || got.Position != tt.wantPosition {
				t.Errorf("company/position = %q/%q, want %q/%q", got.Company, got.Position, tt.wantCompany, tt.wantPosition)
			}
			if got.EmailCount != 2 {
				t.Errorf("email_count = %d, want 2", got.EmailCount)
			}
		})
	}
}

// Learning idempotence across emails in one run and across runs.
func TestReconcile_PromptsOncePerFingerprint(t *testing.T) {
	f := newFixture(t, models.Application{ID: 1, Company: "Google", Position: "SWE", Status: "Applied", EmailCount: 1, ThreadIDs: []string{"T1"}})
	f.asker = &scriptedAsker{answer: models.Resolution{Decision: models.DecisionKeepExisting}}
	rec := newCountingRecorder()
	o := f.build(Config{Metrics: rec})

	reconcile(t, o, []models.EmailRecord{
		mail("m1", "T1", "Alphabet", "SWE", "", 1),
		mail("m2", "T1", "alphabet", "swe", "", 2),
	}, nil)
	reconcile(t, o, []models.EmailRecord{mail("m3", "T1", "Alphabet Inc", "SWE", "", 3)}, nil)

	if f.asker.calls != 1 {
		t.Errorf("asker called %d times, want 1", f.asker.calls)
	}
	if rec.conflicts[resolution.SourceAsked] != 1 || rec.conflicts[resolution.SourceCached] != 2 {
		t.Errorf("conflict sources = %v", rec.conflicts)
	}
	if stored, _ := f.store.Resolutions().List(context.Background()); len(stored) != 1 {
		t.Errorf("stored resolutions = %d, want 1", len(stored))
	}
}

func TestReconcile_UpgradesPlaceholder(t *testing.T) {
	f := newFixture(t, models.Application{ID: 1, Company: "Acme", Position: "Unknown Position", Status: "Applied", EmailCount: 1, ThreadIDs: []string{"T1"}})
	f.asker = &scriptedAsker{}
	report := reconcile(t, f.build(Config{}), []models.EmailRecord{mail("m1", "T1", "Acme", "Data Engineer", "", 1)}, nil)

	if report.Emails[0].Conflict || f.asker.calls != 0 {
		t.Errorf("upgrade treated as conflict: %+v", report.Emails[0])
	}
	if got := f.app(t, 1).Position; got != "Data Engineer" {
		t.Errorf("position = %q, want Data Engineer", got)
	}
}

func TestReconcile_Skips(t *testing.T) {
	tracker := &fakeTracker{seen: map[string]bool{"old": true}}
	f := newFixture(t)
	report := reconcile(t, f.build(Config{Processed: tracker}), []models.EmailRecord{
		mail("", "T0", "Acme", "Engineer", "Applied", 0),
		mail("old", "T1", "Acme", "Engineer", "Applied", 1),
		mail("anon", "T2", "Unknown", "Engineer", "Applied", 2),
		mail("new", "T3", "Acme", "Engineer", "Bogus Token", 3),
	}, nil)

	want := []struct {
		outcome models.OutcomeKind
		reason  string
	}{
		{models.OutcomeSkipped, models.SkipMissingMessageID},
		{models.OutcomeSkipped, models.SkipAlreadyProcessed},
		{models.OutcomeSkipped, models.SkipNoCompany},
		{models.OutcomeCreated, ""},
	}
	for i, w := range want {
		if report.Emails[i].Outcome != w.outcome || report.Emails[i].Reason != w.reason {
			t.Errorf("emails[%d] = %s/%q, want %s/%q", i, report.Emails[i].Outcome, report.Emails[i].Reason, w.outcome, w.reason)
		}
	}
	if len(tracker.marked) != 1 || tracker.marked[0] != "new" {
		t.Errorf("marked = %v, want [new]", tracker.marked)
	}
	if got := f.app(t, report.Emails[3].ApplicationID).Status; got != "Applied" {
		t.Errorf("status for unknown token = %q, want the initial status", got)
	}
	if report.Totals.Skipped != 3 {
		t.Errorf("skipped = %d, want 3", report.Totals.Skipped)
	}
}

func TestReconcile_MergesRunBeforeEmails(t *testing.T) {
	f := newFixture(t,
		models.Application{ID: 8, Company: "Acme", Position: "Engineer", Status: "Interview", EmailCount: 3, ThreadIDs: []string{"T8"}, Notes: "call"},
		models.Application{ID: 15, Company: "Acme", Position: "Engineer", Status: "Applied", EmailCount: 1, ThreadIDs: []string{"T15"}, MergeInto: 8},
	)
	rec := newCountingRecorder()
	o := f.build(Config{Metrics: rec})

	merges, err := o.PendingMerges(context.Background())
	if err != nil {
		t.Fatalf("PendingMerges: %v", err)
	}
	merges = append(merges, models.MergeRequest{SourceID: 99, TargetID: 8})
	report := reconcile(t, o, []models.EmailRecord{mail("m1", "T15", "Acme", "Engineer", "", 1)}, merges)

	if len(report.Merges) != 2 || report.Merges[0].Status != models.MergeExecuted || report.Merges[1].Status != models.MergeRejected {
		t.Fatalf("merges = %+v", report.Merges)
	}
	if report.Emails[0].ApplicationID != 8 || report.Emails[0].Strategy != models.StrategyThreadID {
		t.Errorf("email outcome = %+v, want thread match on merged target 8", report.Emails[0])
	}
	if got := f.app(t, 8); got.EmailCount != 5 {
		t.Errorf("email_count = %d, want 3+1 merged +1 email", got.EmailCount)
	}
	if rec.merges[models.MergeExecuted] != 1 || rec.merges[models.MergeRejected] != 1 {
		t.Errorf("merge metrics = %v", rec.merges)
	}
}

func TestReconcile_RejectedCellCountedOnce(t *testing.T) {
	f := newFixture(t,
		models.Application{ID: 1, Company: "Acme", Position: "Engineer", Status: "Applied", EmailCount: 1, MergeInto: 2},
		models.Application{ID: 2, Company: "Acme", Position: "Engineer", Status: "Applied", EmailCount: 1, MergeInto: 1},
	)
	rec := newCountingRecorder()
	sink := &fakeSink{}
	o := f.build(Config{Metrics: rec, Events: sink})

	for run := 0; run < 2; run++ {
		merges, err := o.PendingMerges(context.Background())
		if err != nil {
			t.Fatalf("PendingMerges: %v", err)
		}
		reconcile(t, o, nil, merges)
	}
	if rec.merges[models.MergeRejected] != 2 {
		t.Errorf("rejections counted = %d, want one per cell", rec.merges[models.MergeRejected])
	}
	if len(sink.events) != 2 {
		t.Errorf("events = %d, want one per cell", len(sink.events))
	}
	if got := f.app(t, 1); got.MergeInto != 2 || got.EmailCount != 1 {
		t.Errorf("application 1 changed: %+v", got)
	}
}

func TestReconcile_PublishesEvents(t *testing.T) {
	sink := &fakeSink{err: errors.New("redis down")}
	f := newFixture(t)
	report := reconcile(t, f.build(Config{Events: sink}), []models.EmailRecord{
		mail("m1", "T1", "Acme", "Engineer", "Applied", 0),
		mail("m2", "T2", "Globex", "Designer", "Applied", 1),
	}, nil)

	if len(sink.events) != 2 {
		t.Fatalf("events = %d, want 2", len(sink.events))
	}
	for _, ev := range sink.events {
		if ev.RunID != report.RunID || ev.ID == "" || ev.Kind != "email" || ev.Email == nil {
			t.Errorf("event = %+v", ev)
		}
	}
}

type failingUpserts struct {
	*store.Memory
}

func (failingUpserts) Upsert(context.Context, models.Application) error {
	return errors.New("store unavailable")
}

func TestReconcile_StoreFailureFlushesLearned(t *testing.T) {
	mem := store.NewMemory(models.Application{ID: 1, Company: "Google", Position: "SWE", Status: "Applied", EmailCount: 1, ThreadIDs: []string{"T1"}})
	asker := &scriptedAsker{answer: models.Resolution{Decision: models.DecisionUseNew}}
	o := New(Config{
		Store:   failingUpserts{mem},
		Learner: resolution.NewLearner(mem.Resolutions(), nil),
		Asker:   asker,
	})

	report, err := o.Reconcile(context.Background(), []models.EmailRecord{mail("m1", "T1", "Alphabet", "SWE", "", 1)}, nil)
	if err == nil {
		t.Fatal("expected store error")
	}
	if report == nil || report.FinishedAt.IsZero() {
		t.Errorf("report = %+v, want finished report", report)
	}
	if stored, _ := mem.Resolutions().List(context.Background()); len(stored) != 1 {
		t.Errorf("learned resolution not flushed: %d stored", len(stored))
	}
}

func TestReconcile_InputNotReordered(t *testing.T) {
	emails := []models.EmailRecord{
		mail("b", "T1", "Acme", "Engineer", "", 2),
		mail("a", "T1", "Acme", "Engineer", "", 2),
		mail("c", "T1", "Acme", "Engineer", "", 1),
	}
	got := sortEmails(emails)
	if got[0].MessageID != "c" || got[1].MessageID != "a" || got[2].MessageID != "b" {
		t.Errorf("order = %s %s %s, want c a b", got[0].MessageID, got[1].MessageID, got[2].MessageID)
	}
	if emails[0].MessageID != "b" {
		t.Error("input slice was reordered")
	}
}
