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

package merge

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/bcem/tracker/internal/models"
)

// fakeStore is an in-memory Store for merge tests.
type fakeStore struct {
	apps      map[int64]models.Application
	upserts   int
	deletes   int
	failWrite bool
}

func newFakeStore(apps ...models.Application) *fakeStore {
	s := &fakeStore{apps: make(map[int64]models.Application)}
	for _, a := range apps {
		s.apps[a.ID] = a
	}
	return s
}

func (s *fakeStore) List(context.Context) ([]models.Application, error) {
	out := make([]models.Application, 0, len(s.apps))
	for _, a := range s.apps {
		out = append(out, a.Clone())
	}
	slices.SortFunc(out, func(a, b models.Application) int { return int(a.ID - b.ID) })
	return out, nil
}

func (s *fakeStore) Upsert(_ context.Context, a models.Application) error {
	if s.failWrite {
		return errors.New("write failed")
	}
	s.upserts++
	s.apps[a.ID] = a.Clone()
	return nil
}

func (s *fakeStore) Delete(_ context.Context, id int64) error {
	if s.failWrite {
		return errors.New("write failed")
	}
	s.deletes++
	delete(s.apps, id)
	return nil
}

// fakeHistory records merge log entries in order.
type fakeHistory struct {
	records []models.MergeRecord
	fail    bool
}

func (h *fakeHistory) Record(_ context.Context, rec models.MergeRecord) error {
	if h.fail {
		return errors.New("history unavailable")
	}
	h.records = append(h.records, rec)
	return nil
}

func (h *fakeHistory) List(context.Context) ([]models.MergeRecord, error) {
	return slices.Clone(h.records), nil
}

var day = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func appl(id int64, status string, count int, notes string, threads ...string) models.Application {
	return models.Application{
		ID:              id,
		Company:         "Acme",
		Position:        "Engineer",
		Status:          status,
		EmailCount:      count,
		Notes:           notes,
		ThreadIDs:       threads,
		ApplicationDate: day,
		LastUpdated:     day,
		LatestEmailDate: day,
	}
}

// Scenario D.
func TestRun_MergesIntoTarget(t *testing.T) {
	source := appl(15, "Rejected", 1, "rejection email", "t-src")
	source.ApplicationDate = day.AddDate(0, 0, -5)
	source.LatestEmailDate = day.AddDate(0, 0, 10)
	source.LatestEmailLink = "https://mail/15"
	target := appl(8, "Interview", 3, "recruiter call", "t-tgt")

	store := newFakeStore(source, target)
	c := NewCoordinator(store, nil, nil)

	out, err := c.Run(context.Background(), []models.MergeRequest{{SourceID: 15, TargetID: 8}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out[0].Status != models.MergeExecuted {
		t.Fatalf("status = %s (%s), want executed", out[0].Status, out[0].Reason)
	}
	if _, ok := store.apps[15]; ok {
		t.Error("source application still present")
	}

	merged := store.apps[8]
	if merged.Status != "Rejected" {
		t.Errorf("status = %q, want %q", merged.Status, "Rejected")
	}
	if merged.EmailCount != 4 {
		t.Errorf("email_count = %d, want 4", merged.EmailCount)
	}
	if merged.Notes != "recruiter call | rejection email" {
		t.Errorf("notes = %q", merged.Notes)
	}
	if !merged.ApplicationDate.Equal(source.ApplicationDate) {
		t.Errorf("application_date = %v, want earliest %v", merged.ApplicationDate, source.ApplicationDate)
	}
	if !merged.LatestEmailDate.Equal(source.LatestEmailDate) || merged.LatestEmailLink != "https://mail/15" {
		t.Errorf("latest email = %v %q, want source's", merged.LatestEmailDate, merged.LatestEmailLink)
	}
	if !merged.HasThread("t-src") || !merged.HasThread("t-tgt") {
		t.Errorf("thread_ids = %v, want union", merged.ThreadIDs)
	}
}

func TestRun_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		apps   []models.Application
		reqs   []models.MergeRequest
		want   []string
		remain int
	}{
		{
			name:   "self merge",
			apps:   []models.Application{appl(1, "Applied", 1, "")},
			reqs:   []models.MergeRequest{{SourceID: 1, TargetID: 1}},
			want:   []string{ReasonSelfMerge},
			remain: 1,
		},
		{
			name:   "missing source",
			apps:   []models.Application{appl(1, "Applied", 1, "")},
			reqs:   []models.MergeRequest{{SourceID: 2, TargetID: 1}},
			want:   []string{ReasonSourceMissing},
			remain: 1,
		},
		{
			name:   "missing target",
			apps:   []models.Application{appl(1, "Applied", 1, "")},
			reqs:   []models.MergeRequest{{SourceID: 1, TargetID: 9}},
			want:   []string{ReasonTargetMissing},
			remain: 1,
		},
		{
			name:   "circular in batch",
			apps:   []models.Application{appl(1, "Applied", 1, ""), appl(2, "Applied", 1, "")},
			reqs:   []models.MergeRequest{{SourceID: 1, TargetID: 2}, {SourceID: 2, TargetID: 1}},
			want:   []string{ReasonCircular, ReasonCircular},
			remain: 2,
		},
		{
			name: "chain",
			apps: []models.Application{appl(1, "Applied", 1, ""), appl(2, "Applied", 1, ""), appl(3, "Applied", 1, "")},
			reqs: []models.MergeRequest{{SourceID: 1, TargetID: 2}, {SourceID: 2, TargetID: 3}},
			want: []string{ReasonChain, ""},
			// 2 folds into 3; 1 stays because its target was scheduled away.
			remain: 2,
		},
		{
			name:   "duplicate source",
			apps:   []models.Application{appl(1, "Applied", 1, ""), appl(2, "Applied", 1, ""), appl(3, "Applied", 1, "")},
			reqs:   []models.MergeRequest{{SourceID: 1, TargetID: 2}, {SourceID: 1, TargetID: 3}},
			want:   []string{"", ReasonDuplicateSource},
			remain: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(tt.apps...)
			out, err := NewCoordinator(store, nil, nil).Run(context.Background(), tt.reqs)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			for i, want := range tt.want {
				if want == "" {
					if out[i].Status != models.MergeExecuted {
						t.Errorf("req %d status = %s (%s), want executed", i, out[i].Status, out[i].Reason)
					}
					continue
				}
				if out[i].Status != models.MergeRejected || out[i].Reason != want {
					t.Errorf("req %d = %s/%q, want rejected/%q", i, out[i].Status, out[i].Reason, want)
				}
			}
			if len(store.apps) != tt.remain {
				t.Errorf("%d applications remain, want %d", len(store.apps), tt.remain)
			}
		})
	}
}

// Merge acyclicity: a cycle expressed through merge_into cells leaves both
// applications untouched.
func TestRun_CircularCellsLeaveBothUntouched(t *testing.T) {
	a := appl(1, "Interview", 2, "a")
	a.MergeInto = 2
	b := appl(2, "Applied", 1, "b")
	b.MergeInto = 1
	store := newFakeStore(a, b)

	out, err := NewCoordinator(store, nil, nil).Run(context.Background(), Pending([]models.Application{a, b}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, r := range out {
		if r.Status != models.MergeRejected || r.Reason != ReasonCircular {
			t.Errorf("request %d->%d = %s/%q, want circular rejection", r.SourceID, r.TargetID, r.Status, r.Reason)
		}
	}
	if store.upserts != 0 || store.deletes != 0 {
		t.Errorf("store mutated: %d upserts, %d deletes", store.upserts, store.deletes)
	}
	if store.apps[1].Notes != "a" || store.apps[2].Notes != "b" {
		t.Error("application data changed")
	}
}

func TestRun_StoreFailureIsFatal(t *testing.T) {
	store := newFakeStore(appl(1, "Applied", 1, ""), appl(2, "Applied", 1, ""))
	store.failWrite = true
	if _, err := NewCoordinator(store, nil, nil).Run(context.Background(), []models.MergeRequest{{SourceID: 1, TargetID: 2}}); err == nil {
		t.Error("expected store error")
	}
}

func TestCombine_Status(t *testing.T) {
	c := NewCoordinator(nil, nil, nil)
	tests := []struct {
		target, source, want string
	}{
		{"Interview", "Applied", "Interview"},
		{"Applied", "Assessment", "Assessment"},
		{"Offer Received", "Rejected", "Rejected"},
		{"Rejected", "Offer Received", "Rejected"},
		{"Interview", "Withdrawn", "Withdrawn"},
		{"Withdrawn", "Withdrawn", "Withdrawn"},
		{"Weird", "Other", "Weird"},
		{"Weird", "Applied", "Applied"},
	}
	for _, tt := range tests {
		got := c.Combine(appl(2, tt.target, 1, ""), appl(1, tt.source, 1, "")).Status
		if got != tt.want {
			t.Errorf("Combine(target=%q, source=%q).Status = %q, want %q", tt.target, tt.source, got, tt.want)
		}
	}
}

func TestCombine_Notes(t *testing.T) {
	c := NewCoordinator(nil, nil, nil)
	tests := []struct{ target, source, want string }{
		{"", "", ""},
		{"t", "", "t"},
		{"", "s", "s"},
		{"t", "s", "t | s"},
	}
	for _, tt := range tests {
		if got := c.Combine(appl(2, "Applied", 1, tt.target), appl(1, "Applied", 1, tt.source)).Notes; got != tt.want {
			t.Errorf("notes(%q, %q) = %q, want %q", tt.target, tt.source, got, tt.want)
		}
	}
}

func TestPending(t *testing.T) {
	a := appl(5, "Applied", 1, "")
	a.MergeInto = 1
	b := appl(2, "Applied", 1, "")
	b.MergeInto = 1
	reqs := Pending([]models.Application{a, appl(1, "Applied", 1, ""), b})
	if len(reqs) != 2 || reqs[0].SourceID != 2 || reqs[1].SourceID != 5 {
		t.Fatalf("Pending = %+v", reqs)
	}
	if reqs[0].Status != models.MergePending {
		t.Errorf("status = %s, want pending", reqs[0].Status)
	}
	if !reqs[0].FromCell {
		t.Error("request not marked as read from a cell")
	}
}

func TestExecute_RecordsHistory(t *testing.T) {
	source := appl(15, "Rejected", 1, "", "t-shared", "t-src")
	source.Company = "Acme Corp"
	target := appl(8, "Interview", 3, "", "t-shared")
	store := newFakeStore(source, target)
	history := &fakeHistory{}
	c := NewCoordinator(store, nil, history)
	c.now = func() time.Time { return day }

	if _, err := c.Run(context.Background(), []models.MergeRequest{{SourceID: 15, TargetID: 8}}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(history.records) != 1 {
		t.Fatalf("%d history records, want 1", len(history.records))
	}
	rec := history.records[0]
	if rec.Outcome != models.MergeExecuted || rec.SourceID != 15 || rec.TargetID != 8 {
		t.Errorf("record = %+v", rec)
	}
	if rec.ID == "" || !rec.RecordedAt.Equal(day) {
		t.Errorf("id = %q, recorded_at = %v", rec.ID, rec.RecordedAt)
	}
	if rec.SourceCompany != "Acme Corp" || rec.TargetCompany != "Acme" || rec.TargetPosition != "Engineer" {
		t.Errorf("names = %q/%q -> %q/%q", rec.SourceCompany, rec.SourcePosition, rec.TargetCompany, rec.TargetPosition)
	}
	if !slices.Equal(rec.MovedThreads, []string{"t-src"}) {
		t.Errorf("moved threads = %v, want [t-src]", rec.MovedThreads)
	}
}

func TestExecute_HistoryFailureKeepsMerge(t *testing.T) {
	store := newFakeStore(appl(1, "Applied", 1, ""), appl(2, "Applied", 1, ""))
	c := NewCoordinator(store, nil, &fakeHistory{fail: true})

	out, err := c.Run(context.Background(), []models.MergeRequest{{SourceID: 1, TargetID: 2}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out[0].Status != models.MergeExecuted {
		t.Errorf("status = %s, want executed", out[0].Status)
	}
	if _, ok := store.apps[1]; ok {
		t.Error("source application still present")
	}
}

func TestPendingCells_RejectedOnce(t *testing.T) {
	a := appl(1, "Applied", 1, "a")
	a.MergeInto = 1
	store := newFakeStore(a, appl(2, "Applied", 1, "b"))
	history := &fakeHistory{}
	c := NewCoordinator(store, nil, history)
	ctx := context.Background()

	rejected := 0
	for run := 0; run < 2; run++ {
		reqs, err := c.Pending(ctx)
		if err != nil {
			t.Fatalf("run %d: Pending: %v", run, err)
		}
		out, err := c.Run(ctx, reqs)
		if err != nil {
			t.Fatalf("run %d: Run: %v", run, err)
		}
		for _, r := range out {
			if r.Status == models.MergeRejected {
				rejected++
			}
		}
	}
	if rejected != 1 {
		t.Errorf("%d rejections over two runs, want 1", rejected)
	}
	if len(history.records) != 1 || history.records[0].Reason != ReasonSelfMerge {
		t.Errorf("history = %+v, want one self-merge rejection", history.records)
	}
	if store.upserts != 0 || store.deletes != 0 {
		t.Errorf("store mutated: %d upserts, %d deletes", store.upserts, store.deletes)
	}

	// Pointing the cell somewhere valid queues it again.
	fixed := store.apps[1]
	fixed.MergeInto = 2
	store.apps[1] = fixed

	reqs, err := c.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	out, err := c.Run(ctx, reqs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != 1 || out[0].Status != models.MergeExecuted {
		t.Fatalf("after fixing the cell: %+v", out)
	}
}

func TestPendingCells_CycleRejectedOnce(t *testing.T) {
	a := appl(1, "Applied", 1, "a")
	a.MergeInto = 2
	b := appl(2, "Applied", 1, "b")
	b.MergeInto = 1
	history := &fakeHistory{}
	c := NewCoordinator(newFakeStore(a, b), nil, history)
	ctx := context.Background()

	for run := 0; run < 3; run++ {
		reqs, err := c.Pending(ctx)
		if err != nil {
			t.Fatalf("Pending: %v", err)
		}
		if _, err := c.Run(ctx, reqs); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	if len(history.records) != 2 {
		t.Errorf("%d history records, want one per cell", len(history.records))
	}
}
