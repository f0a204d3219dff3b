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

package matcher

import (
	"math"
	"testing"
	"time"

	"github.com/bcem/tracker/internal/models"
)

var now = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func app(id int64, company, position string, latest time.Time, threads ...string) models.Application {
	return models.Application{
		ID:              id,
		Company:         company,
		Position:        position,
		Status:          "Applied",
		ApplicationDate: latest,
		LastUpdated:     latest,
		EmailCount:      1,
		LatestEmailDate: latest,
		ThreadIDs:       threads,
	}
}

func email(thread, company, position string) models.EmailRecord {
	return models.EmailRecord{
		MessageID: "m-" + thread,
		ThreadID:  thread,
		Date:      now,
		Extracted: models.Extraction{Company: company, Position: position, Status: "Applied", Confidence: 0.9},
	}
}

func newMatcher() *Matcher {
	return New(nil, DefaultConfig())
}

func TestMatch_NoApplications(t *testing.T) {
	if _, ok := newMatcher().Match(email("t1", "Acme", "Engineer"), nil); ok {
		t.Error("expected no match against empty collection")
	}
}

func TestMatch_ThreadIDWins(t *testing.T) {
	apps := []models.Application{
		app(1, "Acme", "Engineer", now.AddDate(0, 0, -1)),
		app(2, "Other Corp", "Designer", now.AddDate(0, 0, -40), "t1"),
	}
	c, ok := newMatcher().Match(email("t1", "Acme", "Engineer"), apps)
	if !ok {
		t.Fatal("expected match")
	}
	if c.ApplicationID != 2 || c.Strategy != models.StrategyThreadID || c.Confidence != 100 {
		t.Errorf("got %+v, want thread match on app 2", c)
	}
}

func TestMatch_ThreadIDMultipleOwnersPicksMostRecentlyUpdated(t *testing.T) {
	older := app(1, "Acme", "Engineer", now.AddDate(0, 0, -9), "t1")
	newer := app(2, "Acme", "Engineer", now.AddDate(0, 0, -2), "t1")
	c, ok := newMatcher().Match(email("t1", "", ""), []models.Application{older, newer})
	if !ok || c.ApplicationID != 2 {
		t.Errorf("got %+v, want app 2", c)
	}
}

func TestMatch_Exact(t *testing.T) {
	apps := []models.Application{
		app(1, "Google", "Software Engineer", now.AddDate(0, -3, 0)),
		app(2, "Google Inc.", "Product Manager", now.AddDate(0, -3, 0)),
	}
	c, ok := newMatcher().Match(email("new", "google inc", "product  manager"), apps)
	if !ok || c.ApplicationID != 2 || c.Strategy != models.StrategyExact || c.Confidence != 95 {
		t.Errorf("got %+v, want exact match on app 2", c)
	}
}

func TestMatch_ExactTieBreaksOnLatestEmail(t *testing.T) {
	apps := []models.Application{
		app(1, "Google", "Software Engineer", now.AddDate(0, -3, 0)),
		app(2, "Google", "Software Engineer", now.AddDate(0, 0, -5)),
		app(3, "Google LLC", "Software Engineer", now.AddDate(0, -1, 0)),
	}
	c, ok := newMatcher().Match(email("new", "Google", "Software Engineer"), apps)
	if !ok || c.ApplicationID != 2 || c.Strategy != models.StrategyExact {
		t.Errorf("got %+v, want exact match on app 2", c)
	}
}

func TestMatch_Fuzzy(t *testing.T) {
	apps := []models.Application{
		app(1, "Datadog", "Senior Backend Engineer", now.AddDate(0, -2, 0)),
	}
	c, ok := newMatcher().Match(email("new", "Data dog", "Sr Backend Engineer"), apps)
	if !ok {
		t.Fatal("expected fuzzy match")
	}
	if c.Strategy != models.StrategyFuzzy {
		t.Errorf("strategy = %s, want fuzzy", c.Strategy)
	}
	if c.Confidence < 80 || c.Confidence > 90 {
		t.Errorf("confidence = %d, want within [80, 90]", c.Confidence)
	}
}

func TestMatch_FuzzyTieBreaksOnLatestEmail(t *testing.T) {
	apps := []models.Application{
		app(1, "Datadog", "Senior Backend Engineer", now.AddDate(0, -3, 0)),
		app(2, "Datadog", "Senior Backend Engineer", now.AddDate(0, -2, 0)),
	}
	c, ok := newMatcher().Match(email("new", "Data dog", "Sr Backend Engineer"), apps)
	if !ok || c.ApplicationID != 2 {
		t.Errorf("got %+v, want app 2", c)
	}
}

// Scenario C: the combined score clears 80 but position_sim is below its gate.
func TestFuzzyScore_IndividualGatesAreMandatory(t *testing.T) {
	m := newMatcher()
	combined, ok := m.FuzzyScore(90, 70)
	if ok {
		t.Error("expected rejection with position_sim < 75")
	}
	if math.Abs(combined-82) > 1e-9 {
		t.Errorf("combined = %v, want 82", combined)
	}
	if _, ok := m.FuzzyScore(84, 100); ok {
		t.Error("expected rejection with company_sim < 85")
	}
	if combined, ok := m.FuzzyScore(85, 75); !ok || math.Abs(combined-81) > 1e-9 {
		t.Errorf("FuzzyScore(85, 75) = %v, %v; want 81, true", combined, ok)
	}
}

func TestMatch_RecentCompany(t *testing.T) {
	apps := []models.Application{
		app(1, "Acme LLC", "Data Scientist", now.AddDate(0, 0, -10)),
	}
	c, ok := newMatcher().Match(email("new", "ACME", "Unrelated Role Title"), apps)
	if !ok || c.ApplicationID != 1 || c.Strategy != models.StrategyRecentCompany || c.Confidence != 70 {
		t.Errorf("got %+v, want recent company match on app 1", c)
	}
}

func TestMatch_RecentCompanyAmbiguousIsNoMatch(t *testing.T) {
	apps := []models.Application{
		app(1, "Acme", "Data Scientist", now.AddDate(0, 0, -10)),
		app(2, "Acme", "Platform Engineer", now.AddDate(0, 0, -3)),
	}
	if c, ok := newMatcher().Match(email("new", "Acme", "Recruiter Follow-up"), apps); ok {
		t.Errorf("expected ambiguity to yield no match, got %+v", c)
	}
}

func TestMatch_RecentCompanyOutsideWindow(t *testing.T) {
	apps := []models.Application{
		app(1, "Acme", "Data Scientist", now.AddDate(0, 0, -31)),
	}
	if _, ok := newMatcher().Match(email("new", "Acme", ""), apps); ok {
		t.Error("expected no match outside 30 day window")
	}
}

func TestMatch_NoCompanyNoThread(t *testing.T) {
	apps := []models.Application{app(1, "Acme", "Engineer", now)}
	if _, ok := newMatcher().Match(email("new", "Unknown", "Engineer"), apps); ok {
		t.Error("expected no match without company or thread")
	}
}
