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

// Package matcher attributes an incoming email to at most one tracked
// application. Strategies run in strict priority order and the first one
// producing a candidate wins:
//
//  1. ThreadId      (confidence 100) the application owns the email's thread
//  2. Exact         (confidence 95)  normalized company and position equal
//  3. Fuzzy         (confidence 80-90) gated token similarity
//  4. RecentCompany (confidence 70)  same company, recent, and unambiguous
package matcher

import (
	"log/slog"
	"math"
	"time"

	"github.com/bcem/tracker/internal/models"
	"github.com/bcem/tracker/internal/normalize"
)

// Config holds the matching thresholds.
type Config struct {
	CompanyThreshold  int           // minimum company similarity for Fuzzy
	PositionThreshold int           // minimum position similarity for Fuzzy
	CombinedThreshold float64       // minimum weighted score for Fuzzy
	CompanyWeight     float64       // weight of company similarity in the combined score
	RecentWindow      time.Duration // RecentCompany lookback from the latest email
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		CompanyThreshold:  85,
		PositionThreshold: 75,
		CombinedThreshold: 80,
		CompanyWeight:     0.6,
		RecentWindow:      30 * 24 * time.Hour,
	}
}

// Matcher finds the application an email belongs to.
type Matcher struct {
	norm *normalize.Normalizer
	cfg  Config
}

// New creates a matcher. A nil normalizer uses normalize.Default.
func New(n *normalize.Normalizer, cfg Config) *Matcher {
	if n == nil {
		n = normalize.Default
	}
	return &Matcher{norm: n, cfg: cfg}
}

// Match returns the winning candidate, or false when no strategy matches and
// the caller should create a new application.
func (m *Matcher) Match(email models.EmailRecord, apps []models.Application) (models.MatchCandidate, bool) {
	if len(apps) == 0 {
		return models.MatchCandidate{}, false
	}
	if c, ok := m.byThread(email, apps); ok {
		return c, true
	}

	company := m.norm.Company(email.Extracted.Company)
	position := m.norm.Position(email.Extracted.Position)
	if company == "" {
		return models.MatchCandidate{}, false
	}

	if position != "" {
		if c, ok := m.exact(company, position, apps); ok {
			return c, true
		}
		if c, ok := m.fuzzy(company, position, apps); ok {
			return c, true
		}
	}
	return m.recentCompany(company, email.Date, apps)
}

func (m *Matcher) byThread(email models.EmailRecord, apps []models.Application) (models.MatchCandidate, bool) {
	var best *models.Application
	hits := 0
	for i := range apps {
		if !apps[i].HasThread(email.ThreadID) {
			continue
		}
		hits++
		if best == nil || moreRecentlyUpdated(&apps[i], best) {
			best = &apps[i]
		}
	}
	if best == nil {
		return models.MatchCandidate{}, false
	}
	if hits > 1 {
		slog.Warn("thread id owned by several applications",
			"thread_id", email.ThreadID,
			"owners", hits,
			"chosen", best.ID,
		)
	}
	return models.MatchCandidate{ApplicationID: best.ID, Strategy: models.StrategyThreadID, Confidence: 100}, true
}

// exact prefers the application with the latest email when several share
// the normalised company and position.
func (m *Matcher) exact(company, position string, apps []models.Application) (models.MatchCandidate, bool) {
	var best *models.Application
	hits := 0
	for i := range apps {
		if m.norm.Company(apps[i].Company) != company || m.norm.Position(apps[i].Position) != position {
			continue
		}
		hits++
		if best == nil || apps[i].LatestEmailDate.After(best.LatestEmailDate) {
			best = &apps[i]
		}
	}
	if best == nil {
		return models.MatchCandidate{}, false
	}
	if hits > 1 {
		slog.Debug("several applications match exactly",
			"company", company,
			"position", position,
			"matches", hits,
			"chosen", best.ID,
		)
	}
	return models.MatchCandidate{ApplicationID: best.ID, Strategy: models.StrategyExact, Confidence: 95}, true
}

func (m *Matcher) fuzzy(company, position string, apps []models.Application) (models.MatchCandidate, bool) {
	var best *models.Application
	bestScore := 0.0
	for i := range apps {
		appCompany := m.norm.Company(apps[i].Company)
		appPosition := m.norm.Position(apps[i].Position)
		if appCompany == "" || appPosition == "" {
			continue
		}
		score, ok := m.FuzzyScore(normalize.Similarity(company, appCompany), normalize.Similarity(position, appPosition))
		if !ok {
			continue
		}
		if best == nil || score > bestScore ||
			(score == bestScore && apps[i].LatestEmailDate.After(best.LatestEmailDate)) {
			best, bestScore = &apps[i], score
		}
	}
	if best == nil {
		return models.MatchCandidate{}, false
	}
	return models.MatchCandidate{
		ApplicationID: best.ID,
		Strategy:      models.StrategyFuzzy,
		Confidence:    m.fuzzyConfidence(bestScore),
	}, true
}

// FuzzyScore applies the Fuzzy gate to a pair of similarities. Both
// individual thresholds are mandatory; a high combined score cannot make up
// for a weak company or position.
func (m *Matcher) FuzzyScore(companySim, positionSim int) (float64, bool) {
	combined := m.cfg.CompanyWeight*float64(companySim) + (1-m.cfg.CompanyWeight)*float64(positionSim)
	if companySim < m.cfg.CompanyThreshold || positionSim < m.cfg.PositionThreshold {
		return combined, false
	}
	return combined, combined >= m.cfg.CombinedThreshold
}

// fuzzyConfidence scales a combined score in [threshold, 100] linearly onto
// [80, 90].
func (m *Matcher) fuzzyConfidence(score float64) int {
	span := 100 - m.cfg.CombinedThreshold
	if span <= 0 {
		return 90
	}
	c := 80 + 10*(score-m.cfg.CombinedThreshold)/span
	return int(math.Round(math.Max(80, math.Min(90, c))))
}

func (m *Matcher) recentCompany(company string, date time.Time, apps []models.Application) (models.MatchCandidate, bool) {
	var found *models.Application
	count := 0
	for i := range apps {
		if m.norm.Company(apps[i].Company) != company {
			continue
		}
		ref := apps[i].LatestEmailDate
		if ref.IsZero() {
			ref = apps[i].ApplicationDate
		}
		if date.Sub(ref) > m.cfg.RecentWindow {
			continue
		}
		count++
		found = &apps[i]
	}
	switch {
	case count == 1:
		return models.MatchCandidate{ApplicationID: found.ID, Strategy: models.StrategyRecentCompany, Confidence: 70}, true
	case count > 1:
		slog.Debug("ambiguous recent company match, treating as no match",
			"company", company,
			"candidates", count,
		)
	}
	return models.MatchCandidate{}, false
}

func moreRecentlyUpdated(a, b *models.Application) bool {
	if a.LastUpdated.Equal(b.LastUpdated) {
		return a.ID > b.ID
	}
	return a.LastUpdated.After(b.LastUpdated)
}
