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

package models

import (
	"slices"
	"time"
)

// Application is a tracked job application.
type Application struct {
	ID              int64     `json:"id"`
	Company         string    `json:"company"`
	Position        string    `json:"position"`
	ApplicationDate time.Time `json:"application_date"`
	Status          string    `json:"status"`
	LastUpdated     time.Time `json:"last_updated"`
	EmailCount      int       `json:"email_count"`
	LatestEmailDate time.Time `json:"latest_email_date"`
	LatestEmailLink string    `json:"latest_email_link,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	ThreadIDs       []string  `json:"thread_ids"`

	// MergeInto is the out-of-band merge cell: the id of the application
	// this record should be folded into. Zero means no merge requested.
	MergeInto int64 `json:"merge_into,omitempty"`
}

// Clone returns a deep copy so callers can mutate without aliasing the
// thread id slice of the original.
func (a Application) Clone() Application {
	a.ThreadIDs = slices.Clone(a.ThreadIDs)
	return a
}

// HasThread reports whether the application owns the thread id.
func (a *Application) HasThread(threadID string) bool {
	if threadID == "" {
		return false
	}
	return slices.Contains(a.ThreadIDs, threadID)
}

// AddThread adds a thread id, keeping the set free of duplicates.
func (a *Application) AddThread(threadID string) {
	if threadID == "" || a.HasThread(threadID) {
		return
	}
	a.ThreadIDs = append(a.ThreadIDs, threadID)
}

// RemoveThread drops a thread id if present and reports whether it did.
func (a *Application) RemoveThread(threadID string) bool {
	i := slices.Index(a.ThreadIDs, threadID)
	if i < 0 {
		return false
	}
	a.ThreadIDs = slices.Delete(a.ThreadIDs, i, i+1)
	return true
}

// Strategy names the matcher strategy that produced a candidate.
type Strategy string

const (
	StrategyThreadID      Strategy = "thread_id"
	StrategyExact         Strategy = "exact"
	StrategyFuzzy         Strategy = "fuzzy"
	StrategyRecentCompany Strategy = "recent_company"
)

// MatchCandidate is the single application an email was attributed to.
type MatchCandidate struct {
	ApplicationID int64    `json:"application_id"`
	Strategy      Strategy `json:"strategy"`
	Confidence    int      `json:"confidence"`
}
