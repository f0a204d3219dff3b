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
	"time"

	"github.com/bcem/tracker/internal/models"
)

// Report lists everything a run decided.
type Report struct {
	RunID      string                `json:"run_id"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Emails     []models.EmailOutcome `json:"emails"`
	Merges     []models.MergeRequest `json:"merges"`
	Totals     Totals                `json:"totals"`
}

// Totals counts outcomes by kind.
type Totals struct {
	Created         int `json:"created"`
	Updated         int `json:"updated"`
	CreatedSeparate int `json:"created_separate"`
	Skipped         int `json:"skipped"`
	Conflicts       int `json:"conflicts"`
	MergesExecuted  int `json:"merges_executed"`
	MergesRejected  int `json:"merges_rejected"`
}

func (r *Report) tally() {
	var t Totals
	for _, e := range r.Emails {
		switch e.Outcome {
		case models.OutcomeCreated:
			t.Created++
		case models.OutcomeUpdated:
			t.Updated++
		case models.OutcomeCreatedSeparate:
			t.CreatedSeparate++
		case models.OutcomeSkipped:
			t.Skipped++
		}
		if e.Conflict {
			t.Conflicts++
		}
	}
	for _, m := range r.Merges {
		switch m.Status {
		case models.MergeExecuted:
			t.MergesExecuted++
		case models.MergeRejected:
			t.MergesRejected++
		}
	}
	r.Totals = t
}
