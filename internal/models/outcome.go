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

import "time"

// OutcomeKind is what a reconciliation run did with one email.
type OutcomeKind string

const (
	OutcomeCreated         OutcomeKind = "created"
	OutcomeUpdated         OutcomeKind = "updated"
	OutcomeCreatedSeparate OutcomeKind = "created_separate"
	OutcomeSkipped         OutcomeKind = "skipped"
)

// Skip reasons.
const (
	SkipAlreadyProcessed = "already processed"
	SkipMissingMessageID = "missing message id"
	SkipNoCompany        = "no company extracted"
)

// EmailOutcome records the decision taken for one email.
type EmailOutcome struct {
	MessageID        string       `json:"message_id"`
	Outcome          OutcomeKind  `json:"outcome"`
	Reason           string       `json:"reason,omitempty"`
	ApplicationID    int64        `json:"application_id,omitempty"`
	Strategy         Strategy     `json:"strategy,omitempty"`
	Confidence       int          `json:"confidence,omitempty"`
	PreviousStatus   string       `json:"previous_status,omitempty"`
	NewStatus        string       `json:"new_status,omitempty"`
	Conflict         bool         `json:"conflict,omitempty"`
	Resolution       DecisionKind `json:"resolution,omitempty"`
	ResolutionSource string       `json:"resolution_source,omitempty"`
}

// OutcomeEvent is published once per email and merge outcome.
type OutcomeEvent struct {
	ID        string        `json:"id"`
	RunID     string        `json:"run_id"`
	Kind      string        `json:"kind"` // "email" or "merge"
	Email     *EmailOutcome `json:"email,omitempty"`
	Merge     *MergeRequest `json:"merge,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
