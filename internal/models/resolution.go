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
	"errors"
	"fmt"
	"time"
)

// Field is a conflict-checked application field.
type Field string

const (
	FieldCompany  Field = "company"
	FieldPosition Field = "position"
)

// FieldConflict is a disagreement on a single field.
type FieldConflict struct {
	Field    Field  `json:"field"`
	Existing string `json:"existing_value"`
	New      string `json:"new_value"`
}

// Conflict groups the field disagreements between one email and the
// application it matched.
type Conflict struct {
	ApplicationID int64           `json:"application_id"`
	MessageID     string          `json:"message_id"`
	Fields        []FieldConflict `json:"fields"`
}

// Field returns the conflict entry for f, if any.
func (c Conflict) Field(f Field) (FieldConflict, bool) {
	for _, fc := range c.Fields {
		if fc.Field == f {
			return fc, true
		}
	}
	return FieldConflict{}, false
}

// DecisionKind is one of the four legal answers to a conflict.
type DecisionKind string

const (
	DecisionKeepExisting   DecisionKind = "keep_existing"
	DecisionUseNew         DecisionKind = "use_new"
	DecisionPerField       DecisionKind = "per_field"
	DecisionCreateSeparate DecisionKind = "create_separate"
)

// Decisions lists the options offered for every conflict, in display order.
var Decisions = []DecisionKind{
	DecisionKeepExisting,
	DecisionUseNew,
	DecisionPerField,
	DecisionCreateSeparate,
}

// Valid reports whether k is one of the four decision kinds.
func (k DecisionKind) Valid() bool {
	switch k {
	case DecisionKeepExisting, DecisionUseNew, DecisionPerField, DecisionCreateSeparate:
		return true
	}
	return false
}

// ErrInvalidDecision is returned for resolutions outside the four kinds or
// with malformed per-field values.
var ErrInvalidDecision = errors.New("invalid resolution decision")

// Resolution is a conflict decision, learned under its fingerprint.
type Resolution struct {
	Fingerprint string           `json:"fingerprint"`
	Decision    DecisionKind     `json:"decision"`
	Values      map[Field]string `json:"values,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Validate checks the decision shape. Per-field decisions must carry at
// least one value and only for known fields.
func (r Resolution) Validate() error {
	if !r.Decision.Valid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidDecision, r.Decision)
	}
	if r.Decision != DecisionPerField {
		return nil
	}
	if len(r.Values) == 0 {
		return fmt.Errorf("%w: per-field decision without values", ErrInvalidDecision)
	}
	for f := range r.Values {
		if f != FieldCompany && f != FieldPosition {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidDecision, f)
		}
	}
	return nil
}

// MergeStatus tracks a merge request through validation and execution.
type MergeStatus string

const (
	MergePending   MergeStatus = "pending"
	MergeValidated MergeStatus = "validated"
	MergeExecuted  MergeStatus = "executed"
	MergeRejected  MergeStatus = "rejected"
)

// MergeRequest asks for SourceID to be folded into TargetID.
type MergeRequest struct {
	SourceID int64       `json:"source_id"`
	TargetID int64       `json:"target_id"`
	Status   MergeStatus `json:"status,omitempty"`
	Reason   string      `json:"reason,omitempty"`

	// FromCell marks requests read from the source's merge_into cell.
	FromCell bool `json:"from_cell,omitempty"`
}

// MergeRecord is one merge history entry: an executed merge, or a rejected
// request with its reason.
type MergeRecord struct {
	ID             string      `json:"id"`
	RecordedAt     time.Time   `json:"recorded_at"`
	SourceID       int64       `json:"source_id"`
	TargetID       int64       `json:"target_id"`
	Outcome        MergeStatus `json:"outcome"`
	Reason         string      `json:"reason,omitempty"`
	SourceCompany  string      `json:"source_company,omitempty"`
	SourcePosition string      `json:"source_position,omitempty"`
	TargetCompany  string      `json:"target_company,omitempty"`
	TargetPosition string      `json:"target_position,omitempty"`

	// MovedThreads are the source's thread ids now owned by the target.
	MovedThreads []string `json:"moved_threads,omitempty"`
}
