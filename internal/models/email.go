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

// Package models defines the data structures shared across the tracker:
// the extracted email facts consumed by reconciliation, the tracked
// application records, and the decision and merge records around them.
package models

import "time"

// Extraction is the output shape of the classification step. The status is
// a raw token; mapping it onto the configured status order is the
// progression policy's job.
type Extraction struct {
	Company    string  `json:"company"`
	Position   string  `json:"position"`
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence"`
}

// EmailRecord is one parsed and classified message. Reconciliation never
// mutates it.
type EmailRecord struct {
	MessageID   string     `json:"message_id"`
	ThreadID    string     `json:"thread_id"`
	Sender      string     `json:"sender"`
	Subject     string     `json:"subject"`
	BodyExcerpt string     `json:"body_excerpt,omitempty"`
	Date        time.Time  `json:"date"`
	Link        string     `json:"link,omitempty"`
	Extracted   Extraction `json:"extracted"`
}
