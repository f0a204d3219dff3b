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

// Package metrics provides Prometheus metrics for reconciliation runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bcem/tracker/internal/models"
	"github.com/bcem/tracker/internal/resolution"
)

var (
	// EmailsTotal counts processed emails.
	// Labels: outcome (created, updated, created_separate, skipped)
	EmailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracker",
			Name:      "emails_total",
			Help:      "Total number of reconciled emails by outcome",
		},
		[]string{"outcome"},
	)

	// MergesTotal counts merge requests.
	// Labels: outcome (executed, rejected)
	MergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracker",
			Name:      "merges_total",
			Help:      "Total number of merge requests by outcome",
		},
		[]string{"outcome"},
	)

	// ConflictsTotal counts detected conflicts.
	// Labels: source (cached, asked, default)
	ConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracker",
			Name:      "conflicts_total",
			Help:      "Total number of field conflicts by resolution source",
		},
		[]string{"source"},
	)

	// RunDuration tracks how long reconciliation runs take.
	// Labels: result (success, error)
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tracker",
			Name:      "run_duration_seconds",
			Help:      "Duration of reconciliation runs in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"result"},
	)
)

// Recorder feeds reconciliation outcomes into the package counters.
type Recorder struct{}

// Email counts one email outcome.
func (Recorder) Email(outcome models.OutcomeKind) {
	EmailsTotal.WithLabelValues(string(outcome)).Inc()
}

// Merge counts one merge outcome.
func (Recorder) Merge(status models.MergeStatus) {
	MergesTotal.WithLabelValues(string(status)).Inc()
}

// Conflict counts one conflict by where its resolution came from.
func (Recorder) Conflict(source resolution.Source) {
	ConflictsTotal.WithLabelValues(string(source)).Inc()
}

// ObserveRun records a run's duration.
func ObserveRun(started time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	RunDuration.WithLabelValues(result).Observe(time.Since(started).Seconds())
}
