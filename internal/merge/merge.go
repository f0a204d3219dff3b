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

// Package merge folds duplicate applications into one another on request.
package merge

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/tracker/internal/models"
	"github.com/bcem/tracker/internal/progression"
)

// Rejection reasons reported on MergeRequest.Reason.
const (
	ReasonSelfMerge       = "self merge"
	ReasonSourceMissing   = "source application not found"
	ReasonTargetMissing   = "target application not found"
	ReasonCircular        = "circular merge"
	ReasonChain           = "chained merge"
	ReasonDuplicateSource = "source already merged in this batch"
)

// errMissing marks an application that disappeared between validation and
// execution.
var errMissing = errors.New("application missing")

// Store is the subset of the record store merges need.
type Store interface {
	List(ctx context.Context) ([]models.Application, error)
	Upsert(ctx context.Context, app models.Application) error
	Delete(ctx context.Context, id int64) error
}

// History is the merge log.
type History interface {
	Record(ctx context.Context, rec models.MergeRecord) error
	List(ctx context.Context) ([]models.MergeRecord, error)
}

// Coordinator validates and executes merge requests.
type Coordinator struct {
	store   Store
	policy  *progression.Policy
	history History
	now     func() time.Time
}

// NewCoordinator creates a coordinator. A nil policy uses
// progression.Default; a nil history keeps no merge log.
func NewCoordinator(store Store, policy *progression.Policy, history History) *Coordinator {
	if policy == nil {
		policy = progression.Default()
	}
	return &Coordinator{store: store, policy: policy, history: history, now: time.Now}
}

// Pending collects merge requests from the merge_into cells, ordered by
// source id.
func Pending(apps []models.Application) []models.MergeRequest {
	var reqs []models.MergeRequest
	for _, a := range apps {
		if a.MergeInto != 0 {
			reqs = append(reqs, models.MergeRequest{SourceID: a.ID, TargetID: a.MergeInto, Status: models.MergePending, FromCell: true})
		}
	}
	slices.SortFunc(reqs, func(a, b models.MergeRequest) int {
		return cmp.Compare(a.SourceID, b.SourceID)
	})
	return reqs
}

// Pending returns the requests queued in merge_into cells, leaving out a
// cell whose request would be rejected for a reason already in the merge
// log. Such a cell runs again once the cell or its cause changes.
func (c *Coordinator) Pending(ctx context.Context) ([]models.MergeRequest, error) {
	apps, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	list := make([]models.Application, 0, len(apps))
	for _, a := range apps {
		list = append(list, a)
	}
	reqs := Pending(list)
	if c.history == nil || len(reqs) == 0 {
		return reqs, nil
	}

	records, err := c.history.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing merge history: %w", err)
	}
	type rejection struct {
		source, target int64
		reason         string
	}
	seen := make(map[rejection]bool)
	for _, r := range records {
		if r.Outcome == models.MergeRejected {
			seen[rejection{r.SourceID, r.TargetID, r.Reason}] = true
		}
	}

	out := make([]models.MergeRequest, 0, len(reqs))
	for i, req := range reqs {
		if reason := Validate(i, reqs, apps); reason != "" && seen[rejection{req.SourceID, req.TargetID, reason}] {
			slog.Debug("merge cell already rejected, skipping",
				"source_id", req.SourceID,
				"target_id", req.TargetID,
				"reason", reason,
			)
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

// Validate checks request i of batch against a snapshot of the store and
// returns the rejection reason, or "" when the request may run. Checks run
// in order: self merge, missing source or target, circular, chain, duplicate
// source. Cycle detection is a single hop; the batch allows one pending
// target per application.
func Validate(i int, batch []models.MergeRequest, apps map[int64]models.Application) string {
	req := batch[i]
	if req.SourceID == req.TargetID {
		return ReasonSelfMerge
	}
	if _, ok := apps[req.SourceID]; !ok {
		return ReasonSourceMissing
	}
	target, ok := apps[req.TargetID]
	if !ok {
		return ReasonTargetMissing
	}

	if target.MergeInto == req.SourceID {
		return ReasonCircular
	}
	for j, other := range batch {
		if j != i && other.SourceID == req.TargetID && other.TargetID == req.SourceID {
			return ReasonCircular
		}
	}

	if target.MergeInto != 0 {
		return ReasonChain
	}
	for j, other := range batch {
		if j != i && other.SourceID == req.TargetID {
			return ReasonChain
		}
	}

	for _, other := range batch[:i] {
		if other.SourceID == req.SourceID {
			return ReasonDuplicateSource
		}
	}
	return ""
}

// Run validates the whole batch against one snapshot and then executes the
// valid requests in order. The returned slice mirrors reqs with Status and
// Reason filled in. An error is returned only for store failures; invalid
// requests are reported, never fatal.
func (c *Coordinator) Run(ctx context.Context, reqs []models.MergeRequest) ([]models.MergeRequest, error) {
	out := slices.Clone(reqs)
	if len(out) == 0 {
		return out, nil
	}

	apps, err := c.snapshot(ctx)
	if err != nil {
		return out, err
	}
	for i := range out {
		if reason := Validate(i, out, apps); reason != "" {
			c.reject(ctx, &out[i], reason, apps)
			continue
		}
		out[i].Status = models.MergeValidated
	}

	for i := range out {
		if out[i].Status != models.MergeValidated {
			continue
		}
		if _, err := c.Execute(ctx, out[i]); err != nil {
			if errors.Is(err, errMissing) {
				c.reject(ctx, &out[i], err.Error(), nil)
				continue
			}
			return out, err
		}
		out[i].Status = models.MergeExecuted
	}
	return out, nil
}

// Execute merges req.SourceID into req.TargetID and deletes the source. Both
// applications are re-read so a request validated earlier in a batch sees
// the effects of the merges before it.
func (c *Coordinator) Execute(ctx context.Context, req models.MergeRequest) (models.Application, error) {
	apps, err := c.snapshot(ctx)
	if err != nil {
		return models.Application{}, err
	}
	source, ok := apps[req.SourceID]
	if !ok {
		return models.Application{}, fmt.Errorf("%s: %w", ReasonSourceMissing, errMissing)
	}
	target, ok := apps[req.TargetID]
	if !ok {
		return models.Application{}, fmt.Errorf("%s: %w", ReasonTargetMissing, errMissing)
	}

	merged := c.Combine(target, source)
	if err := c.store.Upsert(ctx, merged); err != nil {
		return models.Application{}, fmt.Errorf("upserting merge target %d: %w", merged.ID, err)
	}
	if err := c.store.Delete(ctx, source.ID); err != nil {
		return models.Application{}, fmt.Errorf("deleting merge source %d: %w", source.ID, err)
	}

	var moved []string
	for _, id := range source.ThreadIDs {
		if !target.HasThread(id) {
			moved = append(moved, id)
		}
	}
	c.record(ctx, models.MergeRecord{
		SourceID:       source.ID,
		TargetID:       target.ID,
		Outcome:        models.MergeExecuted,
		SourceCompany:  source.Company,
		SourcePosition: source.Position,
		TargetCompany:  target.Company,
		TargetPosition: target.Position,
		MovedThreads:   moved,
	})

	slog.Info("applications merged",
		"source_id", source.ID,
		"target_id", merged.ID,
		"status", merged.Status,
		"email_count", merged.EmailCount,
	)
	return merged, nil
}

// Combine returns target with source folded in. It keeps the earliest
// application date and the later latest email, sums email counts, unions
// thread ids, joins notes as "target | source" and takes the more progressed
// status. Terminal statuses sit at the top of the order, so a terminal side
// wins over a non-terminal one; between two terminals the higher rank wins.
// Ties and unknown statuses keep the target's.
func (c *Coordinator) Combine(target, source models.Application) models.Application {
	merged := target.Clone()

	if !source.ApplicationDate.IsZero() && (merged.ApplicationDate.IsZero() || source.ApplicationDate.Before(merged.ApplicationDate)) {
		merged.ApplicationDate = source.ApplicationDate
	}

	if c.policy.Rank(source.Status) > c.policy.Rank(target.Status) {
		merged.Status = source.Status
	}

	merged.EmailCount = target.EmailCount + source.EmailCount

	if source.LatestEmailDate.After(merged.LatestEmailDate) {
		merged.LatestEmailDate = source.LatestEmailDate
		if source.LatestEmailLink != "" {
			merged.LatestEmailLink = source.LatestEmailLink
		}
	}
	if source.LastUpdated.After(merged.LastUpdated) {
		merged.LastUpdated = source.LastUpdated
	}

	switch {
	case merged.Notes == "":
		merged.Notes = source.Notes
	case source.Notes != "":
		merged.Notes = merged.Notes + " | " + source.Notes
	}

	for _, id := range source.ThreadIDs {
		merged.AddThread(id)
	}
	merged.MergeInto = 0
	return merged
}

// reject marks req rejected and logs it. apps, when given, supplies the
// company and position of the applications involved.
func (c *Coordinator) reject(ctx context.Context, req *models.MergeRequest, reason string, apps map[int64]models.Application) {
	req.Status, req.Reason = models.MergeRejected, reason
	slog.Warn("merge request rejected",
		"source_id", req.SourceID,
		"target_id", req.TargetID,
		"reason", reason,
	)
	rec := models.MergeRecord{
		SourceID: req.SourceID,
		TargetID: req.TargetID,
		Outcome:  models.MergeRejected,
		Reason:   reason,
	}
	if src, ok := apps[req.SourceID]; ok {
		rec.SourceCompany, rec.SourcePosition = src.Company, src.Position
	}
	if tgt, ok := apps[req.TargetID]; ok {
		rec.TargetCompany, rec.TargetPosition = tgt.Company, tgt.Position
	}
	c.record(ctx, rec)
}

// record appends to the merge log. The log is an audit trail; a failed
// write is logged and does not undo or fail the merge.
func (c *Coordinator) record(ctx context.Context, rec models.MergeRecord) {
	if c.history == nil {
		return
	}
	rec.ID = uuid.NewString()
	rec.RecordedAt = c.now().UTC()
	if err := c.history.Record(ctx, rec); err != nil {
		slog.Error("failed to record merge history",
			"source_id", rec.SourceID,
			"target_id", rec.TargetID,
			"outcome", rec.Outcome,
			"error", err,
		)
	}
}

func (c *Coordinator) snapshot(ctx context.Context) (map[int64]models.Application, error) {
	list, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing applications: %w", err)
	}
	apps := make(map[int64]models.Application, len(list))
	for _, a := range list {
		apps[a.ID] = a
	}
	return apps, nil
}
