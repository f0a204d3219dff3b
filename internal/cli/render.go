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

package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bcem/tracker/internal/models"
	"github.com/bcem/tracker/internal/reconcile"
)

func renderReport(report *reconcile.Report) func(io.Writer) error {
	return func(w io.Writer) error {
		if report == nil {
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		if len(report.Merges) > 0 {
			fmt.Fprintln(tw, "MERGE\tSTATUS\tREASON")
			for _, m := range report.Merges {
				fmt.Fprintf(tw, "%d -> %d\t%s\t%s\n", m.SourceID, m.TargetID, m.Status, m.Reason)
			}
			fmt.Fprintln(tw)
		}
		if len(report.Emails) > 0 {
			fmt.Fprintln(tw, "MESSAGE\tOUTCOME\tAPPLICATION\tSTRATEGY\tSTATUS\tNOTE")
			for _, e := range report.Emails {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.MessageID, e.Outcome, idOrDash(e.ApplicationID), dash(string(e.Strategy)),
					statusChange(e), emailNote(e))
			}
			fmt.Fprintln(tw)
		}
		t := report.Totals
		fmt.Fprintf(tw, "created %d, updated %d, separate %d, skipped %d, conflicts %d, merges %d executed %d rejected\n",
			t.Created, t.Updated, t.CreatedSeparate, t.Skipped, t.Conflicts, t.MergesExecuted, t.MergesRejected)
		return tw.Flush()
	}
}

func renderApplications(apps []models.Application) func(io.Writer) error {
	return func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCOMPANY\tPOSITION\tSTATUS\tEMAILS\tLATEST\tMERGE INTO")
		for _, a := range apps {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
				a.ID, dash(a.Company), dash(a.Position), a.Status, a.EmailCount,
				day(a.LatestEmailDate), idOrDash(a.MergeInto))
		}
		return tw.Flush()
	}
}

func renderResolutions(entries []models.Resolution) func(io.Writer) error {
	return func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "FINGERPRINT\tDECISION\tVALUES\tLEARNED")
		for _, r := range entries {
			var values []string
			for _, f := range []models.Field{models.FieldCompany, models.FieldPosition} {
				if v, ok := r.Values[f]; ok {
					values = append(values, fmt.Sprintf("%s=%q", f, v))
				}
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
				shortFingerprint(r.Fingerprint), r.Decision, dash(strings.Join(values, " ")), day(r.CreatedAt))
		}
		return tw.Flush()
	}
}

func renderMergeHistory(records []models.MergeRecord) func(io.Writer) error {
	return func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "RECORDED\tMERGE\tOUTCOME\tSOURCE\tTARGET\tTHREADS\tREASON")
		for _, r := range records {
			fmt.Fprintf(tw, "%s\t%d -> %d\t%s\t%s\t%s\t%d\t%s\n",
				recorded(r.RecordedAt), r.SourceID, r.TargetID, r.Outcome,
				label(r.SourceCompany, r.SourcePosition), label(r.TargetCompany, r.TargetPosition),
				len(r.MovedThreads), dash(r.Reason))
		}
		return tw.Flush()
	}
}

func label(company, position string) string {
	switch {
	case company == "" && position == "":
		return "-"
	case position == "":
		return company
	}
	return company + " / " + position
}

func recorded(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func statusChange(e models.EmailOutcome) string {
	switch {
	case e.NewStatus == "":
		return "-"
	case e.PreviousStatus == "" || e.PreviousStatus == e.NewStatus:
		return e.NewStatus
	default:
		return e.PreviousStatus + " -> " + e.NewStatus
	}
}

func emailNote(e models.EmailOutcome) string {
	switch {
	case e.Reason != "":
		return e.Reason
	case e.Conflict:
		return fmt.Sprintf("conflict: %s (%s)", e.Resolution, e.ResolutionSource)
	}
	return ""
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

func idOrDash(id int64) string {
	if id == 0 {
		return "-"
	}
	return fmt.Sprint(id)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func day(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.DateOnly)
}
