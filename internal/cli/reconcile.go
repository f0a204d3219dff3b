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
	"github.com/spf13/cobra"

	"github.com/bcem/tracker/internal/app"
	"github.com/bcem/tracker/internal/models"
	"github.com/bcem/tracker/internal/prompt"
)

type reconcileOptions struct {
	emails        string
	merges        string
	pendingMerges bool
	interactive   bool
	dryRun        bool
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &reconcileOptions{}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile a batch of parsed emails",
		Long: `Reconcile a batch of parsed emails against the tracker.

Merge requests (from --merges and, with --pending-merges, the merge_into
cells of the store) run first. Emails are then processed oldest first.
Without --interactive, conflicts that were never resolved before keep
the existing values.`,
		Example: `  tracker reconcile --emails inbox.jsonl
  tracker reconcile --emails - --merges merges.json --interactive < inbox.jsonl
  tracker reconcile --emails inbox.jsonl --dry-run --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.emails, "emails", "e", "", "JSONL file of parsed emails, - for stdin")
	cmd.Flags().StringVarP(&opts.merges, "merges", "m", "", "JSON file of merge requests")
	cmd.Flags().BoolVar(&opts.pendingMerges, "pending-merges", true, "also run merges queued in merge_into cells")
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "ask about conflicts with no learned decision")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "reconcile against a copy of the store")
	_ = cmd.MarkFlagRequired("emails")

	return cmd
}

func runReconcile(cmd *cobra.Command, rootOpts *RootOptions, opts *reconcileOptions) error {
	out := rootOpts.formatter(cmd)
	ctx := cmd.Context()

	if opts.interactive && (opts.emails == "-" || opts.merges == "-") {
		return NewExitError(ExitCommandError, "--interactive reads answers from stdin; pass input files by path")
	}

	in, err := openInput(opts.emails, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "open emails", err)
	}
	emails, err := readEmails(in)
	in.Close()
	if err != nil {
		return WrapExitError(ExitCommandError, "read emails", err)
	}

	var merges []models.MergeRequest
	if opts.merges != "" {
		in, err := openInput(opts.merges, cmd.InOrStdin())
		if err != nil {
			return WrapExitError(ExitCommandError, "open merges", err)
		}
		merges, err = readMerges(in)
		in.Close()
		if err != nil {
			return WrapExitError(ExitCommandError, "read merges", err)
		}
	}
	out.VerboseLog("read %d email(s) and %d merge request(s)", len(emails), len(merges))

	a, err := rootOpts.open(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	runOpts := app.RunOptions{DryRun: opts.dryRun}
	if opts.interactive {
		runOpts.Asker = prompt.New(cmd.InOrStdin(), cmd.ErrOrStderr())
	}
	orch, err := a.Orchestrator(ctx, runOpts)
	if err != nil {
		return WrapExitError(ExitCommandError, "prepare run", err)
	}

	if opts.pendingMerges {
		pending, err := orch.PendingMerges(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "collect pending merges", err)
		}
		merges = append(merges, pending...)
	}

	report, err := orch.Reconcile(ctx, emails, merges)
	if err != nil {
		return out.Failure(report, renderReport(report), WrapExitError(ExitFailure, "reconcile", err))
	}
	if opts.dryRun {
		out.VerboseLog("dry run: no changes were written")
	}
	return out.Success(report, renderReport(report))
}

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Run the merges queued in merge_into cells",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			ctx := cmd.Context()

			a, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			orch, err := a.Orchestrator(ctx, app.RunOptions{DryRun: dryRun})
			if err != nil {
				return WrapExitError(ExitCommandError, "prepare run", err)
			}
			pending, err := orch.PendingMerges(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "collect pending merges", err)
			}
			out.VerboseLog("%d merge(s) queued", len(pending))
			report, err := orch.Reconcile(ctx, nil, pending)
			if err != nil {
				return out.Failure(report, renderReport(report), WrapExitError(ExitFailure, "merge", err))
			}
			return out.Success(report, renderReport(report))
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and merge against a copy of the store")
	return cmd
}
