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

	"github.com/spf13/cobra"

	"github.com/bcem/tracker/internal/models"
	"github.com/bcem/tracker/internal/resolution"
)

// NewApplicationsCommand creates the applications command group.
func NewApplicationsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "applications",
		Aliases: []string{"apps"},
		Short:   "Inspect tracked applications",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tracked applications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			apps, err := a.Store.List(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "list applications", err)
			}
			if apps == nil {
				apps = []models.Application{}
			}
			return rootOpts.formatter(cmd).Success(apps, renderApplications(apps))
		},
	})
	return cmd
}

// NewResolutionsCommand creates the resolutions command group.
func NewResolutionsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolutions",
		Short: "Inspect learned conflict resolutions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List learned resolutions, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			learner := resolution.NewLearner(a.Store.Resolutions(), a.Config.Normalizer())
			if err := learner.Load(cmd.Context()); err != nil {
				return WrapExitError(ExitFailure, "load resolutions", err)
			}
			entries := learner.Entries()
			return rootOpts.formatter(cmd).Success(entries, renderResolutions(entries))
		},
	})
	return cmd
}

// NewMergesCommand creates the merges command group.
func NewMergesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merges",
		Short: "Inspect the merge history",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List executed and rejected merges, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.Store.MergeHistory().List(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "list merge history", err)
			}
			if records == nil {
				records = []models.MergeRecord{}
			}
			return rootOpts.formatter(cmd).Success(records, renderMergeHistory(records))
		},
	})
	return cmd
}

// NewProcessedCommand creates the processed command group.
func NewProcessedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "processed",
		Short: "Manage the processed message set in Redis",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "forget <message-id>...",
		Short: "Forget message ids so the next run reprocesses them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Processed == nil {
				return NewExitError(ExitCommandError, "processed tracking needs a Redis URL")
			}
			for _, id := range args {
				if err := a.Processed.Forget(cmd.Context(), id); err != nil {
					return WrapExitError(ExitFailure, "forget "+id, err)
				}
			}
			return rootOpts.formatter(cmd).Success(args, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "forgot %d message id(s)\n", len(args))
				return err
			})
		},
	})
	return cmd
}
