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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bcem/tracker/internal/api"
	"github.com/bcem/tracker/internal/app"
	"github.com/bcem/tracker/internal/sweep"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the reconciliation HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if port == 0 {
				port = a.Config.Port
			}
			orch, err := a.Orchestrator(ctx, app.RunOptions{})
			if err != nil {
				return WrapExitError(ExitCommandError, "prepare orchestrator", err)
			}
			handler := api.NewHandler(orch, a.Store, a.HealthChecks())
			ready, stopped, err := api.Serve(ctx, port, handler.Routes())
			if err != nil {
				return WrapExitError(ExitCommandError, "start api server", err)
			}
			<-ready
			slog.Info("tracker api ready", "port", port, "store", a.Config.StoreBackend)

			if a.Config.MergeSweepInterval > 0 {
				go sweep.New(orch, handler.RunLock(), a.Config.MergeSweepInterval).Run(ctx)
			}

			<-ctx.Done()
			<-stopped
			return nil
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from config)")
	return cmd
}
