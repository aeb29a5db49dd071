// Copyright © 2025 RunbookPilot Authors
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

package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sim-security/runbookpilot/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the approvals/executions HTTP API until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := buildEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Sweeper.Start(); err != nil {
			return err
		}
		if cfg.Runbooks.Watch {
			stop := make(chan struct{})
			defer close(stop)
			if err := e.Runbooks.Watch(cfg.Runbooks.Dir, stop); err != nil {
				return err
			}
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		server := api.NewServer(cfg.API, e.Approvals, e.Store, e.Audit)
		return server.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
