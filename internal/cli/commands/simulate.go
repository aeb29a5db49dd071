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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sim-security/runbookpilot/internal/cli/ui"
	"github.com/sim-security/runbookpilot/internal/core/orchestrator"
	"github.com/sim-security/runbookpilot/internal/runbook"
)

var simulateAlertFile string

var simulateCmd = &cobra.Command{
	Use:   "simulate <runbook.yaml>",
	Short: "Run a runbook in the L2 simulation tier and print the report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rb, err := runbook.NewLoader().LoadFile(args[0])
		if err != nil {
			return err
		}
		// Force the simulation tier regardless of the runbook's own level.
		rb.Config.AutomationLevel = "L2"

		alert, err := loadAlert(simulateAlertFile)
		if err != nil {
			return err
		}

		e, err := buildEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		result := e.Execute(cmd.Context(), rb, alert, orchestrator.Options{})
		ui.PrintResult(os.Stdout, result)
		if result.Simulation == nil {
			return fmt.Errorf("simulation produced no report (state %s)", result.State)
		}
		return nil
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAlertFile, "alert", "", "path to the alert JSON file")
	rootCmd.AddCommand(simulateCmd)
}
