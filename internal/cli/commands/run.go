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
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sim-security/runbookpilot/internal/cli/ui"
	"github.com/sim-security/runbookpilot/internal/core/models"
	"github.com/sim-security/runbookpilot/internal/core/orchestrator"
	"github.com/sim-security/runbookpilot/internal/runbook"
)

var (
	runAlertFile string
	runAutoYes   bool
)

var runCmd = &cobra.Command{
	Use:   "run <runbook.yaml>",
	Short: "Execute a runbook against an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rb, err := runbook.NewLoader().LoadFile(args[0])
		if err != nil {
			return err
		}
		alert, err := loadAlert(runAlertFile)
		if err != nil {
			return err
		}

		e, err := buildEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		opts := orchestrator.Options{
			Confirm: promptConfirm,
			Approve: promptApprove,
		}
		result := e.Execute(cmd.Context(), rb, alert, opts)
		ui.PrintResult(os.Stdout, result)
		if !result.Success {
			return fmt.Errorf("execution %s ended %s", result.ExecutionID, result.State)
		}
		return nil
	},
}

// loadAlert reads an ECS alert JSON document.
func loadAlert(path string) (models.Alert, error) {
	if path == "" {
		return nil, fmt.Errorf("--alert is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read alert: %w", err)
	}
	var alert models.Alert
	if err := json.Unmarshal(data, &alert); err != nil {
		return nil, fmt.Errorf("invalid alert JSON: %w", err)
	}
	return alert, nil
}

// promptConfirm asks the operator to confirm an L0 step on the terminal.
func promptConfirm(step *models.RunbookStep, params map[string]interface{}) bool {
	if runAutoYes {
		return true
	}
	rendered, _ := json.MarshalIndent(params, "    ", "  ")
	fmt.Printf("Step %s (%s)\n    parameters: %s\nConfirm completion? [y/N]: ",
		step.Name, step.Action, rendered)
	return readYes()
}

// promptApprove asks the operator to decide an L1 write gate.
func promptApprove(req *models.ApprovalRequest) (bool, string, string) {
	user := os.Getenv("USER")
	if user == "" {
		user = "operator"
	}
	if runAutoYes {
		return true, user, ""
	}
	fmt.Printf("Approval needed: %s on step %s\n    parameters: %s\nApprove? [y/N]: ",
		req.Action, req.StepName, req.Parameters)
	if readYes() {
		return true, user, ""
	}
	return false, user, "denied at terminal"
}

func readYes() bool {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func init() {
	runCmd.Flags().StringVar(&runAlertFile, "alert", "", "path to the alert JSON file")
	runCmd.Flags().BoolVar(&runAutoYes, "yes", false, "answer every confirmation and approval with yes")
	rootCmd.AddCommand(runCmd)
}
