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

// Package ui renders engine results for the terminal.
package ui

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/sim-security/runbookpilot/internal/core/models"
)

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	warnColor = color.New(color.FgYellow)
	dimColor  = color.New(color.Faint)
)

// PrintResult renders an execution result.
func PrintResult(w io.Writer, result *models.ExecutionResult) {
	fmt.Fprintf(w, "Execution %s — runbook %s (%s)\n",
		result.ExecutionID, result.RunbookName, result.Mode)

	status := okColor.Sprint("completed")
	if !result.Success {
		status = failColor.Sprint(result.State.String())
	}
	fmt.Fprintf(w, "  state: %s  duration: %dms\n", status, result.DurationMs)

	for _, sr := range result.StepResults {
		marker := okColor.Sprint("✔")
		note := ""
		switch {
		case sr.Skipped():
			marker = dimColor.Sprint("◦")
			if reason, ok := sr.Output["reason"].(string); ok {
				note = dimColor.Sprintf(" (%s)", reason)
			}
		case !sr.Success:
			marker = failColor.Sprint("✘")
			if sr.Error != nil {
				note = failColor.Sprintf(" [%s] %s", sr.Error.Code, sr.Error.Message)
			}
		}
		fmt.Fprintf(w, "  %s %s (%s)%s\n", marker, sr.StepName, sr.Action, note)
	}

	if result.Rollback != nil {
		fmt.Fprintf(w, "  rollback: %d/%d compensations succeeded\n",
			result.Rollback.TotalSucceeded, result.Rollback.TotalAttempted)
	}
	if result.Simulation != nil {
		PrintSimulation(w, result.Simulation)
	}
}

// PrintSimulation renders the L2 report summary.
func PrintSimulation(w io.Writer, report *models.SimulationReport) {
	outcome := okColor.Sprint(report.PredictedOutcome.String())
	switch report.PredictedOutcome.String() {
	case "PARTIAL":
		outcome = warnColor.Sprint("PARTIAL")
	case "FAILURE":
		outcome = failColor.Sprint("FAILURE")
	}

	fmt.Fprintf(w, "  simulation %s: %s  confidence %.2f  risk %s (%d/10)\n",
		report.SimulationID, outcome, report.OverallConfidence,
		report.OverallRiskLevel, report.OverallRiskScore)

	for _, risk := range report.RisksIdentified {
		fmt.Fprintf(w, "    %s %s\n", warnColor.Sprint("!"), risk)
	}
	if len(report.AffectedAssets) > 0 {
		fmt.Fprintf(w, "    affected assets: %v\n", report.AffectedAssets)
	}
	if report.RollbackPlan != nil && len(report.RollbackPlan.Entries) > 0 {
		fmt.Fprintf(w, "    rollback plan: %d step(s), ~%dms\n",
			len(report.RollbackPlan.Entries), report.RollbackPlan.EstimatedDurationMs)
	}
}

// PrintApprovals renders a pending-approval listing.
func PrintApprovals(w io.Writer, requests []*models.ApprovalRequest) {
	if len(requests) == 0 {
		fmt.Fprintln(w, "no pending approvals")
		return
	}
	for _, req := range requests {
		fmt.Fprintf(w, "%s  %s/%s  %s  expires %s\n",
			req.RequestID, req.RunbookName, req.StepName,
			warnColor.Sprint(req.Action), req.ExpiresAt.Format("15:04:05"))
	}
}
