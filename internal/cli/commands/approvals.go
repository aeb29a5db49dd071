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
	"github.com/sim-security/runbookpilot/internal/core/models"
)

var (
	approveBy  string
	denyReason string
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Inspect and decide pending approval requests",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approval requests, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := buildEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		if _, err := e.Approvals.ExpireStale(cmd.Context()); err != nil {
			return err
		}
		pending, err := e.Approvals.ListPending(cmd.Context(), models.ApprovalFilter{})
		if err != nil {
			return err
		}
		ui.PrintApprovals(os.Stdout, pending)
		return nil
	},
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <request-id>",
	Short: "Approve a pending request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := buildEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		req, err := e.Approvals.Approve(cmd.Context(), args[0], approveBy)
		if err != nil {
			return err
		}
		fmt.Printf("request %s approved by %s\n", req.RequestID, req.ApprovedBy)
		return nil
	},
}

var approvalsDenyCmd = &cobra.Command{
	Use:   "deny <request-id>",
	Short: "Deny a pending request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := buildEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		req, err := e.Approvals.Deny(cmd.Context(), args[0], approveBy, denyReason)
		if err != nil {
			return err
		}
		fmt.Printf("request %s denied: %s\n", req.RequestID, req.DenialReason)
		return nil
	},
}

func init() {
	approvalsApproveCmd.Flags().StringVar(&approveBy, "by", "operator", "analyst identity recorded on the decision")
	approvalsDenyCmd.Flags().StringVar(&approveBy, "by", "operator", "analyst identity recorded on the decision")
	approvalsDenyCmd.Flags().StringVar(&denyReason, "reason", "", "denial reason")

	approvalsCmd.AddCommand(approvalsListCmd, approvalsApproveCmd, approvalsDenyCmd)
	rootCmd.AddCommand(approvalsCmd)
}
