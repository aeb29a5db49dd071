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

// Package executors implements the three automation tiers on top of the
// step scheduler: L0 walks the plan through analyst confirmations, L1
// auto-executes reads and gates writes on approval, and L2 dispatches
// everything in simulation mode and scores the outcome.
package executors

import (
	"context"

	"github.com/sim-security/runbookpilot/internal/core/interfaces"
	"github.com/sim-security/runbookpilot/internal/core/models"
	"github.com/sim-security/runbookpilot/internal/template"
)

// Hooks are the orchestrator-supplied callbacks a tier executor fires
// while walking steps. Audit and StepDone errors are fatal: the integrity
// chain and the persisted step record must not skip.
type Hooks struct {
	// Audit appends an audit event for the current execution.
	Audit func(eventType string, details map[string]interface{}) error

	// StepDone persists a step result, advances the state machine, and
	// notifies observers.
	StepDone func(result *models.StepResult) error

	// ShouldAbort is polled before each step; true stops the walk.
	ShouldAbort func() bool

	// Confirm is the L0 analyst-confirmation callback.
	Confirm interfaces.ConfirmationFunc

	// Approve is the L1 write-gate callback.
	Approve interfaces.ApprovalFunc
}

// Walk is the shared outcome of a tier execution pass.
type Walk struct {
	// Results holds one StepResult per visited step, in dispatch order.
	Results []*models.StepResult

	// Halted is true when a halt-policy failure stopped the walk early.
	Halted bool

	// Aborted is true when cancellation or the run-level timeout stopped
	// the walk between steps.
	Aborted bool
}

// Failed reports whether any non-skipped step failed.
func (w *Walk) Failed() bool {
	for _, r := range w.Results {
		if !r.Success {
			return true
		}
	}
	return false
}

// Succeeded lists the successful, non-skipped results in execution order;
// this is the rollback engine's input.
func (w *Walk) Succeeded() []*models.StepResult {
	var out []*models.StepResult
	for _, r := range w.Results {
		if r.Success && !r.Skipped() {
			out = append(out, r)
		}
	}
	return out
}

// Run bundles the per-execution inputs every tier shares.
type Run struct {
	Runbook *models.Runbook
	Ordered []*models.RunbookStep
	EC      *models.ExecutionContext
	TmplCtx *template.Context
}

// TierExecutor is the contract the orchestrator drives.
type TierExecutor interface {
	Execute(ctx context.Context, run *Run, hooks Hooks) (*Walk, error)
}

// recordStep appends the result, marks completion for dependents where
// appropriate, and fires StepDone. Skipped and successful steps both count
// as completed so their dependents stay runnable; failed steps do not.
func recordStep(run *Run, walk *Walk, result *models.StepResult, hooks Hooks) error {
	walk.Results = append(walk.Results, result)
	if result.Success {
		run.EC.MarkCompleted(result.StepID)
	}
	run.EC.CurrentStep = ""
	if hooks.StepDone != nil {
		return hooks.StepDone(result)
	}
	return nil
}

func stepDetails(step *models.RunbookStep) map[string]interface{} {
	return map[string]interface{}{
		"step_id":   step.ID,
		"step_name": step.Name,
		"action":    step.Action,
		"executor":  step.Executor,
	}
}
