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

package executors

import (
	"context"
	"time"

	"github.com/sim-security/runbookpilot/internal/audit"
	"github.com/sim-security/runbookpilot/internal/common/logger"
	"github.com/sim-security/runbookpilot/internal/common/types/enum"
	rbperrors "github.com/sim-security/runbookpilot/internal/common/types/errors"
	"github.com/sim-security/runbookpilot/internal/core/models"
	"github.com/sim-security/runbookpilot/internal/core/scheduler"
	"github.com/sim-security/runbookpilot/internal/template"
)

// L0Executor is the display-only tier. The engine resolves each step into
// a concrete plan and asks the analyst to confirm having performed it
// manually; no adapter is ever called. A refused confirmation on a halt
// step aborts the remaining steps.
type L0Executor struct {
	sched *scheduler.Scheduler
	log   logger.Logger
}

// NewL0 creates the display-only executor.
func NewL0(sched *scheduler.Scheduler) *L0Executor {
	return &L0Executor{sched: sched, log: logger.NewLogger("executor-l0")}
}

// Execute walks the ordered steps through analyst confirmations.
func (e *L0Executor) Execute(ctx context.Context, run *Run, hooks Hooks) (*Walk, error) {
	walk := &Walk{}

	for _, step := range run.Ordered {
		if hooks.ShouldAbort != nil && hooks.ShouldAbort() {
			walk.Aborted = true
			return walk, nil
		}

		if reason := e.sched.Gate(step, run.EC, run.TmplCtx); reason != "" {
			skipped := models.NewSkippedResult(step, reason)
			run.EC.MarkCompleted(step.ID)
			walk.Results = append(walk.Results, skipped)
			if hooks.StepDone != nil {
				if err := hooks.StepDone(skipped); err != nil {
					return walk, err
				}
			}
			continue
		}

		run.EC.CurrentStep = step.ID
		if err := hooks.Audit(audit.EventStepStarted, stepDetails(step)); err != nil {
			return walk, err
		}

		resolved, _ := template.ResolveParams(step.Parameters, run.TmplCtx)

		confirmed := false
		if hooks.Confirm != nil {
			confirmed = safeConfirm(hooks.Confirm, step, resolved, e.log)
		}

		result := e.confirmationResult(step, resolved, confirmed)
		if err := recordStep(run, walk, result, hooks); err != nil {
			return walk, err
		}

		event := audit.EventStepCompleted
		if !confirmed {
			event = audit.EventStepFailed
		}
		details := stepDetails(step)
		details["manual_confirmation"] = confirmed
		if err := hooks.Audit(event, details); err != nil {
			return walk, err
		}

		if !confirmed {
			e.log.Warnf("analyst declined step %s", step.ID)
			if !result.Success && step.ErrorPolicy() == enum.OnErrorHalt {
				walk.Halted = true
				return walk, nil
			}
		}
	}
	return walk, nil
}

// confirmationResult builds the step outcome for a manual confirmation.
// The output always captures what the analyst was shown.
func (e *L0Executor) confirmationResult(step *models.RunbookStep, resolved map[string]interface{}, confirmed bool) *models.StepResult {
	now := time.Now().UTC()
	result := &models.StepResult{
		StepID:      step.ID,
		StepName:    step.Name,
		Action:      step.Action,
		Success:     confirmed,
		StartedAt:   now,
		CompletedAt: now,
		Output: map[string]interface{}{
			"manual_confirmation": confirmed,
			"resolved_parameters": resolved,
		},
	}
	if !confirmed {
		result.Error = &models.StepError{
			Code:    string(rbperrors.CodeApprovalDenied),
			Message: "analyst declined manual confirmation",
		}
	}
	return result
}

// safeConfirm shields the walk from a panicking analyst callback; a
// callback that blows up counts as a declined confirmation.
func safeConfirm(confirm func(*models.RunbookStep, map[string]interface{}) bool, step *models.RunbookStep, params map[string]interface{}, log logger.Logger) (confirmed bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("confirmation callback panicked for step %s: %v", step.ID, r)
			confirmed = false
		}
	}()
	return confirm(step, params)
}
