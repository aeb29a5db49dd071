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
	"encoding/json"
	"time"

	"github.com/sim-security/runbookpilot/internal/approval"
	"github.com/sim-security/runbookpilot/internal/audit"
	"github.com/sim-security/runbookpilot/internal/common/logger"
	"github.com/sim-security/runbookpilot/internal/common/types/enum"
	rbperrors "github.com/sim-security/runbookpilot/internal/common/types/errors"
	"github.com/sim-security/runbookpilot/internal/core/impact"
	"github.com/sim-security/runbookpilot/internal/core/interfaces"
	"github.com/sim-security/runbookpilot/internal/core/models"
	"github.com/sim-security/runbookpilot/internal/core/scheduler"
	"github.com/sim-security/runbookpilot/internal/template"
)

// L1Executor is the semi-automated tier: read actions dispatch without
// ceremony, write actions raise a persisted approval request and wait on
// the analyst callback. Steps can opt out of gating with
// approval_required: false.
type L1Executor struct {
	sched    *scheduler.Scheduler
	resolver interfaces.AdapterResolver
	queue    *approval.Queue
	log      logger.Logger
}

// NewL1 creates the semi-automated executor.
func NewL1(sched *scheduler.Scheduler, resolver interfaces.AdapterResolver, queue *approval.Queue) *L1Executor {
	return &L1Executor{
		sched:    sched,
		resolver: resolver,
		queue:    queue,
		log:      logger.NewLogger("executor-l1"),
	}
}

// Execute walks the ordered steps, gating writes behind approvals.
func (e *L1Executor) Execute(ctx context.Context, run *Run, hooks Hooks) (*Walk, error) {
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

		if e.requiresApproval(step) {
			granted, result, err := e.requestApproval(ctx, run, step, hooks)
			if err != nil {
				return walk, err
			}
			if !granted {
				// Denial produced the step's single result.
				if err := recordStep(run, walk, result, hooks); err != nil {
					return walk, err
				}
				if err := hooks.Audit(audit.EventStepFailed, failDetails(step, result)); err != nil {
					return walk, err
				}
				if step.ErrorPolicy() == enum.OnErrorHalt {
					walk.Halted = true
					return walk, nil
				}
				continue
			}
		}

		outcome := e.sched.ExecuteStep(ctx, step, run.TmplCtx, e.resolver, run.EC.Mode)
		if outcome.Result.Success {
			run.TmplCtx.PublishStepOutput(step.ID, outcome.Result.Output)
		}
		if err := recordStep(run, walk, outcome.Result, hooks); err != nil {
			return walk, err
		}

		if outcome.Result.Success {
			if err := hooks.Audit(audit.EventStepCompleted, stepDetails(step)); err != nil {
				return walk, err
			}
		} else {
			if err := hooks.Audit(audit.EventStepFailed, failDetails(step, outcome.Result)); err != nil {
				return walk, err
			}
			if !outcome.ShouldContinue {
				walk.Halted = true
				return walk, nil
			}
		}
	}
	return walk, nil
}

// requiresApproval applies the tier default (writes gate, reads do not)
// with the per-step override on top.
func (e *L1Executor) requiresApproval(step *models.RunbookStep) bool {
	if step.ApprovalRequired != nil {
		return *step.ApprovalRequired
	}
	return impact.IsWrite(step.Action)
}

// requestApproval persists the request, asks the analyst callback, records
// the decision, and — when denied — builds the APPROVAL_DENIED result.
func (e *L1Executor) requestApproval(ctx context.Context, run *Run, step *models.RunbookStep, hooks Hooks) (bool, *models.StepResult, error) {
	resolved, _ := template.ResolveParams(step.Parameters, run.TmplCtx)
	paramsJSON, _ := json.Marshal(resolved)

	req := &models.ApprovalRequest{
		ExecutionID: run.EC.ExecutionID,
		RunbookID:   run.Runbook.ID,
		RunbookName: run.Runbook.Name,
		StepID:      step.ID,
		StepName:    step.Name,
		Action:      step.Action,
		Parameters:  string(paramsJSON),
	}
	if err := e.queue.Create(ctx, req); err != nil {
		return false, nil, err
	}

	details := stepDetails(step)
	details["request_id"] = req.RequestID
	if err := hooks.Audit(audit.EventApprovalRequested, details); err != nil {
		return false, nil, err
	}

	approved, decidedBy, reason := e.decide(hooks.Approve, req)
	if decidedBy == "" {
		decidedBy = "analyst"
	}

	if approved {
		if _, err := e.queue.Approve(ctx, req.RequestID, decidedBy); err != nil {
			// The queue's verdict wins: an expired or raced row denies.
			e.log.Warnf("approval %s could not be granted: %v", req.RequestID, err)
			approved = false
			reason = err.Error()
		}
	}

	if approved {
		grant := stepDetails(step)
		grant["request_id"] = req.RequestID
		grant["approved_by"] = decidedBy
		if err := hooks.Audit(audit.EventApprovalGranted, grant); err != nil {
			return false, nil, err
		}
		return true, nil, nil
	}

	if reason == "" {
		reason = "approval denied"
	}
	if _, err := e.queue.Deny(ctx, req.RequestID, decidedBy, reason); err != nil {
		e.log.Warnf("could not record denial for %s: %v", req.RequestID, err)
	}
	deny := stepDetails(step)
	deny["request_id"] = req.RequestID
	deny["denied_by"] = decidedBy
	deny["reason"] = reason
	if err := hooks.Audit(audit.EventApprovalDenied, deny); err != nil {
		return false, nil, err
	}

	now := time.Now().UTC()
	result := &models.StepResult{
		StepID:      step.ID,
		StepName:    step.Name,
		Action:      step.Action,
		Success:     false,
		StartedAt:   now,
		CompletedAt: now,
		Error: &models.StepError{
			Code:    string(rbperrors.CodeApprovalDenied),
			Message: reason,
			Details: map[string]interface{}{"request_id": req.RequestID},
		},
	}
	return false, result, nil
}

// decide shields the walk from a panicking approval callback; a callback
// that blows up counts as a denial. A nil callback denies too — an L1 run
// with no analyst wired must not write.
func (e *L1Executor) decide(approve interfaces.ApprovalFunc, req *models.ApprovalRequest) (approved bool, decidedBy, reason string) {
	if approve == nil {
		return false, "engine", "no approval callback configured"
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorf("approval callback panicked for request %s: %v", req.RequestID, r)
			approved = false
			decidedBy = "engine"
			reason = "approval callback panicked"
		}
	}()
	return approve(req)
}

func failDetails(step *models.RunbookStep, result *models.StepResult) map[string]interface{} {
	details := stepDetails(step)
	if result.Error != nil {
		details["error_code"] = result.Error.Code
		details["error"] = result.Error.Message
	}
	return details
}
