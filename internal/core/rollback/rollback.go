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

// Package rollback runs best-effort compensation: walk the successful
// steps in reverse execution order and dispatch each declared rollback
// clause. An individual failure is recorded and the loop keeps going —
// a half-finished compensation is still better than none.
package rollback

import (
	"context"
	"fmt"
	"time"

	"github.com/sim-security/runbookpilot/internal/common/logger"
	"github.com/sim-security/runbookpilot/internal/common/types/constants"
	"github.com/sim-security/runbookpilot/internal/common/types/enum"
	rbperrors "github.com/sim-security/runbookpilot/internal/common/types/errors"
	"github.com/sim-security/runbookpilot/internal/core/interfaces"
	"github.com/sim-security/runbookpilot/internal/core/models"
	"github.com/sim-security/runbookpilot/internal/template"
)

// Engine executes reverse-order compensation passes.
type Engine struct {
	log logger.Logger
}

// NewEngine creates a rollback engine.
func NewEngine() *Engine {
	return &Engine{log: logger.NewLogger("rollback-engine")}
}

// Run compensates the given step results. Only successful, non-skipped
// steps whose runbook step declares a rollback clause are attempted, from
// last executed to first. Parameters resolve against the current template
// context, so compensations can reference the outputs their steps
// published.
func (e *Engine) Run(
	ctx context.Context,
	rb *models.Runbook,
	results []*models.StepResult,
	tmplCtx *template.Context,
	resolver interfaces.AdapterResolver,
) *models.RollbackResult {
	start := time.Now()
	out := &models.RollbackResult{Success: true}

	for i := len(results) - 1; i >= 0; i-- {
		sr := results[i]
		if !sr.Success || sr.Skipped() {
			continue
		}
		step := rb.StepByID(sr.StepID)
		if step == nil || step.Rollback == nil {
			continue
		}

		out.TotalAttempted++
		stepResult := e.compensate(ctx, step, tmplCtx, resolver)
		out.StepResults = append(out.StepResults, stepResult)

		if stepResult.Success {
			out.TotalSucceeded++
			out.StepsRolledBack = append(out.StepsRolledBack, step.ID)
		} else {
			out.TotalFailed++
			out.Success = false
			e.log.Errorf("rollback for step %s failed: %s", step.ID, stepResult.Error.Message)
		}
	}

	out.DurationMs = time.Since(start).Milliseconds()
	e.log.Infof("rollback finished: %d/%d succeeded in %dms",
		out.TotalSucceeded, out.TotalAttempted, out.DurationMs)
	return out
}

// compensate dispatches one rollback clause with its own timeout.
func (e *Engine) compensate(
	ctx context.Context,
	step *models.RunbookStep,
	tmplCtx *template.Context,
	resolver interfaces.AdapterResolver,
) *models.RollbackStepResult {
	spec := step.Rollback
	executor := spec.Executor
	if executor == "" {
		executor = step.Executor
	}

	result := &models.RollbackStepResult{
		StepID:   step.ID,
		Action:   spec.Action,
		Executor: executor,
	}
	start := time.Now()

	params, unresolved := template.ResolveParams(spec.Parameters, tmplCtx)
	if len(unresolved) > 0 {
		e.log.Warnf("rollback for step %s has unresolved parameters: %v", step.ID, unresolved)
	}

	adapter, ok := resolver.Resolve(executor)
	if !ok {
		result.Error = &models.StepError{
			Code:    string(rbperrors.CodeAdapterNotFound),
			Message: fmt.Sprintf("no adapter registered for executor %q", executor),
		}
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	timeout := constants.DefaultStepTimeout
	if spec.Timeout > 0 {
		timeout = time.Duration(spec.Timeout) * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	adapterResult, err := adapter.Execute(cctx, spec.Action, params, enum.ModeProduction)
	result.DurationMs = time.Since(start).Milliseconds()

	switch {
	case cctx.Err() == context.DeadlineExceeded:
		result.Error = &models.StepError{
			Code:    string(rbperrors.CodeStepTimeout),
			Message: fmt.Sprintf("rollback timed out after %s", timeout),
		}
	case err != nil:
		result.Error = &models.StepError{
			Code:    string(rbperrors.CodeRollbackFail),
			Message: err.Error(),
		}
	case adapterResult == nil || !adapterResult.Success:
		msg := "adapter reported failure"
		if adapterResult != nil && adapterResult.Error != nil {
			msg = adapterResult.Error.Message
		}
		result.Error = &models.StepError{
			Code:    string(rbperrors.CodeRollbackFail),
			Message: msg,
		}
	default:
		result.Success = true
	}
	return result
}
