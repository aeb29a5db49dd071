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

// Package scheduler dispatches runbook steps: dependency-ordered walk,
// condition guards, parameter resolution, the adapter call raced against
// the step timeout, and the on_error verdict. The tier executors layer
// their approval and simulation semantics on top of this package.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/sim-security/runbookpilot/internal/common/logger"
	"github.com/sim-security/runbookpilot/internal/common/types/enum"
	rbperrors "github.com/sim-security/runbookpilot/internal/common/types/errors"
	"github.com/sim-security/runbookpilot/internal/core/interfaces"
	"github.com/sim-security/runbookpilot/internal/core/models"
	"github.com/sim-security/runbookpilot/internal/template"
)

// Skip reasons surfaced in skipped StepResults.
const (
	ReasonDependenciesNotMet = "Dependencies not met"
	ReasonConditionNotMet    = "Condition not met"
)

// Outcome is the scheduler's verdict for one step.
type Outcome struct {
	// Result is the single StepResult the step produced.
	Result *models.StepResult

	// ShouldContinue is false only for a failed step whose policy is halt.
	ShouldContinue bool

	// HasRollback reports whether the step declares a rollback clause.
	HasRollback bool

	// UnresolvedParams lists template paths that did not resolve; the L2
	// confidence scorer consumes this.
	UnresolvedParams []string

	// ResolvedParams are the parameters actually dispatched.
	ResolvedParams map[string]interface{}
}

// Scheduler executes individual steps.
type Scheduler struct {
	defaultTimeout time.Duration
	log            logger.Logger
}

// New creates a scheduler; defaultTimeout applies to steps that declare
// no timeout of their own.
func New(defaultTimeout time.Duration) *Scheduler {
	return &Scheduler{
		defaultTimeout: defaultTimeout,
		log:            logger.NewLogger("step-scheduler"),
	}
}

// Order returns the runbook's steps in post-order topological order over
// depends_on: every dependency precedes its dependents. Steps are visited
// depth-first in declared order, so a dependency can move ahead of steps
// declared before it. A cycle is an error.
func Order(rb *models.Runbook) ([]*models.RunbookStep, error) {
	byID := make(map[string]*models.RunbookStep, len(rb.Steps))
	for _, s := range rb.Steps {
		byID[s.ID] = s
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(rb.Steps))
	var ordered []*models.RunbookStep

	var visit func(s *models.RunbookStep) error
	visit = func(s *models.RunbookStep) error {
		switch state[s.ID] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle through step %q", s.ID)
		}
		state[s.ID] = visiting
		for _, dep := range s.DependsOn {
			depStep, ok := byID[dep]
			if !ok {
				return fmt.Errorf("step %q depends on unknown step %q", s.ID, dep)
			}
			if err := visit(depStep); err != nil {
				return err
			}
		}
		state[s.ID] = done
		ordered = append(ordered, s)
		return nil
	}

	for _, s := range rb.Steps {
		if err := visit(s); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// Gate decides whether a step may run now. It returns a skip reason when
// dependencies are missing from the completed set or the condition guard
// resolves false; an empty reason means the step is runnable.
func (s *Scheduler) Gate(step *models.RunbookStep, ec *models.ExecutionContext, tmplCtx *template.Context) string {
	for _, dep := range step.DependsOn {
		if !ec.HasCompleted(dep) {
			return ReasonDependenciesNotMet
		}
	}
	if step.Condition != "" && !template.EvaluateCondition(step.Condition, tmplCtx) {
		return ReasonConditionNotMet
	}
	return ""
}

// ExecuteStep resolves the step's parameters, resolves its adapter, and
// dispatches the action raced against the step timeout. Every path
// produces exactly one StepResult; failures are encoded in the result,
// never returned as Go errors.
func (s *Scheduler) ExecuteStep(
	ctx context.Context,
	step *models.RunbookStep,
	tmplCtx *template.Context,
	resolver interfaces.AdapterResolver,
	mode enum.ExecutionMode,
) *Outcome {
	started := time.Now().UTC()
	out := &Outcome{HasRollback: step.Rollback != nil}

	resolved, unresolved := template.ResolveParams(step.Parameters, tmplCtx)
	out.ResolvedParams = resolved
	out.UnresolvedParams = unresolved
	if len(unresolved) > 0 {
		s.log.Warnf("step %s has unresolved parameters: %v", step.ID, unresolved)
	}

	adapter, ok := resolver.Resolve(step.Executor)
	if !ok {
		out.Result = s.failure(step, started, resolved, rbperrors.CodeAdapterNotFound,
			fmt.Sprintf("no adapter registered for executor %q", step.Executor), nil)
		out.ShouldContinue = continuesOnError(step)
		return out
	}

	timeout := step.TimeoutDuration(s.defaultTimeout)
	result, err := s.dispatch(ctx, adapter, step, resolved, mode, timeout)

	completed := time.Now().UTC()
	switch {
	case err == context.DeadlineExceeded:
		out.Result = s.failure(step, started, resolved, rbperrors.CodeStepTimeout,
			fmt.Sprintf("step timed out after %s", timeout), nil)
	case err != nil:
		out.Result = s.failure(step, started, resolved, rbperrors.CodeStepExecutionError,
			err.Error(), nil)
	case !result.Success:
		details := map[string]interface{}{}
		if result.Error != nil {
			details["adapterError"] = result.Error
		}
		msg := "adapter reported failure"
		if result.Error != nil {
			msg = result.Error.Message
		}
		out.Result = s.failure(step, started, resolved, rbperrors.CodeStepExecutionFailed, msg, details)
	default:
		out.Result = &models.StepResult{
			StepID:      step.ID,
			StepName:    step.Name,
			Action:      step.Action,
			Success:     true,
			StartedAt:   started,
			CompletedAt: completed,
			DurationMs:  completed.Sub(started).Milliseconds(),
			Output:      result.Output,
		}
	}

	out.ShouldContinue = out.Result.Success || continuesOnError(step)
	return out
}

// dispatch races the adapter call against the step timer. An adapter call
// that loses the race is left to drain on its own; at-most-once dispatch
// means the engine never re-sends it.
func (s *Scheduler) dispatch(
	ctx context.Context,
	adapter interfaces.Adapter,
	step *models.RunbookStep,
	params map[string]interface{},
	mode enum.ExecutionMode,
	timeout time.Duration,
) (*models.AdapterResult, error) {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *models.AdapterResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := adapter.Execute(dctx, step.Action, params, mode)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		if o.err != nil && dctx.Err() == context.DeadlineExceeded {
			return nil, context.DeadlineExceeded
		}
		return o.result, o.err
	case <-dctx.Done():
		if dctx.Err() == context.DeadlineExceeded {
			return nil, context.DeadlineExceeded
		}
		return nil, dctx.Err()
	}
}

func (s *Scheduler) failure(step *models.RunbookStep, started time.Time, params map[string]interface{}, code rbperrors.Code, msg string, details map[string]interface{}) *models.StepResult {
	completed := time.Now().UTC()
	s.log.Warnf("step %s failed [%s]: %s", step.ID, code, msg)
	return &models.StepResult{
		StepID:      step.ID,
		StepName:    step.Name,
		Action:      step.Action,
		Success:     false,
		StartedAt:   started,
		CompletedAt: completed,
		DurationMs:  completed.Sub(started).Milliseconds(),
		Error: &models.StepError{
			Code:    string(code),
			Message: msg,
			Details: details,
		},
	}
}

func continuesOnError(step *models.RunbookStep) bool {
	p := step.ErrorPolicy()
	return p == enum.OnErrorContinue || p == enum.OnErrorSkip
}
