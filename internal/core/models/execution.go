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

package models

import (
	"encoding/json"
	"time"

	"github.com/sim-security/runbookpilot/internal/common/types/enum"
)

// ExecutionContext is the per-run mutable state owned by one orchestrator
// task until the run reaches a terminal state. Snapshot/Restore round-trips
// through JSON so a context can be persisted and rebuilt.
type ExecutionContext struct {
	// ExecutionID is the UUID of this run.
	ExecutionID string `json:"execution_id"`

	// RunbookID and RunbookVersion pin the runbook this run executes.
	RunbookID      string `json:"runbook_id"`
	RunbookVersion string `json:"runbook_version"`

	// Mode selects production, simulation, or dry-run adapter behaviour.
	Mode enum.ExecutionMode `json:"mode"`

	// StartedAt is when the orchestrator created this context.
	StartedAt time.Time `json:"started_at"`

	// CurrentStep is the id of the step being dispatched, empty between steps.
	CurrentStep string `json:"current_step,omitempty"`

	// CompletedSteps lists step ids in completion order; skipped steps count.
	CompletedSteps []string `json:"completed_steps"`

	// Variables are operator-supplied values exposed to templates under context.*.
	Variables map[string]interface{} `json:"variables,omitempty"`

	// State mirrors the state machine's current state.
	State enum.ExecutionState `json:"state"`

	// Error carries the terminal failure message, if any.
	Error string `json:"error,omitempty"`

	// Alert is the (possibly enriched) alert this run responds to.
	Alert Alert `json:"alert,omitempty"`
}

// MarkCompleted appends a step id to the completion list if not present.
func (c *ExecutionContext) MarkCompleted(stepID string) {
	for _, id := range c.CompletedSteps {
		if id == stepID {
			return
		}
	}
	c.CompletedSteps = append(c.CompletedSteps, stepID)
}

// HasCompleted reports whether the step id is in the completion list.
func (c *ExecutionContext) HasCompleted(stepID string) bool {
	for _, id := range c.CompletedSteps {
		if id == stepID {
			return true
		}
	}
	return false
}

// Snapshot serialises the context to JSON.
func (c *ExecutionContext) Snapshot() ([]byte, error) {
	return json.Marshal(c)
}

// RestoreExecutionContext rebuilds a context from a Snapshot payload.
func RestoreExecutionContext(data []byte) (*ExecutionContext, error) {
	var c ExecutionContext
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// StepError is the structured failure attached to an unsuccessful StepResult.
type StepError struct {
	// Code is the engine error code (e.g. STEP_TIMEOUT, APPROVAL_DENIED).
	Code string `json:"code"`

	// Message is the human-readable failure description.
	Message string `json:"message"`

	// Details carries structured context, e.g. the adapter error under
	// "adapterError" for STEP_EXECUTION_FAILED.
	Details map[string]interface{} `json:"details,omitempty"`
}

// StepResult is the single, final record every dispatched (or skipped) step
// produces.
type StepResult struct {
	StepID      string                 `json:"step_id"`
	StepName    string                 `json:"step_name"`
	Action      string                 `json:"action"`
	Success     bool                   `json:"success"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
	DurationMs  int64                  `json:"duration_ms"`
	Output      map[string]interface{} `json:"output,omitempty"`
	Error       *StepError             `json:"error,omitempty"`
}

// Skipped reports whether this result records a skip rather than a dispatch.
func (r *StepResult) Skipped() bool {
	if r.Output == nil {
		return false
	}
	skipped, _ := r.Output["skipped"].(bool)
	return skipped
}

// NewSkippedResult builds the canonical result for a step the scheduler
// never dispatched. Skipped steps are successful by definition so that
// dependents remain runnable.
func NewSkippedResult(step *RunbookStep, reason string) *StepResult {
	now := time.Now().UTC()
	return &StepResult{
		StepID:      step.ID,
		StepName:    step.Name,
		Action:      step.Action,
		Success:     true,
		StartedAt:   now,
		CompletedAt: now,
		Output:      map[string]interface{}{"skipped": true, "reason": reason},
	}
}

// AdapterError is the failure record an adapter returns.
type AdapterError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Adapter   string `json:"adapter"`
	Action    string `json:"action"`
	Retryable bool   `json:"retryable"`
}

// AdapterResult is what an adapter call yields: exactly one of Output or
// Error is meaningful depending on Success.
type AdapterResult struct {
	Success    bool                   `json:"success"`
	Action     string                 `json:"action"`
	Executor   string                 `json:"executor"`
	DurationMs int64                  `json:"duration_ms"`
	Output     map[string]interface{} `json:"output,omitempty"`
	Error      *AdapterError          `json:"error,omitempty"`
}

// ExecutionMetrics counts what happened during one run.
type ExecutionMetrics struct {
	StepsExecuted      int `json:"steps_executed"`
	StepsSucceeded     int `json:"steps_succeeded"`
	StepsFailed        int `json:"steps_failed"`
	StepsSkipped       int `json:"steps_skipped"`
	ApprovalsRequested int `json:"approvals_requested"`
	RollbacksTriggered int `json:"rollbacks_triggered"`
}

// ExecutionResult is the terminal outcome of one orchestrated run.
type ExecutionResult struct {
	ExecutionID string              `json:"execution_id"`
	RunbookID   string              `json:"runbook_id"`
	RunbookName string              `json:"runbook_name"`
	Success     bool                `json:"success"`
	State       enum.ExecutionState `json:"state"`
	Mode        enum.ExecutionMode  `json:"mode"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt time.Time           `json:"completed_at"`
	DurationMs  int64               `json:"duration_ms"`

	// StepResults are in dispatch order, one per executed or skipped step.
	StepResults []*StepResult `json:"step_results"`

	// Error is set when the run failed; its code classifies the failure.
	Error *StepError `json:"error,omitempty"`

	// Rollback reports the compensation pass, when one ran.
	Rollback *RollbackResult `json:"rollback,omitempty"`

	// Simulation carries the L2 report, when the run was a simulation.
	Simulation *SimulationReport `json:"simulation,omitempty"`

	// Metrics counts step outcomes for this run.
	Metrics ExecutionMetrics `json:"metrics"`
}

// RollbackStepResult records one compensating call.
type RollbackStepResult struct {
	StepID     string     `json:"step_id"`
	Action     string     `json:"action"`
	Executor   string     `json:"executor"`
	Success    bool       `json:"success"`
	DurationMs int64      `json:"duration_ms"`
	Error      *StepError `json:"error,omitempty"`
}

// RollbackResult is the outcome of a best-effort reverse-order compensation
// pass. Success means every attempted compensation succeeded; individual
// failures never abort the pass.
type RollbackResult struct {
	Success        bool                  `json:"success"`
	StepsRolledBack []string             `json:"steps_rolled_back"`
	StepResults    []*RollbackStepResult `json:"step_results"`
	TotalAttempted int                   `json:"total_attempted"`
	TotalSucceeded int                   `json:"total_succeeded"`
	TotalFailed    int                   `json:"total_failed"`
	DurationMs     int64                 `json:"duration_ms"`
}
