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

// Package interfaces defines the contracts between the RunbookPilot engine
// and its collaborators: adapters, persistence stores, enrichment sources,
// and the callback hooks the orchestrator exposes.
package interfaces

import (
	"context"
	"time"

	"github.com/sim-security/runbookpilot/internal/common/types/enum"
	"github.com/sim-security/runbookpilot/internal/core/models"
)

// Adapter is the single capability the engine consumes from the outside
// world. Implementations must honour ModeSimulation by not mutating
// external systems; read actions may still return real query results.
type Adapter interface {
	// Name returns the executor name steps reference.
	Name() string

	// Execute performs the named action with the resolved parameters.
	Execute(ctx context.Context, action string, params map[string]interface{}, mode enum.ExecutionMode) (*models.AdapterResult, error)

	// Healthy reports whether the adapter's backend is reachable; the
	// confidence scorer consumes this.
	Healthy(ctx context.Context) bool
}

// AdapterResolver looks adapters up by executor name. The scheduler and
// rollback engine depend on this narrow view rather than the full registry.
type AdapterResolver interface {
	Resolve(name string) (Adapter, bool)
}

// EnrichmentSource augments an alert before execution. Sources run in
// parallel, each bounded by its own timeout; a failing source never fails
// the pipeline.
type EnrichmentSource interface {
	// Name identifies the source; registration replaces by name.
	Name() string

	// Enabled lets configuration switch a registered source off.
	Enabled() bool

	// Timeout is this source's individual budget.
	Timeout() time.Duration

	// Enrich returns the data to merge under the source's name.
	Enrich(ctx context.Context, alert models.Alert) (map[string]interface{}, error)
}

// ExecutionStore persists execution rows and their step results.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, ec *models.ExecutionContext, runbookName string) error
	UpdateExecutionState(ctx context.Context, executionID string, state enum.ExecutionState, errMsg string) error
	FinishExecution(ctx context.Context, result *models.ExecutionResult, snapshot []byte) error
	GetExecution(ctx context.Context, executionID string) (*models.ExecutionResult, error)
	SaveStepResult(ctx context.Context, executionID string, result *models.StepResult) error
	ListStepResults(ctx context.Context, executionID string) ([]*models.StepResult, error)
}

// ApprovalStore persists approval requests and their decisions.
type ApprovalStore interface {
	Create(ctx context.Context, req *models.ApprovalRequest) error
	Get(ctx context.Context, requestID string) (*models.ApprovalRequest, error)
	// Approve transitions pending → approved; it fails on missing,
	// non-pending, or expired rows.
	Approve(ctx context.Context, requestID, approvedBy string) (*models.ApprovalRequest, error)
	// Deny transitions pending → denied with a reason.
	Deny(ctx context.Context, requestID, deniedBy, reason string) (*models.ApprovalRequest, error)
	// ExpireStale marks every lapsed pending row expired and returns the count.
	ExpireStale(ctx context.Context) (int64, error)
	// ListPending returns pending requests, newest first, with optional
	// execution/runbook filters and limit/offset paging.
	ListPending(ctx context.Context, filter models.ApprovalFilter) ([]*models.ApprovalRequest, error)
}

// AuditLogger appends hash-chained entries to an execution's audit trail.
// Append must be durable before it returns; the orchestrator treats a
// failed append as fatal to the run.
type AuditLogger interface {
	Append(ctx context.Context, executionID, runbookID, eventType, actor string, details map[string]interface{}) (*models.AuditEntry, error)
	Chain(ctx context.Context, executionID string) ([]*models.AuditEntry, error)
	// Verify recomputes the chain and reports the first broken link, if any.
	Verify(ctx context.Context, executionID string) error
}

// SimulationStore persists simulation reports and aggregates their metrics.
type SimulationStore interface {
	SaveReport(ctx context.Context, report *models.SimulationReport) error
	GetReport(ctx context.Context, simulationID string) (*models.SimulationReport, error)
	// Metrics aggregates simulation outcomes recorded since the given time.
	Metrics(ctx context.Context, since time.Time) (*models.SimulationMetrics, error)
}

// ConfirmationFunc is the L0 analyst-confirmation callback. It receives the
// rendered step plan and returns whether the analyst confirmed the step.
type ConfirmationFunc func(step *models.RunbookStep, resolvedParams map[string]interface{}) bool

// ApprovalFunc is the L1 write-gate callback. It returns the decision, the
// analyst who made it, and — for denials — the reason.
type ApprovalFunc func(req *models.ApprovalRequest) (approved bool, decidedBy string, reason string)

// StateChangeFunc observes state machine transitions.
type StateChangeFunc func(executionID string, from, to enum.ExecutionState)

// StepCompleteFunc observes each finished step.
type StepCompleteFunc func(executionID string, result *models.StepResult)

// Summarizer writes a post-execution analyst note. Implementations are
// called fire-and-forget; they must never block or fail an execution.
type Summarizer interface {
	Summarize(ctx context.Context, result *models.ExecutionResult) (string, error)
}
