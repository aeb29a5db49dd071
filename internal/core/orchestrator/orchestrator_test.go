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

package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sim-security/runbookpilot/internal/adapters"
	"github.com/sim-security/runbookpilot/internal/adapters/memory"
	"github.com/sim-security/runbookpilot/internal/approval"
	"github.com/sim-security/runbookpilot/internal/audit"
	"github.com/sim-security/runbookpilot/internal/common/config"
	"github.com/sim-security/runbookpilot/internal/common/types/enum"
	"github.com/sim-security/runbookpilot/internal/core/controller"
	"github.com/sim-security/runbookpilot/internal/core/models"
	"github.com/sim-security/runbookpilot/internal/simulation"
	"github.com/sim-security/runbookpilot/internal/storage"
)

type harness struct {
	orch    *Orchestrator
	adapter *memory.Adapter
	store   *storage.Store
	audit   *audit.Log
	queue   *approval.Queue
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	auditLog := audit.NewLog(store)
	queue := approval.NewQueue(store, 15*time.Minute)
	registry := adapters.NewRegistry()
	adapter := memory.New("edr")
	require.NoError(t, registry.Register(adapter))

	cfg := config.EngineConfig{
		SimulationEnabled:       true,
		DefaultStepTimeout:      2 * time.Second,
		MaxExecutionTime:        time.Minute,
		MaxConcurrentExecutions: 4,
		Environment:             "test",
	}
	orch := New(cfg, store, auditLog, queue, registry, controller.New(),
		nil, simulation.NewCollector(store), nil)

	return &harness{orch: orch, adapter: adapter, store: store, audit: auditLog, queue: queue}
}

func testAlert() models.Alert {
	return models.Alert{
		"@timestamp": "2025-06-01T10:00:00Z",
		"event":      map[string]interface{}{"kind": "alert", "severity": float64(80)},
		"source":     map[string]interface{}{"ip": "203.0.113.10"},
		"x-detectforge": map[string]interface{}{
			"confidence": "high",
			"rule_id":    "rule-77",
		},
	}
}

func l1Runbook(steps ...*models.RunbookStep) *models.Runbook {
	return &models.Runbook{
		ID: "rb-1", Name: "contain host", Version: "1.0.0",
		Config: models.RunbookSettings{AutomationLevel: "L1"},
		Steps:  steps,
	}
}

// Scenario: an L1 runbook of read-only steps never consults the approval
// callback and completes cleanly.
func TestL1ReadOnlyNeverAsksApproval(t *testing.T) {
	h := newHarness(t)

	approvals := 0
	var states []enum.ExecutionState
	rb := l1Runbook(
		&models.RunbookStep{ID: "s1", Name: "query", Action: "query_siem", Executor: "edr"},
		&models.RunbookStep{ID: "s2", Name: "enrich", Action: "enrich_ioc", Executor: "edr"},
	)

	result := h.orch.Execute(context.Background(), rb, testAlert(), Options{
		Approve: func(req *models.ApprovalRequest) (bool, string, string) {
			approvals++
			return true, "analyst", ""
		},
		OnStateChange: func(id string, from, to enum.ExecutionState) {
			states = append(states, to)
		},
	})

	assert.True(t, result.Success)
	assert.Equal(t, enum.StateCompleted, result.State)
	assert.Zero(t, approvals)
	require.Len(t, result.StepResults, 2)
	assert.True(t, result.StepResults[0].Success)
	assert.True(t, result.StepResults[1].Success)
	assert.Zero(t, result.Metrics.RollbacksTriggered)

	// idle→validating→planning→executing→…→completed.
	require.GreaterOrEqual(t, len(states), 4)
	assert.Equal(t, enum.StateValidating, states[0])
	assert.Equal(t, enum.StatePlanning, states[1])
	assert.Equal(t, enum.StateExecuting, states[2])
	assert.Equal(t, enum.StateCompleted, states[len(states)-1])
}

// Scenario: a denied write with on_error=halt fails the run after exactly
// one step result carrying APPROVAL_DENIED, and no rollback runs.
func TestL1WriteDeniedWithHalt(t *testing.T) {
	h := newHarness(t)

	rb := l1Runbook(
		&models.RunbookStep{ID: "s1", Name: "block", Action: "block_ip", Executor: "edr", OnError: "halt"},
	)

	result := h.orch.Execute(context.Background(), rb, testAlert(), Options{
		Approve: func(req *models.ApprovalRequest) (bool, string, string) {
			return false, "analyst", "not during business hours"
		},
	})

	assert.False(t, result.Success)
	assert.Equal(t, enum.StateFailed, result.State)
	require.Len(t, result.StepResults, 1)
	require.NotNil(t, result.StepResults[0].Error)
	assert.Equal(t, "APPROVAL_DENIED", result.StepResults[0].Error.Code)
	assert.Nil(t, result.Rollback)
	assert.Zero(t, result.Metrics.RollbacksTriggered)

	// The denial is persisted on the queue row.
	pending, err := h.queue.ListPending(context.Background(), models.ApprovalFilter{})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// Scenario: a later step failure triggers reverse-order rollback of the
// earlier successful step, and the machine ends …→rolling_back→completed.
func TestL1RollbackOnFailure(t *testing.T) {
	h := newHarness(t)
	h.adapter.Script("block_ip", memory.Outcome{Fail: true, Message: "firewall unreachable"})

	rb := l1Runbook(
		&models.RunbookStep{
			ID: "s1", Name: "collect", Action: "collect_logs", Executor: "edr",
			Rollback: &models.RollbackSpec{Action: "collect_logs", Timeout: 5},
		},
		&models.RunbookStep{
			ID: "s2", Name: "block", Action: "block_ip", Executor: "edr",
			DependsOn: []string{"s1"}, OnError: "halt",
		},
	)

	var states []enum.ExecutionState
	result := h.orch.Execute(context.Background(), rb, testAlert(), Options{
		Approve: func(req *models.ApprovalRequest) (bool, string, string) {
			return true, "analyst", ""
		},
		OnStateChange: func(id string, from, to enum.ExecutionState) {
			states = append(states, to)
		},
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Metrics.RollbacksTriggered)
	require.NotNil(t, result.Rollback)
	assert.True(t, result.Rollback.Success)
	assert.Equal(t, []string{"s1"}, result.Rollback.StepsRolledBack)
	assert.Equal(t, 1, result.Rollback.TotalAttempted)

	// …→rolling_back→completed (rollback itself succeeded).
	require.GreaterOrEqual(t, len(states), 2)
	assert.Equal(t, enum.StateRollingBack, states[len(states)-2])
	assert.Equal(t, enum.StateCompleted, states[len(states)-1])
}

// Scenario: execution order follows depends_on, not declaration order.
func TestTopologicalExecutionOrder(t *testing.T) {
	h := newHarness(t)

	rb := l1Runbook(
		&models.RunbookStep{ID: "C", Name: "c", Action: "query_siem", Executor: "edr", DependsOn: []string{"A", "B"}},
		&models.RunbookStep{ID: "A", Name: "a", Action: "query_siem", Executor: "edr"},
		&models.RunbookStep{ID: "B", Name: "b", Action: "query_siem", Executor: "edr", DependsOn: []string{"A"}},
	)

	result := h.orch.Execute(context.Background(), rb, testAlert(), Options{})
	require.True(t, result.Success)

	ids := make([]string, len(result.StepResults))
	for i, sr := range result.StepResults {
		ids[i] = sr.StepID
	}
	assert.Equal(t, []string{"A", "B", "C"}, ids)
}

// Scenario: a numeric condition guard over an upstream step output runs
// the dependent step instead of skipping it.
func TestConditionGuardOverStepOutput(t *testing.T) {
	h := newHarness(t)
	h.adapter.Script("query_siem", memory.Outcome{
		Output: map[string]interface{}{"risk_score": 85},
	})

	rb := l1Runbook(
		&models.RunbookStep{ID: "step-01", Name: "score", Action: "query_siem", Executor: "edr"},
		&models.RunbookStep{
			ID: "step-02", Name: "ticket", Action: "create_ticket", Executor: "edr",
			DependsOn: []string{"step-01"},
			Condition: "{{ steps.step-01.output.risk_score }} > 50",
			ApprovalRequired: boolPtr(false),
		},
	)

	result := h.orch.Execute(context.Background(), rb, testAlert(), Options{})
	require.True(t, result.Success)
	require.Len(t, result.StepResults, 2)
	assert.False(t, result.StepResults[1].Skipped())
	assert.True(t, result.StepResults[1].Success)
}

func TestL0ConfirmationsDriveOutcome(t *testing.T) {
	h := newHarness(t)

	rb := l1Runbook(
		&models.RunbookStep{ID: "s1", Name: "check", Action: "query_siem", Executor: "edr"},
		&models.RunbookStep{ID: "s2", Name: "contain", Action: "isolate_host", Executor: "edr", OnError: "halt"},
		&models.RunbookStep{ID: "s3", Name: "after", Action: "query_siem", Executor: "edr"},
	)
	rb.Config.AutomationLevel = "L0"

	confirmations := map[string]bool{"s1": true, "s2": false, "s3": true}
	result := h.orch.Execute(context.Background(), rb, testAlert(), Options{
		Confirm: func(step *models.RunbookStep, params map[string]interface{}) bool {
			return confirmations[step.ID]
		},
	})

	// The refused halt step stops the walk: s3 never runs.
	assert.False(t, result.Success)
	require.Len(t, result.StepResults, 2)
	assert.Equal(t, true, result.StepResults[0].Output["manual_confirmation"])
	assert.Equal(t, false, result.StepResults[1].Output["manual_confirmation"])

	// No adapter was ever called in the display-only tier.
	assert.Empty(t, h.adapter.Calls())
}

func TestL2SimulationReport(t *testing.T) {
	h := newHarness(t)

	rb := &models.Runbook{
		ID: "rb-2", Name: "containment sim", Version: "2.1.0",
		Config: models.RunbookSettings{AutomationLevel: "L2"},
		Steps: []*models.RunbookStep{
			{ID: "s1", Name: "lookup", Action: "query_siem", Executor: "edr"},
			{
				ID: "s2", Name: "isolate", Action: "isolate_host", Executor: "edr",
				DependsOn:  []string{"s1"},
				Parameters: map[string]interface{}{"hostname": "web-01"},
				Timeout:    30,
				Rollback:   &models.RollbackSpec{Action: "unisolate_host", Timeout: 20},
			},
			{
				ID: "s3", Name: "block", Action: "block_ip", Executor: "edr",
				DependsOn:  []string{"s2"},
				Parameters: map[string]interface{}{"ip": "{{ alert.source.ip }}"},
				Timeout:    10,
				Rollback:   &models.RollbackSpec{Action: "unblock_ip", Timeout: 10},
			},
		},
	}

	result := h.orch.Execute(context.Background(), rb, testAlert(), Options{})
	require.True(t, result.Success, "simulation should succeed: %+v", result.Error)
	require.NotNil(t, result.Simulation)
	report := result.Simulation

	assert.Equal(t, enum.OutcomeSuccess, report.PredictedOutcome)
	assert.Equal(t, enum.ModeSimulation, result.Mode)

	// Overall risk is the max across write steps: isolate_host = 8.
	assert.Equal(t, 8, report.OverallRiskScore)
	assert.Equal(t, enum.RiskHigh, report.OverallRiskLevel)
	assert.GreaterOrEqual(t, report.OverallConfidence, 0.0)
	assert.LessOrEqual(t, report.OverallConfidence, 1.0)

	// Rollback plan is reverse order with summed timeouts.
	require.NotNil(t, report.RollbackPlan)
	require.Len(t, report.RollbackPlan.Entries, 2)
	assert.Equal(t, "s3", report.RollbackPlan.Entries[0].StepID)
	assert.Equal(t, "s2", report.RollbackPlan.Entries[1].StepID)
	assert.Equal(t, int64(30_000), report.RollbackPlan.EstimatedDurationMs)

	assert.Contains(t, report.AffectedAssets, "web-01")
	assert.Contains(t, report.AffectedAssets, "203.0.113.10")
	assert.Equal(t, "high", report.DetectforgeConfidence)
	assert.Equal(t, "rule-77", report.DetectforgeRuleID)

	// isolate_host is high risk, so it shows up in risks_identified.
	assert.NotEmpty(t, report.RisksIdentified)

	// The report is persisted and the queue row cross-references it.
	saved, err := simulation.NewCollector(h.store).GetReport(context.Background(), report.SimulationID)
	require.NoError(t, err)
	assert.Equal(t, report.SimulationID, saved.SimulationID)

	pending, err := h.queue.ListPending(context.Background(), models.ApprovalFilter{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "execute_runbook", pending[0].Action)
	assert.NotEmpty(t, pending[0].SimulationResult)

	// The production path from the queue stays unimplemented.
	err = h.orch.ExecuteFromQueue(context.Background(), pending[0].RequestID)
	assert.ErrorContains(t, err, "L2_NOT_IMPLEMENTED")
}

func TestL2DisabledRejected(t *testing.T) {
	_ = newHarness(t)
	store2, err := storage.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store2.Close() })

	cfg := config.EngineConfig{
		SimulationEnabled:       false,
		DefaultStepTimeout:      time.Second,
		MaxExecutionTime:        time.Minute,
		MaxConcurrentExecutions: 1,
	}
	registry := adapters.NewRegistry()
	require.NoError(t, registry.Register(memory.New("edr")))
	orch := New(cfg, store2, audit.NewLog(store2), approval.NewQueue(store2, time.Minute),
		registry, controller.New(), nil, nil, nil)

	rb := &models.Runbook{
		ID: "rb-3", Name: "sim", Version: "1.0.0",
		Config: models.RunbookSettings{AutomationLevel: "L2"},
		Steps:  []*models.RunbookStep{{ID: "s1", Name: "n", Action: "query_siem", Executor: "edr"}},
	}
	result := orch.Execute(context.Background(), rb, testAlert(), Options{})

	assert.False(t, result.Success)
	assert.Equal(t, enum.StateFailed, result.State)
	require.NotNil(t, result.Error)
	assert.Equal(t, "L2_NOT_IMPLEMENTED", result.Error.Code)
}

func TestAuditChainIntactAfterFailure(t *testing.T) {
	h := newHarness(t)
	h.adapter.Script("query_siem", memory.Outcome{Fail: true, Message: "siem down"})

	rb := l1Runbook(
		&models.RunbookStep{ID: "s1", Name: "q", Action: "query_siem", Executor: "edr", OnError: "halt"},
	)
	result := h.orch.Execute(context.Background(), rb, testAlert(), Options{})
	require.False(t, result.Success)

	require.NoError(t, h.audit.Verify(context.Background(), result.ExecutionID))

	chain, err := h.audit.Chain(context.Background(), result.ExecutionID)
	require.NoError(t, err)

	var kinds []string
	for _, e := range chain {
		kinds = append(kinds, e.EventType)
	}
	assert.Contains(t, kinds, audit.EventExecutionStarted)
	assert.Contains(t, kinds, audit.EventStepStarted)
	assert.Contains(t, kinds, audit.EventStepFailed)
	assert.Contains(t, kinds, audit.EventExecutionFailed)
}

func TestContextSnapshotPersisted(t *testing.T) {
	h := newHarness(t)

	rb := l1Runbook(
		&models.RunbookStep{ID: "s1", Name: "q", Action: "query_siem", Executor: "edr"},
	)
	result := h.orch.Execute(context.Background(), rb, testAlert(), Options{
		Variables: map[string]interface{}{"ticket": "IR-7"},
	})
	require.True(t, result.Success)

	var snapshot string
	row := h.store.DB().QueryRow(`SELECT context_snapshot FROM executions WHERE execution_id = ?`, result.ExecutionID)
	require.NoError(t, row.Scan(&snapshot))

	ec, err := models.RestoreExecutionContext([]byte(snapshot))
	require.NoError(t, err)
	assert.Equal(t, result.ExecutionID, ec.ExecutionID)
	assert.Equal(t, enum.StateCompleted, ec.State)
	assert.Equal(t, []string{"s1"}, ec.CompletedSteps)
	assert.Equal(t, "IR-7", ec.Variables["ticket"])
}

func boolPtr(b bool) *bool { return &b }
