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

	"github.com/google/uuid"
	"github.com/sim-security/runbookpilot/internal/audit"
	"github.com/sim-security/runbookpilot/internal/common/logger"
	"github.com/sim-security/runbookpilot/internal/common/types/enum"
	rbperrors "github.com/sim-security/runbookpilot/internal/common/types/errors"
	"github.com/sim-security/runbookpilot/internal/core/impact"
	"github.com/sim-security/runbookpilot/internal/core/interfaces"
	"github.com/sim-security/runbookpilot/internal/core/models"
	"github.com/sim-security/runbookpilot/internal/core/scheduler"
)

// L2Executor is the simulation tier: every step dispatches in simulation
// mode — adapters answer reads with real query results and writes with
// predictions — and each write step is scored by the impact assessor and
// confidence scorer. The tier is gated behind an enable flag.
type L2Executor struct {
	sched    *scheduler.Scheduler
	resolver interfaces.AdapterResolver
	enabled  bool
	log      logger.Logger
}

// NewL2 creates the simulation executor.
func NewL2(sched *scheduler.Scheduler, resolver interfaces.AdapterResolver, enabled bool) *L2Executor {
	return &L2Executor{
		sched:    sched,
		resolver: resolver,
		enabled:  enabled,
		log:      logger.NewLogger("executor-l2"),
	}
}

// Simulate walks the ordered steps in simulation mode and aggregates the
// report. It rejects outright when the L2 flag is off.
func (e *L2Executor) Simulate(ctx context.Context, run *Run, hooks Hooks) (*Walk, *models.SimulationReport, error) {
	if !e.enabled {
		return nil, nil, rbperrors.New(rbperrors.CodeL2NotImplemented, "simulation tier is disabled")
	}

	walk := &Walk{}
	report := &models.SimulationReport{
		SimulationID: uuid.New().String(),
		ExecutionID:  run.EC.ExecutionID,
		RunbookID:    run.Runbook.ID,
		RunbookName:  run.Runbook.Name,
		Timestamp:    time.Now().UTC(),
	}
	report.DetectforgeConfidence = run.EC.Alert.GetString("x-detectforge.confidence")
	report.DetectforgeRuleID = run.EC.Alert.GetString("x-detectforge.rule_id")

	var impacts []*models.Impact
	var confidences []float64
	assetSet := make(map[string]struct{})

	for _, step := range run.Ordered {
		if hooks.ShouldAbort != nil && hooks.ShouldAbort() {
			walk.Aborted = true
			break
		}

		if reason := e.sched.Gate(step, run.EC, run.TmplCtx); reason != "" {
			skipped := models.NewSkippedResult(step, reason)
			run.EC.MarkCompleted(step.ID)
			walk.Results = append(walk.Results, skipped)
			report.Steps = append(report.Steps, &models.SimulatedStep{
				StepID:            step.ID,
				StepName:          step.Name,
				Action:            step.Action,
				Executor:          step.Executor,
				Skipped:           true,
				Success:           true,
				ValidationsPassed: true,
				IsWriteAction:     impact.IsWrite(step.Action),
			})
			if hooks.StepDone != nil {
				if err := hooks.StepDone(skipped); err != nil {
					return walk, nil, err
				}
			}
			continue
		}

		run.EC.CurrentStep = step.ID
		outcome := e.sched.ExecuteStep(ctx, step, run.TmplCtx, e.resolver, enum.ModeSimulation)
		if outcome.Result.Success {
			run.TmplCtx.PublishStepOutput(step.ID, outcome.Result.Output)
		}
		if err := recordStep(run, walk, outcome.Result, hooks); err != nil {
			return walk, nil, err
		}

		sim := e.simulatedStep(ctx, step, outcome, report.DetectforgeConfidence)
		report.Steps = append(report.Steps, sim)
		confidences = append(confidences, sim.Confidence)
		if sim.Impact != nil {
			impacts = append(impacts, sim.Impact)
			for _, asset := range sim.Impact.BlastRadius.Assets {
				assetSet[asset] = struct{}{}
			}
			if sim.Impact.Level >= enum.RiskHigh {
				report.RisksIdentified = append(report.RisksIdentified, sim.Impact.Summary)
			}
		}

		details := stepDetails(step)
		details["predicted_success"] = sim.Success
		details["confidence"] = sim.Confidence
		if err := hooks.Audit(audit.EventStepSimulated, details); err != nil {
			return walk, nil, err
		}
	}

	report.PredictedOutcome = predictOutcome(report.Steps)
	report.OverallConfidence = impact.AggregateConfidence(confidences)
	report.OverallRiskScore, report.OverallRiskLevel = impact.OverallRisk(impacts)
	report.RollbackPlan = rollbackPlan(run.Ordered)
	report.EstimatedDurationMs = estimatedDuration(walk.Results)
	for asset := range assetSet {
		report.AffectedAssets = append(report.AffectedAssets, asset)
	}

	return walk, report, nil
}

// simulatedStep converts a scheduler outcome into the scored simulation
// record. Every step scores on parameter validation and the detectforge
// confidence; write steps add the impact assessment, its rollback
// availability and the adapter's health, while read steps count as
// rollback-available and carry no impact or health input.
func (e *L2Executor) simulatedStep(ctx context.Context, step *models.RunbookStep, outcome *scheduler.Outcome, detectforge string) *models.SimulatedStep {
	isWrite := impact.IsWrite(step.Action)

	sim := &models.SimulatedStep{
		StepID:          step.ID,
		StepName:        step.Name,
		Action:          step.Action,
		Executor:        step.Executor,
		Parameters:      outcome.ResolvedParams,
		PredictedResult: outcome.Result.Output,
		Success:         outcome.Result.Success,
		IsWriteAction:   isWrite,
		DurationMs:      outcome.Result.DurationMs,
	}

	for _, path := range outcome.UnresolvedParams {
		sim.ValidationErrors = append(sim.ValidationErrors, "unresolved parameter: "+path)
	}
	if !outcome.Result.Success && outcome.Result.Error != nil {
		sim.ValidationErrors = append(sim.ValidationErrors, outcome.Result.Error.Message)
	}
	sim.ValidationsPassed = len(sim.ValidationErrors) == 0

	if step.Rollback != nil {
		sim.RollbackAction = step.Rollback.Action
		sim.RollbackParameters = step.Rollback.Parameters
	}

	in := impact.ConfidenceInput{
		ParameterValidation:   len(outcome.UnresolvedParams) == 0,
		DetectforgeConfidence: detectforge,
	}

	if isWrite {
		imp := impact.Assess(step, outcome.ResolvedParams)
		sim.Impact = imp
		sim.SideEffects = append(sim.SideEffects, imp.Summary)
		in.RollbackAvailable = imp.RollbackAvailable

		if adapter, ok := e.resolver.Resolve(step.Executor); ok {
			healthy := adapter.Healthy(ctx)
			in.AdapterHealth = &healthy
		}
	} else {
		in.RollbackAvailable = true // nothing to undo
	}

	sim.Confidence = impact.StepConfidence(in)
	return sim
}

// predictOutcome folds simulated steps into the aggregate verdict:
// SUCCESS when every non-skipped validation passed, FAILURE when steps
// failed and no write step would succeed, PARTIAL otherwise.
func predictOutcome(steps []*models.SimulatedStep) enum.PredictedOutcome {
	allValidationsPass := true
	anyFailed := false
	writeTotal, writeFailed := 0, 0

	for _, s := range steps {
		if s.Skipped {
			continue
		}
		if !s.ValidationsPassed {
			allValidationsPass = false
		}
		if !s.Success {
			anyFailed = true
		}
		if s.IsWriteAction {
			writeTotal++
			if !s.Success {
				writeFailed++
			}
		}
	}

	if allValidationsPass && !anyFailed {
		return enum.OutcomeSuccess
	}
	if anyFailed && writeFailed == writeTotal {
		return enum.OutcomeFailure
	}
	return enum.OutcomePartial
}

// rollbackPlan walks the steps in reverse, emitting an entry for every
// write step that declares a rollback clause.
func rollbackPlan(ordered []*models.RunbookStep) *models.RollbackPlan {
	plan := &models.RollbackPlan{}
	for i := len(ordered) - 1; i >= 0; i-- {
		step := ordered[i]
		if step.Rollback == nil || !impact.IsWrite(step.Action) {
			continue
		}
		executor := step.Rollback.Executor
		if executor == "" {
			executor = step.Executor
		}
		plan.Entries = append(plan.Entries, &models.RollbackPlanEntry{
			StepID:     step.ID,
			Action:     step.Rollback.Action,
			Executor:   executor,
			Parameters: step.Rollback.Parameters,
			Timeout:    step.Rollback.Timeout,
		})
		plan.EstimatedDurationMs += int64(step.Rollback.Timeout) * 1000
	}
	return plan
}

func estimatedDuration(results []*models.StepResult) int64 {
	var total int64
	for _, r := range results {
		total += r.DurationMs
	}
	return total
}
