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

// Package orchestrator composes one runbook execution: state machine,
// audit chain, enrichment, tier executor, rollback, and persistence. An
// execution always ends in exactly one terminal state with one result;
// unexpected failures become a failed result, never a propagated panic.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sim-security/runbookpilot/internal/approval"
	"github.com/sim-security/runbookpilot/internal/audit"
	"github.com/sim-security/runbookpilot/internal/common/config"
	"github.com/sim-security/runbookpilot/internal/common/logger"
	"github.com/sim-security/runbookpilot/internal/common/types/enum"
	rbperrors "github.com/sim-security/runbookpilot/internal/common/types/errors"
	"github.com/sim-security/runbookpilot/internal/core/controller"
	"github.com/sim-security/runbookpilot/internal/core/executors"
	"github.com/sim-security/runbookpilot/internal/core/interfaces"
	"github.com/sim-security/runbookpilot/internal/core/models"
	"github.com/sim-security/runbookpilot/internal/core/rollback"
	"github.com/sim-security/runbookpilot/internal/core/scheduler"
	"github.com/sim-security/runbookpilot/internal/core/statemachine"
	"github.com/sim-security/runbookpilot/internal/enrich"
	"github.com/sim-security/runbookpilot/internal/simulation"
	"github.com/sim-security/runbookpilot/internal/storage"
	"github.com/sim-security/runbookpilot/internal/template"
)

const actorEngine = "engine"

// Options carries the per-execution callbacks and variables.
type Options struct {
	// OnStateChange observes lifecycle transitions; exceptions are logged,
	// never propagated.
	OnStateChange interfaces.StateChangeFunc

	// OnStepComplete observes each finished step.
	OnStepComplete interfaces.StepCompleteFunc

	// Confirm is the L0 analyst-confirmation callback.
	Confirm interfaces.ConfirmationFunc

	// Approve is the L1 (and L2 pre-execution) approval callback.
	Approve interfaces.ApprovalFunc

	// Variables are operator-supplied values exposed under context.*.
	Variables map[string]interface{}
}

// Orchestrator drives runbook executions end to end. All collaborators are
// threaded through the constructor so tests can stand up several engines
// against separate stores.
type Orchestrator struct {
	cfg       config.EngineConfig
	store     *storage.Store
	auditLog  *audit.Log
	queue     *approval.Queue
	resolver  interfaces.AdapterResolver
	ctrl      *controller.Controller
	sched     *scheduler.Scheduler
	rollback  *rollback.Engine
	pipeline  *enrich.Pipeline
	collector *simulation.Collector
	notes     interfaces.Summarizer
	log       logger.Logger
}

// New wires an orchestrator. pipeline and notes may be nil.
func New(
	cfg config.EngineConfig,
	store *storage.Store,
	auditLog *audit.Log,
	queue *approval.Queue,
	resolver interfaces.AdapterResolver,
	ctrl *controller.Controller,
	pipeline *enrich.Pipeline,
	collector *simulation.Collector,
	notes interfaces.Summarizer,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		auditLog:  auditLog,
		queue:     queue,
		resolver:  resolver,
		ctrl:      ctrl,
		sched:     scheduler.New(cfg.DefaultStepTimeout),
		rollback:  rollback.NewEngine(),
		pipeline:  pipeline,
		collector: collector,
		notes:     notes,
		log:       logger.NewLogger("orchestrator"),
	}
}

// run bundles the mutable state of one in-flight execution.
type run struct {
	rb      *models.Runbook
	ec      *models.ExecutionContext
	machine *statemachine.Machine
	tmplCtx *template.Context
	result  *models.ExecutionResult
	opts    Options
}

// Execute drives one runbook against one alert to a terminal outcome. It
// never returns an error: any unexpected failure is folded into a failed
// result with code ORCHESTRATION_ERROR.
func (o *Orchestrator) Execute(ctx context.Context, rb *models.Runbook, alert models.Alert, opts Options) (result *models.ExecutionResult) {
	executionID := uuid.New().String()
	started := time.Now().UTC()

	mode := enum.ModeProduction
	if rb.Config.Level() == enum.LevelL2 {
		mode = enum.ModeSimulation
	}

	ec := &models.ExecutionContext{
		ExecutionID:    executionID,
		RunbookID:      rb.ID,
		RunbookVersion: rb.Version,
		Mode:           mode,
		StartedAt:      started,
		Variables:      opts.Variables,
		State:          enum.StateIdle,
		Alert:          alert,
	}

	r := &run{
		rb:      rb,
		ec:      ec,
		machine: statemachine.New(executionID),
		opts:    opts,
		result: &models.ExecutionResult{
			ExecutionID: executionID,
			RunbookID:   rb.ID,
			RunbookName: rb.Name,
			Mode:        mode,
			StartedAt:   started,
		},
	}

	defer func() {
		if rec := recover(); rec != nil {
			o.log.Errorf("execution %s panicked: %v", executionID, rec)
			result = o.abort(ctx, r, rbperrors.Newf(rbperrors.CodeOrchestrationError, "orchestration panicked: %v", rec))
		}
	}()

	o.subscribeMachine(r)

	if err := o.store.CreateExecution(ctx, ec, rb.Name); err != nil {
		return o.abort(ctx, r, rbperrors.Wrap(err, rbperrors.CodeOrchestrationError, "failed to persist execution"))
	}
	if err := o.emit(ctx, r, audit.EventExecutionStarted, map[string]interface{}{
		"runbook_id":       rb.ID,
		"runbook_version":  rb.Version,
		"automation_level": rb.Config.AutomationLevel,
		"mode":             mode.String(),
	}); err != nil {
		return o.abort(ctx, r, err)
	}

	timeout := rb.Config.MaxDuration()
	if timeout <= 0 {
		timeout = o.cfg.MaxExecutionTime
	}
	if _, err := o.ctrl.StartExecution(executionID, timeout, nil, nil); err != nil {
		return o.abort(ctx, r, rbperrors.Wrap(err, rbperrors.CodeOrchestrationError, "failed to register execution"))
	}

	return o.drive(ctx, r)
}

// drive walks the lifecycle once the execution is registered.
func (o *Orchestrator) drive(ctx context.Context, r *run) *models.ExecutionResult {
	// Enrichment is best-effort and happens before validation so guards
	// and templates can see the enriched fields.
	if o.pipeline != nil && r.ec.Alert != nil {
		enriched := o.pipeline.Run(ctx, r.ec.Alert)
		if len(enriched.EnrichedContext) > 0 {
			merged := make(map[string]interface{}, len(enriched.EnrichedContext))
			for name, data := range enriched.EnrichedContext {
				merged[name] = data
			}
			r.ec.Alert["enrichment"] = merged
		}
	}

	vars := map[string]interface{}{
		"execution_id": r.ec.ExecutionID,
		"mode":         r.ec.Mode.String(),
	}
	for k, v := range r.opts.Variables {
		vars[k] = v
	}
	r.tmplCtx = template.NewContext(r.ec.Alert, vars)

	if err := o.fire(ctx, r, statemachine.EventStartValidation); err != nil {
		return o.abort(ctx, r, err)
	}
	ordered, verr := o.validate(r.rb)
	if verr != nil {
		_ = o.fire(ctx, r, statemachine.EventValidationFailed)
		return o.finish(ctx, r, verr)
	}
	if err := o.fire(ctx, r, statemachine.EventValidationSuccess); err != nil {
		return o.abort(ctx, r, err)
	}

	level := r.rb.Config.Level()
	if level == enum.LevelL2 && r.rb.Config.RequiresApproval {
		granted, err := o.preExecutionGate(ctx, r)
		if err != nil {
			return o.abort(ctx, r, err)
		}
		if !granted {
			return o.finish(ctx, r, nil)
		}
	} else {
		if err := o.fire(ctx, r, statemachine.EventPlanReady); err != nil {
			return o.abort(ctx, r, err)
		}
	}

	tierRun := &executors.Run{Runbook: r.rb, Ordered: ordered, EC: r.ec, TmplCtx: r.tmplCtx}
	hooks := o.hooks(ctx, r)

	var walk *executors.Walk
	var err error

	switch level {
	case enum.LevelL0:
		walk, err = executors.NewL0(o.sched).Execute(ctx, tierRun, hooks)
	case enum.LevelL1:
		walk, err = executors.NewL1(o.sched, o.resolver, o.queue).Execute(ctx, tierRun, hooks)
	case enum.LevelL2:
		walk, err = o.simulate(ctx, r, tierRun, hooks)
	default:
		err = rbperrors.Newf(rbperrors.CodeValidationFailed, "unknown automation level %q", r.rb.Config.AutomationLevel)
	}
	if err != nil {
		return o.abort(ctx, r, err)
	}

	r.result.StepResults = walk.Results
	o.countMetrics(r, walk)

	return o.settle(ctx, r, walk)
}

// settle takes a finished walk to its terminal state, running rollback
// when the runbook asks for it.
func (o *Orchestrator) settle(ctx context.Context, r *run, walk *executors.Walk) *models.ExecutionResult {
	if walk.Aborted {
		return o.settleAborted(ctx, r)
	}

	if !walk.Failed() {
		if err := o.fire(ctx, r, statemachine.EventAllStepsCompleted); err != nil {
			return o.abort(ctx, r, err)
		}
		return o.finish(ctx, r, nil)
	}

	failErr := firstFailure(walk)

	// Rollback only has work when a successful step declared compensation.
	if r.rb.Config.ShouldRollback() && r.ec.Mode != enum.ModeSimulation && hasCompensatable(r.rb, walk) {
		if err := r.machine.StartRollback(); err == nil {
			if aerr := o.emit(ctx, r, audit.EventRollbackStarted, nil); aerr != nil {
				return o.abort(ctx, r, aerr)
			}
			rbResult := o.rollback.Run(ctx, r.rb, walk.Results, r.tmplCtx, o.resolver)
			r.result.Rollback = rbResult
			r.result.Metrics.RollbacksTriggered++

			if rbResult.Success {
				if aerr := o.emit(ctx, r, audit.EventRollbackCompleted, rollbackDetails(rbResult)); aerr != nil {
					return o.abort(ctx, r, aerr)
				}
				_ = o.fire(ctx, r, statemachine.EventRollbackCompleted)
			} else {
				if aerr := o.emit(ctx, r, audit.EventRollbackFailed, rollbackDetails(rbResult)); aerr != nil {
					return o.abort(ctx, r, aerr)
				}
				_ = o.fire(ctx, r, statemachine.EventRollbackFailed)
			}
			return o.finish(ctx, r, failErr)
		}
	}

	_ = o.fire(ctx, r, statemachine.EventStepFailed)
	return o.finish(ctx, r, failErr)
}

// settleAborted resolves a walk stopped by cancellation or timeout.
func (o *Orchestrator) settleAborted(ctx context.Context, r *run) *models.ExecutionResult {
	handle, _ := o.ctrl.Get(r.ec.ExecutionID)
	if handle.Status == controller.StatusCancelled {
		_ = o.fire(ctx, r, statemachine.EventCancel)
		return o.finish(ctx, r, rbperrors.Newf(rbperrors.CodeOrchestrationError,
			"execution cancelled: %s", handle.CancelReason))
	}
	_ = o.fire(ctx, r, statemachine.EventStepFailed)
	return o.finish(ctx, r, rbperrors.New(rbperrors.CodeStepTimeout, "execution exceeded max_execution_time"))
}

// simulate runs the L2 tier and persists its report.
func (o *Orchestrator) simulate(ctx context.Context, r *run, tierRun *executors.Run, hooks executors.Hooks) (*executors.Walk, error) {
	if err := o.emit(ctx, r, audit.EventSimulationStarted, nil); err != nil {
		return nil, err
	}

	l2 := executors.NewL2(o.sched, o.resolver, o.cfg.SimulationEnabled)
	walk, report, err := l2.Simulate(ctx, tierRun, hooks)
	if err != nil {
		if aerr := o.emit(ctx, r, audit.EventSimulationFailed, map[string]interface{}{
			"error": err.Error(),
		}); aerr != nil {
			return nil, aerr
		}
		return nil, err
	}

	r.result.Simulation = report
	if o.collector != nil {
		if err := o.collector.SaveReport(ctx, report); err != nil {
			return nil, rbperrors.Wrap(err, rbperrors.CodeOrchestrationError, "failed to persist simulation report")
		}
	}
	if err := o.emit(ctx, r, audit.EventSimulationCompleted, map[string]interface{}{
		"simulation_id":      report.SimulationID,
		"predicted_outcome":  report.PredictedOutcome.String(),
		"overall_confidence": report.OverallConfidence,
		"overall_risk_score": report.OverallRiskScore,
	}); err != nil {
		return nil, err
	}

	if err := o.queueSimulation(ctx, r, report); err != nil {
		return nil, err
	}
	return walk, nil
}

// queueSimulation persists an approval row carrying the simulation report
// so a production execute-from-queue can later reference it.
func (o *Orchestrator) queueSimulation(ctx context.Context, r *run, report *models.SimulationReport) error {
	if report.PredictedOutcome == enum.OutcomeFailure {
		return nil
	}
	body, err := json.Marshal(report)
	if err != nil {
		return rbperrors.Wrap(err, rbperrors.CodeOrchestrationError, "failed to serialise report for queue")
	}

	req := &models.ApprovalRequest{
		ExecutionID:      r.ec.ExecutionID,
		RunbookID:        r.rb.ID,
		RunbookName:      r.rb.Name,
		StepID:           "-",
		StepName:         "execute from queue",
		Action:           "execute_runbook",
		SimulationResult: string(body),
	}
	if err := o.queue.Create(ctx, req); err != nil {
		return rbperrors.Wrap(err, rbperrors.CodeOrchestrationError, "failed to queue simulation")
	}
	return o.emit(ctx, r, audit.EventApprovalQueueCreated, map[string]interface{}{
		"request_id":    req.RequestID,
		"simulation_id": report.SimulationID,
	})
}

// ExecuteFromQueue is the future L2 production path. It deliberately
// remains unimplemented; the persisted request keeps the cross-reference
// a later implementation needs.
func (o *Orchestrator) ExecuteFromQueue(ctx context.Context, requestID string) error {
	if _, err := o.queue.Get(ctx, requestID); err != nil {
		return err
	}
	return rbperrors.New(rbperrors.CodeL2NotImplemented,
		"production execution from the approval queue is not implemented")
}

// preExecutionGate parks an L2 run on an analyst decision before any step
// dispatches.
func (o *Orchestrator) preExecutionGate(ctx context.Context, r *run) (bool, error) {
	if err := o.fire(ctx, r, statemachine.EventApprovalRequired); err != nil {
		return false, err
	}

	req := &models.ApprovalRequest{
		ExecutionID: r.ec.ExecutionID,
		RunbookID:   r.rb.ID,
		RunbookName: r.rb.Name,
		StepID:      "-",
		StepName:    "run simulation",
		Action:      "run_simulation",
	}
	if err := o.queue.Create(ctx, req); err != nil {
		return false, rbperrors.Wrap(err, rbperrors.CodeOrchestrationError, "failed to create gate request")
	}
	if err := o.emit(ctx, r, audit.EventApprovalRequested, map[string]interface{}{
		"request_id": req.RequestID,
		"scope":      "execution",
	}); err != nil {
		return false, err
	}

	approved, decidedBy, reason := false, "engine", "no approval callback configured"
	if r.opts.Approve != nil {
		approved, decidedBy, reason = o.safeApprove(r.opts.Approve, req)
	}
	if decidedBy == "" {
		decidedBy = "analyst"
	}

	if approved {
		if _, err := o.queue.Approve(ctx, req.RequestID, decidedBy); err != nil {
			approved, reason = false, err.Error()
		}
	}

	if approved {
		if err := o.emit(ctx, r, audit.EventApprovalGranted, map[string]interface{}{
			"request_id":  req.RequestID,
			"approved_by": decidedBy,
		}); err != nil {
			return false, err
		}
		return true, o.fire(ctx, r, statemachine.EventApprovalGranted)
	}

	if _, err := o.queue.Deny(ctx, req.RequestID, decidedBy, reason); err != nil {
		o.log.Warnf("could not record gate denial: %v", err)
	}
	if err := o.emit(ctx, r, audit.EventApprovalDenied, map[string]interface{}{
		"request_id": req.RequestID,
		"denied_by":  decidedBy,
		"reason":     reason,
	}); err != nil {
		return false, err
	}
	return false, o.fire(ctx, r, statemachine.EventApprovalDenied)
}

// validate checks the runbook's executable shape and the L2 gate.
func (o *Orchestrator) validate(rb *models.Runbook) ([]*models.RunbookStep, rbperrors.EngineError) {
	if len(rb.Steps) == 0 {
		return nil, rbperrors.New(rbperrors.CodeValidationFailed, "runbook has no steps")
	}
	if !rb.Config.Level().IsValid() {
		return nil, rbperrors.Newf(rbperrors.CodeValidationFailed,
			"invalid automation level %q", rb.Config.AutomationLevel)
	}
	if rb.Config.Level() == enum.LevelL2 && !o.cfg.SimulationEnabled {
		return nil, rbperrors.New(rbperrors.CodeL2NotImplemented, "simulation tier is disabled")
	}
	ordered, err := scheduler.Order(rb)
	if err != nil {
		return nil, rbperrors.Wrap(err, rbperrors.CodeValidationFailed, "invalid step graph")
	}
	return ordered, nil
}

// hooks binds the tier executor callbacks to this run.
func (o *Orchestrator) hooks(ctx context.Context, r *run) executors.Hooks {
	return executors.Hooks{
		Audit: func(eventType string, details map[string]interface{}) error {
			return o.emit(ctx, r, eventType, details)
		},
		StepDone: func(result *models.StepResult) error {
			if err := o.store.SaveStepResult(ctx, r.ec.ExecutionID, result); err != nil {
				return rbperrors.Wrap(err, rbperrors.CodeOrchestrationError, "failed to persist step result")
			}
			if r.machine.CanFire(statemachine.EventStepCompleted) {
				_ = r.machine.Fire(statemachine.EventStepCompleted)
			}
			o.notifyStep(r, result)
			return nil
		},
		ShouldAbort: func() bool { return o.ctrl.ShouldAbort(r.ec.ExecutionID) },
		Confirm:     r.opts.Confirm,
		Approve:     r.opts.Approve,
	}
}

// subscribeMachine mirrors machine transitions into the context and the
// user callback. Persistence of transitions happens in fire.
func (o *Orchestrator) subscribeMachine(r *run) {
	r.machine.Subscribe(func(executionID string, t statemachine.Transition) {
		r.ec.State = t.To
		if r.opts.OnStateChange != nil {
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						o.log.Warnf("state-change callback panicked: %v", rec)
					}
				}()
				r.opts.OnStateChange(executionID, t.From, t.To)
			}()
		}
	})
}

// fire advances the machine and records the transition durably.
func (o *Orchestrator) fire(ctx context.Context, r *run, event statemachine.Event) error {
	from := r.machine.State()
	if err := r.machine.Fire(event); err != nil {
		return rbperrors.Wrap(err, rbperrors.CodeOrchestrationError, "illegal lifecycle transition")
	}
	to := r.machine.State()
	if err := o.store.UpdateExecutionState(ctx, r.ec.ExecutionID, to, ""); err != nil {
		return rbperrors.Wrap(err, rbperrors.CodeOrchestrationError, "failed to persist state")
	}
	return o.emit(ctx, r, audit.EventStateChanged, map[string]interface{}{
		"from":  from.String(),
		"to":    to.String(),
		"event": string(event),
	})
}

// emit appends an audit entry; failures are fatal to the run.
func (o *Orchestrator) emit(ctx context.Context, r *run, eventType string, details map[string]interface{}) error {
	_, err := o.auditLog.Append(ctx, r.ec.ExecutionID, r.rb.ID, eventType, actorEngine, details)
	if err != nil {
		return rbperrors.Wrap(err, rbperrors.CodeOrchestrationError, "audit append failed")
	}
	return nil
}

func (o *Orchestrator) notifyStep(r *run, result *models.StepResult) {
	if r.opts.OnStepComplete == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			o.log.Warnf("step-complete callback panicked: %v", rec)
		}
	}()
	r.opts.OnStepComplete(r.ec.ExecutionID, result)
}

// finish seals the run: terminal bookkeeping, audit closure, controller
// release, and the fire-and-forget summary note.
func (o *Orchestrator) finish(ctx context.Context, r *run, failErr error) *models.ExecutionResult {
	now := time.Now().UTC()
	r.result.CompletedAt = now
	r.result.DurationMs = now.Sub(r.result.StartedAt).Milliseconds()

	if !r.machine.State().IsTerminal() {
		if r.machine.CanFire(statemachine.EventAllStepsCompleted) && failErr == nil {
			_ = r.machine.Fire(statemachine.EventAllStepsCompleted)
		} else if r.machine.CanFire(statemachine.EventStepFailed) && failErr != nil {
			_ = r.machine.Fire(statemachine.EventStepFailed)
		} else {
			_ = r.machine.Fire(statemachine.EventCancel)
		}
	}
	r.result.State = r.machine.State()
	r.result.Success = r.result.State == enum.StateCompleted && failErr == nil

	if failErr != nil {
		r.ec.Error = failErr.Error()
		r.result.Error = &models.StepError{
			Code:    string(rbperrors.CodeOf(failErr)),
			Message: failErr.Error(),
		}
	}

	closing := audit.EventExecutionCompleted
	if !r.result.Success {
		closing = audit.EventExecutionFailed
	}
	details := map[string]interface{}{
		"state":       r.result.State.String(),
		"success":     r.result.Success,
		"duration_ms": r.result.DurationMs,
	}
	if failErr != nil {
		details["error"] = failErr.Error()
	}
	if err := o.emit(ctx, r, closing, details); err != nil {
		o.log.Errorf("closing audit entry failed for %s: %v", r.ec.ExecutionID, err)
	}

	snapshot, err := r.ec.Snapshot()
	if err != nil {
		o.log.Errorf("context snapshot failed for %s: %v", r.ec.ExecutionID, err)
	}
	if err := o.store.FinishExecution(ctx, r.result, snapshot); err != nil {
		o.log.Errorf("failed to finalise execution row %s: %v", r.ec.ExecutionID, err)
	}

	switch r.result.State {
	case enum.StateCompleted:
		_ = o.ctrl.CompleteExecution(r.ec.ExecutionID)
	case enum.StateCancelled:
		// Controller already reflects the cancellation.
	default:
		_ = o.ctrl.FailExecution(r.ec.ExecutionID)
	}
	o.ctrl.Remove(r.ec.ExecutionID)

	if o.notes != nil {
		result := r.result
		go func() {
			nctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := o.notes.Summarize(nctx, result); err != nil {
				o.log.Debugf("summary note failed for %s: %v", result.ExecutionID, err)
			}
		}()
	}

	o.log.Infof("execution %s finished: state=%s success=%v steps=%d",
		r.ec.ExecutionID, r.result.State, r.result.Success, len(r.result.StepResults))
	return r.result
}

// abort is the unexpected-failure path: it forces a terminal failed state
// and keeps the cause's engine code (ORCHESTRATION_ERROR for foreign errors).
func (o *Orchestrator) abort(ctx context.Context, r *run, err error) *models.ExecutionResult {
	o.log.Errorf("execution %s aborted: %v", r.ec.ExecutionID, err)
	if !r.machine.State().IsTerminal() {
		if r.machine.CanFire(statemachine.EventStepFailed) {
			_ = r.machine.Fire(statemachine.EventStepFailed)
		} else if r.machine.CanFire(statemachine.EventValidationFailed) {
			_ = r.machine.Fire(statemachine.EventValidationFailed)
		} else {
			_ = r.machine.Fire(statemachine.EventCancel)
		}
	}
	return o.finish(ctx, r, err)
}

func (o *Orchestrator) safeApprove(approve interfaces.ApprovalFunc, req *models.ApprovalRequest) (approved bool, decidedBy, reason string) {
	defer func() {
		if rec := recover(); rec != nil {
			o.log.Errorf("approval callback panicked: %v", rec)
			approved, decidedBy, reason = false, "engine", "approval callback panicked"
		}
	}()
	return approve(req)
}

// countMetrics derives the run's counters from the walk.
func (o *Orchestrator) countMetrics(r *run, walk *executors.Walk) {
	for _, sr := range walk.Results {
		if sr.Skipped() {
			r.result.Metrics.StepsSkipped++
			continue
		}
		r.result.Metrics.StepsExecuted++
		if sr.Success {
			r.result.Metrics.StepsSucceeded++
		} else {
			r.result.Metrics.StepsFailed++
		}
		if sr.Error != nil && sr.Error.Code == string(rbperrors.CodeApprovalDenied) {
			r.result.Metrics.ApprovalsRequested++
		}
	}
}

func firstFailure(walk *executors.Walk) error {
	for _, sr := range walk.Results {
		if !sr.Success && sr.Error != nil {
			return rbperrors.Newf(rbperrors.Code(sr.Error.Code),
				"step %s failed: %s", sr.StepID, sr.Error.Message)
		}
	}
	return rbperrors.New(rbperrors.CodeStepExecutionFailed, "a step failed")
}

// hasCompensatable reports whether any successful step declares rollback.
func hasCompensatable(rb *models.Runbook, walk *executors.Walk) bool {
	for _, sr := range walk.Succeeded() {
		if step := rb.StepByID(sr.StepID); step != nil && step.Rollback != nil {
			return true
		}
	}
	return false
}

func rollbackDetails(r *models.RollbackResult) map[string]interface{} {
	return map[string]interface{}{
		"attempted":   r.TotalAttempted,
		"succeeded":   r.TotalSucceeded,
		"failed":      r.TotalFailed,
		"duration_ms": r.DurationMs,
	}
}

// String renders a short identity for logs.
func (o *Orchestrator) String() string {
	return fmt.Sprintf("orchestrator(env=%s)", o.cfg.Environment)
}
