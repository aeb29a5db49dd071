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

// Package engine assembles a complete RunbookPilot instance from
// configuration: storage, audit chain, approval queue and sweeper,
// adapter registry, enrichment pipeline, runbook registry, and the
// orchestrator. Everything is an explicit handle, so tests can run
// several engines side by side.
package engine

import (
	"context"

	"github.com/sim-security/runbookpilot/internal/adapters"
	"github.com/sim-security/runbookpilot/internal/approval"
	"github.com/sim-security/runbookpilot/internal/audit"
	"github.com/sim-security/runbookpilot/internal/common/config"
	"github.com/sim-security/runbookpilot/internal/common/logger"
	"github.com/sim-security/runbookpilot/internal/common/types/enum"
	rbperrors "github.com/sim-security/runbookpilot/internal/common/types/errors"
	"github.com/sim-security/runbookpilot/internal/core/controller"
	"github.com/sim-security/runbookpilot/internal/core/interfaces"
	"github.com/sim-security/runbookpilot/internal/core/models"
	"github.com/sim-security/runbookpilot/internal/core/orchestrator"
	"github.com/sim-security/runbookpilot/internal/enrich"
	"github.com/sim-security/runbookpilot/internal/enrich/sources"
	"github.com/sim-security/runbookpilot/internal/llm"
	"github.com/sim-security/runbookpilot/internal/runbook"
	"github.com/sim-security/runbookpilot/internal/simulation"
	"github.com/sim-security/runbookpilot/internal/storage"
)

// Engine is one fully wired RunbookPilot instance.
type Engine struct {
	Config       *config.Config
	Store        *storage.Store
	Audit        *audit.Log
	Approvals    *approval.Queue
	Sweeper      *approval.Sweeper
	Adapters     *adapters.Registry
	Enrichment   *enrich.Pipeline
	Runbooks     *runbook.Registry
	Controller   *controller.Controller
	Simulations  *simulation.Collector
	Orchestrator *orchestrator.Orchestrator

	log logger.Logger
}

// New assembles an engine from config.
func New(cfg *config.Config) (*Engine, error) {
	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, err
	}

	auditLog := audit.NewLog(store)
	queue := approval.NewQueue(store, cfg.Approval.TTL)
	registry := adapters.NewRegistry()
	ctrl := controller.New()
	collector := simulation.NewCollector(store)

	pipeline := enrich.NewPipeline(cfg.Enrichment.DefaultTimeout)
	redisTI := sources.NewRedisTI(cfg.Enrichment.Redis)
	if err := pipeline.Register(redisTI); err != nil {
		store.Close()
		return nil, err
	}

	var notes interfaces.Summarizer
	if cfg.LLM.Enabled {
		notes = llm.NewOpenAISummarizer(cfg.LLM)
	}

	e := &Engine{
		Config:      cfg,
		Store:       store,
		Audit:       auditLog,
		Approvals:   queue,
		Sweeper:     approval.NewSweeper(queue, cfg.Approval.SweepInterval),
		Adapters:    registry,
		Enrichment:  pipeline,
		Runbooks:    runbook.NewRegistry(),
		Controller:  ctrl,
		Simulations: collector,
		Orchestrator: orchestrator.New(
			cfg.Engine, store, auditLog, queue, registry, ctrl,
			pipeline, collector, notes),
		log: logger.NewLogger("engine"),
	}
	return e, nil
}

// Execute runs one runbook against one alert. Runs beyond the configured
// concurrency cap are rejected up front rather than queued; the caller
// decides whether to retry.
func (e *Engine) Execute(ctx context.Context, rb *models.Runbook, alert models.Alert, opts orchestrator.Options) *models.ExecutionResult {
	if max := e.Config.Engine.MaxConcurrentExecutions; max > 0 && e.Controller.Running() >= max {
		e.log.Warnf("rejecting execution of %s: %d executions already running", rb.ID, max)
		return &models.ExecutionResult{
			RunbookID:   rb.ID,
			RunbookName: rb.Name,
			State:       enum.StateFailed,
			Error: &models.StepError{
				Code:    string(rbperrors.CodeOrchestrationError),
				Message: "max concurrent executions reached",
			},
		}
	}
	return e.Orchestrator.Execute(ctx, rb, alert, opts)
}

// Route finds the runbook a given alert activates.
func (e *Engine) Route(alert models.Alert) (*models.Runbook, bool) {
	rb, _, ok := e.Runbooks.Route(alert)
	return rb, ok
}

// Close shuts down background work and releases the store. Running
// executions are cancelled with reason system_shutdown.
func (e *Engine) Close() error {
	e.Sweeper.Stop()
	e.Controller.ShutdownAll()
	return e.Store.Close()
}
