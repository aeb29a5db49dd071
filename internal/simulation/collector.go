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

// Package simulation persists L2 reports and aggregates their metrics.
// The collector is strictly DB-backed: each report is written exactly once
// and every aggregate is computed by SQL over the stored rows, so nothing
// can be double-counted by a replayed flush.
package simulation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sim-security/runbookpilot/internal/common/logger"
	"github.com/sim-security/runbookpilot/internal/common/types/enum"
	"github.com/sim-security/runbookpilot/internal/core/models"
	"github.com/sim-security/runbookpilot/internal/storage"
)

// Collector stores simulation reports and answers metric queries.
type Collector struct {
	store *storage.Store
	log   logger.Logger
}

// NewCollector creates a collector over the shared store.
func NewCollector(store *storage.Store) *Collector {
	return &Collector{store: store, log: logger.NewLogger("simulation-metrics")}
}

// SaveReport persists one report. The full report body is stored as JSON
// alongside the indexed aggregate columns.
func (c *Collector) SaveReport(ctx context.Context, report *models.SimulationReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to serialise simulation report: %w", err)
	}

	writeSteps := 0
	for _, s := range report.Steps {
		if s.IsWriteAction {
			writeSteps++
		}
	}

	_, err = c.store.DB().ExecContext(ctx, `
		INSERT INTO simulation_reports
			(simulation_id, execution_id, runbook_id, runbook_name, predicted_outcome,
			 confidence, risk_score, risk_level, steps_total, steps_write, report, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.SimulationID, report.ExecutionID, report.RunbookID, report.RunbookName,
		report.PredictedOutcome.String(), report.OverallConfidence,
		report.OverallRiskScore, report.OverallRiskLevel.String(),
		len(report.Steps), writeSteps, string(body), report.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save simulation report: %w", err)
	}
	return nil
}

// GetReport loads one stored report by simulation id.
func (c *Collector) GetReport(ctx context.Context, simulationID string) (*models.SimulationReport, error) {
	row := c.store.DB().QueryRowContext(ctx,
		`SELECT report FROM simulation_reports WHERE simulation_id = ?`, simulationID)

	var body string
	if err := row.Scan(&body); err == sql.ErrNoRows {
		return nil, fmt.Errorf("simulation report %s not found", simulationID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to load simulation report: %w", err)
	}

	var report models.SimulationReport
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return nil, fmt.Errorf("failed to decode simulation report: %w", err)
	}
	return &report, nil
}

// Metrics aggregates reports created since the given time.
func (c *Collector) Metrics(ctx context.Context, since time.Time) (*models.SimulationMetrics, error) {
	row := c.store.DB().QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN predicted_outcome = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN predicted_outcome = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN predicted_outcome = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(confidence), 0),
		       COALESCE(AVG(risk_score), 0),
		       COALESCE(SUM(CASE WHEN risk_score >= 7 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(steps_total), 0),
		       COALESCE(SUM(steps_write), 0)
		FROM simulation_reports WHERE created_at >= ?`,
		enum.OutcomeSuccess.String(), enum.OutcomePartial.String(), enum.OutcomeFailure.String(),
		since)

	var m models.SimulationMetrics
	if err := row.Scan(&m.TotalSimulations, &m.PredictedSuccess, &m.PredictedPartial,
		&m.PredictedFailure, &m.AvgConfidence, &m.AvgRiskScore,
		&m.HighRiskRunbooks, &m.TotalStepsScored, &m.WriteStepsScored); err != nil {
		return nil, fmt.Errorf("failed to aggregate simulation metrics: %w", err)
	}
	return &m, nil
}
