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

package simulation

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sim-security/runbookpilot/internal/common/types/enum"
	"github.com/sim-security/runbookpilot/internal/core/models"
	"github.com/sim-security/runbookpilot/internal/storage"
)

func sampleReport(simID string) *models.SimulationReport {
	return &models.SimulationReport{
		SimulationID: simID, ExecutionID: "exec-1", RunbookID: "rb-1",
		RunbookName: "containment", Timestamp: time.Now().UTC(),
		Steps: []*models.SimulatedStep{
			{StepID: "s1", Action: "query_siem", Success: true, ValidationsPassed: true, Confidence: 1},
			{StepID: "s2", Action: "isolate_host", Success: true, ValidationsPassed: true,
				IsWriteAction: true, Confidence: 0.9},
		},
		PredictedOutcome:  enum.OutcomeSuccess,
		OverallConfidence: 0.95,
		OverallRiskScore:  8,
		OverallRiskLevel:  enum.RiskHigh,
	}
}

func TestSaveAndGetReport(t *testing.T) {
	store, err := storage.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ec := &models.ExecutionContext{
		ExecutionID: "exec-1", RunbookID: "rb-1", RunbookVersion: "1.0.0",
		Mode: enum.ModeSimulation, StartedAt: time.Now().UTC(), State: enum.StateIdle,
	}
	require.NoError(t, store.CreateExecution(context.Background(), ec, "containment"))

	c := NewCollector(store)
	report := sampleReport("sim-1")
	require.NoError(t, c.SaveReport(context.Background(), report))

	loaded, err := c.GetReport(context.Background(), "sim-1")
	require.NoError(t, err)
	assert.Equal(t, enum.OutcomeSuccess, loaded.PredictedOutcome)
	assert.Equal(t, 8, loaded.OverallRiskScore)
	require.Len(t, loaded.Steps, 2)

	_, err = c.GetReport(context.Background(), "ghost")
	assert.ErrorContains(t, err, "not found")
}

func TestMetricsAggregatesViaSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := NewCollector(storage.NewWithDB(db, "sqlite3"))

	rows := sqlmock.NewRows([]string{
		"count", "success", "partial", "failure",
		"avg_conf", "avg_risk", "high_risk", "steps", "writes",
	}).AddRow(5, 3, 1, 1, 0.88, 5.4, 2, 23, 9)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\)").
		WithArgs("SUCCESS", "PARTIAL", "FAILURE", sqlmock.AnyArg()).
		WillReturnRows(rows)

	m, err := c.Metrics(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 5, m.TotalSimulations)
	assert.Equal(t, 3, m.PredictedSuccess)
	assert.Equal(t, 1, m.PredictedPartial)
	assert.Equal(t, 1, m.PredictedFailure)
	assert.InDelta(t, 0.88, m.AvgConfidence, 0.001)
	assert.InDelta(t, 5.4, m.AvgRiskScore, 0.001)
	assert.Equal(t, 2, m.HighRiskRunbooks)
	assert.Equal(t, 23, m.TotalStepsScored)
	assert.Equal(t, 9, m.WriteStepsScored)

	assert.NoError(t, mock.ExpectationsWereMet())
}

// Double-count guard: aggregates come from stored rows only, so saving a
// report twice is a primary-key violation rather than a silent recount.
func TestDuplicateReportRejected(t *testing.T) {
	store, err := storage.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ec := &models.ExecutionContext{
		ExecutionID: "exec-1", RunbookID: "rb-1", RunbookVersion: "1.0.0",
		Mode: enum.ModeSimulation, StartedAt: time.Now().UTC(), State: enum.StateIdle,
	}
	require.NoError(t, store.CreateExecution(context.Background(), ec, "containment"))

	c := NewCollector(store)
	require.NoError(t, c.SaveReport(context.Background(), sampleReport("sim-1")))
	assert.Error(t, c.SaveReport(context.Background(), sampleReport("sim-1")))
}
