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

// Package storage implements the relational persistence layer behind the
// engine: executions, step results, the approval queue, the audit log, and
// simulation reports. The store speaks database/sql over sqlite3 (default,
// WAL + foreign keys) or mysql; both drivers share `?` placeholders so
// every prepared statement works unchanged.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sim-security/runbookpilot/internal/common/logger"
	"github.com/sim-security/runbookpilot/internal/common/types/constants"
	"github.com/sim-security/runbookpilot/internal/common/types/enum"
	"github.com/sim-security/runbookpilot/internal/core/models"
)

// Store owns the database handle shared by the engine's persistent
// components. It is threaded explicitly through constructors so tests can
// run several engines side by side.
type Store struct {
	db     *sql.DB
	driver string
	log    logger.Logger
}

// Open connects to the database, applies engine pragmas, and runs any
// pending schema migrations. For file-based sqlite stores the journal is
// switched to WAL and foreign keys are enforced; in-memory stores keep
// their native journal mode.
func Open(driver, dsn string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", driver, err)
	}

	s := &Store{db: db, driver: driver, log: logger.NewLogger("storage")}

	if driver == "sqlite3" {
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
		if !strings.Contains(dsn, ":memory:") && !strings.Contains(dsn, "mode=memory") {
			if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to set WAL journal mode: %w", err)
			}
		}
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing handle without running migrations. Tests use
// it to put a mocked or pre-migrated connection behind the store API.
func NewWithDB(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver, log: logger.NewLogger("storage")}
}

// DB exposes the handle to the store's sibling components (approval queue,
// audit log, simulation collector). Callers must not close it.
func (s *Store) DB() *sql.DB { return s.db }

// Driver returns the active driver name.
func (s *Store) Driver() string { return s.driver }

// Close closes the underlying handle.
func (s *Store) Close() error { return s.db.Close() }

// --- ExecutionStore implementation ---

// CreateExecution inserts the initial row for a run.
func (s *Store) CreateExecution(ctx context.Context, ec *models.ExecutionContext, runbookName string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions
			(execution_id, runbook_id, runbook_version, runbook_name, state, mode, started_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ec.ExecutionID, ec.RunbookID, ec.RunbookVersion, runbookName,
		ec.State.String(), ec.Mode.String(), ec.StartedAt, now, now)
	if err != nil {
		return fmt.Errorf("failed to create execution row: %w", err)
	}
	return nil
}

// UpdateExecutionState records a state transition on the execution row.
func (s *Store) UpdateExecutionState(ctx context.Context, executionID string, state enum.ExecutionState, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE executions SET state = ?, error = NULLIF(?, ''), updated_at = ?
		WHERE execution_id = ?`,
		state.String(), errMsg, time.Now().UTC(), executionID)
	if err != nil {
		return fmt.Errorf("failed to update execution state: %w", err)
	}
	return nil
}

// FinishExecution stamps the terminal row and stores the context snapshot.
func (s *Store) FinishExecution(ctx context.Context, result *models.ExecutionResult, snapshot []byte) error {
	var errMsg string
	if result.Error != nil {
		errMsg = result.Error.Message
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE executions
		SET state = ?, completed_at = ?, duration_ms = ?, context_snapshot = ?, error = NULLIF(?, ''), updated_at = ?
		WHERE execution_id = ?`,
		result.State.String(), result.CompletedAt, result.DurationMs,
		string(snapshot), errMsg, time.Now().UTC(), result.ExecutionID)
	if err != nil {
		return fmt.Errorf("failed to finish execution row: %w", err)
	}
	return nil
}

// GetExecution rebuilds a result view from the executions and step_results
// tables.
func (s *Store) GetExecution(ctx context.Context, executionID string) (*models.ExecutionResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT execution_id, runbook_id, runbook_name, state, mode, started_at, completed_at, duration_ms, error
		FROM executions WHERE execution_id = ?`, executionID)

	var result models.ExecutionResult
	var stateStr, modeStr string
	var completedAt sql.NullTime
	var durationMs sql.NullInt64
	var errMsg sql.NullString

	err := row.Scan(&result.ExecutionID, &result.RunbookID, &result.RunbookName,
		&stateStr, &modeStr, &result.StartedAt, &completedAt, &durationMs, &errMsg)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution %s not found", executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}

	result.State, _ = enum.ParseExecutionState(stateStr)
	result.Mode, _ = enum.ParseExecutionMode(modeStr)
	result.Success = result.State == enum.StateCompleted
	if completedAt.Valid {
		result.CompletedAt = completedAt.Time
	}
	if durationMs.Valid {
		result.DurationMs = durationMs.Int64
	}
	if errMsg.Valid && errMsg.String != "" {
		result.Error = &models.StepError{Code: "ORCHESTRATION_ERROR", Message: errMsg.String}
	}

	result.StepResults, err = s.ListStepResults(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// SaveStepResult appends one step outcome.
func (s *Store) SaveStepResult(ctx context.Context, executionID string, r *models.StepResult) error {
	outputJSON, err := marshalNullable(r.Output)
	if err != nil {
		return fmt.Errorf("failed to serialise step output: %w", err)
	}
	errorJSON, err := marshalNullable(r.Error)
	if err != nil {
		return fmt.Errorf("failed to serialise step error: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO step_results
			(execution_id, step_id, step_name, action, success, started_at, completed_at, duration_ms, output, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		executionID, r.StepID, r.StepName, r.Action, boolToInt(r.Success),
		r.StartedAt, r.CompletedAt, r.DurationMs, outputJSON, errorJSON)
	if err != nil {
		return fmt.Errorf("failed to save step result: %w", err)
	}
	return nil
}

// ListStepResults returns a run's step outcomes in insertion order.
func (s *Store) ListStepResults(ctx context.Context, executionID string) ([]*models.StepResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_id, step_name, action, success, started_at, completed_at, duration_ms, output, error
		FROM step_results WHERE execution_id = ? ORDER BY id ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step results: %w", err)
	}
	defer rows.Close()

	var results []*models.StepResult
	for rows.Next() {
		var r models.StepResult
		var success int
		var outputJSON, errorJSON sql.NullString
		if err := rows.Scan(&r.StepID, &r.StepName, &r.Action, &success,
			&r.StartedAt, &r.CompletedAt, &r.DurationMs, &outputJSON, &errorJSON); err != nil {
			return nil, fmt.Errorf("failed to scan step result: %w", err)
		}
		r.Success = success != 0
		if outputJSON.Valid && outputJSON.String != "" {
			_ = json.Unmarshal([]byte(outputJSON.String), &r.Output)
		}
		if errorJSON.Valid && errorJSON.String != "" {
			_ = json.Unmarshal([]byte(errorJSON.String), &r.Error)
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

func marshalNullable(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	switch t := v.(type) {
	case map[string]interface{}:
		if t == nil {
			return sql.NullString{}, nil
		}
	case *models.StepError:
		if t == nil {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// migrate brings the schema up to constants.SchemaVersion.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var current int
	row := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for v := current + 1; v <= constants.SchemaVersion; v++ {
		ddl, ok := migrations[v]
		if !ok {
			return fmt.Errorf("no migration registered for schema version %d", v)
		}
		for _, stmt := range ddl {
			if _, err := s.db.Exec(forDialect(s.driver, stmt)); err != nil {
				return fmt.Errorf("migration %d failed: %w", v, err)
			}
		}
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, v); err != nil {
			return fmt.Errorf("failed to record schema version %d: %w", v, err)
		}
		s.log.Infof("applied schema migration %d", v)
	}
	return nil
}
