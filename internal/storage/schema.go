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

package storage

import "strings"

// migrations holds the DDL per schema version, written in sqlite3 syntax;
// forDialect rewrites the handful of constructs mysql spells differently.
// The CHECK constraints pin the state and mode vocabularies at the storage
// layer too.
var migrations = map[int][]string{
	1: {
		`CREATE TABLE IF NOT EXISTS executions (
			execution_id     TEXT PRIMARY KEY,
			runbook_id       TEXT NOT NULL,
			runbook_version  TEXT NOT NULL,
			runbook_name     TEXT NOT NULL,
			state            TEXT NOT NULL CHECK (state IN
				('idle','validating','planning','awaiting_approval','executing',
				 'rolling_back','completed','failed','cancelled')),
			mode             TEXT NOT NULL CHECK (mode IN ('production','simulation','dry-run')),
			started_at       TIMESTAMP NOT NULL,
			completed_at     TIMESTAMP,
			duration_ms      INTEGER,
			context_snapshot TEXT,
			error            TEXT,
			created_at       TIMESTAMP NOT NULL,
			updated_at       TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS step_results (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id TEXT NOT NULL REFERENCES executions(execution_id),
			step_id      TEXT NOT NULL,
			step_name    TEXT NOT NULL,
			action       TEXT NOT NULL,
			success      INTEGER NOT NULL CHECK (success IN (0, 1)),
			started_at   TIMESTAMP NOT NULL,
			completed_at TIMESTAMP NOT NULL,
			duration_ms  INTEGER NOT NULL,
			output       TEXT,
			error        TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_step_results_execution ON step_results(execution_id)`,
		`CREATE TABLE IF NOT EXISTS approval_queue (
			request_id        TEXT PRIMARY KEY,
			execution_id      TEXT NOT NULL REFERENCES executions(execution_id),
			runbook_id        TEXT NOT NULL,
			runbook_name      TEXT NOT NULL,
			step_id           TEXT NOT NULL,
			step_name         TEXT NOT NULL,
			action            TEXT NOT NULL,
			parameters        TEXT,
			simulation_result TEXT,
			status            TEXT NOT NULL CHECK (status IN ('pending','approved','denied','expired')),
			requested_at      TIMESTAMP NOT NULL,
			expires_at        TIMESTAMP NOT NULL,
			approved_by       TEXT,
			approved_at       TIMESTAMP,
			denial_reason     TEXT,
			created_at        TIMESTAMP NOT NULL,
			updated_at        TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approval_queue_status ON approval_queue(status, expires_at)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id TEXT NOT NULL REFERENCES executions(execution_id),
			runbook_id   TEXT NOT NULL,
			event_type   TEXT NOT NULL,
			actor        TEXT NOT NULL,
			details      TEXT,
			prev_hash    TEXT,
			hash         TEXT NOT NULL,
			created_at   TIMESTAMP NOT NULL,
			success      INTEGER NOT NULL DEFAULT 1 CHECK (success IN (0, 1))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_execution ON audit_log(execution_id, id)`,
		`CREATE TABLE IF NOT EXISTS simulation_reports (
			simulation_id     TEXT PRIMARY KEY,
			execution_id      TEXT NOT NULL REFERENCES executions(execution_id),
			runbook_id        TEXT NOT NULL,
			runbook_name      TEXT NOT NULL,
			predicted_outcome TEXT NOT NULL CHECK (predicted_outcome IN ('SUCCESS','PARTIAL','FAILURE')),
			confidence        REAL NOT NULL,
			risk_score        INTEGER NOT NULL,
			risk_level        TEXT NOT NULL,
			steps_total       INTEGER NOT NULL,
			steps_write       INTEGER NOT NULL,
			report            TEXT NOT NULL,
			created_at        TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_simulation_reports_created ON simulation_reports(created_at)`,
	},
}

// forDialect adapts a sqlite3 DDL statement to the target driver. The
// differences are mechanical: key columns become sized VARCHARs (mysql
// cannot index bare TEXT) and AUTOINCREMENT gets its mysql spelling.
func forDialect(driver, stmt string) string {
	if driver != "mysql" {
		return stmt
	}
	replacer := strings.NewReplacer(
		"INTEGER PRIMARY KEY AUTOINCREMENT", "BIGINT PRIMARY KEY AUTO_INCREMENT",
		"TEXT PRIMARY KEY", "VARCHAR(64) PRIMARY KEY",
		"TEXT NOT NULL REFERENCES", "VARCHAR(64) NOT NULL REFERENCES",
	)
	return replacer.Replace(stmt)
}
