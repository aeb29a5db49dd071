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

// Package constants defines global constants used throughout the RunbookPilot application.
// This ensures consistency and avoids magic numbers or strings in the code.
package constants

import "time"

// --- Project Information ---

// AppName is the official name of the application.
const AppName = "RunbookPilot"

// CliAppName is the name of the command-line executable.
const CliAppName = "rbp"

// --- Engine Defaults ---

// DefaultStepTimeout is applied when a runbook step declares no timeout.
const DefaultStepTimeout = 60 * time.Second

// DefaultMaxExecutionTime bounds a whole runbook run when the runbook
// config leaves max_execution_time unset.
const DefaultMaxExecutionTime = 30 * time.Minute

// DefaultApprovalTTL is how long a pending approval request stays actionable.
const DefaultApprovalTTL = 15 * time.Minute

// DefaultApprovalSweepInterval is how often stale approvals are expired.
const DefaultApprovalSweepInterval = time.Minute

// DefaultEnrichmentTimeout is the per-source ceiling when a source declares none.
const DefaultEnrichmentTimeout = 5 * time.Second

// --- Persistence ---

// DefaultStorageDriver is the embedded database used when none is configured.
const DefaultStorageDriver = "sqlite3"

// DefaultStorageDSN places the engine database under the working directory.
const DefaultStorageDSN = "runbookpilot.db"

// SchemaVersion is the current persistence schema version; migrations run
// any pending versions up to this value at open time.
const SchemaVersion = 1

// --- File System Paths ---

// DefaultConfigPath is the default directory path for configuration files.
const DefaultConfigPath = "/etc/runbookpilot/"

// DefaultRunbookDir is the default directory scanned for runbook YAML files.
const DefaultRunbookDir = "/var/lib/runbookpilot/runbooks/"

// DefaultLogDir is the default directory for log files.
const DefaultLogDir = "/var/log/runbookpilot/"
