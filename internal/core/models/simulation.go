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

package models

import (
	"time"

	"github.com/sim-security/runbookpilot/internal/common/types/enum"
)

// BlastRadius counts the assets a write action reaches, derived from the
// step's resolved parameters.
type BlastRadius struct {
	Hosts     int `json:"hosts"`
	Users     int `json:"users"`
	IPs       int `json:"ips"`
	Domains   int `json:"domains"`
	Files     int `json:"files"`
	Processes int `json:"processes"`

	// Assets lists the concrete identifiers found, deduplicated.
	Assets []string `json:"assets,omitempty"`
}

// Total sums all counters.
func (b BlastRadius) Total() int {
	return b.Hosts + b.Users + b.IPs + b.Domains + b.Files + b.Processes
}

// Impact is the deterministic per-step risk assessment.
type Impact struct {
	Action string `json:"action"`

	// Score is the static 1-10 impact score for the action.
	Score int `json:"risk_score"`

	// Level buckets the score: 1-3 low, 4-6 medium, 7-8 high, 9-10 critical.
	Level enum.RiskLevel `json:"risk_level"`

	// Reversible means the action has a known compensating pair.
	Reversible bool `json:"reversible"`

	// RollbackAvailable is Reversible OR the step declares its own rollback.
	RollbackAvailable bool `json:"rollback_available"`

	BlastRadius BlastRadius `json:"blast_radius"`

	// Dependencies lists services/systems named in the parameters.
	Dependencies []string `json:"dependencies,omitempty"`

	// Summary is the fixed per-action sentence plus risk label and counts.
	Summary string `json:"summary"`
}

// SimulatedStep is a step's simulation record: the step shape plus the
// predicted result, scoring, and impact.
type SimulatedStep struct {
	StepID   string `json:"step_id"`
	StepName string `json:"step_name"`
	Action   string `json:"action"`
	Executor string `json:"executor"`

	// Parameters are the resolved parameters the simulation dispatched.
	Parameters map[string]interface{} `json:"parameters,omitempty"`

	// PredictedResult is the adapter's simulation-mode output (real query
	// results for reads, predictions for writes).
	PredictedResult map[string]interface{} `json:"predicted_result,omitempty"`

	// Success mirrors the adapter's simulation verdict for the step.
	Success bool `json:"success"`

	// Skipped marks steps whose guard or dependencies kept them out of the run.
	Skipped bool `json:"skipped,omitempty"`

	// Confidence is this step's score in [0,1].
	Confidence float64 `json:"confidence"`

	// SideEffects describes the external changes the action would make.
	SideEffects []string `json:"side_effects,omitempty"`

	RollbackAction     string                 `json:"rollback_action,omitempty"`
	RollbackParameters map[string]interface{} `json:"rollback_parameters,omitempty"`

	ValidationsPassed bool     `json:"validations_passed"`
	ValidationErrors  []string `json:"validation_errors,omitempty"`

	IsWriteAction bool  `json:"is_write_action"`
	DurationMs    int64 `json:"duration_ms"`

	// Impact is present for write actions only.
	Impact *Impact `json:"impact,omitempty"`
}

// RollbackPlanEntry is one compensating action in a simulation's rollback plan.
type RollbackPlanEntry struct {
	StepID     string                 `json:"step_id"`
	Action     string                 `json:"action"`
	Executor   string                 `json:"executor"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Timeout    int                    `json:"timeout"`
}

// RollbackPlan is the reverse-order compensation plan a simulation emits.
type RollbackPlan struct {
	Entries []*RollbackPlanEntry `json:"entries"`

	// EstimatedDurationMs is the sum of entry timeouts, in milliseconds.
	EstimatedDurationMs int64 `json:"estimated_duration_ms"`
}

// SimulationReport is the aggregate L2 output: what would happen, how risky
// it is, and how to undo it.
type SimulationReport struct {
	SimulationID string    `json:"simulation_id"`
	ExecutionID  string    `json:"execution_id"`
	RunbookID    string    `json:"runbook_id"`
	RunbookName  string    `json:"runbook_name"`
	Timestamp    time.Time `json:"timestamp"`

	Steps []*SimulatedStep `json:"steps"`

	PredictedOutcome enum.PredictedOutcome `json:"predicted_outcome"`

	// OverallConfidence is the mean of per-step confidences, clamped to
	// [0,1] and rounded to two decimals.
	OverallConfidence float64 `json:"overall_confidence"`

	// OverallRiskScore is the max impact score across write steps (1 if none).
	OverallRiskScore int            `json:"overall_risk_score"`
	OverallRiskLevel enum.RiskLevel `json:"overall_risk_level"`

	EstimatedDurationMs int64 `json:"estimated_duration_ms"`

	// RisksIdentified summarises high/critical impacts.
	RisksIdentified []string `json:"risks_identified,omitempty"`

	// AffectedAssets is the set-union of blast-radius asset lists.
	AffectedAssets []string `json:"affected_assets,omitempty"`

	RollbackPlan *RollbackPlan `json:"rollback_plan,omitempty"`

	// DetectforgeConfidence/RuleID echo the upstream detection metadata.
	DetectforgeConfidence string `json:"detectforge_confidence,omitempty"`
	DetectforgeRuleID     string `json:"detectforge_rule_id,omitempty"`
}
