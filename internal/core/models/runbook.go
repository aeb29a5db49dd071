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

// Package models defines the core data structures shared across RunbookPilot:
// runbooks, alerts, execution state, step results, approvals, audit entries,
// and simulation reports.
package models

import (
	"time"

	"github.com/sim-security/runbookpilot/internal/common/types/enum"
)

// Runbook is a declarative response playbook: a DAG of steps bound to
// adapter actions, plus the trigger filters that route alerts to it.
// A Runbook is immutable once loaded; the engine never mutates it.
type Runbook struct {
	// ID uniquely identifies the runbook across versions.
	ID string `json:"id" yaml:"id" validate:"required"`

	// Name is the human-readable title shown in approvals and reports.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Version is a semantic version string; the loader rejects non-semver values.
	Version string `json:"version" yaml:"version" validate:"required"`

	// Metadata holds free-form descriptive fields (author, references, tags).
	Metadata map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// Triggers decide which alerts activate this runbook.
	Triggers []*Trigger `json:"triggers,omitempty" yaml:"triggers,omitempty"`

	// Config carries the execution-wide settings for this runbook.
	Config RunbookSettings `json:"config" yaml:"config"`

	// Steps is the dependency-ordered body of the runbook.
	Steps []*RunbookStep `json:"steps" yaml:"steps" validate:"required,min=1,dive"`
}

// RunbookSettings is the per-runbook execution configuration.
type RunbookSettings struct {
	// AutomationLevel selects the tier executor: L0, L1, or L2.
	AutomationLevel string `json:"automation_level" yaml:"automation_level" validate:"required,oneof=L0 L1 L2"`

	// MaxExecutionTime bounds the whole run, in seconds. Zero means the
	// engine default applies.
	MaxExecutionTime int `json:"max_execution_time,omitempty" yaml:"max_execution_time,omitempty" validate:"gte=0"`

	// RequiresApproval gates an L2 simulation behind an analyst decision
	// before any step is dispatched.
	RequiresApproval bool `json:"requires_approval,omitempty" yaml:"requires_approval,omitempty"`

	// RollbackOnFailure controls whether a failed run triggers the rollback
	// engine. Nil means true.
	RollbackOnFailure *bool `json:"rollback_on_failure,omitempty" yaml:"rollback_on_failure,omitempty"`
}

// Level returns the parsed automation level. The loader guarantees validity,
// so unknown strings only occur on hand-built runbooks and map to L0, the
// most conservative tier.
func (s RunbookSettings) Level() enum.AutomationLevel {
	l, _ := enum.ParseAutomationLevel(s.AutomationLevel)
	return l
}

// ShouldRollback reports whether a failed execution triggers compensation.
func (s RunbookSettings) ShouldRollback() bool {
	return s.RollbackOnFailure == nil || *s.RollbackOnFailure
}

// MaxDuration converts MaxExecutionTime to a duration, zero when unset.
func (s RunbookSettings) MaxDuration() time.Duration {
	return time.Duration(s.MaxExecutionTime) * time.Second
}

// RunbookStep is one action bound to one adapter within a runbook.
type RunbookStep struct {
	// ID is unique within the runbook and referenced by depends_on.
	ID string `json:"id" yaml:"id" validate:"required"`

	// Name is the human-readable step title.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Action is the adapter action name (e.g. "block_ip", "query_siem").
	Action string `json:"action" yaml:"action" validate:"required"`

	// Executor names the adapter that performs the action.
	Executor string `json:"executor" yaml:"executor" validate:"required"`

	// Parameters are the raw, possibly templated action parameters.
	Parameters map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// DependsOn lists step ids that must complete before this step runs.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// Condition is an optional guard expression; a false guard skips the step.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// OnError is the failure policy: halt, continue, or skip.
	OnError string `json:"on_error,omitempty" yaml:"on_error,omitempty" validate:"omitempty,oneof=halt continue skip"`

	// Timeout bounds the adapter call, in seconds. Zero means the engine default.
	Timeout int `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"gte=0"`

	// ApprovalRequired overrides the L1 default gating for this step.
	// Nil means "decide by action kind".
	ApprovalRequired *bool `json:"approval_required,omitempty" yaml:"approval_required,omitempty"`

	// Rollback declares the compensating action run in reverse order on failure.
	Rollback *RollbackSpec `json:"rollback,omitempty" yaml:"rollback,omitempty"`
}

// ErrorPolicy returns the parsed on_error policy; unset defaults to halt.
func (s *RunbookStep) ErrorPolicy() enum.OnErrorPolicy {
	p, _ := enum.ParseOnErrorPolicy(s.OnError)
	return p
}

// TimeoutDuration converts the step timeout to a duration, falling back to
// the given default when the step declares none.
func (s *RunbookStep) TimeoutDuration(fallback time.Duration) time.Duration {
	if s.Timeout <= 0 {
		return fallback
	}
	return time.Duration(s.Timeout) * time.Second
}

// RollbackSpec declares the compensating action for a step.
type RollbackSpec struct {
	// Action is the compensating adapter action name.
	Action string `json:"action" yaml:"action" validate:"required"`

	// Executor overrides the step's adapter for the compensation; empty
	// means the step's own executor.
	Executor string `json:"executor,omitempty" yaml:"executor,omitempty"`

	// Parameters are the (possibly templated) compensation parameters.
	Parameters map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// Timeout bounds the compensating call, in seconds.
	Timeout int `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"gte=0"`
}

// Trigger is a runbook activation filter evaluated against incoming alerts.
type Trigger struct {
	// DetectionSources constrains which detection pipelines may activate
	// the runbook (e.g. "sigma", "yara").
	DetectionSources []string `json:"detection_sources,omitempty" yaml:"detection_sources,omitempty"`

	// MitreTechniques constrains the alert's MITRE ATT&CK techniques.
	// A parent technique matches its sub-techniques ("T1059" matches "T1059.001").
	MitreTechniques []string `json:"mitre_techniques,omitempty" yaml:"mitre_techniques,omitempty"`

	// Platforms constrains the alert's host platform (e.g. "windows", "linux").
	Platforms []string `json:"platforms,omitempty" yaml:"platforms,omitempty"`

	// Severity constrains the alert's severity label (low/medium/high/critical).
	Severity []string `json:"severity,omitempty" yaml:"severity,omitempty"`

	// Expression is an optional condition tree evaluated against alert
	// fields; the trigger evaluator decodes and applies it.
	Expression map[string]interface{} `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// IsEmpty reports whether the trigger carries no constraint at all.
func (t *Trigger) IsEmpty() bool {
	return len(t.DetectionSources) == 0 && len(t.MitreTechniques) == 0 &&
		len(t.Platforms) == 0 && len(t.Severity) == 0 && len(t.Expression) == 0
}

// StepByID returns the step with the given id, or nil.
func (r *Runbook) StepByID(id string) *RunbookStep {
	for _, s := range r.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}
