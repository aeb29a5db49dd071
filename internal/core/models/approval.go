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

// ApprovalRequest is one pending analyst decision, persisted in the
// approval queue. Lifecycle: pending → approved | denied | expired, and
// terminal statuses are final.
type ApprovalRequest struct {
	// RequestID is the UUID of this request.
	RequestID string `json:"request_id"`

	// ExecutionID links back to the run that raised the request.
	ExecutionID string `json:"execution_id"`

	RunbookID   string `json:"runbook_id"`
	RunbookName string `json:"runbook_name"`

	// StepID/StepName/Action identify the gated step.
	StepID   string `json:"step_id"`
	StepName string `json:"step_name"`
	Action   string `json:"action"`

	// Parameters is the serialised resolved parameter set the analyst reviews.
	Parameters string `json:"parameters,omitempty"`

	// SimulationResult is the serialised simulation report attached to an
	// L2 pre-execution approval, empty otherwise.
	SimulationResult string `json:"simulation_result,omitempty"`

	Status enum.ApprovalStatus `json:"status"`

	RequestedAt time.Time `json:"requested_at"`
	ExpiresAt   time.Time `json:"expires_at"`

	ApprovedBy   string     `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	DenialReason string     `json:"denial_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the request's TTL has lapsed at the given instant.
func (r *ApprovalRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
