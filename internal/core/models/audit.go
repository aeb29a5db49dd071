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

import "time"

// AuditEntry is one link in an execution's tamper-evident hash chain.
// For a given execution, entries[0].PrevHash is nil and every later entry's
// PrevHash equals its predecessor's Hash.
type AuditEntry struct {
	// ID is the store-assigned row id.
	ID int64 `json:"id"`

	// ExecutionID scopes the chain; chains never span executions.
	ExecutionID string `json:"execution_id"`

	RunbookID string `json:"runbook_id"`

	// EventType is one of the engine's audit event kinds.
	EventType string `json:"event_type"`

	// Actor is who caused the event: "engine", an analyst id, or "system".
	Actor string `json:"actor"`

	// Details is the opaque event payload; it is hashed in canonical
	// (sorted-key) JSON form.
	Details map[string]interface{} `json:"details,omitempty"`

	// PrevHash is the predecessor's hash, nil for the first entry.
	PrevHash *string `json:"prev_hash"`

	// Hash is SHA-256 over (prev_hash|event_type|execution_id|details|timestamp).
	Hash string `json:"hash"`

	CreatedAt time.Time `json:"created_at"`
}
