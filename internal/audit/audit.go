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

// Package audit implements the append-only, hash-chained audit trail.
// Each execution owns one chain: the first entry's prev_hash is null and
// every later entry links to its predecessor's hash, so any edit to a
// stored row breaks recomputation from that point on.
//
// Details are hashed in canonical (sorted-key) JSON so replaying a chain
// yields the same hashes on any host, regardless of writer insertion order.
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sim-security/runbookpilot/internal/common/logger"
	"github.com/sim-security/runbookpilot/internal/core/models"
	"github.com/sim-security/runbookpilot/internal/storage"
)

// Audit event kinds emitted by the engine.
const (
	EventExecutionStarted     = "execution_started"
	EventExecutionCompleted   = "execution_completed"
	EventExecutionFailed      = "execution_failed"
	EventStateChanged         = "state_changed"
	EventStepStarted          = "step_started"
	EventStepCompleted        = "step_completed"
	EventStepFailed           = "step_failed"
	EventApprovalRequested    = "approval_requested"
	EventApprovalGranted      = "approval_granted"
	EventApprovalDenied       = "approval_denied"
	EventRollbackStarted      = "rollback_started"
	EventRollbackCompleted    = "rollback_completed"
	EventRollbackFailed       = "rollback_failed"
	EventSimulationStarted    = "simulation_started"
	EventStepSimulated        = "step_simulated"
	EventSimulationCompleted  = "simulation_completed"
	EventSimulationFailed     = "simulation_failed"
	EventApprovalQueueCreated = "approval_queue_created"
	EventApprovalQueueExecuted = "approval_queue_executed"
)

// timestampFormat is the canonical form hashed into every entry.
const timestampFormat = time.RFC3339Nano

// Log writes and verifies per-execution hash chains. The orchestrator is
// the single writer per execution; the internal mutex additionally
// serialises writers that share a Log across executions.
type Log struct {
	store *storage.Store
	mu    sync.Mutex
	log   logger.Logger
}

// NewLog creates an audit log over the shared store.
func NewLog(store *storage.Store) *Log {
	return &Log{store: store, log: logger.NewLogger("audit-log")}
}

// Append writes one entry, linking it to the execution's current chain
// head. The write is durable before Append returns; callers treat a
// failure here as fatal to the run, because the chain must not skip.
func (l *Log) Append(ctx context.Context, executionID, runbookID, eventType, actor string, details map[string]interface{}) (*models.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prevHash, err := l.chainHead(ctx, executionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	hash, detailsJSON, err := ComputeHash(prevHash, eventType, executionID, details, now)
	if err != nil {
		return nil, err
	}

	entry := &models.AuditEntry{
		ExecutionID: executionID,
		RunbookID:   runbookID,
		EventType:   eventType,
		Actor:       actor,
		Details:     details,
		PrevHash:    prevHash,
		Hash:        hash,
		CreatedAt:   now,
	}

	res, err := l.store.DB().ExecContext(ctx, `
		INSERT INTO audit_log (execution_id, runbook_id, event_type, actor, details, prev_hash, hash, created_at, success)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		executionID, runbookID, eventType, actor, detailsJSON, nullable(prevHash), hash, now.Format(timestampFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return entry, nil
}

// chainHead returns the hash of the execution's latest entry, nil for a
// fresh chain.
func (l *Log) chainHead(ctx context.Context, executionID string) (*string, error) {
	row := l.store.DB().QueryRowContext(ctx,
		`SELECT hash FROM audit_log WHERE execution_id = ? ORDER BY id DESC LIMIT 1`, executionID)
	var hash string
	switch err := row.Scan(&hash); err {
	case nil:
		return &hash, nil
	case sql.ErrNoRows:
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to read audit chain head: %w", err)
	}
}

// Chain returns an execution's full chain in append order.
func (l *Log) Chain(ctx context.Context, executionID string) ([]*models.AuditEntry, error) {
	rows, err := l.store.DB().QueryContext(ctx, `
		SELECT id, execution_id, runbook_id, event_type, actor, details, prev_hash, hash, created_at
		FROM audit_log WHERE execution_id = ? ORDER BY id ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit chain: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var detailsJSON, prevHash sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.RunbookID, &e.EventType,
			&e.Actor, &detailsJSON, &prevHash, &e.Hash, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if detailsJSON.Valid && detailsJSON.String != "" {
			_ = json.Unmarshal([]byte(detailsJSON.String), &e.Details)
		}
		if prevHash.Valid {
			v := prevHash.String
			e.PrevHash = &v
		}
		if t, err := time.Parse(timestampFormat, createdAt); err == nil {
			e.CreatedAt = t
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Verify recomputes an execution's chain and returns an error naming the
// first broken link, or nil for an intact (possibly empty) chain.
func (l *Log) Verify(ctx context.Context, executionID string) error {
	entries, err := l.Chain(ctx, executionID)
	if err != nil {
		return err
	}

	var prev *string
	for i, e := range entries {
		if (e.PrevHash == nil) != (prev == nil) ||
			(e.PrevHash != nil && prev != nil && *e.PrevHash != *prev) {
			return fmt.Errorf("audit chain broken at entry %d: prev_hash mismatch", i)
		}
		hash, _, err := ComputeHash(e.PrevHash, e.EventType, e.ExecutionID, e.Details, e.CreatedAt)
		if err != nil {
			return err
		}
		if hash != e.Hash {
			return fmt.Errorf("audit chain broken at entry %d: hash mismatch", i)
		}
		prev = &entries[i].Hash
	}
	return nil
}

// ComputeHash derives an entry hash:
//
//	SHA256(prev_hash? | event_type | execution_id | canonical_json(details) | timestamp)
//
// with '|' as a literal byte and the empty string standing in for a nil
// prev_hash. It also returns the canonical details JSON so writers store
// exactly the bytes that were hashed.
func ComputeHash(prevHash *string, eventType, executionID string, details map[string]interface{}, ts time.Time) (string, string, error) {
	if details == nil {
		details = map[string]interface{}{}
	}
	// encoding/json marshals map keys in sorted order, which is the
	// canonical form the chain depends on.
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return "", "", fmt.Errorf("failed to serialise audit details: %w", err)
	}

	h := sha256.New()
	if prevHash != nil {
		h.Write([]byte(*prevHash))
	}
	h.Write([]byte("|"))
	h.Write([]byte(eventType))
	h.Write([]byte("|"))
	h.Write([]byte(executionID))
	h.Write([]byte("|"))
	h.Write(detailsJSON)
	h.Write([]byte("|"))
	h.Write([]byte(ts.UTC().Format(timestampFormat)))

	return hex.EncodeToString(h.Sum(nil)), string(detailsJSON), nil
}

func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
