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

// Package approval implements the persistent, TTL-bounded analyst decision
// queue. Requests are created pending with an expiry; the lifecycle is
// pending → approved | denied | expired, and terminal statuses are final.
package approval

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sim-security/runbookpilot/internal/common/logger"
	"github.com/sim-security/runbookpilot/internal/common/types/enum"
	"github.com/sim-security/runbookpilot/internal/core/models"
	"github.com/sim-security/runbookpilot/internal/storage"
)

// defaultListLimit caps unbounded pending listings.
const defaultListLimit = 100

// Queue is the DB-backed approval store.
type Queue struct {
	store *storage.Store
	ttl   time.Duration
	log   logger.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewQueue creates an approval queue whose new requests expire after ttl.
func NewQueue(store *storage.Store, ttl time.Duration) *Queue {
	return &Queue{
		store: store,
		ttl:   ttl,
		log:   logger.NewLogger("approval-queue"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create persists a new pending request and returns it with its generated
// request id and expiry stamped.
func (q *Queue) Create(ctx context.Context, req *models.ApprovalRequest) error {
	return q.CreateWithTTL(ctx, req, q.ttl)
}

// CreateWithTTL persists a pending request with an explicit TTL, overriding
// the queue default.
func (q *Queue) CreateWithTTL(ctx context.Context, req *models.ApprovalRequest, ttl time.Duration) error {
	now := q.now()
	req.RequestID = uuid.New().String()
	req.Status = enum.ApprovalPending
	req.RequestedAt = now
	req.ExpiresAt = now.Add(ttl)
	req.CreatedAt = now
	req.UpdatedAt = now

	_, err := q.store.DB().ExecContext(ctx, `
		INSERT INTO approval_queue
			(request_id, execution_id, runbook_id, runbook_name, step_id, step_name, action,
			 parameters, simulation_result, status, requested_at, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.RequestID, req.ExecutionID, req.RunbookID, req.RunbookName,
		req.StepID, req.StepName, req.Action,
		req.Parameters, req.SimulationResult, req.Status.String(),
		req.RequestedAt, req.ExpiresAt, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create approval request: %w", err)
	}
	q.log.Infof("approval request %s created for step %s (%s), expires %s",
		req.RequestID, req.StepID, req.Action, req.ExpiresAt.Format(time.RFC3339))
	return nil
}

// Get loads one request by id.
func (q *Queue) Get(ctx context.Context, requestID string) (*models.ApprovalRequest, error) {
	row := q.store.DB().QueryRowContext(ctx, `
		SELECT request_id, execution_id, runbook_id, runbook_name, step_id, step_name, action,
		       parameters, simulation_result, status, requested_at, expires_at,
		       approved_by, approved_at, denial_reason, created_at, updated_at
		FROM approval_queue WHERE request_id = ?`, requestID)
	return scanRequest(row)
}

// Approve transitions pending → approved. Stale pending rows are expired
// first, so an approval racing the TTL loses deterministically. Missing,
// non-pending, and expired rows are rejected.
func (q *Queue) Approve(ctx context.Context, requestID, approvedBy string) (*models.ApprovalRequest, error) {
	if _, err := q.ExpireStale(ctx); err != nil {
		return nil, err
	}

	req, err := q.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != enum.ApprovalPending {
		if req.Status == enum.ApprovalExpired {
			return nil, fmt.Errorf("approval request %s has expired", requestID)
		}
		return nil, fmt.Errorf("approval request %s already decided: %s", requestID, req.Status)
	}

	now := q.now()
	_, err = q.store.DB().ExecContext(ctx, `
		UPDATE approval_queue
		SET status = ?, approved_by = ?, approved_at = ?, updated_at = ?
		WHERE request_id = ? AND status = ?`,
		enum.ApprovalApproved.String(), approvedBy, now, now,
		requestID, enum.ApprovalPending.String())
	if err != nil {
		return nil, fmt.Errorf("failed to approve request: %w", err)
	}

	req.Status = enum.ApprovalApproved
	req.ApprovedBy = approvedBy
	req.ApprovedAt = &now
	req.UpdatedAt = now
	q.log.Infof("approval request %s approved by %s", requestID, approvedBy)
	return req, nil
}

// Deny transitions pending → denied with a reason.
func (q *Queue) Deny(ctx context.Context, requestID, deniedBy, reason string) (*models.ApprovalRequest, error) {
	req, err := q.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != enum.ApprovalPending {
		return nil, fmt.Errorf("approval request %s already decided: %s", requestID, req.Status)
	}
	if req.Expired(q.now()) {
		if _, err := q.ExpireStale(ctx); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("approval request %s has expired", requestID)
	}

	now := q.now()
	_, err = q.store.DB().ExecContext(ctx, `
		UPDATE approval_queue
		SET status = ?, approved_by = ?, denial_reason = ?, updated_at = ?
		WHERE request_id = ? AND status = ?`,
		enum.ApprovalDenied.String(), deniedBy, reason, now,
		requestID, enum.ApprovalPending.String())
	if err != nil {
		return nil, fmt.Errorf("failed to deny request: %w", err)
	}

	req.Status = enum.ApprovalDenied
	req.ApprovedBy = deniedBy
	req.DenialReason = reason
	req.UpdatedAt = now
	q.log.Infof("approval request %s denied by %s: %s", requestID, deniedBy, reason)
	return req, nil
}

// ExpireStale marks every lapsed pending row expired and returns how many
// rows changed.
func (q *Queue) ExpireStale(ctx context.Context) (int64, error) {
	now := q.now()
	res, err := q.store.DB().ExecContext(ctx, `
		UPDATE approval_queue SET status = ?, updated_at = ?
		WHERE status = ? AND expires_at < ?`,
		enum.ApprovalExpired.String(), now, enum.ApprovalPending.String(), now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale approvals: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	if n > 0 {
		q.log.Infof("expired %d stale approval request(s)", n)
	}
	return n, nil
}

// ListPending returns pending requests, newest first, honouring the filter.
func (q *Queue) ListPending(ctx context.Context, filter models.ApprovalFilter) ([]*models.ApprovalRequest, error) {
	query := `
		SELECT request_id, execution_id, runbook_id, runbook_name, step_id, step_name, action,
		       parameters, simulation_result, status, requested_at, expires_at,
		       approved_by, approved_at, denial_reason, created_at, updated_at
		FROM approval_queue WHERE status = ?`
	args := []interface{}{enum.ApprovalPending.String()}

	if filter.ExecutionID != "" {
		query += " AND execution_id = ?"
		args = append(args, filter.ExecutionID)
	}
	if filter.RunbookID != "" {
		query += " AND runbook_id = ?"
		args = append(args, filter.RunbookID)
	}
	query += " ORDER BY requested_at DESC LIMIT ? OFFSET ?"
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit, filter.Offset)

	rows, err := q.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer rows.Close()

	var out []*models.ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row scanner) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	var params, simResult, approvedBy, denialReason sql.NullString
	var approvedAt sql.NullTime
	var statusStr string

	err := row.Scan(&req.RequestID, &req.ExecutionID, &req.RunbookID, &req.RunbookName,
		&req.StepID, &req.StepName, &req.Action,
		&params, &simResult, &statusStr, &req.RequestedAt, &req.ExpiresAt,
		&approvedBy, &approvedAt, &denialReason, &req.CreatedAt, &req.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("approval request not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan approval request: %w", err)
	}

	req.Parameters = params.String
	req.SimulationResult = simResult.String
	req.Status, _ = enum.ParseApprovalStatus(statusStr)
	req.ApprovedBy = approvedBy.String
	if approvedAt.Valid {
		t := approvedAt.Time
		req.ApprovedAt = &t
	}
	req.DenialReason = denialReason.String
	return &req, nil
}
