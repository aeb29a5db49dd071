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

package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sim-security/runbookpilot/internal/common/types/enum"
	"github.com/sim-security/runbookpilot/internal/core/models"
	"github.com/sim-security/runbookpilot/internal/storage"
)

func testQueue(t *testing.T) *Queue {
	t.Helper()
	store, err := storage.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ec := &models.ExecutionContext{
		ExecutionID: "exec-1", RunbookID: "rb-1", RunbookVersion: "1.0.0",
		Mode: enum.ModeProduction, StartedAt: time.Now().UTC(), State: enum.StateIdle,
	}
	require.NoError(t, store.CreateExecution(context.Background(), ec, "test"))
	return NewQueue(store, 15*time.Minute)
}

func newRequest() *models.ApprovalRequest {
	return &models.ApprovalRequest{
		ExecutionID: "exec-1", RunbookID: "rb-1", RunbookName: "test",
		StepID: "s1", StepName: "block", Action: "block_ip",
		Parameters: `{"ip":"203.0.113.10"}`,
	}
}

func TestCreateSetsPendingWithExpiry(t *testing.T) {
	q := testQueue(t)
	req := newRequest()
	require.NoError(t, q.Create(context.Background(), req))

	assert.NotEmpty(t, req.RequestID)
	assert.Equal(t, enum.ApprovalPending, req.Status)
	assert.True(t, req.ExpiresAt.After(req.RequestedAt))

	loaded, err := q.Get(context.Background(), req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, enum.ApprovalPending, loaded.Status)
	assert.Equal(t, `{"ip":"203.0.113.10"}`, loaded.Parameters)
}

func TestApproveLifecycle(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()
	req := newRequest()
	require.NoError(t, q.Create(ctx, req))

	decided, err := q.Approve(ctx, req.RequestID, "alice")
	require.NoError(t, err)
	assert.Equal(t, enum.ApprovalApproved, decided.Status)
	assert.Equal(t, "alice", decided.ApprovedBy)
	require.NotNil(t, decided.ApprovedAt)
	assert.True(t, decided.ExpiresAt.After(*decided.ApprovedAt) || decided.ExpiresAt.Equal(*decided.ApprovedAt))

	// Terminal statuses are final.
	_, err = q.Approve(ctx, req.RequestID, "bob")
	assert.ErrorContains(t, err, "already decided")
	_, err = q.Deny(ctx, req.RequestID, "bob", "late")
	assert.ErrorContains(t, err, "already decided")
}

func TestDenyRecordsReason(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()
	req := newRequest()
	require.NoError(t, q.Create(ctx, req))

	decided, err := q.Deny(ctx, req.RequestID, "alice", "blast radius too large")
	require.NoError(t, err)
	assert.Equal(t, enum.ApprovalDenied, decided.Status)
	assert.Equal(t, "blast radius too large", decided.DenialReason)
}

func TestApproveMissingRequest(t *testing.T) {
	q := testQueue(t)
	_, err := q.Approve(context.Background(), "nope", "alice")
	assert.Error(t, err)
}

func TestExpiryLifecycle(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	req := newRequest()
	require.NoError(t, q.CreateWithTTL(ctx, req, 0))

	// Push the clock one tick past the expiry.
	q.now = func() time.Time { return req.ExpiresAt.Add(time.Millisecond) }

	n, err := q.ExpireStale(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	_, err = q.Approve(ctx, req.RequestID, "alice")
	assert.ErrorContains(t, err, "expired")

	loaded, err := q.Get(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, enum.ApprovalExpired, loaded.Status)
}

func TestApproveRunsExpireStaleFirst(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	req := newRequest()
	require.NoError(t, q.CreateWithTTL(ctx, req, 0))
	q.now = func() time.Time { return req.ExpiresAt.Add(time.Millisecond) }

	// No explicit sweep: Approve must expire the row itself.
	_, err := q.Approve(ctx, req.RequestID, "alice")
	assert.ErrorContains(t, err, "expired")
}

func TestListPendingFilterAndOrder(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	older := newRequest()
	require.NoError(t, q.Create(ctx, older))
	newer := newRequest()
	newer.StepID = "s2"
	q.now = func() time.Time { return time.Now().UTC().Add(time.Second) }
	require.NoError(t, q.Create(ctx, newer))

	pending, err := q.ListPending(ctx, models.ApprovalFilter{ExecutionID: "exec-1"})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	// Newest first.
	assert.Equal(t, newer.RequestID, pending[0].RequestID)

	pending, err = q.ListPending(ctx, models.ApprovalFilter{ExecutionID: "other"})
	require.NoError(t, err)
	assert.Empty(t, pending)

	pending, err = q.ListPending(ctx, models.ApprovalFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, older.RequestID, pending[0].RequestID)
}
