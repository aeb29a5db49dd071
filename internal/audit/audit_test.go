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

package audit

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

func testLog(t *testing.T) (*Log, *storage.Store) {
	t.Helper()
	store, err := storage.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	// Audit rows reference executions; satisfy the foreign key.
	ec := &models.ExecutionContext{
		ExecutionID: "exec-1", RunbookID: "rb-1", RunbookVersion: "1.0.0",
		Mode: enum.ModeProduction, StartedAt: time.Now().UTC(), State: enum.StateIdle,
	}
	require.NoError(t, store.CreateExecution(context.Background(), ec, "test"))
	return NewLog(store), store
}

func TestChainLinksAndRecomputes(t *testing.T) {
	log, _ := testLog(t)
	ctx := context.Background()

	// Scenario: started → step_started → step_failed → execution_failed.
	events := []struct {
		event   string
		details map[string]interface{}
	}{
		{EventExecutionStarted, map[string]interface{}{"runbook_id": "rb-1"}},
		{EventStepStarted, map[string]interface{}{"step_id": "s1"}},
		{EventStepFailed, map[string]interface{}{"step_id": "s1", "error": "boom"}},
		{EventExecutionFailed, map[string]interface{}{"error": "boom"}},
	}
	for _, e := range events {
		_, err := log.Append(ctx, "exec-1", "rb-1", e.event, "engine", e.details)
		require.NoError(t, err)
	}

	chain, err := log.Chain(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, chain, 4)

	assert.Nil(t, chain[0].PrevHash)
	for i := 1; i < len(chain); i++ {
		require.NotNil(t, chain[i].PrevHash)
		assert.Equal(t, chain[i-1].Hash, *chain[i].PrevHash)
	}

	// Every stored hash recomputes from the stored row.
	for i, entry := range chain {
		hash, _, err := ComputeHash(entry.PrevHash, entry.EventType, entry.ExecutionID, entry.Details, entry.CreatedAt)
		require.NoError(t, err)
		assert.Equalf(t, entry.Hash, hash, "entry %d", i)
	}

	assert.NoError(t, log.Verify(ctx, "exec-1"))
}

func TestVerifyDetectsTampering(t *testing.T) {
	log, store := testLog(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := log.Append(ctx, "exec-1", "rb-1", EventStepCompleted, "engine",
			map[string]interface{}{"step": i})
		require.NoError(t, err)
	}
	require.NoError(t, log.Verify(ctx, "exec-1"))

	// Rewrite a detail field behind the chain's back.
	_, err := store.DB().Exec(`UPDATE audit_log SET details = '{"step":99}' WHERE execution_id = 'exec-1' AND id = (SELECT MIN(id) FROM audit_log)`)
	require.NoError(t, err)

	assert.Error(t, log.Verify(ctx, "exec-1"))
}

func TestComputeHashCanonicalKeyOrder(t *testing.T) {
	ts := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	h1, json1, err := ComputeHash(nil, EventStepCompleted, "exec-1",
		map[string]interface{}{"b": 2, "a": 1}, ts)
	require.NoError(t, err)
	h2, json2, err := ComputeHash(nil, EventStepCompleted, "exec-1",
		map[string]interface{}{"a": 1, "b": 2}, ts)
	require.NoError(t, err)

	// Insertion order does not matter: the canonical form is sorted.
	assert.Equal(t, h1, h2)
	assert.Equal(t, json1, json2)
	assert.Equal(t, `{"a":1,"b":2}`, json1)
}

func TestComputeHashPrevHashChangesDigest(t *testing.T) {
	ts := time.Now().UTC()
	prev := "abc123"

	h1, _, err := ComputeHash(nil, EventStepCompleted, "exec-1", nil, ts)
	require.NoError(t, err)
	h2, _, err := ComputeHash(&prev, EventStepCompleted, "exec-1", nil, ts)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestChainsAreIndependentPerExecution(t *testing.T) {
	log, store := testLog(t)
	ctx := context.Background()

	ec := &models.ExecutionContext{
		ExecutionID: "exec-2", RunbookID: "rb-1", RunbookVersion: "1.0.0",
		Mode: enum.ModeProduction, StartedAt: time.Now().UTC(), State: enum.StateIdle,
	}
	require.NoError(t, store.CreateExecution(ctx, ec, "test"))

	_, err := log.Append(ctx, "exec-1", "rb-1", EventExecutionStarted, "engine", nil)
	require.NoError(t, err)
	e2, err := log.Append(ctx, "exec-2", "rb-1", EventExecutionStarted, "engine", nil)
	require.NoError(t, err)

	// exec-2's first entry starts a fresh chain.
	assert.Nil(t, e2.PrevHash)
}
