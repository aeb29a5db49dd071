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

package statemachine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sim-security/runbookpilot/internal/common/types/enum"
)

func TestHappyPathLifecycle(t *testing.T) {
	m := New("exec-1")
	events := []Event{
		EventStartValidation, EventValidationSuccess, EventPlanReady,
		EventStepCompleted, EventStepCompleted, EventAllStepsCompleted,
	}
	for _, e := range events {
		require.NoError(t, m.Fire(e))
	}
	assert.Equal(t, enum.StateCompleted, m.State())

	wantPath := []enum.ExecutionState{
		enum.StateValidating, enum.StatePlanning, enum.StateExecuting,
		enum.StateExecuting, enum.StateExecuting, enum.StateCompleted,
	}
	history := m.History()
	require.Len(t, history, len(wantPath))
	for i, tr := range history {
		assert.Equal(t, wantPath[i], tr.To)
		assert.False(t, tr.Timestamp.IsZero())
		if i > 0 {
			assert.Equal(t, history[i-1].To, tr.From)
		}
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	m := New("exec-1")
	err := m.Fire(EventPlanReady)
	require.Error(t, err)

	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, enum.StateIdle, ite.State)
	assert.Contains(t, err.Error(), "invalid-transition")
	assert.Equal(t, enum.StateIdle, m.State())
}

func TestTerminalStatesRejectAllEvents(t *testing.T) {
	m := New("exec-1")
	require.NoError(t, m.Fire(EventCancel))
	require.Equal(t, enum.StateCancelled, m.State())

	for _, e := range []Event{EventStartValidation, EventCancel, EventStepFailed} {
		assert.Error(t, m.Fire(e))
	}
	assert.Len(t, m.History(), 1)
}

func TestStartRollbackShortcut(t *testing.T) {
	m := New("exec-1")
	// Only legal from executing.
	assert.Error(t, m.StartRollback())

	require.NoError(t, m.Fire(EventStartValidation))
	require.NoError(t, m.Fire(EventValidationSuccess))
	require.NoError(t, m.Fire(EventPlanReady))
	require.NoError(t, m.StartRollback())
	assert.Equal(t, enum.StateRollingBack, m.State())

	require.NoError(t, m.Fire(EventRollbackCompleted))
	assert.Equal(t, enum.StateCompleted, m.State())
}

func TestApprovalPath(t *testing.T) {
	m := New("exec-1")
	require.NoError(t, m.Fire(EventStartValidation))
	require.NoError(t, m.Fire(EventValidationSuccess))
	require.NoError(t, m.Fire(EventApprovalRequired))
	assert.Equal(t, enum.StateAwaitingApproval, m.State())

	require.NoError(t, m.Fire(EventApprovalDenied))
	assert.Equal(t, enum.StateCancelled, m.State())
}

func TestListenersNotifiedInOrder(t *testing.T) {
	m := New("exec-1")
	var order []string
	m.Subscribe(func(id string, tr Transition) { order = append(order, "first:"+string(tr.Event)) })
	m.Subscribe(func(id string, tr Transition) { order = append(order, "second:"+string(tr.Event)) })

	require.NoError(t, m.Fire(EventStartValidation))
	assert.Equal(t, []string{"first:start_validation", "second:start_validation"}, order)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	m := New("exec-1")
	require.NoError(t, m.Fire(EventStartValidation))
	require.NoError(t, m.Fire(EventValidationSuccess))

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))

	restored, err := Restore(snap)
	require.NoError(t, err)
	assert.Equal(t, enum.StatePlanning, restored.State())
	assert.Equal(t, m.History(), restored.History())
	assert.Equal(t, "exec-1", restored.ExecutionID())

	// The restored machine keeps enforcing the table.
	require.NoError(t, restored.Fire(EventPlanReady))
	assert.Error(t, restored.Fire(EventValidationSuccess))
}

func TestHistoryTerminalAppearsOnceAtEnd(t *testing.T) {
	m := New("exec-1")
	require.NoError(t, m.Fire(EventStartValidation))
	require.NoError(t, m.Fire(EventValidationFailed))

	history := m.History()
	terminalCount := 0
	for _, tr := range history {
		if tr.To.IsTerminal() {
			terminalCount++
		}
	}
	assert.Equal(t, 1, terminalCount)
	assert.True(t, history[len(history)-1].To.IsTerminal())
}
