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

package rollback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sim-security/runbookpilot/internal/adapters"
	"github.com/sim-security/runbookpilot/internal/adapters/memory"
	"github.com/sim-security/runbookpilot/internal/core/models"
	"github.com/sim-security/runbookpilot/internal/template"
)

func success(stepID string) *models.StepResult {
	now := time.Now().UTC()
	return &models.StepResult{StepID: stepID, Success: true, StartedAt: now, CompletedAt: now}
}

func TestRollbackReverseOrderSkipsUndeclared(t *testing.T) {
	registry := adapters.NewRegistry()
	edr := memory.New("edr")
	require.NoError(t, registry.Register(edr))

	rb := &models.Runbook{
		ID: "rb-1", Name: "t", Version: "1.0.0",
		Steps: []*models.RunbookStep{
			{ID: "s1", Name: "a", Action: "isolate_host", Executor: "edr",
				Rollback: &models.RollbackSpec{Action: "unisolate_host"}},
			{ID: "s2", Name: "b", Action: "collect_logs", Executor: "edr"}, // no rollback clause
			{ID: "s3", Name: "c", Action: "block_ip", Executor: "edr",
				Rollback: &models.RollbackSpec{Action: "unblock_ip"}},
		},
	}
	results := []*models.StepResult{success("s1"), success("s2"), success("s3")}

	out := NewEngine().Run(context.Background(), rb, results,
		template.NewContext(nil, nil), registry)

	assert.True(t, out.Success)
	assert.Equal(t, 2, out.TotalAttempted)
	assert.Equal(t, 2, out.TotalSucceeded)
	// Last executed compensates first.
	assert.Equal(t, []string{"s3", "s1"}, out.StepsRolledBack)

	calls := edr.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "unblock_ip", calls[0].Action)
	assert.Equal(t, "unisolate_host", calls[1].Action)
}

func TestRollbackFailureDoesNotAbortLoop(t *testing.T) {
	registry := adapters.NewRegistry()
	edr := memory.New("edr")
	edr.Script("unblock_ip", memory.Outcome{Fail: true, Message: "rule locked"})
	require.NoError(t, registry.Register(edr))

	rb := &models.Runbook{
		ID: "rb-1", Name: "t", Version: "1.0.0",
		Steps: []*models.RunbookStep{
			{ID: "s1", Name: "a", Action: "isolate_host", Executor: "edr",
				Rollback: &models.RollbackSpec{Action: "unisolate_host"}},
			{ID: "s2", Name: "b", Action: "block_ip", Executor: "edr",
				Rollback: &models.RollbackSpec{Action: "unblock_ip"}},
		},
	}
	results := []*models.StepResult{success("s1"), success("s2")}

	out := NewEngine().Run(context.Background(), rb, results,
		template.NewContext(nil, nil), registry)

	assert.False(t, out.Success)
	assert.Equal(t, 2, out.TotalAttempted)
	assert.Equal(t, 1, out.TotalSucceeded)
	assert.Equal(t, 1, out.TotalFailed)
	// The earlier step still got compensated after the failure.
	assert.Equal(t, []string{"s1"}, out.StepsRolledBack)
}

func TestRollbackExecutorOverrideAndTemplates(t *testing.T) {
	registry := adapters.NewRegistry()
	edr := memory.New("edr")
	firewall := memory.New("firewall")
	require.NoError(t, registry.Register(edr))
	require.NoError(t, registry.Register(firewall))

	rb := &models.Runbook{
		ID: "rb-1", Name: "t", Version: "1.0.0",
		Steps: []*models.RunbookStep{
			{ID: "s1", Name: "a", Action: "block_ip", Executor: "edr",
				Rollback: &models.RollbackSpec{
					Action:   "unblock_ip",
					Executor: "firewall",
					Parameters: map[string]interface{}{
						"ip": "{{ alert.source.ip }}",
					},
				}},
		},
	}
	tmplCtx := template.NewContext(models.Alert{
		"source": map[string]interface{}{"ip": "203.0.113.10"},
	}, nil)

	out := NewEngine().Run(context.Background(), rb,
		[]*models.StepResult{success("s1")}, tmplCtx, registry)

	require.True(t, out.Success)
	assert.Empty(t, edr.Calls())
	calls := firewall.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "203.0.113.10", calls[0].Params["ip"])
}

func TestRollbackSkipsFailedAndSkippedSteps(t *testing.T) {
	registry := adapters.NewRegistry()
	edr := memory.New("edr")
	require.NoError(t, registry.Register(edr))

	rb := &models.Runbook{
		ID: "rb-1", Name: "t", Version: "1.0.0",
		Steps: []*models.RunbookStep{
			{ID: "s1", Name: "a", Action: "block_ip", Executor: "edr",
				Rollback: &models.RollbackSpec{Action: "unblock_ip"}},
		},
	}

	failed := success("s1")
	failed.Success = false
	out := NewEngine().Run(context.Background(), rb,
		[]*models.StepResult{failed}, template.NewContext(nil, nil), registry)
	assert.Zero(t, out.TotalAttempted)

	skipped := models.NewSkippedResult(rb.Steps[0], "Condition not met")
	out = NewEngine().Run(context.Background(), rb,
		[]*models.StepResult{skipped}, template.NewContext(nil, nil), registry)
	assert.Zero(t, out.TotalAttempted)
	assert.True(t, out.Success)
}
