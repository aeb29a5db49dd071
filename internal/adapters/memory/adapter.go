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

// Package memory provides a scriptable in-process adapter used by tests
// and demos. Outcomes can be pinned per action; every call is recorded
// together with the execution mode it ran in.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/sim-security/runbookpilot/internal/common/types/enum"
	"github.com/sim-security/runbookpilot/internal/core/models"
)

// Call records one Execute invocation.
type Call struct {
	Action string
	Params map[string]interface{}
	Mode   enum.ExecutionMode
}

// Outcome scripts the result for an action.
type Outcome struct {
	// Fail makes the action report failure with the given message.
	Fail    bool
	Message string
	// Output is returned on success; nil yields a minimal output.
	Output map[string]interface{}
	// Delay simulates a slow backend.
	Delay time.Duration
}

// Adapter is a scriptable in-memory executor.
type Adapter struct {
	name string

	mu       sync.Mutex
	outcomes map[string]Outcome
	calls    []Call
	healthy  bool
}

// New creates a memory adapter with the given executor name.
func New(name string) *Adapter {
	return &Adapter{
		name:     name,
		outcomes: make(map[string]Outcome),
		healthy:  true,
	}
}

// Name implements interfaces.Adapter.
func (a *Adapter) Name() string { return a.name }

// Healthy implements interfaces.Adapter.
func (a *Adapter) Healthy(_ context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.healthy
}

// SetHealthy scripts the health probe.
func (a *Adapter) SetHealthy(h bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthy = h
}

// Script pins the outcome for an action.
func (a *Adapter) Script(action string, o Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes[action] = o
}

// Calls returns a snapshot of the recorded invocations.
func (a *Adapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.calls))
	copy(out, a.calls)
	return out
}

// Execute implements interfaces.Adapter. In simulation mode write actions
// return a predicted-result payload instead of a "performed" one; read
// actions answer the same either way, matching how a real adapter serves
// queries during simulation.
func (a *Adapter) Execute(ctx context.Context, action string, params map[string]interface{}, mode enum.ExecutionMode) (*models.AdapterResult, error) {
	start := time.Now()

	a.mu.Lock()
	outcome := a.outcomes[action]
	a.calls = append(a.calls, Call{Action: action, Params: params, Mode: mode})
	a.mu.Unlock()

	if outcome.Delay > 0 {
		select {
		case <-time.After(outcome.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	result := &models.AdapterResult{
		Action:     action,
		Executor:   a.name,
		DurationMs: time.Since(start).Milliseconds(),
	}

	if outcome.Fail {
		msg := outcome.Message
		if msg == "" {
			msg = "scripted failure"
		}
		result.Error = &models.AdapterError{
			Code:    "ADAPTER_ACTION_FAILED",
			Message: msg,
			Adapter: a.name,
			Action:  action,
		}
		return result, nil
	}

	result.Success = true
	if outcome.Output != nil {
		result.Output = outcome.Output
	} else if mode == enum.ModeSimulation {
		result.Output = map[string]interface{}{
			"predicted": true,
			"action":    action,
		}
	} else {
		result.Output = map[string]interface{}{
			"action": action,
			"status": "ok",
		}
	}
	return result, nil
}
