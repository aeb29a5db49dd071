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

// Package statemachine implements the guarded execution lifecycle. The
// transition table is a package constant; any (state, event) pair outside
// it is an invalid transition, and terminal states accept no events at all.
package statemachine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sim-security/runbookpilot/internal/common/logger"
	"github.com/sim-security/runbookpilot/internal/common/types/enum"
)

// Event names a lifecycle trigger.
type Event string

const (
	EventStartValidation   Event = "start_validation"
	EventValidationSuccess Event = "validation_success"
	EventValidationFailed  Event = "validation_failed"
	EventPlanReady         Event = "plan_ready"
	EventApprovalRequired  Event = "approval_required"
	EventApprovalGranted   Event = "approval_granted"
	EventApprovalDenied    Event = "approval_denied"
	EventStepCompleted     Event = "step_completed"
	EventAllStepsCompleted Event = "all_steps_completed"
	EventStepFailed        Event = "step_failed"
	EventRollbackStarted   Event = "rollback_started"
	EventRollbackCompleted Event = "rollback_completed"
	EventRollbackFailed    Event = "rollback_failed"
	EventCancel            Event = "cancel"
)

type transitionKey struct {
	state enum.ExecutionState
	event Event
}

// transitions is the complete lifecycle table. Nothing outside this table
// is ever a legal move.
var transitions = map[transitionKey]enum.ExecutionState{
	{enum.StateIdle, EventStartValidation}: enum.StateValidating,
	{enum.StateIdle, EventCancel}:          enum.StateCancelled,

	{enum.StateValidating, EventValidationSuccess}: enum.StatePlanning,
	{enum.StateValidating, EventValidationFailed}:  enum.StateFailed,
	{enum.StateValidating, EventCancel}:            enum.StateCancelled,

	{enum.StatePlanning, EventPlanReady}:        enum.StateExecuting,
	{enum.StatePlanning, EventApprovalRequired}: enum.StateAwaitingApproval,
	{enum.StatePlanning, EventCancel}:           enum.StateCancelled,

	{enum.StateAwaitingApproval, EventApprovalGranted}: enum.StateExecuting,
	{enum.StateAwaitingApproval, EventApprovalDenied}:  enum.StateCancelled,
	{enum.StateAwaitingApproval, EventCancel}:          enum.StateCancelled,

	{enum.StateExecuting, EventStepCompleted}:     enum.StateExecuting,
	{enum.StateExecuting, EventAllStepsCompleted}: enum.StateCompleted,
	{enum.StateExecuting, EventStepFailed}:        enum.StateFailed,
	{enum.StateExecuting, EventRollbackStarted}:   enum.StateRollingBack,
	{enum.StateExecuting, EventCancel}:            enum.StateCancelled,

	{enum.StateRollingBack, EventRollbackCompleted}: enum.StateCompleted,
	{enum.StateRollingBack, EventRollbackFailed}:    enum.StateFailed,
}

// InvalidTransitionError reports a (state, event) pair outside the table.
type InvalidTransitionError struct {
	State enum.ExecutionState
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid-transition: event %q is not legal in state %q", e.Event, e.State)
}

// Transition is one recorded lifecycle move.
type Transition struct {
	From      enum.ExecutionState `json:"from"`
	To        enum.ExecutionState `json:"to"`
	Event     Event               `json:"event"`
	Timestamp time.Time           `json:"timestamp"`
}

// Listener observes transitions; listeners are notified synchronously in
// registration order, after the state has changed.
type Listener func(executionID string, t Transition)

// Machine is one execution's lifecycle tracker. It is not safe for
// concurrent use; each execution task owns its machine exclusively.
type Machine struct {
	executionID string
	state       enum.ExecutionState
	history     []Transition
	listeners   []Listener
	log         logger.Logger
}

// New creates a machine in StateIdle.
func New(executionID string) *Machine {
	return &Machine{
		executionID: executionID,
		state:       enum.StateIdle,
		log:         logger.NewLogger("state-machine").WithField("execution_id", executionID),
	}
}

// State returns the current state.
func (m *Machine) State() enum.ExecutionState { return m.state }

// ExecutionID returns the owning execution's id.
func (m *Machine) ExecutionID() string { return m.executionID }

// History returns a copy of the recorded transitions.
func (m *Machine) History() []Transition {
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Subscribe registers a transition listener.
func (m *Machine) Subscribe(l Listener) {
	m.listeners = append(m.listeners, l)
}

// Fire applies an event. Terminal states reject every event; pairs outside
// the transition table return an InvalidTransitionError. Each successful
// transition is timestamped, appended to history, and announced to
// listeners in registration order.
func (m *Machine) Fire(event Event) error {
	if m.state.IsTerminal() {
		return &InvalidTransitionError{State: m.state, Event: event}
	}
	next, ok := transitions[transitionKey{m.state, event}]
	if !ok {
		return &InvalidTransitionError{State: m.state, Event: event}
	}

	t := Transition{From: m.state, To: next, Event: event, Timestamp: time.Now().UTC()}
	m.state = next
	m.history = append(m.history, t)
	m.log.Debugf("transition %s -> %s on %s", t.From, t.To, event)

	for _, l := range m.listeners {
		l(m.executionID, t)
	}
	return nil
}

// StartRollback is the one sanctioned shortcut: executing → rolling_back.
func (m *Machine) StartRollback() error {
	if m.state != enum.StateExecuting {
		return &InvalidTransitionError{State: m.state, Event: EventRollbackStarted}
	}
	return m.Fire(EventRollbackStarted)
}

// CanFire reports whether the event is currently legal.
func (m *Machine) CanFire(event Event) bool {
	if m.state.IsTerminal() {
		return false
	}
	_, ok := transitions[transitionKey{m.state, event}]
	return ok
}

// Snapshot is the serialisable form of a machine.
type Snapshot struct {
	ExecutionID string              `json:"execution_id"`
	State       enum.ExecutionState `json:"state"`
	History     []Transition        `json:"history"`
}

// Snapshot captures the machine for persistence.
func (m *Machine) Snapshot() Snapshot {
	return Snapshot{ExecutionID: m.executionID, State: m.state, History: m.History()}
}

// MarshalJSON serialises the snapshot form.
func (m *Machine) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Snapshot())
}

// Restore rebuilds a machine from a snapshot, preserving its history.
// Listeners do not survive restoration; callers re-subscribe.
func Restore(s Snapshot) (*Machine, error) {
	if !s.State.IsValid() {
		return nil, fmt.Errorf("invalid state in snapshot: %d", s.State)
	}
	m := New(s.ExecutionID)
	m.state = s.State
	m.history = append(m.history, s.History...)
	return m, nil
}
