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

// Package controller tracks running executions: cancellation, run-level
// timeouts, and shutdown. Cancellation is cooperative — the scheduler
// polls ShouldAbort between steps; an in-flight adapter call drains on its
// own step timer.
package controller

import (
	"fmt"
	"sync"
	"time"

	"github.com/sim-security/runbookpilot/internal/common/logger"
)

// Status is a handle's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

// Handle is the controller's view of one execution.
type Handle struct {
	ExecutionID  string
	Status       Status
	StartedAt    time.Time
	CompletedAt  *time.Time
	CancelReason string

	// OnCancel runs when the execution is cancelled; the controller awaits
	// it during ShutdownAll.
	OnCancel func()

	// OnTimeout fires when the run-level timer lapses, fire-and-forget.
	OnTimeout func()

	timer *time.Timer
}

// Controller is the in-memory registry of running executions.
type Controller struct {
	mu      sync.Mutex
	handles map[string]*Handle
	log     logger.Logger
}

// New creates an execution controller.
func New() *Controller {
	return &Controller{
		handles: make(map[string]*Handle),
		log:     logger.NewLogger("execution-controller"),
	}
}

// StartExecution registers a new running execution. Duplicate ids are
// rejected. A non-zero timeout schedules a one-shot timer that marks the
// handle timed out and fires OnTimeout.
func (c *Controller) StartExecution(executionID string, timeout time.Duration, onCancel, onTimeout func()) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.handles[executionID]; exists {
		return nil, fmt.Errorf("execution %s already registered", executionID)
	}

	h := &Handle{
		ExecutionID: executionID,
		Status:      StatusRunning,
		StartedAt:   time.Now().UTC(),
		OnCancel:    onCancel,
		OnTimeout:   onTimeout,
	}
	c.handles[executionID] = h

	if timeout > 0 {
		h.timer = time.AfterFunc(timeout, func() { c.fireTimeout(executionID) })
	}

	c.log.Debugf("registered execution %s (timeout %s)", executionID, timeout)
	return h, nil
}

func (c *Controller) fireTimeout(executionID string) {
	c.mu.Lock()
	h, ok := c.handles[executionID]
	if !ok || h.Status != StatusRunning {
		c.mu.Unlock()
		return
	}
	h.Status = StatusTimedOut
	now := time.Now().UTC()
	h.CompletedAt = &now
	onTimeout := h.OnTimeout
	c.mu.Unlock()

	c.log.Warnf("execution %s hit its run-level timeout", executionID)
	if onTimeout != nil {
		go onTimeout()
	}
}

// CancelExecution cooperatively cancels a running execution.
func (c *Controller) CancelExecution(executionID, reason string) error {
	c.mu.Lock()
	h, ok := c.handles[executionID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("execution %s not found", executionID)
	}
	if h.Status != StatusRunning {
		c.mu.Unlock()
		return fmt.Errorf("execution %s is %s, not running", executionID, h.Status)
	}
	h.Status = StatusCancelled
	h.CancelReason = reason
	now := time.Now().UTC()
	h.CompletedAt = &now
	h.stopTimerLocked()
	onCancel := h.OnCancel
	c.mu.Unlock()

	c.log.Infof("execution %s cancelled: %s", executionID, reason)
	if onCancel != nil {
		onCancel()
	}
	return nil
}

// CompleteExecution marks a running execution completed.
func (c *Controller) CompleteExecution(executionID string) error {
	return c.finish(executionID, StatusCompleted)
}

// FailExecution marks a running execution failed.
func (c *Controller) FailExecution(executionID string) error {
	return c.finish(executionID, StatusFailed)
}

func (c *Controller) finish(executionID string, status Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.handles[executionID]
	if !ok {
		return fmt.Errorf("execution %s not found", executionID)
	}
	if h.Status != StatusRunning {
		return fmt.Errorf("execution %s is %s, not running", executionID, h.Status)
	}
	h.Status = status
	now := time.Now().UTC()
	h.CompletedAt = &now
	h.stopTimerLocked()
	return nil
}

// ShouldAbort reports whether the execution must stop dispatching steps.
// Unknown ids abort too: a deregistered run has nothing left to do.
func (c *Controller) ShouldAbort(executionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.handles[executionID]
	if !ok {
		return true
	}
	return h.Status == StatusCancelled || h.Status == StatusTimedOut
}

// Get returns a copy of the handle for inspection.
func (c *Controller) Get(executionID string) (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[executionID]
	if !ok {
		return Handle{}, false
	}
	return *h, true
}

// Running counts currently running executions.
func (c *Controller) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, h := range c.handles {
		if h.Status == StatusRunning {
			n++
		}
	}
	return n
}

// Remove drops a terminal handle from the registry.
func (c *Controller) Remove(executionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.handles[executionID]; ok && h.Status != StatusRunning {
		delete(c.handles, executionID)
	}
}

// ShutdownAll cancels every running execution with reason system_shutdown
// and awaits their OnCancel callbacks.
func (c *Controller) ShutdownAll() {
	c.mu.Lock()
	var pending []*Handle
	for _, h := range c.handles {
		if h.Status == StatusRunning {
			h.Status = StatusCancelled
			h.CancelReason = "system_shutdown"
			now := time.Now().UTC()
			h.CompletedAt = &now
			h.stopTimerLocked()
			pending = append(pending, h)
		}
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range pending {
		if h.OnCancel == nil {
			continue
		}
		wg.Add(1)
		go func(cb func()) {
			defer wg.Done()
			cb()
		}(h.OnCancel)
	}
	wg.Wait()
	c.log.Infof("shutdown complete, %d execution(s) cancelled", len(pending))
}

func (h *Handle) stopTimerLocked() {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}
