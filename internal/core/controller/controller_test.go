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

package controller

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartRejectsDuplicates(t *testing.T) {
	c := New()
	_, err := c.StartExecution("exec-1", 0, nil, nil)
	require.NoError(t, err)
	_, err = c.StartExecution("exec-1", 0, nil, nil)
	assert.ErrorContains(t, err, "already registered")
}

func TestLifecycleGuards(t *testing.T) {
	c := New()
	_, err := c.StartExecution("exec-1", 0, nil, nil)
	require.NoError(t, err)

	require.NoError(t, c.CompleteExecution("exec-1"))
	// Every transition requires running.
	assert.Error(t, c.CancelExecution("exec-1", "late"))
	assert.Error(t, c.FailExecution("exec-1"))
	assert.Error(t, c.CompleteExecution("exec-1"))
	assert.Error(t, c.CompleteExecution("ghost"))
}

func TestCancelFiresCallbackAndAborts(t *testing.T) {
	c := New()
	var cancelled atomic.Bool
	_, err := c.StartExecution("exec-1", 0, func() { cancelled.Store(true) }, nil)
	require.NoError(t, err)

	assert.False(t, c.ShouldAbort("exec-1"))
	require.NoError(t, c.CancelExecution("exec-1", "operator request"))
	assert.True(t, cancelled.Load())
	assert.True(t, c.ShouldAbort("exec-1"))

	h, ok := c.Get("exec-1")
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, h.Status)
	assert.Equal(t, "operator request", h.CancelReason)
}

func TestTimeoutFires(t *testing.T) {
	c := New()
	var timedOut atomic.Bool
	_, err := c.StartExecution("exec-1", 20*time.Millisecond, nil, func() { timedOut.Store(true) })
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return c.ShouldAbort("exec-1") },
		time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return timedOut.Load() },
		time.Second, 5*time.Millisecond)

	h, _ := c.Get("exec-1")
	assert.Equal(t, StatusTimedOut, h.Status)
}

func TestCompleteStopsTimer(t *testing.T) {
	c := New()
	_, err := c.StartExecution("exec-1", 30*time.Millisecond, nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.CompleteExecution("exec-1"))

	time.Sleep(60 * time.Millisecond)
	h, _ := c.Get("exec-1")
	assert.Equal(t, StatusCompleted, h.Status)
	assert.False(t, c.ShouldAbort("exec-1"))
}

func TestUnknownExecutionAborts(t *testing.T) {
	c := New()
	assert.True(t, c.ShouldAbort("ghost"))
}

func TestShutdownAllCancelsRunning(t *testing.T) {
	c := New()
	var count atomic.Int32
	for _, id := range []string{"a", "b", "c"} {
		_, err := c.StartExecution(id, 0, func() { count.Add(1) }, nil)
		require.NoError(t, err)
	}
	require.NoError(t, c.CompleteExecution("c"))

	c.ShutdownAll()
	assert.Equal(t, int32(2), count.Load())

	for _, id := range []string{"a", "b"} {
		h, _ := c.Get(id)
		assert.Equal(t, StatusCancelled, h.Status)
		assert.Equal(t, "system_shutdown", h.CancelReason)
	}
	h, _ := c.Get("c")
	assert.Equal(t, StatusCompleted, h.Status)
}

func TestRemoveDropsTerminalOnly(t *testing.T) {
	c := New()
	_, err := c.StartExecution("exec-1", 0, nil, nil)
	require.NoError(t, err)

	c.Remove("exec-1") // still running: no-op
	_, ok := c.Get("exec-1")
	assert.True(t, ok)

	require.NoError(t, c.CompleteExecution("exec-1"))
	c.Remove("exec-1")
	_, ok = c.Get("exec-1")
	assert.False(t, ok)
}
