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
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sim-security/runbookpilot/internal/common/logger"
)

// Sweeper periodically expires stale pending approvals so analysts never
// act on a lapsed request that nothing has touched since its TTL passed.
type Sweeper struct {
	queue    *Queue
	interval time.Duration
	cron     *cron.Cron
	log      logger.Logger
}

// NewSweeper creates a sweeper over the queue. Intervals under a second
// are rounded up; the scheduler has second granularity.
func NewSweeper(queue *Queue, interval time.Duration) *Sweeper {
	if interval < time.Second {
		interval = time.Second
	}
	return &Sweeper{
		queue:    queue,
		interval: interval,
		log:      logger.NewLogger("approval-sweeper"),
	}
}

// Start schedules the sweep job. Calling Start on a running sweeper is an
// error.
func (s *Sweeper) Start() error {
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}
	s.cron = cron.New(cron.WithSeconds())

	spec := fmt.Sprintf("@every %s", s.interval)
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if n, err := s.queue.ExpireStale(ctx); err != nil {
			s.log.Errorf("approval sweep failed: %v", err)
		} else if n > 0 {
			s.log.Infof("approval sweep expired %d request(s)", n)
		}
	})
	if err != nil {
		s.cron = nil
		return fmt.Errorf("failed to schedule approval sweep: %w", err)
	}

	s.cron.Start()
	s.log.Infof("approval sweeper started, interval %s", s.interval)
	return nil
}

// Stop halts the sweep schedule and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.cron = nil
	s.log.Info("approval sweeper stopped")
}
