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

// Package enrich runs the pre-execution enrichment pipeline: every enabled
// source gets one concurrent slot and its own timeout, and the pipeline
// always resolves — source failures and timeouts are captured in the
// result, never raised.
package enrich

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sim-security/runbookpilot/internal/common/logger"
	"github.com/sim-security/runbookpilot/internal/core/interfaces"
	"github.com/sim-security/runbookpilot/internal/core/models"
)

// SourceResult records one source's outcome.
type SourceResult struct {
	SourceName string                 `json:"source_name"`
	Success    bool                   `json:"success"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	TimedOut   bool                   `json:"timed_out,omitempty"`
	DurationMs int64                  `json:"duration_ms"`
}

// Result is the pipeline's aggregate outcome.
type Result struct {
	Alert           models.Alert                      `json:"alert"`
	Enrichments     []*SourceResult                   `json:"enrichments"`
	TotalDurationMs int64                             `json:"total_duration_ms"`
	SuccessCount    int                               `json:"success_count"`
	FailureCount    int                               `json:"failure_count"`
	EnrichedContext map[string]map[string]interface{} `json:"enriched_context"`
}

// Pipeline is the process-wide enrichment source registry plus the fan-out
// runner. Registration replaces by name; reads are concurrent, writes
// exclusive; List is a snapshot.
type Pipeline struct {
	mu             sync.RWMutex
	sources        map[string]interfaces.EnrichmentSource
	order          []string
	defaultTimeout time.Duration
	log            logger.Logger
}

// NewPipeline creates an empty pipeline. defaultTimeout bounds sources
// that declare no timeout of their own.
func NewPipeline(defaultTimeout time.Duration) *Pipeline {
	return &Pipeline{
		sources:        make(map[string]interfaces.EnrichmentSource),
		defaultTimeout: defaultTimeout,
		log:            logger.NewLogger("enrichment-pipeline"),
	}
}

// Register adds (or replaces) a source by name.
func (p *Pipeline) Register(src interfaces.EnrichmentSource) error {
	if src == nil || src.Name() == "" {
		return fmt.Errorf("enrichment source must have a name")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.sources[src.Name()]; !exists {
		p.order = append(p.order, src.Name())
	}
	p.sources[src.Name()] = src
	return nil
}

// List returns a snapshot of the registered sources in registration order.
func (p *Pipeline) List() []interfaces.EnrichmentSource {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]interfaces.EnrichmentSource, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.sources[name])
	}
	return out
}

// Run enriches the alert through every enabled source in parallel. Each
// source races its own timeout; the pipeline returns when all sources have
// answered, failed, or timed out. Disabled sources are skipped entirely.
func (p *Pipeline) Run(ctx context.Context, alert models.Alert) *Result {
	start := time.Now()
	sources := p.List()

	result := &Result{
		Alert:           alert,
		EnrichedContext: make(map[string]map[string]interface{}),
	}

	type indexed struct {
		idx int
		res *SourceResult
	}
	ch := make(chan indexed)
	launched := 0

	for _, src := range sources {
		if !src.Enabled() {
			continue
		}
		idx := launched
		launched++
		go func(src interfaces.EnrichmentSource) {
			ch <- indexed{idx, p.runSource(ctx, src, alert)}
		}(src)
	}

	results := make([]*SourceResult, launched)
	for i := 0; i < launched; i++ {
		r := <-ch
		results[r.idx] = r.res
	}

	for _, sr := range results {
		result.Enrichments = append(result.Enrichments, sr)
		if sr.Success {
			result.SuccessCount++
			result.EnrichedContext[sr.SourceName] = sr.Data
		} else {
			result.FailureCount++
		}
	}

	result.TotalDurationMs = time.Since(start).Milliseconds()
	p.log.Debugf("enrichment complete: %d ok, %d failed in %dms",
		result.SuccessCount, result.FailureCount, result.TotalDurationMs)
	return result
}

// runSource executes one source with its individual timeout. A panicking
// source is captured as a failure like any other error.
func (p *Pipeline) runSource(ctx context.Context, src interfaces.EnrichmentSource, alert models.Alert) (sr *SourceResult) {
	start := time.Now()
	sr = &SourceResult{SourceName: src.Name()}

	timeout := src.Timeout()
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			sr.Success = false
			sr.Error = fmt.Sprintf("source panicked: %v", r)
			sr.DurationMs = time.Since(start).Milliseconds()
			p.log.Errorf("enrichment source %s panicked: %v", src.Name(), r)
		}
	}()

	type outcome struct {
		data map[string]interface{}
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.log.Errorf("enrichment source %s panicked: %v", src.Name(), r)
				done <- outcome{err: fmt.Errorf("source panicked: %v", r)}
			}
		}()
		data, err := src.Enrich(sctx, alert)
		done <- outcome{data, err}
	}()

	select {
	case o := <-done:
		sr.DurationMs = time.Since(start).Milliseconds()
		if o.err != nil {
			sr.Error = o.err.Error()
			return sr
		}
		sr.Success = true
		sr.Data = o.data
		return sr
	case <-sctx.Done():
		sr.DurationMs = time.Since(start).Milliseconds()
		sr.TimedOut = true
		sr.Error = fmt.Sprintf("source timed out after %s", timeout)
		return sr
	}
}
