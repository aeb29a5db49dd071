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

package enrich

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sim-security/runbookpilot/internal/core/models"
)

type fakeSource struct {
	name    string
	enabled bool
	timeout time.Duration
	delay   time.Duration
	data    map[string]interface{}
	err     error
}

func (f *fakeSource) Name() string           { return f.name }
func (f *fakeSource) Enabled() bool          { return f.enabled }
func (f *fakeSource) Timeout() time.Duration { return f.timeout }

func (f *fakeSource) Enrich(ctx context.Context, _ models.Alert) (map[string]interface{}, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.data, f.err
}

func TestPipelineCollectsAllSources(t *testing.T) {
	p := NewPipeline(time.Second)
	require.NoError(t, p.Register(&fakeSource{
		name: "geoip", enabled: true, timeout: time.Second,
		data: map[string]interface{}{"country": "NL"},
	}))
	require.NoError(t, p.Register(&fakeSource{
		name: "whois", enabled: true, timeout: time.Second,
		data: map[string]interface{}{"registrar": "example"},
	}))

	res := p.Run(context.Background(), models.Alert{})
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 0, res.FailureCount)
	assert.Len(t, res.Enrichments, 2)
	assert.Equal(t, "NL", res.EnrichedContext["geoip"]["country"])
	assert.Equal(t, "example", res.EnrichedContext["whois"]["registrar"])
}

func TestPipelineCapturesFailuresWithoutFailing(t *testing.T) {
	p := NewPipeline(time.Second)
	require.NoError(t, p.Register(&fakeSource{
		name: "ok", enabled: true, timeout: time.Second,
		data: map[string]interface{}{"x": 1},
	}))
	require.NoError(t, p.Register(&fakeSource{
		name: "broken", enabled: true, timeout: time.Second,
		err: fmt.Errorf("upstream 500"),
	}))

	res := p.Run(context.Background(), models.Alert{})
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 1, res.FailureCount)

	var broken *SourceResult
	for _, sr := range res.Enrichments {
		if sr.SourceName == "broken" {
			broken = sr
		}
	}
	require.NotNil(t, broken)
	assert.False(t, broken.Success)
	assert.Contains(t, broken.Error, "upstream 500")
	_, present := res.EnrichedContext["broken"]
	assert.False(t, present)
}

func TestPipelinePerSourceTimeout(t *testing.T) {
	p := NewPipeline(time.Second)
	require.NoError(t, p.Register(&fakeSource{
		name: "slow", enabled: true, timeout: 50 * time.Millisecond,
		delay: time.Second, data: map[string]interface{}{"never": true},
	}))
	require.NoError(t, p.Register(&fakeSource{
		name: "fast", enabled: true, timeout: time.Second,
		data: map[string]interface{}{"ok": true},
	}))

	start := time.Now()
	res := p.Run(context.Background(), models.Alert{})

	// The slow source's timeout must not stretch to its full delay.
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 1, res.FailureCount)

	for _, sr := range res.Enrichments {
		if sr.SourceName == "slow" {
			assert.True(t, sr.TimedOut)
		}
	}
}

func TestPipelineSkipsDisabledSources(t *testing.T) {
	p := NewPipeline(time.Second)
	require.NoError(t, p.Register(&fakeSource{name: "off", enabled: false}))

	res := p.Run(context.Background(), models.Alert{})
	assert.Empty(t, res.Enrichments)
	assert.Zero(t, res.SuccessCount)
}

func TestRegisterReplacesByName(t *testing.T) {
	p := NewPipeline(time.Second)
	require.NoError(t, p.Register(&fakeSource{
		name: "ti", enabled: true, timeout: time.Second,
		data: map[string]interface{}{"v": 1},
	}))
	require.NoError(t, p.Register(&fakeSource{
		name: "ti", enabled: true, timeout: time.Second,
		data: map[string]interface{}{"v": 2},
	}))

	require.Len(t, p.List(), 1)
	res := p.Run(context.Background(), models.Alert{})
	assert.Equal(t, 2, res.EnrichedContext["ti"]["v"])
}
