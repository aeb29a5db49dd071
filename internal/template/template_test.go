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

package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sim-security/runbookpilot/internal/core/models"
)

func testContext() *Context {
	ctx := NewContext(models.Alert{
		"event": map[string]interface{}{"kind": "alert", "severity": float64(80)},
		"host":  map[string]interface{}{"hostname": "web-01"},
		"tags":  []interface{}{"sigma", "edr"},
	}, map[string]interface{}{"ticket": "IR-1042"})
	ctx.Env = map[string]string{"REGION": "eu-west-1"}
	return ctx
}

func TestResolveSingleExpressionKeepsNativeType(t *testing.T) {
	ctx := testContext()

	v, unresolved := Resolve("{{ alert.event.severity }}", ctx)
	require.Empty(t, unresolved)
	assert.Equal(t, float64(80), v)

	v, unresolved = Resolve("{{ alert.tags }}", ctx)
	require.Empty(t, unresolved)
	assert.Equal(t, []interface{}{"sigma", "edr"}, v)
}

func TestResolveMixedStringStringifies(t *testing.T) {
	ctx := testContext()
	v, unresolved := Resolve("host={{ alert.host.hostname }} sev={{ alert.event.severity }}", ctx)
	require.Empty(t, unresolved)
	assert.Equal(t, "host=web-01 sev=80", v)
}

func TestResolvePrefixRouting(t *testing.T) {
	ctx := testContext()
	ctx.PublishStepOutput("step-01", map[string]interface{}{"risk_score": 85})

	cases := map[string]interface{}{
		"{{ steps.step-01.output.risk_score }}": 85,
		"{{ context.ticket }}":                  "IR-1042",
		"{{ env.REGION }}":                      "eu-west-1",
		// No prefix: alert first, then context.
		"{{ host.hostname }}": "web-01",
		"{{ ticket }}":        "IR-1042",
	}
	for tmpl, want := range cases {
		v, unresolved := Resolve(tmpl, ctx)
		require.Emptyf(t, unresolved, "template %s", tmpl)
		assert.Equalf(t, want, v, "template %s", tmpl)
	}
}

func TestResolveDefaults(t *testing.T) {
	ctx := testContext()

	v, unresolved := Resolve(`{{ alert.missing | default: "fallback" }}`, ctx)
	require.Empty(t, unresolved)
	assert.Equal(t, "fallback", v)

	v, _ = Resolve("{{ alert.missing | default: 42 }}", ctx)
	assert.Equal(t, float64(42), v)

	v, _ = Resolve("{{ alert.missing | default: true }}", ctx)
	assert.Equal(t, true, v)

	v, _ = Resolve("{{ alert.missing | default: null }}", ctx)
	assert.Nil(t, v)
}

func TestResolveUnresolvedPathsReported(t *testing.T) {
	ctx := testContext()
	v, unresolved := Resolve("{{ alert.process.name }}", ctx)
	assert.Nil(t, v)
	assert.Equal(t, []string{"alert.process.name"}, unresolved)
}

func TestResolveRecursesIntoMapsAndSlices(t *testing.T) {
	ctx := testContext()
	params := map[string]interface{}{
		"hostname": "{{ alert.host.hostname }}",
		"targets":  []interface{}{"{{ alert.host.hostname }}", "static"},
		"nested":   map[string]interface{}{"ticket": "{{ context.ticket }}"},
		"count":    3,
	}

	resolved, unresolved := ResolveParams(params, ctx)
	require.Empty(t, unresolved)
	assert.Equal(t, "web-01", resolved["hostname"])
	assert.Equal(t, []interface{}{"web-01", "static"}, resolved["targets"])
	assert.Equal(t, "IR-1042", resolved["nested"].(map[string]interface{})["ticket"])
	assert.Equal(t, 3, resolved["count"])
}

func TestResolveArrayIndexing(t *testing.T) {
	ctx := testContext()
	v, unresolved := Resolve("{{ alert.tags[0] }}", ctx)
	require.Empty(t, unresolved)
	assert.Equal(t, "sigma", v)
}

func TestEvaluateConditionNumericComparison(t *testing.T) {
	ctx := testContext()
	ctx.PublishStepOutput("step-01", map[string]interface{}{"risk_score": 85})

	assert.True(t, EvaluateCondition("{{ steps.step-01.output.risk_score }} > 50", ctx))
	assert.False(t, EvaluateCondition("{{ steps.step-01.output.risk_score }} < 50", ctx))
	assert.True(t, EvaluateCondition("{{ steps.step-01.output.risk_score }} == 85", ctx))
	assert.True(t, EvaluateCondition("{{ steps.step-01.output.risk_score }} != 84", ctx))
}

func TestEvaluateConditionLiteralsAndTruthiness(t *testing.T) {
	ctx := testContext()

	assert.True(t, EvaluateCondition("true", ctx))
	assert.False(t, EvaluateCondition("false", ctx))
	// Any other non-empty string is truthy, including unparsable ones.
	assert.True(t, EvaluateCondition("contains malware", ctx))
	// Empty after resolution is falsy.
	assert.False(t, EvaluateCondition("", ctx))
	assert.False(t, EvaluateCondition("{{ alert.missing }}", ctx))
}
