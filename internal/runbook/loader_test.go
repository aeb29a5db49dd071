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

package runbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sim-security/runbookpilot/internal/core/models"
)

const validYAML = `
id: rb-phishing-01
name: Phishing containment
version: 1.2.0
metadata:
  author: soc-team
triggers:
  - detection_sources: [sigma]
    mitre_techniques: [T1566]
    severity: [high, critical]
    expression:
      field: event.severity
      op: gte
      value: 50
config:
  automation_level: L1
  max_execution_time: 600
  rollback_on_failure: true
steps:
  - id: lookup
    name: Look up sender reputation
    action: check_reputation
    executor: ti
    parameters:
      domain: "{{ alert.source.domain }}"
    timeout: 30
  - id: block
    name: Block sender domain
    action: block_domain
    executor: firewall
    depends_on: [lookup]
    condition: "{{ steps.lookup.output.malicious }}"
    on_error: halt
    timeout: 60
    rollback:
      action: unblock_domain
      parameters:
        domain: "{{ alert.source.domain }}"
      timeout: 60
`

func TestLoadValidRunbook(t *testing.T) {
	rb, err := NewLoader().Load([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "rb-phishing-01", rb.ID)
	assert.Equal(t, "1.2.0", rb.Version)
	assert.Equal(t, "L1", rb.Config.AutomationLevel)
	assert.True(t, rb.Config.ShouldRollback())
	require.Len(t, rb.Steps, 2)
	assert.Equal(t, []string{"lookup"}, rb.Steps[1].DependsOn)
	require.NotNil(t, rb.Steps[1].Rollback)
	assert.Equal(t, "unblock_domain", rb.Steps[1].Rollback.Action)

	require.Len(t, rb.Triggers, 1)
	assert.Equal(t, []string{"T1566"}, rb.Triggers[0].MitreTechniques)
	assert.Equal(t, "gte", rb.Triggers[0].Expression["op"])
}

func TestLoadRejectsBadVersion(t *testing.T) {
	bad := []byte(`
id: rb-1
name: bad version
version: not-a-version
config: {automation_level: L0}
steps:
  - {id: s1, name: n, action: query_siem, executor: siem}
`)
	_, err := NewLoader().Load(bad)
	assert.ErrorContains(t, err, "semver")
}

func TestLoadRejectsBadLevel(t *testing.T) {
	bad := []byte(`
id: rb-1
name: bad level
version: 1.0.0
config: {automation_level: L9}
steps:
  - {id: s1, name: n, action: query_siem, executor: siem}
`)
	_, err := NewLoader().Load(bad)
	assert.Error(t, err)
}

func TestValidateRejectsDuplicateStepIDs(t *testing.T) {
	rb := &models.Runbook{
		ID: "rb-1", Name: "dup", Version: "1.0.0",
		Config: models.RunbookSettings{AutomationLevel: "L0"},
		Steps: []*models.RunbookStep{
			{ID: "s1", Name: "a", Action: "query_siem", Executor: "x"},
			{ID: "s1", Name: "b", Action: "query_siem", Executor: "x"},
		},
	}
	assert.ErrorContains(t, NewLoader().Validate(rb), "duplicate step id")
}

func TestValidateRejectsCycles(t *testing.T) {
	rb := &models.Runbook{
		ID: "rb-1", Name: "cyclic", Version: "1.0.0",
		Config: models.RunbookSettings{AutomationLevel: "L0"},
		Steps: []*models.RunbookStep{
			{ID: "s1", Name: "a", Action: "query_siem", Executor: "x", DependsOn: []string{"s2"}},
			{ID: "s2", Name: "b", Action: "query_siem", Executor: "x", DependsOn: []string{"s1"}},
		},
	}
	assert.ErrorContains(t, NewLoader().Validate(rb), "invalid step graph")
}

func TestRegistryRouting(t *testing.T) {
	reg := NewRegistry()
	rb, err := NewLoader().Load([]byte(validYAML))
	require.NoError(t, err)
	require.NoError(t, reg.Add(rb))

	alert := models.Alert{
		"event": map[string]interface{}{"kind": "alert", "severity": float64(80)},
		"tags":  []interface{}{"sigma"},
		"threat": map[string]interface{}{
			"technique": map[string]interface{}{"id": "T1566.001"},
		},
	}
	matched, res, ok := reg.Route(alert)
	require.True(t, ok)
	assert.Equal(t, "rb-phishing-01", matched.ID)
	assert.True(t, res.Matched)

	// A metric event never routes.
	alert["event"].(map[string]interface{})["kind"] = "metric"
	_, _, ok = reg.Route(alert)
	assert.False(t, ok)
}
