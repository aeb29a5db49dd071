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

// Package trigger decides whether an alert activates a runbook. A trigger
// combines array filters (detection source, MITRE technique, platform,
// severity) — each non-empty array is one AND-clause — with an optional
// expression tree over alert fields.
package trigger

import (
	"fmt"
	"strings"

	"github.com/sim-security/runbookpilot/internal/common/logger"
	"github.com/sim-security/runbookpilot/internal/core/models"
)

// Result reports one trigger evaluation.
type Result struct {
	Matched             bool   `json:"matched"`
	TriggerType         string `json:"trigger_type"`
	ConditionsEvaluated int    `json:"conditions_evaluated"`
	ConditionsPassed    int    `json:"conditions_passed"`
	Reason              string `json:"reason,omitempty"`
}

// Evaluator matches alerts against runbook triggers.
type Evaluator struct {
	log logger.Logger
}

// NewEvaluator creates a trigger evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{log: logger.NewLogger("trigger-evaluator")}
}

// Evaluate checks one trigger against one alert. Every clause that applies
// is counted; the reason concatenates the failures.
func (e *Evaluator) Evaluate(t *models.Trigger, alert models.Alert) *Result {
	res := &Result{TriggerType: "alert"}
	var reasons []string

	// A constrained trigger only ever matches alert-kind events.
	if !t.IsEmpty() {
		res.ConditionsEvaluated++
		if kind := alert.EventKind(); kind != "alert" {
			reasons = append(reasons, fmt.Sprintf("event.kind is %q, not \"alert\"", kind))
			res.Reason = strings.Join(reasons, "; ")
			return res
		}
		res.ConditionsPassed++
	}

	if len(t.DetectionSources) > 0 {
		res.ConditionsEvaluated++
		if matchAny(detectionSources(alert), t.DetectionSources, strEqual) {
			res.ConditionsPassed++
		} else {
			reasons = append(reasons, "detection source not in filter")
		}
	}

	if len(t.MitreTechniques) > 0 {
		res.ConditionsEvaluated++
		if matchAny(alert.MitreTechniques(), t.MitreTechniques, techniqueMatch) {
			res.ConditionsPassed++
		} else {
			reasons = append(reasons, "no MITRE technique matched")
		}
	}

	if len(t.Platforms) > 0 {
		res.ConditionsEvaluated++
		if matchAny(platforms(alert), t.Platforms, strEqual) {
			res.ConditionsPassed++
		} else {
			reasons = append(reasons, "platform not in filter")
		}
	}

	if len(t.Severity) > 0 {
		res.ConditionsEvaluated++
		if label, ok := severityLabel(alert); ok && containsString(t.Severity, label) {
			res.ConditionsPassed++
		} else {
			reasons = append(reasons, "severity not in filter")
		}
	}

	if len(t.Expression) > 0 {
		res.ConditionsEvaluated++
		expr, err := DecodeExpression(t.Expression)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("invalid expression: %v", err))
		} else if expr.Evaluate(alert) {
			res.ConditionsPassed++
		} else {
			reasons = append(reasons, "expression evaluated false")
		}
	}

	res.Matched = res.ConditionsEvaluated == res.ConditionsPassed
	if !res.Matched {
		res.Reason = strings.Join(reasons, "; ")
	}
	return res
}

// Match walks a runbook's triggers and returns the first matching result;
// a runbook with no triggers never self-activates.
func (e *Evaluator) Match(rb *models.Runbook, alert models.Alert) (*Result, bool) {
	for _, t := range rb.Triggers {
		res := e.Evaluate(t, alert)
		if res.Matched {
			e.log.Debugf("alert matched runbook %s", rb.ID)
			return res, true
		}
	}
	return nil, false
}

// techniqueMatch implements exact-or-parent matching: trigger "T1059"
// matches alert technique "T1059.001" via the "<parent>." prefix rule.
func techniqueMatch(alertTechnique, triggerTechnique string) bool {
	if alertTechnique == triggerTechnique {
		return true
	}
	return strings.HasPrefix(alertTechnique, triggerTechnique+".")
}

func strEqual(a, b string) bool { return strings.EqualFold(a, b) }

func matchAny(alertValues, triggerValues []string, match func(alertV, triggerV string) bool) bool {
	for _, av := range alertValues {
		for _, tv := range triggerValues {
			if match(av, tv) {
				return true
			}
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// detectionSources infers where the alert came from, in priority order:
// x-detectforge metadata, then tags, then event.dataset contents.
func detectionSources(alert models.Alert) []string {
	for _, path := range []string{"x-detectforge.detection_source", "x-detectforge.source"} {
		if v, ok := alert.Get(path); ok {
			if sources := toStrings(v); len(sources) > 0 {
				return sources
			}
		}
	}
	if tags := alert.Tags(); len(tags) > 0 {
		return tags
	}
	if v, ok := alert.Get("event.dataset"); ok {
		return toStrings(v)
	}
	return nil
}

func platforms(alert models.Alert) []string {
	for _, path := range []string{"host.os.platform", "host.platform", "host.os.type"} {
		if v, ok := alert.Get(path); ok {
			if p := toStrings(v); len(p) > 0 {
				return p
			}
		}
	}
	return nil
}

// severityLabel buckets the alert's numeric severity.
func severityLabel(alert models.Alert) (string, bool) {
	v, ok := alert.Get("event.severity")
	if !ok {
		return "", false
	}
	f, ok := toFloat(v)
	if !ok {
		// Some producers ship the label directly.
		if s, isStr := v.(string); isStr {
			return strings.ToLower(s), true
		}
		return "", false
	}
	return models.SeverityLabel(f), true
}

func toStrings(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []interface{}:
		var out []string
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	default:
		return 0, false
	}
}
