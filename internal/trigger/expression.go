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

package trigger

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/sim-security/runbookpilot/internal/core/models"
)

// Expression is a condition tree over alert fields. Exactly one of the
// combinators (And/Or/Not) or the leaf triple (Field/Op/Value) is set per
// node. Field paths use dot-notation with `name[index]` array indexing.
type Expression struct {
	And []Expression `mapstructure:"and"`
	Or  []Expression `mapstructure:"or"`
	Not *Expression  `mapstructure:"not"`

	Field string      `mapstructure:"field"`
	Op    string      `mapstructure:"op"`
	Value interface{} `mapstructure:"value"`
}

// DecodeExpression builds an expression tree from the raw runbook mapping.
func DecodeExpression(raw map[string]interface{}) (*Expression, error) {
	var expr Expression
	if err := mapstructure.Decode(raw, &expr); err != nil {
		return nil, fmt.Errorf("failed to decode trigger expression: %w", err)
	}
	return &expr, nil
}

// Evaluate applies the tree to an alert. Leaves with unknown operators and
// invalid regexes evaluate false; a missing field fails every operator
// except a negated exists.
func (e *Expression) Evaluate(alert models.Alert) bool {
	switch {
	case len(e.And) > 0:
		for _, sub := range e.And {
			if !sub.Evaluate(alert) {
				return false
			}
		}
		return true
	case len(e.Or) > 0:
		for _, sub := range e.Or {
			if sub.Evaluate(alert) {
				return true
			}
		}
		return false
	case e.Not != nil:
		return !e.Not.Evaluate(alert)
	default:
		return e.evaluateLeaf(alert)
	}
}

func (e *Expression) evaluateLeaf(alert models.Alert) bool {
	fieldValue, present := alert.Get(e.Field)

	switch e.Op {
	case "exists":
		// A value parameter of false inverts the check.
		if want, ok := e.Value.(bool); ok && !want {
			return !present
		}
		return present
	case "eq":
		return present && looseEqual(fieldValue, e.Value)
	case "ne":
		return present && !looseEqual(fieldValue, e.Value)
	case "gt", "lt", "gte", "lte":
		if !present {
			return false
		}
		a, okA := toFloat(fieldValue)
		b, okB := toFloat(e.Value)
		if !okA || !okB {
			return false
		}
		switch e.Op {
		case "gt":
			return a > b
		case "lt":
			return a < b
		case "gte":
			return a >= b
		default:
			return a <= b
		}
	case "in":
		if !present {
			return false
		}
		items, ok := e.Value.([]interface{})
		if !ok {
			return false
		}
		for _, item := range items {
			if looseEqual(fieldValue, item) {
				return true
			}
		}
		return false
	case "contains":
		if !present {
			return false
		}
		switch fv := fieldValue.(type) {
		case string:
			want, ok := e.Value.(string)
			return ok && strings.Contains(fv, want)
		case []interface{}:
			for _, item := range fv {
				if looseEqual(item, e.Value) {
					return true
				}
			}
			return false
		case []string:
			want, ok := e.Value.(string)
			if !ok {
				return false
			}
			for _, item := range fv {
				if item == want {
					return true
				}
			}
			return false
		default:
			return false
		}
	case "matches":
		if !present {
			return false
		}
		pattern, ok := e.Value.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		s, ok := fieldValue.(string)
		return ok && re.MatchString(s)
	default:
		return false
	}
}

// looseEqual compares across the numeric types YAML and JSON decoding
// produce, and falls back to exact interface equality.
func looseEqual(a, b interface{}) bool {
	if fa, okA := toFloat(a); okA {
		if fb, okB := toFloat(b); okB {
			return fa == fb
		}
	}
	return a == b
}
