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
	"strings"

	"github.com/Knetic/govaluate"
)

// EvaluateCondition decides a step's condition guard. The condition string
// is template-resolved first, then evaluated:
//
//   - empty after resolution → false
//   - literal "true"/"false" → that value
//   - a numeric comparison ("85 > 50") → evaluated numerically
//   - any other non-empty string → truthy
//
// Evaluation errors fail open: a guard that cannot be evaluated passes,
// so a malformed condition degrades to "run the step" rather than silently
// suppressing response actions.
func EvaluateCondition(condition string, ctx *Context) bool {
	resolved, _ := ResolveString(condition, ctx)

	expr := stringify(resolved)
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false
	}
	switch expr {
	case "true":
		return true
	case "false":
		return false
	}

	evaluable, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return true
	}
	result, err := evaluable.Evaluate(nil)
	if err != nil {
		return true
	}
	if b, ok := result.(bool); ok {
		return b
	}
	// Non-boolean results (bare numbers, strings) count as truthy.
	return true
}
