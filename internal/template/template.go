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

// Package template resolves {{ path | default: value }} expressions inside
// step parameters against the layered execution context. Resolution is
// recursive over mappings and sequences; strings that consist of a single
// expression keep the resolved value's native type, mixed strings
// stringify their substitutions.
package template

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/sim-security/runbookpilot/internal/core/models"
)

// Context is the layered variable space templates resolve against.
// Lookup routes on the path prefix: alert., steps.<id>.output., context.,
// env.; a bare path tries alert. then context., in that order.
type Context struct {
	// Alert is the (enriched) alert for the run.
	Alert models.Alert

	// Steps maps step id → that step's published fields; the scheduler
	// pushes {"output": …} after each successful step.
	Steps map[string]map[string]interface{}

	// Vars are the execution-scoped variables (execution_id, mode,
	// operator-supplied values) exposed under context.*.
	Vars map[string]interface{}

	// Env overrides process environment lookups in tests; nil falls back
	// to os.LookupEnv.
	Env map[string]string
}

// NewContext builds a context with initialised step and variable maps.
func NewContext(alert models.Alert, vars map[string]interface{}) *Context {
	if vars == nil {
		vars = make(map[string]interface{})
	}
	return &Context{
		Alert: alert,
		Steps: make(map[string]map[string]interface{}),
		Vars:  vars,
	}
}

// PublishStepOutput makes a step's output visible to downstream templates
// under steps.<id>.output.
func (c *Context) PublishStepOutput(stepID string, output map[string]interface{}) {
	if c.Steps == nil {
		c.Steps = make(map[string]map[string]interface{})
	}
	c.Steps[stepID] = map[string]interface{}{"output": output}
}

var exprPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Resolve substitutes template expressions throughout value, recursing into
// mappings and sequences. It returns the resolved value and the list of
// paths that could not be resolved (and had no default).
func Resolve(value interface{}, ctx *Context) (interface{}, []string) {
	switch v := value.(type) {
	case string:
		return resolveString(v, ctx)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		var unresolved []string
		for k, item := range v {
			rv, missing := Resolve(item, ctx)
			out[k] = rv
			unresolved = append(unresolved, missing...)
		}
		return out, unresolved
	case []interface{}:
		out := make([]interface{}, len(v))
		var unresolved []string
		for i, item := range v {
			rv, missing := Resolve(item, ctx)
			out[i] = rv
			unresolved = append(unresolved, missing...)
		}
		return out, unresolved
	default:
		return value, nil
	}
}

// ResolveParams resolves a parameter mapping, preserving nil maps.
func ResolveParams(params map[string]interface{}, ctx *Context) (map[string]interface{}, []string) {
	if params == nil {
		return nil, nil
	}
	resolved, unresolved := Resolve(params, ctx)
	return resolved.(map[string]interface{}), unresolved
}

// ResolveString substitutes expressions in a single string; exported for
// condition-guard resolution.
func ResolveString(s string, ctx *Context) (interface{}, []string) {
	return resolveString(s, ctx)
}

func resolveString(s string, ctx *Context) (interface{}, []string) {
	matches := exprPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// A string that is exactly one expression keeps the native type.
	if len(matches) == 1 && strings.TrimSpace(s) == s[matches[0][0]:matches[0][1]] {
		inner := s[matches[0][2]:matches[0][3]]
		v, ok, missing := evalExpression(inner, ctx)
		if !ok {
			return nil, missing
		}
		return v, missing
	}

	var b strings.Builder
	var unresolved []string
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		v, ok, missing := evalExpression(s[m[2]:m[3]], ctx)
		unresolved = append(unresolved, missing...)
		if ok {
			b.WriteString(stringify(v))
		}
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), unresolved
}

// evalExpression resolves one expression body: a path with an optional
// `| default: literal` fallback. The bool result reports whether a value
// was produced at all.
func evalExpression(inner string, ctx *Context) (interface{}, bool, []string) {
	path := inner
	var def string
	hasDefault := false
	if idx := strings.Index(inner, "|"); idx >= 0 {
		path = strings.TrimSpace(inner[:idx])
		rest := strings.TrimSpace(inner[idx+1:])
		if strings.HasPrefix(rest, "default:") {
			def = strings.TrimSpace(strings.TrimPrefix(rest, "default:"))
			hasDefault = true
		}
	}

	if v, ok := lookup(path, ctx); ok {
		return v, true, nil
	}
	if hasDefault {
		return parseLiteral(def), true, nil
	}
	return nil, false, []string{path}
}

// lookup routes a path to its layer by prefix.
func lookup(path string, ctx *Context) (interface{}, bool) {
	switch {
	case strings.HasPrefix(path, "alert."):
		if ctx.Alert == nil {
			return nil, false
		}
		return ctx.Alert.Get(strings.TrimPrefix(path, "alert."))
	case strings.HasPrefix(path, "steps."):
		return lookupSteps(strings.TrimPrefix(path, "steps."), ctx)
	case strings.HasPrefix(path, "context."):
		return lookupMap(ctx.Vars, strings.TrimPrefix(path, "context."))
	case strings.HasPrefix(path, "env."):
		return lookupEnv(strings.TrimPrefix(path, "env."), ctx)
	default:
		if ctx.Alert != nil {
			if v, ok := ctx.Alert.Get(path); ok {
				return v, true
			}
		}
		return lookupMap(ctx.Vars, path)
	}
}

func lookupSteps(rest string, ctx *Context) (interface{}, bool) {
	if ctx.Steps == nil {
		return nil, false
	}
	segs := strings.SplitN(rest, ".", 2)
	fields, ok := ctx.Steps[segs[0]]
	if !ok {
		return nil, false
	}
	if len(segs) == 1 {
		return fields, true
	}
	return lookupMap(fields, segs[1])
}

func lookupMap(m map[string]interface{}, path string) (interface{}, bool) {
	if m == nil {
		return nil, false
	}
	return models.Alert(m).Get(path)
}

func lookupEnv(name string, ctx *Context) (interface{}, bool) {
	if ctx.Env != nil {
		v, ok := ctx.Env[name]
		return v, ok
	}
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil, false
	}
	return v, true
}

// parseLiteral interprets a default literal: quoted strings stay strings,
// true/false/null map to their values, finite numbers parse numerically,
// anything else passes through raw.
func parseLiteral(s string) interface{} {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
