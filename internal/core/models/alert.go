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

package models

import (
	"strconv"
	"strings"
)

// Alert is an ECS-shaped security event. The engine treats its nested
// fields as opaque and reaches into them only through Get, the shared
// field-path accessor used by templating and trigger evaluation.
type Alert map[string]interface{}

// Get resolves a dot-notation field path against the alert, supporting
// `name[index]` array indexing on any segment. Flat keys containing dots
// (ECS producers emit both shapes) are checked before descending, so
// "event.kind" resolves whether the alert stores {"event":{"kind":…}} or
// {"event.kind":…}.
func (a Alert) Get(path string) (interface{}, bool) {
	return lookupPath(map[string]interface{}(a), path)
}

// GetString resolves a path and returns its string form; non-strings and
// missing fields return "".
func (a Alert) GetString(path string) string {
	v, ok := a.Get(path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// EventKind returns event.kind, the ECS discriminator trigger evaluation
// keys on.
func (a Alert) EventKind() string {
	return a.GetString("event.kind")
}

// Timestamp returns the raw @timestamp value.
func (a Alert) Timestamp() (interface{}, bool) {
	return a.Get("@timestamp")
}

// Tags returns the alert's tags as strings, tolerating []interface{} input.
func (a Alert) Tags() []string {
	v, ok := a.Get("tags")
	if !ok {
		return nil
	}
	return toStringSlice(v)
}

// MitreTechniques collects threat.technique.id values, accepting a single
// string, a string slice, or the ECS threat array shape.
func (a Alert) MitreTechniques() []string {
	if v, ok := a.Get("threat.technique.id"); ok {
		return toStringSlice(v)
	}
	// ECS also permits threat as an array of technique objects.
	v, ok := a.Get("threat")
	if !ok {
		return nil
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if id, ok := lookupPath(m, "technique.id"); ok {
			out = append(out, toStringSlice(id)...)
		}
	}
	return out
}

// lookupPath walks a nested mapping by dot-separated segments with optional
// `[index]` suffixes. It returns false the moment any segment is undefined.
func lookupPath(root map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	var current interface{} = root
	segments := strings.Split(path, ".")
	for i, seg := range segments {
		m, ok := current.(map[string]interface{})
		if !ok {
			if a, isAlert := current.(Alert); isAlert {
				m = map[string]interface{}(a)
			} else {
				return nil, false
			}
		}

		// Producers that emit flat dotted keys win over nesting.
		remainder := strings.Join(segments[i:], ".")
		if v, exists := m[remainder]; exists {
			return v, v != nil
		}

		name, index, indexed := splitIndex(seg)
		v, exists := m[name]
		if !exists {
			return nil, false
		}
		if indexed {
			arr, ok := v.([]interface{})
			if !ok || index < 0 || index >= len(arr) {
				return nil, false
			}
			v = arr[index]
		}
		current = v
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// splitIndex parses a trailing "[n]" off a path segment.
func splitIndex(seg string) (name string, index int, ok bool) {
	open := strings.IndexByte(seg, '[')
	if open < 0 || !strings.HasSuffix(seg, "]") {
		return seg, 0, false
	}
	n, err := strconv.Atoi(seg[open+1 : len(seg)-1])
	if err != nil {
		return seg, 0, false
	}
	return seg[:open], n, true
}

func toStringSlice(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
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

// SeverityLabel buckets an ECS numeric severity into its label. The
// boundaries follow the common SIEM convention: 0-24 low, 25-49 medium,
// 50-74 high, 75-100 critical.
func SeverityLabel(severity float64) string {
	switch {
	case severity >= 75:
		return "critical"
	case severity >= 50:
		return "high"
	case severity >= 25:
		return "medium"
	default:
		return "low"
	}
}
