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

// Package runbook loads, validates, and indexes runbook definitions. A
// runbook that loads is executable: structural validation, semver version
// check, unique step ids, a DAG dependency graph, and decodable trigger
// expressions are all enforced here, not at execution time.
package runbook

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sim-security/runbookpilot/internal/core/models"
	"github.com/sim-security/runbookpilot/internal/core/scheduler"
	"github.com/sim-security/runbookpilot/internal/trigger"
)

// Loader parses and validates runbook files.
type Loader struct {
	validate *validator.Validate
}

// NewLoader creates a loader with the struct validator ready.
func NewLoader() *Loader {
	return &Loader{validate: validator.New()}
}

// LoadFile reads and validates one runbook YAML file.
func (l *Loader) LoadFile(path string) (*models.Runbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read runbook %s: %w", path, err)
	}
	rb, err := l.Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rb, nil
}

// Load parses and validates runbook YAML.
func (l *Loader) Load(data []byte) (*models.Runbook, error) {
	var rb models.Runbook
	if err := yaml.Unmarshal(data, &rb); err != nil {
		return nil, fmt.Errorf("invalid runbook YAML: %w", err)
	}
	if err := l.Validate(&rb); err != nil {
		return nil, err
	}
	return &rb, nil
}

// Validate enforces everything the engine assumes about a loaded runbook.
func (l *Loader) Validate(rb *models.Runbook) error {
	if err := l.validate.Struct(rb); err != nil {
		return fmt.Errorf("runbook failed validation: %w", err)
	}

	if _, err := semver.NewVersion(rb.Version); err != nil {
		return fmt.Errorf("runbook version %q is not semver: %w", rb.Version, err)
	}

	seen := make(map[string]struct{}, len(rb.Steps))
	for _, step := range rb.Steps {
		if _, dup := seen[step.ID]; dup {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}
		seen[step.ID] = struct{}{}
	}

	// Order fails on unknown dependencies and cycles.
	if _, err := scheduler.Order(rb); err != nil {
		return fmt.Errorf("invalid step graph: %w", err)
	}

	for i, t := range rb.Triggers {
		if len(t.Expression) == 0 {
			continue
		}
		if _, err := trigger.DecodeExpression(t.Expression); err != nil {
			return fmt.Errorf("trigger %d: %w", i, err)
		}
	}
	return nil
}
