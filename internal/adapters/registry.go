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

// Package adapters manages the process-wide executor registry. Adapters
// register by name; registration replaces. Reads are concurrent, writes
// exclusive, and listings are snapshots.
package adapters

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sim-security/runbookpilot/internal/common/logger"
	"github.com/sim-security/runbookpilot/internal/core/interfaces"
)

// Registry is the name → adapter map the scheduler resolves against.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]interfaces.Adapter
	log      logger.Logger
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]interfaces.Adapter),
		log:      logger.NewLogger("adapter-registry"),
	}
}

// Register adds (or replaces) an adapter under its own name.
func (r *Registry) Register(a interfaces.Adapter) error {
	if a == nil {
		return fmt.Errorf("adapter cannot be nil")
	}
	if a.Name() == "" {
		return fmt.Errorf("adapter name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[a.Name()]; exists {
		r.log.Warnf("replacing adapter %q", a.Name())
	}
	r.adapters[a.Name()] = a
	return nil
}

// Unregister removes an adapter by name.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[name]; !exists {
		return fmt.Errorf("adapter %q not registered", name)
	}
	delete(r.adapters, name)
	return nil
}

// Resolve implements interfaces.AdapterResolver.
func (r *Registry) Resolve(name string) (interfaces.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns a sorted snapshot of the registered adapter names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
