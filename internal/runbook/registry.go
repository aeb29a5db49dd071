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
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sim-security/runbookpilot/internal/common/logger"
	"github.com/sim-security/runbookpilot/internal/core/models"
	"github.com/sim-security/runbookpilot/internal/trigger"
)

// Registry indexes loaded runbooks by id and routes alerts to them.
type Registry struct {
	mu        sync.RWMutex
	runbooks  map[string]*models.Runbook
	loader    *Loader
	evaluator *trigger.Evaluator
	watcher   *fsnotify.Watcher
	log       logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		runbooks:  make(map[string]*models.Runbook),
		loader:    NewLoader(),
		evaluator: trigger.NewEvaluator(),
		log:       logger.NewLogger("runbook-registry"),
	}
}

// Add registers (or replaces) a validated runbook.
func (r *Registry) Add(rb *models.Runbook) error {
	if err := r.loader.Validate(rb); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runbooks[rb.ID] = rb
	return nil
}

// Get returns a runbook by id.
func (r *Registry) Get(id string) (*models.Runbook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rb, ok := r.runbooks[id]
	return rb, ok
}

// List returns a snapshot of the registered runbooks, sorted by id.
func (r *Registry) List() []*models.Runbook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Runbook, 0, len(r.runbooks))
	for _, rb := range r.runbooks {
		out = append(out, rb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadDir loads every .yaml/.yml file in dir. Invalid files are logged and
// skipped so one broken runbook cannot block the rest.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := filepath.Glob(filepath.Join(dir, "*.y*ml"))
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, path := range entries {
		rb, err := r.loader.LoadFile(path)
		if err != nil {
			r.log.Errorf("skipping runbook: %v", err)
			continue
		}
		if err := r.Add(rb); err != nil {
			r.log.Errorf("skipping runbook %s: %v", path, err)
			continue
		}
		loaded++
	}
	r.log.Infof("loaded %d runbook(s) from %s", loaded, dir)
	return loaded, nil
}

// Route finds the first runbook whose trigger matches the alert. Runbooks
// are consulted in id order so routing is deterministic.
func (r *Registry) Route(alert models.Alert) (*models.Runbook, *trigger.Result, bool) {
	for _, rb := range r.List() {
		if res, ok := r.evaluator.Match(rb, alert); ok {
			return rb, res, true
		}
	}
	return nil, nil, false
}

// Watch hot-reloads the directory on file changes until stop is closed.
func (r *Registry) Watch(dir string, stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	r.watcher = watcher

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isRunbookFile(event.Name) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					rb, err := r.loader.LoadFile(event.Name)
					if err != nil {
						r.log.Errorf("hot reload rejected: %v", err)
						continue
					}
					if err := r.Add(rb); err != nil {
						r.log.Errorf("hot reload rejected %s: %v", event.Name, err)
						continue
					}
					r.log.Infof("reloaded runbook %s (%s)", rb.ID, event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.log.Errorf("runbook watcher error: %v", err)
			case <-stop:
				return
			}
		}
	}()
	return nil
}

func isRunbookFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
