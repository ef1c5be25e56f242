/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
)

var defaultRegistry = NewModelRegistry()

// SQLModel is an entity whose table the migrations create. Instance returns a
// pointer to a bun model; lower Priority tables are created first.
type SQLModel interface {
	Instance() interface{}
	Priority() int
	Name() string
}

// ModelRegistry keeps entity models in creation order.
type ModelRegistry struct {
	mu     sync.RWMutex
	models map[string]SQLModel
}

func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{models: make(map[string]SQLModel)}
}

// Register adds model. Registering a second model under an existing name
// replaces the first.
func (r *ModelRegistry) Register(model SQLModel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[model.Name()] = model
}

// Models returns the registered models ordered by priority, then by name.
func (r *ModelRegistry) Models() []SQLModel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]SQLModel, 0, len(r.models))
	for _, m := range r.models {
		result = append(result, m)
	}
	slices.SortFunc(result, func(a, b SQLModel) int {
		if a.Priority() != b.Priority() {
			return a.Priority() - b.Priority()
		}
		return strings.Compare(a.Name(), b.Name())
	})
	return result
}

// Instances returns the bun model pointers in creation order.
func (r *ModelRegistry) Instances() []interface{} {
	models := r.Models()
	out := make([]interface{}, len(models))
	for i, m := range models {
		out[i] = m.Instance()
	}
	return out
}

type modelAdapter struct {
	instance interface{}
	priority int
	name     string
}

// NewModelAdapter wraps a bun model pointer. The name is the Go type name
// and only serves to deduplicate registrations.
func NewModelAdapter(instance interface{}, priority int) SQLModel {
	t := reflect.TypeOf(instance)
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("database: model must be a pointer to a struct, got %T", instance))
	}
	return &modelAdapter{instance: instance, priority: priority, name: t.Elem().String()}
}

func (a *modelAdapter) Instance() interface{} { return a.instance }
func (a *modelAdapter) Priority() int         { return a.priority }
func (a *modelAdapter) Name() string          { return a.name }

// RegisterModel adds an entity model to the process-wide registry used by
// RunMigrations.
func RegisterModel(instance interface{}, priority int) {
	defaultRegistry.Register(NewModelAdapter(instance, priority))
}

// RegisteredModels returns the process-wide registry contents.
func RegisteredModels() []SQLModel {
	return defaultRegistry.Models()
}
