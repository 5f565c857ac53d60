package core

import (
	"fmt"
	"sort"
	"sync"
)

// registry is the process-scoped model registry. It is populated once at
// startup by model definition and read-only afterwards.
type registryStore struct {
	mu     sync.RWMutex
	models map[string]*Model
}

var registry = &registryStore{models: make(map[string]*Model)}

// RegisterModel adds a constructed model under its name. Registering the
// same name twice is a programming error and fails loudly.
func RegisterModel(m *Model) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, exists := registry.models[m.Name]; exists {
		return fmt.Errorf("model %q is already registered", m.Name)
	}
	registry.models[m.Name] = m
	return nil
}

// GetModel looks up a registered model by name.
func GetModel(name string) (*Model, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	m, ok := registry.models[name]
	return m, ok
}

// MustGetModel looks up a model that is required to exist.
func MustGetModel(name string) *Model {
	m, ok := GetModel(name)
	if !ok {
		panic(fmt.Sprintf("model %q is not registered", name))
	}
	return m
}

// ListModels returns all registered model names, sorted.
func ListModels() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	names := make([]string, 0, len(registry.models))
	for name := range registry.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TransientModels returns the registered models flagged transient.
func TransientModels() []*Model {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	var out []*Model
	for _, m := range registry.models {
		if m.Transient {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ModelTableName resolves a model name to its table name, falling back to
// the dotted-name convention when the model is not registered.
func ModelTableName(name string) string {
	return modelTable(name)
}

// modelTable resolves a model name to its table name, falling back to the
// dotted-name convention when the model is not (yet) registered.
func modelTable(name string) string {
	if m, ok := GetModel(name); ok {
		return m.Table
	}
	return defaultTableName(name)
}
