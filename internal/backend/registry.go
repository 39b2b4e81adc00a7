package backend

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry holds registered engines by name.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

// NewRegistry creates an empty engine registry.
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]Engine),
	}
}

// Register adds an engine to the registry under the given name.
func (r *Registry) Register(name string, e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[name] = e
}

// Resolve returns the engine registered under name.
func (r *Registry) Resolve(name string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("engine %q is not registered", name)
	}
	return e, nil
}

// List returns information about all registered engines, sorted by name
// for a stable API response.
func (r *Registry) List() []EngineInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]EngineInfo, 0, len(r.engines))
	for name, e := range r.engines {
		info := e.Info()
		info.Name = name
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Close closes every registered engine and joins their errors.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, e := range r.engines {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
