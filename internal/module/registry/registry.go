// Package registry provides in-memory bookkeeping of live module instances.
// It holds no lifecycle logic; all mutation goes through the documented
// methods.
package registry

import (
	"fmt"
	"sync"

	"github.com/systempromptio/systemprompt-os/internal/common/errors"
	"github.com/systempromptio/systemprompt-os/internal/module"
)

// Registry is an in-memory map of module name to module instance.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]module.Module
}

// NewRegistry creates an empty module registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]module.Module),
	}
}

// Register stores a module by name. Registering a name that is already
// present fails with ErrDuplicateModule.
func (r *Registry) Register(m module.Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := m.Name()
	if _, exists := r.modules[name]; exists {
		return fmt.Errorf("%w: %s", errors.ErrDuplicateModule, name)
	}
	r.modules[name] = m
	return nil
}

// Get returns the module registered under name, or nil if absent.
func (r *Registry) Get(name string) module.Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modules[name]
}

// Has reports whether a module is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.modules[name]
	return ok
}

// GetAll returns a snapshot copy of the registered modules.
func (r *Registry) GetAll() map[string]module.Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string]module.Module, len(r.modules))
	for name, m := range r.modules {
		snapshot[name] = m
	}
	return snapshot
}

// Unregister removes a module from the registry. Removing an absent name is
// a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.modules, name)
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}
