package module

import (
	"fmt"
	"sync"
)

// Base provides the bookkeeping shared by module implementations: identity,
// dependency list, and a status field guarded by the lifecycle state machine.
// Embed it and implement the lifecycle methods.
type Base struct {
	name         string
	version      string
	moduleType   Type
	dependencies []string

	mu     sync.RWMutex
	status Status
}

// NewBase creates module bookkeeping in the PENDING state.
func NewBase(name, version string, moduleType Type, dependencies []string) Base {
	return Base{
		name:         name,
		version:      version,
		moduleType:   moduleType,
		dependencies: dependencies,
		status:       StatusPending,
	}
}

// Name returns the module name.
func (b *Base) Name() string { return b.name }

// Version returns the module version.
func (b *Base) Version() string { return b.version }

// ModuleType returns the module type.
func (b *Base) ModuleType() Type { return b.moduleType }

// Dependencies returns the declared dependency names.
func (b *Base) Dependencies() []string { return b.dependencies }

// Status returns the current lifecycle status.
func (b *Base) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// SetStatus transitions to the given status, enforcing the lifecycle state
// machine. Transitioning to ERROR is always allowed.
func (b *Base) SetStatus(to Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if to == StatusError {
		b.status = to
		return nil
	}
	if !CanTransition(b.status, to) {
		return fmt.Errorf("invalid status transition for module %s: %s -> %s", b.name, b.status, to)
	}
	b.status = to
	return nil
}
