// Package module defines the module contract for the systemprompt-os
// platform: a named, versioned unit of functionality with a managed
// initialize/start/stop lifecycle and a typed exports surface.
package module

import (
	"context"

	"github.com/systempromptio/systemprompt-os/internal/common/logger"
	"github.com/systempromptio/systemprompt-os/internal/events/bus"
)

// Type classifies a module as part of the base platform or an optional add-on.
type Type string

const (
	// TypeCore marks a module that is part of the base platform and is
	// tracked with stricter validation.
	TypeCore Type = "CORE"
	// TypeExtension marks an optional module.
	TypeExtension Type = "EXTENSION"
)

// Status is the lifecycle state of a module.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusInitializing Status = "INITIALIZING"
	StatusRunning      Status = "RUNNING"
	StatusStopping     Status = "STOPPING"
	StatusStopped      Status = "STOPPED"
	StatusError        Status = "ERROR"
)

// validTransitions encodes the lifecycle state machine:
// PENDING -> INITIALIZING -> {RUNNING | ERROR}
// RUNNING -> STOPPING -> STOPPED, and any state -> ERROR.
var validTransitions = map[Status][]Status{
	StatusPending:      {StatusInitializing, StatusError},
	StatusInitializing: {StatusRunning, StatusError},
	StatusRunning:      {StatusStopping, StatusError},
	StatusStopping:     {StatusStopped, StatusError},
	StatusStopped:      {StatusError},
	StatusError:        {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Context carries the platform services handed to a module during Initialize.
type Context struct {
	Logger   *logger.Logger
	EventBus bus.EventBus

	// Exports of already-initialized modules, keyed by module name.
	// Dependency-ordered loading guarantees a module's dependencies are
	// present here by the time its Initialize runs.
	Exports map[string]interface{}
}

// HealthStatus is the result of a module health check.
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// Module is a named, versioned unit of functionality with lifecycle methods.
// Implementations must be safe for their methods to be called from the
// loader's single orchestration goroutine; they are never called concurrently.
type Module interface {
	// Name returns the unique module name.
	Name() string

	// Version returns the module's semver string.
	Version() string

	// ModuleType returns whether this is a core or extension module.
	ModuleType() Type

	// Dependencies lists the names of modules that must be running before
	// this module is initialized.
	Dependencies() []string

	// Status returns the current lifecycle status.
	Status() Status

	// Initialize prepares the module. Called exactly once, after all
	// dependencies are running.
	Initialize(ctx context.Context, mctx *Context) error

	// Start activates the module. Called after Initialize when autoStart is
	// enabled for the bootstrap or on demand.
	Start(ctx context.Context) error

	// Stop deactivates the module. Called in reverse dependency order.
	Stop(ctx context.Context) error

	// HealthCheck reports module health. Must not panic or block.
	HealthCheck(ctx context.Context) HealthStatus

	// Exports returns the module's typed exports surface, or nil.
	Exports() interface{}
}
