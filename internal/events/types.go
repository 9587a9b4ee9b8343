// Package events provides event types and utilities for the platform event system.
package events

// Event types for module lifecycle
const (
	ModuleRegistered   = "module.registered"
	ModuleInitialized  = "module.initialized"
	ModuleStarted      = "module.started"
	ModuleStopped      = "module.stopped"
	ModuleFailed       = "module.failed"
	ModuleEnabled      = "module.enabled"
	ModuleDisabled     = "module.disabled"
)

// Event types for agent sessions
const (
	SessionCreated    = "session.created"
	SessionBusy       = "session.busy"
	SessionReady      = "session.ready"
	SessionFailed     = "session.failed"
	SessionTerminated = "session.terminated"
	SessionOutput     = "session.output"
)

// Event types for tasks
const (
	TaskCreated      = "task.created"
	TaskUpdated      = "task.updated"
	TaskStateChanged = "task.state_changed"
	TaskCompleted    = "task.completed"
	TaskFailed       = "task.failed"
)
