// Package models defines the task data model consumed by the orchestration
// layer.
package models

import "time"

// Status represents the lifecycle state of a task.
type Status string

const (
	// StatusPending - task created, no agent session started yet.
	StatusPending Status = "pending"
	// StatusInProgress - an agent session is working the task.
	StatusInProgress Status = "in_progress"
	// StatusCompletedActive - work finished but the session is kept alive
	// for follow-up instructions.
	StatusCompletedActive Status = "completed_active"
	// StatusCompleted - task finished and session closed.
	StatusCompleted Status = "completed"
	// StatusFailed - task failed; the triggering error is recorded in logs.
	StatusFailed Status = "failed"
	// StatusCancelled - task cancelled before completion.
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status is a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Task is the unit of work requested by a caller.
type Task struct {
	ID           string                 `json:"id"`
	Instructions string                 `json:"instructions"`
	Status       Status                 `json:"status"`
	// AssignedTo is a weak reference to the agent session working the task.
	AssignedTo   string                 `json:"assigned_to,omitempty"`
	MCPSessionID string                 `json:"mcp_session_id,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// LogLevel classifies a task log entry.
type LogLevel string

const (
	LogLevelInfo     LogLevel = "info"
	LogLevelWarning  LogLevel = "warning"
	LogLevelError    LogLevel = "error"
	LogLevelProgress LogLevel = "progress"
	LogLevelSystem   LogLevel = "system"
)

// LogEntry is one append-only log line attached to a task.
type LogEntry struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	SessionID string    `json:"session_id,omitempty"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
