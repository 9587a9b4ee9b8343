// Package store defines the interface for task storage operations.
package store

import (
	"context"

	"github.com/systempromptio/systemprompt-os/internal/task/models"
)

// Store defines the interface for task storage operations.
type Store interface {
	// CreateTask creates a new task.
	CreateTask(ctx context.Context, task *models.Task) error

	// GetTask retrieves a task by ID. Absence fails with ErrTaskNotFound.
	GetTask(ctx context.Context, id string) (*models.Task, error)

	// GetAllTasks returns all tasks.
	GetAllTasks(ctx context.Context) ([]*models.Task, error)

	// UpdateTask updates an existing task.
	UpdateTask(ctx context.Context, task *models.Task) error

	// UpdateTaskStatus transitions a task's status, optionally recording the
	// assigned session id.
	UpdateTaskStatus(ctx context.Context, id string, status models.Status, sessionID string) error

	// AddTaskLog appends a log entry to a task.
	AddTaskLog(ctx context.Context, entry *models.LogEntry) error

	// GetTaskLogs returns a task's log entries in insertion order.
	GetTaskLogs(ctx context.Context, taskID string) ([]*models.LogEntry, error)

	// DeleteTask removes a task and its logs.
	DeleteTask(ctx context.Context, id string) error

	// Close closes the store (for database connections).
	Close() error
}
