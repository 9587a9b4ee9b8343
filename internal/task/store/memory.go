package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/systempromptio/systemprompt-os/internal/common/errors"
	"github.com/systempromptio/systemprompt-os/internal/task/models"
)

// MemoryStore provides in-memory task storage operations.
type MemoryStore struct {
	tasks  map[string]*models.Task
	logs   map[string][]*models.LogEntry
	nextID int64
	mu     sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*models.Task),
		logs:  make(map[string][]*models.LogEntry),
	}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// CreateTask creates a new task.
func (s *MemoryStore) CreateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		task.ID = "task-" + uuid.New().String()
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = models.StatusPending
	}

	s.tasks[task.ID] = cloneTask(task)
	return nil
}

// GetTask retrieves a task by ID.
func (s *MemoryStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrTaskNotFound, id)
	}
	return cloneTask(task), nil
}

// GetAllTasks returns all tasks.
func (s *MemoryStore) GetAllTasks(ctx context.Context) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		result = append(result, cloneTask(task))
	}
	return result, nil
}

// UpdateTask updates an existing task.
func (s *MemoryStore) UpdateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; !ok {
		return fmt.Errorf("%w: %s", errors.ErrTaskNotFound, task.ID)
	}
	task.UpdatedAt = time.Now().UTC()
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

// cloneTask copies a task so readers never share a pointer with the store.
func cloneTask(task *models.Task) *models.Task {
	clone := *task
	if task.Metadata != nil {
		clone.Metadata = make(map[string]interface{}, len(task.Metadata))
		for k, v := range task.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// UpdateTaskStatus transitions a task's status.
func (s *MemoryStore) UpdateTaskStatus(ctx context.Context, id string, status models.Status, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrTaskNotFound, id)
	}

	now := time.Now().UTC()
	task.Status = status
	task.UpdatedAt = now
	if sessionID != "" {
		task.AssignedTo = sessionID
	}
	if status == models.StatusInProgress && task.StartedAt == nil {
		task.StartedAt = &now
	}
	if status.IsTerminal() && task.CompletedAt == nil {
		task.CompletedAt = &now
	}
	return nil
}

// AddTaskLog appends a log entry to a task.
func (s *MemoryStore) AddTaskLog(ctx context.Context, entry *models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[entry.TaskID]; !ok {
		return fmt.Errorf("%w: %s", errors.ErrTaskNotFound, entry.TaskID)
	}

	s.nextID++
	entry.ID = s.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Level == "" {
		entry.Level = models.LogLevelInfo
	}
	s.logs[entry.TaskID] = append(s.logs[entry.TaskID], entry)
	return nil
}

// GetTaskLogs returns a task's log entries in insertion order.
func (s *MemoryStore) GetTaskLogs(ctx context.Context, taskID string) ([]*models.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.logs[taskID]
	result := make([]*models.LogEntry, len(entries))
	copy(result, entries)
	return result, nil
}

// DeleteTask removes a task and its logs.
func (s *MemoryStore) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return fmt.Errorf("%w: %s", errors.ErrTaskNotFound, id)
	}
	delete(s.tasks, id)
	delete(s.logs, id)
	return nil
}
