package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/systempromptio/systemprompt-os/internal/common/logger"
	"github.com/systempromptio/systemprompt-os/internal/events"
	"github.com/systempromptio/systemprompt-os/internal/events/bus"
	"github.com/systempromptio/systemprompt-os/internal/task/models"
)

// EventedStore decorates a Store with task lifecycle events on the bus.
// Events are published only after the underlying write succeeds; reads pass
// through untouched.
type EventedStore struct {
	Store

	eventBus bus.EventBus
	logger   *logger.Logger
}

var _ Store = (*EventedStore)(nil)

// NewEventedStore wraps inner so task writes publish task.* events.
func NewEventedStore(inner Store, eventBus bus.EventBus, log *logger.Logger) *EventedStore {
	return &EventedStore{
		Store:    inner,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "task-store")),
	}
}

// CreateTask creates the task and publishes task.created.
func (s *EventedStore) CreateTask(ctx context.Context, task *models.Task) error {
	if err := s.Store.CreateTask(ctx, task); err != nil {
		return err
	}
	s.publish(ctx, events.TaskCreated, task.ID, string(task.Status), nil)
	return nil
}

// UpdateTask updates the task and publishes task.updated.
func (s *EventedStore) UpdateTask(ctx context.Context, task *models.Task) error {
	if err := s.Store.UpdateTask(ctx, task); err != nil {
		return err
	}
	s.publish(ctx, events.TaskUpdated, task.ID, string(task.Status), nil)
	return nil
}

// UpdateTaskStatus transitions the status and publishes task.state_changed;
// the completed and failed statuses get their own event types.
func (s *EventedStore) UpdateTaskStatus(ctx context.Context, id string, status models.Status, sessionID string) error {
	if err := s.Store.UpdateTaskStatus(ctx, id, status, sessionID); err != nil {
		return err
	}

	eventType := events.TaskStateChanged
	switch status {
	case models.StatusCompleted:
		eventType = events.TaskCompleted
	case models.StatusFailed:
		eventType = events.TaskFailed
	}
	s.publish(ctx, eventType, id, string(status), map[string]interface{}{
		"session_id": sessionID,
	})
	return nil
}

func (s *EventedStore) publish(ctx context.Context, eventType, taskID, status string, extra map[string]interface{}) {
	if s.eventBus == nil {
		return
	}

	data := map[string]interface{}{
		"task_id": taskID,
		"status":  status,
	}
	for k, v := range extra {
		data[k] = v
	}

	event := bus.NewEvent(eventType, "task-store", data)
	if err := s.eventBus.Publish(ctx, eventType, event); err != nil {
		s.logger.Error("failed to publish task event",
			zap.String("event_type", eventType),
			zap.String("task_id", taskID),
			zap.Error(err))
	}
}
