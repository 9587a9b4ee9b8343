package tools

import (
	"context"
	"testing"
	"time"

	"github.com/systempromptio/systemprompt-os/internal/agent/operations"
	"github.com/systempromptio/systemprompt-os/internal/agent/query"
	"github.com/systempromptio/systemprompt-os/internal/agent/session"
	"github.com/systempromptio/systemprompt-os/internal/common/logger"
	"github.com/systempromptio/systemprompt-os/internal/task/models"
	taskstore "github.com/systempromptio/systemprompt-os/internal/task/store"
)

// fakeAgent is a scripted query.AgentClient.
type fakeAgent struct {
	text      string
	err       error
	available bool
}

func (f *fakeAgent) Query(ctx context.Context, req query.Request, onChunk func(query.StreamChunk)) (*query.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if onChunk != nil {
		onChunk(query.StreamChunk{Type: "assistant", Text: f.text})
	}
	return &query.Result{Text: f.text, NumTurns: 1}, nil
}

func (f *fakeAgent) CheckAvailability(ctx context.Context) error {
	if f.available {
		return nil
	}
	return context.DeadlineExceeded
}

type fixture struct {
	handler  *Handler
	tasks    taskstore.Store
	sessions *session.Manager
}

func newFixture(agent *fakeAgent) *fixture {
	log := logger.Default()
	tasks := taskstore.NewMemoryStore()
	sessions := session.NewManager(nil, log, time.Hour, time.Hour)
	executor := query.NewExecutor(agent, nil, log, time.Minute)
	ops := operations.New(sessions, executor, tasks, log)
	handler := NewHandler(ops, sessions, executor, nil, tasks, "/work", log)
	return &fixture{handler: handler, tasks: tasks, sessions: sessions}
}

// waitForStatus polls until the task reaches the wanted status.
func waitForStatus(t *testing.T, store taskstore.Store, taskID string, want models.Status) *models.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := store.GetTask(context.Background(), taskID)
		if err == nil && task.Status == want {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	task, _ := store.GetTask(context.Background(), taskID)
	t.Fatalf("task %s never reached %s (currently %v)", taskID, want, task)
	return nil
}

func TestCreateTaskLifecycle(t *testing.T) {
	f := newFixture(&fakeAgent{text: "added a README", available: true})
	ctx := context.Background()

	resp := f.handler.HandleToolCall(ctx, ToolCreateTask, map[string]interface{}{
		"instructions": "add a README",
	})
	if resp.Status != "success" {
		t.Fatalf("expected success, got %s: %s", resp.Status, resp.Message)
	}

	result := resp.Result.(map[string]interface{})
	taskID := result["task_id"].(string)
	sessionID := result["session_id"].(string)

	task := waitForStatus(t, f.tasks, taskID, models.StatusCompletedActive)
	if task.AssignedTo != sessionID {
		t.Errorf("task should be assigned to session %s, got %s", sessionID, task.AssignedTo)
	}

	// report(id) includes the agent output in the logs.
	report := f.handler.HandleToolCall(ctx, ToolReport, map[string]interface{}{"id": taskID})
	if report.Status != "success" {
		t.Fatalf("report failed: %s", report.Message)
	}
	logs := report.Result.(map[string]interface{})["logs"].([]*models.LogEntry)
	found := false
	for _, entry := range logs {
		if entry.Message == "added a README" {
			found = true
		}
	}
	if !found {
		t.Error("report should include the agent output in its logs")
	}

	// end_task closes the session and completes the task.
	end := f.handler.HandleToolCall(ctx, ToolEndTask, map[string]interface{}{"id": taskID})
	if end.Status != "success" {
		t.Fatalf("end_task failed: %s", end.Message)
	}
	endResult := end.Result.(map[string]interface{})
	if endResult["session_closed"] != true {
		t.Error("end_task should report session_closed")
	}
	if dur, ok := endResult["duration"].(string); !ok || dur == "" {
		t.Error("end_task should report a formatted duration")
	}

	task, _ = f.tasks.GetTask(ctx, taskID)
	if task.Status != models.StatusCompleted {
		t.Errorf("expected completed, got %s", task.Status)
	}
	if f.sessions.FindSessionByTask(taskID) != nil {
		t.Error("session should be gone after end_task")
	}
}

func TestCreateTaskValidation(t *testing.T) {
	f := newFixture(&fakeAgent{available: true})

	resp := f.handler.HandleToolCall(context.Background(), ToolCreateTask, map[string]interface{}{})
	if resp.Status != "error" {
		t.Fatalf("expected error, got %s", resp.Status)
	}
	if resp.Error == nil || resp.Error.Type != "validation_error" {
		t.Errorf("expected validation_error, got %+v", resp.Error)
	}
}

func TestCreateTaskFailureMarksTaskFailed(t *testing.T) {
	f := newFixture(&fakeAgent{err: context.DeadlineExceeded})
	ctx := context.Background()

	resp := f.handler.HandleToolCall(ctx, ToolCreateTask, map[string]interface{}{
		"instructions": "doomed",
	})
	if resp.Status != "success" {
		t.Fatalf("create itself should succeed, got %s", resp.Status)
	}

	taskID := resp.Result.(map[string]interface{})["task_id"].(string)
	waitForStatus(t, f.tasks, taskID, models.StatusFailed)

	logs, _ := f.tasks.GetTaskLogs(ctx, taskID)
	foundError := false
	for _, entry := range logs {
		if entry.Level == models.LogLevelError {
			foundError = true
		}
	}
	if !foundError {
		t.Error("failed run should leave an error log entry")
	}
}

func TestUpdateTaskUnknownID(t *testing.T) {
	f := newFixture(&fakeAgent{available: true})

	resp := f.handler.HandleToolCall(context.Background(), ToolUpdateTask, map[string]interface{}{
		"id":           "task-ghost",
		"instructions": "anything",
	})
	if resp.Status != "error" || resp.Error.Type != "not_found" {
		t.Fatalf("expected not_found error, got %+v", resp)
	}
}

func TestEndTaskUnknownID(t *testing.T) {
	f := newFixture(&fakeAgent{available: true})

	resp := f.handler.HandleToolCall(context.Background(), ToolEndTask, map[string]interface{}{
		"id": "task-ghost",
	})
	if resp.Status != "error" || resp.Error.Type != "not_found" {
		t.Fatalf("expected not_found error, got %+v", resp)
	}
}

func TestCheckStatusNoBackend(t *testing.T) {
	f := newFixture(&fakeAgent{available: false})

	resp := f.handler.HandleToolCall(context.Background(), ToolCheckStatus, map[string]interface{}{})
	if resp.Status != "not_active" {
		t.Fatalf("expected not_active, got %s", resp.Status)
	}

	result := resp.Result.(map[string]interface{})
	daemon := result["daemon"].(map[string]interface{})
	if daemon["connected"] != false {
		t.Error("daemon should report disconnected")
	}
}

func TestCheckStatusCLIAvailable(t *testing.T) {
	f := newFixture(&fakeAgent{available: true})

	resp := f.handler.HandleToolCall(context.Background(), ToolCheckStatus, map[string]interface{}{})
	if resp.Status != "active" {
		t.Fatalf("expected active, got %s", resp.Status)
	}
}

func TestCleanState(t *testing.T) {
	f := newFixture(&fakeAgent{text: "done", available: true})
	ctx := context.Background()

	resp := f.handler.HandleToolCall(ctx, ToolCreateTask, map[string]interface{}{
		"instructions": "something",
	})
	taskID := resp.Result.(map[string]interface{})["task_id"].(string)
	waitForStatus(t, f.tasks, taskID, models.StatusCompletedActive)

	f.handler.HandleToolCall(ctx, ToolEndTask, map[string]interface{}{"id": taskID})

	clean := f.handler.HandleToolCall(ctx, ToolCleanState, map[string]interface{}{})
	if clean.Status != "success" {
		t.Fatalf("clean_state failed: %s", clean.Message)
	}
	result := clean.Result.(map[string]interface{})
	if result["tasks_deleted"].(int) != 1 {
		t.Errorf("expected 1 task deleted, got %v", result["tasks_deleted"])
	}

	if _, err := f.tasks.GetTask(ctx, taskID); err == nil {
		t.Error("terminal task should be deleted by clean_state")
	}
}

func TestGetPrompt(t *testing.T) {
	f := newFixture(&fakeAgent{available: true})
	ctx := context.Background()

	listing := f.handler.HandleToolCall(ctx, ToolGetPrompt, map[string]interface{}{})
	if listing.Status != "success" {
		t.Fatalf("prompt listing failed: %s", listing.Message)
	}

	named := f.handler.HandleToolCall(ctx, ToolGetPrompt, map[string]interface{}{"name": "task_execution"})
	if named.Status != "success" {
		t.Fatalf("named prompt failed: %s", named.Message)
	}

	missing := f.handler.HandleToolCall(ctx, ToolGetPrompt, map[string]interface{}{"name": "nope"})
	if missing.Status != "error" || missing.Error.Type != "not_found" {
		t.Fatalf("expected not_found, got %+v", missing)
	}
}

func TestUnknownTool(t *testing.T) {
	f := newFixture(&fakeAgent{available: true})

	resp := f.handler.HandleToolCall(context.Background(), "explode", map[string]interface{}{})
	if resp.Status != "error" || resp.Error.Type != "unknown_tool" {
		t.Fatalf("expected unknown_tool error, got %+v", resp)
	}
}
