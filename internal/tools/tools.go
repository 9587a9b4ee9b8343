// Package tools exposes the orchestration operations as a validated
// tool-call surface. Every call returns a structured envelope; errors are
// folded into the envelope rather than escaping to the transport.
package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/systempromptio/systemprompt-os/internal/agent/hostproxy"
	"github.com/systempromptio/systemprompt-os/internal/agent/operations"
	"github.com/systempromptio/systemprompt-os/internal/agent/query"
	"github.com/systempromptio/systemprompt-os/internal/agent/session"
	"github.com/systempromptio/systemprompt-os/internal/common/logger"
	"github.com/systempromptio/systemprompt-os/internal/task/models"
	taskstore "github.com/systempromptio/systemprompt-os/internal/task/store"
)

// Tool names accepted by HandleToolCall.
const (
	ToolCreateTask  = "create_task"
	ToolUpdateTask  = "update_task"
	ToolEndTask     = "end_task"
	ToolReport      = "report"
	ToolCheckStatus = "check_status"
	ToolCleanState  = "clean_state"
	ToolGetPrompt   = "get_prompt"
)

// Response is the envelope every tool call returns.
type Response struct {
	Status  string       `json:"status"` // "success" | "error" | "active" | "not_active"
	Message string       `json:"message"`
	Result  interface{}  `json:"result,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail carries the typed error information inside an error envelope.
type ErrorDetail struct {
	Type    string `json:"type"`
	Details string `json:"details"`
}

// Handler validates tool-call arguments and dispatches to the orchestration
// operations.
type Handler struct {
	ops      *operations.Operations
	sessions *session.Manager
	executor *query.Executor
	proxy    *hostproxy.Client
	tasks    taskstore.Store
	logger   *logger.Logger

	defaultWorkingDir string
}

// NewHandler creates the tool-call handler.
func NewHandler(
	ops *operations.Operations,
	sessions *session.Manager,
	executor *query.Executor,
	proxy *hostproxy.Client,
	tasks taskstore.Store,
	defaultWorkingDir string,
	log *logger.Logger,
) *Handler {
	return &Handler{
		ops:               ops,
		sessions:          sessions,
		executor:          executor,
		proxy:             proxy,
		tasks:             tasks,
		defaultWorkingDir: defaultWorkingDir,
		logger:            log.WithFields(zap.String("component", "tool-handler")),
	}
}

// HandleToolCall dispatches one named tool call. Unknown tools and all
// downstream failures come back as error envelopes, never as Go errors.
func (h *Handler) HandleToolCall(ctx context.Context, name string, args map[string]interface{}) *Response {
	h.logger.Debug("tool call", zap.String("tool", name))

	switch name {
	case ToolCreateTask:
		return h.createTask(ctx, args)
	case ToolUpdateTask:
		return h.updateTask(ctx, args)
	case ToolEndTask:
		return h.endTask(ctx, args)
	case ToolReport:
		return h.report(ctx, args)
	case ToolCheckStatus:
		return h.checkStatus(ctx)
	case ToolCleanState:
		return h.cleanState(ctx)
	case ToolGetPrompt:
		return h.getPrompt(args)
	default:
		return errorResponse("unknown_tool", fmt.Sprintf("unknown tool %q", name))
	}
}

func (h *Handler) createTask(ctx context.Context, args map[string]interface{}) *Response {
	instructions, err := requireString(args, "instructions")
	if err != nil {
		return errorResponse("validation_error", err.Error())
	}
	workingDir := optionalString(args, "working_directory")
	if workingDir == "" {
		workingDir = h.defaultWorkingDir
	}
	mcpSessionID := optionalString(args, "mcp_session_id")

	task := &models.Task{Instructions: instructions, Status: models.StatusPending}
	if err := h.tasks.CreateTask(ctx, task); err != nil {
		return errorResponse("store_error", err.Error())
	}

	sess, err := h.ops.StartForTask(ctx, operations.ToolClaude, task, operations.StartOptions{
		WorkingDirectory: workingDir,
		MCPSessionID:     mcpSessionID,
	})
	if err != nil {
		return errorResponse("agent_error", err.Error())
	}

	// Run the instructions in the background; progress lands in the task
	// log and the final status transition happens when the query settles.
	go h.runInstructions(task.ID, sess.ID, instructions)

	return &Response{
		Status:  "success",
		Message: "task created and agent started",
		Result: map[string]interface{}{
			"task_id":    task.ID,
			"session_id": sess.ID,
			"status":     string(models.StatusInProgress),
		},
	}
}

func (h *Handler) updateTask(ctx context.Context, args map[string]interface{}) *Response {
	id, err := requireString(args, "id")
	if err != nil {
		return errorResponse("validation_error", err.Error())
	}
	instructions, err := requireString(args, "instructions")
	if err != nil {
		return errorResponse("validation_error", err.Error())
	}

	task, err := h.tasks.GetTask(ctx, id)
	if err != nil {
		return errorResponse("not_found", fmt.Sprintf("task %q not found", id))
	}
	if task.Status.IsTerminal() {
		return errorResponse("invalid_state", fmt.Sprintf("task %q is already %s", id, task.Status))
	}

	sess := h.sessions.FindSessionByTask(id)
	if sess == nil {
		return errorResponse("no_session", fmt.Sprintf("task %q has no active agent session", id))
	}
	if sess.Busy() {
		return errorResponse("session_busy", "agent is still working on the previous instructions")
	}

	task.Instructions = instructions
	if err := h.tasks.UpdateTask(ctx, task); err != nil {
		return errorResponse("store_error", err.Error())
	}
	if err := h.tasks.UpdateTaskStatus(ctx, id, models.StatusInProgress, sess.ID); err != nil {
		return errorResponse("store_error", err.Error())
	}

	go h.runInstructions(id, sess.ID, instructions)

	return &Response{
		Status:  "success",
		Message: "instructions sent to agent",
		Result: map[string]interface{}{
			"task_id":    id,
			"session_id": sess.ID,
		},
	}
}

func (h *Handler) endTask(ctx context.Context, args map[string]interface{}) *Response {
	id, err := requireString(args, "id")
	if err != nil {
		return errorResponse("validation_error", err.Error())
	}

	task, err := h.tasks.GetTask(ctx, id)
	if err != nil {
		return errorResponse("not_found", fmt.Sprintf("task %q not found", id))
	}

	sessionClosed := false
	if sess := h.sessions.FindSessionByTask(id); sess != nil {
		h.ops.EndSession(ctx, sess.ID, "task ended")
		sessionClosed = true
	}

	if !task.Status.IsTerminal() {
		if err := h.tasks.UpdateTaskStatus(ctx, id, models.StatusCompleted, task.AssignedTo); err != nil {
			return errorResponse("store_error", err.Error())
		}
	}

	duration := time.Since(task.CreatedAt).Round(time.Second)
	return &Response{
		Status:  "success",
		Message: fmt.Sprintf("task %s ended", id),
		Result: map[string]interface{}{
			"task_id":        id,
			"session_closed": sessionClosed,
			"duration":       duration.String(),
		},
	}
}

func (h *Handler) report(ctx context.Context, args map[string]interface{}) *Response {
	if id := optionalString(args, "id"); id != "" {
		task, err := h.tasks.GetTask(ctx, id)
		if err != nil {
			return errorResponse("not_found", fmt.Sprintf("task %q not found", id))
		}
		logs, err := h.tasks.GetTaskLogs(ctx, id)
		if err != nil {
			return errorResponse("store_error", err.Error())
		}
		return &Response{
			Status:  "success",
			Message: fmt.Sprintf("task %s is %s", id, task.Status),
			Result: map[string]interface{}{
				"task": task,
				"logs": logs,
			},
		}
	}

	tasks, err := h.tasks.GetAllTasks(ctx)
	if err != nil {
		return errorResponse("store_error", err.Error())
	}
	summaries := make([]map[string]interface{}, 0, len(tasks))
	for _, t := range tasks {
		summaries = append(summaries, map[string]interface{}{
			"task_id":    t.ID,
			"status":     string(t.Status),
			"session_id": t.AssignedTo,
			"created_at": t.CreatedAt,
		})
	}
	return &Response{
		Status:  "success",
		Message: fmt.Sprintf("%d task(s)", len(tasks)),
		Result: map[string]interface{}{
			"tasks":    summaries,
			"sessions": h.sessions.GetMetrics(),
		},
	}
}

// checkStatus probes the daemon and the local CLI. Unreachable backends are
// reported in the envelope, never raised.
func (h *Handler) checkStatus(ctx context.Context) *Response {
	daemonConnected := false
	if h.proxy != nil {
		daemonConnected = h.proxy.Ping(ctx) == nil
	}

	cliAvailable := h.executor.CheckAvailability(ctx) == nil

	status := "not_active"
	message := "no agent backend reachable"
	if daemonConnected || cliAvailable {
		status = "active"
		message = "agent backend available"
	}

	return &Response{
		Status:  status,
		Message: message,
		Result: map[string]interface{}{
			"daemon":   map[string]interface{}{"connected": daemonConnected},
			"cli":      map[string]interface{}{"available": cliAvailable},
			"sessions": h.sessions.GetMetrics(),
		},
	}
}

// cleanState ends every live session and deletes terminal tasks.
func (h *Handler) cleanState(ctx context.Context) *Response {
	sessionsEnded := 0
	for _, sess := range h.sessions.ListSessions() {
		h.ops.EndSession(ctx, sess.ID, "state cleaned")
		sessionsEnded++
	}

	tasksDeleted := 0
	tasks, err := h.tasks.GetAllTasks(ctx)
	if err != nil {
		return errorResponse("store_error", err.Error())
	}
	for _, t := range tasks {
		if !t.Status.IsTerminal() {
			continue
		}
		if err := h.tasks.DeleteTask(ctx, t.ID); err != nil {
			h.logger.Warn("failed to delete task during clean",
				zap.String("task_id", t.ID),
				zap.Error(err))
			continue
		}
		tasksDeleted++
	}

	return &Response{
		Status:  "success",
		Message: "state cleaned",
		Result: map[string]interface{}{
			"sessions_ended": sessionsEnded,
			"tasks_deleted":  tasksDeleted,
		},
	}
}

var prompts = map[string]string{
	"task_execution": "You are working on a coding task. Follow the instructions exactly, keep changes minimal, and report what you changed when done.",
	"code_review":    "Review the changes in the working directory. Point out correctness issues first, then style. Be specific about file and line.",
	"status_summary": "Summarize the current state of the task in two or three sentences, including what remains to be done.",
}

func (h *Handler) getPrompt(args map[string]interface{}) *Response {
	name := optionalString(args, "name")
	if name == "" {
		names := make([]string, 0, len(prompts))
		for n := range prompts {
			names = append(names, n)
		}
		return &Response{
			Status:  "success",
			Message: "available prompts",
			Result:  map[string]interface{}{"prompts": names},
		}
	}

	text, ok := prompts[name]
	if !ok {
		return errorResponse("not_found", fmt.Sprintf("prompt %q not found", name))
	}
	return &Response{
		Status:  "success",
		Message: name,
		Result:  map[string]interface{}{"name": name, "prompt": text},
	}
}

// runInstructions drives one instruction round in the background. Status
// transitions and logging happen inside Operations; success parks the task
// in completed_active so follow-up instructions can reuse the session.
func (h *Handler) runInstructions(taskID, sessionID, instructions string) {
	ctx := context.Background()

	output, err := h.ops.ExecuteInstructions(ctx, sessionID, instructions, session.Options{})
	if err != nil {
		h.logger.Warn("background instruction run failed",
			zap.String("task_id", taskID),
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}

	if output != "" {
		entry := &models.LogEntry{
			TaskID:    taskID,
			SessionID: sessionID,
			Level:     models.LogLevelInfo,
			Message:   output,
		}
		if err := h.tasks.AddTaskLog(ctx, entry); err != nil {
			h.logger.Warn("failed to record agent output",
				zap.String("task_id", taskID),
				zap.Error(err))
		}
	}

	if err := h.tasks.UpdateTaskStatus(ctx, taskID, models.StatusCompletedActive, sessionID); err != nil {
		h.logger.Warn("failed to mark task completed",
			zap.String("task_id", taskID),
			zap.Error(err))
	}
}

func errorResponse(errType, details string) *Response {
	return &Response{
		Status:  "error",
		Message: details,
		Error:   &ErrorDetail{Type: errType, Details: details},
	}
}

func requireString(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", key)
	}
	return s, nil
}

func optionalString(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}
