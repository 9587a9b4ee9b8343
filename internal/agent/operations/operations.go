// Package operations is the request-level façade over agent sessions: it
// starts sessions for tasks, runs instructions with progress heartbeats, and
// writes the audit trail back to the task store.
package operations

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/systempromptio/systemprompt-os/internal/agent/query"
	"github.com/systempromptio/systemprompt-os/internal/agent/session"
	"github.com/systempromptio/systemprompt-os/internal/common/constants"
	"github.com/systempromptio/systemprompt-os/internal/common/errors"
	"github.com/systempromptio/systemprompt-os/internal/common/logger"
	"github.com/systempromptio/systemprompt-os/internal/task/models"
	taskstore "github.com/systempromptio/systemprompt-os/internal/task/store"
)

// ToolClaude is the only agent kind currently supported.
const ToolClaude = "claude"

// Operations coordinates the session manager, query executor, and task store.
type Operations struct {
	sessions *session.Manager
	executor *query.Executor
	tasks    taskstore.Store
	logger   *logger.Logger

	heartbeatInterval   time.Duration
	escalationThreshold time.Duration
}

// New creates the operations façade.
func New(sessions *session.Manager, executor *query.Executor, tasks taskstore.Store, log *logger.Logger) *Operations {
	return &Operations{
		sessions:            sessions,
		executor:            executor,
		tasks:               tasks,
		logger:              log.WithFields(zap.String("component", "agent-operations")),
		heartbeatInterval:   constants.ProgressHeartbeatInterval,
		escalationThreshold: constants.ProgressEscalationThreshold,
	}
}

// StartOptions configure a new agent session for a task.
type StartOptions struct {
	WorkingDirectory string
	MCPSessionID     string
	Session          session.Options
}

// StartForTask starts an agent session for a task and moves the task to
// in_progress. Unsupported agent kinds fail before any state changes.
func (o *Operations) StartForTask(ctx context.Context, tool string, task *models.Task, opts StartOptions) (*session.Session, error) {
	if tool != ToolClaude {
		return nil, fmt.Errorf("%w: %q", errors.ErrUnsupportedTool, tool)
	}

	sess := o.sessions.CreateSession(ctx, opts.WorkingDirectory, opts.Session)
	if err := o.sessions.LinkTask(sess.ID, task.ID); err != nil {
		return nil, err
	}

	if err := o.tasks.UpdateTaskStatus(ctx, task.ID, models.StatusInProgress, sess.ID); err != nil {
		o.sessions.EndSession(ctx, sess.ID, "task update failed")
		return nil, fmt.Errorf("failed to assign session to task: %w", err)
	}

	// The only place session<->task<->mcp-session correlation is persisted,
	// so record it even when the MCP side is absent.
	if opts.MCPSessionID != "" {
		_ = o.sessions.LinkMCPSession(sess.ID, opts.MCPSessionID)
	}
	o.addLog(ctx, task.ID, sess.ID, models.LogLevelSystem,
		fmt.Sprintf("agent session %s started for task %s (mcp_session=%s)", sess.ID, task.ID, opts.MCPSessionID))

	o.logger.Info("agent started for task",
		zap.String("task_id", task.ID),
		zap.String("session_id", sess.ID),
		zap.String("mcp_session_id", opts.MCPSessionID))

	return sess, nil
}

// ExecuteInstructions runs instructions on an existing session and flushes
// the streamed output to the task store as log entries. While the query is
// outstanding a heartbeat writes progress entries every interval, with the
// wording escalating once the wait passes the escalation threshold. The
// heartbeat is stopped on success and failure alike.
func (o *Operations) ExecuteInstructions(ctx context.Context, sessionID, instructions string, overrides session.Options) (string, error) {
	sess, err := o.sessions.GetSession(sessionID)
	if err != nil {
		return "", err
	}
	taskID := sess.TaskID()

	stopHeartbeat := o.startHeartbeat(ctx, taskID, sessionID)
	defer stopHeartbeat()

	output, err := o.executor.Execute(ctx, sess, instructions, overrides)

	// Flush whatever was streamed, success or not.
	for _, chunk := range sess.DrainOutput() {
		o.addLog(ctx, taskID, sessionID, models.LogLevelInfo, chunk)
	}

	if err != nil {
		o.addLog(ctx, taskID, sessionID, models.LogLevelError, fmt.Sprintf("query failed: %v", err))
		if taskID != "" {
			if uerr := o.tasks.UpdateTaskStatus(ctx, taskID, models.StatusFailed, sessionID); uerr != nil {
				o.logger.Warn("failed to mark task failed",
					zap.String("task_id", taskID),
					zap.Error(uerr))
			}
		}
		return "", err
	}

	return output, nil
}

// EndSession tears down a session best-effort. It never returns an error;
// ending an already-gone session is a no-op.
func (o *Operations) EndSession(ctx context.Context, sessionID, reason string) {
	sess, err := o.sessions.GetSession(sessionID)
	if err != nil {
		o.logger.Debug("end of unknown session ignored", zap.String("session_id", sessionID))
		return
	}

	if taskID := sess.TaskID(); taskID != "" {
		o.addLog(ctx, taskID, sessionID, models.LogLevelSystem,
			fmt.Sprintf("agent session ended: %s", reason))
	}
	o.sessions.EndSession(ctx, sessionID, reason)
}

// startHeartbeat writes periodic progress entries until the returned stop
// function is called.
func (o *Operations) startHeartbeat(ctx context.Context, taskID, sessionID string) func() {
	if taskID == "" {
		return func() {}
	}

	start := time.Now()
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(o.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				elapsed := time.Since(start).Round(time.Second)
				msg := fmt.Sprintf("agent still working (%s elapsed)", elapsed)
				if elapsed > o.escalationThreshold {
					msg = fmt.Sprintf("agent taking longer than expected (%s elapsed), still running", elapsed)
				}
				o.addLog(ctx, taskID, sessionID, models.LogLevelProgress, msg)
			}
		}
	}()

	var stopped bool
	return func() {
		if !stopped {
			stopped = true
			close(done)
		}
	}
}

func (o *Operations) addLog(ctx context.Context, taskID, sessionID string, level models.LogLevel, message string) {
	if taskID == "" {
		return
	}
	entry := &models.LogEntry{
		TaskID:    taskID,
		SessionID: sessionID,
		Level:     level,
		Message:   message,
	}
	if err := o.tasks.AddTaskLog(ctx, entry); err != nil {
		o.logger.Warn("failed to write task log",
			zap.String("task_id", taskID),
			zap.Error(err))
	}
}
