// Package query runs single prompts against an agent client on behalf of a
// session, enforcing one in-flight query per session and classifying the
// common failure modes.
package query

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/systempromptio/systemprompt-os/internal/agent/session"
	"github.com/systempromptio/systemprompt-os/internal/common/constants"
	"github.com/systempromptio/systemprompt-os/internal/common/errors"
	"github.com/systempromptio/systemprompt-os/internal/common/logger"
	"github.com/systempromptio/systemprompt-os/internal/events"
	"github.com/systempromptio/systemprompt-os/internal/events/bus"
)

// Request is one prompt to run through the agent.
type Request struct {
	Prompt           string
	WorkingDirectory string
	Model            string
	MaxTurns         int
	AllowedTools     []string
	SystemPrompt     string
	ResumeSessionID  string
}

// StreamChunk is one streamed piece of agent output.
type StreamChunk struct {
	Type string // "assistant", "tool_use", "system", "result"
	Text string
}

// Result is the final outcome of a query.
type Result struct {
	Text           string
	AgentSessionID string
	NumTurns       int
	IsError        bool
	ErrorText      string
	Duration       time.Duration
}

// AgentClient runs prompts against a concrete agent backend. onChunk is
// invoked from the client's read loop for each streamed chunk; it must not
// block.
type AgentClient interface {
	Query(ctx context.Context, req Request, onChunk func(StreamChunk)) (*Result, error)
	CheckAvailability(ctx context.Context) error
}

// Executor runs queries on sessions.
type Executor struct {
	client   AgentClient
	eventBus bus.EventBus
	logger   *logger.Logger

	defaultTimeout time.Duration
}

// NewExecutor creates a query executor. A zero defaultTimeout falls back to
// the package default.
func NewExecutor(client AgentClient, eventBus bus.EventBus, log *logger.Logger, defaultTimeout time.Duration) *Executor {
	if defaultTimeout <= 0 {
		defaultTimeout = constants.DefaultQueryTimeout
	}
	return &Executor{
		client:         client,
		eventBus:       eventBus,
		logger:         log.WithFields(zap.String("component", "query-executor")),
		defaultTimeout: defaultTimeout,
	}
}

// CheckAvailability probes the underlying agent backend.
func (e *Executor) CheckAvailability(ctx context.Context) error {
	return e.client.CheckAvailability(ctx)
}

// Execute runs prompt on sess and returns the agent's final text output.
//
// The session is claimed for the duration of the call: a concurrent Execute
// on the same session fails immediately with ErrSessionBusy instead of
// queueing. Per-call overrides win over the session's stored options.
func (e *Executor) Execute(ctx context.Context, sess *session.Session, prompt string, overrides session.Options) (string, error) {
	opts := mergeOptions(sess.Options, overrides)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := sess.BeginQuery(cancel); err != nil {
		return "", err
	}
	failed := false
	defer func() { sess.EndQuery(failed) }()

	e.publishStatus(ctx, events.SessionBusy, sess)
	defer e.publishStatus(ctx, events.SessionReady, sess)

	e.logger.Info("executing query",
		zap.String("session_id", sess.ID),
		zap.Duration("timeout", timeout),
		zap.Int("prompt_len", len(prompt)))

	req := Request{
		Prompt:           prompt,
		WorkingDirectory: sess.WorkingDirectory,
		Model:            opts.Model,
		MaxTurns:         opts.MaxTurns,
		AllowedTools:     opts.AllowedTools,
		SystemPrompt:     opts.CustomSystemPrompt,
	}

	start := time.Now()
	result, err := e.client.Query(qctx, req, func(chunk StreamChunk) {
		if chunk.Text == "" {
			return
		}
		sess.AppendOutput(chunk.Text)
		e.publishOutput(ctx, sess, chunk)
	})
	if err != nil {
		failed = true
		classified := e.classify(qctx, err)
		e.logger.Warn("query failed",
			zap.String("session_id", sess.ID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(classified))
		return "", classified
	}

	if result.IsError {
		failed = true
		classified := e.classifyText(result.ErrorText)
		e.logger.Warn("query returned error result",
			zap.String("session_id", sess.ID),
			zap.String("error", result.ErrorText))
		return "", classified
	}

	e.logger.Info("query completed",
		zap.String("session_id", sess.ID),
		zap.Int("num_turns", result.NumTurns),
		zap.Duration("elapsed", time.Since(start)))

	return result.Text, nil
}

// classify maps transport-level failures onto the package sentinels. The
// deadline check runs against the query context, not the error chain: the
// backend may surface cancellation as its own error type.
func (e *Executor) classify(qctx context.Context, err error) error {
	switch {
	case qctx.Err() == context.DeadlineExceeded:
		return errors.ErrQueryTimeout
	case qctx.Err() == context.Canceled:
		return errors.ErrQueryAborted
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.ErrQueryTimeout
	case stderrors.Is(err, context.Canceled):
		return errors.ErrQueryAborted
	}
	return e.classifyText(err.Error())
}

// classifyText reclassifies well-known agent error strings so callers can
// react to billing and auth problems without string matching of their own.
func (e *Executor) classifyText(text string) error {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "credit balance"):
		return errors.ErrCreditBalance
	case strings.Contains(lower, "invalid api key"), strings.Contains(lower, "authentication_error"):
		return errors.ErrInvalidAPIKey
	}
	if text == "" {
		text = "agent query failed"
	}
	return errors.InternalError(text, nil)
}

func mergeOptions(base, overrides session.Options) session.Options {
	merged := base
	if overrides.Model != "" {
		merged.Model = overrides.Model
	}
	if overrides.MaxTurns > 0 {
		merged.MaxTurns = overrides.MaxTurns
	}
	if len(overrides.AllowedTools) > 0 {
		merged.AllowedTools = overrides.AllowedTools
	}
	if overrides.CustomSystemPrompt != "" {
		merged.CustomSystemPrompt = overrides.CustomSystemPrompt
	}
	if overrides.Timeout > 0 {
		merged.Timeout = overrides.Timeout
	}
	return merged
}

func (e *Executor) publishStatus(ctx context.Context, eventType string, sess *session.Session) {
	if e.eventBus == nil {
		return
	}
	event := bus.NewEvent(eventType, "query-executor", map[string]interface{}{
		"session_id": sess.ID,
		"task_id":    sess.TaskID(),
	})
	if err := e.eventBus.Publish(ctx, eventType, event); err != nil {
		e.logger.Error("failed to publish event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func (e *Executor) publishOutput(ctx context.Context, sess *session.Session, chunk StreamChunk) {
	if e.eventBus == nil {
		return
	}
	event := bus.NewEvent(events.SessionOutput, "query-executor", map[string]interface{}{
		"session_id": sess.ID,
		"task_id":    sess.TaskID(),
		"chunk_type": chunk.Type,
		"text":       chunk.Text,
	})
	if err := e.eventBus.Publish(ctx, events.SessionOutput, event); err != nil {
		e.logger.Error("failed to publish output event",
			zap.String("session_id", sess.ID),
			zap.Error(err))
	}
}
