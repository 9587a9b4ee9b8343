// Package session tracks ephemeral agent sessions: one per running
// coding-agent conversation, with status transitions, buffered output, and
// idle cleanup.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/systempromptio/systemprompt-os/internal/common/errors"
)

// Status is the lifecycle state of an agent session.
//
// ready -> busy -> ready is the normal query cycle; ready|busy -> error on
// unrecoverable failure; any live state -> terminated on explicit end or
// idle sweep. terminated is terminal and the session leaves the live map.
type Status string

const (
	StatusReady      Status = "ready"
	StatusBusy       Status = "busy"
	StatusError      Status = "error"
	StatusTerminated Status = "terminated"
)

// Options configure the agent conversation behind a session.
type Options struct {
	Model              string        `json:"model,omitempty"`
	MaxTurns           int           `json:"max_turns,omitempty"`
	AllowedTools       []string      `json:"allowed_tools,omitempty"`
	CustomSystemPrompt string        `json:"custom_system_prompt,omitempty"`
	Timeout            time.Duration `json:"timeout,omitempty"`
}

// Session is one live agent conversation handle.
type Session struct {
	ID               string
	WorkingDirectory string
	Options          Options
	CreatedAt        time.Time

	mu           sync.Mutex
	status       Status
	taskID       string
	mcpSessionID string
	lastActivity time.Time
	outputBuffer []string
	errorBuffer  []string

	// cancel is the mutual-exclusion token for "a query is in flight".
	// Exactly one query may hold it; a second Execute on the same session
	// is rejected rather than silently overwriting the first query's
	// cancellation path.
	cancel context.CancelFunc
}

// Status returns the current session status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// setStatus transitions the session status. Terminated is sticky.
func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusTerminated {
		return
	}
	s.status = status
}

// TaskID returns the weakly referenced task id, if any.
func (s *Session) TaskID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taskID
}

// MCPSessionID returns the weakly referenced MCP session id, if any.
func (s *Session) MCPSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mcpSessionID
}

// LastActivity returns the time of the session's last recorded activity.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Touch records activity now.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now().UTC()
}

// AppendOutput buffers one streamed output chunk and records activity.
func (s *Session) AppendOutput(chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputBuffer = append(s.outputBuffer, chunk)
	s.lastActivity = time.Now().UTC()
}

// AppendError buffers one error line and records activity.
func (s *Session) AppendError(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorBuffer = append(s.errorBuffer, line)
	s.lastActivity = time.Now().UTC()
}

// DrainOutput returns the buffered output chunks and clears the buffer.
func (s *Session) DrainOutput() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.outputBuffer
	s.outputBuffer = nil
	return out
}

// OutputSnapshot returns a copy of the buffered output without draining it.
func (s *Session) OutputSnapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.outputBuffer))
	copy(out, s.outputBuffer)
	return out
}

// BeginQuery claims the session for a single in-flight query, transitioning
// ready -> busy and storing the cancel function. It fails fast with
// ErrSessionBusy if a query is already in flight, and with
// ErrSessionNotFound if the session is terminated.
func (s *Session) BeginQuery(cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusTerminated {
		return errors.ErrSessionNotFound
	}
	if s.cancel != nil {
		return errors.ErrSessionBusy
	}
	s.cancel = cancel
	s.status = StatusBusy
	s.lastActivity = time.Now().UTC()
	return nil
}

// EndQuery releases the query claim. This is the only safe point after which
// the session may run a subsequent query. The session returns to ready
// unless it was marked error or terminated in the meantime.
func (s *Session) EndQuery(failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancel = nil
	s.lastActivity = time.Now().UTC()
	if s.status == StatusTerminated {
		return
	}
	if failed {
		s.status = StatusError
		return
	}
	s.status = StatusReady
}

// Abort cancels any in-flight query. Safe to call when none is running.
func (s *Session) Abort() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Busy reports whether a query is currently in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}
