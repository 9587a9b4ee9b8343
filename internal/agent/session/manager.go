package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/systempromptio/systemprompt-os/internal/common/constants"
	"github.com/systempromptio/systemprompt-os/internal/common/errors"
	"github.com/systempromptio/systemprompt-os/internal/common/logger"
	"github.com/systempromptio/systemprompt-os/internal/events"
	"github.com/systempromptio/systemprompt-os/internal/events/bus"
)

// Metrics is a point-in-time summary of the session map.
type Metrics struct {
	Active     int `json:"active"`
	Busy       int `json:"busy"`
	Errored    int `json:"errored"`
	Terminated int `json:"terminated"`

	// AvgTerminatedDuration is the mean lifetime of terminated sessions,
	// from creation to termination. Zero until a session has terminated.
	AvgTerminatedDuration time.Duration `json:"avg_terminated_duration"`
}

// Manager owns the live session map. Sessions are created ready, swept when
// idle past the configured timeout, and removed from the map the moment they
// terminate.
type Manager struct {
	eventBus bus.EventBus
	logger   *logger.Logger

	sessions map[string]*Session // by session ID
	byTask   map[string]string   // taskID -> sessionID, advisory only
	mu       sync.RWMutex

	terminatedCount    int
	terminatedLifetime time.Duration

	idleTimeout   time.Duration
	sweepInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// NewManager creates a session manager. Zero durations fall back to the
// package defaults.
func NewManager(eventBus bus.EventBus, log *logger.Logger, idleTimeout, sweepInterval time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = constants.SessionIdleTimeout
	}
	if sweepInterval <= 0 {
		sweepInterval = constants.SessionSweepInterval
	}
	return &Manager{
		eventBus:      eventBus,
		logger:        log.WithFields(zap.String("component", "session-manager")),
		sessions:      make(map[string]*Session),
		byTask:        make(map[string]string),
		idleTimeout:   idleTimeout,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
	}
}

// Start launches the idle sweep loop.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info("starting session manager",
		zap.Duration("idle_timeout", m.idleTimeout),
		zap.Duration("sweep_interval", m.sweepInterval))

	m.wg.Add(1)
	go m.sweepLoop(ctx)

	return nil
}

// Stop stops the sweep loop and terminates all remaining sessions.
func (m *Manager) Stop() error {
	m.logger.Info("stopping session manager")

	close(m.stopCh)
	m.wg.Wait()

	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.EndSession(context.Background(), id, "shutdown")
	}
	return nil
}

// CreateSession creates a new ready session.
func (m *Manager) CreateSession(ctx context.Context, workingDir string, opts Options) *Session {
	now := time.Now().UTC()
	sess := &Session{
		ID:               "session-" + uuid.New().String(),
		WorkingDirectory: workingDir,
		Options:          opts,
		CreatedAt:        now,
		status:           StatusReady,
		lastActivity:     now,
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	m.logger.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("working_dir", workingDir))
	m.publishEvent(ctx, events.SessionCreated, sess, nil)

	return sess
}

// GetSession returns a live session or ErrSessionNotFound. A terminated
// session has already left the map, so the error is the same whether the ID
// never existed or the session ended.
func (m *Manager) GetSession(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, errors.ErrSessionNotFound
	}
	return sess, nil
}

// FindSessionByTask returns the session advisorily linked to a task, or nil.
// The link is best-effort bookkeeping, not an ownership claim.
func (m *Manager) FindSessionByTask(taskID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byTask[taskID]
	if !ok {
		return nil
	}
	return m.sessions[id]
}

// LinkTask records the advisory session<->task association.
func (m *Manager) LinkTask(sessionID, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return errors.ErrSessionNotFound
	}

	sess.mu.Lock()
	sess.taskID = taskID
	sess.mu.Unlock()
	if taskID != "" {
		m.byTask[taskID] = sessionID
	}
	return nil
}

// LinkMCPSession records the MCP session that initiated this agent session.
func (m *Manager) LinkMCPSession(sessionID, mcpSessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return errors.ErrSessionNotFound
	}

	sess.mu.Lock()
	sess.mcpSessionID = mcpSessionID
	sess.mu.Unlock()
	return nil
}

// MarkError flags a session as errored without terminating it. The session
// stays in the map so its buffers remain inspectable until the sweep or an
// explicit end removes it.
func (m *Manager) MarkError(ctx context.Context, sessionID, reason string) {
	sess, err := m.GetSession(sessionID)
	if err != nil {
		return
	}
	sess.setStatus(StatusError)
	m.logger.Warn("session errored",
		zap.String("session_id", sessionID),
		zap.String("reason", reason))
	m.publishEvent(ctx, events.SessionFailed, sess, map[string]interface{}{"reason": reason})
}

// EndSession terminates a session: aborts any in-flight query, marks it
// terminated, and removes it from the map. Idempotent; ending an unknown or
// already-ended session is a no-op.
func (m *Manager) EndSession(ctx context.Context, sessionID, reason string) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, sessionID)
	sess.mu.Lock()
	if sess.taskID != "" && m.byTask[sess.taskID] == sessionID {
		delete(m.byTask, sess.taskID)
	}
	sess.mu.Unlock()
	m.terminatedCount++
	m.terminatedLifetime += time.Since(sess.CreatedAt)
	m.mu.Unlock()

	// Abort first so any running query observes cancellation before the
	// session reads as terminated.
	sess.Abort()
	sess.mu.Lock()
	sess.status = StatusTerminated
	sess.mu.Unlock()

	m.logger.Info("session terminated",
		zap.String("session_id", sessionID),
		zap.String("reason", reason))
	m.publishEvent(ctx, events.SessionTerminated, sess, map[string]interface{}{"reason": reason})
}

// CleanupOldSessions ends every session idle longer than maxAge and returns
// how many were removed. Busy sessions are skipped regardless of idle time:
// a session with a query in flight is not idle even when its last recorded
// activity predates the cutoff, so one sweep removes exactly the non-busy
// sessions past the threshold and leaves busy ones for a later sweep.
func (m *Manager) CleanupOldSessions(ctx context.Context, maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	m.mu.RLock()
	stale := make([]string, 0)
	for id, sess := range m.sessions {
		if sess.Busy() {
			continue
		}
		if sess.LastActivity().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.EndSession(ctx, id, "idle timeout")
	}

	if len(stale) > 0 {
		m.logger.Info("cleaned up idle sessions", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// ListSessions returns a snapshot of the live sessions.
func (m *Manager) ListSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		result = append(result, sess)
	}
	return result
}

// GetMetrics summarizes the session map.
func (m *Manager) GetMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics := Metrics{Terminated: m.terminatedCount}
	if m.terminatedCount > 0 {
		metrics.AvgTerminatedDuration = m.terminatedLifetime / time.Duration(m.terminatedCount)
	}
	for _, sess := range m.sessions {
		metrics.Active++
		switch sess.Status() {
		case StatusBusy:
			metrics.Busy++
		case StatusError:
			metrics.Errored++
		}
	}
	return metrics
}

func (m *Manager) publishEvent(ctx context.Context, eventType string, sess *Session, extra map[string]interface{}) {
	if m.eventBus == nil {
		return
	}

	data := map[string]interface{}{
		"session_id":  sess.ID,
		"status":      string(sess.Status()),
		"task_id":     sess.TaskID(),
		"working_dir": sess.WorkingDirectory,
		"created_at":  sess.CreatedAt,
	}
	for k, v := range extra {
		data[k] = v
	}

	event := bus.NewEvent(eventType, "session-manager", data)
	if err := m.eventBus.Publish(ctx, eventType, event); err != nil {
		m.logger.Error("failed to publish event",
			zap.String("event_type", eventType),
			zap.String("session_id", sess.ID),
			zap.Error(err))
	}
}

// sweepLoop periodically ends idle sessions.
func (m *Manager) sweepLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("session sweep stopped (context cancelled)")
			return
		case <-m.stopCh:
			m.logger.Info("session sweep stopped")
			return
		case <-ticker.C:
			m.CleanupOldSessions(ctx, m.idleTimeout)
		}
	}
}
