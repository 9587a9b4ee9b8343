package session

import (
	"context"
	"testing"
	"time"

	"github.com/systempromptio/systemprompt-os/internal/common/errors"
	"github.com/systempromptio/systemprompt-os/internal/common/logger"
)

func newTestManager() *Manager {
	return NewManager(nil, logger.Default(), time.Hour, time.Hour)
}

func TestCreateAndGetSession(t *testing.T) {
	m := newTestManager()

	sess := m.CreateSession(context.Background(), "/work", Options{Model: "test-model"})
	if sess.ID == "" {
		t.Fatal("session should get an ID")
	}
	if sess.Status() != StatusReady {
		t.Errorf("new session should be ready, got %s", sess.Status())
	}

	got, err := m.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got != sess {
		t.Error("GetSession returned wrong session")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	m := newTestManager()

	_, err := m.GetSession("session-nope")
	if err != errors.ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestEndSessionIdempotent(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	sess := m.CreateSession(ctx, "/work", Options{})
	m.EndSession(ctx, sess.ID, "test")

	if _, err := m.GetSession(sess.ID); err != errors.ErrSessionNotFound {
		t.Error("terminated session should be gone from the map")
	}
	if sess.Status() != StatusTerminated {
		t.Errorf("expected terminated, got %s", sess.Status())
	}

	// Ending again, or ending an unknown id, must not panic or error.
	m.EndSession(ctx, sess.ID, "again")
	m.EndSession(ctx, "session-unknown", "noop")
}

func TestEndSessionAbortsInFlightQuery(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	sess := m.CreateSession(ctx, "/work", Options{})
	qctx, cancel := context.WithCancel(ctx)
	if err := sess.BeginQuery(cancel); err != nil {
		t.Fatalf("BeginQuery failed: %v", err)
	}

	m.EndSession(ctx, sess.ID, "test")

	select {
	case <-qctx.Done():
	case <-time.After(time.Second):
		t.Fatal("in-flight query context should be cancelled by EndSession")
	}
}

func TestBeginQueryRejectsConcurrent(t *testing.T) {
	m := newTestManager()
	sess := m.CreateSession(context.Background(), "/work", Options{})

	_, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	if err := sess.BeginQuery(cancel1); err != nil {
		t.Fatalf("first BeginQuery failed: %v", err)
	}
	if sess.Status() != StatusBusy {
		t.Errorf("session should be busy, got %s", sess.Status())
	}

	_, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	if err := sess.BeginQuery(cancel2); err != errors.ErrSessionBusy {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}

	sess.EndQuery(false)
	if sess.Status() != StatusReady {
		t.Errorf("session should return to ready, got %s", sess.Status())
	}
	if err := sess.BeginQuery(cancel2); err != nil {
		t.Errorf("BeginQuery after EndQuery failed: %v", err)
	}
}

func TestEndQueryFailedMarksError(t *testing.T) {
	m := newTestManager()
	sess := m.CreateSession(context.Background(), "/work", Options{})

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = sess.BeginQuery(cancel)
	sess.EndQuery(true)

	if sess.Status() != StatusError {
		t.Errorf("expected error status, got %s", sess.Status())
	}
}

func TestFindSessionByTask(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	sess := m.CreateSession(ctx, "/work", Options{})
	if err := m.LinkTask(sess.ID, "task-1"); err != nil {
		t.Fatalf("LinkTask failed: %v", err)
	}

	if got := m.FindSessionByTask("task-1"); got != sess {
		t.Error("FindSessionByTask returned wrong session")
	}
	if got := m.FindSessionByTask("task-2"); got != nil {
		t.Error("unknown task should yield nil")
	}

	m.EndSession(ctx, sess.ID, "test")
	if got := m.FindSessionByTask("task-1"); got != nil {
		t.Error("task link should be cleared when the session ends")
	}
}

func TestCleanupOldSessions(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	old := m.CreateSession(ctx, "/work", Options{})
	old.mu.Lock()
	old.lastActivity = time.Now().Add(-2 * time.Hour)
	old.mu.Unlock()

	fresh := m.CreateSession(ctx, "/work", Options{})

	// A busy session is never swept, no matter how idle.
	busy := m.CreateSession(ctx, "/work", Options{})
	_, cancel := context.WithCancel(ctx)
	defer cancel()
	_ = busy.BeginQuery(cancel)
	busy.mu.Lock()
	busy.lastActivity = time.Now().Add(-2 * time.Hour)
	busy.mu.Unlock()

	count := m.CleanupOldSessions(ctx, time.Hour)
	if count != 1 {
		t.Fatalf("expected 1 session cleaned, got %d", count)
	}
	if _, err := m.GetSession(old.ID); err == nil {
		t.Error("idle session should have been removed")
	}
	if _, err := m.GetSession(fresh.ID); err != nil {
		t.Error("fresh session should survive cleanup")
	}
	if _, err := m.GetSession(busy.ID); err != nil {
		t.Error("busy session should survive cleanup")
	}
}

func TestGetMetrics(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	s1 := m.CreateSession(ctx, "/work", Options{})
	s2 := m.CreateSession(ctx, "/work", Options{})
	_, cancel := context.WithCancel(ctx)
	defer cancel()
	_ = s2.BeginQuery(cancel)

	s3 := m.CreateSession(ctx, "/work", Options{})
	m.EndSession(ctx, s3.ID, "test")

	metrics := m.GetMetrics()
	if metrics.Active != 2 {
		t.Errorf("expected 2 active, got %d", metrics.Active)
	}
	if metrics.Busy != 1 {
		t.Errorf("expected 1 busy, got %d", metrics.Busy)
	}
	if metrics.Terminated != 1 {
		t.Errorf("expected 1 terminated, got %d", metrics.Terminated)
	}
	_ = s1
}

func TestAvgTerminatedDuration(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	if got := m.GetMetrics().AvgTerminatedDuration; got != 0 {
		t.Errorf("expected zero average before any termination, got %v", got)
	}

	s1 := m.CreateSession(ctx, "/work", Options{})
	s1.CreatedAt = time.Now().Add(-10 * time.Second)
	m.EndSession(ctx, s1.ID, "test")

	s2 := m.CreateSession(ctx, "/work", Options{})
	s2.CreatedAt = time.Now().Add(-20 * time.Second)
	m.EndSession(ctx, s2.ID, "test")

	avg := m.GetMetrics().AvgTerminatedDuration
	if avg < 14*time.Second || avg > 16*time.Second {
		t.Errorf("expected average near 15s, got %v", avg)
	}
}

func TestOutputBuffer(t *testing.T) {
	m := newTestManager()
	sess := m.CreateSession(context.Background(), "/work", Options{})

	sess.AppendOutput("one")
	sess.AppendOutput("two")

	snap := sess.OutputSnapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 buffered chunks, got %d", len(snap))
	}

	drained := sess.DrainOutput()
	if len(drained) != 2 || drained[0] != "one" || drained[1] != "two" {
		t.Errorf("unexpected drained output: %v", drained)
	}
	if len(sess.DrainOutput()) != 0 {
		t.Error("buffer should be empty after drain")
	}
}
