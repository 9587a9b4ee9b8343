package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/systempromptio/systemprompt-os/internal/common/logger"
)

func TestSubjectMatches(t *testing.T) {
	cases := []struct {
		subject string
		pattern string
		want    bool
	}{
		{"session.created", "session.created", true},
		{"session.created", "session.*", true},
		{"session.output", "session.*", true},
		{"session.created", "task.*", false},
		{"session.created.extra", "session.*", false},
		{"session.created.extra", "session.>", true},
		{"session.created", "session.>", true},
		{"module.started", ">", true},
		{"module.started", "*", false},
	}

	for _, tc := range cases {
		if got := subjectMatches(tc.subject, tc.pattern); got != tc.want {
			t.Errorf("subjectMatches(%q, %q) = %v, want %v", tc.subject, tc.pattern, got, tc.want)
		}
	}
}

func TestPublishSubscribe(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	defer b.Close()

	var mu sync.Mutex
	var received []*Event
	done := make(chan struct{})

	sub, err := b.Subscribe("session.*", func(ctx context.Context, event *Event) error {
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
		close(done)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	event := NewEvent("session.created", "test", map[string]interface{}{"session_id": "s1"})
	if err := b.Publish(context.Background(), "session.created", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}
	if received[0].Type != "session.created" {
		t.Errorf("unexpected event type %q", received[0].Type)
	}
	if received[0].ID == "" {
		t.Error("event should carry an id")
	}
}

func TestPublishNoMatchingSubscriber(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	defer b.Close()

	invoked := make(chan struct{}, 1)
	sub, _ := b.Subscribe("task.*", func(ctx context.Context, event *Event) error {
		invoked <- struct{}{}
		return nil
	})
	defer sub.Unsubscribe()

	event := NewEvent("session.created", "test", nil)
	if err := b.Publish(context.Background(), "session.created", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-invoked:
		t.Fatal("handler should not fire for non-matching subject")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	defer b.Close()

	invoked := make(chan struct{}, 1)
	sub, _ := b.Subscribe("session.*", func(ctx context.Context, event *Event) error {
		invoked <- struct{}{}
		return nil
	})
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	_ = b.Publish(context.Background(), "session.created", NewEvent("session.created", "test", nil))

	select {
	case <-invoked:
		t.Fatal("handler should not fire after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}
