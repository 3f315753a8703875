package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type collectingSink struct {
	mu     sync.Mutex
	events []OperationEvent
}

func (s *collectingSink) Deliver(_ context.Context, event OperationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *collectingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventFeed_DeliversToSinks(t *testing.T) {
	sink := &collectingSink{}
	feed := NewEventFeed([]EventSink{sink}, 2, discardLogger())

	for i := 0; i < 5; i++ {
		err := feed.Publish(context.Background(), OperationEvent{
			Type:      EventOperationCompleted,
			Operation: "deposit",
			Owner:     "alice",
			Amount:    uint64(i + 1),
		})
		if err != nil {
			t.Fatalf("unexpected publish error: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := feed.Shutdown(ctx); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}

	if sink.count() != 5 {
		t.Errorf("expected 5 delivered events, got %d", sink.count())
	}
}

func TestEventFeed_SetsCreatedAt(t *testing.T) {
	sink := &collectingSink{}
	feed := NewEventFeed([]EventSink{sink}, 1, discardLogger())

	if err := feed.Publish(context.Background(), OperationEvent{
		Type:      EventOperationFailed,
		Operation: "withdraw",
		Owner:     "bob",
		Reason:    "insufficient funds",
	}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := feed.Shutdown(ctx); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 1 {
		t.Fatalf("expected one event, got %d", len(sink.events))
	}
	if sink.events[0].CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be stamped on publish")
	}
}

func TestEventFeed_PublishAfterShutdownFails(t *testing.T) {
	feed := NewEventFeed(nil, 1, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := feed.Shutdown(ctx); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}

	if err := feed.Publish(context.Background(), OperationEvent{Operation: "deposit"}); err == nil {
		t.Error("expected publish to fail after shutdown")
	}
}
