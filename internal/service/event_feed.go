package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bankledger/internal/domain"
)

type EventType string

const (
	EventOperationCompleted EventType = "operation_completed"
	EventOperationFailed    EventType = "operation_failed"
)

// OperationEvent is the audit trail entry emitted after each ledger
// operation attempt; the presentation layer surfaces these to users.
type OperationEvent struct {
	Type        EventType
	Operation   string
	OperationID string
	Owner       domain.Identity
	Amount      uint64
	Reason      string
	CreatedAt   time.Time
}

type EventSink interface {
	Deliver(ctx context.Context, event OperationEvent) error
}

// EventFeed fans operation events out to its sinks asynchronously so
// ledger callers never block on delivery.
type EventFeed struct {
	sinks        []EventSink
	eventQueue   chan OperationEvent
	workers      int
	shutdownChan chan struct{}
	wg           sync.WaitGroup
	logger       *slog.Logger
}

func NewEventFeed(sinks []EventSink, workers int, logger *slog.Logger) *EventFeed {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}

	feed := &EventFeed{
		sinks:        sinks,
		eventQueue:   make(chan OperationEvent, 1000),
		workers:      workers,
		shutdownChan: make(chan struct{}),
		logger:       logger,
	}

	feed.startWorkers()

	return feed
}

func (f *EventFeed) Publish(ctx context.Context, event OperationEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	select {
	case f.eventQueue <- event:
		return nil
	case <-f.shutdownChan:
		return fmt.Errorf("event feed is shut down")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *EventFeed) startWorkers() {
	for i := 0; i < f.workers; i++ {
		f.wg.Add(1)
		go f.worker(i)
	}
}

func (f *EventFeed) worker(id int) {
	defer f.wg.Done()

	for {
		select {
		case event := <-f.eventQueue:
			f.deliver(event)
		case <-f.shutdownChan:
			// Drain what is already queued before exiting.
			for {
				select {
				case event := <-f.eventQueue:
					f.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (f *EventFeed) deliver(event OperationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, sink := range f.sinks {
		if err := sink.Deliver(ctx, event); err != nil {
			f.logger.Error("Event delivery failed",
				slog.String("operation", event.Operation),
				slog.String("operation_id", event.OperationID),
				slog.String("error", err.Error()))
		}
	}
}

// Shutdown stops the workers, letting them drain the queue, and waits
// up to the context deadline.
func (f *EventFeed) Shutdown(ctx context.Context) error {
	close(f.shutdownChan)

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		f.logger.Info("Event feed shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSink writes every operation event to the structured log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(ctx context.Context, event OperationEvent) error {
	attrs := []any{
		slog.String("type", string(event.Type)),
		slog.String("operation", event.Operation),
		slog.String("owner", string(event.Owner)),
		slog.Uint64("amount", event.Amount),
	}
	if event.OperationID != "" {
		attrs = append(attrs, slog.String("operation_id", event.OperationID))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	s.logger.Info("Ledger operation event", attrs...)
	return nil
}
