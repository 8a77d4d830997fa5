// Package messaging implements the in-process event bus that carries journey
// events from the engine to their subscribers.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tap-lms/journey-hub/internal/domain/shared"
)

// ErrEventBusClosed is returned when publishing to or subscribing on a closed bus.
var ErrEventBusClosed = errors.New("event bus is closed")

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBus delivers events to handlers registered in this process.
// In async mode handlers run on a bounded worker pool and Publish never blocks
// the engine on a slow subscriber.
type InMemoryEventBus struct {
	mu          sync.RWMutex
	handlers    map[shared.EventType][]shared.EventHandler
	allHandlers []shared.EventHandler
	asyncMode   bool
	workerPool  chan struct{}
	logger      *slog.Logger
	metrics     *EventBusMetrics
	closed      bool
	abortCh     chan struct{} // closed when Close gives up waiting
	wg          sync.WaitGroup
}

// InMemoryEventBusConfig contains configuration for InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers off the publisher's goroutine.
	AsyncMode bool

	// WorkerPoolSize bounds concurrent async handlers.
	WorkerPoolSize int

	Logger *slog.Logger
}

// DefaultInMemoryEventBusConfig returns sensible defaults.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 8,
	}
}

// NewInMemoryEventBus creates a new in-memory event bus.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 8
	}

	return &InMemoryEventBus{
		handlers:   make(map[shared.EventType][]shared.EventHandler),
		asyncMode:  config.AsyncMode,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		logger:     config.Logger.With("component", "event_bus"),
		metrics:    &EventBusMetrics{},
		abortCh:    make(chan struct{}),
	}
}

// Subscribe registers a handler for a specific event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.logger.Debug("subscribed handler", "event_type", eventType)
	return nil
}

// SubscribeAll registers a handler for all events.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}
	b.allHandlers = append(b.allHandlers, handler)
	return nil
}

// Publish sends an event to all subscribed handlers.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	handlers := make([]shared.EventHandler, 0, len(b.handlers[event.EventType()])+len(b.allHandlers))
	handlers = append(handlers, b.handlers[event.EventType()]...)
	handlers = append(handlers, b.allHandlers...)
	if b.asyncMode {
		// Add under the read lock so Close cannot start waiting in between.
		b.wg.Add(len(handlers))
	}
	b.mu.RUnlock()

	b.metrics.published.Add(1)

	for _, handler := range handlers {
		if b.asyncMode {
			go b.executeAsync(event, handler)
			continue
		}
		if err := b.execute(event, handler); err != nil {
			b.logger.Error("handler error", "event_type", event.EventType(), "error", err)
		}
	}
	return nil
}

func (b *InMemoryEventBus) executeAsync(event shared.Event, handler shared.EventHandler) {
	defer b.wg.Done()

	select {
	case b.workerPool <- struct{}{}:
		defer func() { <-b.workerPool }()
	case <-b.abortCh:
		b.metrics.dropped.Add(1)
		return
	}

	if err := b.execute(event, handler); err != nil {
		b.logger.Error("async handler error", "event_type", event.EventType(), "error", err)
	}
}

// execute runs one handler, turning a panic into an error.
func (b *InMemoryEventBus) execute(event shared.Event, handler shared.EventHandler) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		b.metrics.record(time.Since(start), err == nil)
	}()
	return handler(event)
}

// Close stops accepting events and waits for queued and running handlers.
// If ctx ends first, handlers still waiting for a worker are dropped.
func (b *InMemoryEventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("event bus closed")
		return nil
	case <-ctx.Done():
		close(b.abortCh)
		return fmt.Errorf("event bus close: %w", ctx.Err())
	}
}

// Metrics returns the bus counters.
func (b *InMemoryEventBus) Metrics() EventBusMetricsSnapshot {
	return b.metrics.Snapshot()
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// EventBusMetrics tracks event bus activity.
type EventBusMetrics struct {
	published     atomic.Int64
	executions    atomic.Int64
	failures      atomic.Int64
	dropped       atomic.Int64
	totalDuration atomic.Int64 // nanoseconds
}

func (m *EventBusMetrics) record(d time.Duration, success bool) {
	m.executions.Add(1)
	m.totalDuration.Add(int64(d))
	if !success {
		m.failures.Add(1)
	}
}

// EventBusMetricsSnapshot is a point-in-time copy of the counters.
type EventBusMetricsSnapshot struct {
	Published              int64         `json:"published"`
	HandlerExecutions      int64         `json:"handler_executions"`
	HandlerFailures        int64         `json:"handler_failures"`
	Dropped                int64         `json:"dropped"`
	AverageHandlerDuration time.Duration `json:"average_handler_duration"`
}

// Snapshot returns a copy of the counters.
func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	s := EventBusMetricsSnapshot{
		Published:         m.published.Load(),
		HandlerExecutions: m.executions.Load(),
		HandlerFailures:   m.failures.Load(),
		Dropped:           m.dropped.Load(),
	}
	if s.HandlerExecutions > 0 {
		s.AverageHandlerDuration = time.Duration(m.totalDuration.Load() / s.HandlerExecutions)
	}
	return s
}
