// Package eventbus is the in-process fan-out of orchestration events.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"legalmind/internal/domain"
)

type subscription struct {
	id      uint64
	handler domain.EventHandler
}

// Bus is an in-process, goroutine-safe event bus. Besides per-type and
// catch-all subscribers it supports subscribers scoped to a single run.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]subscription
	runs    map[string][]subscription
	allSubs []subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	now     func() time.Time
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{
		typed:  make(map[domain.EventType][]subscription),
		runs:   make(map[string][]subscription),
		logger: logger,
		now:    time.Now,
	}
}

// Publish fans out an event to matching typed, run-scoped and catch-all
// subscribers. Each handler is invoked in its own goroutine. Panicking
// handlers are recovered.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}

	b.mu.RLock()
	targets := make([]subscription, 0, len(b.typed[event.Type])+len(b.allSubs))
	targets = append(targets, b.typed[event.Type]...)
	if event.RunID != "" {
		targets = append(targets, b.runs[event.RunID]...)
	}
	targets = append(targets, b.allSubs...)
	b.mu.RUnlock()

	for _, sub := range targets {
		b.dispatch(ctx, event, sub)
	}
}

// Emit marshals payload and publishes it as eventType. A payload that cannot
// be encoded is logged and the event is published without it.
func (b *Bus) Emit(ctx context.Context, eventType domain.EventType, runID, sessionID string, payload any) {
	ev := domain.Event{Type: eventType, RunID: runID, SessionID: sessionID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			b.logger.Warn("event payload not encodable", "event", string(eventType), "error", err)
		} else {
			ev.Payload = data
		}
	}
	b.Publish(ctx, ev)
}

func (b *Bus) dispatch(ctx context.Context, event domain.Event, sub subscription) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("event handler panicked",
					"event", string(event.Type),
					"run_id", event.RunID,
					"panic", r,
				)
			}
		}()
		sub.handler(ctx, event)
	}()
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	sub := b.newSubscription(handler)

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.typed[eventType] = remove(b.typed[eventType], sub.id)
		if len(b.typed[eventType]) == 0 {
			delete(b.typed, eventType)
		}
	}
}

// SubscribeRun registers a handler that receives every event of one run.
// Returns an unsubscribe function.
func (b *Bus) SubscribeRun(runID string, handler domain.EventHandler) func() {
	sub := b.newSubscription(handler)

	b.mu.Lock()
	b.runs[runID] = append(b.runs[runID], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.runs[runID] = remove(b.runs[runID], sub.id)
		if len(b.runs[runID]) == 0 {
			delete(b.runs, runID)
		}
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	sub := b.newSubscription(handler)

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.allSubs = remove(b.allSubs, sub.id)
	}
}

// Subscribers returns the number of registered handlers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.allSubs)
	for _, subs := range b.typed {
		n += len(subs)
	}
	for _, subs := range b.runs {
		n += len(subs)
	}
	return n
}

func (b *Bus) newSubscription(handler domain.EventHandler) subscription {
	return subscription{id: b.nextID.Add(1), handler: handler}
}

// remove returns subs without the subscription id. The result never aliases
// a slice a concurrent Publish may still be reading.
func remove(subs []subscription, id uint64) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Close prevents new publishes and waits for all in-flight handlers to finish.
// Close is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}

var _ domain.EventBus = (*Bus)(nil)
