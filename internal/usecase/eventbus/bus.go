package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ppi-control/internal/domain"
)

// anyType keys subscriptions that receive every event.
const anyType domain.EventType = ""

type subscription struct {
	id      uint64
	handler domain.EventHandler
}

// Bus is an in-process, goroutine-safe broadcast fan-out. Delivery is
// best-effort: handlers run asynchronously and their outcome is never reported
// back to the publisher.
type Bus struct {
	mu        sync.RWMutex
	subs      map[domain.EventType][]subscription
	nextID    atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
	logger    *slog.Logger
	wg        sync.WaitGroup
	closed    atomic.Bool
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[domain.EventType][]subscription),
		logger: logger,
	}
}

// Emit marshals payload and publishes it as an event of the given type.
func (b *Bus) Emit(ctx context.Context, eventType domain.EventType, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", eventType, err)
		}
		raw = data
	}
	b.Publish(ctx, domain.Event{Type: eventType, Timestamp: time.Now().UTC(), Payload: raw})
	return nil
}

// Publish fans out an event to typed subscribers first, then to
// all-event subscribers. Publishing after Close is counted and dropped.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		b.dropped.Add(1)
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	targets := make([]subscription, 0, len(b.subs[event.Type])+len(b.subs[anyType]))
	targets = append(targets, b.subs[event.Type]...)
	targets = append(targets, b.subs[anyType]...)
	b.mu.RUnlock()

	b.published.Add(1)
	for _, sub := range targets {
		b.dispatch(ctx, event, sub)
	}
}

func (b *Bus) dispatch(ctx context.Context, event domain.Event, sub subscription) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("event handler panicked",
					"event", string(event.Type),
					"subscription", sub.id,
					"panic", r,
				)
			}
		}()
		sub.handler(ctx, event)
	}()
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler that receives every event.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add(anyType, handler)
}

func (b *Bus) add(key domain.EventType, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.subs[key] = append(b.subs[key], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[key]
			for i, s := range subs {
				if s.id == id {
					b.subs[key] = append(subs[:i:i], subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Stats reports how many events were published and how many were dropped
// after Close.
func (b *Bus) Stats() (published, dropped uint64) {
	return b.published.Load(), b.dropped.Load()
}

// Close stops accepting events and waits for in-flight handlers.
// It is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}

var _ domain.EventBus = (*Bus)(nil)
