package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus is a publish-subscribe hub. Emit delivers asynchronously;
// EmitSync waits for every handler so that consecutive EmitSync calls are
// observed in order.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopped  bool
	inflight sync.WaitGroup
	logger   zerolog.Logger
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]handlerEntry),
		logger:   log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a handler for an event type. The name identifies the
// handler in logs.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{
		name:    name,
		handler: handler,
	})

	eb.logger.Trace().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// snapshot returns the handlers for an event, or nil once stopped.
func (eb *EventBus) snapshot(eventType EventType) []handlerEntry {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return nil
	}
	handlers := eb.handlers[eventType]
	out := make([]handlerEntry, len(handlers))
	copy(out, handlers)
	return out
}

// Emit publishes an event to all subscribed handlers asynchronously.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	// Add under the read lock so Stop cannot start waiting in between.
	eb.mu.RLock()
	if eb.stopped {
		eb.mu.RUnlock()
		return
	}
	handlers := append([]handlerEntry(nil), eb.handlers[event.Type]...)
	eb.inflight.Add(len(handlers))
	eb.mu.RUnlock()

	for _, h := range handlers {
		h := h
		go func() {
			defer eb.inflight.Done()
			eb.call(ctx, h, event)
		}()
	}
}

// EmitSync publishes an event and waits for all handlers to complete.
// Handler errors are joined.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	handlers := eb.snapshot(event.Type)
	if len(handlers) == 0 {
		return nil
	}

	errs := make([]error, len(handlers))
	var wg sync.WaitGroup
	for i, h := range handlers {
		i, h := i, h
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = eb.call(ctx, h, event)
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

// call runs one handler, turning panics into errors.
func (eb *EventBus) call(ctx context.Context, h handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", h.name, r)
			eb.logger.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err = h.handler(ctx, event); err != nil {
		eb.logger.Warn().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", h.name).
			Msg("handler returned error")
	}
	return err
}

// Stop rejects further events and waits for in-flight async handlers.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	eb.stopped = true
	eb.mu.Unlock()

	eb.inflight.Wait()
	eb.logger.Debug().Msg("event bus stopped")
}

// HandlerCount returns the number of handlers registered for an event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
