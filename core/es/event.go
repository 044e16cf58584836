package es

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/codewandler/aggrepo-go/core/reflector"
)

// DomainEvent is an event of one aggregate in memory: the payload plus the
// key and version it was raised at.
type DomainEvent[K comparable] struct {
	Key        K
	Version    Version
	Type       string
	OccurredAt time.Time
	Payload    any
}

// EventHandler applies one event payload type to an aggregate of type T.
// Build it with On.
type EventHandler[T any] struct {
	eventType string
	newEvent  func() any
	apply     func(agg T, event any) error
}

// On registers fn for events of type E. Payloads may be E or *E.
func On[T any, E any](fn func(agg T, e *E) error) EventHandler[T] {
	eventType := reflector.NameFor[E]()
	return EventHandler[T]{
		eventType: eventType,
		newEvent:  func() any { return new(E) },
		apply: func(agg T, event any) error {
			switch e := event.(type) {
			case *E:
				return fn(agg, e)
			case E:
				return fn(agg, &e)
			}
			return fmt.Errorf("handler for %s got %T", eventType, event)
		},
	}
}

// EventHandlers is the static map from event type to handler of one aggregate
// type. Build it once, at package init, and share it.
type EventHandlers[T any] struct {
	handlers map[string]EventHandler[T]
}

// NewEventHandlers builds the handler map. AggregateCreated is registered
// automatically when T embeds BaseAggregate, AggregateRestored always.
// Registering a type twice panics.
func NewEventHandlers[T any](handlers ...EventHandler[T]) *EventHandlers[T] {
	h := &EventHandlers[T]{handlers: make(map[string]EventHandler[T], len(handlers)+2)}

	var zero T
	if _, ok := any(zero).(createdApplier); ok {
		h.add(On(func(agg T, e *AggregateCreated) error {
			any(agg).(createdApplier).applyCreated(e)
			return nil
		}))
	}
	h.add(On(func(T, *AggregateRestored) error { return nil }))
	for _, eh := range handlers {
		h.add(eh)
	}
	return h
}

func (h *EventHandlers[T]) add(eh EventHandler[T]) {
	if _, ok := h.handlers[eh.eventType]; ok {
		panic(fmt.Sprintf("es: duplicate event handler for %s", eh.eventType))
	}
	h.handlers[eh.eventType] = eh
}

// Apply dispatches event to its handler.
func (h *EventHandlers[T]) Apply(agg T, event any) error {
	name := reflector.NameOf(event)
	eh, ok := h.handlers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingEventHandler, name)
	}
	return eh.apply(agg, event)
}

// Handles reports whether an event type name is registered.
func (h *EventHandlers[T]) Handles(eventType string) bool {
	_, ok := h.handlers[eventType]
	return ok
}

// Types returns the registered event type names.
func (h *EventHandlers[T]) Types() []string {
	out := make([]string, 0, len(h.handlers))
	for t := range h.handlers {
		out = append(out, t)
	}
	return out
}

// Decode turns a persisted envelope back into a payload of its registered type.
func (h *EventHandlers[T]) Decode(env Envelope) (any, error) {
	eh, ok := h.handlers[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.Type)
	}
	ev := eh.newEvent()
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
	}
	return ev, nil
}
