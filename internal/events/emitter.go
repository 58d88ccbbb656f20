package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// allTypes is the subscription key of handlers registered for every event.
const allTypes = ""

// InMemoryEventEmitter delivers events synchronously to the handlers
// subscribed in this process.
type InMemoryEventEmitter struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
	logger   *slog.Logger
}

// NewInMemoryEventEmitter creates an emitter with no handlers.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryEventEmitter{
		handlers: make(map[string][]EventHandler),
		logger:   logger.With("component", "event_emitter"),
	}
}

// RegisterHandler subscribes handler to every event type.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler) {
	e.Subscribe(allTypes, handler)
}

// Subscribe registers handler for events of eventType only.
func (e *InMemoryEventEmitter) Subscribe(eventType string, handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[eventType] = append(e.handlers[eventType], handler)
	e.logger.Debug("event handler subscribed", "event_type", eventType)
}

// EmitEvent runs every handler subscribed to the event's type, then the
// handlers registered for all types. A failing or panicking handler does not
// stop delivery to the others; their errors are joined.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	e.mu.RLock()
	handlers := append([]EventHandler(nil), e.handlers[event.Type]...)
	if event.Type != allTypes {
		handlers = append(handlers, e.handlers[allTypes]...)
	}
	e.mu.RUnlock()

	log := e.logger.With("event_id", event.ID, "event_type", event.Type)
	if len(handlers) == 0 {
		log.Debug("no handlers subscribed to event")
		return nil
	}

	var errs []error
	for _, handler := range handlers {
		if err := deliver(ctx, handler, event); err != nil {
			log.Error("event handler failed", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func deliver(ctx context.Context, handler EventHandler, event *Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("event handler panicked: %v", p)
		}
	}()
	return handler.HandleEvent(ctx, event)
}
