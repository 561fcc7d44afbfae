// util/event_bus.go

package util

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	logger "github.com/neottil/ditto/logging"
	"github.com/neottil/ditto/model"
)

const (
	EventEntityChanged = "entity.changed"
	EventPolicyChanged = "policy.changed"
)

// Event represents a change event in the system
type Event struct {
	Type     string
	Metadata model.Metadata
}

// EventHandler is a function that handles an event
type EventHandler func(context.Context, Event) error

// EventBus manages event subscriptions and publications
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	errorChan   chan error
}

// NewEventBus creates a new EventBus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]EventHandler),
		errorChan:   make(chan error, 100), // Buffer size can be adjusted
	}
}

// Subscribe adds a new subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType string, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], handler)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(ctx context.Context, eventType string, metadata model.Metadata) {
	eb.mu.RLock()
	handlers, exists := eb.subscribers[eventType]
	eb.mu.RUnlock()

	if !exists {
		return
	}

	event := Event{
		Type:     eventType,
		Metadata: metadata,
	}

	for _, handler := range handlers {
		go func(h EventHandler) {
			if err := h(ctx, event); err != nil {
				select {
				case eb.errorChan <- fmt.Errorf("event handler error: %w", err):
				default:
					// If error channel is full, log the error
					logger.Error("Error channel full, logging event handler error",
						zap.Error(err),
						zap.String("eventType", eventType))
				}
			}
		}(handler)
	}
}

// Start begins processing events and handling errors
func (eb *EventBus) Start(ctx context.Context) {
	go eb.processErrors(ctx)
}

// processErrors handles errors from event handlers
func (eb *EventBus) processErrors(ctx context.Context) {
	for {
		select {
		case err := <-eb.errorChan:
			logger.Error("Event handler error", zap.Error(err))
		case <-ctx.Done():
			return
		}
	}
}

// ChangeStream funnels entity and policy change events into the metadata
// channel consumed by the enforcement flow.
func (eb *EventBus) ChangeStream(ctx context.Context, buffer int) <-chan model.Metadata {
	changes := make(chan model.Metadata, buffer)
	forward := func(ctx context.Context, event Event) error {
		select {
		case changes <- event.Metadata:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	eb.Subscribe(EventEntityChanged, forward)
	eb.Subscribe(EventPolicyChanged, forward)
	go func() {
		<-ctx.Done()
		close(changes)
	}()
	return changes
}
