package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/GoCodeAlone/bootready"
)

// eventSource is the CloudEvents source of everything the host publishes.
const eventSource = "bootready/host"

type observerRegistration struct {
	observer     bootready.Observer
	eventTypes   map[string]bool
	registeredAt time.Time
}

// ObserverInfo describes a registered observer.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// EventBus delivers CloudEvents to registered observers. Delivery is
// asynchronous: each observer is notified on its own goroutine and a
// panicking observer is logged and otherwise ignored.
type EventBus struct {
	logger    bootready.Logger
	observers map[string]*observerRegistration
	mu        sync.RWMutex
	inflight  sync.WaitGroup
}

var _ bootready.Publisher = (*EventBus)(nil)

// NewEventBus creates an empty event bus.
func NewEventBus(logger bootready.Logger) *EventBus {
	return &EventBus{
		logger:    logger,
		observers: make(map[string]*observerRegistration),
	}
}

// RegisterObserver adds an observer. With no eventTypes the observer
// receives every event. Registering the same ObserverID again replaces the
// earlier registration.
func (b *EventBus) RegisterObserver(observer bootready.Observer, eventTypes ...string) error {
	if observer == nil {
		return ErrNilObserver
	}

	types := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers[observer.ObserverID()] = &observerRegistration{
		observer:     observer,
		eventTypes:   types,
		registeredAt: time.Now(),
	}

	b.logger.Debug("Observer registered", "observerID", observer.ObserverID(), "eventTypes", eventTypes)
	return nil
}

// UnregisterObserver removes an observer. It is idempotent.
func (b *EventBus) UnregisterObserver(observer bootready.Observer) error {
	if observer == nil {
		return ErrNilObserver
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.observers[observer.ObserverID()]; ok {
		delete(b.observers, observer.ObserverID())
		b.logger.Debug("Observer unregistered", "observerID", observer.ObserverID())
	}
	return nil
}

// NotifyObservers validates event and hands it to every interested
// observer without waiting for them.
func (b *EventBus) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	if event.Time().IsZero() {
		event.SetTime(time.Now())
	}
	if err := event.Validate(); err != nil {
		b.logger.Error("Invalid CloudEvent", "eventType", event.Type(), "error", err)
		return fmt.Errorf("invalid event: %w", err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, registration := range b.observers {
		if len(registration.eventTypes) > 0 && !registration.eventTypes[event.Type()] {
			continue
		}

		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("Observer panicked", "observerID", registration.observer.ObserverID(), "event", event.Type(), "panic", r)
				}
			}()

			if err := registration.observer.OnEvent(ctx, event); err != nil {
				b.logger.Error("Observer error", "observerID", registration.observer.ObserverID(), "event", event.Type(), "error", err)
			}
		}()
	}
	return nil
}

// Observers returns the current registrations.
func (b *EventBus) Observers() []ObserverInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	info := make([]ObserverInfo, 0, len(b.observers))
	for _, registration := range b.observers {
		types := make([]string, 0, len(registration.eventTypes))
		for t := range registration.eventTypes {
			types = append(types, t)
		}
		info = append(info, ObserverInfo{
			ID:           registration.observer.ObserverID(),
			EventTypes:   types,
			RegisteredAt: registration.registeredAt,
		})
	}
	return info
}

// Drain blocks until every notification started so far has returned.
func (b *EventBus) Drain() {
	b.inflight.Wait()
}

// publish emits a host event, logging rather than returning failures.
func (b *EventBus) publish(ctx context.Context, event cloudevents.Event) {
	if err := b.NotifyObservers(ctx, event); err != nil {
		b.logger.Error("Failed to notify observers", "event", event.Type(), "error", err)
	}
}
