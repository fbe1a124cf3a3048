package bootready

import (
	"context"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Observer defines the interface for objects that want to be notified of
// runtime events. Events are CloudEvents.
type Observer interface {
	// OnEvent is called on the runtime's notification goroutine.
	// Observers should handle events quickly to avoid blocking other observers.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier for this observer.
	ObserverID() string
}

// EventBus is the subset of a runtime's event subject the monitor uses.
// The monitor only registers and unregisters observers; it never publishes.
type EventBus interface {
	// RegisterObserver adds an observer. If eventTypes is empty, the
	// observer receives all events.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver removes an observer. It is idempotent.
	UnregisterObserver(observer Observer) error
}

// Publisher is implemented by event buses that accept events.
type Publisher interface {
	NotifyObservers(ctx context.Context, event cloudevents.Event) error
}

// CloudEvent types published by runtimes. They use reverse domain notation.
const (
	EventTypeModuleInstalled   = "com.bootready.module.installed"
	EventTypeModuleStarted     = "com.bootready.module.started"
	EventTypeModuleStopped     = "com.bootready.module.stopped"
	EventTypeModuleFailed      = "com.bootready.module.failed"
	EventTypeModuleUninstalled = "com.bootready.module.uninstalled"

	EventTypeFeatureInstalled   = "com.bootready.feature.installed"
	EventTypeFeatureUninstalled = "com.bootready.feature.uninstalled"

	EventTypeServiceRegistered   = "com.bootready.service.registered"
	EventTypeServiceUnregistered = "com.bootready.service.unregistered"

	EventTypeConfigUpdated         = "com.bootready.config.updated"
	EventTypeConfigDeleted         = "com.bootready.config.deleted"
	EventTypeConfigLocationChanged = "com.bootready.config.location_changed"
)

// FunctionalObserver adapts a function to the Observer interface.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates a new observer that uses the provided function
// to handle events.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{
		id:      id,
		handler: handler,
	}
}

// OnEvent implements the Observer interface by calling the handler function.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID implements the Observer interface by returning the observer ID.
func (f *FunctionalObserver) ObserverID() string {
	return f.id
}
