// Package host is an in-process modular runtime. It installs, starts and
// stops modules, keeps a feature repository, a managed service registry, a
// configuration admin and an event bus, and exposes all of it through the
// bootready.Runtime contract so a SystemMonitor can observe it.
//
// Basic usage:
//
//	h := host.New(host.WithLogger(logger))
//	defer h.Close(ctx)
//	if err := h.InstallModule(ctx, host.ModuleDefinition{Name: "core", Version: "1.0.0"}); err != nil {
//		return err
//	}
//	monitor, err := bootready.NewSystemMonitor(h)
package host

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/GoCodeAlone/bootready"
)

// DefaultStopTimeout bounds module shutdown in Close.
const DefaultStopTimeout = 30 * time.Second

// Host is the reference runtime.
type Host struct {
	logger bootready.Logger
	bus    *EventBus

	mu       sync.RWMutex
	modules  []*moduleEntry
	features map[string][]*featureEntry
	closed   bool

	services *serviceRegistry
	configs  *configAdmin

	// ctx is the lifecycle context handed to activators.
	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
}

var _ bootready.Runtime = (*Host)(nil)

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the host logger.
func WithLogger(logger bootready.Logger) Option {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithPersistence stores configuration records through p.
func WithPersistence(p Persistence) Option {
	return func(h *Host) {
		h.configs.persistence = p
	}
}

// New creates an empty host.
func New(opts ...Option) *Host {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		logger:   noopLogger{},
		features: make(map[string][]*featureEntry),
		ctx:      ctx,
		cancel:   cancel,
	}
	h.configs = newConfigAdmin(h)
	for _, opt := range opts {
		opt(h)
	}
	h.bus = NewEventBus(h.logger)
	h.services = newServiceRegistry()
	return h
}

// Events returns the host's event bus.
func (h *Host) Events() *EventBus {
	return h.bus
}

// RegisterObserver implements bootready.EventBus.
func (h *Host) RegisterObserver(observer bootready.Observer, eventTypes ...string) error {
	return h.bus.RegisterObserver(observer, eventTypes...)
}

// UnregisterObserver implements bootready.EventBus.
func (h *Host) UnregisterObserver(observer bootready.Observer) error {
	return h.bus.UnregisterObserver(observer)
}

// Close stops every started module in reverse install order, waits for
// in-flight activations and configuration deliveries, and rejects further
// mutations.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	entries := slices.Clone(h.modules)
	h.mu.Unlock()

	h.cancel()
	h.tasks.Wait()

	stopCtx, cancel := context.WithTimeout(ctx, DefaultStopTimeout)
	defer cancel()

	slices.Reverse(entries)
	var lastErr error
	for _, entry := range entries {
		if err := h.stopEntry(stopCtx, entry); err != nil {
			h.logger.Error("Error stopping module", "module", entry.def.Name, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// spawnLocked runs fn on a tracked goroutine bound to the host lifecycle.
// The caller holds h.mu and has checked that the host is open.
func (h *Host) spawnLocked(fn func(ctx context.Context)) {
	h.tasks.Add(1)
	go func() {
		defer h.tasks.Done()
		fn(h.ctx)
	}()
}

// spawn is spawnLocked for callers not holding h.mu. It reports false when
// the host is closed and fn was not run.
func (h *Host) spawn(fn func(ctx context.Context)) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return false
	}
	h.spawnLocked(fn)
	return true
}

func (h *Host) emit(eventType string, subject string, data any) {
	event := bootready.NewCloudEvent(eventType, eventSource, data, nil)
	if subject != "" {
		event.SetSubject(subject)
	}
	h.bus.publish(h.ctx, event)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}
