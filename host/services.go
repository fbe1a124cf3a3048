package host

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/GoCodeAlone/bootready"
)

// ManagedService receives the configuration stored under its pid.
type ManagedService interface {
	Updated(ctx context.Context, properties map[string]any) error
}

// ManagedServiceFactory receives every configuration created for its
// factory pid, each under its own generated pid.
type ManagedServiceFactory interface {
	Updated(ctx context.Context, pid string, properties map[string]any) error
	Deleted(ctx context.Context, pid string)
}

type serviceEntry struct {
	ref     bootready.ServiceRef
	managed ManagedService
	factory ManagedServiceFactory
}

type serviceRegistry struct {
	mu      sync.RWMutex
	nextID  int64
	entries []*serviceEntry
}

func newServiceRegistry() *serviceRegistry {
	return &serviceRegistry{}
}

func (r *serviceRegistry) add(kind bootready.ServiceKind, props map[string]any, managed ManagedService, factory ManagedServiceFactory) bootready.ServiceRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	entry := &serviceEntry{
		ref:     bootready.ServiceRef{ID: r.nextID, Kind: kind, Properties: props},
		managed: managed,
		factory: factory,
	}
	r.entries = append(r.entries, entry)
	return entry.ref
}

func (r *serviceRegistry) remove(id int64) (bootready.ServiceRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.ref.ID == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return e.ref, true
		}
	}
	return bootready.ServiceRef{}, false
}

// find returns the first entry of kind whose prop equals value.
func (r *serviceRegistry) find(kind bootready.ServiceKind, prop, value string) *serviceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.ref.Kind == kind && e.ref.Property(prop) == value {
			return e
		}
	}
	return nil
}

func (r *serviceRegistry) match(kind bootready.ServiceKind, f filter) []bootready.ServiceRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []bootready.ServiceRef
	for _, e := range r.entries {
		if e.ref.Kind != kind || !f.match(e.ref.Properties) {
			continue
		}
		ref := e.ref
		ref.Properties = maps.Clone(e.ref.Properties)
		out = append(out, ref)
	}
	return out
}

// RegisterManagedService registers svc under pid. A configuration already
// stored for pid is delivered asynchronously.
func (h *Host) RegisterManagedService(ctx context.Context, pid string, svc ManagedService) (int64, error) {
	if pid == "" {
		return 0, ErrEmptyPID
	}
	if h.services.find(bootready.ServiceKindManagedService, bootready.PropServicePID, pid) != nil {
		return 0, fmt.Errorf("%w: %s", ErrServiceExists, pid)
	}

	ref := h.services.add(bootready.ServiceKindManagedService,
		map[string]any{bootready.PropServicePID: pid}, svc, nil)
	h.logger.Debug("Managed service registered", "pid", pid, "serviceID", ref.ID)
	h.emit(bootready.EventTypeServiceRegistered, pid, ref)

	h.configs.redeliver(ctx, pid, "")
	return ref.ID, nil
}

// RegisterManagedServiceFactory registers factory under factoryPID. Every
// configuration already stored for factoryPID is delivered asynchronously.
func (h *Host) RegisterManagedServiceFactory(ctx context.Context, factoryPID string, factory ManagedServiceFactory) (int64, error) {
	if factoryPID == "" {
		return 0, ErrEmptyPID
	}
	if h.services.find(bootready.ServiceKindManagedServiceFactory, bootready.PropFactoryPID, factoryPID) != nil {
		return 0, fmt.Errorf("%w: %s", ErrServiceExists, factoryPID)
	}

	ref := h.services.add(bootready.ServiceKindManagedServiceFactory, map[string]any{
		bootready.PropServicePID: factoryPID,
		bootready.PropFactoryPID: factoryPID,
	}, nil, factory)
	h.logger.Debug("Managed service factory registered", "factoryPid", factoryPID, "serviceID", ref.ID)
	h.emit(bootready.EventTypeServiceRegistered, factoryPID, ref)

	h.configs.redeliver(ctx, "", factoryPID)
	return ref.ID, nil
}

// UnregisterService removes a service registration.
func (h *Host) UnregisterService(_ context.Context, id int64) error {
	ref, ok := h.services.remove(id)
	if !ok {
		return fmt.Errorf("service %d not registered", id)
	}
	h.emit(bootready.EventTypeServiceUnregistered, ref.Property(bootready.PropServicePID), ref)
	return nil
}

// FindServices implements bootready.ServiceRegistry.
func (h *Host) FindServices(_ context.Context, kind bootready.ServiceKind, filterExpr string) ([]bootready.ServiceRef, error) {
	f, err := parseFilter(filterExpr)
	if err != nil {
		return nil, err
	}
	return h.services.match(kind, f), nil
}

// registerFactoryInstance publishes the managed service created by a
// factory for pid, unless it is already registered.
func (h *Host) registerFactoryInstance(pid, factoryPID string) {
	if h.services.find(bootready.ServiceKindManagedService, bootready.PropServicePID, pid) != nil {
		return
	}
	ref := h.services.add(bootready.ServiceKindManagedService, map[string]any{
		bootready.PropServicePID: pid,
		bootready.PropFactoryPID: factoryPID,
	}, nil, nil)
	h.logger.Debug("Factory instance registered", "pid", pid, "factoryPid", factoryPID, "serviceID", ref.ID)
	h.emit(bootready.EventTypeServiceRegistered, pid, ref)
}

func (h *Host) unregisterFactoryInstance(pid string) {
	entry := h.services.find(bootready.ServiceKindManagedService, bootready.PropServicePID, pid)
	if entry == nil || entry.managed != nil {
		return
	}
	if ref, ok := h.services.remove(entry.ref.ID); ok {
		h.emit(bootready.EventTypeServiceUnregistered, pid, ref)
	}
}
