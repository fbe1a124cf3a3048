package host

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/bootready"
)

// Record is a stored configuration.
type Record struct {
	PID        string         `json:"pid" yaml:"pid" toml:"pid"`
	FactoryPID string         `json:"factoryPid,omitempty" yaml:"factoryPid,omitempty" toml:"factoryPid,omitempty"`
	Properties map[string]any `json:"properties" yaml:"properties" toml:"properties"`
}

// Persistence stores configuration records outside the host.
type Persistence interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, record Record) error
	Delete(ctx context.Context, pid string) error
}

type configAdmin struct {
	host        *Host
	persistence Persistence

	mu      sync.Mutex
	records map[string]*configuration
}

func newConfigAdmin(h *Host) *configAdmin {
	return &configAdmin{
		host:    h,
		records: make(map[string]*configuration),
	}
}

// configuration implements bootready.Configuration. Properties are nil
// until the first update.
type configuration struct {
	admin      *configAdmin
	pid        string
	factoryPID string
	props      map[string]any
	deleted    bool
}

var _ bootready.Configuration = (*configuration)(nil)

func (c *configuration) PID() string        { return c.pid }
func (c *configuration) FactoryPID() string { return c.factoryPID }

func (c *configuration) Properties() map[string]any {
	c.admin.mu.Lock()
	defer c.admin.mu.Unlock()
	return maps.Clone(c.props)
}

// Update stores properties, persists them and delivers them to the target
// service asynchronously. The Updated event is published after delivery.
func (c *configuration) Update(ctx context.Context, properties map[string]any) error {
	return c.admin.update(ctx, c, properties, true)
}

// Delete removes the configuration.
func (c *configuration) Delete(ctx context.Context) error {
	return c.admin.delete(ctx, c, true)
}

func (c *configuration) recordLocked() Record {
	return Record{PID: c.pid, FactoryPID: c.factoryPID, Properties: maps.Clone(c.props)}
}

func (a *configAdmin) getOrCreate(pid, factoryPID string) *configuration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.records[pid]; ok {
		return c
	}
	c := &configuration{admin: a, pid: pid, factoryPID: factoryPID}
	a.records[pid] = c
	return c
}

func (a *configAdmin) update(ctx context.Context, c *configuration, properties map[string]any, persist bool) error {
	a.mu.Lock()
	if c.deleted {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConfigurationDeleted, c.pid)
	}
	stored := maps.Clone(properties)
	if stored == nil {
		stored = make(map[string]any)
	}
	stored[bootready.PropServicePID] = c.pid
	if c.factoryPID != "" {
		stored[bootready.PropFactoryPID] = c.factoryPID
	}
	c.props = stored
	rec := c.recordLocked()
	a.mu.Unlock()

	if persist && a.persistence != nil {
		if err := a.persistence.Save(ctx, rec); err != nil {
			return fmt.Errorf("persist configuration %s: %w", rec.PID, err)
		}
	}

	h := a.host
	if !h.spawn(func(ctx context.Context) {
		a.deliver(ctx, rec)
		a.publish(ctx, rec, bootready.ConfigEventUpdated)
	}) {
		return ErrHostClosed
	}
	return nil
}

func (a *configAdmin) delete(ctx context.Context, c *configuration, persist bool) error {
	a.mu.Lock()
	if c.deleted {
		a.mu.Unlock()
		return nil
	}
	c.deleted = true
	delete(a.records, c.pid)
	rec := c.recordLocked()
	a.mu.Unlock()

	if persist && a.persistence != nil {
		if err := a.persistence.Delete(ctx, rec.PID); err != nil {
			return fmt.Errorf("delete persisted configuration %s: %w", rec.PID, err)
		}
	}

	h := a.host
	h.spawn(func(ctx context.Context) {
		if rec.FactoryPID != "" {
			if entry := h.services.find(bootready.ServiceKindManagedServiceFactory, bootready.PropFactoryPID, rec.FactoryPID); entry != nil {
				entry.factory.Deleted(ctx, rec.PID)
			}
			h.unregisterFactoryInstance(rec.PID)
		} else if entry := h.services.find(bootready.ServiceKindManagedService, bootready.PropServicePID, rec.PID); entry != nil && entry.managed != nil {
			if err := entry.managed.Updated(ctx, nil); err != nil {
				h.logger.Error("Managed service rejected configuration removal", "pid", rec.PID, "error", err)
			}
		}
		a.publish(ctx, rec, bootready.ConfigEventDeleted)
	})
	return nil
}

// deliver hands rec to its managed service or factory. Nothing happens when
// the target is not registered yet; registration triggers redelivery.
func (a *configAdmin) deliver(ctx context.Context, rec Record) {
	h := a.host
	if rec.FactoryPID != "" {
		entry := h.services.find(bootready.ServiceKindManagedServiceFactory, bootready.PropFactoryPID, rec.FactoryPID)
		if entry == nil {
			h.logger.Debug("No factory registered for configuration", "pid", rec.PID, "factoryPid", rec.FactoryPID)
			return
		}
		if err := entry.factory.Updated(ctx, rec.PID, maps.Clone(rec.Properties)); err != nil {
			h.logger.Error("Managed service factory rejected configuration", "pid", rec.PID, "factoryPid", rec.FactoryPID, "error", err)
			return
		}
		h.registerFactoryInstance(rec.PID, rec.FactoryPID)
		return
	}

	entry := h.services.find(bootready.ServiceKindManagedService, bootready.PropServicePID, rec.PID)
	if entry == nil || entry.managed == nil {
		h.logger.Debug("No managed service registered for configuration", "pid", rec.PID)
		return
	}
	if err := entry.managed.Updated(ctx, maps.Clone(rec.Properties)); err != nil {
		h.logger.Error("Managed service rejected configuration", "pid", rec.PID, "error", err)
	}
}

// redeliver sends stored configurations to a service that just registered.
func (a *configAdmin) redeliver(_ context.Context, pid, factoryPID string) {
	a.mu.Lock()
	var recs []Record
	for _, c := range a.records {
		if c.props == nil {
			continue
		}
		if (pid != "" && c.pid == pid && c.factoryPID == "") || (factoryPID != "" && c.factoryPID == factoryPID) {
			recs = append(recs, c.recordLocked())
		}
	}
	a.mu.Unlock()

	for _, rec := range recs {
		a.host.spawn(func(ctx context.Context) {
			a.deliver(ctx, rec)
		})
	}
}

func (a *configAdmin) publish(ctx context.Context, rec Record, t bootready.ConfigEventType) {
	event := bootready.NewConfigurationEvent(eventSource, bootready.ConfigurationEvent{
		PID:        rec.PID,
		FactoryPID: rec.FactoryPID,
		Type:       t,
	})
	a.host.bus.publish(ctx, event)
}

// GetConfiguration implements bootready.ConfigStore. The record is created
// on first use.
func (h *Host) GetConfiguration(_ context.Context, pid string) (bootready.Configuration, error) {
	if pid == "" {
		return nil, ErrEmptyPID
	}
	return h.configs.getOrCreate(pid, ""), nil
}

// CreateFactoryConfiguration implements bootready.ConfigStore. The new
// record's pid is factoryPID followed by a generated suffix.
func (h *Host) CreateFactoryConfiguration(_ context.Context, factoryPID string) (bootready.Configuration, error) {
	if factoryPID == "" {
		return nil, ErrEmptyPID
	}
	pid := factoryPID + "." + uuid.NewString()
	return h.configs.getOrCreate(pid, factoryPID), nil
}

// DeleteConfiguration removes the record for pid.
func (h *Host) DeleteConfiguration(ctx context.Context, pid string) error {
	h.configs.mu.Lock()
	c, ok := h.configs.records[pid]
	h.configs.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrConfigurationMissing, pid)
	}
	return h.configs.delete(ctx, c, true)
}

// Configurations lists every record that has properties, ordered by pid.
func (h *Host) Configurations(_ context.Context) []Record {
	h.configs.mu.Lock()
	defer h.configs.mu.Unlock()

	out := make([]Record, 0, len(h.configs.records))
	for _, c := range h.configs.records {
		if c.props != nil {
			out = append(out, c.recordLocked())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// Restore loads persisted records and delivers them to any registered
// services. It is a no-op without persistence.
func (h *Host) Restore(ctx context.Context) error {
	p := h.configs.persistence
	if p == nil {
		return nil
	}
	recs, err := p.Load(ctx)
	if err != nil {
		return fmt.Errorf("load configurations: %w", err)
	}
	for _, rec := range recs {
		c := h.configs.getOrCreate(rec.PID, rec.FactoryPID)
		h.configs.mu.Lock()
		c.props = maps.Clone(rec.Properties)
		h.configs.mu.Unlock()
		h.spawn(func(ctx context.Context) {
			h.configs.deliver(ctx, rec)
		})
	}
	h.logger.Info("Restored configurations", "count", len(recs))
	return nil
}

// ApplyExternalUpdate applies a record changed outside the host as if
// Update had been called, without writing it back.
func (h *Host) ApplyExternalUpdate(ctx context.Context, rec Record) error {
	if rec.PID == "" {
		return ErrEmptyPID
	}
	c := h.configs.getOrCreate(rec.PID, rec.FactoryPID)
	return h.configs.update(ctx, c, rec.Properties, false)
}

// ApplyExternalDelete removes a record deleted outside the host.
func (h *Host) ApplyExternalDelete(ctx context.Context, pid string) error {
	h.configs.mu.Lock()
	c, ok := h.configs.records[pid]
	h.configs.mu.Unlock()
	if !ok {
		return nil
	}
	return h.configs.delete(ctx, c, false)
}

// NotifyLocationChanged publishes a LocationChanged event for pid.
func (h *Host) NotifyLocationChanged(ctx context.Context, pid string) {
	h.configs.mu.Lock()
	rec := Record{PID: pid}
	if c, ok := h.configs.records[pid]; ok {
		rec.FactoryPID = c.factoryPID
	}
	h.configs.mu.Unlock()
	h.configs.publish(ctx, rec, bootready.ConfigEventLocationChanged)
}
