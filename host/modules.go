package host

import (
	"context"
	"fmt"
	"maps"

	"github.com/GoCodeAlone/bootready"
)

// Startable is implemented by activators that run code when their module
// starts. The context is the host lifecycle context and is cancelled when
// the host closes.
type Startable interface {
	Start(ctx context.Context) error
}

// Stoppable is implemented by activators that release resources when their
// module stops.
type Stoppable interface {
	Stop(ctx context.Context) error
}

// ModuleDefinition describes a module to install. Activator may implement
// Startable and/or Stoppable; it may also be nil.
type ModuleDefinition struct {
	Name      string
	Version   string
	Fragment  bool
	Headers   map[string]string
	Activator any
}

func (d ModuleDefinition) isFragment() bool {
	return bootready.Module{Fragment: d.Fragment, Headers: d.Headers}.IsFragment()
}

type moduleEntry struct {
	def     ModuleDefinition
	state   bootready.ModuleState
	lastErr error
}

func (e *moduleEntry) snapshot() bootready.Module {
	return bootready.Module{
		Name:     e.def.Name,
		Version:  e.def.Version,
		State:    e.state,
		Fragment: e.def.isFragment(),
		Headers:  maps.Clone(e.def.Headers),
	}
}

type moduleEventData struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	State   string `json:"state"`
	Error   string `json:"error,omitempty"`
}

func (h *Host) emitModule(eventType string, entry bootready.Module, err error) {
	data := moduleEventData{Name: entry.Name, Version: entry.Version, State: entry.State.String()}
	if err != nil {
		data.Error = err.Error()
	}
	h.emit(eventType, entry.Name, data)
}

// InstallModule installs a module. Regular modules start out Installed;
// fragments attach immediately and are Resolved.
func (h *Host) InstallModule(_ context.Context, def ModuleDefinition) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHostClosed
	}
	for _, e := range h.modules {
		if e.def.Name == def.Name && e.def.Version == def.Version {
			h.mu.Unlock()
			return fmt.Errorf("%w: %s_v%s", ErrModuleExists, def.Name, def.Version)
		}
	}

	entry := &moduleEntry{def: def, state: bootready.ModuleStateInstalled}
	if def.isFragment() {
		entry.state = bootready.ModuleStateResolved
	}
	h.modules = append(h.modules, entry)
	snap := entry.snapshot()
	h.mu.Unlock()

	h.logger.Debug("Module installed", "module", def.Name, "version", def.Version, "fragment", snap.Fragment)
	h.emitModule(bootready.EventTypeModuleInstalled, snap, nil)
	return nil
}

// UninstallModule stops the module if needed and removes it.
func (h *Host) UninstallModule(ctx context.Context, name, version string) error {
	h.mu.RLock()
	var entry *moduleEntry
	for _, e := range h.modules {
		if e.def.Name == name && e.def.Version == version {
			entry = e
			break
		}
	}
	h.mu.RUnlock()
	if entry == nil {
		return fmt.Errorf("%w: %s_v%s", ErrModuleNotFound, name, version)
	}

	if err := h.stopEntry(ctx, entry); err != nil {
		h.logger.Warn("Module stop failed during uninstall", "module", name, "error", err)
	}

	h.mu.Lock()
	for i, e := range h.modules {
		if e == entry {
			h.modules = append(h.modules[:i], h.modules[i+1:]...)
			break
		}
	}
	entry.state = bootready.ModuleStateUninstalled
	snap := entry.snapshot()
	h.mu.Unlock()

	h.emitModule(bootready.EventTypeModuleUninstalled, snap, nil)
	return nil
}

// Modules implements bootready.ModuleRegistry. Modules are listed in
// install order.
func (h *Host) Modules(_ context.Context) ([]bootready.Module, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]bootready.Module, len(h.modules))
	for i, e := range h.modules {
		out[i] = e.snapshot()
	}
	return out, nil
}

// StartModule implements bootready.ModuleRegistry. Every installed version
// of name is started. Start is asynchronous: the module is Starting when
// this returns and becomes Active, or Failure if its activator fails.
func (h *Host) StartModule(_ context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHostClosed
	}

	entries := h.entriesLocked(name)
	if len(entries) == 0 {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	for _, e := range entries {
		if e.def.isFragment() {
			return fmt.Errorf("%w: %s", ErrFragmentNotStartable, name)
		}
		if e.state == bootready.ModuleStateStopping {
			return fmt.Errorf("%w: %s is %s", ErrModuleTransitioning, name, e.state)
		}
	}

	for _, e := range entries {
		switch e.state {
		case bootready.ModuleStateActive, bootready.ModuleStateStarting:
			continue
		default:
		}
		e.state = bootready.ModuleStateStarting
		e.lastErr = nil
		h.logger.Info("Starting module", "module", e.def.Name, "version", e.def.Version)

		entry := e
		h.spawnLocked(func(ctx context.Context) {
			h.activate(ctx, entry)
		})
	}
	return nil
}

func (h *Host) activate(ctx context.Context, entry *moduleEntry) {
	var err error
	if s, ok := entry.def.Activator.(Startable); ok {
		err = s.Start(ctx)
	}

	h.mu.Lock()
	if entry.state != bootready.ModuleStateStarting {
		h.mu.Unlock()
		return
	}
	if err != nil {
		entry.state = bootready.ModuleStateFailure
		entry.lastErr = err
	} else {
		entry.state = bootready.ModuleStateActive
	}
	snap := entry.snapshot()
	h.mu.Unlock()

	if err != nil {
		h.logger.Error("Module failed to start", "module", snap.Name, "version", snap.Version, "error", err)
		h.emitModule(bootready.EventTypeModuleFailed, snap, err)
		return
	}
	h.logger.Info("Module started", "module", snap.Name, "version", snap.Version)
	h.emitModule(bootready.EventTypeModuleStarted, snap, nil)
}

// StopModule implements bootready.ModuleRegistry. Every installed version
// of name is stopped; the first failure is returned.
func (h *Host) StopModule(ctx context.Context, name string) error {
	h.mu.RLock()
	entries := h.entriesLocked(name)
	h.mu.RUnlock()
	if len(entries) == 0 {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}

	for _, e := range entries {
		if err := h.stopEntry(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// stopEntry moves an Active or Failure module back to Resolved. Modules
// that are not started are left alone.
func (h *Host) stopEntry(ctx context.Context, entry *moduleEntry) error {
	h.mu.Lock()
	prev := entry.state
	switch prev {
	case bootready.ModuleStateActive, bootready.ModuleStateFailure:
		entry.state = bootready.ModuleStateStopping
	case bootready.ModuleStateStarting:
		h.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrModuleTransitioning, entry.def.Name, prev)
	default:
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	var err error
	if s, ok := entry.def.Activator.(Stoppable); ok && prev == bootready.ModuleStateActive {
		h.logger.Info("Stopping module", "module", entry.def.Name, "version", entry.def.Version)
		err = s.Stop(ctx)
	}

	h.mu.Lock()
	entry.state = bootready.ModuleStateResolved
	entry.lastErr = err
	snap := entry.snapshot()
	h.mu.Unlock()

	h.emitModule(bootready.EventTypeModuleStopped, snap, err)
	if err != nil {
		return fmt.Errorf("stop module %s: %w", entry.def.Name, err)
	}
	return nil
}

// ModuleError returns the error recorded by the last start or stop of
// name, if any.
func (h *Host) ModuleError(name string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, e := range h.entriesLocked(name) {
		if e.lastErr != nil {
			return e.lastErr
		}
	}
	return nil
}

func (h *Host) entriesLocked(name string) []*moduleEntry {
	var out []*moduleEntry
	for _, e := range h.modules {
		if e.def.Name == name {
			out = append(out, e)
		}
	}
	return out
}
