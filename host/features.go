package host

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/GoCodeAlone/bootready"
)

// FeatureDefinition is a named, versioned group of modules. Version must be
// a semantic version.
type FeatureDefinition struct {
	Name    string
	Version string
	Modules []ModuleDefinition
}

type featureEntry struct {
	def     FeatureDefinition
	version *semver.Version
	state   bootready.FeatureState
}

func (e *featureEntry) feature() bootready.Feature {
	return bootready.Feature{Name: e.def.Name, Version: e.def.Version}
}

type featureEventData struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Modules []string `json:"modules"`
}

// AddFeature adds a feature to the repository. It is not installed.
func (h *Host) AddFeature(def FeatureDefinition) error {
	v, err := semver.NewVersion(def.Version)
	if err != nil {
		return fmt.Errorf("%w: %s/%s: %w", ErrInvalidFeatureVer, def.Name, def.Version, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.features[def.Name] {
		if e.version.Equal(v) {
			return fmt.Errorf("%w: %s/%s", ErrFeatureExists, def.Name, def.Version)
		}
	}

	entries := append(h.features[def.Name], &featureEntry{def: def, version: v})
	slices.SortFunc(entries, func(a, b *featureEntry) int {
		return a.version.Compare(b.version)
	})
	h.features[def.Name] = entries
	return nil
}

// ResolveFeature implements bootready.FeatureService. A bare name resolves
// to every version in ascending order. name/version matches the version
// string exactly or, failing that, as a semver constraint such as
// "web/^1.2".
func (h *Host) ResolveFeature(_ context.Context, name string) ([]bootready.Feature, error) {
	base, version, hasVersion := strings.Cut(name, "/")

	h.mu.RLock()
	defer h.mu.RUnlock()

	entries := h.features[base]
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrFeatureNotFound, name)
	}

	var out []bootready.Feature
	if !hasVersion {
		for _, e := range entries {
			out = append(out, e.feature())
		}
		return out, nil
	}

	for _, e := range entries {
		if e.def.Version == version {
			return []bootready.Feature{e.feature()}, nil
		}
	}

	c, err := semver.NewConstraint(version)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFeatureNotFound, name, err)
	}
	for _, e := range entries {
		if c.Check(e.version) {
			out = append(out, e.feature())
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrFeatureNotFound, name)
	}
	return out, nil
}

// IsInstalled implements bootready.FeatureService.
func (h *Host) IsInstalled(_ context.Context, feature bootready.Feature) (bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	entry, err := h.featureLocked(feature.Name, feature.Version)
	if err != nil {
		return false, err
	}
	return entry.state != bootready.FeatureStateUninstalled, nil
}

// FeatureState implements bootready.FeatureService.
func (h *Host) FeatureState(_ context.Context, name, version string) (bootready.FeatureState, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	entry, err := h.featureLocked(name, version)
	if err != nil {
		return bootready.FeatureStateUninstalled, err
	}
	return entry.state, nil
}

// InstallFeatures implements bootready.FeatureService. Member modules are
// installed and started. Unless opts.NoAutoRefresh is set, every other
// active module is refreshed afterwards.
func (h *Host) InstallFeatures(ctx context.Context, features []bootready.Feature, opts bootready.InstallOptions) error {
	touched := make(map[string]bool)
	for _, f := range features {
		h.mu.RLock()
		entry, err := h.featureLocked(f.Name, f.Version)
		h.mu.RUnlock()
		if err != nil {
			return err
		}
		if err := h.installFeature(ctx, entry); err != nil {
			return err
		}
		for _, md := range entry.def.Modules {
			touched[md.Name] = true
		}
	}

	if !opts.NoAutoRefresh {
		return h.refresh(ctx, touched)
	}
	return nil
}

func (h *Host) installFeature(ctx context.Context, entry *featureEntry) error {
	h.mu.Lock()
	if entry.state != bootready.FeatureStateUninstalled {
		h.mu.Unlock()
		return nil
	}
	entry.state = bootready.FeatureStateInstalled
	h.mu.Unlock()

	id := entry.feature().ID()
	for _, md := range entry.def.Modules {
		if err := h.InstallModule(ctx, md); err != nil && !errors.Is(err, ErrModuleExists) {
			return fmt.Errorf("install feature %s: %w", id, err)
		}
	}
	for _, md := range entry.def.Modules {
		if md.isFragment() {
			continue
		}
		if err := h.StartModule(ctx, md.Name); err != nil {
			return fmt.Errorf("install feature %s: %w", id, err)
		}
	}

	h.mu.Lock()
	entry.state = bootready.FeatureStateStarted
	h.mu.Unlock()

	h.logger.Info("Feature installed", "feature", id)
	h.emit(bootready.EventTypeFeatureInstalled, id, featureEventData{
		Name:    entry.def.Name,
		Version: entry.def.Version,
		Modules: moduleNames(entry.def.Modules),
	})
	return nil
}

// UninstallFeatures implements bootready.FeatureService. Member modules
// that no other installed feature contains are uninstalled.
func (h *Host) UninstallFeatures(ctx context.Context, features []bootready.Feature, opts bootready.InstallOptions) error {
	touched := make(map[string]bool)
	for _, f := range features {
		h.mu.RLock()
		entry, err := h.featureLocked(f.Name, f.Version)
		h.mu.RUnlock()
		if err != nil {
			return err
		}
		if err := h.uninstallFeature(ctx, entry); err != nil {
			return err
		}
		for _, md := range entry.def.Modules {
			touched[md.Name] = true
		}
	}

	if !opts.NoAutoRefresh {
		return h.refresh(ctx, touched)
	}
	return nil
}

func (h *Host) uninstallFeature(ctx context.Context, entry *featureEntry) error {
	h.mu.Lock()
	if entry.state == bootready.FeatureStateUninstalled {
		h.mu.Unlock()
		return nil
	}
	entry.state = bootready.FeatureStateUninstalled
	shared := h.installedFeatureModulesLocked()
	h.mu.Unlock()

	id := entry.feature().ID()
	for _, md := range entry.def.Modules {
		if shared[md.Name+"_v"+md.Version] {
			continue
		}
		if err := h.UninstallModule(ctx, md.Name, md.Version); err != nil && !errors.Is(err, ErrModuleNotFound) {
			return fmt.Errorf("uninstall feature %s: %w", id, err)
		}
	}

	h.logger.Info("Feature uninstalled", "feature", id)
	h.emit(bootready.EventTypeFeatureUninstalled, id, featureEventData{
		Name:    entry.def.Name,
		Version: entry.def.Version,
		Modules: moduleNames(entry.def.Modules),
	})
	return nil
}

// refresh restarts every active module not in skip.
func (h *Host) refresh(ctx context.Context, skip map[string]bool) error {
	h.mu.RLock()
	var names []string
	seen := make(map[string]bool)
	for _, e := range h.modules {
		if e.state != bootready.ModuleStateActive || skip[e.def.Name] || seen[e.def.Name] {
			continue
		}
		seen[e.def.Name] = true
		names = append(names, e.def.Name)
	}
	h.mu.RUnlock()

	for _, name := range names {
		h.logger.Debug("Refreshing module", "module", name)
		if err := h.StopModule(ctx, name); err != nil {
			return fmt.Errorf("refresh %s: %w", name, err)
		}
		if err := h.StartModule(ctx, name); err != nil {
			return fmt.Errorf("refresh %s: %w", name, err)
		}
	}
	return nil
}

func (h *Host) featureLocked(name, version string) (*featureEntry, error) {
	for _, e := range h.features[name] {
		if e.def.Version == version {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrFeatureNotFound, name, version)
}

func (h *Host) installedFeatureModulesLocked() map[string]bool {
	out := make(map[string]bool)
	for _, entries := range h.features {
		for _, e := range entries {
			if e.state == bootready.FeatureStateUninstalled {
				continue
			}
			for _, md := range e.def.Modules {
				out[md.Name+"_v"+md.Version] = true
			}
		}
	}
	return out
}

func moduleNames(defs []ModuleDefinition) []string {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}
