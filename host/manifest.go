package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/bootready"
)

// ErrSimulatedFailure is returned by manifest modules marked `fail: true`.
var ErrSimulatedFailure = errors.New("simulated module failure")

// Manifest describes a host to boot: modules, features, managed services
// and initial configurations.
type Manifest struct {
	Modules        []ModuleSpec  `yaml:"modules"`
	Features       []FeatureSpec `yaml:"features"`
	Services       []string      `yaml:"services"`
	Factories      []string      `yaml:"factories"`
	Configurations []Record      `yaml:"configurations"`
}

// ModuleSpec is a manifest module. StartDelay and Fail simulate slow and
// broken activators.
type ModuleSpec struct {
	Name       string            `yaml:"name"`
	Version    string            `yaml:"version"`
	Fragment   bool              `yaml:"fragment"`
	Headers    map[string]string `yaml:"headers"`
	Start      *bool             `yaml:"start"`
	StartDelay time.Duration     `yaml:"startDelay"`
	Fail       bool              `yaml:"fail"`
}

// FeatureSpec is a manifest feature. Install features are installed when
// the manifest is applied.
type FeatureSpec struct {
	Name    string       `yaml:"name"`
	Version string       `yaml:"version"`
	Install bool         `yaml:"install"`
	Modules []ModuleSpec `yaml:"modules"`
}

// LoadManifest reads a YAML manifest from path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes a YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	for i, mod := range m.Modules {
		if mod.Name == "" {
			return nil, fmt.Errorf("parse manifest: module %d has no name", i)
		}
	}
	for i, f := range m.Features {
		if f.Name == "" || f.Version == "" {
			return nil, fmt.Errorf("parse manifest: feature %d needs name and version", i)
		}
	}
	return &m, nil
}

// Apply boots h from the manifest. Services and factories are registered
// first, then configurations are stored, modules installed and started,
// and features added and installed. Module starts are not awaited.
func (m *Manifest) Apply(ctx context.Context, h *Host) error {
	for _, pid := range m.Services {
		if _, err := h.RegisterManagedService(ctx, pid, &loggingService{pid: pid, logger: h.logger}); err != nil {
			return err
		}
	}
	for _, factoryPID := range m.Factories {
		if _, err := h.RegisterManagedServiceFactory(ctx, factoryPID, &loggingFactory{factoryPID: factoryPID, logger: h.logger}); err != nil {
			return err
		}
	}

	for _, rec := range m.Configurations {
		var conf bootready.Configuration
		var err error
		if rec.FactoryPID != "" && rec.PID == "" {
			conf, err = h.CreateFactoryConfiguration(ctx, rec.FactoryPID)
		} else {
			conf, err = h.GetConfiguration(ctx, rec.PID)
		}
		if err != nil {
			return err
		}
		if err := conf.Update(ctx, rec.Properties); err != nil {
			return err
		}
	}

	for _, spec := range m.Modules {
		if err := h.InstallModule(ctx, spec.definition()); err != nil {
			return err
		}
	}
	for _, spec := range m.Modules {
		if spec.definition().isFragment() || (spec.Start != nil && !*spec.Start) {
			continue
		}
		if err := h.StartModule(ctx, spec.Name); err != nil {
			return err
		}
	}

	var install []bootready.Feature
	for _, f := range m.Features {
		def := FeatureDefinition{Name: f.Name, Version: f.Version}
		for _, spec := range f.Modules {
			def.Modules = append(def.Modules, spec.definition())
		}
		if err := h.AddFeature(def); err != nil {
			return err
		}
		if f.Install {
			install = append(install, bootready.Feature{Name: f.Name, Version: f.Version})
		}
	}
	if len(install) > 0 {
		return h.InstallFeatures(ctx, install, bootready.InstallOptions{NoAutoRefresh: true})
	}
	return nil
}

func (s ModuleSpec) definition() ModuleDefinition {
	return ModuleDefinition{
		Name:      s.Name,
		Version:   s.Version,
		Fragment:  s.Fragment,
		Headers:   s.Headers,
		Activator: &simulatedActivator{name: s.Name, delay: s.StartDelay, fail: s.Fail},
	}
}

type simulatedActivator struct {
	name  string
	delay time.Duration
	fail  bool
}

func (a *simulatedActivator) Start(ctx context.Context) error {
	if a.delay > 0 {
		timer := time.NewTimer(a.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if a.fail {
		return fmt.Errorf("%w: %s", ErrSimulatedFailure, a.name)
	}
	return nil
}

type loggingService struct {
	pid    string
	logger bootready.Logger
}

func (s *loggingService) Updated(_ context.Context, properties map[string]any) error {
	s.logger.Info("Managed service updated", "pid", s.pid, "properties", len(properties))
	return nil
}

type loggingFactory struct {
	factoryPID string
	logger     bootready.Logger
}

func (f *loggingFactory) Updated(_ context.Context, pid string, properties map[string]any) error {
	f.logger.Info("Factory instance updated", "factoryPid", f.factoryPID, "pid", pid, "properties", len(properties))
	return nil
}

func (f *loggingFactory) Deleted(_ context.Context, pid string) {
	f.logger.Info("Factory instance deleted", "factoryPid", f.factoryPID, "pid", pid)
}
