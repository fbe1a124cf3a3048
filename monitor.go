// Package bootready determines when a modular runtime has reached a desired
// lifecycle state and blocks the caller until it does or a timeout elapses.
//
// The monitor observes three kinds of entities through a Runtime:
//
//   - modules, which are ready when Active (fragments when Resolved)
//   - features, which are ready when every resolved record reports the
//     expected FeatureState
//   - managed services, which are ready once registered under their pid
//
// Every wait runs on the calling goroutine. Mutations (install, create,
// update, start, stop) are attempted exactly once; only the readiness
// observation that follows is retried.
//
// Basic usage:
//
//	monitor, err := bootready.NewSystemMonitor(rt, bootready.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	if err := monitor.WaitForModules(ctx); err != nil {
//		return err
//	}
package bootready

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"
)

// SystemMonitor is the public readiness surface. Every operation that waits
// has a default-timeout form and a WithTimeout form. All errors are
// *MonitorError.
type SystemMonitor interface {
	// CreateManagedFactoryService creates a configuration for factoryPID,
	// pushes properties to it and waits until a service with the generated
	// pid is available.
	CreateManagedFactoryService(ctx context.Context, factoryPID string, properties map[string]any) (Configuration, error)
	CreateManagedFactoryServiceWithTimeout(ctx context.Context, maxWait time.Duration, factoryPID string, properties map[string]any) (Configuration, error)

	// UpdateManagedService waits for the managed service to be available,
	// updates its configuration and waits until the runtime reports the
	// update was applied.
	UpdateManagedService(ctx context.Context, pid string, properties map[string]any) error
	UpdateManagedServiceWithTimeout(ctx context.Context, maxWait time.Duration, pid string, properties map[string]any) error

	// WaitForServiceAvailability waits until a managed service or managed
	// service factory is registered under pid.
	WaitForServiceAvailability(ctx context.Context, pid string) error
	WaitForServiceAvailabilityWithTimeout(ctx context.Context, maxWait time.Duration, pid string) error

	// InstallFeatures installs the features that are not installed yet and
	// waits until all are Started and every module is ready.
	InstallFeatures(ctx context.Context, feature string, additional ...string) error
	InstallFeaturesWithTimeout(ctx context.Context, maxWait time.Duration, feature string, additional ...string) error

	// UninstallFeatures uninstalls the features that are installed and
	// waits until all are Uninstalled and every module is ready.
	UninstallFeatures(ctx context.Context, feature string, additional ...string) error
	UninstallFeaturesWithTimeout(ctx context.Context, maxWait time.Duration, feature string, additional ...string) error

	// WaitForFeatures waits until all features report expected and every
	// module is ready.
	WaitForFeatures(ctx context.Context, expected FeatureState, feature string, additional ...string) error
	WaitForFeaturesWithTimeout(ctx context.Context, maxWait time.Duration, expected FeatureState, feature string, additional ...string) error

	// StartModules requests a start of every installed module with one of
	// the given names. It does not wait.
	StartModules(ctx context.Context, name string, additional ...string) error

	// StopModules requests a stop of every installed module with one of the
	// given names. It does not wait.
	StopModules(ctx context.Context, name string, additional ...string) error

	// WaitForModules waits for the named modules, or every module known when
	// the call starts if none are named, to become ready.
	WaitForModules(ctx context.Context, names ...string) error
	WaitForModulesWithTimeout(ctx context.Context, maxWait time.Duration, names ...string) error

	// CheckModules evaluates module readiness once without waiting and
	// returns the modules that are not ready.
	CheckModules(ctx context.Context) ([]ModuleDiagnostic, error)
}

// StdSystemMonitor is the standard SystemMonitor over a Runtime.
type StdSystemMonitor struct {
	runtime Runtime
	cfg     MonitorConfig
	logger  Logger
	metrics MetricsCollector

	waiter   *Waiter
	modules  *moduleEvaluator
	features *featureEvaluator
	services *serviceEvaluator
}

var _ SystemMonitor = (*StdSystemMonitor)(nil)

// NewSystemMonitor creates a monitor over rt.
func NewSystemMonitor(rt Runtime, opts ...Option) (*StdSystemMonitor, error) {
	if rt == nil {
		return nil, ErrRuntimeNil
	}

	m := &StdSystemMonitor{
		runtime: rt,
		cfg:     DefaultConfig(),
		logger:  nopLogger{},
		metrics: nopMetrics{},
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	m.waiter = NewWaiter(m.logger, m.metrics)
	m.modules = &moduleEvaluator{state: rt, logger: m.logger}
	m.features = &featureEvaluator{features: rt, state: rt, logger: m.logger}
	m.services = &serviceEvaluator{state: rt, logger: m.logger, mode: m.cfg.ServiceQueryMode}
	return m, nil
}

// Config returns the monitor's effective configuration.
func (m *StdSystemMonitor) Config() MonitorConfig {
	return m.cfg
}

// CreateManagedFactoryService implements SystemMonitor.
func (m *StdSystemMonitor) CreateManagedFactoryService(ctx context.Context, factoryPID string, properties map[string]any) (Configuration, error) {
	return m.CreateManagedFactoryServiceWithTimeout(ctx, m.cfg.ServiceWait, factoryPID, properties)
}

// CreateManagedFactoryServiceWithTimeout implements SystemMonitor. A record
// whose initial update fails is left in the store.
func (m *StdSystemMonitor) CreateManagedFactoryServiceWithTimeout(ctx context.Context, maxWait time.Duration, factoryPID string, properties map[string]any) (Configuration, error) {
	const op = "create managed factory service"
	m.logger.Debug("Creating managed service", "factoryPid", factoryPID)

	conf, err := m.runtime.CreateFactoryConfiguration(ctx, factoryPID)
	m.metrics.ObserveMutation("create-factory-configuration", err)
	if err != nil {
		return nil, newError(KindMutation, op, err,
			"failed to initialize managed service factory configuration with pid of [%s]", factoryPID)
	}

	m.logger.Debug("Created factory configuration, updating properties", "pid", conf.PID(), "factoryPid", factoryPID)
	err = conf.Update(ctx, maps.Clone(properties))
	m.metrics.ObserveMutation("update-configuration", err)
	if err != nil {
		return nil, newError(KindMutation, op, err,
			"failed to update created managed service factory configuration with pid of [%s]", factoryPID)
	}

	m.logger.Debug("Updated factory configuration", "pid", conf.PID())
	if err := m.waitForService(ctx, op, maxWait, conf.PID()); err != nil {
		return nil, err
	}
	return conf, nil
}

// UpdateManagedService implements SystemMonitor.
func (m *StdSystemMonitor) UpdateManagedService(ctx context.Context, pid string, properties map[string]any) error {
	return m.UpdateManagedServiceWithTimeout(ctx, m.cfg.ServiceWait, pid, properties)
}

// UpdateManagedServiceWithTimeout implements SystemMonitor. The update
// listener is registered before the configuration is pushed and stays
// registered until the corroborating event is seen or the wait ends.
func (m *StdSystemMonitor) UpdateManagedServiceWithTimeout(ctx context.Context, maxWait time.Duration, pid string, properties map[string]any) error {
	const op = "update managed service"

	if err := m.waitForService(ctx, op, maxWait, pid); err != nil {
		return err
	}

	listener, release, err := listenForConfigurationUpdates(m.runtime, pid, m.logger)
	if err != nil {
		return newError(KindMutation, op, err, "failed to register configuration listener for pid [%s]", pid)
	}
	defer release()

	conf, err := m.runtime.GetConfiguration(ctx, pid)
	if err != nil {
		return newError(KindResolution, op, err, "failed to retrieve configuration with pid of [%s]", pid)
	}

	m.logger.Debug("Updating configuration of service", "pid", pid)
	err = conf.Update(ctx, maps.Clone(properties))
	m.metrics.ObserveMutation("update-configuration", err)
	if err != nil {
		return newError(KindMutation, op, err, "failed to update managed service configuration with pid of [%s]", pid)
	}
	m.logger.Debug("Updated configuration of service", "pid", pid)

	applied := func(context.Context) (bool, error) {
		if listener.Updated() {
			return true, nil
		}
		m.logger.Info("Waiting for service to reflect configuration updates", "pid", pid)
		return false, nil
	}
	outcome, err := m.wait(ctx, op, "configuration", applied, listener.Signal(), maxWait, m.cfg.ConfigPollInterval)
	if err != nil {
		return err
	}
	if outcome != OutcomeReady {
		return newError(KindTimeout, op, nil, "managed service [%s] failed to update within %s", pid, maxWait)
	}
	return nil
}

// WaitForServiceAvailability implements SystemMonitor.
func (m *StdSystemMonitor) WaitForServiceAvailability(ctx context.Context, pid string) error {
	return m.WaitForServiceAvailabilityWithTimeout(ctx, m.cfg.ServiceWait, pid)
}

// WaitForServiceAvailabilityWithTimeout implements SystemMonitor.
func (m *StdSystemMonitor) WaitForServiceAvailabilityWithTimeout(ctx context.Context, maxWait time.Duration, pid string) error {
	return m.waitForService(ctx, "wait for service availability", maxWait, pid)
}

func (m *StdSystemMonitor) waitForService(ctx context.Context, op string, maxWait time.Duration, pid string) error {
	cond, err := m.services.condition(ctx, op, pid)
	if err != nil {
		return err
	}

	outcome, err := m.wait(ctx, op, "service", cond, nil, maxWait, m.cfg.ServicePollInterval)
	if err != nil {
		return err
	}
	if outcome != OutcomeReady {
		return newError(KindTimeout, op, nil, "managed service [%s] failed to appear after %s", pid, maxWait)
	}
	return nil
}

// InstallFeatures implements SystemMonitor.
func (m *StdSystemMonitor) InstallFeatures(ctx context.Context, feature string, additional ...string) error {
	return m.InstallFeaturesWithTimeout(ctx, m.cfg.FeatureWait, feature, additional...)
}

// InstallFeaturesWithTimeout implements SystemMonitor. Dependent modules
// are not auto-refreshed; their readiness is judged by the module wait that
// follows.
func (m *StdSystemMonitor) InstallFeaturesWithTimeout(ctx context.Context, maxWait time.Duration, feature string, additional ...string) error {
	const op = "install features"

	features, err := m.features.resolve(ctx, op, joinNames(feature, additional))
	if err != nil {
		return err
	}
	toInstall, err := m.features.selectByInstalled(ctx, op, features, false)
	if err != nil {
		return err
	}

	if len(toInstall) > 0 {
		m.logger.Debug("Installing features", "features", featureNames(toInstall))
		err := m.runtime.InstallFeatures(ctx, toInstall, InstallOptions{NoAutoRefresh: true})
		m.metrics.ObserveMutation("install-features", err)
		if err != nil {
			return newError(KindMutation, op, err, "failed to install features [%s]", featureNames(toInstall))
		}
		m.logger.Debug("Finished installing features")
	} else {
		m.logger.Debug("All requested features are already installed", "features", featureNames(features))
	}

	return m.waitForFeatures(ctx, op, maxWait, FeatureStateStarted, features)
}

// UninstallFeatures implements SystemMonitor.
func (m *StdSystemMonitor) UninstallFeatures(ctx context.Context, feature string, additional ...string) error {
	return m.UninstallFeaturesWithTimeout(ctx, m.cfg.FeatureWait, feature, additional...)
}

// UninstallFeaturesWithTimeout implements SystemMonitor.
func (m *StdSystemMonitor) UninstallFeaturesWithTimeout(ctx context.Context, maxWait time.Duration, feature string, additional ...string) error {
	const op = "uninstall features"

	features, err := m.features.resolve(ctx, op, joinNames(feature, additional))
	if err != nil {
		return err
	}
	toUninstall, err := m.features.selectByInstalled(ctx, op, features, true)
	if err != nil {
		return err
	}

	if len(toUninstall) > 0 {
		m.logger.Debug("Uninstalling features", "features", featureNames(toUninstall))
		err := m.runtime.UninstallFeatures(ctx, toUninstall, InstallOptions{NoAutoRefresh: true})
		m.metrics.ObserveMutation("uninstall-features", err)
		if err != nil {
			return newError(KindMutation, op, err, "failed to uninstall features [%s]", featureNames(toUninstall))
		}
	}

	return m.waitForFeatures(ctx, op, maxWait, FeatureStateUninstalled, features)
}

// WaitForFeatures implements SystemMonitor.
func (m *StdSystemMonitor) WaitForFeatures(ctx context.Context, expected FeatureState, feature string, additional ...string) error {
	return m.WaitForFeaturesWithTimeout(ctx, m.cfg.FeatureWait, expected, feature, additional...)
}

// WaitForFeaturesWithTimeout implements SystemMonitor.
func (m *StdSystemMonitor) WaitForFeaturesWithTimeout(ctx context.Context, maxWait time.Duration, expected FeatureState, feature string, additional ...string) error {
	const op = "wait for features"

	features, err := m.features.resolve(ctx, op, joinNames(feature, additional))
	if err != nil {
		return err
	}
	return m.waitForFeatures(ctx, op, maxWait, expected, features)
}

// waitForFeatures waits for the feature states and then for every module
// known at that point, each with its own maxWait budget.
func (m *StdSystemMonitor) waitForFeatures(ctx context.Context, op string, maxWait time.Duration, expected FeatureState, features []Feature) error {
	outcome, err := m.wait(ctx, op, "features", m.features.condition(op, features, expected), nil, maxWait, m.cfg.FeaturePollInterval)
	if err != nil {
		return err
	}
	if outcome != OutcomeReady {
		return newError(KindTimeout, op, nil, "features [%s] failed to reach state [%s] within %s",
			featureNames(features), expected, maxWait)
	}

	return m.waitForModules(ctx, op, maxWait, nil)
}

// StartModules implements SystemMonitor. Names that match no installed
// module are skipped.
func (m *StdSystemMonitor) StartModules(ctx context.Context, name string, additional ...string) error {
	return m.mutateModules(ctx, "start modules", "start-module", joinNames(name, additional), m.runtime.StartModule)
}

// StopModules implements SystemMonitor. Names that match no installed
// module are skipped.
func (m *StdSystemMonitor) StopModules(ctx context.Context, name string, additional ...string) error {
	return m.mutateModules(ctx, "stop modules", "stop-module", joinNames(name, additional), m.runtime.StopModule)
}

func (m *StdSystemMonitor) mutateModules(ctx context.Context, op, metric string, names []string, mutate func(context.Context, string) error) error {
	modules, err := m.runtime.Modules(ctx)
	if err != nil {
		return newError(KindResolution, op, err, "failed to list modules")
	}
	installed := make(map[string]struct{}, len(modules))
	for _, mod := range modules {
		installed[mod.Name] = struct{}{}
	}

	done := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := done[name]; ok {
			continue
		}
		done[name] = struct{}{}

		if _, ok := installed[name]; !ok {
			m.logger.Debug("Skipping module that is not installed", "module", name)
			continue
		}
		err := mutate(ctx, name)
		m.metrics.ObserveMutation(metric, err)
		if err != nil {
			return newError(KindMutation, op, err, "failed to %s [%s]", strings.ReplaceAll(metric, "-", " "), name)
		}
	}
	return nil
}

// WaitForModules implements SystemMonitor.
func (m *StdSystemMonitor) WaitForModules(ctx context.Context, names ...string) error {
	return m.WaitForModulesWithTimeout(ctx, m.cfg.ModuleWait, names...)
}

// WaitForModulesWithTimeout implements SystemMonitor.
func (m *StdSystemMonitor) WaitForModulesWithTimeout(ctx context.Context, maxWait time.Duration, names ...string) error {
	return m.waitForModules(ctx, "wait for modules", maxWait, names)
}

func (m *StdSystemMonitor) waitForModules(ctx context.Context, op string, maxWait time.Duration, names []string) error {
	targets, err := m.modules.targets(ctx, op, names)
	if err != nil {
		return err
	}

	m.logger.Debug("Waiting for modules to become available", "modules", len(targets))
	outcome, err := m.wait(ctx, op, "modules", m.modules.condition(op, targets), nil, maxWait, m.cfg.ModulePollInterval)
	if err != nil {
		return err
	}
	if outcome == OutcomeReady {
		return nil
	}

	merr := newError(KindTimeout, op, nil, "modules failed to reach Active within %s", maxWait)
	if modules, lerr := m.runtime.Modules(ctx); lerr == nil {
		merr.Diagnostics = InactiveModules(modules)
		logInactiveModules(m.logger, merr.Diagnostics)
	} else {
		m.logger.Warn("Failed to list modules for diagnostics", "error", lerr)
	}
	return merr
}

// CheckModules implements SystemMonitor.
func (m *StdSystemMonitor) CheckModules(ctx context.Context) ([]ModuleDiagnostic, error) {
	const op = "check modules"
	targets, err := m.modules.targets(ctx, op, nil)
	if err != nil {
		return nil, err
	}
	return m.modules.check(ctx, op, targets)
}

// wait runs the waiter and attributes interruption to op. Condition errors
// are already MonitorErrors; anything else is wrapped as a resolution error.
func (m *StdSystemMonitor) wait(ctx context.Context, op, name string, cond Condition, signal <-chan struct{}, maxWait, pollInterval time.Duration) (Outcome, error) {
	outcome, err := m.waiter.WaitOrSignal(ctx, name, cond, signal, maxWait, pollInterval)
	if err == nil {
		return outcome, nil
	}

	var me *MonitorError
	if errors.As(err, &me) && me.Kind == KindInterrupted {
		me.Op = op
	}
	return outcome, asMonitorError(err, KindResolution, op, "readiness probe failed")
}

func joinNames(first string, rest []string) []string {
	return append([]string{first}, rest...)
}
