package bootready

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	errFake       = errors.New("fake runtime failure")
	errNotDefined = errors.New("not defined")
)

// fakeRuntime is a scriptable Runtime. Hooks run outside the lock.
type fakeRuntime struct {
	mu sync.Mutex

	modules     []Module
	modulesErr  error
	moduleLists int
	started     []string
	stopped     []string
	startErr    error

	features       map[string][]Feature
	installed      map[string]bool
	featureStates  map[string]FeatureState
	installCalls   [][]Feature
	uninstallCalls [][]Feature
	installOpts    []InstallOptions
	installErr     error
	onInstall      func(rt *fakeRuntime, features []Feature)
	onUninstall    func(rt *fakeRuntime, features []Feature)

	services  map[ServiceKind][]ServiceRef
	findErr   error
	findCalls int

	configs    map[string]*fakeConfiguration
	createErr  error
	updateErr  error
	factorySeq int
	onUpdate   func(rt *fakeRuntime, conf *fakeConfiguration)

	observers       map[string]Observer
	registerErr     error
	registerCalls   int
	unregisterCalls int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		features:      make(map[string][]Feature),
		installed:     make(map[string]bool),
		featureStates: make(map[string]FeatureState),
		services:      make(map[ServiceKind][]ServiceRef),
		configs:       make(map[string]*fakeConfiguration),
		observers:     make(map[string]Observer),
	}
}

func (rt *fakeRuntime) setModules(modules ...Module) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.modules = modules
}

func (rt *fakeRuntime) setModuleState(name string, state ModuleState) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i := range rt.modules {
		if rt.modules[i].Name == name {
			rt.modules[i].State = state
		}
	}
}

func (rt *fakeRuntime) addFeature(name, version string, state FeatureState) Feature {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	f := Feature{Name: name, Version: version}
	rt.features[name] = append(rt.features[name], f)
	rt.featureStates[f.ID()] = state
	rt.installed[f.ID()] = state != FeatureStateUninstalled
	return f
}

func (rt *fakeRuntime) setFeatureState(f Feature, state FeatureState) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.featureStates[f.ID()] = state
}

func (rt *fakeRuntime) registerService(kind ServiceKind, props map[string]any) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.services[kind] = append(rt.services[kind], ServiceRef{
		ID:         int64(len(rt.services[kind]) + 1),
		Kind:       kind,
		Properties: props,
	})
}

func (rt *fakeRuntime) observerCount() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.observers)
}

// publish delivers event synchronously to every registered observer.
func (rt *fakeRuntime) publish(event cloudevents.Event) {
	rt.mu.Lock()
	observers := make([]Observer, 0, len(rt.observers))
	for _, o := range rt.observers {
		observers = append(observers, o)
	}
	rt.mu.Unlock()

	for _, o := range observers {
		_ = o.OnEvent(context.Background(), event)
	}
}

func (rt *fakeRuntime) Modules(context.Context) ([]Module, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.moduleLists++
	if rt.modulesErr != nil {
		return nil, rt.modulesErr
	}
	out := make([]Module, len(rt.modules))
	copy(out, rt.modules)
	return out, nil
}

func (rt *fakeRuntime) StartModule(_ context.Context, name string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.startErr != nil {
		return rt.startErr
	}
	rt.started = append(rt.started, name)
	return nil
}

func (rt *fakeRuntime) StopModule(_ context.Context, name string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.stopped = append(rt.stopped, name)
	return nil
}

func (rt *fakeRuntime) ResolveFeature(_ context.Context, name string) ([]Feature, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	features, ok := rt.features[name]
	if !ok {
		return nil, fmt.Errorf("feature %s: %w", name, errNotDefined)
	}
	return features, nil
}

func (rt *fakeRuntime) IsInstalled(_ context.Context, f Feature) (bool, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.installed[f.ID()], nil
}

func (rt *fakeRuntime) InstallFeatures(_ context.Context, features []Feature, opts InstallOptions) error {
	rt.mu.Lock()
	rt.installCalls = append(rt.installCalls, features)
	rt.installOpts = append(rt.installOpts, opts)
	if rt.installErr != nil {
		rt.mu.Unlock()
		return rt.installErr
	}
	for _, f := range features {
		rt.installed[f.ID()] = true
	}
	hook := rt.onInstall
	rt.mu.Unlock()

	if hook != nil {
		hook(rt, features)
	}
	return nil
}

func (rt *fakeRuntime) UninstallFeatures(_ context.Context, features []Feature, opts InstallOptions) error {
	rt.mu.Lock()
	rt.uninstallCalls = append(rt.uninstallCalls, features)
	rt.installOpts = append(rt.installOpts, opts)
	if rt.installErr != nil {
		rt.mu.Unlock()
		return rt.installErr
	}
	for _, f := range features {
		rt.installed[f.ID()] = false
	}
	hook := rt.onUninstall
	rt.mu.Unlock()

	if hook != nil {
		hook(rt, features)
	}
	return nil
}

func (rt *fakeRuntime) FeatureState(_ context.Context, name, version string) (FeatureState, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	state, ok := rt.featureStates[Feature{Name: name, Version: version}.ID()]
	if !ok {
		return FeatureStateUninstalled, errNotDefined
	}
	return state, nil
}

func (rt *fakeRuntime) CreateFactoryConfiguration(_ context.Context, factoryPID string) (Configuration, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.createErr != nil {
		return nil, rt.createErr
	}
	rt.factorySeq++
	conf := &fakeConfiguration{rt: rt, pid: fmt.Sprintf("%s.%d", factoryPID, rt.factorySeq), factoryPID: factoryPID}
	rt.configs[conf.pid] = conf
	return conf, nil
}

func (rt *fakeRuntime) GetConfiguration(_ context.Context, pid string) (Configuration, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	conf, ok := rt.configs[pid]
	if !ok {
		conf = &fakeConfiguration{rt: rt, pid: pid}
		rt.configs[pid] = conf
	}
	return conf, nil
}

func (rt *fakeRuntime) FindServices(_ context.Context, kind ServiceKind, _ string) ([]ServiceRef, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.findCalls++
	if rt.findErr != nil {
		return nil, rt.findErr
	}
	out := make([]ServiceRef, len(rt.services[kind]))
	copy(out, rt.services[kind])
	return out, nil
}

func (rt *fakeRuntime) RegisterObserver(observer Observer, _ ...string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.registerCalls++
	if rt.registerErr != nil {
		return rt.registerErr
	}
	rt.observers[observer.ObserverID()] = observer
	return nil
}

func (rt *fakeRuntime) UnregisterObserver(observer Observer) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.unregisterCalls++
	delete(rt.observers, observer.ObserverID())
	return nil
}

type fakeConfiguration struct {
	rt         *fakeRuntime
	pid        string
	factoryPID string
	props      map[string]any
	updates    int
}

func (c *fakeConfiguration) PID() string        { return c.pid }
func (c *fakeConfiguration) FactoryPID() string { return c.factoryPID }

func (c *fakeConfiguration) Properties() map[string]any {
	c.rt.mu.Lock()
	defer c.rt.mu.Unlock()
	return maps.Clone(c.props)
}

func (c *fakeConfiguration) Update(_ context.Context, props map[string]any) error {
	c.rt.mu.Lock()
	if c.rt.updateErr != nil {
		c.rt.mu.Unlock()
		return c.rt.updateErr
	}
	c.props = maps.Clone(props)
	c.updates++
	hook := c.rt.onUpdate
	c.rt.mu.Unlock()

	if hook != nil {
		hook(c.rt, c)
	}
	return nil
}

// publishUpdated is an onUpdate hook that publishes the Updated event after
// delay on a separate goroutine.
func publishUpdated(delay time.Duration) func(rt *fakeRuntime, conf *fakeConfiguration) {
	return func(rt *fakeRuntime, conf *fakeConfiguration) {
		go func() {
			time.Sleep(delay)
			rt.publish(NewConfigurationEvent("test", ConfigurationEvent{PID: conf.pid, FactoryPID: conf.factoryPID, Type: ConfigEventUpdated}))
		}()
	}
}

// registerFactoryInstance is an onUpdate hook that registers the
// configuration's pid as a managed service.
func registerFactoryInstance(rt *fakeRuntime, conf *fakeConfiguration) {
	rt.registerService(ServiceKindManagedService, map[string]any{
		PropServicePID: conf.pid,
		PropFactoryPID: conf.factoryPID,
	})
}

// recordingLogger captures log lines for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

func (l *recordingLogger) log(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *recordingLogger) Info(msg string, args ...any)  { l.log("info", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.log("error", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.log("warn", msg, args) }
func (l *recordingLogger) Debug(msg string, args ...any) { l.log("debug", msg, args) }

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

func (l *recordingLogger) contains(level, substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level == level && strings.Contains(e.msg, substr) {
			return true
		}
	}
	return false
}

func testConfig() MonitorConfig {
	cfg := DefaultConfig()
	cfg.ModulePollInterval = 2 * time.Millisecond
	cfg.FeaturePollInterval = 2 * time.Millisecond
	cfg.ServicePollInterval = 2 * time.Millisecond
	cfg.ConfigPollInterval = 2 * time.Millisecond
	cfg.FeatureWait = time.Second
	cfg.ServiceWait = time.Second
	cfg.ModuleWait = time.Second
	return cfg
}
