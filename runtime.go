package bootready

import "context"

// Service property keys used to identify managed services.
const (
	PropServicePID = "service.pid"
	PropFactoryPID = "service.factoryPid"
)

// HeaderFragmentHost marks a module as a fragment in its headers.
const HeaderFragmentHost = "Fragment-Host"

// Module is a read-only view of a runtime module.
type Module struct {
	// Name is the symbolic name. Several versions of the same module may be
	// installed side by side, so it is not a unique key.
	Name     string
	Version  string
	State    ModuleState
	Fragment bool
	// Headers are diagnostic only.
	Headers map[string]string
}

// IsFragment reports whether the module is a fragment, either by flag or by
// its Fragment-Host header.
func (m Module) IsFragment() bool {
	if m.Fragment {
		return true
	}
	_, ok := m.Headers[HeaderFragmentHost]
	return ok
}

// Feature is a resolved feature record.
type Feature struct {
	Name    string
	Version string
}

// ID returns the name/version form used to query feature state.
func (f Feature) ID() string {
	if f.Version == "" {
		return f.Name
	}
	return f.Name + "/" + f.Version
}

// InstallOptions control feature installation.
type InstallOptions struct {
	// NoAutoRefresh suppresses refreshing modules that depend on what was
	// installed or uninstalled.
	NoAutoRefresh bool
}

// ServiceRef is a registered service reference.
type ServiceRef struct {
	ID         int64
	Kind       ServiceKind
	Properties map[string]any
}

// Property returns the named property as a string, or "" when absent.
func (r ServiceRef) Property(key string) string {
	v, ok := r.Properties[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// ModuleRegistry lists and starts/stops runtime modules.
type ModuleRegistry interface {
	Modules(ctx context.Context) ([]Module, error)
	StartModule(ctx context.Context, name string) error
	StopModule(ctx context.Context, name string) error
}

// FeatureService resolves and installs features.
type FeatureService interface {
	// ResolveFeature returns every record matching name, which may be a bare
	// name or name/version. Unknown names are an error.
	ResolveFeature(ctx context.Context, name string) ([]Feature, error)
	IsInstalled(ctx context.Context, feature Feature) (bool, error)
	InstallFeatures(ctx context.Context, features []Feature, opts InstallOptions) error
	UninstallFeatures(ctx context.Context, features []Feature, opts InstallOptions) error
	FeatureState(ctx context.Context, name, version string) (FeatureState, error)
}

// Configuration is a configuration record in the store.
type Configuration interface {
	PID() string
	// FactoryPID is empty for singleton configurations.
	FactoryPID() string
	Properties() map[string]any
	Update(ctx context.Context, properties map[string]any) error
}

// ConfigStore creates and looks up configuration records.
type ConfigStore interface {
	CreateFactoryConfiguration(ctx context.Context, factoryPID string) (Configuration, error)
	GetConfiguration(ctx context.Context, pid string) (Configuration, error)
}

// ServiceRegistry finds registered services by kind and LDAP-style filter.
type ServiceRegistry interface {
	FindServices(ctx context.Context, kind ServiceKind, filter string) ([]ServiceRef, error)
}

// StateQuery is the read-only view of the runtime used by the evaluators.
type StateQuery interface {
	Modules(ctx context.Context) ([]Module, error)
	FeatureState(ctx context.Context, name, version string) (FeatureState, error)
	FindServices(ctx context.Context, kind ServiceKind, filter string) ([]ServiceRef, error)
}

// Runtime is everything the monitor needs from the host runtime.
type Runtime interface {
	ModuleRegistry
	FeatureService
	ConfigStore
	ServiceRegistry
	EventBus
}
