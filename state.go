package bootready

import "fmt"

// ModuleState is the lifecycle state of a module as reported by the runtime.
type ModuleState int

const (
	ModuleStateUninstalled ModuleState = iota
	ModuleStateInstalled
	ModuleStateResolved
	ModuleStateStarting
	ModuleStateStopping
	ModuleStateActive
	// ModuleStateFailure is reported by the runtime when a module could not
	// be started. It does not recover without external intervention.
	ModuleStateFailure
)

// String returns the string representation of the module state.
func (s ModuleState) String() string {
	switch s {
	case ModuleStateUninstalled:
		return "UNINSTALLED"
	case ModuleStateInstalled:
		return "INSTALLED"
	case ModuleStateResolved:
		return "RESOLVED"
	case ModuleStateStarting:
		return "STARTING"
	case ModuleStateStopping:
		return "STOPPING"
	case ModuleStateActive:
		return "ACTIVE"
	case ModuleStateFailure:
		return "FAILURE"
	default:
		return "UNKNOWN"
	}
}

// ParseModuleState converts the String form back to a ModuleState.
func ParseModuleState(s string) (ModuleState, error) {
	for st := ModuleStateUninstalled; st <= ModuleStateFailure; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return ModuleStateUninstalled, fmt.Errorf("unknown module state %q", s)
}

// readiness is the evaluation of a single entity against its target state.
type readiness int

const (
	readinessPending readiness = iota
	readinessReady
	readinessFailed
)

// readinessOf classifies a module state. Fragments attach to a host and never
// become Active, so Resolved is their success state and they are never
// treated as failed.
func readinessOf(state ModuleState, fragment bool) readiness {
	if fragment {
		if state == ModuleStateResolved {
			return readinessReady
		}
		return readinessPending
	}

	switch state {
	case ModuleStateActive:
		return readinessReady
	case ModuleStateFailure:
		return readinessFailed
	case ModuleStateUninstalled, ModuleStateInstalled, ModuleStateResolved,
		ModuleStateStarting, ModuleStateStopping:
		return readinessPending
	default:
		return readinessPending
	}
}

// FeatureState is the installation state of a feature.
type FeatureState int

const (
	FeatureStateUninstalled FeatureState = iota
	FeatureStateInstalled
	FeatureStateResolved
	FeatureStateStarted
)

// String returns the string representation of the feature state.
func (s FeatureState) String() string {
	switch s {
	case FeatureStateUninstalled:
		return "Uninstalled"
	case FeatureStateInstalled:
		return "Installed"
	case FeatureStateResolved:
		return "Resolved"
	case FeatureStateStarted:
		return "Started"
	default:
		return "Unknown"
	}
}

// ParseFeatureState converts the String form back to a FeatureState.
func ParseFeatureState(s string) (FeatureState, error) {
	for st := FeatureStateUninstalled; st <= FeatureStateStarted; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return FeatureStateUninstalled, fmt.Errorf("unknown feature state %q", s)
}

// ServiceKind selects which registry a service query runs against.
type ServiceKind int

const (
	ServiceKindManagedService ServiceKind = iota
	ServiceKindManagedServiceFactory
)

func (k ServiceKind) String() string {
	switch k {
	case ServiceKindManagedService:
		return "managed-service"
	case ServiceKindManagedServiceFactory:
		return "managed-service-factory"
	default:
		return "unknown"
	}
}

// ConfigEventType is the kind of a configuration event.
type ConfigEventType int

const (
	ConfigEventUpdated ConfigEventType = iota
	ConfigEventDeleted
	ConfigEventLocationChanged
)

func (t ConfigEventType) String() string {
	switch t {
	case ConfigEventUpdated:
		return "updated"
	case ConfigEventDeleted:
		return "deleted"
	case ConfigEventLocationChanged:
		return "location_changed"
	default:
		return "unknown"
	}
}

// Outcome is the result of a single wait.
type Outcome int

const (
	OutcomeReady Outcome = iota
	OutcomeTimedOut
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReady:
		return "ready"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}
