package bootready

import (
	"encoding/json"
	"fmt"
	"time"
)

// HealthStatus represents the health state of a module or of the runtime
// as a whole.
type HealthStatus int

const (
	// HealthStatusUnknown indicates that the status cannot be determined.
	HealthStatusUnknown HealthStatus = iota

	// HealthStatusHealthy indicates the module reached its target state.
	HealthStatusHealthy

	// HealthStatusDegraded indicates the module is still on its way to its
	// target state.
	HealthStatusDegraded

	// HealthStatusUnhealthy indicates the module failed and will not
	// recover on its own.
	HealthStatusUnhealthy
)

// String returns the string representation of the health status.
func (s HealthStatus) String() string {
	switch s {
	case HealthStatusHealthy:
		return "healthy"
	case HealthStatusDegraded:
		return "degraded"
	case HealthStatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// IsHealthy returns true if the status represents a healthy state.
func (s HealthStatus) IsHealthy() bool {
	return s == HealthStatusHealthy
}

// MarshalJSON encodes the status as its string form.
func (s HealthStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the string form produced by MarshalJSON.
func (s *HealthStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("health status: %w", err)
	}
	for _, st := range []HealthStatus{HealthStatusUnknown, HealthStatusHealthy, HealthStatusDegraded, HealthStatusUnhealthy} {
		if st.String() == str {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown health status %q", str)
}

// worse returns the more severe of two statuses.
func (s HealthStatus) worse(other HealthStatus) HealthStatus {
	if other > s {
		return other
	}
	return s
}

// HealthReport is the health of one module.
type HealthReport struct {
	// Module is the module's symbolic name.
	Module  string `json:"module"`
	Version string `json:"version,omitempty"`

	// State is the lifecycle state the runtime reported.
	State string `json:"state"`

	Status   HealthStatus `json:"status"`
	Fragment bool         `json:"fragment,omitempty"`

	// Message explains a non-healthy status.
	Message string `json:"message,omitempty"`

	CheckedAt time.Time `json:"checkedAt"`

	Headers map[string]string `json:"headers,omitempty"`
}

// AggregatedHealth combines the reports of every module.
type AggregatedHealth struct {
	// Readiness is healthy only when every module reached its target state.
	Readiness HealthStatus `json:"readiness"`

	// Health is the most severe status across all reports.
	Health HealthStatus `json:"health"`

	Reports []HealthReport `json:"reports"`

	GeneratedAt time.Time `json:"generatedAt"`
}

// ModuleHealth reports every module against its target state: Active for
// regular modules, Resolved for fragments. A runtime with no modules is
// healthy.
func ModuleHealth(modules []Module, checkedAt time.Time) AggregatedHealth {
	agg := AggregatedHealth{
		Readiness:   HealthStatusHealthy,
		Health:      HealthStatusHealthy,
		Reports:     make([]HealthReport, 0, len(modules)),
		GeneratedAt: checkedAt,
	}
	for _, m := range modules {
		report := HealthReport{
			Module:    m.Name,
			Version:   m.Version,
			State:     m.State.String(),
			Fragment:  m.IsFragment(),
			CheckedAt: checkedAt,
			Headers:   m.Headers,
		}
		switch readinessOf(m.State, m.IsFragment()) {
		case readinessReady:
			report.Status = HealthStatusHealthy
		case readinessFailed:
			report.Status = HealthStatusUnhealthy
			report.Message = "module failed to start"
		case readinessPending:
			report.Status = HealthStatusDegraded
			if m.IsFragment() {
				report.Message = "waiting for fragment to resolve"
			} else {
				report.Message = "waiting for module to become active"
			}
		}
		agg.Health = agg.Health.worse(report.Status)
		agg.Reports = append(agg.Reports, report)
	}
	if !agg.Health.IsHealthy() {
		agg.Readiness = HealthStatusUnhealthy
	}
	return agg
}
