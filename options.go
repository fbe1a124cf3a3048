package bootready

import "fmt"

// Option configures a StdSystemMonitor.
type Option func(*StdSystemMonitor) error

// WithLogger sets the logger used for wait progress and diagnostics.
func WithLogger(logger Logger) Option {
	return func(m *StdSystemMonitor) error {
		if logger != nil {
			m.logger = logger
		}
		return nil
	}
}

// WithConfig replaces the default timeouts and poll intervals.
func WithConfig(cfg MonitorConfig) Option {
	return func(m *StdSystemMonitor) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid monitor config: %w", err)
		}
		m.cfg = cfg
		return nil
	}
}

// WithMetrics sets the collector that receives wait and mutation metrics.
func WithMetrics(metrics MetricsCollector) Option {
	return func(m *StdSystemMonitor) error {
		if metrics != nil {
			m.metrics = metrics
		}
		return nil
	}
}
