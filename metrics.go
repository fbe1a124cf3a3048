package bootready

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector receives wait and mutation measurements.
type MetricsCollector interface {
	// ObserveWait records the outcome of one wait.
	ObserveWait(wait string, outcome Outcome, duration time.Duration, polls int)

	// ObserveMutation records a mutation request against the runtime.
	ObserveMutation(op string, err error)
}

type nopMetrics struct{}

func (nopMetrics) ObserveWait(string, Outcome, time.Duration, int) {}
func (nopMetrics) ObserveMutation(string, error)                   {}

// PrometheusMetricsCollector implements MetricsCollector using Prometheus metrics
type PrometheusMetricsCollector struct {
	waits        *prometheus.CounterVec
	waitDuration *prometheus.HistogramVec
	polls        *prometheus.HistogramVec
	mutations    *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusMetricsCollector creates a collector on its own registry.
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "bootready"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	pmc.waits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waits_total",
			Help:      "Total number of readiness waits by outcome",
		},
		[]string{"wait", "outcome"},
	)

	pmc.waitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wait_duration_seconds",
			Help:      "Time spent blocked in readiness waits",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 600},
		},
		[]string{"wait", "outcome"},
	)

	pmc.polls = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wait_polls",
			Help:      "Number of condition evaluations per wait",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"wait"},
	)

	pmc.mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Total number of runtime mutation requests",
		},
		[]string{"op", "status"},
	)

	pmc.registry.MustRegister(pmc.waits, pmc.waitDuration, pmc.polls, pmc.mutations)

	return pmc
}

// ObserveWait implements MetricsCollector.
func (p *PrometheusMetricsCollector) ObserveWait(wait string, outcome Outcome, duration time.Duration, polls int) {
	p.waits.WithLabelValues(wait, outcome.String()).Inc()
	p.waitDuration.WithLabelValues(wait, outcome.String()).Observe(duration.Seconds())
	p.polls.WithLabelValues(wait).Observe(float64(polls))
}

// ObserveMutation implements MetricsCollector.
func (p *PrometheusMetricsCollector) ObserveMutation(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.mutations.WithLabelValues(op, status).Inc()
}

// Registry returns the collector's private registry.
func (p *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the collector's registry in the Prometheus text format.
func (p *PrometheusMetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
