package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector implements Collector using Prometheus metrics
type PrometheusCollector struct {
	stateTransitions *prometheus.CounterVec
	restarts         *prometheus.CounterVec
	spawnFailures    *prometheus.CounterVec
	instances        prometheus.Gauge

	registry *prometheus.Registry
}

// NewPrometheusCollector creates a collector with its own registry
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	if namespace == "" {
		namespace = "verdantd"
	}

	pc := &PrometheusCollector{
		registry: prometheus.NewRegistry(),
	}

	pc.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_state_transitions_total",
			Help:      "Total number of instance state transitions",
		},
		[]string{"instance", "from_state", "to_state"},
	)

	pc.restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_restarts_total",
			Help:      "Total number of instance respawns",
		},
		[]string{"instance"},
	)

	pc.spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_spawn_failures_total",
			Help:      "Total number of failed launch attempts",
		},
		[]string{"instance"},
	)

	pc.instances = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances",
			Help:      "Current number of managed instances",
		},
	)

	pc.registry.MustRegister(
		pc.stateTransitions,
		pc.restarts,
		pc.spawnFailures,
		pc.instances,
	)

	return pc
}

func (pc *PrometheusCollector) StateTransition(name, fromState, toState string) {
	pc.stateTransitions.WithLabelValues(name, fromState, toState).Inc()
}

func (pc *PrometheusCollector) Restart(name string) {
	pc.restarts.WithLabelValues(name).Inc()
}

func (pc *PrometheusCollector) SpawnFailure(name string) {
	pc.spawnFailures.WithLabelValues(name).Inc()
}

func (pc *PrometheusCollector) Instances(count int) {
	pc.instances.Set(float64(count))
}

// Handler exposes the registry for an HTTP /metrics endpoint
func (pc *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(pc.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry for test assertions
func (pc *PrometheusCollector) Registry() *prometheus.Registry {
	return pc.registry
}
