// Package metrics exposes prometheus counters for command execution, health
// polling and backend lifecycle transitions.
package metrics

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openprism/desktop/internal/cmdrun"
)

// Collector implements cmdrun.Observer, health.Observer and the supervisor
// event sink on a private registry.
type Collector struct {
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	healthPolls     *prometheus.CounterVec
	healthDuration  prometheus.Histogram
	lifecycle       *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewCollector creates a collector; an empty namespace defaults to "openprism".
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "openprism"
	}
	c := &Collector{registry: prometheus.NewRegistry()}

	c.commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of external command invocations by outcome",
		},
		[]string{"command", "outcome"},
	)
	c.commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Duration of external command invocations",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"command"},
	)
	c.healthPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_polls_total",
			Help:      "Total number of backend health polls by result",
		},
		[]string{"result"},
	)
	c.healthDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "health_poll_duration_seconds",
			Help:      "Duration of single backend health polls",
			Buckets:   prometheus.DefBuckets,
		},
	)
	c.lifecycle = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_lifecycle_events_total",
			Help:      "Total number of backend lifecycle events by kind",
		},
		[]string{"event"},
	)

	c.registry.MustRegister(
		c.commands,
		c.commandDuration,
		c.healthPolls,
		c.healthDuration,
		c.lifecycle,
	)
	return c
}

// ObserveCommand records one command invocation. The label is the base name
// of the command so absolute interpreter paths do not explode cardinality.
func (c *Collector) ObserveCommand(name string, kind cmdrun.Kind, duration time.Duration) {
	label := filepath.Base(name)
	outcome := string(kind)
	if kind == cmdrun.KindSuccess {
		outcome = "ok"
	}
	c.commands.WithLabelValues(label, outcome).Inc()
	c.commandDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// ObserveHealthPoll records one health poll.
func (c *Collector) ObserveHealthPoll(healthy bool, duration time.Duration) {
	result := "unhealthy"
	if healthy {
		result = "healthy"
	}
	c.healthPolls.WithLabelValues(result).Inc()
	c.healthDuration.Observe(duration.Seconds())
}

// ObserveLifecycle counts a backend lifecycle event.
func (c *Collector) ObserveLifecycle(event string) {
	c.lifecycle.WithLabelValues(event).Inc()
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
