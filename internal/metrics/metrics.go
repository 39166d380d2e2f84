// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gosafe"

// Registry is the registry served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "code"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	JourneyTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "journey",
		Name:      "transitions_total",
		Help:      "Journey state transitions that were applied.",
	}, []string{"to"})

	CompanionTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "companion",
		Name:      "transitions_total",
		Help:      "Companion request state transitions that were applied.",
	}, []string{"to"})

	ProvisioningFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "companion",
		Name:      "provisioning_failures_total",
		Help:      "Failed steps of the accept provisioning chain.",
	}, []string{"step"})

	PositionAppends = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "positions",
		Name:      "appends_total",
		Help:      "Positions appended to the live feed.",
	})

	PositionSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "positions",
		Name:      "subscribers",
		Help:      "Open position feed subscriptions.",
	})

	MirrorWriteFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mirror",
		Name:      "write_failures_total",
		Help:      "Mirror writes that failed after one retry.",
	}, []string{"op"})

	MirrorRepairBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "mirror",
		Name:      "repair_backlog",
		Help:      "Mirror operations queued for repair.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequests,
		HTTPDuration,
		JourneyTransitions,
		CompanionTransitions,
		ProvisioningFailures,
		PositionAppends,
		PositionSubscribers,
		MirrorWriteFailures,
		MirrorRepairBacklog,
	)
}

// Handler serves Registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
