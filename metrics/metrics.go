// Package metrics defines the Prometheus collectors exported by Vigil.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vigil"

// Metrics holds every collector. Create one per registry with New.
type Metrics struct {
	// PatchesTotal counts terminal patch transitions.
	// Labels: status (applied, failed, rolled_back)
	PatchesTotal *prometheus.CounterVec

	// PatchStepDuration measures individual pipeline steps.
	// Labels: step (apply, lint, test, build, up, health, commit, rebuild, revert)
	PatchStepDuration *prometheus.HistogramVec

	// WebhooksTotal counts inbound webhook calls.
	// Labels: status (accepted, unauthorized), source
	WebhooksTotal *prometheus.CounterVec

	// RequestDuration measures HTTP request latency.
	// Labels: method, route, status
	RequestDuration *prometheus.HistogramVec

	// ActiveConnections tracks in-flight HTTP requests and open websockets.
	ActiveConnections prometheus.Gauge

	// SelfHealingRestarts counts restart attempts made by the self-healing manager.
	// Labels: result (success, failure, not_found, ceiling)
	SelfHealingRestarts *prometheus.CounterVec

	// DockerEvents counts runtime events forwarded by the watcher.
	// Labels: action
	DockerEvents *prometheus.CounterVec

	// DownstreamCalls counts best-effort calls to collaborating services.
	// Labels: target (parse, reindex), result (success, error, open)
	DownstreamCalls *prometheus.CounterVec

	// BusPublishes counts event bus publishes.
	// Labels: channel, result (success, error)
	BusPublishes *prometheus.CounterVec

	// HealthProbes counts periodic health probes.
	// Labels: service, result (healthy, unhealthy)
	HealthProbes *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patches_total",
			Help:      "Patches reaching a terminal state, by status.",
		}, []string{"status"}),

		PatchStepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "patch_step_duration_seconds",
			Help:      "Duration of patch pipeline steps.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"step"}),

		WebhooksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Inbound webhooks, by status and source.",
		}, []string{"status", "source"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "In-flight HTTP requests and open event streams.",
		}),

		SelfHealingRestarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "self_healing_restarts_total",
			Help:      "Self-healing restart attempts, by result.",
		}, []string{"result"}),

		DockerEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "docker_events_total",
			Help:      "Container runtime events forwarded to the bus, by action.",
		}, []string{"action"}),

		DownstreamCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downstream_calls_total",
			Help:      "Best-effort downstream calls, by target and result.",
		}, []string{"target", "result"}),

		BusPublishes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eventbus_publishes_total",
			Help:      "Event bus publishes, by channel and result.",
		}, []string{"channel", "result"}),

		HealthProbes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_probes_total",
			Help:      "Periodic service health probes, by service and result.",
		}, []string{"service", "result"}),
	}
}

// Handler serves the exposition format for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Result maps an error to the success/error label pair used across collectors.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
