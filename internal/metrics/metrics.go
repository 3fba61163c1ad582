package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Health values exported by SetServiceHealth, one series per value.
var healthStates = []string{"unknown", "healthy", "degraded", "unreachable"}

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workshop",
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Number of health probes by resulting health.",
		}, []string{"service", "result"},
	)
	healAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workshop",
			Subsystem: "healing",
			Name:      "tier_attempts_total",
			Help:      "Number of recovery tiers entered.",
		}, []string{"service", "tier"},
	)
	healOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workshop",
			Subsystem: "healing",
			Name:      "outcomes_total",
			Help:      "Number of finished healing sessions by outcome.",
		}, []string{"service", "outcome"},
	)
	healDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "workshop",
			Subsystem: "healing",
			Name:      "session_duration_seconds",
			Help:      "Wall time of a healing session from trigger to outcome.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"},
	)
	incidents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workshop",
			Subsystem: "incidents",
			Name:      "logged_total",
			Help:      "Number of incidents logged.",
		}, []string{"event", "outcome"},
	)
	runningServices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "workshop",
			Subsystem: "registry",
			Name:      "running_services",
			Help:      "Services currently in the running state.",
		},
	)
	serviceHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "workshop",
			Subsystem: "registry",
			Name:      "service_health",
			Help:      "Current health of a service (1 = current value, 0 = otherwise).",
		}, []string{"service", "health"},
	)
	serviceCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "workshop",
			Subsystem: "service",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of a running service process.",
		}, []string{"service"},
	)
	serviceMemory = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "workshop",
			Subsystem: "service",
			Name:      "memory_mb",
			Help:      "Resident memory in MB of a running service process.",
		}, []string{"service"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{healthChecks, healAttempts, healOutcomes, healDuration, incidents, runningServices, serviceHealth, serviceCPU, serviceMemory}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func ObserveHealthCheck(service, result string) {
	if regOK.Load() {
		healthChecks.WithLabelValues(service, result).Inc()
	}
}

func IncHealTier(service string, tier int) {
	if regOK.Load() {
		healAttempts.WithLabelValues(service, strconv.Itoa(tier)).Inc()
	}
}

func ObserveHealOutcome(service, outcome string, seconds float64) {
	if regOK.Load() {
		healOutcomes.WithLabelValues(service, outcome).Inc()
		healDuration.WithLabelValues(outcome).Observe(seconds)
	}
}

func IncIncident(event, outcome string) {
	if regOK.Load() {
		if outcome == "" {
			outcome = "none"
		}
		incidents.WithLabelValues(event, outcome).Inc()
	}
}

func SetRunningServices(n int) {
	if regOK.Load() {
		runningServices.Set(float64(n))
	}
}

// SetServiceHealth marks health as the current value for service and clears the others.
func SetServiceHealth(service, health string) {
	if !regOK.Load() {
		return
	}
	for _, h := range healthStates {
		var v float64
		if h == health {
			v = 1
		}
		serviceHealth.WithLabelValues(service, h).Set(v)
	}
}

func SetServiceResources(service string, cpuPct, memMB float64) {
	if regOK.Load() {
		serviceCPU.WithLabelValues(service).Set(cpuPct)
		serviceMemory.WithLabelValues(service).Set(memMB)
	}
}

// DeleteServiceResources drops the resource series of a service that is no longer sampled.
func DeleteServiceResources(service string) {
	if regOK.Load() {
		serviceCPU.DeleteLabelValues(service)
		serviceMemory.DeleteLabelValues(service)
	}
}
