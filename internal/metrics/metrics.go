package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "corelauncher"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	roleLaunches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "role",
			Name:      "launches_total",
			Help:      "Number of successful process launches.",
		}, []string{"role"},
	)
	roleLaunchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "role",
			Name:      "launch_failures_total",
			Help:      "Number of launches that failed to spawn the executable.",
		}, []string{"role"},
	)
	roleStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "role",
			Name:      "stops_total",
			Help:      "Number of operator-initiated stops.",
		}, []string{"role"},
	)
	roleStopTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "role",
			Name:      "stop_timeouts_total",
			Help:      "Number of stops that gave up waiting for the exit notification.",
		}, []string{"role"},
	)
	roleExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "role",
			Name:      "exits_total",
			Help:      "Number of observed process exits, clean or not.",
		}, []string{"role"},
	)
	roleStartupWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "role",
			Name:      "startup_wait_seconds",
			Help:      "Time spent between launch and the Running status.",
			Buckets:   []float64{0.1, 0.5, 1, 3, 5, 10, 15, 25, 40, 60},
		}, []string{"role"},
	)
	statusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "role",
			Name:      "status_transitions_total",
			Help:      "Number of status transitions between lifecycle statuses.",
		}, []string{"role", "from", "to"},
	)
	currentStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "role",
			Name:      "current_status",
			Help:      "Current status of roles (1 = active status, 0 = inactive).",
		}, []string{"role", "status"},
	)
	bulkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bulk",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of start-all/stop-all/restart-all.",
			Buckets:   []float64{1, 5, 10, 20, 30, 45, 60, 90, 120},
		}, []string{"op"},
	)
	bulkFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bulk",
			Name:      "stage_failures_total",
			Help:      "Number of per-role stage failures swallowed by bulk operations.",
		}, []string{"op", "role"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		roleLaunches, roleLaunchFailures, roleStops, roleStopTimeouts, roleExits,
		roleStartupWait, statusTransitions, currentStatus, bulkDuration, bulkFailures,
		roleCPU, roleMemory, roleProcs,
	}
}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
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
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncLaunch(role string) {
	if regOK.Load() {
		roleLaunches.WithLabelValues(role).Inc()
	}
}

func IncLaunchFailure(role string) {
	if regOK.Load() {
		roleLaunchFailures.WithLabelValues(role).Inc()
	}
}

func IncStop(role string) {
	if regOK.Load() {
		roleStops.WithLabelValues(role).Inc()
	}
}

func IncStopTimeout(role string) {
	if regOK.Load() {
		roleStopTimeouts.WithLabelValues(role).Inc()
	}
}

func IncExit(role string) {
	if regOK.Load() {
		roleExits.WithLabelValues(role).Inc()
	}
}

func ObserveStartupWait(role string, seconds float64) {
	if regOK.Load() {
		roleStartupWait.WithLabelValues(role).Observe(seconds)
	}
}

// RecordStatus counts a transition and flips the current-status gauge.
// Starting-<ms> statuses are folded into "Starting" to keep label cardinality fixed.
func RecordStatus(role, from, to string) {
	if !regOK.Load() {
		return
	}
	from, to = foldStatus(from), foldStatus(to)
	statusTransitions.WithLabelValues(role, from, to).Inc()
	if from != "" {
		currentStatus.WithLabelValues(role, from).Set(0)
	}
	currentStatus.WithLabelValues(role, to).Set(1)
}

func ObserveBulk(op string, seconds float64) {
	if regOK.Load() {
		bulkDuration.WithLabelValues(op).Observe(seconds)
	}
}

func IncBulkFailure(op, role string) {
	if regOK.Load() {
		bulkFailures.WithLabelValues(op, role).Inc()
	}
}

func foldStatus(s string) string {
	const p = "Starting-"
	if len(s) > len(p) && s[:len(p)] == p {
		return "Starting"
	}
	return s
}
