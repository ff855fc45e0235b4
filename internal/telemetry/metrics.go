package telemetry

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "bill_reconciler_"

var (
	registerOnce sync.Once

	reconcileTotal      *prometheus.CounterVec
	reconcileLatency    *prometheus.HistogramVec
	reconcileConflicts  prometheus.Counter
	gatewayObservations *prometheus.CounterVec
	dispatchFailures    *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpLatency         *prometheus.HistogramVec
)

// InitMetrics registers reconciliation metrics with the default registry.
func InitMetrics() {
	registerOnce.Do(func() {
		reconcileTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconcile_total",
				Help: "Total reconciliations by source and outcome tag",
			},
			[]string{"source", "outcome"},
		)
		reconcileLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "reconcile_latency_seconds",
				Help:    "Reconciliation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		)
		reconcileConflicts = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconcile_conflicts_total",
				Help: "Optimistic write conflicts that triggered a retry",
			},
		)
		gatewayObservations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "gateway_notifications_total",
				Help: "Gateway notifications by normalized transaction state",
			},
			[]string{"state"},
		)
		dispatchFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dispatch_failures_total",
				Help: "Swallowed notification dispatch failures by channel",
			},
			[]string{"channel"},
		)
		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "HTTP requests by route and status",
			},
			[]string{"route", "status"},
		)
		httpLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_latency_seconds",
				Help:    "HTTP latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		)

		prometheus.MustRegister(
			reconcileTotal,
			reconcileLatency,
			reconcileConflicts,
			gatewayObservations,
			dispatchFailures,
			httpRequests,
			httpLatency,
		)
	})
}

// ObserveReconcile records one reconciliation result.
func ObserveReconcile(source, outcome string, duration time.Duration) {
	if reconcileTotal != nil {
		reconcileTotal.WithLabelValues(source, outcome).Inc()
	}
	if reconcileLatency != nil {
		reconcileLatency.WithLabelValues(source).Observe(duration.Seconds())
	}
}

// IncReconcileConflict counts a CAS retry.
func IncReconcileConflict() {
	if reconcileConflicts != nil {
		reconcileConflicts.Inc()
	}
}

// IncGatewayState counts a received gateway notification.
func IncGatewayState(state string) {
	if state == "" {
		state = "unknown"
	}
	if gatewayObservations != nil {
		gatewayObservations.WithLabelValues(state).Inc()
	}
}

// IncDispatchFailure counts a swallowed dispatch failure.
func IncDispatchFailure(channel string) {
	if dispatchFailures != nil {
		dispatchFailures.WithLabelValues(channel).Inc()
	}
}

// ObserveHTTP records a served request.
func ObserveHTTP(route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	if httpRequests != nil {
		httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	}
	if httpLatency != nil {
		httpLatency.WithLabelValues(route).Observe(duration.Seconds())
	}
}
