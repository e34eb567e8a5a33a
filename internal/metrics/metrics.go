// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ridecore"

var (
	TripTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "trips_transitions_total", Help: "Trip status transitions by target status"},
		[]string{"to"},
	)
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_total", Help: "Push deliveries by event and result"},
		[]string{"event", "result"},
	)
	SideEffectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "side_effect_failures_total", Help: "Best-effort side effects that failed"},
		[]string{"effect"},
	)
	RouteFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "route_fallbacks_total", Help: "Route estimates served by the straight-line fallback"},
	)
	PresenceConnections = promauto.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "presence_connections", Help: "Live push connections held by this process"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Side effect labels.
const (
	EffectAutoConnect = "auto_connect"
	EffectRanking     = "ranking"
	EffectDriverState = "driver_state"
)
