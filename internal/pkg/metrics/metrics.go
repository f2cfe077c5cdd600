// Package metrics provides Prometheus metrics definitions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "watchover"

var (
	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route", "status_code"},
	)

	// DBPoolConnections tracks database connection pool state.
	DBPoolConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "pool_connections",
			Help:      "Number of database connections by state",
		},
		[]string{"state"},
	)

	// ChecksTotal counts executed checks by target kind and outcome.
	ChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checks",
			Name:      "total",
			Help:      "Number of executed checks",
		},
		[]string{"kind", "status"},
	)

	// CheckDuration tracks check execution latency.
	CheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checks",
			Name:      "duration_seconds",
			Help:      "Check execution duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind"},
	)

	// IncidentsOpen tracks the number of currently non-terminal incidents.
	IncidentsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "open",
			Help:      "Number of non-terminal incidents",
		},
	)

	// IncidentsTotal counts incident lifecycle transitions.
	IncidentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "total",
			Help:      "Number of incident lifecycle transitions",
		},
		[]string{"transition"},
	)

	// EscalationAdvances counts escalation advance steps by outcome.
	EscalationAdvances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "advances_total",
			Help:      "Number of escalation advance steps",
		},
		[]string{"outcome"},
	)

	// NotificationsSent counts notification deliveries by channel and status.
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Number of notification deliveries",
		},
		[]string{"channel", "status"},
	)

	// NotificationDuration tracks delivery latency by channel.
	NotificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "duration_seconds",
			Help:      "Notification delivery duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)
)

// RecordCheck records one executed check.
func RecordCheck(kind, status string, duration time.Duration) {
	ChecksTotal.WithLabelValues(kind, status).Inc()
	CheckDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordNotification records one delivery attempt.
func RecordNotification(channel, status string, duration time.Duration) {
	NotificationsSent.WithLabelValues(channel, status).Inc()
	NotificationDuration.WithLabelValues(channel).Observe(duration.Seconds())
}
