package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Payment metrics
	PaymentsCreatedTotal *prometheus.CounterVec
	WebhooksTotal        *prometheus.CounterVec
	ReconciliationsTotal *prometheus.CounterVec
	RefundsTotal         *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec
}

// New creates a new Metrics instance with all metrics registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "flowpay"
	}

	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		PaymentsCreatedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "created_total",
				Help:      "Total number of payments created",
			},
			[]string{"provider", "status"},
		),
		WebhooksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "webhooks_total",
				Help:      "Total number of provider webhooks received",
			},
			[]string{"provider", "result"},
		),
		ReconciliationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "reconciliations_total",
				Help:      "Total number of status reconciliations applied",
			},
			[]string{"provider", "to_status"},
		),
		RefundsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "refunds_total",
				Help:      "Total number of refunds dispatched",
			},
			[]string{"provider", "result"},
		),
		ProviderCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "provider_call_duration_seconds",
				Help:      "Outbound provider call duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider", "operation"},
		),
	}
}
