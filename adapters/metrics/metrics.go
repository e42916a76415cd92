// Package metrics provides Prometheus metrics collection for the metering
// service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for the metering service.
type Collector struct {
	// Authorization metrics
	AuthorizeDecisions *prometheus.CounterVec
	AuthorizeDuration  *prometheus.HistogramVec

	// Usage tracking metrics
	TrackedEvents *prometheus.CounterVec

	// Remote report metrics
	ReportAttempts prometheus.Counter
	ReportOutcomes *prometheus.CounterVec
	ReportDuration prometheus.Histogram
	QueueDepth     prometheus.Gauge

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates a new metrics collector registered on the default registry.
func New() *Collector {
	return newWith(promauto.With(prometheus.DefaultRegisterer))
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	return newWith(promauto.With(reg))
}

func newWith(factory promauto.Factory) *Collector {
	return &Collector{
		AuthorizeDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterd",
				Name:      "authorize_decisions_total",
				Help:      "Authorization outcomes by plan pathway and decision",
			},
			[]string{"pathway", "allowed", "reason"},
		),
		AuthorizeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "meterd",
				Name:      "authorize_duration_seconds",
				Help:      "Authorization request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"pathway"},
		),
		TrackedEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterd",
				Name:      "tracked_events_total",
				Help:      "Usage events recorded locally, by meter",
			},
			[]string{"meter"},
		),
		ReportAttempts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "meterd",
				Name:      "report_attempts_total",
				Help:      "Delivery attempts to the metering authority, including retries",
			},
		),
		ReportOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterd",
				Name:      "report_outcomes_total",
				Help:      "Final delivery outcomes by disposition",
			},
			[]string{"outcome"}, // accepted, duplicate, queued, redelivered
		),
		ReportDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "meterd",
				Name:      "report_duration_seconds",
				Help:      "Time to deliver one event to the metering authority",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "meterd",
				Name:      "report_queue_depth",
				Help:      "Usage events awaiting redelivery",
			},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "meterd",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "meterd",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path", "status"},
		),
	}
}
