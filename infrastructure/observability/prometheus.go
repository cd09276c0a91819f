package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"policyhub-backend/application/ports"
)

// Collector holds all Prometheus metrics for the application
type Collector struct {
	// Registry for this collector instance
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Mediator metrics
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Write path metrics
	Conflicts   *prometheus.CounterVec
	LockWaits   *prometheus.HistogramVec
	LockTimeout *prometheus.CounterVec

	// Read path metrics
	Projections   *prometheus.CounterVec
	OutboxPending prometheus.Gauge
}

var _ ports.Metrics = (*Collector)(nil)

// NewCollector creates a collector on its own registry so tests can build
// as many as they like
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mediator_requests_total",
				Help:      "Commands and queries dispatched through the mediator",
			},
			[]string{"kind", "name", "outcome"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "mediator_request_duration_seconds",
				Help:      "Mediator dispatch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind", "name"},
		),
		Conflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "concurrency_conflicts_total",
				Help:      "Optimistic concurrency conflicts by aggregate type and attempt",
			},
			[]string{"aggregate_type", "attempt"},
		),
		LockWaits: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lock_wait_seconds",
				Help:      "Time spent acquiring aggregate locks",
				Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"aggregate_type"},
		),
		LockTimeout: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lock_timeouts_total",
				Help:      "Lock acquisitions that gave up",
			},
			[]string{"aggregate_type"},
		),
		Projections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "projections_applied_total",
				Help:      "Projection applications by projection and result",
			},
			[]string{"projection", "result"},
		),
		OutboxPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "outbox_pending_events",
				Help:      "Events awaiting projection at the last outbox pass",
			},
		),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.Requests,
		c.RequestDuration,
		c.Conflicts,
		c.LockWaits,
		c.LockTimeout,
		c.Projections,
		c.OutboxPending,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordHTTPRequest records one served HTTP request
func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (c *Collector) RequestHandled(kind, name, outcome string, duration time.Duration) {
	c.Requests.WithLabelValues(kind, name, outcome).Inc()
	c.RequestDuration.WithLabelValues(kind, name).Observe(duration.Seconds())
}

func (c *Collector) ConcurrencyConflict(aggregateType string, attempt int) {
	c.Conflicts.WithLabelValues(aggregateType, strconv.Itoa(attempt)).Inc()
}

func (c *Collector) LockWait(aggregateType string, duration time.Duration, acquired bool) {
	c.LockWaits.WithLabelValues(aggregateType).Observe(duration.Seconds())
	if !acquired {
		c.LockTimeout.WithLabelValues(aggregateType).Inc()
	}
}

func (c *Collector) ProjectionApplied(projection string, failed bool) {
	result := "ok"
	if failed {
		result = "failed"
	}
	c.Projections.WithLabelValues(projection, result).Inc()
}

func (c *Collector) OutboxBacklog(pending int) {
	c.OutboxPending.Set(float64(pending))
}
