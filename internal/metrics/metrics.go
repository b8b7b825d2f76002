// Package metrics exposes Prometheus instrumentation for the service.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pesio-ai/be-scm-fulfillment/internal/errors"
	"github.com/pesio-ai/be-scm-fulfillment/internal/events"
)

const namespace = "scm"

// Metrics holds the service collectors
type Metrics struct {
	registry *prometheus.Registry

	Operations   *prometheus.CounterVec
	OperationMS  *prometheus.HistogramVec
	DomainEvents *prometheus.CounterVec
	Requests     *prometheus.CounterVec
	LatencyMS    *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry
func New(service string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "operations_total",
			Help:      "Fulfillment operations by outcome code.",
		}, []string{"operation", "code"}),
		OperationMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "operation_duration_ms",
			Help:      "Fulfillment operation latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"operation"}),
		DomainEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "domain_events_total",
			Help:      "Domain events emitted after commit.",
		}, []string{"type"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
	}

	m.registry.MustRegister(
		m.Operations, m.OperationMS, m.DomainEvents, m.Requests, m.LatencyMS,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOperation records one service call. Successful calls are counted
// under code "OK".
func (m *Metrics) ObserveOperation(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	code := "OK"
	if err != nil {
		code = string(errors.CodeOf(err))
	}
	m.Operations.WithLabelValues(operation, code).Inc()
	m.OperationMS.WithLabelValues(operation).Observe(float64(time.Since(started).Microseconds()) / 1000)
}

// ObserveRequest records one HTTP request
func (m *Metrics) ObserveRequest(handler string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(float64(elapsed.Microseconds()) / 1000)
}

// EventCounter is an events.Handler counting domain events by type
func (m *Metrics) EventCounter(ctx context.Context, ev events.Event) error {
	m.DomainEvents.WithLabelValues(string(ev.Type)).Inc()
	return nil
}
