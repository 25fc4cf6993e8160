package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "objstore"

// Storage operation outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeAbsent = "absent"
	OutcomeError  = "error"
)

// Signed-link gate outcomes.
const (
	LinkServed   = "served"
	LinkExpired  = "expired"
	LinkInvalid  = "invalid"
	LinkDisabled = "disabled"
)

// Metrics owns a private registry so tests can build as many as they need.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry        *prometheus.Registry
	storageOps      *prometheus.CounterVec
	storageDuration *prometheus.HistogramVec
	signedLinks     *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		storageOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_operations_total",
				Help:      "Storage operations by dataset, operation and outcome.",
			},
			[]string{"dataset", "operation", "outcome"},
		),
		storageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_operation_duration_seconds",
				Help:      "Storage operation latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"dataset", "operation"},
		),
		signedLinks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signed_link_requests_total",
				Help:      "Requests that reached the local signed-link gate, by outcome.",
			},
			[]string{"outcome"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed.",
			},
			[]string{"method", "route", "status"},
		),
	}

	m.registry.MustRegister(
		m.storageOps,
		m.storageDuration,
		m.signedLinks,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveStorage(dataset, operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.storageOps.WithLabelValues(dataset, operation, outcome).Inc()
	m.storageDuration.WithLabelValues(dataset, operation).Observe(elapsed.Seconds())
}

func (m *Metrics) SignedLink(outcome string) {
	if m == nil {
		return
	}
	m.signedLinks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) HTTPRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// StorageCounter exposes one storage_operations_total series.
func (m *Metrics) StorageCounter(dataset, operation, outcome string) prometheus.Counter {
	if m == nil {
		return nil
	}
	return m.storageOps.WithLabelValues(dataset, operation, outcome)
}

// SignedLinkCounter exposes one signed_link_requests_total series.
func (m *Metrics) SignedLinkCounter(outcome string) prometheus.Counter {
	if m == nil {
		return nil
	}
	return m.signedLinks.WithLabelValues(outcome)
}
