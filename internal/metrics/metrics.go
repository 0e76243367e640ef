// Package metrics exposes Prometheus instrumentation for the transports.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"licensed/internal/license"
	"licensed/internal/lifecycle"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "licensed"

type Metrics struct {
	registry *prometheus.Registry

	requests   *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	operations *prometheus.CounterVec
}

// Lister is the part of the engine the license collector reads on scrape.
type Lister interface {
	ListLicenses() ([]license.License, error)
}

// New registers the process collectors, request and lifecycle metrics and,
// when lister is non-nil, per-license gauges computed at scrape time.
func New(lister Lister) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "operations_total",
			Help:      "Activation and deactivation attempts by outcome.",
		}, []string{"operation", "outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.durations,
		m.operations,
	)
	if lister != nil {
		m.registry.MustRegister(newLicenseCollector(lister))
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(route, method string, code int, d time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.durations.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveOperation counts one lifecycle call by the kind of its outcome.
func (m *Metrics) ObserveOperation(op string, err error) {
	m.operations.WithLabelValues(op, Outcome(err)).Inc()
}

// Outcome names the error kind for labels and error codes.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, lifecycle.ErrNotFound):
		return "not_found"
	case errors.Is(err, lifecycle.ErrRevoked):
		return "revoked"
	case errors.Is(err, lifecycle.ErrExpired):
		return "expired"
	case errors.Is(err, lifecycle.ErrAlreadyActivated):
		return "already_activated"
	case errors.Is(err, lifecycle.ErrNotActivated):
		return "not_activated"
	case errors.Is(err, lifecycle.ErrSlotsExhausted):
		return "slots_exhausted"
	case errors.Is(err, lifecycle.ErrInvalidMachineID):
		return "invalid_machine_id"
	default:
		return "error"
	}
}

type licenseCollector struct {
	lister Lister

	used   *prometheus.Desc
	limit  *prometheus.Desc
	status *prometheus.Desc
	errors prometheus.Counter
}

func newLicenseCollector(lister Lister) *licenseCollector {
	return &licenseCollector{
		lister: lister,
		used: prometheus.NewDesc(prometheus.BuildFQName(namespace, "license", "activations"),
			"Machines currently holding a slot.", []string{"key", "tier"}, nil),
		limit: prometheus.NewDesc(prometheus.BuildFQName(namespace, "license", "activation_limit"),
			"Activation slots issued.", []string{"key", "tier"}, nil),
		status: prometheus.NewDesc(prometheus.BuildFQName(namespace, "license", "status"),
			"1 for the current status of each license.", []string{"key", "status"}, nil),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "license",
			Name:      "scrape_errors_total",
			Help:      "Failures listing licenses during a scrape.",
		}),
	}
}

func (c *licenseCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.used
	ch <- c.limit
	ch <- c.status
	c.errors.Describe(ch)
}

func (c *licenseCollector) Collect(ch chan<- prometheus.Metric) {
	list, err := c.lister.ListLicenses()
	if err != nil {
		c.errors.Inc()
	}
	for _, l := range list {
		tier := string(l.Tier)
		ch <- prometheus.MustNewConstMetric(c.used, prometheus.GaugeValue, float64(len(l.Activations)), l.Key, tier)
		ch <- prometheus.MustNewConstMetric(c.limit, prometheus.GaugeValue, float64(l.ActivationLimit), l.Key, tier)
		ch <- prometheus.MustNewConstMetric(c.status, prometheus.GaugeValue, 1, l.Key, string(l.Status))
	}
	c.errors.Collect(ch)
}
