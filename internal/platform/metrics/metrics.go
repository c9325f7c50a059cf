package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the process-wide Prometheus instruments. Domain services
// take the narrow recorder interfaces they need rather than the struct.
type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	PatientsCreatedTotal prometheus.Counter
	ActionsRecordedTotal *prometheus.CounterVec
	StatusChangesTotal   *prometheus.CounterVec
	EntriesCreatedTotal  prometheus.Counter

	CatalogCacheTotal *prometheus.CounterVec
	AuditEntriesTotal prometheus.Counter
}

func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "path", "status"}),

		InFlightGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		PatientsCreatedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lab",
			Name:      "patients_created_total",
			Help:      "Total number of patient records created.",
		}),

		ActionsRecordedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lab",
			Name:      "actions_recorded_total",
			Help:      "Recorded actions by scheduler outcome.",
		}, []string{"outcome"}),

		StatusChangesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lab",
			Name:      "status_changes_total",
			Help:      "Patient status changes by target status.",
		}, []string{"status"}),

		EntriesCreatedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "entries_created_total",
			Help:      "Total billing ledger entries written.",
		}),

		CatalogCacheTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "cache_lookups_total",
			Help:      "Protocol catalog cache lookups by result (hit, miss, error).",
		}, []string{"result"}),

		AuditEntriesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "entries_total",
			Help:      "Total audit log entries written.",
		}),
	}
}

// Gatherer exposes the collector's registry, mostly for tests.
func (m *Collector) Gatherer() prometheus.Gatherer { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Collector) PatientCreated() { m.PatientsCreatedTotal.Inc() }

func (m *Collector) ActionRecorded(outcome string) {
	m.ActionsRecordedTotal.WithLabelValues(outcome).Inc()
}

func (m *Collector) StatusChanged(status string) { m.StatusChangesTotal.WithLabelValues(status).Inc() }

func (m *Collector) EntryCreated() { m.EntriesCreatedTotal.Inc() }

func (m *Collector) CacheLookup(result string) { m.CatalogCacheTotal.WithLabelValues(result).Inc() }

func (m *Collector) AuditWritten() { m.AuditEntriesTotal.Inc() }

// Middleware records request counts and latency. The path label uses the
// matched route template so ids do not explode label cardinality.
func (m *Collector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.InFlightGauge.Inc()
			defer m.InFlightGauge.Dec()

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			labels := []string{c.Request().Method, path, strconv.Itoa(status)}
			m.RequestsTotal.WithLabelValues(labels...).Inc()
			m.RequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
