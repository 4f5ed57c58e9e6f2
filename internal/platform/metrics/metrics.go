package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fl1X12/doctor-side-sub000/internal/domain/patient"
	"github.com/fl1X12/doctor-side-sub000/internal/platform/middleware"
)

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge
	PanicsTotal     *prometheus.CounterVec

	PatientsCreatedTotal *prometheus.CounterVec
	CompletedTotal       prometheus.Counter
	VitalsSavedTotal     prometheus.Counter
	ReadingsTotal        *prometheus.CounterVec
	NotesTotal           prometheus.Counter
	BulkRowsTotal        *prometheus.CounterVec

	AuditEntriesTotal prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewCollector registers every collector on reg. Pass nil to use the
// process-wide default registry.
func NewCollector(serviceName string, reg prometheus.Registerer) *Collector {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	f := promauto.With(reg)

	return &Collector{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route", "status"}),

		InFlightGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		PatientsCreatedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "clinical",
			Name:      "patients_created_total",
			Help:      "Patients admitted, by department.",
		}, []string{"redirection"}),

		CompletedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "clinical",
			Name:      "visits_completed_total",
			Help:      "Records moved from waiting to completed.",
		}),

		VitalsSavedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "clinical",
			Name:      "vitals_saved_total",
			Help:      "Vitals saves.",
		}),

		ReadingsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "clinical",
			Name:      "parameter_readings_total",
			Help:      "Parameter readings appended, by parameter type.",
		}, []string{"type"}),

		NotesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "clinical",
			Name:      "notes_total",
			Help:      "Doctor notes appended.",
		}),

		BulkRowsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "Bulk admission rows by result.",
		}, []string{"result"}),

		PanicsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "panics_total",
			Help:      "Handler panics recovered, by route.",
		}, []string{"route"}),

		AuditEntriesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "audit",
			Name:      "entries_total",
			Help:      "Total audit log entries written.",
		}),

		gatherer: gatherer,
	}
}

// Handler exposes the registry the collector was built on.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency keyed by the matched route
// so ids and uhiNos don't blow up label cardinality.
func (c *Collector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			c.InFlightGauge.Inc()
			defer c.InFlightGauge.Dec()

			start := time.Now()
			err := next(ec)

			status := ec.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !ec.Response().Committed {
				status = he.Code
			} else if err != nil && !ec.Response().Committed {
				status = http.StatusInternalServerError
			}
			route := ec.Path()
			if route == "" {
				route = "unmatched"
			}
			labels := prometheus.Labels{
				"method": ec.Request().Method,
				"route":  route,
				"status": strconv.Itoa(status),
			}
			c.RequestsTotal.With(labels).Inc()
			c.RequestDuration.With(labels).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// PanicRecovered satisfies middleware.PanicRecorder.
func (c *Collector) PanicRecovered(route string) {
	c.PanicsTotal.WithLabelValues(route).Inc()
}

// patient.Recorder

func (c *Collector) PatientCreated(r patient.Redirection) {
	c.PatientsCreatedTotal.WithLabelValues(string(r)).Inc()
}

func (c *Collector) StatusCompleted() { c.CompletedTotal.Inc() }
func (c *Collector) VitalsSaved()     { c.VitalsSavedTotal.Inc() }
func (c *Collector) NoteAppended()    { c.NotesTotal.Inc() }

func (c *Collector) ReadingAppended(paramType string) {
	c.ReadingsTotal.WithLabelValues(readingLabel(paramType)).Inc()
}

func (c *Collector) BulkImported(inserted, failed int) {
	c.BulkRowsTotal.WithLabelValues("inserted").Add(float64(inserted))
	c.BulkRowsTotal.WithLabelValues("failed").Add(float64(failed))
}

// RecordAccess counts audit entries; it satisfies middleware.AuditRecorder.
func (c *Collector) RecordAccess(middleware.AuditEntry) error {
	c.AuditEntriesTotal.Inc()
	return nil
}

// Free-text parameter types are folded into "other".
func readingLabel(paramType string) string {
	for _, known := range patient.KnownParameterTypes {
		if paramType == known {
			return known
		}
	}
	return "other"
}
