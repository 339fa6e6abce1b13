// Package telemetry exposes Prometheus metrics for HTTP traffic and the
// domain workflows.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what domain services report workflow activity through.
type Recorder interface {
	RecordTransition(machine, from, to string)
	RecordDispatch()
	RecordToken()
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordTransition(string, string, string) {}
func (NopRecorder) RecordDispatch()                         {}
func (NopRecorder) RecordToken()                            {}

// Metrics owns a dedicated registry so tests and multiple servers in one
// process do not collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	transitions  *prometheus.CounterVec
	dispatches   prometheus.Counter
	tokensIssued prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hmis_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hmis_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hmis_status_transitions_total",
				Help: "Accepted status transitions by state machine",
			},
			[]string{"machine", "from", "to"},
		),
		dispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hmis_ambulance_dispatches_total",
			Help: "Ambulances dispatched to calls",
		}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hmis_queue_tokens_issued_total",
			Help: "Clinical queue token numbers issued",
		}),
	}
	m.registry.MustRegister(
		m.httpRequests, m.httpDuration, m.transitions, m.dispatches, m.tokensIssued,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// PoolStatsFunc reports total, idle and acquired connections.
type PoolStatsFunc func() (total, idle, acquired int32)

// RegisterPoolStats exports database pool gauges read from stats on scrape.
func (m *Metrics) RegisterPoolStats(stats PoolStatsFunc) {
	gauge := func(name, help string, pick func(t, i, a int32) int32) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return float64(pick(stats()))
		})
	}
	m.registry.MustRegister(
		gauge("hmis_db_pool_total_conns", "Open database connections", func(t, _, _ int32) int32 { return t }),
		gauge("hmis_db_pool_idle_conns", "Idle database connections", func(_, i, _ int32) int32 { return i }),
		gauge("hmis_db_pool_acquired_conns", "Database connections in use", func(_, _, a int32) int32 { return a }),
	)
}

func (m *Metrics) RecordTransition(machine, from, to string) {
	m.transitions.WithLabelValues(machine, from, to).Inc()
}

func (m *Metrics) RecordDispatch() { m.dispatches.Inc() }

func (m *Metrics) RecordToken() { m.tokensIssued.Inc() }

// Middleware counts and times every request. The path label is the route
// template (/api/v1/bloodbank/units/:id), never the raw URL.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().URL.Path == "/metrics" {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
