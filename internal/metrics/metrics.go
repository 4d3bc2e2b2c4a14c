// Package metrics exposes prometheus collectors for the HTTP surface and the
// import path.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several servers (and tests) can live in
// one process.
type Metrics struct {
	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	imported   prometheus.Counter
	duplicates prometheus.Counter
	streams    prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msgarchive",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "msgarchive",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		imported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msgarchive",
			Name:      "imported_messages_total",
			Help:      "Messages stored by bulk imports.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msgarchive",
			Name:      "duplicate_messages_total",
			Help:      "Messages skipped by bulk imports because they already existed.",
		}),
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "msgarchive",
			Name:      "event_streams",
			Help:      "Open server-sent event streams.",
		}),
	}
	m.registry.MustRegister(
		m.requests, m.latency, m.imported, m.duplicates, m.streams,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Middleware records every request under its route template. Unmatched
// paths are grouped as "unmatched".
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.requests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.latency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// ObserveImport counts the outcome of one bulk import.
func (m *Metrics) ObserveImport(stored, duplicates int) {
	if m == nil {
		return
	}
	m.imported.Add(float64(stored))
	m.duplicates.Add(float64(duplicates))
}

// StreamOpened and StreamClosed track live /events connections.
func (m *Metrics) StreamOpened() {
	if m != nil {
		m.streams.Inc()
	}
}

func (m *Metrics) StreamClosed() {
	if m != nil {
		m.streams.Dec()
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
