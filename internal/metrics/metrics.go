package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. It implements usecase.Recorder.
type Metrics struct {
	gatherer prometheus.Gatherer

	verifications *prometheus.CounterVec
	faceIDLookups *prometheus.CounterVec
	registrations *prometheus.CounterVec

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg. gatherer backs Handler.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: gatherer,
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "face_verifications_total",
			Help: "Recorded verification attempts by outcome.",
		}, []string{"outcome"}),
		faceIDLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "face_id_cache_lookups_total",
			Help: "Registered face id lookups by result.",
		}, []string{"result"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "face_registrations_total",
			Help: "Face registration attempts by result.",
		}, []string{"result"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
	reg.MustRegister(
		m.verifications,
		m.faceIDLookups,
		m.registrations,
		m.httpInFlight,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)
	return m
}

// NewDefault registers on the process-wide Prometheus registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

func (m *Metrics) ObserveVerification(outcome string) {
	m.verifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFaceIDLookup(result string) {
	m.faceIDLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRegistration(result string) {
	m.registrations.WithLabelValues(result).Inc()
}

// Handler exposes the gathered metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Instrument records request count, latency and in-flight requests. Paths are
// labelled with the matched route template; unmatched requests share one label.
func (m *Metrics) Instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.httpInFlight.Inc()
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpInFlight.Dec()
	}
}
