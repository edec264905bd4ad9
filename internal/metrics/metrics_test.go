package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return New(reg, reg)
}

func TestRecorderCounters(t *testing.T) {
	m := newTestMetrics()

	m.ObserveVerification("verified")
	m.ObserveVerification("verified")
	m.ObserveVerification("no_face")
	m.ObserveFaceIDLookup("hit")
	m.ObserveRegistration("stored")

	if got := testutil.ToFloat64(m.verifications.WithLabelValues("verified")); got != 2 {
		t.Fatalf("expected 2 verified, got %v", got)
	}
	if got := testutil.ToFloat64(m.verifications.WithLabelValues("no_face")); got != 1 {
		t.Fatalf("expected 1 no_face, got %v", got)
	}
	if got := testutil.ToFloat64(m.faceIDLookups.WithLabelValues("hit")); got != 1 {
		t.Fatalf("expected 1 hit, got %v", got)
	}
	if got := testutil.ToFloat64(m.registrations.WithLabelValues("stored")); got != 1 {
		t.Fatalf("expected 1 stored, got %v", got)
	}
}

func TestInstrumentLabelsRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newTestMetrics()

	r := gin.New()
	r.Use(m.Instrument())
	r.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	for _, path := range []string{"/items/1", "/items/2", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues(http.MethodGet, "/items/:id", "418")); got != 2 {
		t.Fatalf("expected 2 templated requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")); got != 1 {
		t.Fatalf("expected 1 unmatched request, got %v", got)
	}
	if got := testutil.ToFloat64(m.httpInFlight); got != 0 {
		t.Fatalf("expected no in-flight requests, got %v", got)
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := newTestMetrics()
	m.ObserveRegistration("closed")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `face_registrations_total{result="closed"} 1`) {
		t.Fatalf("expected registration counter in output, got:\n%s", w.Body.String())
	}
}
