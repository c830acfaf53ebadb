package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountsByRoutePattern(t *testing.T) {
	e := echo.New()
	e.Use(Metrics())
	e.GET("/api/v1/patients/:id", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	e.GET("/metrics", MetricsHandler())

	before := testutil.ToFloat64(requestsTotal.WithLabelValues("/api/v1/patients/:id", http.MethodGet, "204"))
	for _, id := range []string{"a", "b"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/patients/"+id, nil))
	}
	after := testutil.ToFloat64(requestsTotal.WithLabelValues("/api/v1/patients/:id", http.MethodGet, "204"))
	if after-before != 2 {
		t.Errorf("expected 2 requests counted, got %v", after-before)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "medevac_http_requests_total") {
		t.Error("expected metrics exposition to include medevac_http_requests_total")
	}
}
