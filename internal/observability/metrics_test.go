package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	metrics := NewMetrics()

	router := chi.NewRouter()
	router.Use(metrics.Middleware)
	router.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	count := testutil.ToFloat64(metrics.requestsTotal.WithLabelValues("/items/{id}", "204"))
	require.Equal(t, float64(1), count)
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	metrics := NewMetrics()
	metrics.requestsTotal.WithLabelValues("/healthz", "200").Inc()

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "meridian_http_requests_total")
}

func TestNilMetricsHandlerUnavailable(t *testing.T) {
	var metrics *Metrics

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestJobTrackerCountsOutcomes(t *testing.T) {
	registry := prometheus.NewRegistry()
	jobMetrics := NewJobMetrics(registry)

	require.NoError(t, jobMetrics.Track("alerts:sweep").End(nil))

	failure := errors.New("boom")
	require.ErrorIs(t, jobMetrics.Track("alerts:sweep").End(failure), failure)

	require.Equal(t, float64(1), testutil.ToFloat64(jobMetrics.runs.WithLabelValues("alerts:sweep", "success")))
	require.Equal(t, float64(1), testutil.ToFloat64(jobMetrics.runs.WithLabelValues("alerts:sweep", "failure")))
	require.Equal(t, float64(1), testutil.ToFloat64(jobMetrics.failures.WithLabelValues("alerts:sweep")))
}

func TestAddAlertsRaisedIgnoresZero(t *testing.T) {
	registry := prometheus.NewRegistry()
	jobMetrics := NewJobMetrics(registry)

	jobMetrics.AddAlertsRaised("low_stock", 0)
	jobMetrics.AddAlertsRaised("low_stock", 3)

	require.Equal(t, float64(3), testutil.ToFloat64(jobMetrics.raised.WithLabelValues("low_stock")))
}
