package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/api/v1/booking/sessions/:id/submit",
		NormalizePath("/api/v1/booking/sessions/6f1c2d7e-3b7a-4d0e-a3c1-5b8f0e6d2a11/submit"))
	assert.Equal(t, "/api/v1/booking/:id", NormalizePath("/api/v1/booking/42"))
	assert.Equal(t, "/health", NormalizePath("/health"))
	assert.Equal(t, "/api/v1/booking/", NormalizePath("/api/v1/booking/"))
}

func TestPrometheusMiddlewareCountsNormalizedPath(t *testing.T) {
	h := PrometheusMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	}))

	path := "/api/v1/booking/sessions/0b8e3c55-5a8f-4c55-9a4c-9c7f2d1e4b10"
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/v1/booking/sessions/:id", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/v1/booking/sessions/:id", "418"))

	assert.Equal(t, before+1, after)
}

func TestBookingCounters(t *testing.T) {
	before := testutil.ToFloat64(bookingSubmissionsTotal.WithLabelValues("remote"))
	RecordBookingSubmission("remote")
	assert.Equal(t, before+1, testutil.ToFloat64(bookingSubmissionsTotal.WithLabelValues("remote")))

	SetOpenSessions(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(bookingSessionsOpen))
}
