package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCountersAndExposition(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Ingested("http")
	m.Ingested("http")
	m.Rejected("mqtt")
	m.SubscribersChanged(3)
	m.FrameDropped()
	m.Broadcast("new_device_data")
	m.ExportFailed("kafka")

	require.Equal(t, 2.0, testutil.ToFloat64(m.ingested.WithLabelValues("http")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("mqtt")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.subscribers))
	require.Equal(t, 1.0, testutil.ToFloat64(m.dropped))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	require.Contains(t, string(body), `envdash_readings_ingested_total{source="http"} 2`)
	require.Contains(t, string(body), `envdash_export_failures_total{sink="kafka"} 1`)
}

func TestWrapHandlerRecordsStatus(t *testing.T) {
	m := New(prometheus.NewRegistry())
	h := m.WrapHandler("teapot", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("teapot", "418")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Ingested("x")
	m.SubscribersChanged(1)
	m.Broadcast("x")
	called := false
	m.WrapHandler("r", http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.True(t, called)
}
