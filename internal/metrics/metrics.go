// Package metrics drží Prometheus metriky celé služby.
//
// Všechny metody jsou bezpečné i na nil *Metrics, takže komponenty
// v testech nemusí metriky vůbec zakládat.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "envdash"

type Metrics struct {
	gatherer prometheus.Gatherer

	ingested      *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	subscribers   prometheus.Gauge
	dropped       prometheus.Counter
	broadcasts    *prometheus.CounterVec
	exportFailed  *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

// New založí metriky a zaregistruje je do reg.
// Každá instance má vlastní registry, aby testy nepadaly na duplicitní registraci.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_ingested_total",
			Help:      "Počet uložených měření podle vstupu (http, ws, mqtt).",
		}, []string{"source"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_rejected_total",
			Help:      "Počet odmítnutých měření podle vstupu.",
		}, []string{"source"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_subscribers",
			Help:      "Aktuální počet připojených odběratelů.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_frames_dropped_total",
			Help:      "Rámce zahozené kvůli plné frontě odběratele.",
		}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Počet rozeslaných událostí podle názvu.",
		}, []string{"event"}),
		exportFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_failures_total",
			Help:      "Selhané exporty měření podle cíle.",
		}, []string{"sink"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Počet HTTP požadavků podle routy a statusu.",
		}, []string{"route", "status"}),
		httpDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Doba zpracování HTTP požadavku podle routy.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.ingested,
		m.rejected,
		m.subscribers,
		m.dropped,
		m.broadcasts,
		m.exportFailed,
		m.httpRequests,
		m.httpDurations,
	)
	return m
}

// Handler vrací /metrics endpoint nad registry, do které se metriky registrovaly.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Ingested(source string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(source).Inc()
}

func (m *Metrics) Rejected(source string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(source).Inc()
}

func (m *Metrics) ExportFailed(sink string) {
	if m == nil {
		return
	}
	m.exportFailed.WithLabelValues(sink).Inc()
}

// SubscribersChanged, FrameDropped a Broadcast implementují hub.Observer.

func (m *Metrics) SubscribersChanged(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) Broadcast(event string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(event).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler měří počet a dobu požadavků na jednu routu.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDurations.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
