package web

import (
	"net/http"

	"github.com/hydroshare/hsextract/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics lives on its own registry so several servers can coexist in tests.
type Metrics struct {
	registry  *prometheus.Registry
	events    *prometheus.CounterVec
	duration  prometheus.Histogram
	documents *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hsextract",
			Name:      "events_total",
			Help:      "Storage events handled, by status and content type.",
		}, []string{"status", "content_type"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hsextract",
			Name:      "event_duration_seconds",
			Help:      "Time spent handling one storage event.",
			Buckets:   prometheus.DefBuckets,
		}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hsextract",
			Name:      "documents_total",
			Help:      "Metadata documents written or removed.",
		}, []string{"op"}),
	}
	m.registry.MustRegister(m.events, m.duration, m.documents)
	return m
}

func (m *Metrics) Observe(r types.Result) {
	m.events.WithLabelValues(string(r.Status), r.ContentType).Inc()
	m.duration.Observe(r.Duration.Seconds())
	m.documents.WithLabelValues("written").Add(float64(len(r.Written)))
	m.documents.WithLabelValues("removed").Add(float64(len(r.Removed)))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
