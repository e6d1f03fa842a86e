// Package metrics exposes Prometheus metrics for ingestion and retrieval.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for one service instance. A nil *Metrics is
// valid and records nothing.
//
// Metrics:
//   - kotae_uploads_total{result} - uploads by outcome ("ok" or an error kind)
//   - kotae_upload_duration_seconds - end-to-end ingestion time
//   - kotae_upload_chunks - chunks per ingested document
//   - kotae_queries_total{result} - queries by outcome
//   - kotae_query_duration_seconds - end-to-end retrieval time
//   - kotae_deletes_total{result} - deletes by outcome
//   - kotae_cached_indexes - indexes held in memory
//   - kotae_documents - registered documents
type Metrics struct {
	registry *prometheus.Registry

	UploadsTotal   *prometheus.CounterVec
	UploadDuration prometheus.Histogram
	UploadChunks   prometheus.Histogram
	QueriesTotal   *prometheus.CounterVec
	QueryDuration  prometheus.Histogram
	DeletesTotal   *prometheus.CounterVec
	CachedIndexes  prometheus.Gauge
	Documents      prometheus.Gauge
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		UploadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kotae_uploads_total",
			Help: "Total number of document uploads by result",
		}, []string{"result"}),
		UploadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kotae_upload_duration_seconds",
			Help:    "Duration of document ingestion in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		UploadChunks: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kotae_upload_chunks",
			Help:    "Number of chunks per ingested document",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		QueriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kotae_queries_total",
			Help: "Total number of retrieval queries by result",
		}, []string{"result"}),
		QueryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kotae_query_duration_seconds",
			Help:    "Duration of retrieval queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.5s
		}),
		DeletesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kotae_deletes_total",
			Help: "Total number of document deletions by result",
		}, []string{"result"}),
		CachedIndexes: f.NewGauge(prometheus.GaugeOpts{
			Name: "kotae_cached_indexes",
			Help: "Number of document indexes held in memory",
		}),
		Documents: f.NewGauge(prometheus.GaugeOpts{
			Name: "kotae_documents",
			Help: "Number of registered documents",
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordUpload records one upload attempt. result is "ok" or an error kind.
func (m *Metrics) RecordUpload(result string, d time.Duration, chunks int) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(result).Inc()
	m.UploadDuration.Observe(d.Seconds())
	if result == "ok" {
		m.UploadChunks.Observe(float64(chunks))
	}
}

// RecordQuery records one query.
func (m *Metrics) RecordQuery(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(result).Inc()
	m.QueryDuration.Observe(d.Seconds())
}

// RecordDelete records one delete.
func (m *Metrics) RecordDelete(result string) {
	if m == nil {
		return
	}
	m.DeletesTotal.WithLabelValues(result).Inc()
}

// SetCachedIndexes updates the cache size gauge.
func (m *Metrics) SetCachedIndexes(n int) {
	if m == nil {
		return
	}
	m.CachedIndexes.Set(float64(n))
}

// SetDocuments updates the document count gauge.
func (m *Metrics) SetDocuments(n int) {
	if m == nil {
		return
	}
	m.Documents.Set(float64(n))
}
