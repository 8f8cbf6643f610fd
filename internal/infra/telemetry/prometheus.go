package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"metamcp/internal/domain"
)

type PrometheusMetrics struct {
	selectionDuration *prometheus.HistogramVec
	selectionTotal    *prometheus.CounterVec
	selectionSize     *prometheus.HistogramVec
	toolCallDuration  *prometheus.HistogramVec
	embeddingBatches  *prometheus.CounterVec
	embeddingLatency  prometheus.Histogram
	retrievalChunks   prometheus.Histogram
	retrievalLatency  prometheus.Histogram
	catalogTools      *prometheus.GaugeVec
	sourcesUp         prometheus.Gauge
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		selectionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metamcp_selection_duration_seconds",
				Help:    "Duration of strategy selection attempts in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"strategy", "status"},
		),
		selectionTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metamcp_selection_total",
				Help: "Total number of strategy selection attempts",
			},
			[]string{"strategy", "status", "fallback"},
		),
		selectionSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metamcp_selection_tools",
				Help:    "Number of tools returned per selection attempt",
				Buckets: []float64{0, 1, 2, 3, 5, 8, 10, 15, 20},
			},
			[]string{"strategy"},
		),
		toolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metamcp_tool_call_duration_seconds",
				Help:    "Duration of proxied tool calls in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"source", "status"},
		),
		embeddingBatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metamcp_embedding_texts_total",
				Help: "Total number of texts sent to the embedding backend",
			},
			[]string{"status"},
		),
		embeddingLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "metamcp_embedding_batch_seconds",
				Help:    "Latency of embedding batches in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		retrievalChunks: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "metamcp_retrieval_chunks",
				Help:    "Number of documentation chunks returned per retrieval",
				Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
			},
		),
		retrievalLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "metamcp_retrieval_duration_seconds",
				Help:    "Latency of documentation retrieval in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5},
			},
		),
		catalogTools: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "metamcp_catalog_tools",
				Help: "Current number of catalogued tools per source",
			},
			[]string{"source"},
		),
		sourcesUp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "metamcp_sources_up",
				Help: "Current number of connected sources",
			},
		),
	}
}

func (p *PrometheusMetrics) ObserveSelection(metric domain.SelectionMetric) {
	status := string(metric.Status)
	p.selectionDuration.WithLabelValues(metric.Strategy, status).Observe(metric.Duration.Seconds())
	p.selectionTotal.WithLabelValues(metric.Strategy, status, boolLabel(metric.Fallback)).Inc()
	p.selectionSize.WithLabelValues(metric.Strategy).Observe(float64(metric.ToolCount))
}

func (p *PrometheusMetrics) ObserveToolCall(source string, duration time.Duration, err error) {
	p.toolCallDuration.WithLabelValues(source, errLabel(err)).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveEmbeddingBatch(texts int, duration time.Duration, err error) {
	p.embeddingBatches.WithLabelValues(errLabel(err)).Add(float64(texts))
	p.embeddingLatency.Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveRetrieval(chunks int, duration time.Duration) {
	p.retrievalChunks.Observe(float64(chunks))
	p.retrievalLatency.Observe(duration.Seconds())
}

func (p *PrometheusMetrics) SetCatalogTools(source string, count int) {
	p.catalogTools.WithLabelValues(source).Set(float64(count))
}

func (p *PrometheusMetrics) SetSourcesUp(count int) {
	p.sourcesUp.Set(float64(count))
}

func errLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
