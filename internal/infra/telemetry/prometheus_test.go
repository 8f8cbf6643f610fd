package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metamcp/internal/domain"
)

func TestNewPrometheusMetrics(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())
	assert.NotNil(t, m)
	assert.NotNil(t, m.selectionDuration)
	assert.NotNil(t, m.selectionTotal)
	assert.NotNil(t, m.toolCallDuration)
	assert.NotNil(t, m.embeddingBatches)
	assert.NotNil(t, m.catalogTools)
	assert.NotNil(t, m.sourcesUp)
}

func TestNewPrometheusMetrics_UsesProvidedRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()

	m := NewPrometheusMetrics(registry)
	m.ObserveSelection(domain.SelectionMetric{
		Strategy:   domain.StrategyVector,
		Status:     domain.SelectionStatusSuccess,
		Confidence: 0.8,
		ToolCount:  3,
		Duration:   10 * time.Millisecond,
	})
	m.ObserveToolCall("fs", 50*time.Millisecond, nil)
	m.ObserveToolCall("fs", 5*time.Millisecond, errors.New("boom"))
	m.ObserveEmbeddingBatch(32, 200*time.Millisecond, nil)
	m.ObserveRetrieval(5, 30*time.Millisecond)
	m.SetCatalogTools("fs", 12)
	m.SetSourcesUp(2)

	metrics, err := registry.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(metrics))
	for _, mf := range metrics {
		names = append(names, mf.GetName())
	}

	assert.Contains(t, names, "metamcp_selection_duration_seconds")
	assert.Contains(t, names, "metamcp_selection_total")
	assert.Contains(t, names, "metamcp_selection_tools")
	assert.Contains(t, names, "metamcp_tool_call_duration_seconds")
	assert.Contains(t, names, "metamcp_embedding_texts_total")
	assert.Contains(t, names, "metamcp_embedding_batch_seconds")
	assert.Contains(t, names, "metamcp_retrieval_chunks")
	assert.Contains(t, names, "metamcp_retrieval_duration_seconds")
	assert.Contains(t, names, "metamcp_catalog_tools")
	assert.Contains(t, names, "metamcp_sources_up")
}
