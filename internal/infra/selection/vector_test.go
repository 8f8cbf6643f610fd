package selection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"metamcp/internal/domain"
)

type scriptEmbedder struct {
	vector     []float64
	embedCalls int
	batchCalls int
	batchTexts [][]string
}

func (e *scriptEmbedder) Embed(_ context.Context, _ string) ([]float64, error) {
	e.embedCalls++
	return e.vector, nil
}

func (e *scriptEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float64, error) {
	e.batchCalls++
	e.batchTexts = append(e.batchTexts, texts)
	out := make([][]float64, len(texts))
	for i := range out {
		out[i] = e.vector
	}
	return out, nil
}

// scriptIndex replays scripted hits: the first search pops searches[0],
// the second searches[1], and so on.
type scriptIndex struct {
	searches   [][]domain.SearchHit
	thresholds []float64
	limits     []int
	upserted   []domain.Tool
	usage      map[string]int64
}

func (i *scriptIndex) SearchTools(_ context.Context, _ []float64, limit int, threshold float64) ([]domain.SearchHit, error) {
	i.thresholds = append(i.thresholds, threshold)
	i.limits = append(i.limits, limit)
	if len(i.searches) == 0 {
		return nil, nil
	}
	hits := i.searches[0]
	i.searches = i.searches[1:]
	return hits, nil
}

func (i *scriptIndex) UpsertTools(_ context.Context, tools []domain.Tool) error {
	i.upserted = append(i.upserted, tools...)
	return nil
}

func (i *scriptIndex) UpdateToolUsage(_ context.Context, toolID string, usageCount int64, _ time.Time) error {
	if i.usage == nil {
		i.usage = make(map[string]int64)
	}
	i.usage[toolID] = usageCount
	return nil
}

func (i *scriptIndex) RemoveToolsForSource(context.Context, string) error { return nil }

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float64, error) {
	return nil, domain.ErrEmbeddingUnavailable
}

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float64, error) {
	return nil, domain.ErrEmbeddingUnavailable
}

func vectorConfig() domain.StrategyConfig {
	return domain.StrategyConfig{
		Primary:         domain.StrategyVector,
		Fallback:        domain.StrategyVector,
		VectorThreshold: 0.4,
		MaxTools:        10,
	}
}

func TestVectorStrategySelectsAboveThreshold(t *testing.T) {
	tools := []domain.Tool{
		{ID: "fs.read_file", Name: "read_file", Source: "fs", Description: "Read a file"},
		{ID: "web.search", Name: "search", Source: "web", Description: "Search the web"},
	}
	index := &scriptIndex{searches: [][]domain.SearchHit{{
		{ID: "fs.read_file", Score: 0.92},
		{ID: "web.search", Score: 0.45},
	}}}
	strategy := NewVectorStrategy(vectorConfig(), &scriptEmbedder{vector: []float64{1, 0}}, index, nil, nil)

	result, err := strategy.SelectTools(context.Background(), domain.SelectionContext{Query: "open config file"}, tools)
	require.NoError(t, err)
	require.Equal(t, domain.StrategyVector, result.Strategy)
	require.Len(t, result.Tools, 2)
	require.Equal(t, "fs.read_file", result.Tools[0].ID)
	require.Equal(t, false, result.Metadata["adaptive"])
	require.Equal(t, []int{20}, index.limits)
	require.Equal(t, []float64{0.4}, index.thresholds)

	// two hits against max 10: 0.92 * (0.8 + 0.2*2/10)
	require.InDelta(t, 0.92*0.84, result.Confidence, 1e-9)
}

func TestVectorStrategyAdaptiveRetryAccepts(t *testing.T) {
	tools := []domain.Tool{{ID: "fs.read_file", Name: "read_file", Source: "fs"}}
	index := &scriptIndex{searches: [][]domain.SearchHit{
		nil,
		{{ID: "fs.read_file", Score: 0.15}},
	}}
	strategy := NewVectorStrategy(vectorConfig(), &scriptEmbedder{vector: []float64{1}}, index, nil, nil)

	result, err := strategy.SelectTools(context.Background(), domain.SelectionContext{Query: "vague"}, tools)
	require.NoError(t, err)
	require.Len(t, result.Tools, 1)
	require.Equal(t, true, result.Metadata["adaptive"])
	require.Equal(t, []float64{0.4, 0}, index.thresholds)
	require.Equal(t, []int{20, 5}, index.limits)
}

func TestVectorStrategyAdaptiveRetryRejectsNoise(t *testing.T) {
	tools := []domain.Tool{{ID: "fs.read_file", Name: "read_file", Source: "fs"}}
	index := &scriptIndex{searches: [][]domain.SearchHit{
		nil,
		{{ID: "fs.read_file", Score: 0.05}},
	}}
	strategy := NewVectorStrategy(vectorConfig(), &scriptEmbedder{vector: []float64{1}}, index, nil, nil)

	result, err := strategy.SelectTools(context.Background(), domain.SelectionContext{Query: "unrelated"}, tools)
	require.NoError(t, err)
	require.Empty(t, result.Tools)
	require.Zero(t, result.Confidence)
	require.Equal(t, false, result.Metadata["adaptive"])
}

func TestVectorStrategyDropsStaleHits(t *testing.T) {
	tools := []domain.Tool{{ID: "fs.read_file", Name: "read_file", Source: "fs"}}
	index := &scriptIndex{searches: [][]domain.SearchHit{{
		{ID: "gone.tool", Score: 0.9},
		{ID: "fs.read_file", Score: 0.8},
	}}}
	strategy := NewVectorStrategy(vectorConfig(), &scriptEmbedder{vector: []float64{1}}, index, nil, nil)

	result, err := strategy.SelectTools(context.Background(), domain.SelectionContext{Query: "q"}, tools)
	require.NoError(t, err)
	require.Len(t, result.Tools, 1)
	require.Equal(t, "fs.read_file", result.Tools[0].ID)
}

func TestVectorStrategyFullResultSetBoostsConfidence(t *testing.T) {
	cfg := vectorConfig()
	cfg.MaxTools = 2
	tools := []domain.Tool{
		{ID: "fs.read_file"},
		{ID: "fs.write_file"},
	}
	index := &scriptIndex{searches: [][]domain.SearchHit{{
		{ID: "fs.read_file", Score: 0.95},
		{ID: "fs.write_file", Score: 0.9},
	}}}
	strategy := NewVectorStrategy(cfg, &scriptEmbedder{vector: []float64{1}}, index, nil, nil)

	result, err := strategy.SelectTools(context.Background(), domain.SelectionContext{Query: "q"}, tools)
	require.NoError(t, err)
	require.InDelta(t, 1.0, result.Confidence, 1e-9)
	require.LessOrEqual(t, result.Confidence, 1.0)
}

func TestVectorStrategyAbsorbsEmbedderFailure(t *testing.T) {
	strategy := NewVectorStrategy(vectorConfig(), failingEmbedder{}, &scriptIndex{}, nil, nil)

	result, err := strategy.SelectTools(context.Background(), domain.SelectionContext{Query: "q"}, nil)
	require.NoError(t, err)
	require.Empty(t, result.Tools)
	require.Zero(t, result.Confidence)
	require.Contains(t, result.Metadata, "error")
}

func TestUpdateToolEmbeddingsOnlyEmbedsMissing(t *testing.T) {
	embedder := &scriptEmbedder{vector: []float64{0.5, 0.5}}
	index := &scriptIndex{}
	strategy := NewVectorStrategy(vectorConfig(), embedder, index, nil, nil)

	tools := []domain.Tool{
		{ID: "fs.read_file", Name: "read_file", Description: "Read a file"},
		{ID: "fs.write_file", Name: "write_file", Description: "Write a file", Embedding: []float64{1, 0}},
	}
	require.NoError(t, strategy.UpdateToolEmbeddings(context.Background(), tools))
	require.Equal(t, 1, embedder.batchCalls)
	require.Len(t, embedder.batchTexts[0], 1)
	require.Len(t, index.upserted, 2)
	require.NotEmpty(t, tools[0].Embedding)

	// everything embedded now, a second pass never calls the backend
	require.NoError(t, strategy.UpdateToolEmbeddings(context.Background(), tools))
	require.Equal(t, 1, embedder.batchCalls)
}

func TestUpdateToolUsageForwardsToIndex(t *testing.T) {
	index := &scriptIndex{}
	strategy := NewVectorStrategy(vectorConfig(), &scriptEmbedder{}, index, nil, nil)

	strategy.UpdateToolUsage(context.Background(), "fs.read_file", 4, time.Now())
	require.Equal(t, int64(4), index.usage["fs.read_file"])
}
