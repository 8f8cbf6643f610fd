package selection

import (
	"context"
	"time"

	"go.uber.org/zap"

	"metamcp/internal/domain"
)

// adaptiveScoreFloor is the minimum top score accepted when the configured
// threshold returned nothing and the search was retried unthresholded.
// Relaxed results below it carry essentially no relevance signal.
const adaptiveScoreFloor = 0.1

// embeddingSink receives lazily computed tool embeddings; the catalog
// implements it.
type embeddingSink interface {
	SetEmbedding(id string, embedding []float64) bool
}

// VectorStrategy ranks tools by embedding similarity between the selection
// context and the indexed tool vectors.
type VectorStrategy struct {
	cfg      domain.StrategyConfig
	embedder domain.Embedder
	index    domain.ToolIndex
	sink     embeddingSink
	logger   *zap.Logger
}

func NewVectorStrategy(cfg domain.StrategyConfig, embedder domain.Embedder, index domain.ToolIndex, sink embeddingSink, logger *zap.Logger) *VectorStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTools <= 0 {
		cfg.MaxTools = domain.DefaultMaxTools
	}
	return &VectorStrategy{
		cfg:      cfg,
		embedder: embedder,
		index:    index,
		sink:     sink,
		logger:   logger.Named("vector"),
	}
}

func (s *VectorStrategy) Name() string {
	return domain.StrategyVector
}

// SelectTools embeds the context text and ranks catalog entries by
// similarity. Capability failures surface as an empty zero-confidence
// result, never as an error to the engine.
func (s *VectorStrategy) SelectTools(ctx context.Context, sctx domain.SelectionContext, tools []domain.Tool) (domain.SelectionResult, error) {
	contextText := sctx.ContextText()

	vector, err := s.embedder.Embed(ctx, contextText)
	if err != nil {
		return s.errorResult(err), nil
	}

	hits, err := s.index.SearchTools(ctx, vector, s.cfg.MaxTools*2, s.cfg.VectorThreshold)
	if err != nil {
		return s.errorResult(err), nil
	}

	adaptive := false
	if len(hits) == 0 {
		relaxed, err := s.index.SearchTools(ctx, vector, min(5, s.cfg.MaxTools), 0)
		if err != nil {
			return s.errorResult(err), nil
		}
		if len(relaxed) > 0 && relaxed[0].Score > adaptiveScoreFloor {
			hits = relaxed
			adaptive = true
			s.logger.Info("adaptive threshold search",
				zap.Int("results", len(relaxed)),
				zap.Float64("top_score", relaxed[0].Score),
			)
		}
	}

	// IDs belonging to a since-stopped source are silently dropped.
	lookup := make(map[string]domain.Tool, len(tools))
	for _, tool := range tools {
		lookup[tool.ID] = tool
	}
	selected := make([]domain.Tool, 0, len(hits))
	for _, hit := range hits {
		if tool, ok := lookup[hit.ID]; ok {
			selected = append(selected, tool)
		}
	}
	if len(selected) > s.cfg.MaxTools {
		selected = selected[:s.cfg.MaxTools]
	}

	topScores := make([]float64, 0, 5)
	for _, hit := range hits[:min(len(hits), 5)] {
		topScores = append(topScores, hit.Score)
	}

	return domain.SelectionResult{
		Tools:      selected,
		Strategy:   domain.StrategyVector,
		Confidence: s.confidence(hits),
		Metadata: map[string]any{
			"query_embedding_size": len(vector),
			"search_results_count": len(hits),
			"threshold_used":       s.cfg.VectorThreshold,
			"adaptive":             adaptive,
			"max_tools":            s.cfg.MaxTools,
			"context_length":       len(contextText),
			"top_scores":           topScores,
		},
	}, nil
}

// confidence takes the top score as the base, rewarding breadth: a full
// result set earns up to a 10% boost, a short one scales down.
func (s *VectorStrategy) confidence(hits []domain.SearchHit) float64 {
	if len(hits) == 0 {
		return 0
	}
	top := hits[0].Score
	for _, hit := range hits[1:] {
		if hit.Score > top {
			top = hit.Score
		}
	}
	if len(hits) >= s.cfg.MaxTools {
		return min(top*1.1, 1.0)
	}
	return top * (0.8 + 0.2*float64(len(hits))/float64(s.cfg.MaxTools))
}

func (s *VectorStrategy) errorResult(err error) domain.SelectionResult {
	s.logger.Error("vector selection failed", zap.Error(err))
	return domain.SelectionResult{
		Strategy:   domain.StrategyVector,
		Confidence: 0,
		Metadata: map[string]any{
			"error": err.Error(),
		},
	}
}

// UpdateToolEmbeddings lazily embeds every tool that lacks a vector and
// persists the whole set into the similarity index. Tools already carrying
// an embedding are skipped, making repeated calls idempotent.
func (s *VectorStrategy) UpdateToolEmbeddings(ctx context.Context, tools []domain.Tool) error {
	var missing []int
	for i, tool := range tools {
		if len(tool.Embedding) == 0 {
			missing = append(missing, i)
		}
	}

	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for i, idx := range missing {
			texts[i] = tools[idx].EmbeddingText()
		}
		s.logger.Info("generating tool embeddings", zap.Int("count", len(missing)))

		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		for i, idx := range missing {
			tools[idx].Embedding = vectors[i]
			if s.sink != nil {
				s.sink.SetEmbedding(tools[idx].ID, vectors[i])
			}
		}
	}

	if err := s.index.UpsertTools(ctx, tools); err != nil {
		return err
	}
	s.logger.Debug("tool embeddings updated",
		zap.Int("total", len(tools)),
		zap.Int("new", len(missing)),
	)
	return nil
}

// UpdateToolUsage forwards post-execution bookkeeping to the index.
// Failures are logged, never propagated; usage stats are advisory.
func (s *VectorStrategy) UpdateToolUsage(ctx context.Context, toolID string, usageCount int64, lastUsed time.Time) {
	if err := s.index.UpdateToolUsage(ctx, toolID, usageCount, lastUsed); err != nil {
		s.logger.Warn("tool usage update failed",
			zap.String("tool", toolID),
			zap.Error(err),
		)
	}
}

var _ domain.Strategy = (*VectorStrategy)(nil)
