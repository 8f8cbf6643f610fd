package selection

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"metamcp/internal/domain"
	"metamcp/internal/infra/rag"
)

// RAGStrategy augments the query with retrieved documentation before
// delegating the actual selection to the LLM procedure. Confidence blends
// the model's own estimate with the quality of the retrieved context.
type RAGStrategy struct {
	cfg      domain.StrategyConfig
	pipeline *rag.Pipeline
	llm      *LLMStrategy
	logger   *zap.Logger
}

func NewRAGStrategy(cfg domain.StrategyConfig, pipeline *rag.Pipeline, llm *LLMStrategy, logger *zap.Logger) *RAGStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTools <= 0 {
		cfg.MaxTools = domain.DefaultMaxTools
	}
	return &RAGStrategy{
		cfg:      cfg,
		pipeline: pipeline,
		llm:      llm,
		logger:   logger.Named("rag"),
	}
}

func (s *RAGStrategy) Name() string {
	return domain.StrategyRAG
}

func (s *RAGStrategy) SelectTools(ctx context.Context, sctx domain.SelectionContext, tools []domain.Tool) (domain.SelectionResult, error) {
	query := enhancedQuery(sctx)

	augmented, chunks, err := s.pipeline.AugmentQuery(ctx, query, tools)
	if err != nil {
		s.logger.Warn("context retrieval failed, selecting without augmentation", zap.Error(err))
		augmented, chunks = query, nil
	}

	outcome, err := s.llm.selectWithQuery(ctx, augmented, tools)
	if err != nil {
		s.logger.Error("rag selection failed", zap.Error(err))
		return domain.SelectionResult{
			Strategy:   domain.StrategyRAG,
			Confidence: 0,
			Metadata: map[string]any{
				"error": err.Error(),
			},
		}, nil
	}

	quality := rag.ContextQuality(chunks)
	contextSources := make(map[string]bool)
	for _, chunk := range chunks {
		contextSources[chunk.Chunk.Source] = true
	}
	sourceList := make([]string, 0, len(contextSources))
	for src := range contextSources {
		sourceList = append(sourceList, src)
	}
	sort.Strings(sourceList)

	return domain.SelectionResult{
		Tools:      outcome.tools,
		Strategy:   domain.StrategyRAG,
		Confidence: (outcome.confidence + quality) / 2,
		Metadata: map[string]any{
			"reasoning":         outcome.reasoning,
			"context_docs_used": len(chunks),
			"context_sources":   sourceList,
			"llm_confidence":    outcome.confidence,
			"context_quality":   quality,
		},
	}, nil
}

var _ domain.Strategy = (*RAGStrategy)(nil)
