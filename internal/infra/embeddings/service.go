// Package embeddings adapts an OpenAI-compatible embedding endpoint (LM
// Studio and friends) to the domain capability interface.
package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"
	"go.uber.org/zap"

	"metamcp/internal/domain"
)

type Config struct {
	Endpoint  string
	Model     string
	APIKey    string
	BatchSize int
	Timeout   time.Duration
}

type Service struct {
	embedder  embedding.Embedder
	batchSize int
	timeout   time.Duration
	logger    *zap.Logger
	metrics   domain.Metrics
}

func NewService(ctx context.Context, cfg Config, metrics domain.Metrics, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: no embedding endpoint configured", domain.ErrEmbeddingUnavailable)
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = domain.DefaultEmbeddingBatchSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = domain.DefaultEmbeddingTimeoutSeconds * time.Second
	}

	embedder, err := openai.NewEmbedder(ctx, &openai.EmbeddingConfig{
		BaseURL: cfg.Endpoint,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize embedder: %w", err)
	}

	return &Service{
		embedder:  embedder,
		batchSize: batchSize,
		timeout:   timeout,
		logger:    logger.Named("embeddings"),
		metrics:   metrics,
	}, nil
}

// Embed converts one text into a vector.
func (s *Service) Embed(ctx context.Context, text string) ([]float64, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch converts texts into vectors, chunked to the configured batch
// size so a large re-embed cannot produce one oversized request.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := min(start+s.batchSize, len(texts))

		batchCtx, cancel := context.WithTimeout(ctx, s.timeout)
		began := time.Now()
		vectors, err := s.embedder.EmbedStrings(batchCtx, texts[start:end])
		cancel()
		s.metrics.ObserveEmbeddingBatch(end-start, time.Since(began), err)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("%w: got %d vectors for %d texts", domain.ErrEmbeddingUnavailable, len(vectors), end-start)
		}
		out = append(out, vectors...)
	}

	s.logger.Debug("embedded texts", zap.Int("count", len(texts)))
	return out, nil
}

var _ domain.Embedder = (*Service)(nil)
