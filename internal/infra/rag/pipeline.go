// Package rag implements the documentation retrieval pipeline that feeds the
// context-augmented selection strategy: indexing source documentation into
// embedded chunks and retrieving the passages most relevant to a query.
package rag

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"metamcp/internal/domain"
)

type Config struct {
	ChunkSize       int
	ChunkOverlap    int
	TopK            int
	ScoreThreshold  float64
	IncludeExamples bool
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = domain.DefaultChunkSize
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = domain.DefaultChunkOverlap
	}
	if c.TopK <= 0 {
		c.TopK = domain.DefaultRetrievalTopK
	}
	if c.ScoreThreshold <= 0 {
		c.ScoreThreshold = domain.DefaultRetrievalThreshold
	}
	return c
}

type Pipeline struct {
	cfg      Config
	embedder domain.Embedder
	index    domain.DocumentIndex
	logger   *zap.Logger
	metrics  domain.Metrics
}

func NewPipeline(cfg Config, embedder domain.Embedder, index domain.DocumentIndex, metrics domain.Metrics, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	return &Pipeline{
		cfg:      cfg.withDefaults(),
		embedder: embedder,
		index:    index,
		logger:   logger.Named("rag"),
		metrics:  metrics,
	}
}

// IndexDocumentation reads one documentation file, chunks it, embeds every
// chunk and replaces the previously indexed chunks of the source.
func (p *Pipeline) IndexDocumentation(ctx context.Context, path, sourceID string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read documentation %s: %w", path, err)
	}

	chunks := chunkContent(string(content), sourceID, p.cfg.ChunkSize)
	if len(chunks) == 0 {
		p.logger.Warn("documentation produced no chunks",
			zap.String("source", sourceID),
			zap.String("path", path),
		)
		return nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed documentation %s: %w", sourceID, err)
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	if err := p.index.ReplaceDocuments(ctx, sourceID, chunks); err != nil {
		return fmt.Errorf("store documentation %s: %w", sourceID, err)
	}

	p.logger.Info("indexed documentation",
		zap.String("source", sourceID),
		zap.Int("chunks", len(chunks)),
		zap.Int("bytes", len(content)),
	)
	return nil
}

// RetrieveRelevantContext embeds the query and returns the best-scoring
// chunks, optionally restricted to a set of sources with the limit split
// roughly evenly across them.
func (p *Pipeline) RetrieveRelevantContext(ctx context.Context, query string, sources []string, limit int) ([]domain.ScoredChunk, error) {
	if limit <= 0 {
		limit = p.cfg.TopK
	}

	vector, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	began := time.Now()
	var merged []domain.ScoredChunk
	if len(sources) > 0 {
		perSource := limit/len(sources) + 1
		for _, source := range sources {
			chunks, err := p.index.SearchDocuments(ctx, vector, perSource, p.cfg.ScoreThreshold, source)
			if err != nil {
				return nil, fmt.Errorf("search documents for %s: %w", source, err)
			}
			merged = append(merged, chunks...)
		}
	} else {
		merged, err = p.index.SearchDocuments(ctx, vector, limit, p.cfg.ScoreThreshold, "")
		if err != nil {
			return nil, fmt.Errorf("search documents: %w", err)
		}
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > limit {
		merged = merged[:limit]
	}
	p.metrics.ObserveRetrieval(len(merged), time.Since(began))
	return merged, nil
}

// AugmentQuery retrieves context for the query scoped to the documentation
// sources of the candidate tools and folds it into a selection prompt. With
// nothing retrieved the original query passes through unmodified.
func (p *Pipeline) AugmentQuery(ctx context.Context, query string, tools []domain.Tool) (string, []domain.ScoredChunk, error) {
	sources := DocumentationSources(tools)

	chunks, err := p.RetrieveRelevantContext(ctx, query, sources, 0)
	if err != nil {
		return query, nil, err
	}
	if len(chunks) == 0 {
		return query, nil, nil
	}

	var sb strings.Builder
	sb.WriteString("User Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\nRelevant Documentation Context:\n")
	for _, chunk := range chunks {
		fmt.Fprintf(&sb, "From %s: %s\n", chunk.Chunk.Source, chunk.Chunk.Text)
	}
	sb.WriteString("\nBased on the above context and user query, select the most appropriate tools.")

	p.logger.Debug("augmented query",
		zap.Int("original_length", len(query)),
		zap.Int("augmented_length", sb.Len()),
		zap.Int("context_chunks", len(chunks)),
	)
	return sb.String(), chunks, nil
}

// ContextQuality scores retrieved evidence in [0,1]: the mean chunk score,
// a bonus for source diversity capped at 0.3, and a bonus for unusually
// high mean scores. A single excellent chunk alone never reaches 1.
func ContextQuality(chunks []domain.ScoredChunk) float64 {
	if len(chunks) == 0 {
		return 0
	}

	var sum float64
	sources := make(map[string]struct{})
	for _, chunk := range chunks {
		sum += chunk.Score
		sources[chunk.Chunk.Source] = struct{}{}
	}
	mean := sum / float64(len(chunks))

	sourceBonus := min(float64(len(sources))*0.1, 0.3)
	scoreBonus := max(0, (mean-0.7)*0.5)

	return min(mean+sourceBonus+scoreBonus, 1.0)
}

// DocumentationSources derives the documentation source ID for every
// distinct owning source among the tools, in first-seen order.
func DocumentationSources(tools []domain.Tool) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tool := range tools {
		id := tool.Source + "_docs"
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
