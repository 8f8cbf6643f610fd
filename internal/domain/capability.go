package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Embedder converts text into dense vectors. Both operations carry a bounded
// timeout via ctx; the backend is a local network service that can hang.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// SearchHit is one ranked entry returned by a similarity search.
type SearchHit struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// ToolIndex is the similarity-search surface over tool embeddings.
type ToolIndex interface {
	SearchTools(ctx context.Context, vector []float64, limit int, threshold float64) ([]SearchHit, error)
	UpsertTools(ctx context.Context, tools []Tool) error
	UpdateToolUsage(ctx context.Context, toolID string, usageCount int64, lastUsed time.Time) error
	RemoveToolsForSource(ctx context.Context, source string) error
}

// DocumentIndex is the similarity-search surface over documentation chunks.
// A non-empty source restricts the search to chunks from that source.
type DocumentIndex interface {
	SearchDocuments(ctx context.Context, vector []float64, limit int, threshold float64, source string) ([]ScoredChunk, error)
	ReplaceDocuments(ctx context.Context, source string, chunks []DocumentChunk) error
}

// ChatCompleter generates text from a system instruction and a user prompt.
type ChatCompleter interface {
	CompleteChat(ctx context.Context, system, user string, temperature float32, maxTokens int) (string, error)
}

// ToolCaller executes a tool on its owning source.
type ToolCaller interface {
	CallTool(ctx context.Context, toolID string, arguments map[string]any) (json.RawMessage, error)
}

// CatalogReader is the read-only catalog view handed to strategies.
type CatalogReader interface {
	Snapshot() []Tool
	Lookup(id string) (Tool, bool)
}
