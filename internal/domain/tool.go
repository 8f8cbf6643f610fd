package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Tool describes a single tool exposed by a child source. The ID is the
// composite "source.local_name" and is unique across the whole catalog.
type Tool struct {
	ID          string
	Name        string
	Source      string
	Description string
	Parameters  map[string]any
	Examples    []string
	Embedding   []float64
	UsageCount  int64
	LastUsed    time.Time
}

// ToolID builds the catalog-wide identifier for a tool.
func ToolID(source, name string) string {
	return fmt.Sprintf("%s.%s", source, name)
}

// SplitToolID returns the source and local name parts of a tool ID.
// The local name may itself contain dots; only the first separator counts.
func SplitToolID(id string) (source, name string, ok bool) {
	source, name, ok = strings.Cut(id, ".")
	if source == "" || name == "" {
		return "", "", false
	}
	return source, name, ok
}

// CloneTool returns a deep copy so that catalog snapshots are immune to
// mutation by readers.
func CloneTool(t Tool) Tool {
	clone := t
	if t.Parameters != nil {
		clone.Parameters = cloneAnyMap(t.Parameters)
	}
	if t.Examples != nil {
		clone.Examples = append([]string(nil), t.Examples...)
	}
	if t.Embedding != nil {
		clone.Embedding = append([]float64(nil), t.Embedding...)
	}
	return clone
}

// EmbeddingText synthesizes the text used to embed a tool: description,
// parameter names with their descriptions, and any usage examples.
func (t Tool) EmbeddingText() string {
	parts := []string{t.Description}
	if props, ok := t.Parameters["properties"].(map[string]any); ok {
		// Sorted so an unchanged tool always embeds the same text.
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			info, ok := props[name].(map[string]any)
			if !ok {
				continue
			}
			desc, _ := info["description"].(string)
			parts = append(parts, fmt.Sprintf("%s: %s", name, desc))
		}
	}
	parts = append(parts, t.Examples...)
	return strings.Join(parts, " ")
}

func cloneAnyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			out[k] = cloneAnyMap(val)
		case []any:
			out[k] = append([]any(nil), val...)
		default:
			out[k] = v
		}
	}
	return out
}

// DocumentChunk is a bounded span of indexed documentation text used for
// retrieval augmentation. Chunks are immutable once created; re-indexing a
// source replaces all of its chunks.
type DocumentChunk struct {
	Text      string
	Source    string
	Metadata  map[string]string
	Embedding []float64
}

// ScoredChunk pairs a retrieved chunk with its similarity score.
type ScoredChunk struct {
	Chunk DocumentChunk
	Score float64
}
