// Package catalog owns the live set of tools discovered from child sources.
// It is the single authoritative owner of tool records; every consumer works
// on immutable snapshots, and mutations are narrow per-record operations.
package catalog

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"metamcp/internal/domain"
)

type Catalog struct {
	mu      sync.RWMutex
	tools   map[string]domain.Tool
	logger  *zap.Logger
	metrics domain.Metrics
}

func New(logger *zap.Logger, metrics domain.Metrics) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	return &Catalog{
		tools:   make(map[string]domain.Tool),
		logger:  logger.Named("catalog"),
		metrics: metrics,
	}
}

// UpsertTool inserts or replaces a single tool record.
func (c *Catalog) UpsertTool(tool domain.Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools[tool.ID] = domain.CloneTool(tool)
	c.observeLocked(tool.Source)
}

// ReplaceSource atomically swaps every tool owned by a source. Usage counters
// of surviving tool IDs are carried over so that a source restart does not
// reset bookkeeping.
func (c *Catalog) ReplaceSource(source string, tools []domain.Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prior := make(map[string]domain.Tool)
	for id, t := range c.tools {
		if t.Source == source {
			prior[id] = t
			delete(c.tools, id)
		}
	}
	for _, t := range tools {
		clone := domain.CloneTool(t)
		if old, ok := prior[t.ID]; ok {
			clone.UsageCount = old.UsageCount
			clone.LastUsed = old.LastUsed
			if clone.Embedding == nil {
				clone.Embedding = old.Embedding
			}
		}
		c.tools[clone.ID] = clone
	}
	c.observeLocked(source)
	c.logger.Debug("source replaced",
		zap.String("source", source),
		zap.Int("tools", len(tools)),
		zap.Int("removed", len(prior)),
	)
}

// RemoveToolsForSource drops every tool owned by a stopped source.
func (c *Catalog) RemoveToolsForSource(source string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, t := range c.tools {
		if t.Source == source {
			delete(c.tools, id)
			removed++
		}
	}
	c.observeLocked(source)
	return removed
}

// UpdateUsage records a confirmed successful execution of a tool. This is the
// only sanctioned mutation path for usage fields.
func (c *Catalog) UpdateUsage(id string, at time.Time) (domain.Tool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tool, ok := c.tools[id]
	if !ok {
		return domain.Tool{}, false
	}
	tool.UsageCount++
	tool.LastUsed = at
	c.tools[id] = tool
	return domain.CloneTool(tool), true
}

// SetEmbedding stores the lazily computed embedding for a tool. A tool removed
// between embed and store is silently skipped.
func (c *Catalog) SetEmbedding(id string, embedding []float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	tool, ok := c.tools[id]
	if !ok {
		return false
	}
	tool.Embedding = append([]float64(nil), embedding...)
	c.tools[id] = tool
	return true
}

// Snapshot returns a deep copy of every tool, ordered by ID for stable
// iteration. Concurrent selections may legitimately observe different
// snapshots.
func (c *Catalog) Snapshot() []domain.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Tool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, domain.CloneTool(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lookup returns a copy of one tool by ID.
func (c *Catalog) Lookup(id string) (domain.Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tool, ok := c.tools[id]
	if !ok {
		return domain.Tool{}, false
	}
	return domain.CloneTool(tool), true
}

// Len reports the current catalog size.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tools)
}

func (c *Catalog) observeLocked(source string) {
	count := 0
	for _, t := range c.tools {
		if t.Source == source {
			count++
		}
	}
	c.metrics.SetCatalogTools(source, count)
}

var _ domain.CatalogReader = (*Catalog)(nil)
