package domain

import (
	"context"
	"strings"
	"time"
)

// Strategy names recognized by the routing engine.
const (
	StrategyVector   = "vector"
	StrategyLLM      = "llm"
	StrategyRAG      = "rag"
	StrategyFallback = "fallback"
)

// SelectionContext is an immutable per-request snapshot of everything a
// strategy may consider when ranking tools.
type SelectionContext struct {
	Query          string
	RecentMessages []string
	ActiveTools    []string
	Preferences    map[string]string
	Timestamp      time.Time
}

// recentMessageWindow bounds how many trailing conversation turns are
// considered semantically relevant.
const recentMessageWindow = 3

// ContextText returns the concatenated ranking input: the query first,
// then the most recent conversation turns in chronological order.
func (c SelectionContext) ContextText() string {
	parts := []string{c.Query}
	parts = append(parts, c.RecentWindow()...)
	return strings.Join(parts, " ")
}

// RecentWindow returns at most the last recentMessageWindow messages,
// oldest first.
func (c SelectionContext) RecentWindow() []string {
	if len(c.RecentMessages) <= recentMessageWindow {
		return c.RecentMessages
	}
	return c.RecentMessages[len(c.RecentMessages)-recentMessageWindow:]
}

// SelectionResult is the outcome of exactly one ranking attempt. Tools are
// borrowed from the catalog snapshot and must not be mutated.
type SelectionResult struct {
	Tools      []Tool
	Strategy   string
	Confidence float64
	Elapsed    time.Duration
	Metadata   map[string]any
}

// Strategy is one interchangeable tool-selection algorithm. Capability
// failures (backend down, malformed responses) must be absorbed into a
// zero-confidence result with the error recorded in metadata; the error
// return is reserved for programming errors the strategy cannot classify.
type Strategy interface {
	Name() string
	SelectTools(ctx context.Context, sctx SelectionContext, tools []Tool) (SelectionResult, error)
}

// StrategyConfig is the routing engine's configuration surface.
type StrategyConfig struct {
	Primary         string
	Fallback        string
	VectorThreshold float64
	MaxTools        int
}

// StrategyMetrics is the per-strategy counter view exposed by the engine.
type StrategyMetrics struct {
	Strategy      string  `json:"strategy"`
	TotalRequests int64   `json:"total_requests"`
	AvgLatencyMs  float64 `json:"average_latency_ms"`
	ErrorCount    int64   `json:"error_count"`
	SuccessRate   float64 `json:"success_rate"`
}
