package domain

import "time"

// SelectionStatus labels the outcome of one strategy attempt.
type SelectionStatus string

const (
	// SelectionStatusSuccess indicates the strategy produced a usable result.
	SelectionStatusSuccess SelectionStatus = "success"
	// SelectionStatusEmpty indicates the strategy ran but selected nothing.
	SelectionStatusEmpty SelectionStatus = "empty"
	// SelectionStatusError indicates the strategy failed.
	SelectionStatusError SelectionStatus = "error"
)

// SelectionMetric captures one strategy attempt inside the routing engine.
type SelectionMetric struct {
	Strategy   string
	Status     SelectionStatus
	Fallback   bool
	Confidence float64
	ToolCount  int
	Duration   time.Duration
}

// Metrics records operational metrics for selection, tool execution and the
// embedding pipeline.
type Metrics interface {
	ObserveSelection(metric SelectionMetric)
	ObserveToolCall(source string, duration time.Duration, err error)
	ObserveEmbeddingBatch(texts int, duration time.Duration, err error)
	ObserveRetrieval(chunks int, duration time.Duration)
	SetCatalogTools(source string, count int)
	SetSourcesUp(count int)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) ObserveSelection(SelectionMetric)                {}
func (NopMetrics) ObserveToolCall(string, time.Duration, error)    {}
func (NopMetrics) ObserveEmbeddingBatch(int, time.Duration, error) {}
func (NopMetrics) ObserveRetrieval(int, time.Duration)             {}
func (NopMetrics) SetCatalogTools(string, int)                     {}
func (NopMetrics) SetSourcesUp(int)                                {}

var _ Metrics = NopMetrics{}
