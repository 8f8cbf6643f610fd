package selection

import (
	"sort"
	"sync"
	"time"

	"metamcp/internal/domain"
)

// engineAggregate is the pseudo-strategy name for the cross-strategy totals.
const engineAggregate = "engine"

type strategyCounters struct {
	totalRequests int64
	errorCount    int64
	totalDuration time.Duration
}

// tracker keeps in-memory per-strategy counters backing the metrics surface
// exposed to callers; prometheus carries the operational series separately.
type tracker struct {
	mu       sync.Mutex
	counters map[string]*strategyCounters
}

func newTracker() *tracker {
	return &tracker{counters: make(map[string]*strategyCounters)}
}

func (t *tracker) observe(strategy string, duration time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.counters[strategy]
	if !ok {
		c = &strategyCounters{}
		t.counters[strategy] = c
	}
	c.totalRequests++
	c.totalDuration += duration
	if err != nil {
		c.errorCount++
	}
}

func (t *tracker) snapshot() []domain.StrategyMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]domain.StrategyMetrics, 0, len(t.counters)+1)
	total := strategyCounters{}
	for name, c := range t.counters {
		out = append(out, toMetrics(name, c))
		total.totalRequests += c.totalRequests
		total.errorCount += c.errorCount
		total.totalDuration += c.totalDuration
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strategy < out[j].Strategy })
	out = append(out, toMetrics(engineAggregate, &total))
	return out
}

func toMetrics(name string, c *strategyCounters) domain.StrategyMetrics {
	m := domain.StrategyMetrics{
		Strategy:      name,
		TotalRequests: c.totalRequests,
		ErrorCount:    c.errorCount,
		SuccessRate:   1.0,
	}
	if c.totalRequests > 0 {
		m.AvgLatencyMs = float64(c.totalDuration.Microseconds()) / 1000.0 / float64(c.totalRequests)
		m.SuccessRate = float64(c.totalRequests-c.errorCount) / float64(c.totalRequests)
	}
	return m
}
