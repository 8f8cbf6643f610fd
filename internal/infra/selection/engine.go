// Package selection implements the routing engine and the interchangeable
// tool-selection strategies it orchestrates: embedding similarity, LLM
// reasoning and retrieval-augmented reasoning.
package selection

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"metamcp/internal/domain"
)

// acceptanceFloor is the confidence above which an empty primary result is
// still accepted without trying the fallback strategy.
const acceptanceFloor = 0.3

// dumpConfidence is the fixed confidence of the catalog-dump tier.
const dumpConfidence = 0.1

// Engine picks exactly one selection result per request, applying the
// two-level fallback policy over the registered strategies. The three tiers
// run strictly in sequence; racing them would waste backend capacity and
// make result provenance ambiguous.
type Engine struct {
	cfg        domain.StrategyConfig
	strategies map[string]domain.Strategy
	logger     *zap.Logger
	metrics    domain.Metrics
	tracker    *tracker
}

func NewEngine(cfg domain.StrategyConfig, strategies map[string]domain.Strategy, metrics domain.Metrics, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	if cfg.MaxTools <= 0 {
		cfg.MaxTools = domain.DefaultMaxTools
	}
	if _, ok := strategies[cfg.Primary]; !ok {
		return nil, fmt.Errorf("%w: primary %q", domain.ErrUnknownStrategy, cfg.Primary)
	}
	if _, ok := strategies[cfg.Fallback]; !ok {
		return nil, fmt.Errorf("%w: fallback %q", domain.ErrUnknownStrategy, cfg.Fallback)
	}

	return &Engine{
		cfg:        cfg,
		strategies: strategies,
		logger:     logger.Named("engine"),
		metrics:    metrics,
		tracker:    newTracker(),
	}, nil
}

// Select never fails: when both configured strategies are unusable the
// catalog-dump tier answers from the in-memory snapshot alone.
func (e *Engine) Select(ctx context.Context, sctx domain.SelectionContext, tools []domain.Tool) domain.SelectionResult {
	selectionID := uuid.NewString()

	result, err := e.attempt(ctx, e.cfg.Primary, false, sctx, tools)
	if err == nil && (len(result.Tools) > 0 || result.Confidence > acceptanceFloor) {
		result.Metadata["selection_id"] = selectionID
		return result
	}
	if err != nil {
		e.logger.Warn("primary strategy failed",
			zap.String("strategy", e.cfg.Primary),
			zap.Error(err),
		)
	}

	if e.cfg.Fallback != e.cfg.Primary {
		fallback, fbErr := e.attempt(ctx, e.cfg.Fallback, true, sctx, tools)
		if fbErr == nil {
			fallback.Metadata["used_fallback"] = true
			fallback.Metadata["selection_id"] = selectionID
			return fallback
		}
		e.logger.Error("fallback strategy failed",
			zap.String("strategy", e.cfg.Fallback),
			zap.Error(fbErr),
		)
	}

	dump := e.catalogDump(tools)
	dump.Metadata["selection_id"] = selectionID
	return dump
}

func (e *Engine) attempt(ctx context.Context, name string, isFallback bool, sctx domain.SelectionContext, tools []domain.Tool) (domain.SelectionResult, error) {
	strategy := e.strategies[name]

	began := time.Now()
	result, err := strategy.SelectTools(ctx, sctx, tools)
	elapsed := time.Since(began)
	result.Elapsed = elapsed
	if result.Metadata == nil {
		result.Metadata = make(map[string]any)
	}

	e.tracker.observe(name, elapsed, err)
	e.metrics.ObserveSelection(domain.SelectionMetric{
		Strategy:   name,
		Status:     classify(result, err),
		Fallback:   isFallback,
		Confidence: result.Confidence,
		ToolCount:  len(result.Tools),
		Duration:   elapsed,
	})
	if err != nil {
		return domain.SelectionResult{}, err
	}

	e.logger.Info("selection completed",
		zap.String("strategy", name),
		zap.Int("tools_selected", len(result.Tools)),
		zap.Float64("confidence", result.Confidence),
		zap.Duration("elapsed", elapsed),
	)
	return result, nil
}

// catalogDump is the last tier: the full catalog truncated to the size cap.
// It performs no I/O and must never fail.
func (e *Engine) catalogDump(tools []domain.Tool) domain.SelectionResult {
	began := time.Now()
	limited := tools
	if len(limited) > e.cfg.MaxTools {
		limited = limited[:e.cfg.MaxTools]
	}
	e.logger.Warn("using catalog-dump fallback",
		zap.Int("tool_count", len(tools)),
		zap.Int("returned", len(limited)),
	)

	elapsed := time.Since(began)
	e.tracker.observe(domain.StrategyFallback, elapsed, nil)
	e.metrics.ObserveSelection(domain.SelectionMetric{
		Strategy:   domain.StrategyFallback,
		Status:     classify(domain.SelectionResult{Tools: limited}, nil),
		Fallback:   true,
		Confidence: dumpConfidence,
		ToolCount:  len(limited),
		Duration:   elapsed,
	})

	return domain.SelectionResult{
		Tools:      limited,
		Strategy:   domain.StrategyFallback,
		Confidence: dumpConfidence,
		Elapsed:    elapsed,
		Metadata: map[string]any{
			"reason":              "fallback_strategy",
			"original_tool_count": len(tools),
			"returned_tool_count": len(limited),
		},
	}
}

// Metrics returns the per-strategy counters plus the engine aggregate.
func (e *Engine) Metrics() []domain.StrategyMetrics {
	return e.tracker.snapshot()
}

func classify(result domain.SelectionResult, err error) domain.SelectionStatus {
	switch {
	case err != nil:
		return domain.SelectionStatusError
	case len(result.Tools) == 0:
		return domain.SelectionStatusEmpty
	default:
		return domain.SelectionStatusSuccess
	}
}
