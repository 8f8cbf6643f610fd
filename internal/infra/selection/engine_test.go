package selection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"metamcp/internal/domain"
)

type stubStrategy struct {
	name   string
	result domain.SelectionResult
	err    error
	calls  int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) SelectTools(context.Context, domain.SelectionContext, []domain.Tool) (domain.SelectionResult, error) {
	s.calls++
	return s.result, s.err
}

func sampleTools(n int) []domain.Tool {
	tools := make([]domain.Tool, n)
	for i := range tools {
		tools[i] = domain.Tool{
			ID:     domain.ToolID("fs", string(rune('a'+i))),
			Name:   string(rune('a' + i)),
			Source: "fs",
		}
	}
	return tools
}

func TestEngineAcceptsPrimaryWithTools(t *testing.T) {
	tools := sampleTools(3)
	primary := &stubStrategy{
		name:   domain.StrategyVector,
		result: domain.SelectionResult{Tools: tools[:2], Strategy: domain.StrategyVector, Confidence: 0.9},
	}
	fallback := &stubStrategy{name: domain.StrategyLLM}

	engine, err := NewEngine(
		domain.StrategyConfig{Primary: domain.StrategyVector, Fallback: domain.StrategyLLM, MaxTools: 10},
		map[string]domain.Strategy{domain.StrategyVector: primary, domain.StrategyLLM: fallback},
		nil, nil,
	)
	require.NoError(t, err)

	result := engine.Select(context.Background(), domain.SelectionContext{Query: "read a file"}, tools)
	require.Equal(t, domain.StrategyVector, result.Strategy)
	require.Len(t, result.Tools, 2)
	require.NotContains(t, result.Metadata, "used_fallback")
	require.NotEmpty(t, result.Metadata["selection_id"])
	require.Zero(t, fallback.calls)
}

func TestEngineAcceptsConfidentEmptyResult(t *testing.T) {
	primary := &stubStrategy{
		name:   domain.StrategyVector,
		result: domain.SelectionResult{Strategy: domain.StrategyVector, Confidence: 0.5},
	}
	fallback := &stubStrategy{name: domain.StrategyLLM}

	engine, err := NewEngine(
		domain.StrategyConfig{Primary: domain.StrategyVector, Fallback: domain.StrategyLLM, MaxTools: 10},
		map[string]domain.Strategy{domain.StrategyVector: primary, domain.StrategyLLM: fallback},
		nil, nil,
	)
	require.NoError(t, err)

	result := engine.Select(context.Background(), domain.SelectionContext{Query: "anything"}, nil)
	require.Equal(t, domain.StrategyVector, result.Strategy)
	require.Empty(t, result.Tools)
	require.Zero(t, fallback.calls)
}

func TestEngineFallsBackOnWeakPrimary(t *testing.T) {
	tools := sampleTools(3)
	primary := &stubStrategy{
		name:   domain.StrategyVector,
		result: domain.SelectionResult{Strategy: domain.StrategyVector, Confidence: 0.1},
	}
	fallback := &stubStrategy{
		name:   domain.StrategyLLM,
		result: domain.SelectionResult{Tools: tools[:1], Strategy: domain.StrategyLLM, Confidence: 0.7},
	}

	engine, err := NewEngine(
		domain.StrategyConfig{Primary: domain.StrategyVector, Fallback: domain.StrategyLLM, MaxTools: 10},
		map[string]domain.Strategy{domain.StrategyVector: primary, domain.StrategyLLM: fallback},
		nil, nil,
	)
	require.NoError(t, err)

	result := engine.Select(context.Background(), domain.SelectionContext{Query: "weak"}, tools)
	require.Equal(t, domain.StrategyLLM, result.Strategy)
	require.Equal(t, true, result.Metadata["used_fallback"])
	require.Len(t, result.Tools, 1)
}

func TestEngineReturnsFallbackEmptyResult(t *testing.T) {
	tools := sampleTools(3)
	primary := &stubStrategy{
		name: domain.StrategyVector,
		err:  domain.ErrEmbeddingUnavailable,
	}
	fallback := &stubStrategy{
		name:   domain.StrategyLLM,
		result: domain.SelectionResult{Strategy: domain.StrategyLLM, Confidence: 0},
	}

	engine, err := NewEngine(
		domain.StrategyConfig{Primary: domain.StrategyVector, Fallback: domain.StrategyLLM, MaxTools: 10},
		map[string]domain.Strategy{domain.StrategyVector: primary, domain.StrategyLLM: fallback},
		nil, nil,
	)
	require.NoError(t, err)

	// An error-free fallback is accepted even when it selected nothing;
	// the catalog dump only answers for erroring strategies.
	result := engine.Select(context.Background(), domain.SelectionContext{Query: "nothing matches"}, tools)
	require.Equal(t, domain.StrategyLLM, result.Strategy)
	require.Empty(t, result.Tools)
	require.Equal(t, true, result.Metadata["used_fallback"])
	require.Equal(t, 1, fallback.calls)
}

func TestEngineCatalogDumpWhenAllStrategiesFail(t *testing.T) {
	tools := sampleTools(15)
	primary := &stubStrategy{name: domain.StrategyVector, err: domain.ErrEmbeddingUnavailable}
	fallback := &stubStrategy{name: domain.StrategyLLM, err: domain.ErrCompletionFailed}

	engine, err := NewEngine(
		domain.StrategyConfig{Primary: domain.StrategyVector, Fallback: domain.StrategyLLM, MaxTools: 10},
		map[string]domain.Strategy{domain.StrategyVector: primary, domain.StrategyLLM: fallback},
		nil, nil,
	)
	require.NoError(t, err)

	result := engine.Select(context.Background(), domain.SelectionContext{Query: "nothing matches"}, tools)
	require.Equal(t, domain.StrategyFallback, result.Strategy)
	require.InDelta(t, 0.1, result.Confidence, 1e-9)
	require.Len(t, result.Tools, 10)
	require.Equal(t, tools[0].ID, result.Tools[0].ID)
	require.Equal(t, "fallback_strategy", result.Metadata["reason"])
	require.Equal(t, 15, result.Metadata["original_tool_count"])
	require.Equal(t, 10, result.Metadata["returned_tool_count"])
	require.Equal(t, 1, primary.calls)
	require.Equal(t, 1, fallback.calls)
}

func TestEngineSamePrimaryAndFallbackSkipsRetry(t *testing.T) {
	primary := &stubStrategy{
		name:   domain.StrategyVector,
		result: domain.SelectionResult{Confidence: 0},
	}

	engine, err := NewEngine(
		domain.StrategyConfig{Primary: domain.StrategyVector, Fallback: domain.StrategyVector, MaxTools: 10},
		map[string]domain.Strategy{domain.StrategyVector: primary},
		nil, nil,
	)
	require.NoError(t, err)

	result := engine.Select(context.Background(), domain.SelectionContext{Query: "q"}, sampleTools(2))
	require.Equal(t, domain.StrategyFallback, result.Strategy)
	require.Equal(t, 1, primary.calls)
}

func TestEngineRejectsUnknownStrategies(t *testing.T) {
	known := map[string]domain.Strategy{domain.StrategyVector: &stubStrategy{name: domain.StrategyVector}}

	_, err := NewEngine(domain.StrategyConfig{Primary: "bogus", Fallback: domain.StrategyVector}, known, nil, nil)
	require.ErrorIs(t, err, domain.ErrUnknownStrategy)

	_, err = NewEngine(domain.StrategyConfig{Primary: domain.StrategyVector, Fallback: "bogus"}, known, nil, nil)
	require.ErrorIs(t, err, domain.ErrUnknownStrategy)
}

func TestEngineMetricsSnapshot(t *testing.T) {
	tools := sampleTools(2)
	primary := &stubStrategy{
		name:   domain.StrategyVector,
		result: domain.SelectionResult{Tools: tools, Strategy: domain.StrategyVector, Confidence: 0.8},
	}

	engine, err := NewEngine(
		domain.StrategyConfig{Primary: domain.StrategyVector, Fallback: domain.StrategyVector, MaxTools: 10},
		map[string]domain.Strategy{domain.StrategyVector: primary},
		nil, nil,
	)
	require.NoError(t, err)

	for range 3 {
		engine.Select(context.Background(), domain.SelectionContext{Query: "q"}, tools)
	}

	metrics := engine.Metrics()
	require.Len(t, metrics, 2)
	require.Equal(t, domain.StrategyVector, metrics[0].Strategy)
	require.Equal(t, int64(3), metrics[0].TotalRequests)
	require.Equal(t, float64(1), metrics[0].SuccessRate)
	require.Equal(t, "engine", metrics[1].Strategy)
	require.Equal(t, int64(3), metrics[1].TotalRequests)
}
