package selection

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"metamcp/internal/domain"
)

type scriptCompleter struct {
	response string
	err      error
	prompts  []string
	systems  []string
	temps    []float32
}

func (c *scriptCompleter) CompleteChat(_ context.Context, system, user string, temperature float32, _ int) (string, error) {
	c.systems = append(c.systems, system)
	c.prompts = append(c.prompts, user)
	c.temps = append(c.temps, temperature)
	return c.response, c.err
}

func llmConfig() domain.StrategyConfig {
	return domain.StrategyConfig{
		Primary:  domain.StrategyLLM,
		Fallback: domain.StrategyLLM,
		MaxTools: 10,
	}
}

func llmCandidates() []domain.Tool {
	return []domain.Tool{
		{
			ID: "fs.read_file", Name: "read_file", Source: "fs",
			Description: "Read a file from disk",
			Parameters: map[string]any{
				"properties": map[string]any{
					"path": map[string]any{"type": "string", "description": "Absolute file path"},
				},
				"required": []any{"path"},
			},
			Examples:   []string{"read /etc/hosts"},
			UsageCount: 7,
		},
		{ID: "web.search", Name: "search", Source: "web", Description: "Search the web"},
	}
}

func TestLLMStrategySelectsFromCleanJSON(t *testing.T) {
	completer := &scriptCompleter{
		response: `{"selected_tools": ["fs.read_file"], "reasoning": "file access requested", "confidence": 0.85}`,
	}
	strategy := NewLLMStrategy(llmConfig(), completer, nil)

	result, err := strategy.SelectTools(context.Background(), domain.SelectionContext{Query: "read my config"}, llmCandidates())
	require.NoError(t, err)
	require.Equal(t, domain.StrategyLLM, result.Strategy)
	require.Len(t, result.Tools, 1)
	require.Equal(t, "fs.read_file", result.Tools[0].ID)
	require.InDelta(t, 0.85, result.Confidence, 1e-9)
	require.Equal(t, "file access requested", result.Metadata["reasoning"])
	require.Equal(t, float32(0.1), completer.temps[0])
}

func TestLLMStrategyPromptCarriesCandidateDetail(t *testing.T) {
	completer := &scriptCompleter{response: `{"selected_tools": [], "confidence": 0.2}`}
	strategy := NewLLMStrategy(llmConfig(), completer, nil)

	sctx := domain.SelectionContext{
		Query:          "read my config",
		RecentMessages: []string{"one", "two", "three", "four"},
		ActiveTools:    []string{"fs.read_file"},
		Preferences:    map[string]string{"verbosity": "low"},
	}
	_, err := strategy.SelectTools(context.Background(), sctx, llmCandidates())
	require.NoError(t, err)

	prompt := completer.prompts[0]
	require.Contains(t, prompt, "fs.read_file: Read a file from disk (used 7 times)")
	require.Contains(t, prompt, "path* (string): Absolute file path")
	require.Contains(t, prompt, "example: read /etc/hosts")
	require.Contains(t, prompt, "Recently used tools: fs.read_file")
	require.Contains(t, prompt, "verbosity: low")

	// only the trailing three turns of conversation enter the prompt
	require.NotContains(t, prompt, "- one")
	require.Contains(t, prompt, "- two")
	require.Contains(t, prompt, "- four")
}

func TestLLMStrategyExtractsWrappedJSON(t *testing.T) {
	completer := &scriptCompleter{
		response: `Sure! Here is my selection: {"selected_tools": ["fs.read_file"], "reasoning": "ok", "confidence": 0.6} Hope that helps.`,
	}
	strategy := NewLLMStrategy(llmConfig(), completer, nil)

	result, err := strategy.SelectTools(context.Background(), domain.SelectionContext{Query: "q"}, llmCandidates())
	require.NoError(t, err)
	require.Len(t, result.Tools, 1)
	require.InDelta(t, 0.6, result.Confidence, 1e-9)
}

func TestLLMStrategySanitizesResponse(t *testing.T) {
	completer := &scriptCompleter{
		response: `{"selected_tools": ["fs.read_file", "made.up", 42], "confidence": 1.4}`,
	}
	strategy := NewLLMStrategy(llmConfig(), completer, nil)

	result, err := strategy.SelectTools(context.Background(), domain.SelectionContext{Query: "q"}, llmCandidates())
	require.NoError(t, err)
	require.Len(t, result.Tools, 1)
	require.Equal(t, "fs.read_file", result.Tools[0].ID)
	require.InDelta(t, 0.5, result.Confidence, 1e-9)
	require.Equal(t, "No reasoning provided", result.Metadata["reasoning"])
	require.Equal(t, 3, result.Metadata["llm_selections"])
	require.Equal(t, 1, result.Metadata["valid_selections"])
}

func TestLLMStrategyDefaultsMissingConfidence(t *testing.T) {
	completer := &scriptCompleter{response: `{"selected_tools": ["web.search"]}`}
	strategy := NewLLMStrategy(llmConfig(), completer, nil)

	result, err := strategy.SelectTools(context.Background(), domain.SelectionContext{Query: "q"}, llmCandidates())
	require.NoError(t, err)
	require.InDelta(t, 0.5, result.Confidence, 1e-9)
}

func TestLLMStrategyAbsorbsGarbageResponse(t *testing.T) {
	completer := &scriptCompleter{response: "I cannot help with that."}
	strategy := NewLLMStrategy(llmConfig(), completer, nil)

	result, err := strategy.SelectTools(context.Background(), domain.SelectionContext{Query: "q"}, llmCandidates())
	require.NoError(t, err)
	require.Empty(t, result.Tools)
	require.Zero(t, result.Confidence)
	require.Contains(t, result.Metadata, "error")
}

func TestLLMStrategyAbsorbsCompleterFailure(t *testing.T) {
	completer := &scriptCompleter{err: domain.ErrCompletionFailed}
	strategy := NewLLMStrategy(llmConfig(), completer, nil)

	result, err := strategy.SelectTools(context.Background(), domain.SelectionContext{Query: "q"}, llmCandidates())
	require.NoError(t, err)
	require.Empty(t, result.Tools)
	require.Zero(t, result.Confidence)
	require.Contains(t, result.Metadata, "error")
}

func TestLLMStrategyCapsCandidatesAndSelections(t *testing.T) {
	tools := make([]domain.Tool, 60)
	ids := make([]string, 60)
	for i := range tools {
		id := domain.ToolID("bulk", string(rune('a'+i%26))+string(rune('a'+i/26)))
		tools[i] = domain.Tool{ID: id, Name: id, Source: "bulk"}
		ids[i] = `"` + id + `"`
	}
	cfg := llmConfig()
	cfg.MaxTools = 3
	completer := &scriptCompleter{
		response: `{"selected_tools": [` + strings.Join(ids[:10], ", ") + `], "confidence": 0.9}`,
	}
	strategy := NewLLMStrategy(cfg, completer, nil)

	result, err := strategy.SelectTools(context.Background(), domain.SelectionContext{Query: "q"}, tools)
	require.NoError(t, err)
	require.Len(t, result.Tools, 3)

	// the 51st tool never reaches the prompt
	require.NotContains(t, completer.prompts[0], tools[55].ID+":")
	require.Contains(t, completer.prompts[0], tools[10].ID+":")
}
