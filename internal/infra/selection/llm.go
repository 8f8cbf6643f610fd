package selection

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"metamcp/internal/domain"
)

// promptCandidateCap bounds how many candidate tools enter the prompt.
const promptCandidateCap = 50

const selectionSystemPrompt = "You are an expert tool selector. Your job is to analyze a user query " +
	"and select the most relevant tools from the available options. " +
	"Always respond with valid JSON format."

// LLMStrategy asks the generative backend to pick tool IDs from a structured
// prompt listing the candidates.
type LLMStrategy struct {
	cfg       domain.StrategyConfig
	completer domain.ChatCompleter
	logger    *zap.Logger
}

func NewLLMStrategy(cfg domain.StrategyConfig, completer domain.ChatCompleter, logger *zap.Logger) *LLMStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTools <= 0 {
		cfg.MaxTools = domain.DefaultMaxTools
	}
	return &LLMStrategy{
		cfg:       cfg,
		completer: completer,
		logger:    logger.Named("llm"),
	}
}

func (s *LLMStrategy) Name() string {
	return domain.StrategyLLM
}

func (s *LLMStrategy) SelectTools(ctx context.Context, sctx domain.SelectionContext, tools []domain.Tool) (domain.SelectionResult, error) {
	outcome, err := s.selectWithQuery(ctx, enhancedQuery(sctx), tools)
	if err != nil {
		s.logger.Error("llm selection failed", zap.Error(err))
		return domain.SelectionResult{
			Strategy:   domain.StrategyLLM,
			Confidence: 0,
			Metadata: map[string]any{
				"error": err.Error(),
			},
		}, nil
	}

	return domain.SelectionResult{
		Tools:      outcome.tools,
		Strategy:   domain.StrategyLLM,
		Confidence: outcome.confidence,
		Metadata: map[string]any{
			"reasoning":              outcome.reasoning,
			"total_tools_considered": len(tools),
			"llm_selections":         outcome.rawSelections,
			"valid_selections":       len(outcome.tools),
			"context_included": map[string]int{
				"recent_messages":  len(sctx.RecentMessages),
				"active_tools":     len(sctx.ActiveTools),
				"user_preferences": len(sctx.Preferences),
			},
		},
	}, nil
}

// selectionOutcome is the validated backend answer shared with the RAG
// strategy, which reuses the same structured-selection procedure.
type selectionOutcome struct {
	tools         []domain.Tool
	reasoning     string
	confidence    float64
	rawSelections int
}

func (s *LLMStrategy) selectWithQuery(ctx context.Context, query string, tools []domain.Tool) (selectionOutcome, error) {
	candidates := tools
	if len(candidates) > promptCandidateCap {
		candidates = candidates[:promptCandidateCap]
	}

	prompt := buildSelectionPrompt(query, candidates, s.cfg.MaxTools)
	response, err := s.completer.CompleteChat(ctx, selectionSystemPrompt, prompt, 0.1, domain.DefaultLLMMaxTokens)
	if err != nil {
		return selectionOutcome{}, err
	}

	raw, err := parseSelectionResponse(response)
	if err != nil {
		return selectionOutcome{}, err
	}
	return sanitizeSelection(raw, candidates, s.cfg.MaxTools), nil
}

// enhancedQuery folds the conversational context into the raw query: the
// trailing message window, recently used tools and user preferences.
func enhancedQuery(sctx domain.SelectionContext) string {
	parts := []string{sctx.Query}

	if recent := sctx.RecentWindow(); len(recent) > 0 {
		parts = append(parts, "Previous conversation:")
		for _, msg := range recent {
			parts = append(parts, "- "+msg)
		}
	}
	if len(sctx.ActiveTools) > 0 {
		parts = append(parts, "Recently used tools: "+strings.Join(sctx.ActiveTools, ", "))
	}
	if len(sctx.Preferences) > 0 {
		prefs := make([]string, 0, len(sctx.Preferences))
		for k, v := range sctx.Preferences {
			prefs = append(prefs, fmt.Sprintf("%s: %s", k, v))
		}
		parts = append(parts, "User preferences: "+strings.Join(prefs, ", "))
	}

	return strings.Join(parts, "\n")
}

func buildSelectionPrompt(query string, candidates []domain.Tool, maxTools int) string {
	var sb strings.Builder
	sb.WriteString("Analyze this user query and select the most relevant tools:\n\n")
	fmt.Fprintf(&sb, "USER QUERY: %q\n\nAVAILABLE TOOLS:\n", query)

	for _, tool := range candidates {
		fmt.Fprintf(&sb, "- %s: %s", tool.ID, tool.Description)
		if tool.UsageCount > 0 {
			fmt.Fprintf(&sb, " (used %d times)", tool.UsageCount)
		}
		sb.WriteString("\n")
		if params := summarizeParameters(tool.Parameters); params != "" {
			fmt.Fprintf(&sb, "  parameters: %s\n", params)
		}
		for _, example := range tool.Examples[:min(len(tool.Examples), 2)] {
			fmt.Fprintf(&sb, "  example: %s\n", example)
		}
	}

	fmt.Fprintf(&sb, `
Select up to %d most relevant tools for this query. Consider:
1. Direct relevance to the query
2. Complementary tools that work well together
3. Tools that might be needed for follow-up actions

Respond with JSON in this exact format:
{
    "selected_tools": ["tool.id1", "tool.id2"],
    "reasoning": "Brief explanation of why these tools were selected",
    "confidence": 0.85
}

The confidence should be between 0.0 and 1.0 based on how certain you are about the selections.
`, maxTools)
	return sb.String()
}

// summarizeParameters flattens a JSON-schema parameter document into
// readable "name (type): description" lines, required fields marked.
func summarizeParameters(parameters map[string]any) string {
	if len(parameters) == 0 {
		return ""
	}

	required := make(map[string]bool)
	if reqs, ok := parameters["required"].([]any); ok {
		for _, r := range reqs {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	props, ok := parameters["properties"].(map[string]any)
	if !ok {
		return ""
	}
	var parts []string
	for name, raw := range props {
		info, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		paramType, _ := info["type"].(string)
		if paramType == "" {
			paramType = "unknown"
		}
		desc, _ := info["description"].(string)
		mark := ""
		if required[name] {
			mark = "*"
		}
		parts = append(parts, fmt.Sprintf("%s%s (%s): %s", name, mark, paramType, desc))
	}
	return strings.Join(parts, "; ")
}

type rawSelection struct {
	SelectedTools []any `json:"selected_tools"`
	Reasoning     any   `json:"reasoning"`
	Confidence    any   `json:"confidence"`
}

// parseSelectionResponse decodes the backend answer, tolerating natural
// language wrapped around the JSON object by retrying on the first {...}
// span.
func parseSelectionResponse(response string) (rawSelection, error) {
	var raw rawSelection
	if err := json.Unmarshal([]byte(response), &raw); err == nil {
		return raw, nil
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end <= start {
		return rawSelection{}, fmt.Errorf("%w: no JSON object in response", domain.ErrCompletionFailed)
	}
	if err := json.Unmarshal([]byte(response[start:end+1]), &raw); err != nil {
		return rawSelection{}, fmt.Errorf("%w: malformed selection JSON: %v", domain.ErrCompletionFailed, err)
	}
	return raw, nil
}

// sanitizeSelection validates the backend answer: unknown IDs are dropped,
// confidence outside [0,1] or of the wrong type defaults to 0.5, and the
// result is capped to maxTools.
func sanitizeSelection(raw rawSelection, candidates []domain.Tool, maxTools int) selectionOutcome {
	lookup := make(map[string]domain.Tool, len(candidates))
	for _, tool := range candidates {
		lookup[tool.ID] = tool
	}

	selected := make([]domain.Tool, 0, len(raw.SelectedTools))
	for _, entry := range raw.SelectedTools {
		id, ok := entry.(string)
		if !ok {
			continue
		}
		if tool, ok := lookup[id]; ok {
			selected = append(selected, tool)
		}
	}
	if len(selected) > maxTools {
		selected = selected[:maxTools]
	}

	confidence := 0.5
	if c, ok := raw.Confidence.(float64); ok && c >= 0 && c <= 1 {
		confidence = c
	}

	reasoning := "No reasoning provided"
	if r, ok := raw.Reasoning.(string); ok && r != "" {
		reasoning = r
	}

	return selectionOutcome{
		tools:         selected,
		reasoning:     reasoning,
		confidence:    confidence,
		rawSelections: len(raw.SelectedTools),
	}
}

var _ domain.Strategy = (*LLMStrategy)(nil)
