package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"metamcp/internal/domain"
	"metamcp/internal/infra/selection"
	"metamcp/internal/infra/sources"
)

type findToolsInput struct {
	Query          string            `json:"query" jsonschema:"the task or question to find tools for"`
	RecentMessages []string          `json:"recent_messages,omitempty" jsonschema:"trailing conversation turns, oldest first"`
	ActiveTools    []string          `json:"active_tools,omitempty" jsonschema:"tool ids used recently in this session"`
	Preferences    map[string]string `json:"preferences,omitempty" jsonschema:"free-form user preferences"`
}

type selectedTool struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Source      string         `json:"source"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	UsageCount  int64          `json:"usage_count,omitempty"`
}

type findToolsOutput struct {
	Tools      []selectedTool `json:"tools"`
	Strategy   string         `json:"strategy"`
	Confidence float64        `json:"confidence"`
	ElapsedMs  float64        `json:"elapsed_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type callToolInput struct {
	ToolID    string         `json:"tool_id" jsonschema:"qualified tool id, source.name"`
	Arguments map[string]any `json:"arguments,omitempty" jsonschema:"arguments forwarded to the tool"`
}

type callToolOutput struct {
	Content any `json:"content"`
}

type metricsOutput struct {
	Strategies   []domain.StrategyMetrics `json:"strategies"`
	CatalogTools int                      `json:"catalog_tools"`
}

type listSourcesOutput struct {
	Sources []sources.Status `json:"sources"`
}

type reindexDocsOutput struct {
	Reindexed int `json:"reindexed"`
}

// catalogReader is the narrow catalogue view the server needs.
type catalogReader interface {
	Snapshot() []domain.Tool
	Len() int
}

// buildServer assembles the meta MCP surface: tool discovery, proxied
// execution and introspection, served over stdio.
func buildServer(engine *selection.Engine, cat catalogReader, caller domain.ToolCaller, manager *sources.Manager, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "metamcp",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name: "find_tools",
		Description: "Find the most relevant tools for a task. Returns a ranked " +
			"shortlist instead of the full catalog; call the chosen tool with call_tool.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input findToolsInput) (*mcp.CallToolResult, findToolsOutput, error) {
		sctx := domain.SelectionContext{
			Query:          input.Query,
			RecentMessages: input.RecentMessages,
			ActiveTools:    input.ActiveTools,
			Preferences:    input.Preferences,
			Timestamp:      time.Now(),
		}
		result := engine.Select(ctx, sctx, cat.Snapshot())

		out := findToolsOutput{
			Tools:      make([]selectedTool, 0, len(result.Tools)),
			Strategy:   result.Strategy,
			Confidence: result.Confidence,
			ElapsedMs:  float64(result.Elapsed.Microseconds()) / 1000.0,
			Metadata:   result.Metadata,
		}
		for _, tool := range result.Tools {
			out.Tools = append(out.Tools, selectedTool{
				ID:          tool.ID,
				Name:        tool.Name,
				Source:      tool.Source,
				Description: tool.Description,
				Parameters:  tool.Parameters,
				UsageCount:  tool.UsageCount,
			})
		}
		return nil, out, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "call_tool",
		Description: "Execute a tool by its qualified id on the source that owns it.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input callToolInput) (*mcp.CallToolResult, callToolOutput, error) {
		raw, err := caller.CallTool(ctx, input.ToolID, input.Arguments)
		if err != nil {
			return nil, callToolOutput{}, err
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, callToolOutput{}, fmt.Errorf("decode tool result: %w", err)
		}
		return nil, callToolOutput{Content: decoded}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_metrics",
		Description: "Report selection metrics per strategy plus the engine aggregate.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, metricsOutput, error) {
		return nil, metricsOutput{
			Strategies:   engine.Metrics(),
			CatalogTools: cat.Len(),
		}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_sources",
		Description: "List the supervised tool sources and their connection state.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, listSourcesOutput, error) {
		return nil, listSourcesOutput{Sources: manager.Statuses()}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reindex_docs",
		Description: "Re-chunk and re-embed documentation for every source that carries a docs file.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, reindexDocsOutput, error) {
		n, err := manager.ReindexDocs(ctx)
		if err != nil {
			return nil, reindexDocsOutput{}, err
		}
		return nil, reindexDocsOutput{Reindexed: n}, nil
	})

	return server
}
