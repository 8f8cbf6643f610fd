package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"metamcp/internal/domain"
)

// WriteDefault writes a starter config with every default spelled out and
// one commented-out example source. Refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists: %s", path)
	}

	doc := map[string]any{
		"strategy": map[string]any{
			"primary":         domain.DefaultPrimaryStrategy,
			"fallback":        domain.DefaultFallbackStrategy,
			"vectorThreshold": domain.DefaultVectorThreshold,
			"maxTools":        domain.DefaultMaxTools,
		},
		"llm": map[string]any{
			"endpoint":       domain.DefaultLLMEndpoint,
			"model":          domain.DefaultLLMModel,
			"temperature":    domain.DefaultLLMTemperature,
			"maxTokens":      domain.DefaultLLMMaxTokens,
			"timeoutSeconds": domain.DefaultLLMTimeoutSeconds,
		},
		"embeddings": map[string]any{
			"endpoint":       domain.DefaultLLMEndpoint,
			"model":          domain.DefaultEmbeddingModel,
			"batchSize":      domain.DefaultEmbeddingBatchSize,
			"timeoutSeconds": domain.DefaultEmbeddingTimeoutSeconds,
		},
		"vectorStore": map[string]any{
			"path":             domain.DefaultVectorStorePath,
			"collectionPrefix": domain.DefaultCollectionPrefix,
		},
		"rag": map[string]any{
			"chunkSize":       domain.DefaultChunkSize,
			"chunkOverlap":    domain.DefaultChunkOverlap,
			"topK":            domain.DefaultRetrievalTopK,
			"scoreThreshold":  domain.DefaultRetrievalThreshold,
			"includeExamples": true,
		},
		"telemetry": map[string]any{
			"listenAddress": domain.DefaultObservabilityListenAddr,
			"enabled":       true,
		},
		"refreshSeconds": domain.DefaultToolRefreshSeconds,
		"sources":        []any{},
	}

	encoded, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}

	example := []byte(`
# Example source:
# sources:
#   - name: filesystem
#     cmd: ["npx", "-y", "@modelcontextprotocol/server-filesystem", "/tmp"]
#     documentation: ./docs/filesystem.md
#     enabled: true
`)
	return os.WriteFile(path, append(encoded, example...), 0o644)
}
