package domain

// Strategy defaults.
const (
	DefaultPrimaryStrategy  = StrategyVector
	DefaultFallbackStrategy = StrategyVector
	DefaultVectorThreshold  = 0.4
	DefaultMaxTools         = 10
)

// LLM backend defaults (OpenAI-compatible local endpoint).
const (
	DefaultLLMEndpoint       = "http://localhost:1234/v1"
	DefaultLLMModel          = "local-model"
	DefaultLLMTemperature    = 0.3
	DefaultLLMMaxTokens      = 1000
	DefaultLLMTimeoutSeconds = 60
)

// Embedding backend defaults.
const (
	DefaultEmbeddingModel          = "nomic-embed-text-v1.5"
	DefaultEmbeddingBatchSize      = 32
	DefaultEmbeddingTimeoutSeconds = 30
)

// Retrieval pipeline defaults.
const (
	DefaultChunkSize          = 500
	DefaultChunkOverlap       = 50
	DefaultRetrievalTopK      = 5
	DefaultRetrievalThreshold = 0.7
)

// Runtime defaults.
const (
	DefaultVectorStorePath         = "metamcp.db"
	DefaultCollectionPrefix        = "metamcp"
	DefaultToolRefreshSeconds      = 300
	DefaultHealthCheckSeconds      = 30
	DefaultObservabilityListenAddr = "127.0.0.1:9090"
)
