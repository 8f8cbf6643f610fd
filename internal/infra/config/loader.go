// Package config loads and validates the router configuration from YAML,
// with environment variable expansion and hot reload of the sources list.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"metamcp/internal/domain"
	"metamcp/internal/infra/rag"
	"metamcp/internal/infra/sources"
)

// Config is the fully validated runtime configuration.
type Config struct {
	Strategy    domain.StrategyConfig
	LLM         LLMConfig
	Embeddings  EmbeddingsConfig
	VectorStore VectorStoreConfig
	RAG         rag.Config
	Telemetry   TelemetryConfig
	Sources     []sources.Spec
	Refresh     time.Duration
}

type LLMConfig struct {
	Endpoint     string
	Model        string
	APIKey       string
	APIKeyEnvVar string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
}

type EmbeddingsConfig struct {
	Endpoint  string
	Model     string
	APIKey    string
	BatchSize int
	Timeout   time.Duration
}

type VectorStoreConfig struct {
	Path             string
	CollectionPrefix string
}

type TelemetryConfig struct {
	ListenAddress string
	Enabled       bool
}

type rawConfig struct {
	Strategy       rawStrategy    `mapstructure:"strategy"`
	LLM            rawLLM         `mapstructure:"llm"`
	Embeddings     rawEmbeddings  `mapstructure:"embeddings"`
	VectorStore    rawVectorStore `mapstructure:"vectorStore"`
	RAG            rawRAG         `mapstructure:"rag"`
	Telemetry      rawTelemetry   `mapstructure:"telemetry"`
	RefreshSeconds int            `mapstructure:"refreshSeconds"`

	// Sources decode from the YAML document directly, not through viper:
	// viper lowercases map keys, which would corrupt case-sensitive child
	// env variable names.
	Sources []rawSource `mapstructure:"-"`
}

type rawStrategy struct {
	Primary         string  `mapstructure:"primary"`
	Fallback        string  `mapstructure:"fallback"`
	VectorThreshold float64 `mapstructure:"vectorThreshold"`
	MaxTools        int     `mapstructure:"maxTools"`
}

type rawLLM struct {
	Endpoint       string  `mapstructure:"endpoint"`
	Model          string  `mapstructure:"model"`
	APIKey         string  `mapstructure:"apiKey"`
	APIKeyEnvVar   string  `mapstructure:"apiKeyEnvVar"`
	Temperature    float64 `mapstructure:"temperature"`
	MaxTokens      int     `mapstructure:"maxTokens"`
	TimeoutSeconds int     `mapstructure:"timeoutSeconds"`
}

type rawEmbeddings struct {
	Endpoint       string `mapstructure:"endpoint"`
	Model          string `mapstructure:"model"`
	APIKey         string `mapstructure:"apiKey"`
	BatchSize      int    `mapstructure:"batchSize"`
	TimeoutSeconds int    `mapstructure:"timeoutSeconds"`
}

type rawVectorStore struct {
	Path             string `mapstructure:"path"`
	CollectionPrefix string `mapstructure:"collectionPrefix"`
}

type rawRAG struct {
	ChunkSize       int     `mapstructure:"chunkSize"`
	ChunkOverlap    int     `mapstructure:"chunkOverlap"`
	TopK            int     `mapstructure:"topK"`
	ScoreThreshold  float64 `mapstructure:"scoreThreshold"`
	IncludeExamples bool    `mapstructure:"includeExamples"`
}

type rawTelemetry struct {
	ListenAddress string `mapstructure:"listenAddress"`
	Enabled       bool   `mapstructure:"enabled"`
}

type rawSource struct {
	Name          string            `yaml:"name"`
	Cmd           []string          `yaml:"cmd"`
	Env           map[string]string `yaml:"env"`
	Cwd           string            `yaml:"cwd"`
	Documentation string            `yaml:"documentation"`
	Enabled       *bool             `yaml:"enabled"`
}

func newConfigViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("strategy.primary", domain.DefaultPrimaryStrategy)
	v.SetDefault("strategy.fallback", domain.DefaultFallbackStrategy)
	v.SetDefault("strategy.vectorThreshold", domain.DefaultVectorThreshold)
	v.SetDefault("strategy.maxTools", domain.DefaultMaxTools)
	v.SetDefault("llm.endpoint", domain.DefaultLLMEndpoint)
	v.SetDefault("llm.model", domain.DefaultLLMModel)
	v.SetDefault("llm.temperature", domain.DefaultLLMTemperature)
	v.SetDefault("llm.maxTokens", domain.DefaultLLMMaxTokens)
	v.SetDefault("llm.timeoutSeconds", domain.DefaultLLMTimeoutSeconds)
	v.SetDefault("embeddings.endpoint", domain.DefaultLLMEndpoint)
	v.SetDefault("embeddings.model", domain.DefaultEmbeddingModel)
	v.SetDefault("embeddings.batchSize", domain.DefaultEmbeddingBatchSize)
	v.SetDefault("embeddings.timeoutSeconds", domain.DefaultEmbeddingTimeoutSeconds)
	v.SetDefault("vectorStore.path", domain.DefaultVectorStorePath)
	v.SetDefault("vectorStore.collectionPrefix", domain.DefaultCollectionPrefix)
	v.SetDefault("rag.chunkSize", domain.DefaultChunkSize)
	v.SetDefault("rag.chunkOverlap", domain.DefaultChunkOverlap)
	v.SetDefault("rag.topK", domain.DefaultRetrievalTopK)
	v.SetDefault("rag.scoreThreshold", domain.DefaultRetrievalThreshold)
	v.SetDefault("rag.includeExamples", true)
	v.SetDefault("telemetry.listenAddress", domain.DefaultObservabilityListenAddr)
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("refreshSeconds", domain.DefaultToolRefreshSeconds)
	return v
}

type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger.Named("config")}
}

func (l *Loader) Load(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	expanded, missing, err := expandConfigEnv(data)
	if err != nil {
		return Config{}, err
	}
	if len(missing) > 0 {
		l.logger.Warn("missing environment variables in config",
			zap.String("path", path),
			zap.Strings("missing", missing),
		)
	}

	v := newConfigViper()
	if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	var doc struct {
		Sources []rawSource `yaml:"sources"`
	}
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return Config{}, fmt.Errorf("decode sources: %w", err)
	}
	raw.Sources = doc.Sources

	cfg, errs := normalize(raw)
	if len(errs) > 0 {
		return Config{}, errors.New(strings.Join(errs, "; "))
	}
	return cfg, nil
}

func normalize(raw rawConfig) (Config, []string) {
	var errs []string

	validStrategies := map[string]bool{
		domain.StrategyVector: true,
		domain.StrategyLLM:    true,
		domain.StrategyRAG:    true,
	}
	if !validStrategies[raw.Strategy.Primary] {
		errs = append(errs, fmt.Sprintf("strategy.primary: unknown strategy %q", raw.Strategy.Primary))
	}
	if !validStrategies[raw.Strategy.Fallback] {
		errs = append(errs, fmt.Sprintf("strategy.fallback: unknown strategy %q", raw.Strategy.Fallback))
	}
	if raw.Strategy.VectorThreshold < 0 || raw.Strategy.VectorThreshold > 1 {
		errs = append(errs, fmt.Sprintf("strategy.vectorThreshold: %v outside [0,1]", raw.Strategy.VectorThreshold))
	}
	if raw.Strategy.MaxTools <= 0 {
		errs = append(errs, fmt.Sprintf("strategy.maxTools: %d must be positive", raw.Strategy.MaxTools))
	}
	if raw.LLM.Temperature < 0 || raw.LLM.Temperature > 2 {
		errs = append(errs, fmt.Sprintf("llm.temperature: %v outside [0,2]", raw.LLM.Temperature))
	}
	if raw.LLM.MaxTokens <= 0 {
		errs = append(errs, fmt.Sprintf("llm.maxTokens: %d must be positive", raw.LLM.MaxTokens))
	}
	if raw.Embeddings.BatchSize <= 0 {
		errs = append(errs, fmt.Sprintf("embeddings.batchSize: %d must be positive", raw.Embeddings.BatchSize))
	}
	if raw.RAG.ChunkSize <= 0 {
		errs = append(errs, fmt.Sprintf("rag.chunkSize: %d must be positive", raw.RAG.ChunkSize))
	}
	if raw.RAG.ScoreThreshold < 0 || raw.RAG.ScoreThreshold > 1 {
		errs = append(errs, fmt.Sprintf("rag.scoreThreshold: %v outside [0,1]", raw.RAG.ScoreThreshold))
	}

	specs := make([]sources.Spec, 0, len(raw.Sources))
	seen := make(map[string]struct{})
	for i, src := range raw.Sources {
		name := strings.TrimSpace(src.Name)
		if name == "" {
			errs = append(errs, fmt.Sprintf("sources[%d]: name is required", i))
			continue
		}
		if strings.Contains(name, ".") {
			errs = append(errs, fmt.Sprintf("sources[%d]: name %q must not contain '.'", i, name))
			continue
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Sprintf("sources[%d]: duplicate name %q", i, name))
			continue
		}
		seen[name] = struct{}{}

		enabled := src.Enabled == nil || *src.Enabled
		if enabled && len(src.Cmd) == 0 {
			errs = append(errs, fmt.Sprintf("sources[%d]: cmd is required for enabled source %q", i, name))
			continue
		}
		specs = append(specs, sources.Spec{
			Name:          name,
			Cmd:           src.Cmd,
			Env:           src.Env,
			Cwd:           src.Cwd,
			Documentation: src.Documentation,
			Enabled:       enabled,
		})
	}

	cfg := Config{
		Strategy: domain.StrategyConfig{
			Primary:         raw.Strategy.Primary,
			Fallback:        raw.Strategy.Fallback,
			VectorThreshold: raw.Strategy.VectorThreshold,
			MaxTools:        raw.Strategy.MaxTools,
		},
		LLM: LLMConfig{
			Endpoint:     raw.LLM.Endpoint,
			Model:        raw.LLM.Model,
			APIKey:       raw.LLM.APIKey,
			APIKeyEnvVar: raw.LLM.APIKeyEnvVar,
			Temperature:  raw.LLM.Temperature,
			MaxTokens:    raw.LLM.MaxTokens,
			Timeout:      time.Duration(raw.LLM.TimeoutSeconds) * time.Second,
		},
		Embeddings: EmbeddingsConfig{
			Endpoint:  raw.Embeddings.Endpoint,
			Model:     raw.Embeddings.Model,
			APIKey:    raw.Embeddings.APIKey,
			BatchSize: raw.Embeddings.BatchSize,
			Timeout:   time.Duration(raw.Embeddings.TimeoutSeconds) * time.Second,
		},
		VectorStore: VectorStoreConfig{
			Path:             raw.VectorStore.Path,
			CollectionPrefix: raw.VectorStore.CollectionPrefix,
		},
		RAG: rag.Config{
			ChunkSize:       raw.RAG.ChunkSize,
			ChunkOverlap:    raw.RAG.ChunkOverlap,
			TopK:            raw.RAG.TopK,
			ScoreThreshold:  raw.RAG.ScoreThreshold,
			IncludeExamples: raw.RAG.IncludeExamples,
		},
		Telemetry: TelemetryConfig{
			ListenAddress: raw.Telemetry.ListenAddress,
			Enabled:       raw.Telemetry.Enabled,
		},
		Sources: specs,
		Refresh: time.Duration(raw.RefreshSeconds) * time.Second,
	}
	return cfg, errs
}
