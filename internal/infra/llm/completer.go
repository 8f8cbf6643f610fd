// Package llm wires the OpenAI-compatible chat backend used for
// reasoning-based tool selection.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"metamcp/internal/domain"
)

type Config struct {
	Endpoint     string
	Model        string
	APIKey       string
	APIKeyEnvVar string
	Timeout      time.Duration
}

type Completer struct {
	model   model.ToolCallingChatModel
	timeout time.Duration
	logger  *zap.Logger
}

func NewCompleter(ctx context.Context, cfg Config, logger *zap.Logger) (*Completer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = domain.DefaultLLMTimeoutSeconds * time.Second
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.APIKeyEnvVar != "" {
		apiKey = os.Getenv(cfg.APIKeyEnvVar)
	}
	if apiKey == "" {
		// Local OpenAI-compatible servers accept any key.
		apiKey = "not-needed"
	}

	modelCfg := &openai.ChatModelConfig{
		Model:   cfg.Model,
		APIKey:  apiKey,
		Timeout: timeout,
	}
	if cfg.Endpoint != "" {
		modelCfg.BaseURL = cfg.Endpoint
	}
	chatModel, err := openai.NewChatModel(ctx, modelCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize chat model: %w", err)
	}

	return &Completer{
		model:   chatModel,
		timeout: timeout,
		logger:  logger.Named("llm"),
	}, nil
}

// CompleteChat runs one system+user exchange and returns the raw text.
func (c *Completer) CompleteChat(ctx context.Context, system, user string, temperature float32, maxTokens int) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(user),
	}

	opts := []model.Option{model.WithTemperature(temperature)}
	if maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(maxTokens))
	}

	began := time.Now()
	response, err := c.model.Generate(callCtx, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrCompletionFailed, err)
	}
	c.logger.Debug("chat completion",
		zap.Duration("elapsed", time.Since(began)),
		zap.Int("response_chars", len(response.Content)),
	)
	return strings.TrimSpace(response.Content), nil
}

var _ domain.ChatCompleter = (*Completer)(nil)
