// Package openai adapts OpenAI-compatible chat APIs (OpenAI itself,
// Ollama's /v1 endpoint and custom gateways) to providers.Adapter.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/services/metering"
	"github.com/upb/agent-safe-grid/services/providers"
)

const (
	// DefaultBaseURL is the OpenAI API root
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultOllamaBaseURL is Ollama's OpenAI-compatible endpoint
	DefaultOllamaBaseURL = "http://localhost:11434/v1"

	noResponseText = "No response generated."
)

// Config configures one adapter instance
type Config struct {
	Name    string
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// ConfigFor derives an adapter config from a catalog entry
func ConfigFor(p *models.LLMProviderConfig) Config {
	base := p.BaseURL
	if base == "" {
		if p.Provider == models.ProviderOllama {
			base = DefaultOllamaBaseURL
		} else {
			base = DefaultBaseURL
		}
	}
	return Config{
		Name:    p.Name,
		APIKey:  p.APIKey,
		BaseURL: strings.TrimRight(base, "/"),
	}
}

// OpenAIAdapter implements providers.Adapter with go-openai
type OpenAIAdapter struct {
	name   string
	client *openai.Client
	logger *zap.Logger
}

// NewOpenAIAdapter creates a new OpenAI adapter
func NewOpenAIAdapter(config Config, logger *zap.Logger) *OpenAIAdapter {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Name == "" {
		config.Name = "openai"
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = config.BaseURL
	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}
	}

	return &OpenAIAdapter{
		name:   config.Name,
		client: openai.NewClientWithConfig(clientConfig),
		logger: logger,
	}
}

// Name returns the provider name
func (a *OpenAIAdapter) Name() string {
	return a.name
}

// Complete performs a chat completion request
func (a *OpenAIAdapter) Complete(ctx context.Context, req *providers.ChatRequest) (*providers.Completion, error) {
	start := time.Now()

	resp, err := a.client.CreateChatCompletion(ctx, buildRequest(req))
	if err != nil {
		return nil, a.convertError(err)
	}

	text := noResponseText
	if len(resp.Choices) > 0 && resp.Choices[0].Message.Content != "" {
		text = resp.Choices[0].Message.Content
	}

	tokens := int64(resp.Usage.TotalTokens)
	if tokens <= 0 {
		tokens = metering.EstimateTokens(text)
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}

	a.logger.Debug("chat completion finished",
		zap.String("provider", a.name),
		zap.String("model", model),
		zap.Int64("tokens", tokens),
		zap.Duration("latency", time.Since(start)),
	)

	return &providers.Completion{Text: text, Tokens: tokens, Model: model}, nil
}

// buildRequest converts the provider-neutral request to go-openai's form
func buildRequest(req *providers.ChatRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.SystemInstruction != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemInstruction,
		})
	}
	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Message,
	})

	return openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
}

// convertError maps go-openai failures to *providers.UpstreamError
func (a *OpenAIAdapter) convertError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return providers.NewUpstreamError(a.name, apiErr.HTTPStatusCode, errors.New(apiErr.Message))
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		cause := reqErr.Err
		if cause == nil {
			cause = err
		}
		return providers.NewUpstreamError(a.name, reqErr.HTTPStatusCode, cause)
	}

	// Transport failures and context errors carry no status code.
	upErr := providers.NewUpstreamError(a.name, 0, err)
	upErr.Retryable = !errors.Is(err, context.Canceled)
	return upErr
}
