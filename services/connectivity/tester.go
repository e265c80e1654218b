// Package connectivity checks provider credentials before they are saved.
package connectivity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/models"
)

// Timeout bounds every connection test
const Timeout = 10 * time.Second

const (
	defaultGoogleBaseURL    = "https://generativelanguage.googleapis.com"
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultOpenAIBaseURL    = "https://api.openai.com/v1"
	defaultOllamaBaseURL    = "http://localhost:11434"

	defaultGoogleModel    = "gemini-pro"
	defaultOpenAIModel    = "gpt-3.5-turbo"
	defaultAnthropicModel = "claude-3-opus-20240229"
	defaultCustomModel    = "default"

	anthropicVersion = "2023-06-01"
	timeoutMessage   = "Connection timeout (10s exceeded)"
)

// Request is the test-connection payload
type Request struct {
	Provider      models.ProviderKind `json:"provider"`
	APIKey        string              `json:"apiKey,omitempty"`
	BaseURL       string              `json:"baseUrl,omitempty"`
	Endpoint      string              `json:"endpoint,omitempty"`
	SelectedModel string              `json:"selectedModel,omitempty"`
}

// Result reports the outcome of one test. Latency is in milliseconds and
// only set on success.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Latency int64  `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Tester runs provider connection tests
type Tester struct {
	httpClient       *http.Client
	timeout          time.Duration
	googleBaseURL    string
	anthropicBaseURL string
	logger           *zap.Logger
}

// Option configures a Tester
type Option func(*Tester)

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tester) { t.httpClient = c }
}

// WithTimeout overrides the test timeout
func WithTimeout(d time.Duration) Option {
	return func(t *Tester) { t.timeout = d }
}

// WithVendorURLs points the Google and Anthropic tests at other hosts
func WithVendorURLs(google, anthropic string) Option {
	return func(t *Tester) {
		t.googleBaseURL = strings.TrimRight(google, "/")
		t.anthropicBaseURL = strings.TrimRight(anthropic, "/")
	}
}

// NewTester creates a connection tester
func NewTester(logger *zap.Logger, opts ...Option) *Tester {
	t := &Tester{
		httpClient:       &http.Client{},
		timeout:          Timeout,
		googleBaseURL:    defaultGoogleBaseURL,
		anthropicBaseURL: defaultAnthropicBaseURL,
		logger:           logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Test checks the credentials in req against the provider
func (t *Tester) Test(ctx context.Context, req Request) Result {
	if req.Provider != models.ProviderOllama && req.APIKey == "" {
		return Result{Message: "API key is required", Error: "Please provide an API key"}
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var res Result
	switch req.Provider {
	case models.ProviderGoogle:
		res = t.testGoogle(ctx, req.APIKey, orDefault(req.SelectedModel, defaultGoogleModel))
	case models.ProviderOpenAI:
		res = t.testOpenAI(ctx, req.APIKey, orDefault(req.BaseURL, defaultOpenAIBaseURL), orDefault(req.SelectedModel, defaultOpenAIModel))
	case models.ProviderAnthropic:
		res = t.testAnthropic(ctx, req.APIKey, orDefault(req.SelectedModel, defaultAnthropicModel))
	case models.ProviderOllama:
		res = t.testOllama(ctx, orDefault(req.BaseURL, defaultOllamaBaseURL))
	case models.ProviderCustom:
		if req.BaseURL == "" {
			return Result{Message: "Base URL is required for custom providers", Error: "Please provide a base URL"}
		}
		res = t.testCustom(ctx, req)
	default:
		return Result{
			Message: "Unknown provider type",
			Error:   fmt.Sprintf("Provider '%s' is not supported", req.Provider),
		}
	}

	t.logger.Info("provider connection tested",
		zap.String("provider", string(req.Provider)),
		zap.Bool("success", res.Success),
		zap.Int64("latency_ms", res.Latency),
		zap.String("error", res.Error),
	)
	return res
}

func (t *Tester) testGoogle(ctx context.Context, apiKey, model string) Result {
	const failure = "Failed to connect to Google Gemini"
	url := fmt.Sprintf("%s/v1/models/%s:generateContent?key=%s", t.googleBaseURL, model, apiKey)
	body := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]string{{"text": "test"}}},
		},
	}

	return t.post(ctx, url, nil, body, failure, fmt.Sprintf("Successfully connected to Google Gemini (%s)", model))
}

func (t *Tester) testOpenAI(ctx context.Context, apiKey, baseURL, model string) Result {
	const failure = "Failed to connect to OpenAI API"

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	cfg.HTTPClient = t.httpClient
	client := openai.NewClientWithConfig(cfg)

	start := time.Now()
	_, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     model,
		Messages:  []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "test"}},
		MaxTokens: 5,
	})
	if err == nil {
		return Result{
			Success: true,
			Message: fmt.Sprintf("Successfully connected to OpenAI-compatible API (%s)", model),
			Latency: time.Since(start).Milliseconds(),
		}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = statusError(apiErr.HTTPStatusCode)
		}
		return Result{Message: failure, Error: msg}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return Result{Message: failure, Error: statusError(reqErr.HTTPStatusCode)}
	}
	return Result{Message: failure, Error: transportError(err, err.Error())}
}

func (t *Tester) testAnthropic(ctx context.Context, apiKey, model string) Result {
	const failure = "Failed to connect to Anthropic API"
	headers := map[string]string{
		"x-api-key":         apiKey,
		"anthropic-version": anthropicVersion,
	}
	body := map[string]interface{}{
		"model":      model,
		"max_tokens": 10,
		"messages":   []map[string]string{{"role": "user", "content": "test"}},
	}

	return t.post(ctx, t.anthropicBaseURL+"/v1/messages", headers, body, failure, fmt.Sprintf("Successfully connected to Anthropic Claude (%s)", model))
}

func (t *Tester) testOllama(ctx context.Context, baseURL string) Result {
	const failure = "Failed to connect to Ollama"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/tags", nil)
	if err != nil {
		return Result{Message: failure, Error: err.Error()}
	}

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return Result{Message: failure, Error: transportError(err, "Is Ollama running on this machine?")}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{Message: failure, Error: statusError(resp.StatusCode)}
	}

	var tags struct {
		Models []json.RawMessage `json:"models"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&tags)

	return Result{
		Success: true,
		Message: fmt.Sprintf("Successfully connected to Ollama (%d models available)", len(tags.Models)),
		Latency: time.Since(start).Milliseconds(),
	}
}

func (t *Tester) testCustom(ctx context.Context, req Request) Result {
	const failure = "Failed to connect to custom provider"

	base := strings.TrimRight(req.BaseURL, "/")
	url := base + "/chat/completions"
	if req.Endpoint != "" {
		url = base + req.Endpoint
	}

	var headers map[string]string
	if req.APIKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + req.APIKey}
	}
	body := map[string]interface{}{
		"model":      orDefault(req.SelectedModel, defaultCustomModel),
		"messages":   []map[string]string{{"role": "user", "content": "test"}},
		"max_tokens": 5,
	}

	return t.post(ctx, url, headers, body, failure, "Successfully connected to custom provider")
}

// post sends a JSON probe and interprets the response
func (t *Tester) post(ctx context.Context, url string, headers map[string]string, body interface{}, failure, success string) Result {
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{Message: failure, Error: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{Message: failure, Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return Result{Message: failure, Error: transportError(err, err.Error())}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Result{Success: true, Message: success, Latency: time.Since(start).Milliseconds()}
	}

	return Result{Message: failure, Error: bodyError(resp)}
}

// bodyError prefers the provider's error.message over the status line
func bodyError(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &parsed) == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return statusError(resp.StatusCode)
}

func statusError(code int) string {
	return fmt.Sprintf("HTTP %d: %s", code, http.StatusText(code))
}

func transportError(err error, fallback string) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutMessage
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return timeoutMessage
	}
	return fallback
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
