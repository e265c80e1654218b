package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/services/providers"
)

func newServer(t *testing.T, handler func(w http.ResponseWriter, req openai.ChatCompletionRequest)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}

		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		handler(w, req)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestAdapter(url string) *OpenAIAdapter {
	return NewOpenAIAdapter(Config{
		Name:    "OpenAI",
		APIKey:  "test-key",
		BaseURL: url,
		Timeout: 5 * time.Second,
	}, zap.NewNop())
}

func chatRequest() *providers.ChatRequest {
	return &providers.ChatRequest{
		Model:             "gpt-4o-mini",
		SystemInstruction: "be brief",
		History: []models.ChatMessage{
			{Role: models.RoleUser, Content: "hi"},
			{Role: models.RoleModel, Content: "hello"},
		},
		Message:   "what is 2+2?",
		MaxTokens: 100,
	}
}

func TestNewOpenAIAdapter(t *testing.T) {
	adapter := NewOpenAIAdapter(Config{APIKey: "test-key"}, zap.NewNop())

	if adapter == nil {
		t.Fatal("NewOpenAIAdapter() returned nil")
	}
	if adapter.Name() != "openai" {
		t.Errorf("Name() = %s, want openai", adapter.Name())
	}
}

func TestConfigFor(t *testing.T) {
	tests := []struct {
		name     string
		provider models.LLMProviderConfig
		wantBase string
	}{
		{"openai default", models.LLMProviderConfig{Name: "OpenAI", Provider: models.ProviderOpenAI}, DefaultBaseURL},
		{"ollama default", models.LLMProviderConfig{Name: "Local", Provider: models.ProviderOllama}, DefaultOllamaBaseURL},
		{"custom trailing slash", models.LLMProviderConfig{Name: "Gw", Provider: models.ProviderCustom, BaseURL: "https://gw.example.com/v1/"}, "https://gw.example.com/v1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConfigFor(&tt.provider)
			if got.BaseURL != tt.wantBase {
				t.Errorf("BaseURL = %s, want %s", got.BaseURL, tt.wantBase)
			}
			if got.Name != tt.provider.Name {
				t.Errorf("Name = %s, want %s", got.Name, tt.provider.Name)
			}
		})
	}
}

func TestOpenAIAdapter_Complete(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, req openai.ChatCompletionRequest) {
		if len(req.Messages) != 4 {
			t.Errorf("got %d messages, want 4", len(req.Messages))
		} else {
			wantRoles := []string{"system", "user", "assistant", "user"}
			for i, m := range req.Messages {
				if m.Role != wantRoles[i] {
					t.Errorf("message %d role = %s, want %s", i, m.Role, wantRoles[i])
				}
			}
			if req.Messages[3].Content != "what is 2+2?" {
				t.Errorf("last message = %q", req.Messages[3].Content)
			}
		}
		if req.MaxTokens != 100 {
			t.Errorf("MaxTokens = %d, want 100", req.MaxTokens)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "chatcmpl-test123",
			"model": req.Model,
			"choices": []map[string]interface{}{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": "4"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
		})
	})

	completion, err := newTestAdapter(server.URL).Complete(context.Background(), chatRequest())
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if completion.Text != "4" {
		t.Errorf("Text = %q, want 4", completion.Text)
	}
	if completion.Tokens != 30 {
		t.Errorf("Tokens = %d, want 30", completion.Tokens)
	}
	if completion.Model != "gpt-4o-mini" {
		t.Errorf("Model = %s", completion.Model)
	}
}

func TestOpenAIAdapter_Complete_EstimatesMissingUsage(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, req openai.ChatCompletionRequest) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "chatcmpl-nousage",
			"choices": []map[string]interface{}{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": "0123456789"}},
			},
		})
	})

	completion, err := newTestAdapter(server.URL).Complete(context.Background(), chatRequest())
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	// ceil(10/4)
	if completion.Tokens != 3 {
		t.Errorf("Tokens = %d, want 3", completion.Tokens)
	}
}

func TestOpenAIAdapter_Complete_EmptyChoices(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, req openai.ChatCompletionRequest) {
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "x", "choices": []interface{}{}})
	})

	completion, err := newTestAdapter(server.URL).Complete(context.Background(), chatRequest())
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if completion.Text != noResponseText {
		t.Errorf("Text = %q, want %q", completion.Text, noResponseText)
	}
}

func TestOpenAIAdapter_Complete_Error(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantRetryable bool
		wantMessage   string
	}{
		{
			name:        "invalid request",
			status:      http.StatusBadRequest,
			body:        `{"error":{"message":"Invalid request","type":"invalid_request_error"}}`,
			wantMessage: "Invalid request",
		},
		{
			name:          "rate limited",
			status:        http.StatusTooManyRequests,
			body:          `{"error":{"message":"Slow down","type":"rate_limit_error"}}`,
			wantRetryable: true,
			wantMessage:   "Slow down",
		},
		{
			name:          "server error",
			status:        http.StatusBadGateway,
			body:          `upstream exploded`,
			wantRetryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newServer(t, func(w http.ResponseWriter, req openai.ChatCompletionRequest) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := newTestAdapter(server.URL).Complete(context.Background(), chatRequest())
			if err == nil {
				t.Fatal("Expected error, got nil")
			}

			var upErr *providers.UpstreamError
			if !errors.As(err, &upErr) {
				t.Fatalf("error %T is not an UpstreamError", err)
			}
			if upErr.Provider != "OpenAI" {
				t.Errorf("Provider = %s, want OpenAI", upErr.Provider)
			}
			if upErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", upErr.StatusCode, tt.status)
			}
			if upErr.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", upErr.Retryable, tt.wantRetryable)
			}
			if tt.wantMessage != "" && !strings.Contains(err.Error(), tt.wantMessage) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantMessage)
			}
		})
	}
}

func TestOpenAIAdapter_Complete_ContextCanceled(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, req openai.ChatCompletionRequest) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "late"})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newTestAdapter(server.URL).Complete(ctx, chatRequest())
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error %v does not wrap DeadlineExceeded", err)
	}
}

func TestBuildRequest(t *testing.T) {
	req := chatRequest()
	req.SystemInstruction = ""

	got := buildRequest(req)

	if got.Model != "gpt-4o-mini" {
		t.Errorf("Model = %s", got.Model)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("got %d messages, want 3 without a system instruction", len(got.Messages))
	}
	if got.Messages[0].Role != openai.ChatMessageRoleUser {
		t.Errorf("first role = %s", got.Messages[0].Role)
	}
}
