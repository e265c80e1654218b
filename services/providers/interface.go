// Package providers is the model adapter layer: a uniform way to send
// one chat turn to whichever upstream LLM a tenant selected.
package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/upb/agent-safe-grid/models"
)

const (
	// DefaultSystemInstruction is used when the caller sends none
	DefaultSystemInstruction = "You are a secure enterprise AI agent."

	// DefaultMaxTokens caps the completion length of one turn
	DefaultMaxTokens = 2048
)

// ModelAdapter sends one conversation turn to a configured provider
type ModelAdapter interface {
	Send(ctx context.Context, providerID, systemInstruction string, history []models.ChatMessage, message string) (*Completion, error)
}

// Catalog resolves provider ids to their configuration
type Catalog interface {
	Lookup(providerID string) (*models.LLMProviderConfig, error)
	List() []models.LLMProviderConfig
}

// Adapter is implemented by each upstream client. One adapter instance
// serves one configured provider.
type Adapter interface {
	// Name returns the provider name used in logs and audit entries
	Name() string

	// Complete performs the chat completion
	Complete(ctx context.Context, req *ChatRequest) (*Completion, error)
}

// ChatRequest is the provider-neutral form of a turn
type ChatRequest struct {
	Model             string
	SystemInstruction string
	// History excludes system messages; see ConversationHistory.
	History   []models.ChatMessage
	Message   string
	MaxTokens int
}

// Completion is the upstream answer to one turn
type Completion struct {
	Text   string `json:"text"`
	Tokens int64  `json:"tokens"`
	Model  string `json:"model,omitempty"`
}

// UpstreamError reports a failed call to a model provider
type UpstreamError struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Err        error
}

// Error implements the error interface
func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s returned %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewUpstreamError builds an UpstreamError. 429 and 5xx are retryable.
func NewUpstreamError(provider string, statusCode int, err error) *UpstreamError {
	return &UpstreamError{
		Provider:   provider,
		StatusCode: statusCode,
		Retryable:  statusCode == 429 || statusCode >= 500,
		Err:        err,
	}
}

// IsRetryable reports whether err is an UpstreamError worth retrying
func IsRetryable(err error) bool {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.Retryable
	}
	return false
}

// ConversationHistory drops system and tool turns, which are not replayed
// to the model.
func ConversationHistory(history []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(history))
	for _, m := range history {
		if m.Role == models.RoleUser || m.Role == models.RoleModel {
			out = append(out, m)
		}
	}
	return out
}

// ResolveModel picks the model a provider config should call
func ResolveModel(cfg *models.LLMProviderConfig) string {
	if cfg.SelectedModel != "" {
		return cfg.SelectedModel
	}
	if len(cfg.Models) > 0 {
		return cfg.Models[0]
	}
	return ""
}
