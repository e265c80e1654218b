package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/auth"
	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/services/providers"
)

func TestProviderHandler_List(t *testing.T) {
	registry := providers.NewRegistry(zap.NewNop())
	require.NoError(t, registry.RegisterProvider(models.LLMProviderConfig{
		ID:       "openai",
		Name:     "OpenAI",
		Provider: models.ProviderOpenAI,
		Enabled:  true,
		APIKey:   "sk-secret",
		Priority: 2,
	}, providers.NewSimulatedAdapter("OpenAI", 0)))
	require.NoError(t, registry.RegisterProvider(models.LLMProviderConfig{
		ID:       "local",
		Name:     "Local Llama",
		Provider: models.ProviderOllama,
		Enabled:  true,
		Priority: 1,
	}, providers.NewSimulatedAdapter("Local Llama", 0)))

	handler := NewProviderHandler(registry, zap.NewNop())

	t.Run("lists by priority without keys", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.HandleList(w, withTenant(httptest.NewRequest(http.MethodGet, "/api/v1/providers", nil), uuid.New(), auth.RoleUser))

		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), "sk-secret")

		var response struct {
			Data []models.LLMProviderConfig `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		require.Len(t, response.Data, 2)
		assert.Equal(t, "local", response.Data[0].ID)
		assert.Equal(t, "openai", response.Data[1].ID)
	})

	t.Run("registry keeps the key", func(t *testing.T) {
		cfg, err := registry.Lookup("openai")
		require.NoError(t, err)
		assert.Equal(t, "sk-secret", cfg.APIKey)
	})

	t.Run("missing tenant returns 401", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.HandleList(w, httptest.NewRequest(http.MethodGet, "/api/v1/providers", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
