package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/auth"
	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/repositories/memory"
	"github.com/upb/agent-safe-grid/services/policy"
	"github.com/upb/agent-safe-grid/utils"
)

func newTestPolicyHandler() *PolicyHandler {
	svc := policy.NewService(memory.NewPolicyRepository(), policy.NewPolicyCache(10, time.Minute), zap.NewNop())
	return NewPolicyHandler(svc, zap.NewNop())
}

func decodePolicy(t *testing.T, w *httptest.ResponseRecorder) models.PolicyConfig {
	t.Helper()
	var response struct {
		Data models.PolicyConfig `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return response.Data
}

func TestPolicyHandler_GetDefault(t *testing.T) {
	handler := newTestPolicyHandler()

	req := withTenant(httptest.NewRequest(http.MethodGet, "/api/v1/policy", nil), uuid.New(), auth.RoleUser)
	w := httptest.NewRecorder()
	handler.HandleGetPolicy(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	cfg := decodePolicy(t, w)
	assert.True(t, cfg.PIIRedaction)
	assert.True(t, cfg.JailbreakDetection)
	assert.Equal(t, 100.0, cfg.MaxBudget)
	assert.Empty(t, cfg.AdvancedRules)
}

func TestPolicyHandler_SaveDerivesFlags(t *testing.T) {
	handler := newTestPolicyHandler()
	tenantID := uuid.New()

	body := `{
		"piiRedaction": true,
		"jailbreakDetection": true,
		"maxBudget": 100,
		"advancedRules": [
			{"id": "b1", "type": "BUDGET", "name": "Budget", "enabled": true, "severity": "high",
			 "config": {"limit": 50, "period": "monthly", "alertThreshold": 80}},
			{"id": "j1", "type": "JAILBREAK", "name": "Jailbreak", "enabled": false, "severity": "critical",
			 "config": {"sensitivity": 0.5}}
		]
	}`

	req := withTenant(httptest.NewRequest(http.MethodPut, "/api/v1/policy", bytes.NewBufferString(body)), tenantID, auth.RoleAdmin)
	w := httptest.NewRecorder()
	handler.HandleSavePolicy(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	saved := decodePolicy(t, w)
	assert.Equal(t, 50.0, saved.MaxBudget)
	assert.False(t, saved.PIIRedaction)
	assert.False(t, saved.JailbreakDetection)
	require.Len(t, saved.AdvancedRules, 2)
	assert.Equal(t, "b1", saved.AdvancedRules[0].ID)

	// Reads see the stored policy
	req = withTenant(httptest.NewRequest(http.MethodGet, "/api/v1/policy", nil), tenantID, auth.RoleUser)
	w = httptest.NewRecorder()
	handler.HandleGetPolicy(w, req)
	assert.Equal(t, 50.0, decodePolicy(t, w).MaxBudget)
}

func TestPolicyHandler_SaveRejectsBadConfig(t *testing.T) {
	handler := newTestPolicyHandler()

	tests := []struct {
		name      string
		body      string
		wantError string
	}{
		{
			name:      "budget without limit",
			body:      `{"advancedRules":[{"id":"b1","type":"BUDGET","enabled":true,"severity":"high","config":{"period":"monthly"}}]}`,
			wantError: "configuration_error",
		},
		{
			name:      "duplicate rule ids",
			body:      `{"advancedRules":[{"id":"x","type":"PII","enabled":true,"severity":"low","config":{}},{"id":"x","type":"PII","enabled":true,"severity":"low","config":{}}]}`,
			wantError: "configuration_error",
		},
		{
			name:      "malformed json",
			body:      `{"advancedRules":`,
			wantError: "bad_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withTenant(httptest.NewRequest(http.MethodPut, "/api/v1/policy", bytes.NewBufferString(tt.body)), uuid.New(), auth.RoleAdmin)
			w := httptest.NewRecorder()
			handler.HandleSavePolicy(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var response utils.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.wantError, response.Error)
		})
	}
}

func TestPolicyHandler_SetFlags(t *testing.T) {
	handler := newTestPolicyHandler()
	tenantID := uuid.New()

	t.Run("edits toggles without advanced rules", func(t *testing.T) {
		req := withTenant(httptest.NewRequest(http.MethodPut, "/api/v1/policy/flags",
			bytes.NewBufferString(`{"piiRedaction": false, "maxBudget": 25}`)), tenantID, auth.RoleAdmin)
		w := httptest.NewRecorder()
		handler.HandleSetFlags(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		cfg := decodePolicy(t, w)
		assert.False(t, cfg.PIIRedaction)
		assert.True(t, cfg.JailbreakDetection)
		assert.Equal(t, 25.0, cfg.MaxBudget)
	})

	t.Run("locked once advanced rules exist", func(t *testing.T) {
		body := `{"advancedRules":[{"id":"p1","type":"PII","enabled":true,"severity":"high","config":{"patterns":["email"]}}]}`
		req := withTenant(httptest.NewRequest(http.MethodPut, "/api/v1/policy", bytes.NewBufferString(body)), tenantID, auth.RoleAdmin)
		w := httptest.NewRecorder()
		handler.HandleSavePolicy(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		req = withTenant(httptest.NewRequest(http.MethodPut, "/api/v1/policy/flags",
			bytes.NewBufferString(`{"piiRedaction": false}`)), tenantID, auth.RoleAdmin)
		w = httptest.NewRecorder()
		handler.HandleSetFlags(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "configuration_error")
	})

	t.Run("negative budget fails validation", func(t *testing.T) {
		req := withTenant(httptest.NewRequest(http.MethodPut, "/api/v1/policy/flags",
			bytes.NewBufferString(`{"maxBudget": -1}`)), uuid.New(), auth.RoleAdmin)
		w := httptest.NewRecorder()
		handler.HandleSetFlags(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPolicyHandler_Catalog(t *testing.T) {
	handler := newTestPolicyHandler()

	w := httptest.NewRecorder()
	handler.HandleCatalog(w, httptest.NewRequest(http.MethodGet, "/api/v1/policy/catalog", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var response struct {
		Data []struct {
			Type string `json:"type"`
			Name string `json:"name"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Len(t, response.Data, 8)
	assert.Equal(t, "PII", response.Data[0].Type)
}
