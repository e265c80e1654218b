package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	t.Run("successful write", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "healthy", response["status"])
	})

	t.Run("nil data", func(t *testing.T) {
		w := httptest.NewRecorder()

		require.NoError(t, WriteJSON(w, http.StatusNoContent, nil))

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestWriteOK(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteOK(w, map[string]float64{"budget": 100}))
	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Data map[string]float64 `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, 100.0, response.Data["budget"])
}

func TestWriteAttachment(t *testing.T) {
	w := httptest.NewRecorder()

	WriteAttachment(w, "text/csv", "audit_log_20240115.csv")
	_, err := w.Write([]byte("id,action\n"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="audit_log_20240115.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "id,action\n", w.Body.String())
}

func TestErrorWriters(t *testing.T) {
	details := map[string]interface{}{"rule_id": "pii-1"}

	tests := []struct {
		name        string
		write       func(w http.ResponseWriter, msg string) error
		message     string
		wantStatus  int
		wantCode    string
		wantMessage string
		wantDetails bool
	}{
		{
			name:        "bad request",
			write:       func(w http.ResponseWriter, msg string) error { return WriteBadRequest(w, msg, details) },
			message:     "Invalid request body",
			wantStatus:  http.StatusBadRequest,
			wantCode:    CodeBadRequest,
			wantMessage: "Invalid request body",
			wantDetails: true,
		},
		{
			name:        "configuration error",
			write:       func(w http.ResponseWriter, msg string) error { return WriteConfigurationError(w, msg, details) },
			message:     `rule "pii-1": invalid config`,
			wantStatus:  http.StatusBadRequest,
			wantCode:    CodeConfiguration,
			wantMessage: `rule "pii-1": invalid config`,
			wantDetails: true,
		},
		{
			name:        "unauthorized default message",
			write:       func(w http.ResponseWriter, msg string) error { return WriteUnauthorized(w, msg) },
			wantStatus:  http.StatusUnauthorized,
			wantCode:    CodeUnauthorized,
			wantMessage: "Authentication required",
		},
		{
			name:        "forbidden",
			write:       func(w http.ResponseWriter, msg string) error { return WriteForbidden(w, msg) },
			message:     "Admin role required",
			wantStatus:  http.StatusForbidden,
			wantCode:    CodeForbidden,
			wantMessage: "Admin role required",
		},
		{
			name:        "policy violation default message",
			write:       func(w http.ResponseWriter, msg string) error { return WritePolicyViolation(w, msg, details) },
			wantStatus:  http.StatusForbidden,
			wantCode:    CodePolicyViolation,
			wantMessage: "Request blocked by policy",
			wantDetails: true,
		},
		{
			name:        "not found default message",
			write:       func(w http.ResponseWriter, msg string) error { return WriteNotFound(w, msg) },
			wantStatus:  http.StatusNotFound,
			wantCode:    CodeNotFound,
			wantMessage: "Resource not found",
		},
		{
			name:        "conflict",
			write:       func(w http.ResponseWriter, msg string) error { return WriteConflict(w, msg, details) },
			message:     "signature mismatch",
			wantStatus:  http.StatusConflict,
			wantCode:    CodeConflict,
			wantMessage: "signature mismatch",
			wantDetails: true,
		},
		{
			name:        "too many requests default message",
			write:       func(w http.ResponseWriter, msg string) error { return WriteTooManyRequests(w, msg, nil) },
			wantStatus:  http.StatusTooManyRequests,
			wantCode:    CodeRateLimited,
			wantMessage: "Rate limit exceeded",
		},
		{
			name:        "bad gateway",
			write:       func(w http.ResponseWriter, msg string) error { return WriteBadGateway(w, msg, details) },
			message:     "provider timed out",
			wantStatus:  http.StatusBadGateway,
			wantCode:    CodeBadGateway,
			wantMessage: "provider timed out",
			wantDetails: true,
		},
		{
			name:        "internal default message",
			write:       func(w http.ResponseWriter, msg string) error { return WriteInternalServerError(w, msg) },
			wantStatus:  http.StatusInternalServerError,
			wantCode:    CodeInternal,
			wantMessage: "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			require.NoError(t, tt.write(w, tt.message))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.wantCode, response.Error)
			assert.Equal(t, tt.wantMessage, response.Message)
			if tt.wantDetails {
				assert.Equal(t, "pii-1", response.Details["rule_id"])
			} else {
				assert.Empty(t, response.Details)
			}
		})
	}
}
