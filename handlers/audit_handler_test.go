package handlers

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/auth"
	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/repositories/memory"
	"github.com/upb/agent-safe-grid/services/audit"
)

func newAuditFixture(t *testing.T) (*AuditHandler, uuid.UUID, []*models.AuditLogEntry) {
	t.Helper()
	recorder := audit.NewRecorder(memory.NewAuditRepository(), audit.NewSigner("test-salt", true), zap.NewNop(), nil)
	tenantID := uuid.New()

	inputs := []audit.EntryInput{
		{Action: models.ActionPIIRedaction, User: "alice", Details: "Redacted sensitive data in prompt", Status: models.AuditStatusViolation, SigningInput: "email me at a@b.com"},
		{Action: models.ActionModelInference, User: "OpenAI", Details: "Generated 40 tokens via gpt-4o", Status: models.AuditStatusSuccess, SigningInput: "sure, noted"},
		{Action: models.ActionModelError, User: "OpenAI", Details: "Model call to OpenAI failed", Status: models.AuditStatusError},
	}
	entries := make([]*models.AuditLogEntry, 0, len(inputs))
	for _, in := range inputs {
		e, err := recorder.Record(context.Background(), tenantID, in)
		require.NoError(t, err)
		entries = append(entries, e)
	}

	// Another tenant's entries must never leak
	_, err := recorder.Record(context.Background(), uuid.New(), inputs[0])
	require.NoError(t, err)

	return NewAuditHandler(recorder, zap.NewNop()), tenantID, entries
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestAuditHandler_List(t *testing.T) {
	handler, tenantID, _ := newAuditFixture(t)

	tests := []struct {
		name    string
		query   string
		want    int
		wantErr bool
	}{
		{name: "all", query: "", want: 3},
		{name: "by action", query: "?action=MODEL_INFERENCE", want: 1},
		{name: "by status", query: "?status=violation", want: 1},
		{name: "paged", query: "?limit=2&offset=2", want: 1},
		{name: "bad status", query: "?status=weird", wantErr: true},
		{name: "bad limit", query: "?limit=-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withTenant(httptest.NewRequest(http.MethodGet, "/api/v1/audit"+tt.query, nil), tenantID, auth.RoleUser)
			w := httptest.NewRecorder()
			handler.HandleList(w, req)

			if tt.wantErr {
				assert.Equal(t, http.StatusBadRequest, w.Code)
				return
			}
			require.Equal(t, http.StatusOK, w.Code)
			var response struct {
				Data []models.AuditLogEntry `json:"data"`
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Len(t, response.Data, tt.want)
			for _, e := range response.Data {
				assert.Equal(t, tenantID, e.TenantID)
			}
		})
	}
}

func TestAuditHandler_Export(t *testing.T) {
	handler, tenantID, entries := newAuditFixture(t)

	req := withTenant(httptest.NewRequest(http.MethodGet, "/api/v1/audit/export?limit=1", nil), tenantID, auth.RoleUser)
	w := httptest.NewRecorder()
	handler.HandleExport(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")

	rows, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, len(entries)+1)
	assert.Equal(t, []string{"id", "timestamp", "action", "user", "status", "details", "hash"}, rows[0])
	assert.Equal(t, entries[0].ID.String(), rows[1][0])
	assert.Equal(t, entries[0].Hash, rows[1][6])
}

func TestAuditHandler_Verify(t *testing.T) {
	handler, tenantID, entries := newAuditFixture(t)

	verify := func(id, content string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(VerifyRequest{Content: content})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/audit/"+id+"/verify", bytes.NewReader(body))
		req = withURLParam(withTenant(req, tenantID, auth.RoleUser), "id", id)
		w := httptest.NewRecorder()
		handler.HandleVerify(w, req)
		return w
	}

	t.Run("matching content", func(t *testing.T) {
		w := verify(entries[1].ID.String(), "sure, noted")
		require.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data VerifyResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.True(t, response.Data.Valid)
		assert.Equal(t, entries[1].Hash, response.Data.Entry.Hash)
	})

	t.Run("tampered content", func(t *testing.T) {
		w := verify(entries[1].ID.String(), "sure, noted!")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), entries[1].ID.String())
	})

	t.Run("details are the default signing input", func(t *testing.T) {
		w := verify(entries[2].ID.String(), "Model call to OpenAI failed")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unknown entry", func(t *testing.T) {
		w := verify(uuid.NewString(), "x")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		w := verify("not-a-uuid", "x")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuditHandler_VerifyChain(t *testing.T) {
	handler, tenantID, entries := newAuditFixture(t)

	req := withTenant(httptest.NewRequest(http.MethodGet, "/api/v1/audit/verify", nil), tenantID, auth.RoleUser)
	w := httptest.NewRecorder()
	handler.HandleVerifyChain(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var response struct {
		Data VerifyResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.True(t, response.Data.Valid)
	assert.Equal(t, len(entries), response.Data.Entries)
}
