package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/middleware"
	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/services/audit"
	"github.com/upb/agent-safe-grid/utils"
)

// maxAuditPage caps a single listing
const maxAuditPage = 1000

// AuditService reads and verifies a tenant's audit log
type AuditService interface {
	List(ctx context.Context, tenantID uuid.UUID, filter models.AuditFilter) ([]*models.AuditLogEntry, error)
	Verify(ctx context.Context, tenantID, entryID uuid.UUID, content string) (*models.AuditLogEntry, error)
	VerifyChain(ctx context.Context, tenantID uuid.UUID) (int, error)
}

// VerifyRequest carries the content an entry was signed over
type VerifyRequest struct {
	Content string `json:"content"`
}

// VerifyResponse reports a successful verification
type VerifyResponse struct {
	Valid   bool                  `json:"valid"`
	Entry   *models.AuditLogEntry `json:"entry,omitempty"`
	Entries int                   `json:"entries,omitempty"`
}

// AuditHandler handles audit log requests
type AuditHandler struct {
	service AuditService
	logger  *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(service AuditService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		service: service,
		logger:  logger,
	}
}

// parseFilter reads action, status, limit and offset from the query string
func parseFilter(r *http.Request) (models.AuditFilter, error) {
	q := r.URL.Query()
	filter := models.AuditFilter{
		Action: q.Get("action"),
		Status: models.AuditStatus(q.Get("status")),
	}

	switch filter.Status {
	case "", models.AuditStatusSuccess, models.AuditStatusViolation, models.AuditStatusError:
	default:
		return filter, fmt.Errorf("invalid status %q", filter.Status)
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid limit %q", v)
		}
		filter.Limit = n
	}
	if filter.Limit == 0 || filter.Limit > maxAuditPage {
		filter.Limit = maxAuditPage
	}

	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid offset %q", v)
		}
		filter.Offset = n
	}
	return filter, nil
}

// HandleList handles GET /api/v1/audit
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r, h.logger)
	if !ok {
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	entries, err := h.service.List(r.Context(), tenantID, filter)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, entries)
}

// HandleExport handles GET /api/v1/audit/export
func (h *AuditHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, ok := requireTenant(w, r, h.logger)
	if !ok {
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	// Exports are not paged
	filter.Limit, filter.Offset = 0, 0

	entries, err := h.service.List(ctx, tenantID, filter)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	filename := fmt.Sprintf("audit_log_%s.csv", time.Now().UTC().Format("20060102"))
	utils.WriteAttachment(w, "text/csv", filename)

	if err := audit.ExportCSV(w, entries); err != nil {
		h.logger.Error("failed to write audit export",
			zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
			zap.Error(err))
	}
}

// HandleVerify handles POST /api/v1/audit/{id}/verify
func (h *AuditHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, ok := requireTenant(w, r, h.logger)
	if !ok {
		return
	}

	entryID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid audit entry ID", nil)
		return
	}

	var req VerifyRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	entry, err := h.service.Verify(ctx, tenantID, entryID, req.Content)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, VerifyResponse{Valid: true, Entry: entry})
}

// HandleVerifyChain handles GET /api/v1/audit/verify
func (h *AuditHandler) HandleVerifyChain(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r, h.logger)
	if !ok {
		return
	}

	n, err := h.service.VerifyChain(r.Context(), tenantID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, VerifyResponse{Valid: true, Entries: n})
}
