// Package handlers holds the thin HTTP handlers. Each one decodes the
// request, calls one service and maps domain errors with HandleServiceError.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/middleware"
	"github.com/upb/agent-safe-grid/utils"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

// requireTenant returns the tenant resolved by the auth middleware, or
// writes 401 and returns false
func requireTenant(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	tenantID := middleware.GetTenantIDFromContext(r.Context())
	if tenantID == uuid.Nil {
		logger.Error("missing tenant ID in context",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())))
		_ = utils.WriteUnauthorized(w, "Missing tenant information")
		return uuid.Nil, false
	}
	return tenantID, true
}

// decodeBody decodes and validates a JSON body into dst. On failure it
// writes 400 and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, logger *zap.Logger) bool {
	requestID := middleware.GetRequestIDFromContext(r.Context())

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return false
	}

	if err := utils.ValidateStruct(dst); err != nil {
		logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, logger)
		return false
	}
	return true
}
