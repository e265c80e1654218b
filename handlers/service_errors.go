package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/repositories"
	"github.com/upb/agent-safe-grid/services"
	"github.com/upb/agent-safe-grid/utils"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)

	var writeErr error
	switch {
	case services.IsNotFoundError(err), errors.Is(err, repositories.ErrNotFound):
		writeErr = utils.WriteNotFound(w, err.Error())

	case services.IsConfigurationError(err):
		writeErr = utils.WriteConfigurationError(w, err.Error(), details)

	case services.IsValidationError(err), utils.IsValidationError(err):
		HandleValidationError(w, err, logger)
		return

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w, err.Error())

	case services.IsForbiddenError(err):
		writeErr = utils.WriteForbidden(w, err.Error())

	case services.IsPolicyViolation(err):
		// A block is a refusal, not a fault
		writeErr = utils.WritePolicyViolation(w, err.Error(), details)

	case services.IsUpstreamError(err):
		logger.Warn("upstream provider error", zap.Error(err))
		writeErr = utils.WriteBadGateway(w, err.Error(), details)

	case services.IsIntegrityError(err):
		logger.Warn("audit integrity check failed", zap.Error(err))
		writeErr = utils.WriteConflict(w, err.Error(), details)

	case services.IsConflictError(err):
		writeErr = utils.WriteConflict(w, err.Error(), details)

	default:
		logger.Error("internal server error",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), services.GetErrorDetails(err)); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
