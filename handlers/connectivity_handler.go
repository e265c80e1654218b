package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/middleware"
	"github.com/upb/agent-safe-grid/services/connectivity"
	"github.com/upb/agent-safe-grid/utils"
)

// ConnectionTester probes a provider with the supplied credentials
type ConnectionTester interface {
	Test(ctx context.Context, req connectivity.Request) connectivity.Result
}

// ConnectivityHandler handles provider connection tests. Responses use the
// bare result shape rather than the data envelope.
type ConnectivityHandler struct {
	tester ConnectionTester
	logger *zap.Logger
}

// NewConnectivityHandler creates a new ConnectivityHandler
func NewConnectivityHandler(tester ConnectionTester, logger *zap.Logger) *ConnectivityHandler {
	return &ConnectivityHandler{
		tester: tester,
		logger: logger,
	}
}

// HandleTestConnection handles POST /api/llm/test-connection
func (h *ConnectivityHandler) HandleTestConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req connectivity.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteJSON(w, http.StatusBadRequest, connectivity.Result{Error: "Invalid request body"})
		return
	}

	if req.Provider == "" {
		_ = utils.WriteJSON(w, http.StatusBadRequest, connectivity.Result{Error: "Provider type is required"})
		return
	}

	result := h.tester.Test(ctx, req)

	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadRequest
	}
	if err := utils.WriteJSON(w, status, result); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}
