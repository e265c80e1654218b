package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/middleware"
	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/services/gateway"
	"github.com/upb/agent-safe-grid/utils"
)

// ChatRequest is one user turn addressed to a provider
type ChatRequest struct {
	ProviderID        string               `json:"providerId" validate:"required"`
	SystemInstruction string               `json:"systemInstruction,omitempty"`
	History           []models.ChatMessage `json:"history,omitempty" validate:"omitempty,dive"`
	Message           string               `json:"message" validate:"required"`
	Permission        string               `json:"permission,omitempty"`
}

// ChatService runs a turn through the enforcement pipeline
type ChatService interface {
	Chat(ctx context.Context, req gateway.TurnRequest) (*gateway.TurnResult, error)
}

// ChatHandler handles chat turns
type ChatHandler struct {
	service ChatService
	logger  *zap.Logger
}

// NewChatHandler creates a new ChatHandler
func NewChatHandler(service ChatService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		service: service,
		logger:  logger,
	}
}

// HandleChat handles POST /api/v1/chat
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	tenantID, ok := requireTenant(w, r, h.logger)
	if !ok {
		return
	}

	var req ChatRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	turn := gateway.TurnRequest{
		TenantID:          tenantID,
		Country:           middleware.GetCountryFromContext(ctx),
		ProviderID:        req.ProviderID,
		SystemInstruction: req.SystemInstruction,
		History:           req.History,
		Message:           req.Message,
		Permission:        req.Permission,
		RequestID:         requestID,
	}
	if claims := middleware.GetClaimsFromContext(ctx); claims != nil {
		turn.UserID = claims.Subject
		turn.Role = claims.Role
	}

	h.logger.Debug("processing chat turn",
		zap.String("request_id", requestID),
		zap.String("tenant_id", tenantID.String()),
		zap.String("provider", req.ProviderID))

	result, err := h.service.Chat(ctx, turn)
	if err != nil {
		h.logger.Info("chat turn rejected",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("chat turn completed",
		zap.String("request_id", requestID),
		zap.String("provider", result.Message.Provider),
		zap.Int("tokens", result.Message.Tokens),
		zap.Float64("cost", result.Cost),
		zap.Bool("flagged", result.UserMessage.Flagged))

	if err := utils.WriteOK(w, result); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}
