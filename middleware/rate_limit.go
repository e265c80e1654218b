package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/services/ratelimit"
	"github.com/upb/agent-safe-grid/utils"
)

// RateLimiter counts a request against a scope
type RateLimiter interface {
	CheckLimit(ctx context.Context, scope string) (*ratelimit.RateLimitResult, error)
}

// RateLimitMiddleware caps requests per tenant
type RateLimitMiddleware struct {
	limiter RateLimiter
	logger  *zap.Logger
}

// NewRateLimitMiddleware creates a new RateLimitMiddleware
func NewRateLimitMiddleware(limiter RateLimiter, logger *zap.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		logger:  logger,
	}
}

// LimitTenant rejects requests once the tenant in context exceeds its limit.
// Must run after ExtractTenant. Limiter failures let the request through.
func (m *RateLimitMiddleware) LimitTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		tenantID := GetTenantIDFromContext(ctx)
		if tenantID == uuid.Nil {
			next.ServeHTTP(w, r)
			return
		}

		result, err := m.limiter.CheckLimit(ctx, "tenant:"+tenantID.String())
		if err != nil {
			m.logger.Error("rate limit check failed",
				zap.String("request_id", GetRequestIDFromContext(ctx)),
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		if result.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.RequestsRemaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
		}

		if !result.Allowed {
			retryAfter := int(time.Until(result.ResetAt).Seconds()) + 1
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			m.logger.Warn("rate limit exceeded",
				zap.String("request_id", GetRequestIDFromContext(ctx)),
				zap.String("tenant_id", tenantID.String()),
				zap.String("window", string(result.ViolatedWindow)))
			_ = utils.WriteTooManyRequests(w, "Too many requests, please try again later.", map[string]interface{}{
				"window": result.ViolatedWindow,
				"reason": result.ViolationReason,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
