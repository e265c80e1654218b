package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RateLimitWindow represents the time window for rate limiting
type RateLimitWindow string

const (
	WindowMinute RateLimitWindow = "minute"
	WindowHour   RateLimitWindow = "hour"
	WindowDay    RateLimitWindow = "day"
)

// Limits caps the requests a scope may make per window. Zero disables a window.
type Limits struct {
	RequestsPerMinute int
	RequestsPerHour   int
	RequestsPerDay    int
}

// Enabled reports whether any window is limited
func (l Limits) Enabled() bool {
	return l.RequestsPerMinute > 0 || l.RequestsPerHour > 0 || l.RequestsPerDay > 0
}

// RateLimitResult represents the result of a rate limit check
type RateLimitResult struct {
	Allowed           bool
	Limit             int
	RequestsRemaining int
	ResetAt           time.Time
	ViolatedWindow    RateLimitWindow
	ViolationReason   string
}

// Counter increments a fixed-window counter. The key expires after ttl
// counted from its first increment.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RateLimitService counts requests per scope in fixed minute, hour and day windows
type RateLimitService struct {
	counter Counter
	limits  Limits
	logger  *zap.Logger
	now     func() time.Time
}

// NewRateLimitService creates a new RateLimitService instance
func NewRateLimitService(counter Counter, limits Limits, logger *zap.Logger) *RateLimitService {
	return &RateLimitService{
		counter: counter,
		limits:  limits,
		logger:  logger,
		now:     time.Now,
	}
}

type windowLimit struct {
	window RateLimitWindow
	limit  int
}

// CheckLimit records one request for scope and reports whether it fits every
// configured window. Windows are checked smallest first and the first
// violation wins.
func (s *RateLimitService) CheckLimit(ctx context.Context, scope string) (*RateLimitResult, error) {
	if !s.limits.Enabled() {
		return &RateLimitResult{Allowed: true, RequestsRemaining: -1}, nil
	}

	now := s.now().UTC()
	result := &RateLimitResult{Allowed: true, RequestsRemaining: -1}

	for _, wl := range []windowLimit{
		{WindowMinute, s.limits.RequestsPerMinute},
		{WindowHour, s.limits.RequestsPerHour},
		{WindowDay, s.limits.RequestsPerDay},
	} {
		if wl.limit <= 0 {
			continue
		}

		windowStart, resetAt := getWindowBounds(now, wl.window)
		key := buildWindowKey(scope, wl.window, windowStart)

		count, err := s.counter.Incr(ctx, key, resetAt.Sub(now))
		if err != nil {
			return nil, fmt.Errorf("failed to check %s window: %w", wl.window, err)
		}

		remaining := wl.limit - int(count)
		if remaining < 0 {
			s.logger.Debug("rate limit exceeded",
				zap.String("scope", scope),
				zap.String("window", string(wl.window)),
				zap.Int("limit", wl.limit))
			return &RateLimitResult{
				Allowed:           false,
				Limit:             wl.limit,
				RequestsRemaining: 0,
				ResetAt:           resetAt,
				ViolatedWindow:    wl.window,
				ViolationReason:   fmt.Sprintf("exceeded %d requests per %s", wl.limit, wl.window),
			}, nil
		}

		// Report the tightest window
		if result.RequestsRemaining < 0 || remaining < result.RequestsRemaining {
			result.Limit = wl.limit
			result.RequestsRemaining = remaining
			result.ResetAt = resetAt
		}
	}

	return result, nil
}

// getWindowBounds returns the start of the fixed window containing now and
// the moment it resets
func getWindowBounds(now time.Time, window RateLimitWindow) (start, reset time.Time) {
	var size time.Duration
	switch window {
	case WindowHour:
		size = time.Hour
	case WindowDay:
		size = 24 * time.Hour
	default:
		size = time.Minute
	}
	start = now.Truncate(size)
	return start, start.Add(size)
}

func buildWindowKey(scope string, window RateLimitWindow, start time.Time) string {
	return fmt.Sprintf("%s:%s:%d", scope, window, start.Unix())
}
