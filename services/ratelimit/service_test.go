package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingCounter struct{}

func (failingCounter) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func newTestService(limits Limits, now time.Time) (*RateLimitService, *MemoryCounter) {
	counter := NewMemoryCounter()
	counter.now = func() time.Time { return now }
	service := NewRateLimitService(counter, limits, zap.NewNop())
	service.now = func() time.Time { return now }
	return service, counter
}

func TestGetWindowBounds(t *testing.T) {
	now := time.Date(2024, 1, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		window    RateLimitWindow
		wantStart time.Time
		wantReset time.Time
	}{
		{WindowMinute, time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC), time.Date(2024, 1, 15, 14, 31, 0, 0, time.UTC)},
		{WindowHour, time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC), time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC)},
		{WindowDay, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(string(tt.window), func(t *testing.T) {
			start, reset := getWindowBounds(now, tt.window)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantReset, reset)
		})
	}
}

func TestRateLimitService_CheckLimit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 14, 30, 45, 0, time.UTC)

	t.Run("no limits allows everything", func(t *testing.T) {
		service, _ := newTestService(Limits{}, now)
		for i := 0; i < 5; i++ {
			result, err := service.CheckLimit(ctx, "tenant-a")
			require.NoError(t, err)
			assert.True(t, result.Allowed)
		}
	})

	t.Run("minute limit", func(t *testing.T) {
		service, _ := newTestService(Limits{RequestsPerMinute: 2}, now)

		result, err := service.CheckLimit(ctx, "tenant-a")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 1, result.RequestsRemaining)
		assert.Equal(t, 2, result.Limit)

		result, err = service.CheckLimit(ctx, "tenant-a")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 0, result.RequestsRemaining)

		result, err = service.CheckLimit(ctx, "tenant-a")
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, WindowMinute, result.ViolatedWindow)
		assert.Equal(t, "exceeded 2 requests per minute", result.ViolationReason)
		assert.Equal(t, time.Date(2024, 1, 15, 14, 31, 0, 0, time.UTC), result.ResetAt)
	})

	t.Run("scopes are independent", func(t *testing.T) {
		service, _ := newTestService(Limits{RequestsPerMinute: 1}, now)

		result, err := service.CheckLimit(ctx, "tenant-a")
		require.NoError(t, err)
		assert.True(t, result.Allowed)

		result, err = service.CheckLimit(ctx, "tenant-b")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	})

	t.Run("next window starts fresh", func(t *testing.T) {
		service, counter := newTestService(Limits{RequestsPerMinute: 1}, now)

		_, err := service.CheckLimit(ctx, "tenant-a")
		require.NoError(t, err)
		result, err := service.CheckLimit(ctx, "tenant-a")
		require.NoError(t, err)
		assert.False(t, result.Allowed)

		later := now.Add(time.Minute)
		service.now = func() time.Time { return later }
		counter.now = func() time.Time { return later }

		result, err = service.CheckLimit(ctx, "tenant-a")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	})

	t.Run("hour limit reported when tighter", func(t *testing.T) {
		service, _ := newTestService(Limits{RequestsPerMinute: 10, RequestsPerHour: 1}, now)

		result, err := service.CheckLimit(ctx, "tenant-a")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 1, result.Limit)
		assert.Equal(t, 0, result.RequestsRemaining)

		result, err = service.CheckLimit(ctx, "tenant-a")
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, WindowHour, result.ViolatedWindow)
	})

	t.Run("day limit", func(t *testing.T) {
		service, _ := newTestService(Limits{RequestsPerDay: 1}, now)

		_, err := service.CheckLimit(ctx, "tenant-a")
		require.NoError(t, err)
		result, err := service.CheckLimit(ctx, "tenant-a")
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, WindowDay, result.ViolatedWindow)
	})

	t.Run("counter error", func(t *testing.T) {
		service := NewRateLimitService(failingCounter{}, Limits{RequestsPerMinute: 1}, zap.NewNop())

		result, err := service.CheckLimit(ctx, "tenant-a")
		assert.Error(t, err)
		assert.Nil(t, result)
		assert.Contains(t, err.Error(), "failed to check minute window")
	})
}

func TestMemoryCounter_CleanupExpired(t *testing.T) {
	now := time.Now()
	counter := NewMemoryCounter()
	counter.now = func() time.Time { return now }

	_, err := counter.Incr(context.Background(), "short", time.Second)
	require.NoError(t, err)
	_, err = counter.Incr(context.Background(), "long", time.Hour)
	require.NoError(t, err)

	counter.now = func() time.Time { return now.Add(time.Minute) }
	assert.Equal(t, 1, counter.CleanupExpired())
	assert.Len(t, counter.entries, 1)
}

func TestMemoryCounter_CleanupWorkerStops(t *testing.T) {
	counter := NewMemoryCounter()
	stopCh := make(chan struct{})
	done := make(chan struct{})

	go func() {
		counter.StartCleanupWorker(10*time.Millisecond, stopCh)
		close(done)
	}()

	close(stopCh)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup worker did not stop")
	}
}

func TestRedisCounter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	counter := NewRedisCounter(client, "test:rl:")

	n, err := counter.Incr(ctx, "tenant-a:minute:1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = counter.Incr(ctx, "tenant-a:minute:1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.True(t, mr.Exists("test:rl:tenant-a:minute:1"))
	assert.Equal(t, time.Minute, mr.TTL("test:rl:tenant-a:minute:1"))

	mr.FastForward(time.Minute)
	assert.False(t, mr.Exists("test:rl:tenant-a:minute:1"))

	n, err = counter.Incr(ctx, "tenant-a:minute:1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisCounter_SharedAcrossServices(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	limits := Limits{RequestsPerMinute: 1}
	first := NewRateLimitService(NewRedisCounter(client, ""), limits, zap.NewNop())
	second := NewRateLimitService(NewRedisCounter(client, ""), limits, zap.NewNop())
	now := time.Date(2024, 1, 15, 14, 30, 45, 0, time.UTC)
	first.now = func() time.Time { return now }
	second.now = func() time.Time { return now }

	result, err := first.CheckLimit(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	result, err = second.CheckLimit(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}
