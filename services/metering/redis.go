package metering

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/config"
	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/repositories"
)

// Hash fields of a tenant ledger key
var ledgerFields = []string{"requests", "tokens", "cost", "budget", "remaining", "updated_at"}

const notFoundReply = "LEDGER_NOT_FOUND"

// Every mutation is one script so it runs atomically on the server. All
// scripts return the HMGET of ledgerFields.
var (
	openScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('HSET', KEYS[1], 'requests', 0, 'tokens', 0, 'cost', 0,
    'budget', ARGV[1], 'remaining', ARGV[1], 'updated_at', ARGV[2])
end
return redis.call('HMGET', KEYS[1], 'requests', 'tokens', 'cost', 'budget', 'remaining', 'updated_at')
`)

	debitScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return redis.error_reply('LEDGER_NOT_FOUND')
end
redis.call('HINCRBY', KEYS[1], 'requests', 1)
redis.call('HINCRBY', KEYS[1], 'tokens', ARGV[1])
redis.call('HINCRBYFLOAT', KEYS[1], 'cost', ARGV[2])
redis.call('HINCRBYFLOAT', KEYS[1], 'remaining', '-' .. ARGV[2])
redis.call('HSET', KEYS[1], 'updated_at', ARGV[3])
return redis.call('HMGET', KEYS[1], 'requests', 'tokens', 'cost', 'budget', 'remaining', 'updated_at')
`)

	setBudgetScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return redis.error_reply('LEDGER_NOT_FOUND')
end
local cost = tonumber(redis.call('HGET', KEYS[1], 'cost'))
local budget = tonumber(ARGV[1])
redis.call('HSET', KEYS[1], 'budget', ARGV[1], 'remaining', tostring(budget - cost), 'updated_at', ARGV[2])
return redis.call('HMGET', KEYS[1], 'requests', 'tokens', 'cost', 'budget', 'remaining', 'updated_at')
`)

	resetScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return redis.error_reply('LEDGER_NOT_FOUND')
end
local budget = redis.call('HGET', KEYS[1], 'budget')
redis.call('HSET', KEYS[1], 'requests', 0, 'tokens', 0, 'cost', 0, 'remaining', budget, 'updated_at', ARGV[1])
return redis.call('HMGET', KEYS[1], 'requests', 'tokens', 'cost', 'budget', 'remaining', 'updated_at')
`)
)

// RedisLedger stores each tenant's counters in one Redis hash so every
// gateway instance shares them
type RedisLedger struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    *zap.Logger
	now       func() time.Time
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", cfg.Addr, err)
	}
	return client, nil
}

// NewRedisLedger creates a ledger over client. Keys are keyPrefix + tenant id.
func NewRedisLedger(client redis.UniversalClient, keyPrefix string, logger *zap.Logger) *RedisLedger {
	if keyPrefix == "" {
		keyPrefix = "asg:ledger:"
	}
	return &RedisLedger{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (l *RedisLedger) key(tenantID uuid.UUID) string {
	return l.keyPrefix + tenantID.String()
}

func (l *RedisLedger) stamp() string {
	return strconv.FormatInt(l.now().UnixMilli(), 10)
}

// Open implements Ledger
func (l *RedisLedger) Open(ctx context.Context, tenantID uuid.UUID, budget float64) (models.MeteringStats, error) {
	res, err := openScript.Run(ctx, l.client, []string{l.key(tenantID)}, formatFloat(budget), l.stamp()).Result()
	return l.result(tenantID, "open", res, err)
}

// Snapshot implements Ledger
func (l *RedisLedger) Snapshot(ctx context.Context, tenantID uuid.UUID) (models.MeteringStats, error) {
	vals, err := l.client.HMGet(ctx, l.key(tenantID), ledgerFields...).Result()
	if err != nil {
		return models.MeteringStats{}, fmt.Errorf("failed to read ledger: %w", err)
	}
	if vals[0] == nil {
		return models.MeteringStats{}, repositories.ErrNotFound
	}
	return parseLedger(tenantID, vals)
}

// Record implements Ledger
func (l *RedisLedger) Record(ctx context.Context, tenantID uuid.UUID, tokens int64, costPer1k float64) (models.MeteringStats, float64, error) {
	cost := Cost(tokens, costPer1k)
	res, err := debitScript.Run(ctx, l.client, []string{l.key(tenantID)}, tokens, formatFloat(cost), l.stamp()).Result()
	stats, err := l.result(tenantID, "debit", res, err)
	if err != nil {
		return models.MeteringStats{}, 0, err
	}
	return stats, cost, nil
}

// SetBudget implements Ledger
func (l *RedisLedger) SetBudget(ctx context.Context, tenantID uuid.UUID, budget float64) (models.MeteringStats, error) {
	res, err := setBudgetScript.Run(ctx, l.client, []string{l.key(tenantID)}, formatFloat(budget), l.stamp()).Result()
	return l.result(tenantID, "set budget", res, err)
}

// Reset implements Ledger
func (l *RedisLedger) Reset(ctx context.Context, tenantID uuid.UUID) (models.MeteringStats, error) {
	res, err := resetScript.Run(ctx, l.client, []string{l.key(tenantID)}, l.stamp()).Result()
	return l.result(tenantID, "reset", res, err)
}

func (l *RedisLedger) result(tenantID uuid.UUID, op string, res interface{}, err error) (models.MeteringStats, error) {
	if err != nil {
		if strings.Contains(err.Error(), notFoundReply) {
			return models.MeteringStats{}, repositories.ErrNotFound
		}
		l.logger.Error("redis ledger script failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("op", op),
			zap.Error(err))
		return models.MeteringStats{}, fmt.Errorf("failed to %s ledger: %w", op, err)
	}
	vals, ok := res.([]interface{})
	if !ok {
		return models.MeteringStats{}, fmt.Errorf("unexpected ledger reply %T", res)
	}
	return parseLedger(tenantID, vals)
}

func parseLedger(tenantID uuid.UUID, vals []interface{}) (models.MeteringStats, error) {
	if len(vals) != len(ledgerFields) {
		return models.MeteringStats{}, fmt.Errorf("ledger reply has %d fields, want %d", len(vals), len(ledgerFields))
	}

	str := make([]string, len(vals))
	for i, v := range vals {
		switch t := v.(type) {
		case string:
			str[i] = t
		case nil:
			str[i] = "0"
		default:
			str[i] = fmt.Sprint(t)
		}
	}

	var (
		stats = models.MeteringStats{TenantID: tenantID}
		errs  []error
		ms    int64
	)
	parseInt := func(s string, dst *int64) {
		v, err := strconv.ParseInt(s, 10, 64)
		errs = append(errs, err)
		*dst = v
	}
	parseFloat := func(s string, dst *float64) {
		v, err := strconv.ParseFloat(s, 64)
		errs = append(errs, err)
		*dst = v
	}
	parseInt(str[0], &stats.TotalRequests)
	parseInt(str[1], &stats.TotalTokens)
	parseFloat(str[2], &stats.TotalCost)
	parseFloat(str[3], &stats.Budget)
	parseFloat(str[4], &stats.BudgetRemaining)
	parseInt(str[5], &ms)

	if err := errors.Join(errs...); err != nil {
		return models.MeteringStats{}, fmt.Errorf("corrupt ledger for tenant %s: %w", tenantID, err)
	}
	stats.UpdatedAt = time.UnixMilli(ms).UTC()
	return stats, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
