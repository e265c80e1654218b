package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/repositories"
)

const ledgerColumns = `tenant_id, total_requests, total_tokens, total_cost, budget, budget_remaining, updated_at`

// LedgerRepository keeps metering counters in metering_ledger. Each
// mutation is a single UPDATE, so the row lock serializes concurrent
// turns for one tenant across every host.
type LedgerRepository struct {
	db     *DB
	tm     *TransactionManager
	logger *zap.Logger
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *DB, logger *zap.Logger) *LedgerRepository {
	return &LedgerRepository{
		db:     db,
		tm:     NewTransactionManager(db, logger),
		logger: logger,
	}
}

// Ensure creates the tenant row if it does not exist yet
func (r *LedgerRepository) Ensure(ctx context.Context, tenantID uuid.UUID, budget float64) (*models.MeteringStats, error) {
	query := `
		INSERT INTO metering_ledger (tenant_id, total_requests, total_tokens, total_cost, budget, budget_remaining, updated_at)
		VALUES ($1, 0, 0, 0, $2, $2, $3)
		ON CONFLICT (tenant_id) DO NOTHING
	`
	if _, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, tenantID, budget, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger: %w", err)
	}
	return r.Get(ctx, tenantID)
}

// Get returns the tenant counters
func (r *LedgerRepository) Get(ctx context.Context, tenantID uuid.UUID) (*models.MeteringStats, error) {
	query := `SELECT ` + ledgerColumns + ` FROM metering_ledger WHERE tenant_id = $1`
	return r.queryStats(ctx, query, tenantID)
}

// Debit records one request and appends a metering event in the same transaction
func (r *LedgerRepository) Debit(ctx context.Context, tenantID uuid.UUID, tokens int64, cost float64) (*models.MeteringStats, error) {
	var stats *models.MeteringStats

	err := r.tm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		now := time.Now().UTC()
		query := `
			UPDATE metering_ledger
			SET total_requests = total_requests + 1,
			    total_tokens = total_tokens + $2,
			    total_cost = total_cost + $3,
			    budget_remaining = budget_remaining - $3,
			    updated_at = $4
			WHERE tenant_id = $1
			RETURNING ` + ledgerColumns

		var err error
		stats, err = r.queryStats(ctx, query, tenantID, tokens, cost, now)
		if err != nil {
			return err
		}

		_, err = GetExecutor(ctx, r.db).ExecContext(ctx,
			`INSERT INTO metering_events (tenant_id, tokens, cost, created_at) VALUES ($1, $2, $3, $4)`,
			tenantID, tokens, cost, now,
		)
		if err != nil {
			return fmt.Errorf("failed to record metering event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("ledger debited",
		zap.String("tenant_id", tenantID.String()),
		zap.Int64("tokens", tokens),
		zap.Float64("cost", cost),
	)
	return stats, nil
}

// SetBudget changes the budget; remaining becomes budget minus spend so far
func (r *LedgerRepository) SetBudget(ctx context.Context, tenantID uuid.UUID, budget float64) (*models.MeteringStats, error) {
	query := `
		UPDATE metering_ledger
		SET budget = $2, budget_remaining = $2 - total_cost, updated_at = $3
		WHERE tenant_id = $1
		RETURNING ` + ledgerColumns
	return r.queryStats(ctx, query, tenantID, budget, time.Now().UTC())
}

// Reset starts a new budget period
func (r *LedgerRepository) Reset(ctx context.Context, tenantID uuid.UUID) (*models.MeteringStats, error) {
	query := `
		UPDATE metering_ledger
		SET total_requests = 0, total_tokens = 0, total_cost = 0,
		    budget_remaining = budget, updated_at = $2
		WHERE tenant_id = $1
		RETURNING ` + ledgerColumns
	return r.queryStats(ctx, query, tenantID, time.Now().UTC())
}

func (r *LedgerRepository) queryStats(ctx context.Context, query string, args ...interface{}) (*models.MeteringStats, error) {
	stats := &models.MeteringStats{}
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, args...).Scan(
		&stats.TenantID,
		&stats.TotalRequests,
		&stats.TotalTokens,
		&stats.TotalCost,
		&stats.Budget,
		&stats.BudgetRemaining,
		&stats.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	return stats, nil
}
