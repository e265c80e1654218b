package metering

import (
	"context"

	"github.com/google/uuid"

	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/repositories"
)

// StoreLedger keeps counters in a LedgerRepository, which does the
// per-tenant locking in the database
type StoreLedger struct {
	repo repositories.LedgerRepository
}

// NewStoreLedger creates a ledger over repo
func NewStoreLedger(repo repositories.LedgerRepository) *StoreLedger {
	return &StoreLedger{repo: repo}
}

// Open implements Ledger
func (l *StoreLedger) Open(ctx context.Context, tenantID uuid.UUID, budget float64) (models.MeteringStats, error) {
	return deref(l.repo.Ensure(ctx, tenantID, budget))
}

// Snapshot implements Ledger
func (l *StoreLedger) Snapshot(ctx context.Context, tenantID uuid.UUID) (models.MeteringStats, error) {
	return deref(l.repo.Get(ctx, tenantID))
}

// Record implements Ledger
func (l *StoreLedger) Record(ctx context.Context, tenantID uuid.UUID, tokens int64, costPer1k float64) (models.MeteringStats, float64, error) {
	cost := Cost(tokens, costPer1k)
	stats, err := deref(l.repo.Debit(ctx, tenantID, tokens, cost))
	if err != nil {
		return models.MeteringStats{}, 0, err
	}
	return stats, cost, nil
}

// SetBudget implements Ledger
func (l *StoreLedger) SetBudget(ctx context.Context, tenantID uuid.UUID, budget float64) (models.MeteringStats, error) {
	return deref(l.repo.SetBudget(ctx, tenantID, budget))
}

// Reset implements Ledger
func (l *StoreLedger) Reset(ctx context.Context, tenantID uuid.UUID) (models.MeteringStats, error) {
	return deref(l.repo.Reset(ctx, tenantID))
}

func deref(stats *models.MeteringStats, err error) (models.MeteringStats, error) {
	if err != nil {
		return models.MeteringStats{}, err
	}
	return *stats, nil
}
