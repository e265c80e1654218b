// Package metering keeps per-tenant token and cost counters. The counters
// are a live balance: a debit is always applied, even when it drives the
// remaining budget below zero. Budget limits are enforced by BUDGET rules
// before the model is called, not here.
package metering

import (
	"context"
	"math"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/upb/agent-safe-grid/models"
)

// Ledger is the per-tenant metering store. Implementations serialize all
// mutations of one tenant so concurrent debits are never lost.
type Ledger interface {
	// Open creates the tenant's counters with budgetRemaining = budget when
	// they do not exist yet, and returns the current counters either way.
	Open(ctx context.Context, tenantID uuid.UUID, budget float64) (models.MeteringStats, error)

	// Snapshot returns the tenant's counters or repositories.ErrNotFound
	Snapshot(ctx context.Context, tenantID uuid.UUID) (models.MeteringStats, error)

	// Record debits one request and returns the new counters and its cost
	Record(ctx context.Context, tenantID uuid.UUID, tokens int64, costPer1k float64) (models.MeteringStats, float64, error)

	// SetBudget changes the budget; remaining becomes budget - totalCost
	SetBudget(ctx context.Context, tenantID uuid.UUID, budget float64) (models.MeteringStats, error)

	// Reset zeroes the counters and restores remaining to the budget
	Reset(ctx context.Context, tenantID uuid.UUID) (models.MeteringStats, error)
}

// Cost is the price of tokens at costPer1k per thousand tokens
func Cost(tokens int64, costPer1k float64) float64 {
	return float64(tokens) / 1000 * costPer1k
}

// RecordUsage applies one debit to stats and returns the new counters and
// the cost of the debit. It does not touch UpdatedAt or the budget.
func RecordUsage(stats models.MeteringStats, tokens int64, costPer1k float64) (models.MeteringStats, float64) {
	cost := Cost(tokens, costPer1k)
	stats.TotalRequests++
	stats.TotalTokens += tokens
	stats.TotalCost += cost
	stats.BudgetRemaining -= cost
	return stats, cost
}

// EstimateTokens approximates a token count as one token per four characters
func EstimateTokens(text string) int64 {
	n := utf8.RuneCountInString(text)
	return int64(math.Ceil(float64(n) / 4))
}

// ProjectedCost estimates the cost of a turn before the model is called:
// the prompt estimate plus a fixed completion allowance.
func ProjectedCost(text string, completionTokens int64, costPer1k float64) float64 {
	return Cost(EstimateTokens(text)+completionTokens, costPer1k)
}

func newStats(tenantID uuid.UUID, budget float64, now time.Time) models.MeteringStats {
	return models.MeteringStats{
		TenantID:        tenantID,
		Budget:          budget,
		BudgetRemaining: budget,
		UpdatedAt:       now,
	}
}
