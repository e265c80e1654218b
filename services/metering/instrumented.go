package metering

import (
	"context"

	"github.com/google/uuid"

	"github.com/upb/agent-safe-grid/internal/observability"
	"github.com/upb/agent-safe-grid/models"
)

type instrumented struct {
	Ledger
	metrics *observability.Metrics
}

// WithMetrics wraps l so successful debits feed the token and cost counters
func WithMetrics(l Ledger, m *observability.Metrics) Ledger {
	if m == nil {
		return l
	}
	return &instrumented{Ledger: l, metrics: m}
}

func (i *instrumented) Record(ctx context.Context, tenantID uuid.UUID, tokens int64, costPer1k float64) (models.MeteringStats, float64, error) {
	stats, cost, err := i.Ledger.Record(ctx, tenantID, tokens, costPer1k)
	if err == nil {
		i.metrics.RecordUsage(tokens, cost)
	}
	return stats, cost, err
}
