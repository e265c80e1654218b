package metering

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/repositories"
)

type tenantLedger struct {
	mu    sync.Mutex
	stats models.MeteringStats
}

// MemoryLedger keeps counters in process memory with one lock per tenant.
// It is only correct for a single gateway instance.
type MemoryLedger struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID]*tenantLedger
	now     func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		tenants: make(map[uuid.UUID]*tenantLedger),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryLedger) lookup(tenantID uuid.UUID) (*tenantLedger, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.tenants[tenantID]
	return t, ok
}

// Open implements Ledger
func (l *MemoryLedger) Open(_ context.Context, tenantID uuid.UUID, budget float64) (models.MeteringStats, error) {
	if t, ok := l.lookup(tenantID); ok {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.stats, nil
	}

	l.mu.Lock()
	t, ok := l.tenants[tenantID]
	if !ok {
		t = &tenantLedger{stats: newStats(tenantID, budget, l.now())}
		l.tenants[tenantID] = t
	}
	l.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats, nil
}

// Snapshot implements Ledger
func (l *MemoryLedger) Snapshot(_ context.Context, tenantID uuid.UUID) (models.MeteringStats, error) {
	return l.with(tenantID, func(*models.MeteringStats) {})
}

// Record implements Ledger
func (l *MemoryLedger) Record(_ context.Context, tenantID uuid.UUID, tokens int64, costPer1k float64) (models.MeteringStats, float64, error) {
	var cost float64
	stats, err := l.with(tenantID, func(s *models.MeteringStats) {
		*s, cost = RecordUsage(*s, tokens, costPer1k)
		s.UpdatedAt = l.now()
	})
	return stats, cost, err
}

// SetBudget implements Ledger
func (l *MemoryLedger) SetBudget(_ context.Context, tenantID uuid.UUID, budget float64) (models.MeteringStats, error) {
	return l.with(tenantID, func(s *models.MeteringStats) {
		s.Budget = budget
		s.BudgetRemaining = budget - s.TotalCost
		s.UpdatedAt = l.now()
	})
}

// Reset implements Ledger
func (l *MemoryLedger) Reset(_ context.Context, tenantID uuid.UUID) (models.MeteringStats, error) {
	return l.with(tenantID, func(s *models.MeteringStats) {
		*s = newStats(tenantID, s.Budget, l.now())
	})
}

// with runs fn on the tenant's counters under the tenant lock
func (l *MemoryLedger) with(tenantID uuid.UUID, fn func(*models.MeteringStats)) (models.MeteringStats, error) {
	t, ok := l.lookup(tenantID)
	if !ok {
		return models.MeteringStats{}, repositories.ErrNotFound
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.stats)
	return t.stats, nil
}
