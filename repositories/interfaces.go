package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/upb/agent-safe-grid/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrSequenceConflict is returned when an audit entry's sequence does
	// not directly follow the tenant's current head.
	ErrSequenceConflict = errors.New("audit sequence conflict")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Context() context.Context
}

// PolicyConfigRepository persists one PolicyConfig per tenant
type PolicyConfigRepository interface {
	// Get returns the tenant's policy or ErrNotFound
	Get(ctx context.Context, tenantID uuid.UUID) (*models.PolicyConfig, error)

	// Save creates or replaces the tenant's policy
	Save(ctx context.Context, tenantID uuid.UUID, cfg *models.PolicyConfig) error

	// ListTenants returns every tenant with a stored policy
	ListTenants(ctx context.Context) ([]uuid.UUID, error)
}

// AuditRepository is the append-only audit sink. Entries are never
// updated or deleted.
type AuditRepository interface {
	// Insert appends an entry. It fails with ErrSequenceConflict unless
	// entry.Sequence is exactly one past the tenant's last sequence.
	Insert(ctx context.Context, entry *models.AuditLogEntry) error

	// GetByID retrieves one tenant entry or ErrNotFound
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.AuditLogEntry, error)

	// List returns tenant entries in sequence order
	List(ctx context.Context, tenantID uuid.UUID, filter models.AuditFilter) ([]*models.AuditLogEntry, error)

	// Last returns the newest tenant entry, or nil when the log is empty
	Last(ctx context.Context, tenantID uuid.UUID) (*models.AuditLogEntry, error)
}

// LedgerRepository persists metering counters. Every mutation must be
// atomic per tenant.
type LedgerRepository interface {
	// Ensure creates the tenant row with the given budget if it is missing
	Ensure(ctx context.Context, tenantID uuid.UUID, budget float64) (*models.MeteringStats, error)

	// Get returns the tenant counters or ErrNotFound
	Get(ctx context.Context, tenantID uuid.UUID) (*models.MeteringStats, error)

	// Debit adds one request with its tokens and cost
	Debit(ctx context.Context, tenantID uuid.UUID, tokens int64, cost float64) (*models.MeteringStats, error)

	// SetBudget changes the budget and rebases the remaining balance
	SetBudget(ctx context.Context, tenantID uuid.UUID, budget float64) (*models.MeteringStats, error)

	// Reset zeroes the counters and restores the full budget
	Reset(ctx context.Context, tenantID uuid.UUID) (*models.MeteringStats, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Policies PolicyConfigRepository
	Audit    AuditRepository
	// Ledger is nil when metering does not use the relational store.
	Ledger LedgerRepository
}
