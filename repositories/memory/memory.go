// Package memory provides process-local repository implementations used
// when STORAGE_BACKEND=memory and in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/repositories"
)

// PolicyRepository keeps one PolicyConfig per tenant in a map
type PolicyRepository struct {
	mu       sync.RWMutex
	policies map[uuid.UUID]*models.PolicyConfig
}

// NewPolicyRepository creates an empty policy repository
func NewPolicyRepository() *PolicyRepository {
	return &PolicyRepository{policies: make(map[uuid.UUID]*models.PolicyConfig)}
}

// Get returns a copy of the tenant's policy
func (r *PolicyRepository) Get(_ context.Context, tenantID uuid.UUID) (*models.PolicyConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.policies[tenantID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return cfg.Clone(), nil
}

// Save stores a copy of cfg
func (r *PolicyRepository) Save(_ context.Context, tenantID uuid.UUID, cfg *models.PolicyConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.policies[tenantID] = cfg.Clone()
	return nil
}

// ListTenants returns tenants in a stable order
func (r *PolicyRepository) ListTenants(_ context.Context) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenants := make([]uuid.UUID, 0, len(r.policies))
	for id := range r.policies {
		tenants = append(tenants, id)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].String() < tenants[j].String() })
	return tenants, nil
}

// AuditRepository is an append-only slice per tenant
type AuditRepository struct {
	mu      sync.RWMutex
	entries map[uuid.UUID][]*models.AuditLogEntry
}

// NewAuditRepository creates an empty audit repository
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{entries: make(map[uuid.UUID][]*models.AuditLogEntry)}
}

// Insert appends a copy of entry when its sequence follows the tenant head
func (r *AuditRepository) Insert(_ context.Context, entry *models.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.entries[entry.TenantID]
	head := int64(len(log))
	if entry.Sequence != head+1 {
		return fmt.Errorf("%w: have %d, got %d", repositories.ErrSequenceConflict, head, entry.Sequence)
	}

	stored := *entry
	r.entries[entry.TenantID] = append(log, &stored)
	return nil
}

// GetByID finds one tenant entry
func (r *AuditRepository) GetByID(_ context.Context, tenantID, id uuid.UUID) (*models.AuditLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries[tenantID] {
		if e.ID == id {
			found := *e
			return &found, nil
		}
	}
	return nil, repositories.ErrNotFound
}

// List filters the tenant log in sequence order
func (r *AuditRepository) List(_ context.Context, tenantID uuid.UUID, filter models.AuditFilter) ([]*models.AuditLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*models.AuditLogEntry, 0)
	for _, e := range r.entries[tenantID] {
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		c := *e
		matched = append(matched, &c)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*models.AuditLogEntry{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Last returns the newest tenant entry or nil
func (r *AuditRepository) Last(_ context.Context, tenantID uuid.UUID) (*models.AuditLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	log := r.entries[tenantID]
	if len(log) == 0 {
		return nil, nil
	}
	last := *log[len(log)-1]
	return &last, nil
}

// NewRepositories bundles the in-memory repositories. Ledger stays nil;
// the metering package carries its own in-memory ledger.
func NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Policies: NewPolicyRepository(),
		Audit:    NewAuditRepository(),
	}
}
