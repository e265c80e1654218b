package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/repositories"
)

// PolicyRepository stores each tenant's PolicyConfig as a JSONB document
type PolicyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *DB, logger *zap.Logger) *PolicyRepository {
	return &PolicyRepository{
		db:     db,
		logger: logger,
	}
}

// Get returns the tenant's policy
func (r *PolicyRepository) Get(ctx context.Context, tenantID uuid.UUID) (*models.PolicyConfig, error) {
	query := `SELECT config, updated_at FROM tenant_policies WHERE tenant_id = $1`

	var (
		raw       []byte
		updatedAt time.Time
	)
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, tenantID).Scan(&raw, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}

	cfg := &models.PolicyConfig{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode policy for tenant %s: %w", tenantID, err)
	}
	cfg.UpdatedAt = updatedAt
	return cfg, nil
}

// Save upserts the tenant's policy
func (r *PolicyRepository) Save(ctx context.Context, tenantID uuid.UUID, cfg *models.PolicyConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}

	query := `
		INSERT INTO tenant_policies (tenant_id, config, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id) DO UPDATE
		SET config = EXCLUDED.config, updated_at = EXCLUDED.updated_at
	`
	if _, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, tenantID, raw, cfg.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}

	r.logger.Debug("policy saved",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("rules", len(cfg.AdvancedRules)),
	)
	return nil
}

// ListTenants returns every tenant with a stored policy
func (r *PolicyRepository) ListTenants(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, `SELECT tenant_id FROM tenant_policies ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}
