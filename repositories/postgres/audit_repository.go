package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/repositories"
)

const auditColumns = `id, tenant_id, sequence, timestamp, action, user_name, details,
		       status, hash, prev_hash, rule_id, request_id`

// AuditRepository implements repositories.AuditRepository
type AuditRepository struct {
	db     *DB
	tm     *TransactionManager
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		tm:     NewTransactionManager(db, logger),
		logger: logger,
	}
}

// Insert appends an entry. The tenant advisory lock plus the sequence check
// keep the log gapless when several hosts write for the same tenant.
func (r *AuditRepository) Insert(ctx context.Context, entry *models.AuditLogEntry) error {
	return r.tm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		executor := GetExecutor(ctx, r.db)

		if err := LockTenant(ctx, executor, entry.TenantID); err != nil {
			return err
		}

		var head int64
		err := executor.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(sequence), 0) FROM audit_log WHERE tenant_id = $1`,
			entry.TenantID,
		).Scan(&head)
		if err != nil {
			return fmt.Errorf("failed to read audit head: %w", err)
		}
		if entry.Sequence != head+1 {
			return fmt.Errorf("%w: have %d, got %d", repositories.ErrSequenceConflict, head, entry.Sequence)
		}

		query := `
			INSERT INTO audit_log (
				id, tenant_id, sequence, timestamp, action, user_name, details,
				status, hash, prev_hash, rule_id, request_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`
		_, err = executor.ExecContext(ctx, query,
			entry.ID,
			entry.TenantID,
			entry.Sequence,
			entry.Timestamp,
			entry.Action,
			entry.User,
			entry.Details,
			entry.Status,
			entry.Hash,
			entry.PrevHash,
			entry.RuleID,
			entry.RequestID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert audit entry: %w", err)
		}

		r.logger.Debug("audit entry inserted",
			zap.String("id", entry.ID.String()),
			zap.String("action", entry.Action),
			zap.Int64("sequence", entry.Sequence),
		)
		return nil
	})
}

// GetByID retrieves one tenant entry
func (r *AuditRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.AuditLogEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE tenant_id = $1 AND id = $2`

	entry, err := scanAuditEntry(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}
	return entry, nil
}

// Last returns the newest tenant entry or nil
func (r *AuditRepository) Last(ctx context.Context, tenantID uuid.UUID) (*models.AuditLogEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE tenant_id = $1 ORDER BY sequence DESC LIMIT 1`

	entry, err := scanAuditEntry(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last audit entry: %w", err)
	}
	return entry, nil
}

// List returns tenant entries in sequence order
func (r *AuditRepository) List(ctx context.Context, tenantID uuid.UUID, filter models.AuditFilter) ([]*models.AuditLogEntry, error) {
	conditions := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}

	if filter.Action != "" {
		args = append(args, filter.Action)
		conditions = append(conditions, fmt.Sprintf("action = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY sequence ASC`

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.AuditLogEntry, 0)
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditEntry(row rowScanner) (*models.AuditLogEntry, error) {
	entry := &models.AuditLogEntry{}
	err := row.Scan(
		&entry.ID,
		&entry.TenantID,
		&entry.Sequence,
		&entry.Timestamp,
		&entry.Action,
		&entry.User,
		&entry.Details,
		&entry.Status,
		&entry.Hash,
		&entry.PrevHash,
		&entry.RuleID,
		&entry.RequestID,
	)
	if err != nil {
		return nil, err
	}
	return entry, nil
}
