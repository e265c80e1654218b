package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/internal/observability"
	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/repositories"
	"github.com/upb/agent-safe-grid/services"
)

// maxInsertAttempts bounds retries after another writer advanced the log
const maxInsertAttempts = 3

// EntryInput is what a caller supplies for one audit entry. The recorder
// assigns id, sequence, timestamp and hash.
type EntryInput struct {
	Action    string
	User      string
	Details   string
	Status    models.AuditStatus
	RuleID    string
	RequestID string
	// SigningInput is the content the hash covers. Details is used when empty.
	SigningInput string
}

type head struct {
	mu       sync.Mutex
	loaded   bool
	sequence int64
	hash     string
	ts       time.Time
}

// Recorder appends entries to the audit repository, one tenant at a time
type Recorder struct {
	repo    repositories.AuditRepository
	signer  *Signer
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu    sync.Mutex
	heads map[uuid.UUID]*head
}

// NewRecorder creates a recorder. metrics may be nil.
func NewRecorder(repo repositories.AuditRepository, signer *Signer, logger *zap.Logger, metrics *observability.Metrics) *Recorder {
	return &Recorder{
		repo:    repo,
		signer:  signer,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
		heads:   make(map[uuid.UUID]*head),
	}
}

func (r *Recorder) headFor(tenantID uuid.UUID) *head {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.heads[tenantID]
	if !ok {
		h = &head{}
		r.heads[tenantID] = h
	}
	return h
}

func (r *Recorder) reload(ctx context.Context, tenantID uuid.UUID, h *head) error {
	last, err := r.repo.Last(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load audit head: %w", err)
	}
	h.loaded = true
	if last == nil {
		h.sequence, h.hash, h.ts = 0, "", time.Time{}
		return nil
	}
	h.sequence, h.hash, h.ts = last.Sequence, last.Hash, last.Timestamp
	return nil
}

// Record signs and appends one entry. Entries of a tenant are written one
// at a time with gapless sequences and non-decreasing timestamps. When
// another instance appended first, the head is reloaded and the write retried.
func (r *Recorder) Record(ctx context.Context, tenantID uuid.UUID, in EntryInput) (*models.AuditLogEntry, error) {
	h := r.headFor(tenantID)
	h.mu.Lock()
	defer h.mu.Unlock()

	signingInput := in.SigningInput
	if signingInput == "" {
		signingInput = in.Details
	}

	var lastErr error
	for attempt := 1; attempt <= maxInsertAttempts; attempt++ {
		if !h.loaded {
			if err := r.reload(ctx, tenantID, h); err != nil {
				return nil, err
			}
		}

		ts := r.now().Truncate(time.Millisecond)
		if ts.Before(h.ts) {
			ts = h.ts
		}

		entry := &models.AuditLogEntry{
			ID:        uuid.New(),
			TenantID:  tenantID,
			Sequence:  h.sequence + 1,
			Timestamp: ts,
			Action:    in.Action,
			User:      in.User,
			Details:   in.Details,
			Status:    in.Status,
			RuleID:    in.RuleID,
			RequestID: in.RequestID,
		}
		if r.signer.Chained() {
			entry.PrevHash = h.hash
		}
		entry.Hash = r.signer.Sign(signingInput, ts, entry.PrevHash)

		err := r.repo.Insert(ctx, entry)
		if err == nil {
			h.sequence, h.hash, h.ts = entry.Sequence, entry.Hash, entry.Timestamp
			r.metrics.RecordAuditEntry(entry.Action, string(entry.Status))
			r.logger.Debug("audit entry recorded",
				zap.String("tenant_id", tenantID.String()),
				zap.String("audit_id", entry.ID.String()),
				zap.Int64("sequence", entry.Sequence),
				zap.String("action", entry.Action),
				zap.String("request_id", entry.RequestID))
			return entry, nil
		}

		if !errors.Is(err, repositories.ErrSequenceConflict) {
			return nil, fmt.Errorf("failed to append audit entry: %w", err)
		}
		lastErr = err
		h.loaded = false
		r.logger.Warn("audit sequence conflict, reloading head",
			zap.String("tenant_id", tenantID.String()),
			zap.Int64("sequence", entry.Sequence),
			zap.Int("attempt", attempt))
	}
	return nil, fmt.Errorf("failed to append audit entry after %d attempts: %w", maxInsertAttempts, lastErr)
}

// List returns a tenant's entries in sequence order
func (r *Recorder) List(ctx context.Context, tenantID uuid.UUID, filter models.AuditFilter) ([]*models.AuditLogEntry, error) {
	return r.repo.List(ctx, tenantID, filter)
}

// Verify checks a stored entry against the content it was signed over
func (r *Recorder) Verify(ctx context.Context, tenantID, entryID uuid.UUID, content string) (*models.AuditLogEntry, error) {
	entry, err := r.repo.GetByID(ctx, tenantID, entryID)
	if err != nil {
		return nil, err
	}
	if err := r.signer.Verify(entry, content); err != nil {
		r.logger.Warn("audit entry failed verification",
			zap.String("tenant_id", tenantID.String()),
			zap.String("audit_id", entryID.String()))
		return entry, err
	}
	return entry, nil
}

// VerifyChain checks sequence continuity and hash links over the tenant's log
func (r *Recorder) VerifyChain(ctx context.Context, tenantID uuid.UUID) (int, error) {
	entries, err := r.repo.List(ctx, tenantID, models.AuditFilter{})
	if err != nil {
		return 0, err
	}
	if len(entries) > 0 && entries[0].Sequence != 1 {
		return len(entries), services.NewDomainError(services.ErrorTypeIntegrity,
			fmt.Sprintf("audit log starts at sequence %d", entries[0].Sequence), nil).
			WithDetail("entry_id", entries[0].ID.String())
	}
	return len(entries), r.signer.VerifyChain(entries)
}
