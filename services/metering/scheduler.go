package metering

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/repositories"
)

// PolicySource lists tenants and their policies
type PolicySource interface {
	ListTenants(ctx context.Context) ([]uuid.UUID, error)
	Get(ctx context.Context, tenantID uuid.UUID) (*models.PolicyConfig, error)
}

// Scheduler resets tenant ledgers when their budget period rolls over.
// It fires on a cron schedule (typically daily at midnight) and resets a
// tenant when the period of its first enabled BUDGET rule starts at that
// tick: daily every run, weekly on Mondays, monthly on the 1st.
type Scheduler struct {
	spec     string
	ledger   Ledger
	policies PolicySource
	logger   *zap.Logger
	location *time.Location

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewScheduler creates a rollover scheduler. An empty spec disables it.
func NewScheduler(spec string, ledger Ledger, policies PolicySource, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		spec:     spec,
		ledger:   ledger,
		policies: policies,
		logger:   logger,
		location: time.UTC,
	}
}

// Start validates the schedule and begins running it until ctx is done
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.spec == "" {
		s.logger.Info("budget rollover schedule not configured, skipping scheduler")
		return nil
	}
	if _, err := cron.ParseStandard(s.spec); err != nil {
		return fmt.Errorf("invalid rollover schedule %q: %w", s.spec, err)
	}

	s.cron = cron.New(cron.WithLocation(s.location))
	if _, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.Rollover(ctx, time.Now().In(s.location)); err != nil {
			s.logger.Error("budget rollover failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule rollover: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("budget rollover scheduler started", zap.String("schedule", s.spec))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop stops the scheduler and waits for a running rollover to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("budget rollover scheduler stopped")
	}
}

// IsRunning reports whether the cron loop is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Rollover resets every tenant whose budget period begins at now and
// returns the tenants it reset. Tenants without counters are skipped.
func (s *Scheduler) Rollover(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	tenants, err := s.policies.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}

	var reset []uuid.UUID
	var errs []error
	for _, tenantID := range tenants {
		cfg, err := s.policies.Get(ctx, tenantID)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
			continue
		}
		period, ok := BudgetPeriod(cfg)
		if !ok || !PeriodStarts(period, now) {
			continue
		}

		if _, err := s.ledger.Reset(ctx, tenantID); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				continue
			}
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
			continue
		}
		reset = append(reset, tenantID)
		s.logger.Info("budget period rolled over",
			zap.String("tenant_id", tenantID.String()),
			zap.String("period", period))
	}
	return reset, errors.Join(errs...)
}

// BudgetPeriod returns the period of the first enabled BUDGET rule
func BudgetPeriod(cfg *models.PolicyConfig) (string, bool) {
	rule, ok := cfg.FirstEnabledRule(models.RuleTypeBudget)
	if !ok {
		return "", false
	}
	bc, ok := rule.Config.(models.BudgetConfig)
	if !ok {
		return "", false
	}
	return bc.Period, true
}

// PeriodStarts reports whether a budget period begins on now's date
func PeriodStarts(period string, now time.Time) bool {
	switch period {
	case "daily":
		return true
	case "weekly":
		return now.Weekday() == time.Monday
	case "monthly":
		return now.Day() == 1
	default:
		return false
	}
}
