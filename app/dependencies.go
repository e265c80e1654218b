package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/auth"
	"github.com/upb/agent-safe-grid/config"
	"github.com/upb/agent-safe-grid/internal/observability"
	"github.com/upb/agent-safe-grid/middleware"
	"github.com/upb/agent-safe-grid/repositories"
	"github.com/upb/agent-safe-grid/repositories/memory"
	"github.com/upb/agent-safe-grid/repositories/postgres"
	"github.com/upb/agent-safe-grid/services/audit"
	"github.com/upb/agent-safe-grid/services/connectivity"
	"github.com/upb/agent-safe-grid/services/gateway"
	"github.com/upb/agent-safe-grid/services/metering"
	"github.com/upb/agent-safe-grid/services/policy"
	"github.com/upb/agent-safe-grid/services/providers"
	"github.com/upb/agent-safe-grid/services/ratelimit"
	"github.com/upb/agent-safe-grid/services/rules"
)

const (
	cacheCleanupInterval = time.Minute
	auditDrainTimeout    = 10 * time.Second
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics
	DB      *postgres.DB // nil on in-memory storage
	Redis   *redis.Client

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory
	Repos       *repositories.Repositories

	// Services
	Policies     *policy.Service
	PolicyLoader *policy.Loader
	Engine       *policy.Engine
	Ledger       metering.Ledger
	Scheduler    *metering.Scheduler
	Recorder     *audit.Recorder
	AuditService *audit.Service // nil when audit writes are synchronous
	AuditSink    audit.Sink
	Providers    *providers.Registry
	Gateway      *gateway.Service
	Tester       *connectivity.Tester
	RateLimiter  *ratelimit.RateLimitService // nil when rate limiting is disabled

	// Middleware
	AuthMiddleware      *middleware.AuthMiddleware
	RateLimitMiddleware *middleware.RateLimitMiddleware

	rateCounter  *ratelimit.MemoryCounter
	stopCh       chan struct{}
	stopOnce     sync.Once
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	auditStarted bool
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
		stopCh: make(chan struct{}),
	}

	if cfg.Observability.MetricsEnabled {
		deps.Metrics = observability.NewMetrics(nil)
	}

	if err := deps.initStorage(ctx, cfg); err != nil {
		deps.closeInfra()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := deps.initLedger(ctx, cfg); err != nil {
		deps.closeInfra()
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}

	deps.initPolicies(cfg)
	deps.initAudit(cfg)

	registry, err := NewProviderRegistry(cfg.Providers, logger)
	if err != nil {
		deps.closeInfra()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}
	deps.Providers = registry

	deps.Gateway = gateway.NewService(
		deps.Policies,
		deps.Engine,
		deps.Ledger,
		deps.AuditSink,
		registry,
		registry,
		deps.Metrics,
		gateway.Config{
			ProviderTimeout:           cfg.Providers.Timeout,
			ProjectedCompletionTokens: int64(cfg.Metering.ProjectedCompletionTokens),
			DefaultCostPer1k:          cfg.Metering.DefaultCostPer1k,
		},
		logger,
	)
	deps.Tester = connectivity.NewTester(logger)

	if err := deps.initRateLimit(ctx, cfg); err != nil {
		deps.closeInfra()
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	if err := deps.initAuth(cfg); err != nil {
		deps.closeInfra()
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	logger.Info("all dependencies initialized successfully",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("ledger", cfg.Metering.Backend),
		zap.Int("providers", registry.GetProviderCount()))
	return deps, nil
}

// initStorage opens the policy and audit stores
func (d *Dependencies) initStorage(ctx context.Context, cfg *config.Config) error {
	if cfg.Storage.Backend != config.BackendPostgres {
		d.Repos = memory.NewRepositories()
		d.Logger.Info("using in-memory storage")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := factory.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Repos = factory.NewRepositories()
	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))
	return nil
}

// initLedger selects the metering backend
func (d *Dependencies) initLedger(ctx context.Context, cfg *config.Config) error {
	var ledger metering.Ledger

	switch cfg.Metering.Backend {
	case config.BackendRedis:
		client, err := metering.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		d.Redis = client
		ledger = metering.NewRedisLedger(client, cfg.Redis.KeyPrefix, d.Logger)
	case config.BackendPostgres:
		if d.Repos.Ledger == nil {
			return fmt.Errorf("postgres ledger requires postgres storage")
		}
		ledger = metering.NewStoreLedger(d.Repos.Ledger)
	default:
		ledger = metering.NewMemoryLedger()
	}

	d.Ledger = metering.WithMetrics(ledger, d.Metrics)
	d.Logger.Info("metering ledger initialized", zap.String("backend", cfg.Metering.Backend))
	return nil
}

// initPolicies wires the policy service, seed loader, engine and rollover scheduler
func (d *Dependencies) initPolicies(cfg *config.Config) {
	cache := policy.NewPolicyCache(cfg.Policy.CacheSize, cfg.Policy.CacheTTL)
	d.Policies = policy.NewService(d.Repos.Policies, cache, d.Logger,
		policy.WithDefaultBudget(cfg.Metering.DefaultBudget))

	if cfg.Policy.SeedFile != "" {
		d.PolicyLoader = policy.NewLoader(cfg.Policy.SeedFile, d.Policies, d.Logger)
	}

	d.Engine = policy.NewEngine(rules.NewRegistry(), d.Logger,
		policy.WithMetrics(d.Metrics),
		policy.WithParallelPrefix())

	d.Scheduler = metering.NewScheduler(cfg.Metering.RolloverCron, d.Ledger, d.Policies, d.Logger)
}

// initAudit wires the recorder and, when enabled, the async worker pool
func (d *Dependencies) initAudit(cfg *config.Config) {
	signer := audit.NewSigner(cfg.Audit.Salt, cfg.Audit.HashChain)
	d.Recorder = audit.NewRecorder(d.Repos.Audit, signer, d.Logger, d.Metrics)
	d.AuditSink = d.Recorder

	if cfg.Audit.Async {
		d.AuditService = audit.NewService(d.Recorder, d.Logger, audit.Config{
			BufferSize:  cfg.Audit.BufferSize,
			WorkerCount: cfg.Audit.Workers,
		})
		d.AuditSink = d.AuditService
	}
}

// initRateLimit wires the per-tenant request limiter. The redis backend shares
// the ledger connection when there is one.
func (d *Dependencies) initRateLimit(ctx context.Context, cfg *config.Config) error {
	if !cfg.RateLimit.Enabled() {
		d.Logger.Info("rate limiting disabled")
		return nil
	}

	var counter ratelimit.Counter
	switch cfg.RateLimit.Backend {
	case config.BackendRedis:
		if d.Redis == nil {
			client, err := metering.NewRedisClient(ctx, cfg.Redis)
			if err != nil {
				return err
			}
			d.Redis = client
		}
		counter = ratelimit.NewRedisCounter(d.Redis, cfg.RateLimit.KeyPrefix)
	default:
		d.rateCounter = ratelimit.NewMemoryCounter()
		counter = d.rateCounter
	}

	d.RateLimiter = ratelimit.NewRateLimitService(counter, ratelimit.Limits{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		RequestsPerHour:   cfg.RateLimit.RequestsPerHour,
		RequestsPerDay:    cfg.RateLimit.RequestsPerDay,
	}, d.Logger)
	d.RateLimitMiddleware = middleware.NewRateLimitMiddleware(d.RateLimiter, d.Logger)

	d.Logger.Info("rate limiting enabled",
		zap.String("backend", cfg.RateLimit.Backend),
		zap.Int("per_minute", cfg.RateLimit.RequestsPerMinute),
		zap.Int("per_hour", cfg.RateLimit.RequestsPerHour),
		zap.Int("per_day", cfg.RateLimit.RequestsPerDay))
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) error {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("JWT secret not configured, protected routes disabled")
		// Use reject-all validator so protected routes return 401
		d.AuthMiddleware = middleware.NewAuthMiddleware(&rejectAllValidator{}, d.Logger)
		return nil
	}

	validator, err := auth.NewValidator(auth.Config{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.Issuer,
		TTL:    cfg.Auth.TokenTTL,
	})
	if err != nil {
		return err
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	d.Logger.Info("jwt auth initialized", zap.String("issuer", cfg.Auth.Issuer))
	return nil
}

// rejectAllValidator rejects all tokens (used when no JWT secret is configured)
type rejectAllValidator struct{}

func (*rejectAllValidator) ValidateToken(context.Context, string) (*auth.Claims, error) {
	return nil, fmt.Errorf("authentication not configured")
}

// Start loads the policy seed and launches the background workers
func (d *Dependencies) Start(ctx context.Context) error {
	if d.PolicyLoader != nil {
		if err := d.PolicyLoader.Load(ctx); err != nil {
			return fmt.Errorf("failed to load policy seed: %w", err)
		}
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	if d.PolicyLoader != nil && d.Config.Policy.Watch {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.PolicyLoader.Watch(workerCtx); err != nil {
				d.Logger.Error("policy seed watcher stopped", zap.Error(err))
			}
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Policies.StartCacheCleanup(cacheCleanupInterval, d.stopCh)
	}()

	if d.rateCounter != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.rateCounter.StartCleanupWorker(cacheCleanupInterval, d.stopCh)
		}()
	}

	if err := d.Scheduler.Start(workerCtx); err != nil {
		return fmt.Errorf("failed to start rollover scheduler: %w", err)
	}

	if d.AuditService != nil {
		if err := d.AuditService.Start(); err != nil {
			return fmt.Errorf("failed to start audit service: %w", err)
		}
		d.auditStarted = true
	}

	d.Logger.Info("background workers started")
	return nil
}

// closeInfra releases connections opened before a failed initialization
func (d *Dependencies) closeInfra() {
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if d.RepoFactory != nil {
		_ = d.RepoFactory.Close()
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	d.stopOnce.Do(func() { close(d.stopCh) })
	if d.cancel != nil {
		d.cancel()
	}
	if d.Scheduler != nil {
		d.Scheduler.Stop()
	}

	// Drain queued audit entries before the store goes away
	if d.auditStarted {
		d.auditStarted = false
		timeout := auditDrainTimeout
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) > 0 {
			timeout = time.Until(deadline)
		}
		if err := d.AuditService.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}
	d.wg.Wait()

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		} else {
			d.Logger.Info("redis connection closed")
		}
	}

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
