package audit

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/models"
)

// ErrServiceStopped is returned for entries submitted after Stop
var ErrServiceStopped = errors.New("audit service stopped")

// Sink appends audit entries
type Sink interface {
	Record(ctx context.Context, tenantID uuid.UUID, in EntryInput) (*models.AuditLogEntry, error)
}

// Config holds configuration for the Service
type Config struct {
	BufferSize  int // Total queued entries across all workers
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 5,
	}
}

type job struct {
	ctx      context.Context
	tenantID uuid.UUID
	input    EntryInput
	result   chan jobResult
}

type jobResult struct {
	entry *models.AuditLogEntry
	err   error
}

// Service runs a Recorder behind a pool of workers. Each tenant is pinned
// to one worker so its entries are written in submission order, and
// submission blocks when the worker's queue is full rather than dropping.
type Service struct {
	recorder   *Recorder
	logger     *zap.Logger
	shards     []chan *job
	bufferSize int
	wg         sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewService creates a new Service instance
func NewService(recorder *Recorder, logger *zap.Logger, config Config) *Service {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	perShard := config.BufferSize / config.WorkerCount
	if perShard < 1 {
		perShard = 1
	}

	shards := make([]chan *job, config.WorkerCount)
	for i := range shards {
		shards[i] = make(chan *job, perShard)
	}
	return &Service{
		recorder:   recorder,
		logger:     logger,
		shards:     shards,
		bufferSize: config.BufferSize,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := range s.shards {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", len(s.shards)),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting entries and waits for queued ones to be written
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not running")
	}
	s.stopped = true
	pending := s.pendingLocked()
	for _, ch := range s.shards {
		close(ch)
	}
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", pending))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Record queues the entry on the tenant's worker and waits until it is
// written. The send blocks while the queue is full, until ctx is done.
func (s *Service) Record(ctx context.Context, tenantID uuid.UUID, in EntryInput) (*models.AuditLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	j := &job{ctx: ctx, tenantID: tenantID, input: in, result: make(chan jobResult, 1)}

	s.mu.RLock()
	if !s.started || s.stopped {
		s.mu.RUnlock()
		return nil, ErrServiceStopped
	}
	select {
	case s.shards[s.shardFor(tenantID)] <- j:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return nil, ctx.Err()
	}

	select {
	case res := <-j.result:
		return res.entry, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) shardFor(tenantID uuid.UUID) int {
	h := fnv.New32a()
	h.Write(tenantID[:])
	return int(h.Sum32() % uint32(len(s.shards)))
}

// worker processes entries from one shard
func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for j := range s.shards[id] {
		entry, err := s.process(j)
		if err != nil {
			s.logger.Error("failed to record audit entry",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", j.input.Action),
				zap.String("tenant_id", j.tenantID.String()))
		}
		j.result <- jobResult{entry: entry, err: err}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

// process writes one entry. A caller that stopped waiting does not cancel
// the write.
func (s *Service) process(j *job) (*models.AuditLogEntry, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), 5*time.Second)
	defer cancel()
	return s.recorder.Record(ctx, j.tenantID, j.input)
}

func (s *Service) pendingLocked() int {
	n := 0
	for _, ch := range s.shards {
		n += len(ch)
	}
	return n
}

// GetStats returns statistics about the audit service
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: s.pendingLocked(),
		WorkerCount:   len(s.shards),
		Started:       s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}
