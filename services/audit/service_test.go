package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/agent-safe-grid/models"
	"github.com/upb/agent-safe-grid/repositories/memory"
)

func newTestService(t *testing.T, config Config) (*Service, *memory.AuditRepository) {
	t.Helper()
	repo := memory.NewAuditRepository()
	return NewService(newTestRecorder(repo, true), zap.NewNop(), config), repo
}

func TestService_StartStop(t *testing.T) {
	service, _ := newTestService(t, Config{BufferSize: 10, WorkerCount: 2})

	require.NoError(t, service.Start())

	stats := service.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	// Cannot start again
	assert.Error(t, service.Start())

	require.NoError(t, service.Stop(5*time.Second))
	assert.False(t, service.GetStats().Started)
	assert.Error(t, service.Stop(time.Second))

	_, err := service.Record(context.Background(), uuid.New(), EntryInput{Action: "A"})
	assert.ErrorIs(t, err, ErrServiceStopped)
}

func TestService_NotStarted(t *testing.T) {
	service, _ := newTestService(t, DefaultConfig())

	_, err := service.Record(context.Background(), uuid.New(), EntryInput{Action: "A"})
	assert.ErrorIs(t, err, ErrServiceStopped)
}

func TestService_Record(t *testing.T) {
	service, repo := newTestService(t, Config{BufferSize: 100, WorkerCount: 2})
	require.NoError(t, service.Start())
	defer service.Stop(5 * time.Second)

	tenant := uuid.New()
	entry, err := service.Record(context.Background(), tenant, EntryInput{
		Action: models.ActionModelInference,
		Status: models.AuditStatusSuccess,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Sequence)

	stored, err := repo.GetByID(context.Background(), tenant, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.Hash, stored.Hash)
}

func TestService_MultipleTenantsKeepOrder(t *testing.T) {
	service, repo := newTestService(t, Config{BufferSize: 8, WorkerCount: 3})
	require.NoError(t, service.Start())

	tenants := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	const perTenant = 25

	var wg sync.WaitGroup
	for _, tenant := range tenants {
		wg.Add(1)
		go func(tenant uuid.UUID) {
			defer wg.Done()
			for i := 0; i < perTenant; i++ {
				_, err := service.Record(context.Background(), tenant, EntryInput{Action: "A", Details: fmt.Sprint(i)})
				assert.NoError(t, err)
			}
		}(tenant)
	}
	wg.Wait()
	require.NoError(t, service.Stop(5*time.Second))

	for _, tenant := range tenants {
		entries, err := repo.List(context.Background(), tenant, models.AuditFilter{})
		require.NoError(t, err)
		require.Len(t, entries, perTenant)
		for i, e := range entries {
			assert.Equal(t, fmt.Sprint(i), e.Details, "submission order is kept")
		}
	}
}

func TestService_RecordHonorsContext(t *testing.T) {
	service, _ := newTestService(t, Config{BufferSize: 1, WorkerCount: 1})
	require.NoError(t, service.Start())
	defer service.Stop(5 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := service.Record(ctx, uuid.New(), EntryInput{Action: "A"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestService_ShardingIsStable(t *testing.T) {
	service, _ := newTestService(t, Config{BufferSize: 10, WorkerCount: 4})
	tenant := uuid.New()

	shard := service.shardFor(tenant)
	for i := 0; i < 10; i++ {
		assert.Equal(t, shard, service.shardFor(tenant))
	}
	assert.Less(t, shard, 4)
}

func TestExportCSV(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	entries := []*models.AuditLogEntry{{
		ID:        id,
		Timestamp: time.Date(2024, 5, 1, 12, 30, 0, 250*int(time.Millisecond), time.UTC),
		Action:    models.ActionPolicyViolation,
		User:      "bob",
		Status:    models.AuditStatusViolation,
		Details:   `Blocked by rule "no-secrets", severity HIGH`,
		Hash:      "abc123",
	}}

	var buf bytes.Buffer
	require.NoError(t, ExportCSV(&buf, entries))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"id", "timestamp", "action", "user", "status", "details", "hash"}, records[0])
	assert.Equal(t, []string{
		id.String(),
		"2024-05-01T12:30:00.250Z",
		"POLICY_VIOLATION",
		"bob",
		"violation",
		`Blocked by rule "no-secrets", severity HIGH`,
		"abc123",
	}, records[1])
}

func TestExportCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportCSV(&buf, nil))
	assert.Equal(t, "id,timestamp,action,user,status,details,hash\n", buf.String())
}
