package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

func newTestManager() *Manager {
	return NewManager(common.NewSilentLogger())
}

func TestTransactionStore_InsertAssignsSequentialIDs(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	a := &models.LedgerTransaction{AccountID: 1, AssetID: 1, TxType: models.TxDeposit, DateTime: time.Now()}
	b := &models.LedgerTransaction{AccountID: 1, AssetID: 1, TxType: models.TxDeposit, DateTime: time.Now()}
	require.NoError(t, m.TransactionStore().Insert(ctx, a))
	require.NoError(t, m.TransactionStore().Insert(ctx, b))

	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, int64(2), b.ID)
	assert.False(t, a.CreatedAt.IsZero())
}

func TestTransactionStore_ListJoinsAssetsAndFilters(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	btc := &models.Asset{Symbol: "BTC", Type: models.AssetTypeCrypto}
	require.NoError(t, m.AssetStore().Save(ctx, btc))

	for i := 0; i < 3; i++ {
		require.NoError(t, m.TransactionStore().Insert(ctx, &models.LedgerTransaction{
			AccountID: int64(i%2 + 1),
			AssetID:   btc.ID,
			TxType:    models.TxTrade,
			DateTime:  base.Add(time.Duration(i) * time.Hour),
			Quantity:  decimal.NewNullDecimal(decimal.NewFromInt(1)),
		}))
	}

	all, err := m.TransactionStore().List(ctx, models.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "BTC", all[0].Asset.Symbol)

	asOf, err := m.TransactionStore().List(ctx, models.TransactionFilter{AsOf: base.Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, asOf, 2)

	acct, err := m.TransactionStore().List(ctx, models.TransactionFilter{AccountID: 2})
	require.NoError(t, err)
	assert.Len(t, acct, 1)
}

func TestTransactionStore_UpsertByExternalID(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	tx := &models.LedgerTransaction{AccountID: 1, AssetID: 1, ExternalID: "fill-1", TxType: models.TxTrade}
	inserted, err := m.TransactionStore().UpsertByExternalID(ctx, tx)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := &models.LedgerTransaction{AccountID: 1, AssetID: 1, ExternalID: "fill-1", TxType: models.TxTrade}
	inserted, err = m.TransactionStore().UpsertByExternalID(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, tx.ID, dup.ID)

	// same external id on another account is a different row
	other := &models.LedgerTransaction{AccountID: 2, AssetID: 1, ExternalID: "fill-1", TxType: models.TxTrade}
	inserted, err = m.TransactionStore().UpsertByExternalID(ctx, other)
	require.NoError(t, err)
	assert.True(t, inserted)

	_, err = m.TransactionStore().UpsertByExternalID(ctx, &models.LedgerTransaction{AccountID: 1})
	assert.Error(t, err)
}

func TestTransactionStore_DeleteResetsFrom(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, typ := range []models.TxType{models.TxCostBasisReset, models.TxCostBasisReset, models.TxTrade} {
		require.NoError(t, m.TransactionStore().Insert(ctx, &models.LedgerTransaction{
			AccountID: 1, AssetID: 1, TxType: typ, DateTime: base.Add(time.Duration(i) * 24 * time.Hour),
		}))
	}

	n, err := m.TransactionStore().DeleteResetsFrom(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := m.TransactionStore().List(ctx, models.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestTransactionStore_NotFound(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	_, err := m.TransactionStore().Get(ctx, 99)
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))
	assert.True(t, errors.Is(m.TransactionStore().SetExternalReference(ctx, 99, "x"), interfaces.ErrNotFound))
	assert.True(t, errors.Is(m.TransactionStore().Delete(ctx, 99), interfaces.ErrNotFound))
}

func TestAssetStore_SymbolLookupIsCaseInsensitive(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.AssetStore().Save(ctx, &models.Asset{Symbol: "ETH", Type: models.AssetTypeCrypto}))
	got, err := m.AssetStore().GetBySymbol(ctx, "eth")
	require.NoError(t, err)
	assert.Equal(t, "ETH", got.Symbol)

	assert.Error(t, m.AssetStore().Save(ctx, &models.Asset{Symbol: "eth"}))
	assert.Error(t, m.AssetStore().Save(ctx, &models.Asset{}))
}

func TestAccountStore_MarkSynced(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	acct := &models.Account{Name: "Kraken", Exchange: "kraken"}
	require.NoError(t, m.AccountStore().Save(ctx, acct))

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, m.AccountStore().MarkSynced(ctx, acct.ID, at))

	got, err := m.AccountStore().Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, at, got.LastSyncedAt)
	assert.True(t, got.IsExchangeLinked())
}

func TestInternalStore_SystemKV(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	_, err := m.InternalStore().GetSystemKV(ctx, "missing")
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))

	require.NoError(t, m.InternalStore().SetSystemKV(ctx, "sync_cursor:1", "2024-01-01T00:00:00Z"))
	v, err := m.InternalStore().GetSystemKV(ctx, "sync_cursor:1")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:00Z", v)
}

func TestJobQueue_ClaimOrdersByPriorityAndRespectsRunAfter(t *testing.T) {
	q := NewJobQueueStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, q.Enqueue(ctx, &models.Job{ID: "low", JobType: models.JobTypeRecalculateCostBasis, Priority: 1, CreatedAt: now.Add(-time.Minute)}))
	require.NoError(t, q.Enqueue(ctx, &models.Job{ID: "high", JobType: models.JobTypeExchangeSync, Priority: 10, CreatedAt: now}))
	require.NoError(t, q.Enqueue(ctx, &models.Job{ID: "later", JobType: models.JobTypeExchangeSync, Priority: 99, RunAfter: now.Add(time.Hour)}))

	job, err := q.Claim(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "high", job.ID)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, "w1", job.LeaseOwner)
	assert.Equal(t, 1, job.Attempts)
	assert.WithinDuration(t, time.Now().Add(time.Minute), job.LeaseExpiresAt, 5*time.Second)

	job, err = q.Claim(ctx, "w1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "low", job.ID)

	job, err = q.Claim(ctx, "w1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestJobQueue_LeaseLifecycle(t *testing.T) {
	q := NewJobQueueStore()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &models.Job{ID: "j1", JobType: models.JobTypeExchangeSync, Target: "1"}))
	job, err := q.Claim(ctx, "w1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.Error(t, q.ExtendLease(ctx, "j1", "w2", time.Now().Add(time.Hour)))
	require.NoError(t, q.ExtendLease(ctx, "j1", "w1", time.Now().Add(time.Hour)))

	n, err := q.RecoverStale(ctx, time.Now().Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = q.RecoverStale(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := q.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Empty(t, got.LeaseOwner)
}

func TestJobQueue_RetryAndComplete(t *testing.T) {
	q := NewJobQueueStore()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &models.Job{ID: "j1", JobType: models.JobTypeExchangeSync, Target: "1"}))
	_, err := q.Claim(ctx, "w1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, q.Retry(ctx, "j1", "w1", "boom", time.Now().Add(time.Hour)))
	has, err := q.HasActiveJob(ctx, models.JobTypeExchangeSync, "1")
	require.NoError(t, err)
	assert.True(t, has)

	// not claimable until run_after
	job, err := q.Claim(ctx, "w1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)

	// a pending job is no longer leased to anyone
	assert.ErrorIs(t, q.Complete(ctx, "j1", "w1", nil, 1), interfaces.ErrLeaseLost)

	require.NoError(t, q.Enqueue(ctx, &models.Job{ID: "j2", JobType: models.JobTypeExchangeSync, Target: "2"}))
	job, err = q.Claim(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "j2", job.ID)

	require.NoError(t, q.Complete(ctx, "j2", "w1", errors.New("fatal"), 12))
	got, err := q.Get(ctx, "j2")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "fatal", got.Error)
	assert.Empty(t, got.LeaseOwner)

	n, err := q.PurgeCompleted(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestJobQueue_StaleOwnerCannotFinishReclaimedJob(t *testing.T) {
	q := NewJobQueueStore()
	ctx := context.Background()
	now := time.Now()
	q.now = func() time.Time { return now }

	require.NoError(t, q.Enqueue(ctx, &models.Job{ID: "j1", JobType: models.JobTypeExchangeSync, Target: "1"}))
	_, err := q.Claim(ctx, "worker-a", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	n, err := q.RecoverStale(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := q.Claim(ctx, "worker-b", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.ErrorIs(t, q.Complete(ctx, "j1", "worker-a", errors.New("late"), 5), interfaces.ErrLeaseLost)
	assert.ErrorIs(t, q.Retry(ctx, "j1", "worker-a", "late", now), interfaces.ErrLeaseLost)
	assert.ErrorIs(t, q.ExtendLease(ctx, "j1", "worker-a", now.Add(time.Hour)), interfaces.ErrLeaseLost)

	got, err := q.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.Equal(t, "worker-b", got.LeaseOwner)
	assert.Empty(t, got.Error)

	require.NoError(t, q.Complete(ctx, "j1", "worker-b", nil, 5))
	got, err = q.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
}

func TestJobQueue_ExpiredLeaseFailsExhaustedJob(t *testing.T) {
	q := NewJobQueueStore()
	ctx := context.Background()
	now := time.Now()
	q.now = func() time.Time { return now }

	require.NoError(t, q.Enqueue(ctx, &models.Job{ID: "wedged", JobType: models.JobTypeExchangeSync, Target: "1", MaxAttempts: 1}))
	require.NoError(t, q.Enqueue(ctx, &models.Job{ID: "healthy", JobType: models.JobTypeExchangeSync, Target: "2", MaxAttempts: 3, CreatedAt: now.Add(time.Second)}))
	_, err := q.Claim(ctx, "worker-a", time.Minute)
	require.NoError(t, err)
	_, err = q.Claim(ctx, "worker-a", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	n, err := q.RecoverStale(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	wedged, err := q.Get(ctx, "wedged")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, wedged.Status)
	assert.Equal(t, "lease expired after 1 attempts", wedged.Error)
	assert.Empty(t, wedged.LeaseOwner)

	healthy, err := q.Get(ctx, "healthy")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, healthy.Status)

	job, err := q.Claim(ctx, "worker-b", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "healthy", job.ID)
	assert.Equal(t, 2, job.Attempts)

	job, err = q.Claim(ctx, "worker-b", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestJobQueue_HasActiveJobCoversRunning(t *testing.T) {
	q := NewJobQueueStore()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &models.Job{ID: "j1", JobType: models.JobTypeExchangeSync, Target: "1"}))
	_, err := q.Claim(ctx, "w1", time.Minute)
	require.NoError(t, err)

	has, err := q.HasActiveJob(ctx, models.JobTypeExchangeSync, "1")
	require.NoError(t, err)
	assert.True(t, has, "running job should count as active")

	require.NoError(t, q.Complete(ctx, "j1", "w1", nil, 1))
	has, err = q.HasActiveJob(ctx, models.JobTypeExchangeSync, "1")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestJobQueue_Cancel(t *testing.T) {
	q := NewJobQueueStore()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &models.Job{ID: "j1", JobType: models.JobTypeExchangeSync, Target: "1"}))
	require.NoError(t, q.Cancel(ctx, "j1"))

	got, err := q.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)

	assert.ErrorIs(t, q.Cancel(ctx, "j1"), interfaces.ErrNotFound)
	assert.ErrorIs(t, q.Cancel(ctx, "missing"), interfaces.ErrNotFound)
}

func TestJobQueue_ResetRunningJobs(t *testing.T) {
	q := NewJobQueueStore()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &models.Job{ID: "a"}))
	require.NoError(t, q.Enqueue(ctx, &models.Job{ID: "b"}))
	_, err := q.Claim(ctx, "w1", time.Minute)
	require.NoError(t, err)

	n, err := q.ResetRunningJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := q.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)
}
