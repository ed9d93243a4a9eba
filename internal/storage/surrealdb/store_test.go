package surrealdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

func TestTransactionStore_RoundTripPreservesDecimals(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	btc := &models.Asset{Symbol: "BTC", Type: models.AssetTypeCrypto, VolatilityBucket: models.BucketHigh}
	require.NoError(t, m.AssetStore().Save(ctx, btc))

	at := time.Date(2024, 3, 1, 10, 0, 0, 123456000, time.UTC)
	tx := &models.LedgerTransaction{
		DateTime:          at,
		AccountID:         1,
		AssetID:           btc.ID,
		Quantity:          decimal.NewNullDecimal(decimal.RequireFromString("0.123456789012345678")),
		TotalValueInBase:  decimal.NewNullDecimal(decimal.RequireFromString("7000.01")),
		TxType:            models.TxTrade,
		ExternalReference: "ref-1",
		Source:            models.SourceManual,
	}
	require.NoError(t, m.TransactionStore().Insert(ctx, tx))
	require.NotZero(t, tx.ID)

	got, err := m.TransactionStore().Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, tx.Quantity.Decimal.Equal(got.Quantity.Decimal))
	assert.True(t, tx.TotalValueInBase.Decimal.Equal(got.TotalValueInBase.Decimal))
	assert.False(t, got.UnitPriceInBase.Valid)
	assert.True(t, at.Equal(got.DateTime))
	assert.Equal(t, "BTC", got.Asset.Symbol)
	assert.Equal(t, models.TxTrade, got.TxType)
}

func TestTransactionStore_SequenceAndFilter(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []int64
	for i := 0; i < 3; i++ {
		tx := &models.LedgerTransaction{
			DateTime:  base.Add(time.Duration(i) * time.Hour),
			AccountID: int64(i%2 + 1),
			AssetID:   1,
			TxType:    models.TxDeposit,
			Quantity:  decimal.NewNullDecimal(decimal.NewFromInt(1)),
		}
		require.NoError(t, m.TransactionStore().Insert(ctx, tx))
		ids = append(ids, tx.ID)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)

	rows, err := m.TransactionStore().List(ctx, models.TransactionFilter{AsOf: base.Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = m.TransactionStore().List(ctx, models.TransactionFilter{AccountID: 2})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = m.TransactionStore().List(ctx, models.TransactionFilter{Types: []models.TxType{models.TxTrade}})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestTransactionStore_UpsertByExternalID(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	tx := &models.LedgerTransaction{AccountID: 1, AssetID: 1, ExternalID: "fill-9", TxType: models.TxTrade, DateTime: time.Now()}
	inserted, err := m.TransactionStore().UpsertByExternalID(ctx, tx)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := &models.LedgerTransaction{AccountID: 1, AssetID: 1, ExternalID: "fill-9", TxType: models.TxTrade, DateTime: time.Now()}
	inserted, err = m.TransactionStore().UpsertByExternalID(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, tx.ID, dup.ID)
}

func TestTransactionStore_ResetsAndReferences(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	at := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

	reset := &models.LedgerTransaction{AccountID: 1, AssetID: 1, TxType: models.TxCostBasisReset, DateTime: at}
	trade := &models.LedgerTransaction{AccountID: 1, AssetID: 1, TxType: models.TxTransfer, DateTime: at}
	require.NoError(t, m.TransactionStore().Insert(ctx, reset))
	require.NoError(t, m.TransactionStore().Insert(ctx, trade))

	require.NoError(t, m.TransactionStore().SetExternalReference(ctx, trade.ID, "MATCH:abc"))
	got, err := m.TransactionStore().Get(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, "MATCH:abc", got.ExternalReference)

	n, err := m.TransactionStore().DeleteResetsFrom(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = m.TransactionStore().Get(ctx, reset.ID)
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))
}

func TestAssetAndAccountStores(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	usdc := &models.Asset{Symbol: "USDC", Type: models.AssetTypeStable}
	require.NoError(t, m.AssetStore().Save(ctx, usdc))
	got, err := m.AssetStore().GetBySymbol(ctx, "usdc")
	require.NoError(t, err)
	assert.Equal(t, usdc.ID, got.ID)

	acct := &models.Account{Name: "Main", Exchange: "kraken"}
	require.NoError(t, m.AccountStore().Save(ctx, acct))
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, m.AccountStore().MarkSynced(ctx, acct.ID, at))

	accts, err := m.AccountStore().List(ctx)
	require.NoError(t, err)
	require.Len(t, accts, 1)
	assert.True(t, at.Equal(accts[0].LastSyncedAt))

	assert.True(t, errors.Is(m.AccountStore().MarkSynced(ctx, 999, at), interfaces.ErrNotFound))
}

func TestInternalStore_SystemKV(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	_, err := m.InternalStore().GetSystemKV(ctx, "sync_cursor:1")
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))

	require.NoError(t, m.InternalStore().SetSystemKV(ctx, "sync_cursor:1", "a"))
	require.NoError(t, m.InternalStore().SetSystemKV(ctx, "sync_cursor:1", "b"))
	v, err := m.InternalStore().GetSystemKV(ctx, "sync_cursor:1")
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestJobQueueStore_ClaimLeaseRecover(t *testing.T) {
	m := testManager(t)
	q := m.JobQueueStore()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &models.Job{JobType: models.JobTypeRecalculateCostBasis, Target: "all", Priority: 5}))
	require.NoError(t, q.Enqueue(ctx, &models.Job{ID: "sync1", JobType: models.JobTypeExchangeSync, Target: "1", Priority: 10}))

	job, err := q.Claim(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "sync1", job.ID)
	assert.Equal(t, 1, job.Attempts)

	assert.Error(t, q.ExtendLease(ctx, "sync1", "other", time.Now().Add(time.Hour)))
	require.NoError(t, q.ExtendLease(ctx, "sync1", "w1", time.Now().Add(time.Hour)))

	n, err := q.RecoverStale(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	has, err := q.HasActiveJob(ctx, models.JobTypeExchangeSync, "1")
	require.NoError(t, err)
	assert.True(t, has)

	count, err := q.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestJobQueueStore_RetryGatesOnRunAfter(t *testing.T) {
	m := testManager(t)
	q := m.JobQueueStore()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &models.Job{ID: "j1", JobType: models.JobTypeExchangeSync, Target: "1"}))
	_, err := q.Claim(ctx, "w1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, q.Retry(ctx, "j1", "w1", "timeout", time.Now().Add(time.Hour)))
	job, err := q.Claim(ctx, "w1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)

	got, err := q.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, "timeout", got.Error)

	assert.ErrorIs(t, q.Complete(ctx, "j1", "w1", nil, 5), interfaces.ErrLeaseLost)

	require.NoError(t, q.Enqueue(ctx, &models.Job{ID: "j2", JobType: models.JobTypeExchangeSync, Target: "2"}))
	job, err = q.Claim(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, q.Complete(ctx, "j2", "w1", nil, 5))
	n, err := q.PurgeCompleted(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestJobQueueStore_StaleOwnerCannotFinishReclaimedJob(t *testing.T) {
	m := testManager(t)
	q := m.JobQueueStore()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &models.Job{ID: "j1", JobType: models.JobTypeExchangeSync, Target: "1"}))
	_, err := q.Claim(ctx, "worker-a", time.Minute)
	require.NoError(t, err)

	n, err := q.RecoverStale(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := q.Claim(ctx, "worker-b", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.ErrorIs(t, q.Complete(ctx, "j1", "worker-a", errors.New("late"), 5), interfaces.ErrLeaseLost)
	assert.ErrorIs(t, q.Retry(ctx, "j1", "worker-a", "late", time.Now()), interfaces.ErrLeaseLost)

	got, err := q.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.Equal(t, "worker-b", got.LeaseOwner)
}

func TestJobQueueStore_ExpiredLeaseFailsExhaustedJob(t *testing.T) {
	m := testManager(t)
	q := m.JobQueueStore()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &models.Job{ID: "wedged", JobType: models.JobTypeExchangeSync, Target: "1", MaxAttempts: 1}))
	_, err := q.Claim(ctx, "worker-a", time.Minute)
	require.NoError(t, err)

	n, err := q.RecoverStale(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := q.Get(ctx, "wedged")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "lease expired after 1 attempts", got.Error)

	job, err := q.Claim(ctx, "worker-b", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestJobQueueStore_ResetRunningJobs(t *testing.T) {
	m := testManager(t)
	q := m.JobQueueStore()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &models.Job{ID: "a", JobType: models.JobTypeExchangeSync}))
	_, err := q.Claim(ctx, "w1", time.Minute)
	require.NoError(t, err)

	n, err := q.ResetRunningJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
