// Package interfaces defines service contracts for Tally
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/tally/internal/models"
)

// RecalcOptions configures a cost-basis recalculation
type RecalcOptions struct {
	AsOf           time.Time         // zero = now
	Mode           models.RecalcMode // empty = configured default
	WriteSnapshots bool              // persist COST_BASIS_RESET rows for known positions
}

// CostBasisService recalculates positions and cost basis from the ledger
type CostBasisService interface {
	// Recalculate replays the ledger up to AsOf and optionally writes reset snapshots.
	Recalculate(ctx context.Context, opts RecalcOptions) (*models.RecalcResult, error)

	// Holdings returns current holdings (HONOR_RESETS, no writes).
	Holdings(ctx context.Context, asOf time.Time) ([]models.Holding, error)

	// MatchTransfers force-pairs two TRANSFER legs with a shared MATCH: token.
	MatchTransfers(ctx context.Context, legA, legB int64) (string, error)

	// RecordTransaction validates and stores a manually entered transaction.
	RecordTransaction(ctx context.Context, tx *models.LedgerTransaction) error
}

// ExchangeSyncService pulls exchange activity into the ledger
type ExchangeSyncService interface {
	// SyncAccount imports new trades and reconciles balances for one account.
	SyncAccount(ctx context.Context, accountID int64) (*models.SyncResult, error)
}

// JobManager queues background work
type JobManager interface {
	Start()
	Stop()
	EnqueueIfNeeded(ctx context.Context, jobType, target string, priority int) error
}
