// Package interfaces defines service contracts for Tally
package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/bobmcallan/tally/internal/models"
)

// ErrNotFound is returned (wrapped) by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrLeaseLost is returned (wrapped) when a worker updates a job it no longer holds.
var ErrLeaseLost = errors.New("job lease lost")

// StorageManager coordinates all storage backends
type StorageManager interface {
	// Storage accessors
	TransactionStore() TransactionStore
	AssetStore() AssetStore
	AccountStore() AccountStore
	JobQueueStore() JobQueueStore
	InternalStore() InternalStore

	// Backend returns the backend name ("surrealdb" or "memory").
	Backend() string

	// Lifecycle
	Close() error
}

// TransactionStore persists ledger transactions.
type TransactionStore interface {
	// Insert stores a new transaction, assigning the next sequence id when ID is zero.
	Insert(ctx context.Context, tx *models.LedgerTransaction) error

	// UpsertByExternalID inserts tx unless a row with the same (account, external id)
	// exists. Returns true when a new row was written.
	UpsertByExternalID(ctx context.Context, tx *models.LedgerTransaction) (bool, error)

	Get(ctx context.Context, id int64) (*models.LedgerTransaction, error)

	// List returns matching transactions in no particular order; callers sort.
	List(ctx context.Context, filter models.TransactionFilter) ([]models.LedgerTransaction, error)

	// SetExternalReference rewrites a row's reference (used to force-pair transfer legs).
	SetExternalReference(ctx context.Context, id int64, ref string) error

	// DeleteResetsFrom removes COST_BASIS_RESET rows dated at or after from.
	DeleteResetsFrom(ctx context.Context, from time.Time) (int, error)

	Delete(ctx context.Context, id int64) error
}

// AssetStore persists asset definitions.
type AssetStore interface {
	// Save inserts or updates an asset, assigning an id when ID is zero.
	Save(ctx context.Context, asset *models.Asset) error
	Get(ctx context.Context, id int64) (*models.Asset, error)
	GetBySymbol(ctx context.Context, symbol string) (*models.Asset, error)
	List(ctx context.Context) ([]models.Asset, error)
}

// AccountStore persists accounts.
type AccountStore interface {
	// Save inserts or updates an account, assigning an id when ID is zero.
	Save(ctx context.Context, account *models.Account) error
	Get(ctx context.Context, id int64) (*models.Account, error)
	List(ctx context.Context) ([]models.Account, error)
	MarkSynced(ctx context.Context, id int64, at time.Time) error
}

// InternalStore manages system-level KV (sync cursors, last run markers).
type InternalStore interface {
	GetSystemKV(ctx context.Context, key string) (string, error)
	SetSystemKV(ctx context.Context, key, value string) error
}

// JobQueueStore manages the persistent job queue
type JobQueueStore interface {
	Enqueue(ctx context.Context, job *models.Job) error

	// Claim atomically takes the highest priority pending job whose run_after
	// has passed, marks it running and leases it to owner until now+lease.
	// Returns nil, nil when nothing is claimable.
	Claim(ctx context.Context, owner string, lease time.Duration) (*models.Job, error)

	// ExtendLease pushes a running job's lease forward; it fails when owner no
	// longer holds the lease.
	ExtendLease(ctx context.Context, id, owner string, until time.Time) error

	// Complete finishes a running job leased to owner as completed, or failed
	// when jobErr is set. Returns ErrLeaseLost when owner no longer holds it.
	Complete(ctx context.Context, id, owner string, jobErr error, durationMS int64) error

	// Retry returns a job leased to owner to pending with an error message, to
	// run no earlier than runAfter. Returns ErrLeaseLost when owner no longer holds it.
	Retry(ctx context.Context, id, owner string, errMsg string, runAfter time.Time) error

	// Cancel marks a pending job cancelled. Returns ErrNotFound when no pending
	// job has that id.
	Cancel(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.Job, error)
	ListPending(ctx context.Context, limit int) ([]*models.Job, error)
	ListAll(ctx context.Context, limit int) ([]*models.Job, error)
	CountPending(ctx context.Context) (int, error)
	// HasActiveJob reports whether a pending or running job exists for jobType and target.
	HasActiveJob(ctx context.Context, jobType, target string) (bool, error)

	// RecoverStale releases running jobs whose lease expired before now: back
	// to pending, or failed once attempts reach max_attempts. Returns the
	// number of jobs released.
	RecoverStale(ctx context.Context, now time.Time) (int, error)

	// ResetRunningJobs releases every running job the same way (startup recovery).
	ResetRunningJobs(ctx context.Context) (int, error)

	PurgeCompleted(ctx context.Context, olderThan time.Time) (int, error)
}
