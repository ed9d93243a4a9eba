package surrealdb

import (
	"context"
	"fmt"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/surrealdb/surrealdb.go"
)

// tables are defined on connect (SurrealDB v3 errors on querying non-existent tables).
var tables = []string{"ledger_tx", "asset", "account", "job_queue", "system_kv", "counter"}

// indexes speed up the hot lookups.
var indexes = []string{
	"DEFINE INDEX IF NOT EXISTS ledger_tx_date ON ledger_tx FIELDS date_time",
	"DEFINE INDEX IF NOT EXISTS ledger_tx_external ON ledger_tx FIELDS account_id, external_id",
	"DEFINE INDEX IF NOT EXISTS asset_symbol ON asset FIELDS symbol_key UNIQUE",
	"DEFINE INDEX IF NOT EXISTS job_queue_status ON job_queue FIELDS status, priority",
}

// Manager implements interfaces.StorageManager using SurrealDB.
type Manager struct {
	db     *surrealdb.DB
	logger *common.Logger

	transactionStore *TransactionStore
	assetStore       *AssetStore
	accountStore     *AccountStore
	jobQueueStore    *JobQueueStore
	internalStore    *InternalStore
}

// NewManager creates a new StorageManager connected to SurrealDB.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	ctx := context.Background()

	db, err := surrealdb.New(config.Storage.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": config.Storage.Username,
		"pass": config.Storage.Password,
	}); err != nil {
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, config.Storage.Namespace, config.Storage.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	if err := defineSchema(ctx, db); err != nil {
		return nil, err
	}

	m := newManager(db, logger)

	logger.Info().
		Str("address", config.Storage.Address).
		Str("namespace", config.Storage.Namespace).
		Str("database", config.Storage.Database).
		Msg("SurrealDB storage manager initialized")

	return m, nil
}

func newManager(db *surrealdb.DB, logger *common.Logger) *Manager {
	return &Manager{
		db:               db,
		logger:           logger,
		transactionStore: NewTransactionStore(db, logger),
		assetStore:       NewAssetStore(db, logger),
		accountStore:     NewAccountStore(db, logger),
		jobQueueStore:    NewJobQueueStore(db, logger),
		internalStore:    NewInternalStore(db, logger),
	}
}

func defineSchema(ctx context.Context, db *surrealdb.DB) error {
	for _, table := range tables {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}
	for _, sql := range indexes {
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return fmt.Errorf("failed to define index: %w", err)
		}
	}
	return nil
}

func (m *Manager) TransactionStore() interfaces.TransactionStore {
	return m.transactionStore
}

func (m *Manager) AssetStore() interfaces.AssetStore {
	return m.assetStore
}

func (m *Manager) AccountStore() interfaces.AccountStore {
	return m.accountStore
}

func (m *Manager) JobQueueStore() interfaces.JobQueueStore {
	return m.jobQueueStore
}

func (m *Manager) InternalStore() interfaces.InternalStore {
	return m.internalStore
}

func (m *Manager) Backend() string {
	return "surrealdb"
}

func (m *Manager) Close() error {
	m.db.Close(context.Background())
	return nil
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
