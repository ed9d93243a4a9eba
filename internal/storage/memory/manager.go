// Package memory implements the storage interfaces with in-process maps.
// Used for tests and local development; nothing survives a restart.
package memory

import (
	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
)

// Manager implements interfaces.StorageManager in memory.
type Manager struct {
	logger *common.Logger

	transactionStore *TransactionStore
	assetStore       *AssetStore
	accountStore     *AccountStore
	jobQueueStore    *JobQueueStore
	internalStore    *InternalStore
}

// NewManager creates an empty in-memory storage manager.
func NewManager(logger *common.Logger) *Manager {
	assets := NewAssetStore()
	m := &Manager{
		logger:           logger,
		assetStore:       assets,
		transactionStore: NewTransactionStore(assets),
		accountStore:     NewAccountStore(),
		jobQueueStore:    NewJobQueueStore(),
		internalStore:    NewInternalStore(),
	}
	logger.Info().Msg("In-memory storage manager initialized")
	return m
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
	return "memory"
}

func (m *Manager) Close() error {
	return nil
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
