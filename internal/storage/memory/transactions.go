package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// TransactionStore keeps ledger rows in a map keyed by id.
type TransactionStore struct {
	mu     sync.RWMutex
	rows   map[int64]models.LedgerTransaction
	nextID int64
	assets *AssetStore
}

// NewTransactionStore creates an empty store. assets, when non-nil, is used to
// join asset details onto listed rows.
func NewTransactionStore(assets *AssetStore) *TransactionStore {
	return &TransactionStore{
		rows:   make(map[int64]models.LedgerTransaction),
		assets: assets,
	}
}

func (s *TransactionStore) Insert(_ context.Context, tx *models.LedgerTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(tx)
	return nil
}

func (s *TransactionStore) insertLocked(tx *models.LedgerTransaction) {
	if tx.ID == 0 {
		s.nextID++
		tx.ID = s.nextID
	} else if tx.ID > s.nextID {
		s.nextID = tx.ID
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	row := *tx
	row.Asset = models.Asset{}
	s.rows[tx.ID] = row
}

func (s *TransactionStore) UpsertByExternalID(_ context.Context, tx *models.LedgerTransaction) (bool, error) {
	if tx.ExternalID == "" {
		return false, fmt.Errorf("external id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.rows {
		if row.AccountID == tx.AccountID && row.ExternalID == tx.ExternalID {
			tx.ID = row.ID
			return false, nil
		}
	}
	s.insertLocked(tx)
	return true, nil
}

func (s *TransactionStore) Get(_ context.Context, id int64) (*models.LedgerTransaction, error) {
	s.mu.RLock()
	row, ok := s.rows[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transaction %d: %w", id, interfaces.ErrNotFound)
	}
	s.join(&row)
	return &row, nil
}

func (s *TransactionStore) List(_ context.Context, filter models.TransactionFilter) ([]models.LedgerTransaction, error) {
	s.mu.RLock()
	out := make([]models.LedgerTransaction, 0, len(s.rows))
	for _, row := range s.rows {
		if filter.Matches(&row) {
			out = append(out, row)
		}
	}
	s.mu.RUnlock()

	for i := range out {
		s.join(&out[i])
	}
	return out, nil
}

func (s *TransactionStore) SetExternalReference(_ context.Context, id int64, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("transaction %d: %w", id, interfaces.ErrNotFound)
	}
	row.ExternalReference = ref
	s.rows[id] = row
	return nil
}

func (s *TransactionStore) DeleteResetsFrom(_ context.Context, from time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, row := range s.rows {
		if row.TxType == models.TxCostBasisReset && !row.DateTime.Before(from) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

func (s *TransactionStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[id]; !ok {
		return fmt.Errorf("transaction %d: %w", id, interfaces.ErrNotFound)
	}
	delete(s.rows, id)
	return nil
}

func (s *TransactionStore) join(tx *models.LedgerTransaction) {
	if s.assets == nil {
		return
	}
	if a, ok := s.assets.lookup(tx.AssetID); ok {
		tx.Asset = a
	} else {
		tx.Asset = models.Asset{ID: tx.AssetID}
	}
}

var _ interfaces.TransactionStore = (*TransactionStore)(nil)
