package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// AccountStore keeps accounts keyed by id.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[int64]models.Account
	nextID   int64
}

func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[int64]models.Account)}
}

func (s *AccountStore) Save(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if account.ID == 0 {
		s.nextID++
		account.ID = s.nextID
	} else if account.ID > s.nextID {
		s.nextID = account.ID
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}
	s.accounts[account.ID] = *account
	return nil
}

func (s *AccountStore) Get(_ context.Context, id int64) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %d: %w", id, interfaces.ErrNotFound)
	}
	return &a, nil
}

func (s *AccountStore) List(_ context.Context) ([]models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *AccountStore) MarkSynced(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("account %d: %w", id, interfaces.ErrNotFound)
	}
	a.LastSyncedAt = at
	s.accounts[id] = a
	return nil
}

var _ interfaces.AccountStore = (*AccountStore)(nil)
