package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// AssetStore keeps assets keyed by id.
type AssetStore struct {
	mu     sync.RWMutex
	assets map[int64]models.Asset
	nextID int64
}

func NewAssetStore() *AssetStore {
	return &AssetStore{assets: make(map[int64]models.Asset)}
}

func (s *AssetStore) Save(_ context.Context, asset *models.Asset) error {
	if strings.TrimSpace(asset.Symbol) == "" {
		return fmt.Errorf("asset symbol is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if asset.ID == 0 {
		for _, a := range s.assets {
			if strings.EqualFold(a.Symbol, asset.Symbol) {
				return fmt.Errorf("asset %s already exists", asset.Symbol)
			}
		}
		s.nextID++
		asset.ID = s.nextID
	} else if asset.ID > s.nextID {
		s.nextID = asset.ID
	}
	s.assets[asset.ID] = *asset
	return nil
}

func (s *AssetStore) Get(_ context.Context, id int64) (*models.Asset, error) {
	a, ok := s.lookup(id)
	if !ok {
		return nil, fmt.Errorf("asset %d: %w", id, interfaces.ErrNotFound)
	}
	return &a, nil
}

func (s *AssetStore) GetBySymbol(_ context.Context, symbol string) (*models.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.assets {
		if strings.EqualFold(a.Symbol, symbol) {
			out := a
			return &out, nil
		}
	}
	return nil, fmt.Errorf("asset %s: %w", symbol, interfaces.ErrNotFound)
}

func (s *AssetStore) List(_ context.Context) ([]models.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *AssetStore) lookup(id int64) (models.Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[id]
	return a, ok
}

var _ interfaces.AssetStore = (*AssetStore)(nil)
