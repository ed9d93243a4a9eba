package ledger

import (
	"sort"

	"github.com/bobmcallan/tally/internal/models"
	"github.com/shopspring/decimal"
)

// Book owns the positions of a single recalculation run.
type Book struct {
	positions map[models.PositionKey]*models.Position
}

// NewBook returns an empty position book.
func NewBook() *Book {
	return &Book{positions: make(map[models.PositionKey]*models.Position)}
}

// GetOrCreate returns the position for (assetID, accountID), inserting an empty
// position with a known zero cost basis on first use.
func (b *Book) GetOrCreate(assetID, accountID int64) *models.Position {
	key := models.PositionKey{AssetID: assetID, AccountID: accountID}
	if p, ok := b.positions[key]; ok {
		return p
	}
	p := &models.Position{
		AssetID:        assetID,
		AccountID:      accountID,
		Quantity:       decimal.Zero,
		CostBasis:      decimal.Zero,
		CostBasisKnown: true,
	}
	b.positions[key] = p
	return p
}

// Positions returns a shallow copy of the position map.
func (b *Book) Positions() map[models.PositionKey]*models.Position {
	out := make(map[models.PositionKey]*models.Position, len(b.positions))
	for k, v := range b.positions {
		out[k] = v
	}
	return out
}

// Sorted returns positions ordered by asset then account.
func (b *Book) Sorted() []*models.Position {
	return sortPositions(b.positions)
}

func sortPositions(m map[models.PositionKey]*models.Position) []*models.Position {
	out := make([]*models.Position, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AssetID != out[j].AssetID {
			return out[i].AssetID < out[j].AssetID
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out
}
