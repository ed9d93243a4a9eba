package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PositionKey identifies a holding of one asset in one account.
type PositionKey struct {
	AssetID   int64
	AccountID int64
}

func (k PositionKey) String() string {
	return fmt.Sprintf("asset=%d account=%d", k.AssetID, k.AccountID)
}

// Position is the running state of a (asset, account) pair during a recalculation.
// CostBasis is the total cost attributed to Quantity, never negative.
type Position struct {
	AssetID        int64           `json:"asset_id"`
	AccountID      int64           `json:"account_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	CostBasis      decimal.Decimal `json:"cost_basis"`
	CostBasisKnown bool            `json:"cost_basis_known"`
}

// Key returns the position's composite key.
func (p *Position) Key() PositionKey {
	return PositionKey{AssetID: p.AssetID, AccountID: p.AccountID}
}

// AverageCost returns cost basis per unit, or invalid when the basis is unknown
// or the position holds nothing.
func (p *Position) AverageCost() decimal.NullDecimal {
	if !p.CostBasisKnown || !p.Quantity.IsPositive() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(p.CostBasis.Div(p.Quantity))
}
