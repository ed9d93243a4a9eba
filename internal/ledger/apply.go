package ledger

import (
	"github.com/bobmcallan/tally/internal/models"
	"github.com/shopspring/decimal"
)

// applyIndependent applies one transaction to its own position without
// considering any transfer counterpart.
func (r *run) applyIndependent(tx *models.LedgerTransaction) {
	pos := r.book.GetOrCreate(tx.AssetID, tx.AccountID)

	switch tx.TxType {
	case models.TxCostBasisReset:
		// PURE runs drop reset rows before replay
		applyReset(pos, tx)
		return
	case models.TxReconciliation:
		applyReconciliation(pos, tx)
		return
	}

	cashLike := r.opts.IsCashLike(tx.Asset)
	if !tx.Quantity.Valid {
		if !cashLike {
			pos.CostBasisKnown = false
		}
		return
	}

	q := tx.Quantity.Decimal
	if cashLike {
		applyCash(pos, q)
		return
	}

	switch q.Sign() {
	case 1:
		applyAcquisition(pos, tx, q)
	case -1:
		applyDisposal(pos, q)
	}
}

// applyReset seeds the position's cost basis from a snapshot row.
// An unpriced reset means "unknown as of here", not zero.
func applyReset(pos *models.Position, tx *models.LedgerTransaction) {
	if !tx.TotalValueInBase.Valid {
		pos.CostBasisKnown = false
		return
	}
	pos.CostBasis = tx.TotalValueInBase.Decimal.Abs()
	pos.CostBasisKnown = true
}

// applyReconciliation corrects quantity drift without touching cost basis.
func applyReconciliation(pos *models.Position, tx *models.LedgerTransaction) {
	if !tx.Quantity.Valid {
		return
	}
	pos.Quantity = pos.Quantity.Add(tx.Quantity.Decimal)
	if pos.Quantity.Abs().LessThanOrEqual(zeroEpsilon) {
		pos.Quantity = decimal.Zero
		pos.CostBasis = decimal.Zero
	}
}

// applyCash moves a cash-like balance; each unit costs exactly one base unit.
func applyCash(pos *models.Position, q decimal.Decimal) {
	if q.IsPositive() {
		pos.CostBasis = pos.CostBasis.Add(q)
	} else if q.IsNegative() {
		pos.CostBasis = clampSub(pos.CostBasis, q.Abs())
	}
	pos.Quantity = pos.Quantity.Add(q)
	pos.CostBasisKnown = true
}

// applyAcquisition adds priced quantity to the position. Without a price the
// basis becomes unknown and stays so until a reset.
func applyAcquisition(pos *models.Position, tx *models.LedgerTransaction, q decimal.Decimal) {
	_, total := DeriveMissingValuation(tx.Quantity, tx.UnitPriceInBase, tx.TotalValueInBase)
	if total.Valid {
		pos.CostBasis = pos.CostBasis.Add(total.Decimal.Abs())
	} else {
		pos.CostBasisKnown = false
	}
	pos.Quantity = pos.Quantity.Add(q)
}

// applyDisposal removes quantity at the position's average cost.
func applyDisposal(pos *models.Position, q decimal.Decimal) {
	if pos.CostBasisKnown && pos.Quantity.IsPositive() {
		avg := pos.CostBasis.Div(pos.Quantity)
		pos.CostBasis = clampSub(pos.CostBasis, avg.Mul(q.Abs()))
	} else {
		pos.CostBasisKnown = false
	}
	pos.Quantity = pos.Quantity.Add(q)
}
