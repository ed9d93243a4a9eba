package ledger

import (
	"github.com/bobmcallan/tally/internal/models"
	"github.com/shopspring/decimal"
)

type groupState int

const (
	groupPending groupState = iota
	groupPaired
	groupFallback
)

// transferGroup holds every TRANSFER leg sharing one key, in replay order.
type transferGroup struct {
	key   models.TransferKey
	legs  []*models.LedgerTransaction
	state groupState
}

// BuildTransferKey groups transfer legs. A MATCH: reference pairs legs across
// timestamps; otherwise legs must share asset, instant and reference.
func BuildTransferKey(tx *models.LedgerTransaction) models.TransferKey {
	ref := tx.ExternalReference
	if models.IsManualMatch(ref) {
		return models.TransferKey{AssetID: tx.AssetID, Reference: ref, Manual: true}
	}
	return models.TransferKey{
		AssetID:   tx.AssetID,
		At:        tx.DateTime.UTC().UnixNano(),
		Reference: ref,
	}
}

// indexTransfers collects TRANSFER rows by key. sorted must already be in
// replay order so each group's legs are too.
func indexTransfers(sorted []*models.LedgerTransaction) map[models.TransferKey]*transferGroup {
	groups := make(map[models.TransferKey]*transferGroup)
	for _, tx := range sorted {
		if tx.TxType != models.TxTransfer {
			continue
		}
		key := BuildTransferKey(tx)
		g, ok := groups[key]
		if !ok {
			g = &transferGroup{key: key}
			groups[key] = g
		}
		g.legs = append(g.legs, tx)
	}
	return groups
}

// handleTransfer processes a TRANSFER row at its replay position. The group is
// resolved on first encounter of any member; a paired group moves both legs
// at once and later members are no-ops, while fallback legs apply one by one.
func (r *run) handleTransfer(tx *models.LedgerTransaction) {
	g, ok := r.groups[BuildTransferKey(tx)]
	if !ok {
		r.applyIndependent(tx)
		return
	}
	if g.state == groupPending {
		r.resolve(g)
	}
	if g.state == groupFallback {
		r.applyIndependent(tx)
	}
}

func (r *run) resolve(g *transferGroup) {
	if len(g.legs) == 1 {
		r.fallback(g, models.IssueUnmatched)
		return
	}
	if len(g.legs) > 2 {
		r.fallback(g, models.IssueAmbiguous)
		return
	}

	src, dst, ok := orientLegs(g.legs[0], g.legs[1])
	if !ok {
		r.fallback(g, models.IssueInvalidLegs)
		return
	}

	srcAbs := src.Quantity.Decimal.Abs()
	dstAbs := dst.Quantity.Decimal.Abs()
	if !r.withinTolerance(srcAbs, dstAbs) {
		// a destination receiving more than was sent is never a fee
		if dstAbs.GreaterThan(srcAbs) {
			r.fallback(g, models.IssueInvalidLegs)
			return
		}
		if !g.key.Manual {
			r.diagnostics.add(g, models.IssueFeeMismatch)
		}
	}

	g.state = groupPaired
	r.pair(src, dst, srcAbs, dstAbs)
}

func (r *run) fallback(g *transferGroup, issue models.TransferIssue) {
	g.state = groupFallback
	r.diagnostics.add(g, issue)
}

// orientLegs returns (source, destination) for a valid two-leg group: same
// asset, distinct accounts, both quantities present with opposite signs.
func orientLegs(a, b *models.LedgerTransaction) (*models.LedgerTransaction, *models.LedgerTransaction, bool) {
	if !a.Quantity.Valid || !b.Quantity.Valid {
		return nil, nil, false
	}
	if a.AssetID != b.AssetID || a.AccountID == b.AccountID {
		return nil, nil, false
	}
	qa, qb := a.Quantity.Decimal, b.Quantity.Decimal
	switch {
	case qa.IsNegative() && qb.IsPositive():
		return a, b, true
	case qa.IsPositive() && qb.IsNegative():
		return b, a, true
	default:
		return nil, nil, false
	}
}

func (r *run) withinTolerance(srcAbs, dstAbs decimal.Decimal) bool {
	diff := srcAbs.Sub(dstAbs).Abs()
	if diff.LessThanOrEqual(r.opts.AbsTolerance) {
		return true
	}
	larger := decimal.Max(srcAbs, dstAbs)
	return diff.Div(larger).LessThanOrEqual(r.opts.RelTolerance)
}

// pair moves quantity and cost basis between the two legs' positions.
// Cost moves at the source's pre-transfer average; the portion attributed to
// a fee leaves the source without arriving at the destination.
func (r *run) pair(src, dst *models.LedgerTransaction, srcAbs, dstAbs decimal.Decimal) {
	srcPos := r.book.GetOrCreate(src.AssetID, src.AccountID)
	dstPos := r.book.GetOrCreate(dst.AssetID, dst.AccountID)

	qtyBefore := srcPos.Quantity
	basisBefore := srcPos.CostBasis
	knownBefore := srcPos.CostBasisKnown

	srcPos.Quantity = srcPos.Quantity.Add(src.Quantity.Decimal)
	dstPos.Quantity = dstPos.Quantity.Add(dst.Quantity.Decimal)

	if r.opts.IsCashLike(src.Asset) {
		srcPos.CostBasis = clampSub(srcPos.CostBasis, srcAbs)
		dstPos.CostBasis = dstPos.CostBasis.Add(dstAbs)
		srcPos.CostBasisKnown = true
		dstPos.CostBasisKnown = true
		return
	}

	if !knownBefore || !qtyBefore.IsPositive() {
		srcPos.CostBasisKnown = false
		dstPos.CostBasisKnown = false
		return
	}

	avg := basisBefore.Div(qtyBefore)
	moved := avg.Mul(decimal.Min(srcAbs, dstAbs))
	srcPos.CostBasis = clampSub(basisBefore, avg.Mul(srcAbs))
	dstPos.CostBasis = dstPos.CostBasis.Add(moved)
}
