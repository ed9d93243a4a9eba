package exchangesync

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/tally/internal/ledger"
	"github.com/bobmcallan/tally/internal/models"
)

// External id suffixes for the legs one exchange fill expands into.
const (
	legBase  = ":base"
	legQuote = ":quote"
	legFee   = ":fee"
)

// mapTrade expands one exchange record into ledger rows. Buys and sells become
// an asset leg and a quote leg; a fee becomes its own disposal.
func (s *Service) mapTrade(ctx context.Context, assets *assetResolver, accountID int64, t models.ExchangeTrade) ([]models.LedgerTransaction, error) {
	asset, err := assets.resolve(ctx, t.Symbol)
	if err != nil {
		return nil, err
	}

	qty := t.Quantity.Abs()
	leg := func(a *models.Asset, q decimal.NullDecimal, txType models.TxType, suffix string) models.LedgerTransaction {
		return models.LedgerTransaction{
			DateTime:   t.ExecutedAt.UTC(),
			AccountID:  accountID,
			AssetID:    a.ID,
			Asset:      *a,
			Quantity:   q,
			TxType:     txType,
			ExternalID: t.ID + suffix,
			Source:     models.SourceExchange,
			Notes:      string(t.Kind),
		}
	}

	var rows []models.LedgerTransaction
	switch t.Kind {
	case models.TradeKindBuy, models.TradeKindSell:
		sign := decimal.NewFromInt(1)
		if t.Kind == models.TradeKindSell {
			sign = sign.Neg()
		}
		cost := t.Cost
		if !cost.Valid && t.Price.Valid {
			cost = decimal.NewNullDecimal(qty.Mul(t.Price.Decimal))
		}

		main := leg(asset, decimal.NewNullDecimal(qty.Mul(sign)), models.TxTrade, legBase)
		var quote *models.Asset
		if t.Quote != "" {
			if quote, err = assets.resolve(ctx, t.Quote); err != nil {
				return nil, err
			}
		}
		// prices quoted in a non-cash asset have no base value here
		if quote != nil && assets.cashLike(quote) {
			main.UnitPriceInBase, main.TotalValueInBase = valuation(main.Quantity, t.Price, cost)
		}
		rows = append(rows, main)

		if quote != nil {
			var q decimal.NullDecimal
			if cost.Valid {
				q = decimal.NewNullDecimal(cost.Decimal.Abs().Mul(sign.Neg()))
			} else {
				s.logger.Warn().Str("trade_id", t.ID).Str("quote", quote.Symbol).Msg("Trade has no cost; quote leg quantity unknown")
			}
			rows = append(rows, leg(quote, q, models.TxTrade, legQuote))
		}

	case models.TradeKindDeposit, models.TradeKindWithdrawal, models.TradeKindReward:
		txType := models.TxDeposit
		q := qty
		switch t.Kind {
		case models.TradeKindWithdrawal:
			txType = models.TxWithdrawal
			q = q.Neg()
		case models.TradeKindReward:
			txType = models.TxYield
		}
		row := leg(asset, decimal.NewNullDecimal(q), txType, "")
		row.UnitPriceInBase, row.TotalValueInBase = valuation(row.Quantity, t.Price, t.Cost)
		rows = append(rows, row)

	case models.TradeKindTransfer:
		q := qty
		if strings.EqualFold(t.Direction, "out") {
			q = q.Neg()
		}
		row := leg(asset, decimal.NewNullDecimal(q), models.TxTransfer, "")
		row.ExternalReference = strings.TrimSpace(t.Reference)
		rows = append(rows, row)

	default:
		s.logger.Warn().Str("trade_id", t.ID).Str("kind", string(t.Kind)).Msg("Skipping unsupported exchange record")
		return nil, nil
	}

	if t.Fee.Valid && t.Fee.Decimal.IsPositive() {
		feeSymbol := t.FeeSymbol
		if feeSymbol == "" {
			feeSymbol = t.Quote
		}
		if feeSymbol == "" {
			feeSymbol = t.Symbol
		}
		feeAsset, err := assets.resolve(ctx, feeSymbol)
		if err != nil {
			return nil, err
		}
		rows = append(rows, leg(feeAsset, decimal.NewNullDecimal(t.Fee.Decimal.Neg()), models.TxOther, legFee))
	}

	return rows, nil
}

// valuation signs the exchange total like the quantity and fills whichever of
// price and total is missing.
func valuation(qty, price, total decimal.NullDecimal) (decimal.NullDecimal, decimal.NullDecimal) {
	if total.Valid && qty.Valid && qty.Decimal.IsNegative() {
		total = decimal.NewNullDecimal(total.Decimal.Abs().Neg())
	} else if total.Valid {
		total = decimal.NewNullDecimal(total.Decimal.Abs())
	}
	return ledger.DeriveMissingValuation(qty, price, total)
}
