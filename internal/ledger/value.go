// Package ledger replays ledger transactions into per-account positions,
// tracking weighted-average cost basis and reconciling transfer legs.
//
// The engine is pure: it performs no I/O, holds no global state and produces
// the same positions and diagnostics for any ordering of the same input.
package ledger

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/shopspring/decimal"
)

var (
	// zeroEpsilon is the band within which a reconciled quantity snaps to zero.
	zeroEpsilon = decimal.New(1, -12)
	// valuationZero treats totals below this magnitude as zero-valued rows.
	valuationZero = decimal.New(1, -7)
)

// Options holds the engine's tolerance policy.
type Options struct {
	// AbsTolerance and RelTolerance bound the quantity mismatch between two
	// transfer legs that still counts as an exact match (either suffices).
	AbsTolerance decimal.Decimal
	RelTolerance decimal.Decimal

	// ValuationAbsTolerance and ValuationRelTolerance bound the disagreement
	// between quantity*unit price and total value (the larger applies).
	ValuationAbsTolerance decimal.Decimal
	ValuationRelTolerance decimal.Decimal

	// CashSymbols are symbols always treated as cash-like, compared case-insensitively.
	CashSymbols []string
}

// DefaultOptions returns the stock tolerance policy.
func DefaultOptions() Options {
	return Options{
		AbsTolerance:          decimal.New(1, -6),
		RelTolerance:          decimal.New(1, -2),
		ValuationAbsTolerance: decimal.New(1, -2),
		ValuationRelTolerance: decimal.New(25, -4),
		CashSymbols:           []string{"USD", "USDT", "USDC"},
	}
}

// NewOptions builds Options from the [ledger] config section.
func NewOptions(cfg common.LedgerConfig) Options {
	opts := DefaultOptions()
	if cfg.AbsTolerance > 0 {
		opts.AbsTolerance = decimal.NewFromFloat(cfg.AbsTolerance)
	}
	if cfg.RelTolerance > 0 {
		opts.RelTolerance = decimal.NewFromFloat(cfg.RelTolerance)
	}
	if cfg.ValuationAbsTolerance > 0 {
		opts.ValuationAbsTolerance = decimal.NewFromFloat(cfg.ValuationAbsTolerance)
	}
	if cfg.ValuationRelTolerance > 0 {
		opts.ValuationRelTolerance = decimal.NewFromFloat(cfg.ValuationRelTolerance)
	}
	if len(cfg.CashSymbols) > 0 {
		opts.CashSymbols = append([]string(nil), cfg.CashSymbols...)
	}
	return opts
}

// ParseValue converts a loosely typed numeric value into a decimal.
// nil, unparseable strings and non-finite floats yield an invalid result; it never panics.
func ParseValue(v any) decimal.NullDecimal {
	switch n := v.(type) {
	case nil:
		return decimal.NullDecimal{}
	case decimal.Decimal:
		return decimal.NewNullDecimal(n)
	case *decimal.Decimal:
		if n == nil {
			return decimal.NullDecimal{}
		}
		return decimal.NewNullDecimal(*n)
	case decimal.NullDecimal:
		return n
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return decimal.NullDecimal{}
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.NullDecimal{}
		}
		return decimal.NewNullDecimal(d)
	case json.Number:
		return ParseValue(string(n))
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.NullDecimal{}
		}
		return decimal.NewNullDecimal(decimal.NewFromFloat(n))
	case float32:
		return ParseValue(float64(n))
	case int:
		return decimal.NewNullDecimal(decimal.NewFromInt(int64(n)))
	case int32:
		return decimal.NewNullDecimal(decimal.NewFromInt32(n))
	case int64:
		return decimal.NewNullDecimal(decimal.NewFromInt(n))
	case uint64:
		return decimal.NewNullDecimal(decimal.NewFromUint64(n))
	default:
		return decimal.NullDecimal{}
	}
}

// IsCashLike reports whether an asset is valued at one base unit per unit held.
func (o Options) IsCashLike(asset models.Asset) bool {
	if asset.Type == models.AssetTypeCash || asset.Type == models.AssetTypeStable {
		return true
	}
	if asset.VolatilityBucket == models.BucketCashLike {
		return true
	}
	sym := strings.TrimSpace(asset.Symbol)
	if sym == "" {
		return false
	}
	for _, s := range o.CashSymbols {
		if strings.EqualFold(s, sym) {
			return true
		}
	}
	return false
}

// ValuationConsistent reports whether quantity*unitPrice agrees with totalValue.
// Rows missing either price field are unconstrained.
func (o Options) ValuationConsistent(quantity, unitPrice, totalValue decimal.NullDecimal) bool {
	if !unitPrice.Valid || !totalValue.Valid {
		return true
	}
	if !quantity.Valid {
		return false
	}

	expected := quantity.Decimal.Mul(unitPrice.Decimal)
	total := totalValue.Decimal
	if total.Abs().LessThan(valuationZero) {
		return expected.Abs().LessThan(valuationZero)
	}

	allowed := decimal.Max(o.ValuationAbsTolerance, o.ValuationRelTolerance.Mul(total.Abs()))
	return expected.Sub(total).Abs().LessThanOrEqual(allowed)
}

// DeriveMissingValuation fills whichever of unitPrice or totalValue is absent
// from the other, preserving sign. It is a no-op unless exactly one is present
// and quantity is nonzero.
func DeriveMissingValuation(quantity, unitPrice, totalValue decimal.NullDecimal) (decimal.NullDecimal, decimal.NullDecimal) {
	if !quantity.Valid || quantity.Decimal.IsZero() {
		return unitPrice, totalValue
	}
	switch {
	case unitPrice.Valid && !totalValue.Valid:
		return unitPrice, decimal.NewNullDecimal(quantity.Decimal.Mul(unitPrice.Decimal))
	case !unitPrice.Valid && totalValue.Valid:
		return decimal.NewNullDecimal(totalValue.Decimal.Div(quantity.Decimal)), totalValue
	default:
		return unitPrice, totalValue
	}
}

// clampSub returns a-b floored at zero.
func clampSub(a, b decimal.Decimal) decimal.Decimal {
	d := a.Sub(b)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
