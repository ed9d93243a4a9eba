// Package models defines data structures for Tally
package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TxType categorizes a ledger transaction.
type TxType string

const (
	TxDeposit        TxType = "DEPOSIT"
	TxWithdrawal     TxType = "WITHDRAWAL"
	TxTrade          TxType = "TRADE"
	TxYield          TxType = "YIELD"
	TxNFTTrade       TxType = "NFT_TRADE"
	TxOfflineTrade   TxType = "OFFLINE_TRADE"
	TxOther          TxType = "OTHER"
	TxHedge          TxType = "HEDGE"
	TxTransfer       TxType = "TRANSFER"
	TxReconciliation TxType = "RECONCILIATION"
	TxCostBasisReset TxType = "COST_BASIS_RESET"
)

// validTxTypes lists all accepted transaction types.
var validTxTypes = map[TxType]bool{
	TxDeposit:        true,
	TxWithdrawal:     true,
	TxTrade:          true,
	TxYield:          true,
	TxNFTTrade:       true,
	TxOfflineTrade:   true,
	TxOther:          true,
	TxHedge:          true,
	TxTransfer:       true,
	TxReconciliation: true,
	TxCostBasisReset: true,
}

// ValidTxType returns true if t is a known transaction type.
func ValidTxType(t TxType) bool {
	return validTxTypes[t]
}

// Reference prefixes with reserved meaning.
const (
	// ManualMatchPrefix marks a user- or sync-confirmed transfer pairing token.
	ManualMatchPrefix = "MATCH:"
	// ResetReferencePrefix tags COST_BASIS_RESET rows written by a recalculation run.
	ResetReferencePrefix = "RESET:"
)

// IsManualMatch reports whether an external reference carries a manual pairing token.
func IsManualMatch(ref string) bool {
	return strings.HasPrefix(ref, ManualMatchPrefix)
}

// AssetType classifies an asset.
type AssetType string

const (
	AssetTypeCash   AssetType = "CASH"
	AssetTypeStable AssetType = "STABLE"
	AssetTypeCrypto AssetType = "CRYPTO"
	AssetTypeEquity AssetType = "EQUITY"
	AssetTypeNFT    AssetType = "NFT"
	AssetTypeOther  AssetType = "OTHER"
)

// VolatilityBucket groups assets by expected price behaviour.
type VolatilityBucket string

const (
	BucketCashLike VolatilityBucket = "CASH_LIKE"
	BucketLow      VolatilityBucket = "LOW"
	BucketMedium   VolatilityBucket = "MEDIUM"
	BucketHigh     VolatilityBucket = "HIGH"
)

// Asset is a tradeable or holdable instrument.
type Asset struct {
	ID               int64            `json:"id"`
	Symbol           string           `json:"symbol"`
	Name             string           `json:"name,omitempty"`
	Type             AssetType        `json:"type"`
	VolatilityBucket VolatilityBucket `json:"volatility_bucket,omitempty"`
}

// LedgerTransaction is one signed movement of an asset in an account.
// Positive Quantity increases holdings, negative decreases them.
type LedgerTransaction struct {
	ID                int64               `json:"id"`
	DateTime          time.Time           `json:"date_time"`
	AccountID         int64               `json:"account_id"`
	AssetID           int64               `json:"asset_id"`
	Asset             Asset               `json:"asset"` // joined on load, not persisted
	Quantity          decimal.NullDecimal `json:"quantity"`
	TxType            TxType              `json:"tx_type"`
	ExternalReference string              `json:"external_reference,omitempty"`
	UnitPriceInBase   decimal.NullDecimal `json:"unit_price_in_base"`
	TotalValueInBase  decimal.NullDecimal `json:"total_value_in_base"`

	// Sync bookkeeping
	ExternalID string    `json:"external_id,omitempty"` // exchange-side id, unique per account
	Source     string    `json:"source,omitempty"`      // "manual", "exchange", "recalc"
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Transaction sources
const (
	SourceManual   = "manual"
	SourceExchange = "exchange"
	SourceRecalc   = "recalc"
)

// TransactionFilter narrows a transaction listing.
type TransactionFilter struct {
	AsOf      time.Time // zero = no upper bound; inclusive
	AccountID int64     // 0 = all accounts
	AssetID   int64     // 0 = all assets
	Types     []TxType  // empty = all types
}

// Matches reports whether tx passes the filter.
func (f TransactionFilter) Matches(tx *LedgerTransaction) bool {
	if !f.AsOf.IsZero() && tx.DateTime.After(f.AsOf) {
		return false
	}
	if f.AccountID != 0 && tx.AccountID != f.AccountID {
		return false
	}
	if f.AssetID != 0 && tx.AssetID != f.AssetID {
		return false
	}
	if len(f.Types) > 0 {
		for _, t := range f.Types {
			if tx.TxType == t {
				return true
			}
		}
		return false
	}
	return true
}
