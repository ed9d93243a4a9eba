package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeTradeKind is the exchange-side classification of a fill or movement.
type ExchangeTradeKind string

const (
	TradeKindBuy        ExchangeTradeKind = "buy"
	TradeKindSell       ExchangeTradeKind = "sell"
	TradeKindDeposit    ExchangeTradeKind = "deposit"
	TradeKindWithdrawal ExchangeTradeKind = "withdrawal"
	TradeKindTransfer   ExchangeTradeKind = "transfer"
	TradeKindReward     ExchangeTradeKind = "reward"
)

// ExchangeTrade is one record fetched from an exchange API.
// Quantity is always positive; Kind carries the direction.
type ExchangeTrade struct {
	ID         string              `json:"id"`
	Kind       ExchangeTradeKind   `json:"kind"`
	Symbol     string              `json:"symbol"`
	Quote      string              `json:"quote,omitempty"` // quote asset for buy/sell, e.g. "USDT"
	Quantity   decimal.Decimal     `json:"quantity"`
	Price      decimal.NullDecimal `json:"price"` // per unit, in quote
	Cost       decimal.NullDecimal `json:"cost"`  // total, in quote
	Fee        decimal.NullDecimal `json:"fee"`   // in FeeSymbol
	FeeSymbol  string              `json:"fee_symbol,omitempty"`
	Reference  string              `json:"reference,omitempty"` // txid/transfer id for deposits, withdrawals and transfers
	Direction  string              `json:"direction,omitempty"` // "in" or "out" for transfers
	ExecutedAt time.Time           `json:"executed_at"`
}

// ExchangeBalance is the exchange-reported balance of one symbol.
type ExchangeBalance struct {
	Symbol string          `json:"symbol"`
	Total  decimal.Decimal `json:"total"`
}

// SyncResult summarizes one account sync.
type SyncResult struct {
	AccountID       int64     `json:"account_id"`
	Fetched         int       `json:"fetched"`
	Inserted        int       `json:"inserted"`
	Skipped         int       `json:"skipped"`
	Reconciliations int       `json:"reconciliations"`
	Inconsistent    int       `json:"inconsistent"` // rows whose price and total disagree
	Cursor          time.Time `json:"cursor"`
}
