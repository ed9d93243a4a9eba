package models

import "time"

// Account is a place assets are held: an exchange account, a broker, a wallet.
type Account struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Exchange     string    `json:"exchange,omitempty"`     // non-empty when the account syncs from an exchange API
	ExchangeRef  string    `json:"exchange_ref,omitempty"` // exchange-side account id; Name when empty
	BaseCurrency string    `json:"base_currency,omitempty"`
	LastSyncedAt time.Time `json:"last_synced_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsExchangeLinked returns true when the account has an exchange to sync from.
func (a *Account) IsExchangeLinked() bool {
	return a.Exchange != ""
}

// ExchangeAccountRef returns the identifier the exchange knows this account by.
func (a *Account) ExchangeAccountRef() string {
	if a.ExchangeRef != "" {
		return a.ExchangeRef
	}
	return a.Name
}
