// Package interfaces defines service contracts for Tally
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/tally/internal/models"
)

// ExchangeClient provides access to an exchange's account API
type ExchangeClient interface {
	// GetTrades retrieves trades and movements executed after since, oldest first.
	GetTrades(ctx context.Context, accountRef string, since time.Time) ([]models.ExchangeTrade, error)

	// GetBalances retrieves current balances for the account.
	GetBalances(ctx context.Context, accountRef string) ([]models.ExchangeBalance, error)
}
