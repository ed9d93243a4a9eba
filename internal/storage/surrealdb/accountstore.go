package surrealdb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

const accountSequence = "account"

type accountRow struct {
	AccountID    int64     `json:"account_id"`
	Name         string    `json:"name"`
	Exchange     string    `json:"exchange"`
	ExchangeRef  string    `json:"exchange_ref"`
	BaseCurrency string    `json:"base_currency"`
	LastSyncedAt time.Time `json:"last_synced_at"`
	CreatedAt    time.Time `json:"created_at"`
}

func (r accountRow) toModel() models.Account {
	return models.Account{
		ID:           r.AccountID,
		Name:         r.Name,
		Exchange:     r.Exchange,
		ExchangeRef:  r.ExchangeRef,
		BaseCurrency: r.BaseCurrency,
		LastSyncedAt: r.LastSyncedAt,
		CreatedAt:    r.CreatedAt,
	}
}

// AccountStore implements interfaces.AccountStore using SurrealDB.
type AccountStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewAccountStore creates a new AccountStore.
func NewAccountStore(db *surrealdb.DB, logger *common.Logger) *AccountStore {
	return &AccountStore{db: db, logger: logger}
}

func (s *AccountStore) Save(ctx context.Context, account *models.Account) error {
	if account.ID == 0 {
		id, err := nextSequence(ctx, s.db, accountSequence)
		if err != nil {
			return err
		}
		account.ID = id
	} else if err := raiseSequence(ctx, s.db, accountSequence, account.ID); err != nil {
		return err
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}

	row := accountRow{
		AccountID:    account.ID,
		Name:         account.Name,
		Exchange:     account.Exchange,
		ExchangeRef:  account.ExchangeRef,
		BaseCurrency: account.BaseCurrency,
		LastSyncedAt: account.LastSyncedAt.UTC(),
		CreatedAt:    account.CreatedAt.UTC(),
	}
	sql := "UPSERT $rid CONTENT $row"
	vars := map[string]any{"rid": surrealmodels.NewRecordID("account", account.ID), "row": row}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (s *AccountStore) Get(ctx context.Context, id int64) (*models.Account, error) {
	rows, err := queryRows[accountRow](ctx, s.db, "SELECT * FROM $rid", map[string]any{"rid": surrealmodels.NewRecordID("account", id)})
	if err != nil {
		return nil, fmt.Errorf("failed to select account: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("account %d: %w", id, interfaces.ErrNotFound)
	}
	a := rows[0].toModel()
	return &a, nil
}

func (s *AccountStore) List(ctx context.Context) ([]models.Account, error) {
	rows, err := queryRows[accountRow](ctx, s.db, "SELECT * FROM account", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	out := make([]models.Account, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *AccountStore) MarkSynced(ctx context.Context, id int64, at time.Time) error {
	sql := "UPDATE $rid SET last_synced_at = $at RETURN AFTER"
	vars := map[string]any{"rid": surrealmodels.NewRecordID("account", id), "at": at.UTC()}
	rows, err := queryRows[accountRow](ctx, s.db, sql, vars)
	if err != nil {
		return fmt.Errorf("failed to mark account synced: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("account %d: %w", id, interfaces.ErrNotFound)
	}
	return nil
}

// Compile-time check
var _ interfaces.AccountStore = (*AccountStore)(nil)
