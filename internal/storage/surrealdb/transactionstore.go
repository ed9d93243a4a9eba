package surrealdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

const txSequence = "ledger_tx"

// txRow is the persisted shape of a ledger transaction.
type txRow struct {
	TxID              int64     `json:"tx_id"`
	DateTime          time.Time `json:"date_time"`
	AccountID         int64     `json:"account_id"`
	AssetID           int64     `json:"asset_id"`
	Quantity          *string   `json:"quantity"`
	UnitPriceInBase   *string   `json:"unit_price_in_base"`
	TotalValueInBase  *string   `json:"total_value_in_base"`
	TxType            string    `json:"tx_type"`
	ExternalReference string    `json:"external_reference"`
	ExternalID        string    `json:"external_id"`
	Source            string    `json:"source"`
	Notes             string    `json:"notes"`
	CreatedAt         time.Time `json:"created_at"`
}

func toTxRow(tx *models.LedgerTransaction) txRow {
	return txRow{
		TxID:              tx.ID,
		DateTime:          tx.DateTime.UTC(),
		AccountID:         tx.AccountID,
		AssetID:           tx.AssetID,
		Quantity:          decimalToString(tx.Quantity),
		UnitPriceInBase:   decimalToString(tx.UnitPriceInBase),
		TotalValueInBase:  decimalToString(tx.TotalValueInBase),
		TxType:            string(tx.TxType),
		ExternalReference: tx.ExternalReference,
		ExternalID:        tx.ExternalID,
		Source:            tx.Source,
		Notes:             tx.Notes,
		CreatedAt:         tx.CreatedAt.UTC(),
	}
}

func (r txRow) toModel() models.LedgerTransaction {
	return models.LedgerTransaction{
		ID:                r.TxID,
		DateTime:          r.DateTime.UTC(),
		AccountID:         r.AccountID,
		AssetID:           r.AssetID,
		Quantity:          stringToDecimal(r.Quantity),
		UnitPriceInBase:   stringToDecimal(r.UnitPriceInBase),
		TotalValueInBase:  stringToDecimal(r.TotalValueInBase),
		TxType:            models.TxType(r.TxType),
		ExternalReference: r.ExternalReference,
		ExternalID:        r.ExternalID,
		Source:            r.Source,
		Notes:             r.Notes,
		CreatedAt:         r.CreatedAt,
	}
}

// TransactionStore implements interfaces.TransactionStore using SurrealDB.
type TransactionStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewTransactionStore creates a new TransactionStore.
func NewTransactionStore(db *surrealdb.DB, logger *common.Logger) *TransactionStore {
	return &TransactionStore{db: db, logger: logger}
}

func (s *TransactionStore) Insert(ctx context.Context, tx *models.LedgerTransaction) error {
	if tx.ID == 0 {
		id, err := nextSequence(ctx, s.db, txSequence)
		if err != nil {
			return err
		}
		tx.ID = id
	} else if err := raiseSequence(ctx, s.db, txSequence, tx.ID); err != nil {
		return err
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}

	sql := "UPSERT $rid CONTENT $row"
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID("ledger_tx", tx.ID),
		"row": toTxRow(tx),
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (s *TransactionStore) UpsertByExternalID(ctx context.Context, tx *models.LedgerTransaction) (bool, error) {
	if tx.ExternalID == "" {
		return false, fmt.Errorf("external id is required")
	}

	sql := "SELECT * FROM ledger_tx WHERE account_id = $account AND external_id = $ext LIMIT 1"
	vars := map[string]any{"account": tx.AccountID, "ext": tx.ExternalID}
	rows, err := queryRows[txRow](ctx, s.db, sql, vars)
	if err != nil {
		return false, fmt.Errorf("failed to look up external id: %w", err)
	}
	if len(rows) > 0 {
		tx.ID = rows[0].TxID
		return false, nil
	}

	if err := s.Insert(ctx, tx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *TransactionStore) Get(ctx context.Context, id int64) (*models.LedgerTransaction, error) {
	sql := "SELECT * FROM $rid"
	rows, err := queryRows[txRow](ctx, s.db, sql, map[string]any{"rid": surrealmodels.NewRecordID("ledger_tx", id)})
	if err != nil {
		return nil, fmt.Errorf("failed to select transaction: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("transaction %d: %w", id, interfaces.ErrNotFound)
	}
	tx := rows[0].toModel()
	s.join(ctx, []models.LedgerTransaction{tx})
	return &tx, nil
}

func (s *TransactionStore) List(ctx context.Context, filter models.TransactionFilter) ([]models.LedgerTransaction, error) {
	var where []string
	vars := map[string]any{}
	if !filter.AsOf.IsZero() {
		where = append(where, "date_time <= $as_of")
		vars["as_of"] = filter.AsOf.UTC()
	}
	if filter.AccountID != 0 {
		where = append(where, "account_id = $account")
		vars["account"] = filter.AccountID
	}
	if filter.AssetID != 0 {
		where = append(where, "asset_id = $asset")
		vars["asset"] = filter.AssetID
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		where = append(where, "tx_type IN $types")
		vars["types"] = types
	}

	sql := "SELECT * FROM ledger_tx"
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := queryRows[txRow](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	out := make([]models.LedgerTransaction, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	s.join(ctx, out)
	return out, nil
}

// join attaches asset details to each row. A failed asset load leaves bare ids;
// the engine then treats the assets as non-cash.
func (s *TransactionStore) join(ctx context.Context, txs []models.LedgerTransaction) {
	if len(txs) == 0 {
		return
	}
	rows, err := queryRows[assetRow](ctx, s.db, "SELECT * FROM asset", nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to load assets for transaction join")
	}
	assets := make(map[int64]models.Asset, len(rows))
	for _, r := range rows {
		assets[r.AssetID] = r.toModel()
	}
	for i := range txs {
		if a, ok := assets[txs[i].AssetID]; ok {
			txs[i].Asset = a
		} else {
			txs[i].Asset = models.Asset{ID: txs[i].AssetID}
		}
	}
}

func (s *TransactionStore) SetExternalReference(ctx context.Context, id int64, ref string) error {
	sql := "UPDATE $rid SET external_reference = $ref RETURN tx_id"
	vars := map[string]any{"rid": surrealmodels.NewRecordID("ledger_tx", id), "ref": ref}

	rows, err := queryRows[txRow](ctx, s.db, sql, vars)
	if err != nil {
		return fmt.Errorf("failed to set external reference: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("transaction %d: %w", id, interfaces.ErrNotFound)
	}
	return nil
}

func (s *TransactionStore) DeleteResetsFrom(ctx context.Context, from time.Time) (int, error) {
	sql := "DELETE FROM ledger_tx WHERE tx_type = $reset AND date_time >= $from RETURN BEFORE"
	vars := map[string]any{"reset": string(models.TxCostBasisReset), "from": from.UTC()}

	rows, err := queryRows[txRow](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to delete reset rows: %w", err)
	}
	return len(rows), nil
}

func (s *TransactionStore) Delete(ctx context.Context, id int64) error {
	sql := "DELETE $rid RETURN BEFORE"
	rows, err := queryRows[txRow](ctx, s.db, sql, map[string]any{"rid": surrealmodels.NewRecordID("ledger_tx", id)})
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("transaction %d: %w", id, interfaces.ErrNotFound)
	}
	return nil
}

// Compile-time check
var _ interfaces.TransactionStore = (*TransactionStore)(nil)
