package surrealdb

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

const assetSequence = "asset"

type assetRow struct {
	AssetID          int64  `json:"asset_id"`
	Symbol           string `json:"symbol"`
	SymbolKey        string `json:"symbol_key"` // upper-cased symbol for case-insensitive lookup
	Name             string `json:"name"`
	Type             string `json:"type"`
	VolatilityBucket string `json:"volatility_bucket"`
}

func (r assetRow) toModel() models.Asset {
	return models.Asset{
		ID:               r.AssetID,
		Symbol:           r.Symbol,
		Name:             r.Name,
		Type:             models.AssetType(r.Type),
		VolatilityBucket: models.VolatilityBucket(r.VolatilityBucket),
	}
}

// AssetStore implements interfaces.AssetStore using SurrealDB.
type AssetStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewAssetStore creates a new AssetStore.
func NewAssetStore(db *surrealdb.DB, logger *common.Logger) *AssetStore {
	return &AssetStore{db: db, logger: logger}
}

func (s *AssetStore) Save(ctx context.Context, asset *models.Asset) error {
	if strings.TrimSpace(asset.Symbol) == "" {
		return fmt.Errorf("asset symbol is required")
	}
	if asset.ID == 0 {
		id, err := nextSequence(ctx, s.db, assetSequence)
		if err != nil {
			return err
		}
		asset.ID = id
	} else if err := raiseSequence(ctx, s.db, assetSequence, asset.ID); err != nil {
		return err
	}

	row := assetRow{
		AssetID:          asset.ID,
		Symbol:           asset.Symbol,
		SymbolKey:        strings.ToUpper(strings.TrimSpace(asset.Symbol)),
		Name:             asset.Name,
		Type:             string(asset.Type),
		VolatilityBucket: string(asset.VolatilityBucket),
	}
	sql := "UPSERT $rid CONTENT $row"
	vars := map[string]any{"rid": surrealmodels.NewRecordID("asset", asset.ID), "row": row}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to save asset %s: %w", asset.Symbol, err)
	}
	return nil
}

func (s *AssetStore) Get(ctx context.Context, id int64) (*models.Asset, error) {
	rows, err := queryRows[assetRow](ctx, s.db, "SELECT * FROM $rid", map[string]any{"rid": surrealmodels.NewRecordID("asset", id)})
	if err != nil {
		return nil, fmt.Errorf("failed to select asset: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("asset %d: %w", id, interfaces.ErrNotFound)
	}
	a := rows[0].toModel()
	return &a, nil
}

func (s *AssetStore) GetBySymbol(ctx context.Context, symbol string) (*models.Asset, error) {
	sql := "SELECT * FROM asset WHERE symbol_key = $key LIMIT 1"
	rows, err := queryRows[assetRow](ctx, s.db, sql, map[string]any{"key": strings.ToUpper(strings.TrimSpace(symbol))})
	if err != nil {
		return nil, fmt.Errorf("failed to select asset: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("asset %s: %w", symbol, interfaces.ErrNotFound)
	}
	a := rows[0].toModel()
	return &a, nil
}

func (s *AssetStore) List(ctx context.Context) ([]models.Asset, error) {
	rows, err := queryRows[assetRow](ctx, s.db, "SELECT * FROM asset", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	out := make([]models.Asset, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Compile-time check
var _ interfaces.AssetStore = (*AssetStore)(nil)
