package surrealdb

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// queryRows runs a single-statement query and returns its rows.
func queryRows[T any](ctx context.Context, db *surrealdb.DB, sql string, vars map[string]any) ([]T, error) {
	results, err := surrealdb.Query[[]T](ctx, db, sql, vars)
	if err != nil {
		return nil, err
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

type counterRow struct {
	Value int64 `json:"value"`
}

// nextSequence increments and returns a named counter.
func nextSequence(ctx context.Context, db *surrealdb.DB, name string) (int64, error) {
	sql := "UPSERT $rid SET value += 1 RETURN AFTER"
	vars := map[string]any{"rid": surrealmodels.NewRecordID("counter", name)}

	rows, err := queryRows[counterRow](ctx, db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to advance %s sequence: %w", name, err)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("failed to advance %s sequence: no result", name)
	}
	return rows[0].Value, nil
}

// raiseSequence lifts a counter to at least floor, for rows inserted with explicit ids.
func raiseSequence(ctx context.Context, db *surrealdb.DB, name string, floor int64) error {
	sql := "UPSERT $rid SET value = math::max([value ?? 0, $floor])"
	vars := map[string]any{"rid": surrealmodels.NewRecordID("counter", name), "floor": floor}
	if _, err := surrealdb.Query[any](ctx, db, sql, vars); err != nil {
		return fmt.Errorf("failed to raise %s sequence: %w", name, err)
	}
	return nil
}

// Decimals are stored as strings so no precision is lost on the wire.

func decimalToString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func stringToDecimal(s *string) decimal.NullDecimal {
	if s == nil || *s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
