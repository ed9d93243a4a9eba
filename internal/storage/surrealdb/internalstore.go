package surrealdb

import (
	"context"
	"fmt"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

type sysKV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// InternalStore implements interfaces.InternalStore using SurrealDB.
type InternalStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewInternalStore(db *surrealdb.DB, logger *common.Logger) *InternalStore {
	return &InternalStore{
		db:     db,
		logger: logger,
	}
}

func (s *InternalStore) GetSystemKV(ctx context.Context, key string) (string, error) {
	rows, err := queryRows[sysKV](ctx, s.db, "SELECT key, value FROM $rid", map[string]any{"rid": surrealmodels.NewRecordID("system_kv", key)})
	if err != nil {
		return "", fmt.Errorf("failed to select system KV: %w", err)
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("system KV %s: %w", key, interfaces.ErrNotFound)
	}
	return rows[0].Value, nil
}

func (s *InternalStore) SetSystemKV(ctx context.Context, key, value string) error {
	sql := "UPSERT type::record('system_kv', $id) CONTENT $kv"
	vars := map[string]any{"id": key, "kv": sysKV{Key: key, Value: value}}

	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[[]sysKV](ctx, s.db, sql, vars)
		if err == nil {
			return nil
		}
		if attempt == 3 {
			return fmt.Errorf("failed to set system KV after retries: %w", err)
		}
	}
	return nil
}

// Compile-time check
var _ interfaces.InternalStore = (*InternalStore)(nil)
