// Package storage selects and opens the configured storage backend.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/storage/memory"
	"github.com/bobmcallan/tally/internal/storage/surrealdb"
)

// Backend type constants.
const (
	BackendSurrealDB = "surrealdb"
	BackendMemory    = "memory"
)

// connectTimeout bounds how long startup waits for SurrealDB to accept connections.
var connectTimeout = 30 * time.Second

// NewStorageManager opens the backend named by config.Storage.Backend.
// Supported backends: "surrealdb" (default) and "memory".
func NewStorageManager(logger *common.Logger, config *common.Config) (interfaces.StorageManager, error) {
	backend := strings.ToLower(strings.TrimSpace(config.Storage.Backend))
	if backend == "" {
		backend = BackendSurrealDB
	}

	switch backend {
	case BackendMemory:
		logger.Warn().Msg("Using in-memory storage; data is lost on exit")
		return memory.NewManager(logger), nil

	case BackendSurrealDB:
		return connectSurreal(logger, config)

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: surrealdb, memory)", backend)
	}
}

// connectSurreal retries the initial connection so the server can start
// alongside a database container that is still booting.
func connectSurreal(logger *common.Logger, config *common.Config) (*surrealdb.Manager, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = connectTimeout

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	var m *surrealdb.Manager
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		m, err = surrealdb.NewManager(logger, config)
		if err != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Str("address", config.Storage.Address).Msg("SurrealDB not ready")
		}
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to open SurrealDB storage after %d attempts: %w", attempt, err)
	}
	return m, nil
}
