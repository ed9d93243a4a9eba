package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/tally/internal/common"
)

func TestNewStorageManager_Memory(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.Storage.Backend = " Memory "

	m, err := NewStorageManager(common.NewSilentLogger(), cfg)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, BackendMemory, m.Backend())
	assert.NotNil(t, m.TransactionStore())
	assert.NotNil(t, m.JobQueueStore())
}

func TestNewStorageManager_UnknownBackend(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.Storage.Backend = "badger"

	_, err := NewStorageManager(common.NewSilentLogger(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage backend")
}

func TestNewStorageManager_SurrealUnreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for connection retries")
	}
	old := connectTimeout
	connectTimeout = 1500 * time.Millisecond
	defer func() { connectTimeout = old }()

	cfg := common.NewDefaultConfig()
	cfg.Storage.Address = "ws://127.0.0.1:1/rpc"

	_, err := NewStorageManager(common.NewSilentLogger(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open SurrealDB storage")
}
