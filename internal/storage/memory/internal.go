package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/bobmcallan/tally/internal/interfaces"
)

// InternalStore is an in-memory system KV.
type InternalStore struct {
	mu sync.RWMutex
	kv map[string]string
}

func NewInternalStore() *InternalStore {
	return &InternalStore{kv: make(map[string]string)}
}

func (s *InternalStore) GetSystemKV(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.kv[key]
	if !ok {
		return "", fmt.Errorf("system KV %s: %w", key, interfaces.ErrNotFound)
	}
	return v, nil
}

func (s *InternalStore) SetSystemKV(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return nil
}

var _ interfaces.InternalStore = (*InternalStore)(nil)
