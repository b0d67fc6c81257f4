package ratelimit

import (
	"context"
	"errors"
	"sync"
)

// ErrContention is returned when an atomic update keeps losing races.
var ErrContention = errors.New("ratelimit: store contention")

// UpdateFunc computes the next value from the current one. It must be pure:
// stores may call it several times for one Update.
type UpdateFunc func(cur []byte) (next []byte, err error)

// Store is the shared counter store. Update must be atomic across every
// process using the store (no read-modify-write races).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Update(ctx context.Context, key string, fn UpdateFunc) ([]byte, error)
}

// MemoryStore is a process-local Store for dev mode and tests.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *MemoryStore) Update(ctx context.Context, key string, fn UpdateFunc) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(s.data[key])
	if err != nil {
		return nil, err
	}
	s.data[key] = next
	return next, nil
}
