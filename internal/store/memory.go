package store

import (
	"context"
	"sync"
)

// MemoryStore keeps values in process memory. It backs tests and serves as
// the failover fallback when the durable backend is down.
type MemoryStore struct {
	values sync.Map
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	s.values.Store(key, cp)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, ok := s.values.Load(key)
	if !ok {
		return nil, nil
	}
	return val.([]byte), nil
}

func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	s.values.Delete(key)
	return nil
}
