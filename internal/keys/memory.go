package keys

import (
	"bytes"
	"context"
	"sync"
)

// MemoryStore is a process-lifetime Store.
type MemoryStore struct {
	mu sync.Mutex
	m  map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, alias string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[alias]
	if !ok {
		return nil, ErrNoSuchKey
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) Create(_ context.Context, alias string, material []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.m[alias]; ok {
		return append([]byte(nil), v...), nil
	}
	s.m[alias] = append([]byte(nil), material...)
	return append([]byte(nil), material...), nil
}

func (s *MemoryStore) Replace(_ context.Context, alias string, old, material []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[alias]
	if !ok {
		return false, ErrNoSuchKey
	}
	if !bytes.Equal(v, old) {
		return false, nil
	}
	s.m[alias] = append([]byte(nil), material...)
	return true, nil
}
