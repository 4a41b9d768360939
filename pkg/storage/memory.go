package storage

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type MemoryStore struct {
	mu    sync.Mutex
	fills map[common.Hash]*big.Int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{fills: make(map[common.Hash]*big.Int)}
}

func (s *MemoryStore) Fill(_ context.Context, key common.Hash) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.fills[key]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (s *MemoryStore) CommitFills(_ context.Context, fills map[common.Hash]*big.Int) error {
	if err := validateFills(fills); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range fills {
		s.fills[k] = new(big.Int).Set(v)
	}
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fills)
}

func (s *MemoryStore) Close() error { return nil }

var _ FillStore = (*MemoryStore)(nil)
