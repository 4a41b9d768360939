package storage

import (
	"context"
	"fmt"
	"math/big"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
)

type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens (or creates) a pebble database at path.
func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20),
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) Fill(_ context.Context, key common.Hash) (*big.Int, error) {
	data, closer, err := s.db.Get(fillKey(key))
	if err == pebble.ErrNotFound {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fill: %w", err)
	}
	defer closer.Close()
	return decodeFill(data), nil
}

// CommitFills writes all fills in one synced batch.
func (s *PebbleStore) CommitFills(_ context.Context, fills map[common.Hash]*big.Int) error {
	if err := validateFills(fills); err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for k, v := range fills {
		if err := batch.Set(fillKey(k), encodeFill(v), nil); err != nil {
			return fmt.Errorf("failed to stage fill %s: %w", k.Hex(), err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit fills: %w", err)
	}
	return nil
}

// LoadAll scans every stored fill.
func (s *PebbleStore) LoadAll() (map[common.Hash]*big.Int, error) {
	prefix := []byte(prefixFill)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	out := make(map[common.Hash]*big.Int)
	for iter.First(); iter.Valid(); iter.Next() {
		h, ok := hashFromFillKey(iter.Key())
		if !ok {
			continue
		}
		out[h] = decodeFill(iter.Value())
	}
	return out, iter.Error()
}

var _ FillStore = (*PebbleStore)(nil)
