package storage

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Overlay stages fill writes on top of a FillStore so that a batch can read
// its own uncommitted updates. Nothing reaches the base store until Commit.
// Not safe for concurrent use.
type Overlay struct {
	base   FillStore
	staged map[common.Hash]*big.Int
}

func NewOverlay(base FillStore) *Overlay {
	return &Overlay{base: base, staged: make(map[common.Hash]*big.Int)}
}

func (o *Overlay) Fill(ctx context.Context, key common.Hash) (*big.Int, error) {
	if v, ok := o.staged[key]; ok {
		return new(big.Int).Set(v), nil
	}
	return o.base.Fill(ctx, key)
}

func (o *Overlay) Set(key common.Hash, v *big.Int) {
	o.staged[key] = new(big.Int).Set(v)
}

// Staged returns a copy of the pending writes.
func (o *Overlay) Staged() map[common.Hash]*big.Int {
	out := make(map[common.Hash]*big.Int, len(o.staged))
	for k, v := range o.staged {
		out[k] = new(big.Int).Set(v)
	}
	return out
}

// Previous reads the committed values of every staged key.
func (o *Overlay) Previous(ctx context.Context) (map[common.Hash]*big.Int, error) {
	out := make(map[common.Hash]*big.Int, len(o.staged))
	for k := range o.staged {
		v, err := o.base.Fill(ctx, k)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// Commit flushes the staged writes atomically and clears them.
func (o *Overlay) Commit(ctx context.Context) error {
	if len(o.staged) == 0 {
		return nil
	}
	if err := o.base.CommitFills(ctx, o.staged); err != nil {
		return err
	}
	o.staged = make(map[common.Hash]*big.Int)
	return nil
}
