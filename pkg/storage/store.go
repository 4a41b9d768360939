package storage

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

var ErrInvalidFill = errors.New("fill value out of range")

// Cancelled is the fill value that marks an order as cancelled.
var Cancelled = new(big.Int).Set(math.MaxBig256)

// FillStore maps an order key to the cumulative amount of its take asset the
// maker has received. Absent keys read as zero.
type FillStore interface {
	Fill(ctx context.Context, key common.Hash) (*big.Int, error)
	// CommitFills writes every entry or none of them.
	CommitFills(ctx context.Context, fills map[common.Hash]*big.Int) error
	Close() error
}

func IsCancelled(v *big.Int) bool { return v != nil && v.Cmp(Cancelled) == 0 }

func checkFill(v *big.Int) error {
	if v == nil || v.Sign() < 0 || v.BitLen() > 256 {
		return ErrInvalidFill
	}
	return nil
}

func validateFills(fills map[common.Hash]*big.Int) error {
	for k, v := range fills {
		if err := checkFill(v); err != nil {
			return &FillError{Key: k, Err: err}
		}
	}
	return nil
}

type FillError struct {
	Key common.Hash
	Err error
}

func (e *FillError) Error() string { return "fill " + e.Key.Hex() + ": " + e.Err.Error() }
func (e *FillError) Unwrap() error { return e.Err }
