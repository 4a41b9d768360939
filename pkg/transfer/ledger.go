package transfer

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/marketplace/pkg/asset"
)

type holding struct {
	owner common.Address
	kind  string
}

func kindOf(t asset.Type) string {
	return string(append([]byte{byte(t.Class())}, t.Data()...))
}

// Ledger is an in-memory balance book implementing every transfer variant.
// Execute is atomic: the whole list is checked on a scratch copy first.
type Ledger struct {
	mu       sync.Mutex
	balances map[holding]*big.Int
	types    map[string]asset.Type
	journal  []Transfer
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[holding]*big.Int),
		types:    make(map[string]asset.Type),
	}
}

// Mint credits owner with a.
func (l *Ledger) Mint(owner common.Address, a asset.Asset) error {
	if !a.Type.Class().Valid() {
		return fmt.Errorf("%w: %d", asset.ErrInvalidAssetClass, a.Type.Class())
	}
	if a.Value == nil || a.Value.Sign() < 0 {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	k := holding{owner: owner, kind: kindOf(a.Type)}
	l.types[k.kind] = a.Type
	l.balances[k] = new(big.Int).Add(l.balanceLocked(k), a.Value)
	return nil
}

func (l *Ledger) balanceLocked(k holding) *big.Int {
	if v, ok := l.balances[k]; ok {
		return v
	}
	return new(big.Int)
}

func (l *Ledger) Balance(owner common.Address, t asset.Type) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceLocked(holding{owner: owner, kind: kindOf(t)}))
}

// Holdings lists every non-zero balance of owner.
func (l *Ledger) Holdings(owner common.Address) []asset.Asset {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []asset.Asset
	for k, v := range l.balances {
		if k.owner != owner || v.Sign() == 0 {
			continue
		}
		out = append(out, asset.New(l.types[k.kind], v))
	}
	return out
}

// Journal returns the transfers applied so far.
func (l *Ledger) Journal() []Transfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Transfer(nil), l.journal...)
}

func (l *Ledger) move(balances map[holding]*big.Int, t Transfer) error {
	if err := t.Asset.Type.Err(); err != nil {
		return err
	}
	if t.Asset.Value == nil || t.Asset.Value.Sign() < 0 {
		return ErrNegativeAmount
	}
	kind := kindOf(t.Asset.Type)
	from := holding{owner: t.From, kind: kind}
	to := holding{owner: t.To, kind: kind}

	have, ok := balances[from]
	if !ok {
		have = new(big.Int)
	}
	if have.Cmp(t.Asset.Value) < 0 {
		return fmt.Errorf("%w: %s has %s of %s, needs %s",
			ErrInsufficientBalance, t.From.Hex(), have, t.Asset.Type, t.Asset.Value)
	}
	balances[from] = new(big.Int).Sub(have, t.Asset.Value)
	cur, ok := balances[to]
	if !ok {
		cur = new(big.Int)
	}
	balances[to] = new(big.Int).Add(cur, t.Asset.Value)
	return nil
}

// record notes the asset types of applied transfers for Holdings.
func (l *Ledger) record(transfers ...Transfer) {
	for _, t := range transfers {
		l.types[kindOf(t.Asset.Type)] = t.Asset.Type
	}
	l.journal = append(l.journal, transfers...)
}

func (l *Ledger) Execute(_ context.Context, transfers []Transfer) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	scratch := make(map[holding]*big.Int, len(l.balances))
	for k, v := range l.balances {
		scratch[k] = v
	}
	for i, t := range transfers {
		if !t.Asset.Type.Class().Valid() {
			return fmt.Errorf("transfer %d: %w", i, asset.ErrInvalidAssetClass)
		}
		if err := l.move(scratch, t); err != nil {
			return fmt.Errorf("transfer %d: %w", i, err)
		}
	}
	l.balances = scratch
	l.record(transfers...)
	return nil
}

func (l *Ledger) single(t Transfer) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.move(l.balances, t); err != nil {
		return err
	}
	l.record(t)
	return nil
}

func (l *Ledger) TransferFungible(_ context.Context, token, from, to common.Address, amount *big.Int) error {
	return l.single(Transfer{Asset: asset.New(asset.ERC20(token), amount), From: from, To: to})
}

func (l *Ledger) TransferUnique(_ context.Context, token common.Address, id *big.Int, from, to common.Address) error {
	return l.single(Transfer{Asset: asset.New(asset.ERC721(token, id), big.NewInt(1)), From: from, To: to})
}

func (l *Ledger) TransferMultiple(_ context.Context, token common.Address, id *big.Int, from, to common.Address, amount *big.Int) error {
	return l.single(Transfer{Asset: asset.New(asset.ERC1155(token, id), amount), From: from, To: to})
}

var (
	_ Executor            = (*Ledger)(nil)
	_ Fungible            = (*Ledger)(nil)
	_ NonFungibleUnique   = (*Ledger)(nil)
	_ NonFungibleMultiple = (*Ledger)(nil)
)
