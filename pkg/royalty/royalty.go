package royalty

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Part is one royalty recipient and its share in basis points.
type Part struct {
	Account common.Address `json:"account"`
	Value   uint64         `json:"value"`
}

// Registry returns the royalty parts configured for an item.
type Registry interface {
	Royalties(ctx context.Context, token common.Address, tokenID *big.Int) ([]Part, error)
}

// CreatorProbe reports the creator of an item when the token exposes one.
// Lookup failures are reported as ok=false.
type CreatorProbe interface {
	Creator(ctx context.Context, token common.Address, tokenID *big.Int) (creator common.Address, ok bool)
}

// CreatorFunc adapts a function to CreatorProbe.
type CreatorFunc func(ctx context.Context, token common.Address, tokenID *big.Int) (common.Address, bool)

func (f CreatorFunc) Creator(ctx context.Context, token common.Address, tokenID *big.Int) (common.Address, bool) {
	return f(ctx, token, tokenID)
}

type itemKey struct {
	token common.Address
	id    common.Hash
}

func keyOf(token common.Address, tokenID *big.Int) itemKey {
	k := itemKey{token: token}
	if tokenID != nil {
		k.id = common.BigToHash(tokenID)
	}
	return k
}

func clone(parts []Part) []Part {
	if parts == nil {
		return nil
	}
	return append([]Part(nil), parts...)
}

// ChangeFunc is told which royalties changed. A nil tokenID covers every
// item of token.
type ChangeFunc func(token common.Address, tokenID *big.Int)

// StaticRegistry holds royalties set per item, falling back to the
// per-token default.
type StaticRegistry struct {
	mu       sync.RWMutex
	byItem   map[itemKey][]Part
	byToken  map[common.Address][]Part
	watchers []ChangeFunc
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{
		byItem:  make(map[itemKey][]Part),
		byToken: make(map[common.Address][]Part),
	}
}

// OnChange registers fn to run after every setter call.
func (r *StaticRegistry) OnChange(fn ChangeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers = append(r.watchers, fn)
}

func (r *StaticRegistry) SetItem(token common.Address, tokenID *big.Int, parts []Part) {
	r.mu.Lock()
	r.byItem[keyOf(token, tokenID)] = clone(parts)
	watchers := r.watchers
	r.mu.Unlock()
	notify(watchers, token, tokenID)
}

func (r *StaticRegistry) SetToken(token common.Address, parts []Part) {
	r.mu.Lock()
	r.byToken[token] = clone(parts)
	watchers := r.watchers
	r.mu.Unlock()
	notify(watchers, token, nil)
}

func notify(watchers []ChangeFunc, token common.Address, tokenID *big.Int) {
	for _, fn := range watchers {
		fn(token, tokenID)
	}
}

func (r *StaticRegistry) Royalties(_ context.Context, token common.Address, tokenID *big.Int) ([]Part, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if parts, ok := r.byItem[keyOf(token, tokenID)]; ok {
		return clone(parts), nil
	}
	return clone(r.byToken[token]), nil
}

// StaticCreators answers creator probes from an in-memory table.
type StaticCreators struct {
	mu       sync.RWMutex
	creators map[itemKey]common.Address
}

func NewStaticCreators() *StaticCreators {
	return &StaticCreators{creators: make(map[itemKey]common.Address)}
}

func (c *StaticCreators) Set(token common.Address, tokenID *big.Int, creator common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creators[keyOf(token, tokenID)] = creator
}

func (c *StaticCreators) Creator(_ context.Context, token common.Address, tokenID *big.Int) (common.Address, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	creator, ok := c.creators[keyOf(token, tokenID)]
	return creator, ok
}

var (
	_ Registry     = (*StaticRegistry)(nil)
	_ CreatorProbe = (*StaticCreators)(nil)
)
