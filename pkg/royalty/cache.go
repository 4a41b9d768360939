package royalty

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is used when a non-positive size is given.
const DefaultCacheSize = 4096

// CachedRegistry memoizes lookups of another Registry. Errors are not cached.
type CachedRegistry struct {
	inner Registry
	cache *lru.Cache[itemKey, []Part]
}

func NewCachedRegistry(inner Registry, size int) (*CachedRegistry, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[itemKey, []Part](size)
	if err != nil {
		return nil, fmt.Errorf("royalty: create cache: %w", err)
	}
	return &CachedRegistry{inner: inner, cache: cache}, nil
}

func (r *CachedRegistry) Royalties(ctx context.Context, token common.Address, tokenID *big.Int) ([]Part, error) {
	k := keyOf(token, tokenID)
	if parts, ok := r.cache.Get(k); ok {
		return clone(parts), nil
	}
	parts, err := r.inner.Royalties(ctx, token, tokenID)
	if err != nil {
		return nil, err
	}
	r.cache.Add(k, clone(parts))
	return parts, nil
}

// Invalidate drops the cached entry for one item.
func (r *CachedRegistry) Invalidate(token common.Address, tokenID *big.Int) {
	r.cache.Remove(keyOf(token, tokenID))
}

// InvalidateToken drops the cached entries of every item of token.
func (r *CachedRegistry) InvalidateToken(token common.Address) {
	for _, k := range r.cache.Keys() {
		if k.token == token {
			r.cache.Remove(k)
		}
	}
}

// Changed is a ChangeFunc that keeps the cache in step with a watched
// registry.
func (r *CachedRegistry) Changed(token common.Address, tokenID *big.Int) {
	if tokenID == nil {
		r.InvalidateToken(token)
		return
	}
	r.Invalidate(token, tokenID)
}

// Purge drops every cached entry.
func (r *CachedRegistry) Purge() { r.cache.Purge() }

func (r *CachedRegistry) Len() int { return r.cache.Len() }

var _ Registry = (*CachedRegistry)(nil)
