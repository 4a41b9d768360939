package orderpool

import (
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/marketplace/pkg/order"
)

var (
	ErrDuplicate = errors.New("order already pooled")
	ErrNilOrder  = errors.New("nil order")
)

// SignedOrder is an order waiting for a counterparty.
type SignedOrder struct {
	Order     *order.Order
	Signature []byte
	Hash      common.Hash
	Received  time.Time
}

// Pool keeps signed orders in arrival order, keyed by order hash. When full,
// the oldest order is evicted.
type Pool struct {
	mu      sync.Mutex
	maxSize int
	byHash  map[common.Hash]SignedOrder
	fifo    []common.Hash
}

// New creates a pool; maxSize <= 0 means unbounded.
func New(maxSize int) *Pool {
	return &Pool{maxSize: maxSize, byHash: make(map[common.Hash]SignedOrder)}
}

// Add admits o. The hash is the order's fill-ledger key.
func (p *Pool) Add(o *order.Order, sig []byte, now time.Time) (SignedOrder, error) {
	if o == nil {
		return SignedOrder{}, ErrNilOrder
	}
	so := SignedOrder{
		Order:     o,
		Signature: append([]byte(nil), sig...),
		Hash:      o.HashKey(),
		Received:  now,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byHash[so.Hash]; ok {
		return SignedOrder{}, ErrDuplicate
	}
	if p.maxSize > 0 && len(p.byHash) >= p.maxSize {
		p.evictOldestLocked()
	}
	p.byHash[so.Hash] = so
	p.fifo = append(p.fifo, so.Hash)
	return so, nil
}

func (p *Pool) evictOldestLocked() {
	for len(p.fifo) > 0 {
		h := p.fifo[0]
		p.fifo = p.fifo[1:]
		if _, ok := p.byHash[h]; ok {
			delete(p.byHash, h)
			return
		}
	}
}

func (p *Pool) Get(h common.Hash) (SignedOrder, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	so, ok := p.byHash[h]
	return so, ok
}

// List returns up to limit orders, oldest first. limit <= 0 returns all.
func (p *Pool) List(limit int) []SignedOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []SignedOrder
	for _, h := range p.fifo {
		so, ok := p.byHash[h]
		if !ok {
			continue
		}
		out = append(out, so)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Counterparties returns pooled orders whose assets mirror o, oldest first.
func (p *Pool) Counterparties(o *order.Order) []SignedOrder {
	var out []SignedOrder
	for _, so := range p.List(0) {
		if so.Order.MakeAsset.Type.Equal(o.TakeAsset.Type) && so.Order.TakeAsset.Type.Equal(o.MakeAsset.Type) {
			out = append(out, so)
		}
	}
	return out
}

func (p *Pool) Remove(h common.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byHash[h]; !ok {
		return false
	}
	delete(p.byHash, h)
	p.compactLocked()
	return true
}

// Prune removes every order for which drop returns true and reports how many
// were removed.
func (p *Pool) Prune(drop func(SignedOrder) bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for h, so := range p.byHash {
		if drop(so) {
			delete(p.byHash, h)
			n++
		}
	}
	if n > 0 {
		p.compactLocked()
	}
	return n
}

func (p *Pool) compactLocked() {
	kept := p.fifo[:0]
	for _, h := range p.fifo {
		if _, ok := p.byHash[h]; ok {
			kept = append(kept, h)
		}
	}
	p.fifo = kept
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byHash)
}
