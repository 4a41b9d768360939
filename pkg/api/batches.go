package api

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// maxBatchWindow bounds how far ahead a batch deadline may be, and so how
// long a digest stays in the guard.
const maxBatchWindow = 10 * time.Minute

// batchGuard remembers signed batch digests until their deadline passes so a
// captured batch can't be replayed. Zero-salt orders leave no fill behind,
// which makes the digest the only record that a batch already ran.
type batchGuard struct {
	mu   sync.Mutex
	seen map[common.Hash]uint64 // digest -> deadline
}

func newBatchGuard() *batchGuard {
	return &batchGuard{seen: make(map[common.Hash]uint64)}
}

// reserve claims digest. It returns false if the digest is already held.
func (g *batchGuard) reserve(digest common.Hash, deadline, now uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for d, exp := range g.seen {
		if exp <= now {
			delete(g.seen, d)
		}
	}
	if _, ok := g.seen[digest]; ok {
		return false
	}
	g.seen[digest] = deadline
	return true
}

// release frees a digest whose batch did not execute.
func (g *batchGuard) release(digest common.Hash) {
	g.mu.Lock()
	delete(g.seen, digest)
	g.mu.Unlock()
}
