package exchange

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Policy answers the authorization questions asked during matching.
type Policy interface {
	// IsFeeExempt reports whether payments sent by account skip fees and royalties.
	IsFeeExempt(account common.Address) bool
	// IsOperator reports whether account may submit matches on behalf of others.
	IsOperator(account common.Address) bool
}

type StaticPolicy struct {
	mu        sync.RWMutex
	exempt    map[common.Address]struct{}
	operators map[common.Address]struct{}
}

func NewStaticPolicy(exempt, operators []common.Address) *StaticPolicy {
	p := &StaticPolicy{
		exempt:    make(map[common.Address]struct{}),
		operators: make(map[common.Address]struct{}),
	}
	for _, a := range exempt {
		p.exempt[a] = struct{}{}
	}
	for _, a := range operators {
		p.operators[a] = struct{}{}
	}
	return p
}

func (p *StaticPolicy) IsFeeExempt(account common.Address) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.exempt[account]
	return ok
}

func (p *StaticPolicy) IsOperator(account common.Address) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.operators[account]
	return ok
}

func (p *StaticPolicy) SetFeeExempt(account common.Address, exempt bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if exempt {
		p.exempt[account] = struct{}{}
	} else {
		delete(p.exempt, account)
	}
}

func (p *StaticPolicy) SetOperator(account common.Address, operator bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if operator {
		p.operators[account] = struct{}{}
	} else {
		delete(p.operators, account)
	}
}

var _ Policy = (*StaticPolicy)(nil)
