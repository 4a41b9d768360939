// Package history archives committed matches for later querying.
package history

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/uhyunpark/marketplace/pkg/exchange"
)

// TransferRecord is the archived form of a single settlement leg.
type TransferRecord struct {
	Class   string `json:"class"`
	Token   string `json:"token"`
	TokenID string `json:"tokenId,omitempty"`
	Value   string `json:"value"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// Record is a flattened, string-typed MatchEvent.
type Record struct {
	ID         string           `json:"id"`
	Sender     string           `json:"sender"`
	LeftHash   string           `json:"leftHash"`
	RightHash  string           `json:"rightHash"`
	LeftMaker  string           `json:"leftMaker"`
	RightMaker string           `json:"rightMaker"`
	LeftFill   string           `json:"leftFill"`
	RightFill  string           `json:"rightFill"`
	LeftAsset  string           `json:"leftAsset"`
	RightAsset string           `json:"rightAsset"`
	FeeSide    string           `json:"feeSide"`
	Transfers  []TransferRecord `json:"transfers"`
	MatchedAt  time.Time        `json:"matchedAt"`
}

func FromEvent(ev exchange.MatchEvent) Record {
	r := Record{
		ID:         ev.ID.String(),
		Sender:     ev.Sender.Hex(),
		LeftHash:   ev.LeftHash.Hex(),
		RightHash:  ev.RightHash.Hex(),
		LeftMaker:  ev.LeftMaker.Hex(),
		RightMaker: ev.RightMaker.Hex(),
		LeftFill:   ev.NewLeftFill.String(),
		RightFill:  ev.NewRightFill.String(),
		LeftAsset:  ev.LeftAsset.String(),
		RightAsset: ev.RightAsset.String(),
		FeeSide:    ev.FeeSide.String(),
		Transfers:  make([]TransferRecord, 0, len(ev.Transfers)),
		MatchedAt:  ev.Timestamp.UTC(),
	}
	for _, t := range ev.Transfers {
		tr := TransferRecord{
			Class: t.Asset.Type.Class().String(),
			Token: t.Asset.Type.Token().Hex(),
			Value: t.Asset.Value.String(),
			From:  t.From.Hex(),
			To:    t.To.Hex(),
		}
		if id := t.Asset.Type.TokenID(); id != nil {
			tr.TokenID = id.String()
		}
		r.Transfers = append(r.Transfers, tr)
	}
	return r
}

// Involves reports whether account took part in the match as a maker or
// the sender.
func (r Record) Involves(account string) bool {
	return strings.EqualFold(r.Sender, account) ||
		strings.EqualFold(r.LeftMaker, account) ||
		strings.EqualFold(r.RightMaker, account)
}

// Archive stores match records. Recent returns newest first; an empty
// account matches every record.
type Archive interface {
	Append(ctx context.Context, r Record) error
	Recent(ctx context.Context, account string, limit int) ([]Record, error)
	Close()
}

// MemoryArchive keeps the last N records in a ring.
type MemoryArchive struct {
	mu   sync.RWMutex
	max  int
	recs []Record
}

const DefaultMemoryCapacity = 1024

func NewMemoryArchive(max int) *MemoryArchive {
	if max <= 0 {
		max = DefaultMemoryCapacity
	}
	return &MemoryArchive{max: max}
}

func (m *MemoryArchive) Append(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, r)
	if len(m.recs) > m.max {
		m.recs = append([]Record(nil), m.recs[len(m.recs)-m.max:]...)
	}
	return nil
}

func (m *MemoryArchive) Recent(_ context.Context, account string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for i := len(m.recs) - 1; i >= 0; i-- {
		if account != "" && !m.recs[i].Involves(account) {
			continue
		}
		out = append(out, m.recs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryArchive) Close() {}
