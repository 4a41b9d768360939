package history

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/marketplace/pkg/asset"
	"github.com/uhyunpark/marketplace/pkg/exchange"
	"github.com/uhyunpark/marketplace/pkg/transfer"
)

var (
	seller = common.HexToAddress("0x5e11")
	buyer  = common.HexToAddress("0xb0b")
	nft    = common.HexToAddress("0xc721")
	usdc   = common.HexToAddress("0xe20")
)

func matchEvent(at time.Time) exchange.MatchEvent {
	item := asset.New(asset.ERC721(nft, big.NewInt(7)), big.NewInt(1))
	pay := asset.New(asset.ERC20(usdc), big.NewInt(100))
	return exchange.MatchEvent{
		ID:           uuid.New(),
		Sender:       buyer,
		LeftHash:     common.HexToHash("0x01"),
		RightHash:    common.HexToHash("0x02"),
		LeftMaker:    seller,
		RightMaker:   buyer,
		NewLeftFill:  big.NewInt(100),
		NewRightFill: big.NewInt(1),
		LeftAsset:    item,
		RightAsset:   pay,
		FeeSide:      exchange.FeeSideRight,
		Transfers: []transfer.Transfer{
			{Asset: item, From: seller, To: buyer},
			{Asset: pay, From: buyer, To: seller},
		},
		Timestamp: at,
	}
}

func TestFromEvent(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	ev := matchEvent(at)
	r := FromEvent(ev)

	assert.Equal(t, ev.ID.String(), r.ID)
	assert.Equal(t, "100", r.LeftFill)
	assert.Equal(t, "1", r.RightFill)
	assert.Equal(t, "RIGHT", r.FeeSide)
	assert.Equal(t, at.UTC(), r.MatchedAt)
	require.Len(t, r.Transfers, 2)
	assert.Equal(t, "ERC721", r.Transfers[0].Class)
	assert.Equal(t, "7", r.Transfers[0].TokenID)
	assert.Equal(t, "", r.Transfers[1].TokenID)
	assert.Equal(t, seller.Hex(), r.Transfers[1].To)
	assert.True(t, r.Involves(seller.Hex()))
	assert.False(t, r.Involves(usdc.Hex()))
}

func TestMemoryArchive_RecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryArchive(2)
	base := time.Unix(1_700_000_000, 0)
	var ids []string
	for i := 0; i < 3; i++ {
		r := FromEvent(matchEvent(base.Add(time.Duration(i) * time.Minute)))
		ids = append(ids, r.ID)
		require.NoError(t, a.Append(ctx, r))
	}

	got, err := a.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[2], got[0].ID)
	assert.Equal(t, ids[1], got[1].ID)

	got, err = a.Recent(ctx, buyer.Hex(), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = a.Recent(ctx, usdc.Hex(), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecorder_DrainsOnShutdown(t *testing.T) {
	a := NewMemoryArchive(0)
	r := NewRecorder(a, 4, nil)
	ctx, cancel := context.WithCancel(context.Background())

	r.Observe(matchEvent(time.Now()))
	r.Observe(matchEvent(time.Now()))
	cancel()
	require.NoError(t, r.Run(ctx))

	got, err := a.Recent(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestPostgresArchive(t *testing.T) {
	dsn := os.Getenv("MARKET_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MARKET_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	a, err := NewPostgresArchive(ctx, PostgresConfig{DSN: dsn})
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.EnsureSchema(ctx))
	require.NoError(t, a.EnsureSchema(ctx))

	rec := FromEvent(matchEvent(time.Now().Truncate(time.Millisecond)))
	require.NoError(t, a.Append(ctx, rec))
	require.NoError(t, a.Append(ctx, rec))

	got, err := a.Recent(ctx, seller.Hex(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	var found *Record
	for i := range got {
		if got[i].ID == rec.ID {
			found = &got[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, rec.LeftFill, found.LeftFill)
	assert.Equal(t, rec.Transfers, found.Transfers)
	assert.True(t, rec.MatchedAt.Equal(found.MatchedAt))
}
