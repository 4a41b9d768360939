package node

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/marketplace/params"
	"github.com/uhyunpark/marketplace/pkg/asset"
	"github.com/uhyunpark/marketplace/pkg/royalty"
	"github.com/uhyunpark/marketplace/pkg/transfer"
)

var (
	punks = "0x0000000000000000000000000000000000000721"
	coins = "0x0000000000000000000000000000000000000020"
	alice = "0x00000000000000000000000000000000000000a1"
	carol = "0x00000000000000000000000000000000000000c1"
)

func TestNew_MemoryBackend(t *testing.T) {
	cfg := params.Default()
	cfg.API.Addr = "127.0.0.1:0"
	cfg.Dev.Mints = []params.MintEntry{
		{Owner: alice, Class: "ERC721", Token: punks, TokenID: "7", Value: "1"},
		{Owner: alice, Class: "erc20", Token: coins, Value: "500"},
	}

	n, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer n.Close()

	assert.Nil(t, n.Relay)
	assert.NotNil(t, n.API)
	assert.Equal(t, cfg.Exchange.MatchLimit, n.Engine.MatchLimit())
	assert.Equal(t, big.NewInt(500), n.Ledger.Balance(common.HexToAddress(alice), asset.ERC20(common.HexToAddress(coins))))

	fill, err := n.Engine.Fill(context.Background(), common.Hash{1})
	require.NoError(t, err)
	assert.Zero(t, fill.Sign())
}

func TestNew_PebbleBackend(t *testing.T) {
	cfg := params.Default()
	cfg.Storage.Backend = "pebble"
	cfg.Storage.Path = t.TempDir()

	n, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, n.Close())
}

func TestNew_RoyaltyTableUpdatesReachEngine(t *testing.T) {
	ctx := context.Background()
	cfg := params.Default()
	cfg.API.Addr = "127.0.0.1:0"
	cfg.Royalty.Entries = []params.RoyaltyEntry{{Token: punks, Account: carol, BP: 100}}

	n, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	defer n.Close()

	token := common.HexToAddress(punks)
	parts, err := n.Royalties.Royalties(ctx, token, big.NewInt(7))
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, uint64(100), parts[0].Value)

	n.Table.SetItem(token, big.NewInt(7), []royalty.Part{{Account: common.HexToAddress(carol), Value: 400}})
	parts, err = n.Royalties.Royalties(ctx, token, big.NewInt(7))
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, uint64(400), parts[0].Value)
}

func TestOpenStore_Unknown(t *testing.T) {
	_, err := OpenStore(context.Background(), params.Storage{Backend: "tape"}, nil)
	assert.Error(t, err)
}

func TestStaticRoyalties(t *testing.T) {
	r, err := StaticRoyalties([]params.RoyaltyEntry{
		{Token: punks, Account: carol, BP: 500},
		{Token: punks, TokenID: "7", Account: alice, BP: 100},
		{Token: punks, TokenID: "7", Account: carol, BP: 200},
	})
	require.NoError(t, err)

	ctx := context.Background()
	item, err := r.Royalties(ctx, common.HexToAddress(punks), big.NewInt(7))
	require.NoError(t, err)
	require.Len(t, item, 2)
	assert.Equal(t, uint64(300), item[0].Value+item[1].Value)

	coll, err := r.Royalties(ctx, common.HexToAddress(punks), big.NewInt(8))
	require.NoError(t, err)
	require.Len(t, coll, 1)
	assert.Equal(t, common.HexToAddress(carol), coll[0].Account)

	_, err = StaticRoyalties([]params.RoyaltyEntry{{Token: punks, TokenID: "x", Account: carol}})
	assert.Error(t, err)
}

func TestSeed_Rejects(t *testing.T) {
	tests := []struct {
		name string
		mint params.MintEntry
	}{
		{"bad owner", params.MintEntry{Owner: "x", Class: "ERC20", Token: coins, Value: "1"}},
		{"bad class", params.MintEntry{Owner: alice, Class: "ERC404", Token: coins, Value: "1"}},
		{"bad value", params.MintEntry{Owner: alice, Class: "ERC20", Token: coins, Value: "lots"}},
		{"missing token id", params.MintEntry{Owner: alice, Class: "ERC1155", Token: punks, Value: "3"}},
		{"erc721 value", params.MintEntry{Owner: alice, Class: "ERC721", Token: punks, TokenID: "1", Value: "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, Seed(transfer.NewLedger(), []params.MintEntry{tt.mint}))
		})
	}
}
