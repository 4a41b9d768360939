package transfer

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/marketplace/pkg/asset"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	usdc  = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	nft   = common.HexToAddress("0x000000000000000000000000000000000000c721")
	multi = common.HexToAddress("0x00000000000000000000000000000000000c1155")
)

func coins(v int64) asset.Asset { return asset.New(asset.ERC20(usdc), big.NewInt(v)) }
func punk(id int64) asset.Asset {
	return asset.New(asset.ERC721(nft, big.NewInt(id)), big.NewInt(1))
}
func items(v int64) asset.Asset {
	return asset.New(asset.ERC1155(multi, big.NewInt(1)), big.NewInt(v))
}

func TestLedgerExecuteIsAtomic(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	require.NoError(t, l.Mint(alice, coins(100)))
	require.NoError(t, l.Mint(bob, punk(1)))

	err := l.Execute(ctx, []Transfer{
		{Asset: coins(60), From: alice, To: bob},
		{Asset: punk(1), From: bob, To: alice},
		{Asset: coins(60), From: alice, To: bob}, // overdraws
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, "100", l.Balance(alice, coins(0).Type).String())
	assert.Equal(t, "1", l.Balance(bob, punk(1).Type).String())
	assert.Empty(t, l.Journal())

	require.NoError(t, l.Execute(ctx, []Transfer{
		{Asset: coins(60), From: alice, To: bob},
		{Asset: punk(1), From: bob, To: alice},
	}))
	assert.Equal(t, "40", l.Balance(alice, coins(0).Type).String())
	assert.Equal(t, "60", l.Balance(bob, coins(0).Type).String())
	assert.Equal(t, "1", l.Balance(alice, punk(1).Type).String())
	assert.Len(t, l.Journal(), 2)
	assert.Len(t, l.Holdings(alice), 2)
}

func TestLedgerFailedExecuteLeavesTypesAlone(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Mint(alice, coins(10)))
	other := asset.New(asset.ERC721(nft, big.NewInt(99)), big.NewInt(0))

	err := l.Execute(context.Background(), []Transfer{
		{Asset: other, From: alice, To: bob},
		{Asset: coins(11), From: alice, To: bob},
	})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Len(t, l.types, 1)
	assert.Empty(t, l.Journal())
}

func TestLedgerRejectsUnknownClass(t *testing.T) {
	l := NewLedger()
	err := l.Execute(context.Background(), []Transfer{{Asset: asset.Asset{Value: big.NewInt(1)}, From: alice, To: bob}})
	assert.ErrorIs(t, err, asset.ErrInvalidAssetClass)
	assert.ErrorIs(t, l.Mint(alice, asset.Asset{Value: big.NewInt(1)}), asset.ErrInvalidAssetClass)
}

func TestRouterDispatchesByClass(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	require.NoError(t, l.Mint(alice, coins(10)))
	require.NoError(t, l.Mint(alice, punk(9)))
	require.NoError(t, l.Mint(alice, items(5)))

	r := NewRouter(l, nil)
	require.NoError(t, r.Execute(ctx, []Transfer{
		{Asset: coins(10), From: alice, To: bob},
		{Asset: punk(9), From: alice, To: bob},
		{Asset: items(3), From: alice, To: bob},
	}))
	assert.Equal(t, "10", l.Balance(bob, coins(0).Type).String())
	assert.Equal(t, "1", l.Balance(bob, punk(9).Type).String())
	assert.Equal(t, "3", l.Balance(bob, items(0).Type).String())
	assert.Equal(t, "2", l.Balance(alice, items(0).Type).String())
}

func TestRouterRejectsErc721Amount(t *testing.T) {
	l := NewLedger()
	r := NewRouter(l, nil)
	bad := asset.Asset{Type: asset.ERC721(nft, big.NewInt(1)), Value: big.NewInt(2)}
	err := r.Transfer(context.Background(), bad, alice, bob)
	assert.ErrorIs(t, err, asset.ErrErc721Value)
}

func TestRouterUnknownClass(t *testing.T) {
	r := NewRouter(NewLedger(), nil)
	err := r.Execute(context.Background(), []Transfer{{Asset: asset.Asset{Value: big.NewInt(1)}}})
	assert.ErrorIs(t, err, asset.ErrInvalidAssetClass)
}

type flakyFungible struct {
	*Ledger
	failTo common.Address
}

func (f *flakyFungible) TransferFungible(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	if to == f.failTo {
		return errors.New("token contract reverted")
	}
	return f.Ledger.TransferFungible(ctx, token, from, to, amount)
}

func TestRouterRevertsAppliedLegs(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	require.NoError(t, l.Mint(alice, coins(100)))
	require.NoError(t, l.Mint(bob, items(4)))

	// second fungible leg fails; the item leg and first payment are reversed
	fee := common.HexToAddress("0xfee")
	f := &flakyFungible{Ledger: l, failTo: fee}
	r := &Router{Fungible: f, Unique: l, Multiple: l}
	err := r.Execute(ctx, []Transfer{
		{Asset: coins(30), From: alice, To: bob},
		{Asset: items(4), From: bob, To: alice},
		{Asset: coins(5), From: alice, To: fee},
	})
	require.Error(t, err)

	assert.Equal(t, "100", l.Balance(alice, coins(0).Type).String())
	assert.Equal(t, "0", l.Balance(bob, coins(0).Type).String())
	assert.Equal(t, "4", l.Balance(bob, items(0).Type).String())
}
