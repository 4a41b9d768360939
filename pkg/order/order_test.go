package order

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/marketplace/pkg/asset"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	nft   = common.HexToAddress("0x000000000000000000000000000000000000c721")
	multi = common.HexToAddress("0x00000000000000000000000000000000000c1155")
	usdc  = common.HexToAddress("0x00000000000000000000000000000000000000e2")
)

func erc20(v int64) asset.Asset { return asset.New(asset.ERC20(usdc), big.NewInt(v)) }
func erc1155(v int64) asset.Asset {
	return asset.New(asset.ERC1155(multi, big.NewInt(1)), big.NewInt(v))
}
func erc721(v int64) asset.Asset { return asset.New(asset.ERC721(nft, big.NewInt(5)), big.NewInt(v)) }

func mk(maker common.Address, make, take asset.Asset, salt int64) *Order {
	return &Order{Maker: maker, MakeAsset: make, TakeAsset: take, Salt: big.NewInt(salt)}
}

func TestHashKeyIgnoresValuesAndTime(t *testing.T) {
	a := mk(alice, erc1155(10), erc20(1000), 1)
	b := mk(alice, erc1155(3), erc20(7), 1)
	b.Start, b.End = 100, 200
	assert.Equal(t, a.HashKey(), b.HashKey())

	assert.NotEqual(t, a.HashKey(), mk(alice, erc1155(10), erc20(1000), 2).HashKey())
	assert.NotEqual(t, a.HashKey(), mk(bob, erc1155(10), erc20(1000), 1).HashKey())
	assert.NotEqual(t, a.HashKey(), mk(alice, erc20(1000), erc1155(10), 1).HashKey())
}

func TestSaltNilIsZero(t *testing.T) {
	o := &Order{Maker: alice, MakeAsset: erc20(1), TakeAsset: erc20(1)}
	assert.True(t, o.IsZeroSalt())
	assert.Equal(t, mk(alice, erc20(1), erc20(1), 0).HashKey(), o.HashKey())
}

func TestSaltOutsideUint256(t *testing.T) {
	wrapped := mk(alice, erc1155(10), erc20(1000), 0)
	wrapped.Salt = new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	assert.NotEqual(t, mk(alice, erc1155(10), erc20(1000), 1).HashKey(), wrapped.HashKey())
	assert.Equal(t, common.Hash{}, wrapped.HashKey())
	assert.ErrorIs(t, wrapped.Validate(), asset.ErrValueOverflow)
}

func TestValidateTime(t *testing.T) {
	now := time.Unix(1_000, 0)
	cases := []struct {
		desc       string
		start, end uint64
		err        error
	}{
		{"unbounded", 0, 0, nil},
		{"inside", 999, 1001, nil},
		{"starts now", 1000, 0, ErrOrderNotStarted},
		{"future", 2000, 0, ErrOrderNotStarted},
		{"ends now", 0, 1000, ErrOrderExpired},
		{"past", 0, 10, ErrOrderExpired},
	}
	for _, c := range cases {
		t.Run(c.desc, func(t *testing.T) {
			o := mk(alice, erc20(1), erc20(1), 1)
			o.Start, o.End = c.start, c.end
			err := o.ValidateTime(now)
			if c.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, c.err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, mk(alice, erc721(1), erc20(10), 1).Validate())
	assert.ErrorIs(t, mk(alice, erc721(2), erc20(10), 1).Validate(), asset.ErrErc721Value)
	assert.ErrorIs(t, mk(alice, erc20(10), erc721(0), 1).Validate(), asset.ErrErc721Value)
	assert.ErrorIs(t, mk(alice, erc1155(0), erc20(10), 1).Validate(), ErrZeroValue)
	assert.ErrorIs(t, mk(alice, erc1155(1), erc20(0), 1).Validate(), ErrZeroValue)
}

func TestRemaining(t *testing.T) {
	o := mk(alice, erc1155(10), erc20(1000), 1)

	m, tk, err := o.Remaining(nil)
	require.NoError(t, err)
	assert.Equal(t, "10", m.String())
	assert.Equal(t, "1000", tk.String())

	m, tk, err = o.Remaining(big.NewInt(400))
	require.NoError(t, err)
	assert.Equal(t, "6", m.String())
	assert.Equal(t, "600", tk.String())

	_, _, err = o.Remaining(big.NewInt(1000))
	assert.ErrorIs(t, err, ErrNothingToFill)

	cancelled := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	_, _, err = o.Remaining(cancelled)
	assert.ErrorIs(t, err, ErrNothingToFill)
}
