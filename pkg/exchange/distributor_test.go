package exchange

import (
	"context"
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/marketplace/pkg/asset"
	"github.com/uhyunpark/marketplace/pkg/royalty"
	"github.com/uhyunpark/marketplace/pkg/transfer"
)

func TestFeeSideOf(t *testing.T) {
	cases := []struct {
		left, right asset.Class
		want        FeeSide
	}{
		{asset.ClassERC20, asset.ClassERC721, FeeSideLeft},
		{asset.ClassERC721, asset.ClassERC20, FeeSideRight},
		{asset.ClassERC20, asset.ClassERC1155, FeeSideLeft},
		{asset.ClassERC1155, asset.ClassERC20, FeeSideRight},
		{asset.ClassERC1155, asset.ClassERC721, FeeSideLeft},
		{asset.ClassERC721, asset.ClassERC1155, FeeSideRight},
		{asset.ClassERC20, asset.ClassERC20, FeeSideNone},
		{asset.ClassERC721, asset.ClassERC721, FeeSideNone},
		{asset.ClassERC1155, asset.ClassERC1155, FeeSideNone},
	}
	for _, c := range cases {
		t.Run(c.left.String()+"/"+c.right.String(), func(t *testing.T) {
			assert.Equal(t, c.want, FeeSideOf(c.left, c.right))
		})
	}
}

func TestSubFeeInBpCapsAtRemainder(t *testing.T) {
	rest, fee := subFeeInBp(big.NewInt(1000), big.NewInt(1000), 250, BasisPoints)
	assert.Equal(t, "25", fee.String())
	assert.Equal(t, "975", rest.String())

	// fee computed on a larger base than what is left is capped
	rest, fee = subFeeInBp(big.NewInt(50), big.NewInt(1000), 1000, BasisPoints)
	assert.Equal(t, "50", fee.String())
	assert.Equal(t, "0", rest.String())

	rest, fee = subFeeInBp(big.NewInt(9), big.NewInt(9), 100, BasisPoints)
	assert.Equal(t, "0", fee.String())
	assert.Equal(t, "9", rest.String())
}

func sum(ts []transfer.Transfer) *big.Int {
	total := new(big.Int)
	for _, t := range ts {
		total.Add(total, t.Asset.Value)
	}
	return total
}

func TestPlanConservesPayment(t *testing.T) {
	reg := royalty.NewStaticRegistry()
	reg.SetToken(nftAddr, []royalty.Part{
		{Account: creator, Value: 700},
		{Account: common.HexToAddress("0xabc"), Value: 333},
	})
	d := Distributor{Royalties: reg}
	fees := Fees{SecondaryBP: 250, Receiver: feeSink}

	for _, amount := range []int64{1, 7, 999, 10_000, 123_456_789} {
		payment := DealSide{Asset: coins(amount), Account: buyer, ApplyFees: true}
		item := DealSide{Asset: punk(1), Account: seller, ApplyFees: true}
		out, err := d.Plan(context.Background(), fees, payment, item)
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(amount).String(), sum(out).String(), "amount %d", amount)
		for _, tr := range out {
			assert.Positive(t, tr.Asset.Value.Sign(), "zero transfers are skipped")
			assert.Equal(t, buyer, tr.From)
		}
	}
}

func TestPlanSecondarySaleWorkedExample(t *testing.T) {
	d := Distributor{}
	payment := DealSide{Asset: asset.New(asset.ERC20(usdc), bigN("10000000000")), Account: buyer, ApplyFees: true}
	item := DealSide{Asset: punk(1), Account: seller, ApplyFees: true}

	out, err := d.Plan(context.Background(), Fees{SecondaryBP: 250, Receiver: feeSink}, payment, item)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, feeSink, out[0].To)
	assert.Equal(t, "250000000", out[0].Asset.Value.String())
	assert.Equal(t, seller, out[1].To)
	assert.Equal(t, "9750000000", out[1].Asset.Value.String())
}

func TestPlanOversizedRoyaltyIsCappedThenRejected(t *testing.T) {
	reg := royalty.NewStaticRegistry()
	reg.SetToken(nftAddr, []royalty.Part{{Account: creator, Value: 20_000}})
	d := Distributor{Royalties: reg}

	_, err := d.Plan(context.Background(), Fees{},
		DealSide{Asset: coins(100), Account: buyer, ApplyFees: true},
		DealSide{Asset: punk(1), Account: seller, ApplyFees: true})
	assert.ErrorIs(t, err, ErrRoyaltiesTooHigh)
}

func TestPlanRoyaltyTotalDoesNotWrap(t *testing.T) {
	reg := royalty.NewStaticRegistry()
	reg.SetToken(nftAddr, []royalty.Part{
		{Account: creator, Value: math.MaxUint64},
		{Account: relayer, Value: 2},
	})
	d := Distributor{Royalties: reg}

	_, err := d.Plan(context.Background(), Fees{},
		DealSide{Asset: coins(100), Account: buyer, ApplyFees: true},
		DealSide{Asset: punk(1), Account: seller, ApplyFees: true})
	assert.ErrorIs(t, err, ErrRoyaltiesTooHigh)
}

func TestPlanCreatorProbeFailureMeansSecondary(t *testing.T) {
	reg := royalty.NewStaticRegistry()
	reg.SetToken(nftAddr, []royalty.Part{{Account: creator, Value: 1000}})
	d := Distributor{
		Royalties: reg,
		Creators: royalty.CreatorFunc(func(context.Context, common.Address, *big.Int) (common.Address, bool) {
			return common.Address{}, false
		}),
	}
	out, err := d.Plan(context.Background(), Fees{PrimaryBP: 100, SecondaryBP: 0},
		DealSide{Asset: coins(1000), Account: buyer, ApplyFees: true},
		DealSide{Asset: punk(1), Account: seller, ApplyFees: true})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, creator, out[0].To)
	assert.Equal(t, "100", out[0].Asset.Value.String())
}

type brokenRegistry struct{}

func (brokenRegistry) Royalties(context.Context, common.Address, *big.Int) ([]royalty.Part, error) {
	return nil, errors.New("registry unavailable")
}

func TestPlanRegistryErrorPropagates(t *testing.T) {
	d := Distributor{Royalties: brokenRegistry{}}
	_, err := d.Plan(context.Background(), Fees{},
		DealSide{Asset: coins(1000), Account: buyer, ApplyFees: true},
		DealSide{Asset: punk(1), Account: seller, ApplyFees: true})
	assert.ErrorContains(t, err, "registry unavailable")
}

func TestTransfersNoFeeSide(t *testing.T) {
	d := Distributor{}
	out, err := d.Transfers(context.Background(), Fees{SecondaryBP: 100, Receiver: feeSink},
		DealSide{Asset: punk(1), Account: seller, ApplyFees: true},
		DealSide{Asset: punk(2), Account: buyer, ApplyFees: true},
		FeeSideNone)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, transfer.Transfer{Asset: punk(1), From: seller, To: buyer}.String(), out[0].String())
	assert.Equal(t, transfer.Transfer{Asset: punk(2), From: buyer, To: seller}.String(), out[1].String())
}

func TestTransfersLeftPays(t *testing.T) {
	d := Distributor{}
	out, err := d.Transfers(context.Background(), Fees{SecondaryBP: 1000, Receiver: feeSink},
		DealSide{Asset: coins(100), Account: buyer, ApplyFees: true},
		DealSide{Asset: punk(1), Account: seller, ApplyFees: true},
		FeeSideLeft)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "10", out[0].Asset.Value.String())
	assert.Equal(t, feeSink, out[0].To)
	assert.Equal(t, seller, out[1].To)
	assert.Equal(t, buyer, out[2].To)
	assert.Equal(t, asset.ClassERC721, out[2].Asset.Type.Class())
}
