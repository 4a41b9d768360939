package exchange

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/marketplace/pkg/asset"
	"github.com/uhyunpark/marketplace/pkg/royalty"
	"github.com/uhyunpark/marketplace/pkg/transfer"
)

const (
	// BasisPoints is 100% in royalty units.
	BasisPoints = 10000
	// FeeMultiplier is 100% in protocol fee units.
	FeeMultiplier = 10000
	// MaxRoyaltiesBP caps the sum of royalty parts for one item.
	MaxRoyaltiesBP = 5000
	// MaxProtocolFeeBP is the exclusive upper bound of a protocol fee rate.
	MaxProtocolFeeBP = 5000
)

// DealSide is what one party hands over in a single match.
type DealSide struct {
	Asset     asset.Asset
	Account   common.Address
	ApplyFees bool
}

// Fees is the protocol fee configuration applied to a payment.
type Fees struct {
	PrimaryBP   uint64
	SecondaryBP uint64
	Receiver    common.Address
}

// Distributor splits a payment between royalty recipients, the protocol fee
// receiver and the seller of the item.
type Distributor struct {
	Royalties royalty.Registry
	Creators  royalty.CreatorProbe
}

// subFeeInBp takes base*bp/divisor out of remainder. The amount is capped at
// what is left so the remainder never goes negative.
func subFeeInBp(remainder, base *big.Int, bp uint64, divisor int64) (rest, fee *big.Int) {
	fee = new(big.Int).Mul(base, new(big.Int).SetUint64(bp))
	fee.Quo(fee, big.NewInt(divisor))
	if fee.Cmp(remainder) > 0 {
		fee.Set(remainder)
	}
	return new(big.Int).Sub(remainder, fee), fee
}

// IsPrimarySale reports whether the seller is the item's creator. Probe
// failures count as a secondary sale.
func (d *Distributor) IsPrimarySale(ctx context.Context, item DealSide) bool {
	if d.Creators == nil {
		return false
	}
	creator, ok := d.Creators.Creator(ctx, item.Asset.Type.Token(), item.Asset.Type.TokenID())
	return ok && creator == item.Account
}

// Plan returns the transfers paying for item with payment. Zero amounts are
// left out.
func (d *Distributor) Plan(ctx context.Context, fees Fees, payment, item DealSide) ([]transfer.Transfer, error) {
	var out []transfer.Transfer
	pay := func(amount *big.Int, to common.Address) {
		if amount.Sign() == 0 {
			return
		}
		out = append(out, transfer.Transfer{
			Asset: payment.Asset.WithValue(amount),
			From:  payment.Account,
			To:    to,
		})
	}

	remainder := new(big.Int).Set(payment.Asset.Value)
	if !payment.ApplyFees {
		pay(remainder, item.Account)
		return out, nil
	}

	rate := fees.SecondaryBP
	if d.IsPrimarySale(ctx, item) {
		rate = fees.PrimaryBP
	} else {
		var err error
		remainder, err = d.payRoyalties(ctx, remainder, item, pay)
		if err != nil {
			return nil, err
		}
	}

	if rate > 0 && remainder.Sign() > 0 {
		var fee *big.Int
		remainder, fee = subFeeInBp(remainder, remainder, rate, FeeMultiplier)
		pay(fee, fees.Receiver)
	}

	pay(remainder, item.Account)
	return out, nil
}

func (d *Distributor) payRoyalties(ctx context.Context, remainder *big.Int, item DealSide, pay func(*big.Int, common.Address)) (*big.Int, error) {
	if d.Royalties == nil {
		return remainder, nil
	}
	parts, err := d.Royalties.Royalties(ctx, item.Asset.Type.Token(), item.Asset.Type.TokenID())
	if err != nil {
		return nil, fmt.Errorf("royalty lookup for %s: %w", item.Asset.Type, err)
	}
	var total uint64
	for _, p := range parts {
		// saturate so wrapped parts can't slip under the ceiling
		if total > math.MaxUint64-p.Value {
			total = math.MaxUint64
		} else {
			total += p.Value
		}
		if p.Account == item.Account {
			continue
		}
		var amount *big.Int
		remainder, amount = subFeeInBp(remainder, remainder, p.Value, BasisPoints)
		pay(amount, p.Account)
	}
	if total > MaxRoyaltiesBP {
		return nil, fmt.Errorf("%w: %d bp for %s", ErrRoyaltiesTooHigh, total, item.Asset.Type)
	}
	return remainder, nil
}

// Transfers builds every transfer of one match given the fee side.
func (d *Distributor) Transfers(ctx context.Context, fees Fees, left, right DealSide, side FeeSide) ([]transfer.Transfer, error) {
	switch side {
	case FeeSideLeft:
		return d.settle(ctx, fees, left, right)
	case FeeSideRight:
		return d.settle(ctx, fees, right, left)
	default:
		var out []transfer.Transfer
		if left.Asset.Value.Sign() > 0 {
			out = append(out, transfer.Transfer{Asset: left.Asset, From: left.Account, To: right.Account})
		}
		if right.Asset.Value.Sign() > 0 {
			out = append(out, transfer.Transfer{Asset: right.Asset, From: right.Account, To: left.Account})
		}
		return out, nil
	}
}

func (d *Distributor) settle(ctx context.Context, fees Fees, payment, item DealSide) ([]transfer.Transfer, error) {
	out, err := d.Plan(ctx, fees, payment, item)
	if err != nil {
		return nil, err
	}
	if item.Asset.Value.Sign() > 0 {
		out = append(out, transfer.Transfer{Asset: item.Asset, From: item.Account, To: payment.Account})
	}
	return out, nil
}
