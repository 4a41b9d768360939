package order

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/marketplace/pkg/asset"
)

var (
	ErrOrderNotStarted = errors.New("order not started")
	ErrOrderExpired    = errors.New("order expired")
	ErrZeroValue       = errors.New("asset value is zero")
	ErrNothingToFill   = errors.New("nothing to fill")
	ErrRoundingError   = errors.New("rounding error")
	ErrUnableToFill    = errors.New("unable to fill")
	ErrDivisionByZero  = errors.New("division by zero")
)

var (
	addressT, _ = abi.NewType("address", "", nil)
	bytes32T, _ = abi.NewType("bytes32", "", nil)
	uint256T, _ = abi.NewType("uint256", "", nil)

	keyArgs = abi.Arguments{{Type: addressT}, {Type: bytes32T}, {Type: bytes32T}, {Type: uint256T}}
)

// Order is a standing offer by Maker to give MakeAsset in exchange for
// TakeAsset. A zero Taker accepts any counterparty. Start and End are unix
// seconds, zero meaning unbounded.
type Order struct {
	Maker     common.Address
	MakeAsset asset.Asset
	Taker     common.Address
	TakeAsset asset.Asset
	Salt      *big.Int
	Start     uint64
	End       uint64
}

// SaltValue returns the salt, treating nil as zero.
func (o *Order) SaltValue() *big.Int {
	if o.Salt == nil {
		return new(big.Int)
	}
	return o.Salt
}

// IsZeroSalt reports whether the order is maker-gated and reusable.
func (o *Order) IsZeroSalt() bool { return o.SaltValue().Sign() == 0 }

// HashKey identifies the order in the fill ledger. Values and time bounds
// are not part of the key. A salt outside uint256 has no key and yields the
// zero hash.
func (o *Order) HashKey() common.Hash {
	if !asset.FitsUint256(o.SaltValue()) {
		return common.Hash{}
	}
	enc, err := keyArgs.Pack(o.Maker, o.MakeAsset.Type.Hash(), o.TakeAsset.Type.Hash(), o.SaltValue())
	if err != nil {
		return common.Hash{}
	}
	return crypto.Keccak256Hash(enc)
}

// ValidateTime checks the order window against now. Both bounds are strict.
func (o *Order) ValidateTime(now time.Time) error {
	ts := uint64(now.Unix())
	if o.Start != 0 && o.Start >= ts {
		return fmt.Errorf("%w: starts at %d, now %d", ErrOrderNotStarted, o.Start, ts)
	}
	if o.End != 0 && o.End <= ts {
		return fmt.Errorf("%w: ended at %d, now %d", ErrOrderExpired, o.End, ts)
	}
	return nil
}

// Validate checks the salt and both assets. ERC721 legs must carry exactly 1
// and no leg may be zero.
func (o *Order) Validate() error {
	if !asset.FitsUint256(o.SaltValue()) {
		return fmt.Errorf("salt: %w", asset.ErrValueOverflow)
	}
	if err := o.MakeAsset.Validate(); err != nil {
		return fmt.Errorf("make asset: %w", err)
	}
	if err := o.TakeAsset.Validate(); err != nil {
		return fmt.Errorf("take asset: %w", err)
	}
	if o.MakeAsset.Value.Sign() == 0 {
		return fmt.Errorf("make asset: %w", ErrZeroValue)
	}
	if o.TakeAsset.Value.Sign() == 0 {
		return fmt.Errorf("take asset: %w", ErrZeroValue)
	}
	return nil
}

// Remaining returns what is left of the order given the amount of TakeAsset
// the maker has already received. The make side is scaled at the order's
// declared price.
func (o *Order) Remaining(fill *big.Int) (makeValue, takeValue *big.Int, err error) {
	if fill == nil {
		fill = new(big.Int)
	}
	takeValue = new(big.Int).Sub(o.TakeAsset.Value, fill)
	if takeValue.Sign() <= 0 {
		return nil, nil, ErrNothingToFill
	}
	makeValue, err = PartialAmountFloor(o.MakeAsset.Value, o.TakeAsset.Value, takeValue)
	if err != nil {
		return nil, nil, err
	}
	return makeValue, takeValue, nil
}

func (o *Order) String() string {
	return fmt.Sprintf("order{maker=%s make=%s take=%s salt=%s}",
		o.Maker.Hex(), o.MakeAsset, o.TakeAsset, o.SaltValue())
}
