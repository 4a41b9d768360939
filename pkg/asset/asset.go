package asset

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidAssetClass = errors.New("invalid asset class")
	ErrInvalidAssetData  = errors.New("invalid asset data")
	ErrErc721Value       = errors.New("erc721 value must be 1")
	ErrInvalidValue      = errors.New("asset value must be a non-negative integer")
	ErrValueOverflow     = errors.New("value does not fit in uint256")
)

// FitsUint256 reports whether v is a valid uint256. nil counts as zero.
func FitsUint256(v *big.Int) bool {
	return v == nil || (v.Sign() >= 0 && v.BitLen() <= 256)
}

// AssetTypeTypeHash is keccak256 of the AssetType EIP-712 type string.
var AssetTypeTypeHash = crypto.Keccak256Hash([]byte("AssetType(bytes4 assetClass,bytes data)"))

var (
	addressT, _ = abi.NewType("address", "", nil)
	uint256T, _ = abi.NewType("uint256", "", nil)
	bytes4T, _  = abi.NewType("bytes4", "", nil)
	bytes32T, _ = abi.NewType("bytes32", "", nil)

	tokenArgs   = abi.Arguments{{Type: addressT}}
	tokenIDArgs = abi.Arguments{{Type: addressT}, {Type: uint256T}}
	typeArgs    = abi.Arguments{{Type: bytes32T}, {Type: bytes4T}, {Type: bytes32T}}
)

// Type is the immutable (class, encoded identity) pair of an asset.
// A Type built from an out-of-range token id carries no data and fails
// Validate.
type Type struct {
	class Class
	data  []byte
	err   error
}

func ERC20(token common.Address) Type {
	data, err := tokenArgs.Pack(token)
	return Type{class: ClassERC20, data: data, err: err}
}

func ERC721(token common.Address, tokenID *big.Int) Type {
	return withTokenID(ClassERC721, token, tokenID)
}

func ERC1155(token common.Address, tokenID *big.Int) Type {
	return withTokenID(ClassERC1155, token, tokenID)
}

// withTokenID refuses ids outside uint256; ABI packing would wrap them.
func withTokenID(class Class, token common.Address, tokenID *big.Int) Type {
	if !FitsUint256(tokenID) {
		return Type{class: class, err: fmt.Errorf("%w: token id %s", ErrValueOverflow, tokenID)}
	}
	data, err := tokenIDArgs.Pack(token, normalize(tokenID))
	if err != nil {
		return Type{class: class, err: fmt.Errorf("%w: %v", ErrInvalidAssetData, err)}
	}
	return Type{class: class, data: data}
}

// NewType builds a Type from raw ABI-encoded data, checking that the data
// decodes for the class.
func NewType(class Class, data []byte) (Type, error) {
	t := Type{class: class, data: bytes.Clone(data)}
	if !class.Valid() {
		return Type{}, fmt.Errorf("%w: %d", ErrInvalidAssetClass, class)
	}
	if _, _, err := t.decode(); err != nil {
		return Type{}, err
	}
	return t, nil
}

func normalize(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func (t Type) Class() Class { return t.class }

// Err reports why the type could not be encoded, if it couldn't.
func (t Type) Err() error { return t.err }

// Data returns a copy of the encoded identity.
func (t Type) Data() []byte { return bytes.Clone(t.data) }

func (t Type) IsZero() bool { return t.class == ClassUnknown && len(t.data) == 0 }

// Equal compares class and encoded identity.
func (t Type) Equal(o Type) bool {
	return t.class == o.class && bytes.Equal(t.data, o.data)
}

// Hash is the EIP-712 struct hash of the asset type.
func (t Type) Hash() common.Hash {
	id, _ := t.class.ID()
	enc, err := typeArgs.Pack(AssetTypeTypeHash, id, crypto.Keccak256Hash(t.data))
	if err != nil {
		return common.Hash{}
	}
	return crypto.Keccak256Hash(enc)
}

func (t Type) decode() (common.Address, *big.Int, error) {
	var args abi.Arguments
	switch t.class {
	case ClassERC20:
		args = tokenArgs
	case ClassERC721, ClassERC1155:
		args = tokenIDArgs
	default:
		return common.Address{}, nil, fmt.Errorf("%w: %d", ErrInvalidAssetClass, t.class)
	}
	if len(t.data) != 32*len(args) {
		return common.Address{}, nil, fmt.Errorf("%w: %s wants %d bytes, got %d",
			ErrInvalidAssetData, t.class, 32*len(args), len(t.data))
	}
	vals, err := args.Unpack(t.data)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: %v", ErrInvalidAssetData, err)
	}
	token := vals[0].(common.Address)
	if len(vals) == 1 {
		return token, nil, nil
	}
	return token, vals[1].(*big.Int), nil
}

// Token returns the token contract address.
func (t Type) Token() common.Address {
	token, _, _ := t.decode()
	return token
}

// TokenID returns the token id, or nil for fungible tokens.
func (t Type) TokenID() *big.Int {
	_, id, _ := t.decode()
	return id
}

func (t Type) String() string {
	token, id, err := t.decode()
	if err != nil {
		return fmt.Sprintf("%s(0x%x)", t.class, t.data)
	}
	if id == nil {
		return fmt.Sprintf("%s(%s)", t.class, token.Hex())
	}
	return fmt.Sprintf("%s(%s,%s)", t.class, token.Hex(), id)
}

// Asset is an amount of a given asset type.
type Asset struct {
	Type  Type
	Value *big.Int
}

func New(t Type, value *big.Int) Asset {
	return Asset{Type: t, Value: new(big.Int).Set(normalize(value))}
}

// Validate checks the class and the value. ERC721 values must be exactly 1.
func (a Asset) Validate() error {
	if !a.Type.class.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidAssetClass, a.Type.class)
	}
	if a.Type.err != nil {
		return a.Type.err
	}
	if a.Value == nil || a.Value.Sign() < 0 {
		return ErrInvalidValue
	}
	if !FitsUint256(a.Value) {
		return fmt.Errorf("%w: %s", ErrValueOverflow, a.Value)
	}
	if a.Type.class == ClassERC721 && a.Value.Cmp(big.NewInt(1)) != 0 {
		return fmt.Errorf("%w: got %s", ErrErc721Value, a.Value)
	}
	return nil
}

// WithValue returns a copy of a carrying value v.
func (a Asset) WithValue(v *big.Int) Asset {
	return New(a.Type, v)
}

func (a Asset) String() string {
	return fmt.Sprintf("%s x %s", a.Type, normalize(a.Value))
}
