package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/marketplace/pkg/asset"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNegativeAmount      = errors.New("negative transfer amount")
)

// Transfer moves Asset from From to To.
type Transfer struct {
	Asset asset.Asset
	From  common.Address
	To    common.Address
}

func (t Transfer) String() string {
	return fmt.Sprintf("%s: %s -> %s", t.Asset, t.From.Hex(), t.To.Hex())
}

// Executor applies a list of transfers. Either every transfer takes effect
// or none does.
type Executor interface {
	Execute(ctx context.Context, transfers []Transfer) error
}

// Fungible moves ERC20 balances.
type Fungible interface {
	TransferFungible(ctx context.Context, token, from, to common.Address, amount *big.Int) error
}

// NonFungibleUnique moves a single ERC721 item.
type NonFungibleUnique interface {
	TransferUnique(ctx context.Context, token common.Address, id *big.Int, from, to common.Address) error
}

// NonFungibleMultiple moves an amount of an ERC1155 item.
type NonFungibleMultiple interface {
	TransferMultiple(ctx context.Context, token common.Address, id *big.Int, from, to common.Address, amount *big.Int) error
}
