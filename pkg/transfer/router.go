package transfer

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/marketplace/pkg/asset"
	"github.com/uhyunpark/marketplace/pkg/util"
)

// Router selects the transfer variant by asset class. When a leg fails,
// the legs already applied are reversed in LIFO order.
type Router struct {
	Fungible Fungible
	Unique   NonFungibleUnique
	Multiple NonFungibleMultiple
	Logger   *zap.SugaredLogger
}

// NewRouter builds a router whose three variants are served by one backend.
func NewRouter[T interface {
	Fungible
	NonFungibleUnique
	NonFungibleMultiple
}](backend T, logger *zap.SugaredLogger) *Router {
	return &Router{Fungible: backend, Unique: backend, Multiple: backend, Logger: logger}
}

// Transfer applies a single leg.
func (r *Router) Transfer(ctx context.Context, a asset.Asset, from, to common.Address) error {
	return r.apply(ctx, Transfer{Asset: a, From: from, To: to})
}

func (r *Router) apply(ctx context.Context, t Transfer) error {
	a := t.Asset
	if a.Value == nil || a.Value.Sign() < 0 {
		return ErrNegativeAmount
	}
	token := a.Type.Token()
	switch a.Type.Class() {
	case asset.ClassERC20:
		if r.Fungible == nil {
			return fmt.Errorf("%w: no fungible backend", asset.ErrInvalidAssetClass)
		}
		return r.Fungible.TransferFungible(ctx, token, t.From, t.To, a.Value)
	case asset.ClassERC721:
		if err := a.Validate(); err != nil {
			return err
		}
		if r.Unique == nil {
			return fmt.Errorf("%w: no erc721 backend", asset.ErrInvalidAssetClass)
		}
		return r.Unique.TransferUnique(ctx, token, a.Type.TokenID(), t.From, t.To)
	case asset.ClassERC1155:
		if r.Multiple == nil {
			return fmt.Errorf("%w: no erc1155 backend", asset.ErrInvalidAssetClass)
		}
		return r.Multiple.TransferMultiple(ctx, token, a.Type.TokenID(), t.From, t.To, a.Value)
	default:
		return fmt.Errorf("%w: %d", asset.ErrInvalidAssetClass, a.Type.Class())
	}
}

func (r *Router) Execute(ctx context.Context, transfers []Transfer) error {
	for i, t := range transfers {
		if !t.Asset.Type.Class().Valid() {
			return fmt.Errorf("transfer %d: %w", i, asset.ErrInvalidAssetClass)
		}
	}
	for i, t := range transfers {
		if err := r.apply(ctx, t); err != nil {
			r.revert(ctx, transfers[:i])
			return fmt.Errorf("transfer %d (%s): %w", i, t, err)
		}
	}
	return nil
}

func (r *Router) revert(ctx context.Context, applied []Transfer) {
	log := util.OrNop(r.Logger)
	for i := len(applied) - 1; i >= 0; i-- {
		t := applied[i]
		back := Transfer{Asset: t.Asset, From: t.To, To: t.From}
		if err := r.apply(ctx, back); err != nil {
			log.Errorw("transfer_revert_failed", "transfer", t.String(), "err", err)
		}
	}
}

var _ Executor = (*Router)(nil)
