package crypto

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/marketplace/pkg/order"
)

var ErrSignerMismatch = errors.New("signer is not the order maker")

// WalletVerifier validates signatures of contract wallets (ERC-1271 style).
type WalletVerifier interface {
	IsValidSignature(ctx context.Context, wallet common.Address, digest, signature []byte) (bool, error)
}

// OrderValidator accepts an order when its signature recovers to the maker,
// or when a configured WalletVerifier vouches for the maker.
type OrderValidator struct {
	signer  *TypedSigner
	wallets WalletVerifier
}

func NewOrderValidator(signer *TypedSigner, wallets WalletVerifier) *OrderValidator {
	return &OrderValidator{signer: signer, wallets: wallets}
}

func (v *OrderValidator) Verify(ctx context.Context, o *order.Order, signature []byte, _ common.Address) error {
	digest, err := v.signer.HashOrder(o)
	if err != nil {
		return err
	}
	if len(signature) == 65 {
		recovered, err := RecoverAddress(digest, signature)
		if err == nil && recovered == o.Maker {
			return nil
		}
	}
	if v.wallets != nil {
		ok, err := v.wallets.IsValidSignature(ctx, o.Maker, digest, signature)
		if err != nil {
			return fmt.Errorf("wallet check for %s: %w", o.Maker.Hex(), err)
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrSignerMismatch, o.Maker.Hex())
}
