package exchange

import (
	"errors"

	"github.com/uhyunpark/marketplace/pkg/asset"
	"github.com/uhyunpark/marketplace/pkg/order"
	"github.com/uhyunpark/marketplace/pkg/storage"
	"github.com/uhyunpark/marketplace/pkg/transfer"
)

var (
	ErrAssetMismatch      = errors.New("assets don't match")
	ErrTakerMismatch      = errors.New("taker verification failed")
	ErrNotMaker           = errors.New("sender is not the maker")
	ErrZeroSaltCancel     = errors.New("zero salt can't be cancelled")
	ErrInvalidOrderHash   = errors.New("invalid order hash")
	ErrTooManyMatches     = errors.New("too many matches")
	ErrEmptyBatch         = errors.New("invalid exchange match quantities")
	ErrRoyaltiesTooHigh   = errors.New("royalties are too high (>50%)")
	ErrInvalidSignature   = errors.New("signature verification failed")
	ErrTransferFailed     = errors.New("transfer failed")
	ErrStorage            = errors.New("fill store failure")
	ErrPaused             = errors.New("exchange is paused")
	ErrNotOperator        = errors.New("caller is not an operator")
	ErrFeeTooHigh         = errors.New("protocol fee must be below 50%")
	ErrInvalidFeeReceiver = errors.New("invalid default fee receiver")
	ErrInvalidMatchLimit  = errors.New("match limit must be positive")
	ErrInvalidOrder       = errors.New("missing order")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrAssetMismatch, "AssetMismatch"},
	{ErrTakerMismatch, "TakerMismatch"},
	{ErrNotMaker, "NotMaker"},
	{ErrZeroSaltCancel, "ZeroSaltCancel"},
	{ErrInvalidOrderHash, "InvalidOrderHash"},
	{ErrTooManyMatches, "TooManyMatches"},
	{ErrEmptyBatch, "EmptyBatch"},
	{ErrRoyaltiesTooHigh, "RoyaltiesTooHigh"},
	{ErrInvalidSignature, "InvalidSignature"},
	{ErrPaused, "Paused"},
	{ErrNotOperator, "NotOperator"},
	{ErrFeeTooHigh, "FeeTooHigh"},
	{ErrInvalidFeeReceiver, "InvalidFeeReceiver"},
	{ErrInvalidMatchLimit, "InvalidMatchLimit"},
	{ErrInvalidOrder, "InvalidOrder"},
	{order.ErrOrderNotStarted, "OrderNotStarted"},
	{order.ErrOrderExpired, "OrderExpired"},
	{order.ErrNothingToFill, "NothingToFill"},
	{order.ErrRoundingError, "RoundingError"},
	{order.ErrUnableToFill, "UnableToFill"},
	{order.ErrZeroValue, "ZeroValue"},
	{order.ErrDivisionByZero, "DivisionByZero"},
	{asset.ErrErc721Value, "Erc721ValueError"},
	{asset.ErrInvalidAssetClass, "InvalidAssetClass"},
	{asset.ErrInvalidAssetData, "InvalidAssetData"},
	{asset.ErrInvalidValue, "InvalidValue"},
	{asset.ErrValueOverflow, "ValueOverflow"},
	{transfer.ErrInsufficientBalance, "InsufficientBalance"},
	{ErrTransferFailed, "TransferFailed"},
	{storage.ErrInvalidFill, "InvalidFill"},
	{ErrStorage, "StorageError"},
}

// Code returns the stable reason code for err, "" for nil and "Internal"
// for errors outside the exchange taxonomy.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "Internal"
}
