package exchange

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/uhyunpark/marketplace/pkg/asset"
	"github.com/uhyunpark/marketplace/pkg/transfer"
)

// MatchEvent is published once per match after the batch is committed.
type MatchEvent struct {
	ID           uuid.UUID
	Sender       common.Address
	LeftHash     common.Hash
	RightHash    common.Hash
	LeftMaker    common.Address
	RightMaker   common.Address
	NewLeftFill  *big.Int
	NewRightFill *big.Int
	LeftAsset    asset.Asset
	RightAsset   asset.Asset
	FeeSide      FeeSide
	Transfers    []transfer.Transfer
	Timestamp    time.Time
}

// CancelEvent is published after an order has been cancelled.
type CancelEvent struct {
	Maker     common.Address
	Hash      common.Hash
	Timestamp time.Time
}
