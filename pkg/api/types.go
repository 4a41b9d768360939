package api

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/marketplace/pkg/asset"
	"github.com/uhyunpark/marketplace/pkg/exchange"
	"github.com/uhyunpark/marketplace/pkg/order"
	"github.com/uhyunpark/marketplace/pkg/orderpool"
	"github.com/uhyunpark/marketplace/pkg/transfer"
)

// API payloads. Amounts, salts and token ids are decimal strings.

// ==============================
// Order Payloads
// ==============================

type AssetTypePayload struct {
	Class   string `json:"class"`             // "ERC20", "ERC721", "ERC1155"
	Token   string `json:"token"`             // contract address
	TokenID string `json:"tokenId,omitempty"` // required for ERC721/ERC1155
}

type AssetPayload struct {
	AssetType AssetTypePayload `json:"assetType"`
	Value     string           `json:"value"`
}

type OrderPayload struct {
	Maker     string       `json:"maker"`
	MakeAsset AssetPayload `json:"makeAsset"`
	Taker     string       `json:"taker,omitempty"` // empty or zero address for any taker
	TakeAsset AssetPayload `json:"takeAsset"`
	Salt      string       `json:"salt"`
	Start     uint64       `json:"start"` // unix seconds, 0 = unbounded
	End       uint64       `json:"end"`   // unix seconds, 0 = unbounded
}

var (
	errBadAddress   = errors.New("invalid address")
	errBadNumber    = errors.New("invalid decimal number")
	errBadSignature = errors.New("signature must be 0x-prefixed 65-byte hex")
	errBadHash      = errors.New("hash must be 0x-prefixed 32-byte hex")
)

func parseAddress(s string, allowEmpty bool) (common.Address, error) {
	if s == "" && allowEmpty {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", errBadAddress, s)
	}
	return common.HexToAddress(s), nil
}

func parseUint(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || !asset.FitsUint256(v) {
		return nil, fmt.Errorf("%w: %q", errBadNumber, s)
	}
	return v, nil
}

func parseHash(s string) (common.Hash, error) {
	if !strings.HasPrefix(s, "0x") || len(s) != 66 {
		return common.Hash{}, fmt.Errorf("%w: %q", errBadHash, s)
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %q", errBadHash, s)
	}
	return common.BytesToHash(b), nil
}

func decodeSignature(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") {
		return nil, errBadSignature
	}
	sig, err := hex.DecodeString(s[2:])
	if err != nil || len(sig) != 65 {
		return nil, errBadSignature
	}
	return sig, nil
}

func (p AssetTypePayload) toType() (asset.Type, error) {
	class, err := asset.ParseClass(p.Class)
	if err != nil {
		return asset.Type{}, err
	}
	token, err := parseAddress(p.Token, false)
	if err != nil {
		return asset.Type{}, err
	}
	if class == asset.ClassERC20 {
		return asset.ERC20(token), nil
	}
	id, err := parseUint(p.TokenID)
	if err != nil {
		return asset.Type{}, fmt.Errorf("tokenId: %w", err)
	}
	if class == asset.ClassERC721 {
		return asset.ERC721(token, id), nil
	}
	return asset.ERC1155(token, id), nil
}

func (p AssetPayload) toAsset() (asset.Asset, error) {
	t, err := p.AssetType.toType()
	if err != nil {
		return asset.Asset{}, err
	}
	v, err := parseUint(p.Value)
	if err != nil {
		return asset.Asset{}, fmt.Errorf("value: %w", err)
	}
	a := asset.New(t, v)
	if err := a.Validate(); err != nil {
		return asset.Asset{}, err
	}
	return a, nil
}

func (p OrderPayload) toOrder() (*order.Order, error) {
	maker, err := parseAddress(p.Maker, false)
	if err != nil {
		return nil, fmt.Errorf("maker: %w", err)
	}
	if maker == (common.Address{}) {
		return nil, fmt.Errorf("maker: %w: zero address", errBadAddress)
	}
	taker, err := parseAddress(p.Taker, true)
	if err != nil {
		return nil, fmt.Errorf("taker: %w", err)
	}
	makeAsset, err := p.MakeAsset.toAsset()
	if err != nil {
		return nil, fmt.Errorf("makeAsset: %w", err)
	}
	takeAsset, err := p.TakeAsset.toAsset()
	if err != nil {
		return nil, fmt.Errorf("takeAsset: %w", err)
	}
	salt := big.NewInt(0)
	if p.Salt != "" {
		if salt, err = parseUint(p.Salt); err != nil {
			return nil, fmt.Errorf("salt: %w", err)
		}
	}
	return &order.Order{
		Maker:     maker,
		MakeAsset: makeAsset,
		Taker:     taker,
		TakeAsset: takeAsset,
		Salt:      salt,
		Start:     p.Start,
		End:       p.End,
	}, nil
}

func assetTypePayload(t asset.Type) AssetTypePayload {
	p := AssetTypePayload{Class: t.Class().String(), Token: t.Token().Hex()}
	if id := t.TokenID(); id != nil {
		p.TokenID = id.String()
	}
	return p
}

func assetPayload(a asset.Asset) AssetPayload {
	v := "0"
	if a.Value != nil {
		v = a.Value.String()
	}
	return AssetPayload{AssetType: assetTypePayload(a.Type), Value: v}
}

// NewOrderPayload renders o in API form.
func NewOrderPayload(o *order.Order) OrderPayload { return orderPayload(o) }

// Order parses the payload back into an order.
func (p OrderPayload) Order() (*order.Order, error) { return p.toOrder() }

func orderPayload(o *order.Order) OrderPayload {
	p := OrderPayload{
		Maker:     o.Maker.Hex(),
		MakeAsset: assetPayload(o.MakeAsset),
		TakeAsset: assetPayload(o.TakeAsset),
		Salt:      o.SaltValue().String(),
		Start:     o.Start,
		End:       o.End,
	}
	if o.Taker != (common.Address{}) {
		p.Taker = o.Taker.Hex()
	}
	return p
}

// ==============================
// REST Request/Response Types
// ==============================

// SubmitOrderRequest is also the gossip message format.
type SubmitOrderRequest struct {
	Order     OrderPayload `json:"order"`
	Signature string       `json:"signature"`
}

type SubmitOrderResponse struct {
	Status string `json:"status"` // "pooled"
	Hash   string `json:"hash"`
}

type PooledOrderInfo struct {
	Hash      string       `json:"hash"`
	Order     OrderPayload `json:"order"`
	Signature string       `json:"signature"`
	Received  int64        `json:"received"` // Unix milliseconds
}

func pooledOrderInfo(so orderpool.SignedOrder) PooledOrderInfo {
	return PooledOrderInfo{
		Hash:      so.Hash.Hex(),
		Order:     orderPayload(so.Order),
		Signature: "0x" + hex.EncodeToString(so.Signature),
		Received:  so.Received.UnixMilli(),
	}
}

type FillInfo struct {
	Hash      string `json:"hash"`
	Fill      string `json:"fill"`
	Cancelled bool   `json:"cancelled"`
}

// MatchPayload names each side either inline (order + signature) or by the
// hash of a pooled order.
type MatchPayload struct {
	Left      *OrderPayload `json:"left,omitempty"`
	SigLeft   string        `json:"sigLeft,omitempty"`
	LeftHash  string        `json:"leftHash,omitempty"`
	Right     *OrderPayload `json:"right,omitempty"`
	SigRight  string        `json:"sigRight,omitempty"`
	RightHash string        `json:"rightHash,omitempty"`
}

// MatchRequest submits a batch. Without a signature the batch runs with no
// sender, so every side needs its own maker signature. With one, the
// recovered signer is the sender; Sender is then only a cross-check.
type MatchRequest struct {
	Sender    string         `json:"sender,omitempty"`
	Matches   []MatchPayload `json:"matches"`
	Deadline  uint64         `json:"deadline,omitempty"`
	Signature string         `json:"signature,omitempty"`
}

type TransferInfo struct {
	Asset AssetPayload `json:"asset"`
	From  string       `json:"from"`
	To    string       `json:"to"`
}

func transferInfos(ts []transfer.Transfer) []TransferInfo {
	out := make([]TransferInfo, 0, len(ts))
	for _, t := range ts {
		out = append(out, TransferInfo{Asset: assetPayload(t.Asset), From: t.From.Hex(), To: t.To.Hex()})
	}
	return out
}

type MatchResultInfo struct {
	LeftHash     string         `json:"leftHash"`
	RightHash    string         `json:"rightHash"`
	LeftValue    string         `json:"leftValue"`
	RightValue   string         `json:"rightValue"`
	NewLeftFill  string         `json:"newLeftFill"`
	NewRightFill string         `json:"newRightFill"`
	FeeSide      string         `json:"feeSide"`
	Transfers    []TransferInfo `json:"transfers"`
}

func matchResultInfo(r exchange.MatchResult) MatchResultInfo {
	return MatchResultInfo{
		LeftHash:     r.LeftHash.Hex(),
		RightHash:    r.RightHash.Hex(),
		LeftValue:    r.Fill.LeftValue.String(),
		RightValue:   r.Fill.RightValue.String(),
		NewLeftFill:  r.NewLeftFill.String(),
		NewRightFill: r.NewRightFill.String(),
		FeeSide:      r.FeeSide.String(),
		Transfers:    transferInfos(r.Transfers),
	}
}

type MatchResponse struct {
	Results []MatchResultInfo `json:"results"`
}

// CancelOrderRequest cancels Order. With cancel signatures enabled the
// sender is the recovered signer of Signature over Hash.
type CancelOrderRequest struct {
	Sender    string       `json:"sender,omitempty"`
	Order     OrderPayload `json:"order"`
	Hash      string       `json:"hash"`
	Signature string       `json:"signature,omitempty"`
}

type CancelOrderResponse struct {
	Status string `json:"status"` // "cancelled"
	Hash   string `json:"hash"`
}

type BalanceInfo struct {
	Address  string         `json:"address"`
	Holdings []AssetPayload `json:"holdings"`
}

type StatusInfo struct {
	Paused         bool   `json:"paused"`
	PrimaryFeeBP   uint64 `json:"primaryFeeBp"`
	SecondaryFeeBP uint64 `json:"secondaryFeeBp"`
	FeeReceiver    string `json:"feeReceiver"`
	MatchLimit     int    `json:"matchLimit"`
	PoolSize       int    `json:"poolSize"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"` // stable reason code, e.g. "NothingToFill"
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

const (
	ChannelOrders  = "orders"
	ChannelMatches = "matches"
	ChannelCancels = "cancels"
)

// WSMessage is the envelope for all pushed messages.
type WSMessage struct {
	Type string      `json:"type"` // channel name
	Data interface{} `json:"data"`
}

// WSSubscribeRequest is sent by clients to (un)subscribe.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

type MatchUpdate struct {
	ID           string         `json:"id"`
	Sender       string         `json:"sender"`
	LeftHash     string         `json:"leftHash"`
	RightHash    string         `json:"rightHash"`
	LeftMaker    string         `json:"leftMaker"`
	RightMaker   string         `json:"rightMaker"`
	NewLeftFill  string         `json:"newLeftFill"`
	NewRightFill string         `json:"newRightFill"`
	LeftAsset    AssetPayload   `json:"leftAsset"`
	RightAsset   AssetPayload   `json:"rightAsset"`
	FeeSide      string         `json:"feeSide"`
	Transfers    []TransferInfo `json:"transfers"`
	Timestamp    int64          `json:"timestamp"` // Unix milliseconds
}

func matchUpdate(ev exchange.MatchEvent) MatchUpdate {
	return MatchUpdate{
		ID:           ev.ID.String(),
		Sender:       ev.Sender.Hex(),
		LeftHash:     ev.LeftHash.Hex(),
		RightHash:    ev.RightHash.Hex(),
		LeftMaker:    ev.LeftMaker.Hex(),
		RightMaker:   ev.RightMaker.Hex(),
		NewLeftFill:  ev.NewLeftFill.String(),
		NewRightFill: ev.NewRightFill.String(),
		LeftAsset:    assetPayload(ev.LeftAsset),
		RightAsset:   assetPayload(ev.RightAsset),
		FeeSide:      ev.FeeSide.String(),
		Transfers:    transferInfos(ev.Transfers),
		Timestamp:    ev.Timestamp.UnixMilli(),
	}
}

type CancelUpdate struct {
	Maker     string `json:"maker"`
	Hash      string `json:"hash"`
	Timestamp int64  `json:"timestamp"`
}
