package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/marketplace/pkg/asset"
	"github.com/uhyunpark/marketplace/pkg/order"
)

// Domain is the EIP-712 domain orders are signed under.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

func DefaultDomain() Domain {
	return Domain{
		Name:    "Marketplace",
		Version: "1",
		ChainID: big.NewInt(1337),
	}
}

var types = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": {
		{Name: "maker", Type: "address"},
		{Name: "makeAsset", Type: "Asset"},
		{Name: "taker", Type: "address"},
		{Name: "takeAsset", Type: "Asset"},
		{Name: "salt", Type: "uint256"},
		{Name: "start", Type: "uint256"},
		{Name: "end", Type: "uint256"},
	},
	"Asset": {
		{Name: "assetType", Type: "AssetType"},
		{Name: "value", Type: "uint256"},
	},
	"AssetType": {
		{Name: "assetClass", Type: "bytes4"},
		{Name: "data", Type: "bytes"},
	},
	"CancelOrder": {
		{Name: "orderHash", Type: "bytes32"},
	},
	"MatchOrders": {
		{Name: "orders", Type: "bytes32[]"},
		{Name: "deadline", Type: "uint256"},
	},
}

// TypedSigner hashes and signs exchange messages under a domain.
type TypedSigner struct {
	domain Domain
}

func NewTypedSigner(domain Domain) *TypedSigner {
	return &TypedSigner{domain: domain}
}

func (e *TypedSigner) Domain() Domain { return e.domain }

func (e *TypedSigner) typedData(primary string, msg apitypes.TypedDataMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       types,
		PrimaryType: primary,
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: msg,
	}
}

func (e *TypedSigner) digest(td apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}
	// keccak256("\x19\x01" || domainSeparator || structHash)
	raw := append([]byte("\x19\x01"), domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}

func assetTypeMessage(t asset.Type) map[string]interface{} {
	id, _ := t.Class().ID()
	return map[string]interface{}{
		"assetClass": hexutil.Encode(id[:]),
		"data":       hexutil.Encode(t.Data()),
	}
}

func assetMessage(a asset.Asset) map[string]interface{} {
	v := a.Value
	if v == nil {
		v = new(big.Int)
	}
	return map[string]interface{}{
		"assetType": assetTypeMessage(a.Type),
		"value":     v.String(),
	}
}

func orderMessage(o *order.Order) apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"maker":     o.Maker.Hex(),
		"makeAsset": assetMessage(o.MakeAsset),
		"taker":     o.Taker.Hex(),
		"takeAsset": assetMessage(o.TakeAsset),
		"salt":      o.SaltValue().String(),
		"start":     new(big.Int).SetUint64(o.Start).String(),
		"end":       new(big.Int).SetUint64(o.End).String(),
	}
}

// HashOrder returns the EIP-712 digest a maker signs for o.
func (e *TypedSigner) HashOrder(o *order.Order) ([]byte, error) {
	return e.digest(e.typedData("Order", orderMessage(o)))
}

func (e *TypedSigner) SignOrder(signer *Signer, o *order.Order) ([]byte, error) {
	hash, err := e.HashOrder(o)
	if err != nil {
		return nil, fmt.Errorf("failed to hash order: %w", err)
	}
	sig, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign order: %w", err)
	}
	return sig, nil
}

// RecoverOrderSigner returns the address that signed o.
func (e *TypedSigner) RecoverOrderSigner(o *order.Order, signature []byte) (common.Address, error) {
	hash, err := e.HashOrder(o)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash order: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// HashCancel returns the digest a maker signs to cancel the order with the
// given key.
func (e *TypedSigner) HashCancel(orderHash common.Hash) ([]byte, error) {
	return e.digest(e.typedData("CancelOrder", apitypes.TypedDataMessage{
		"orderHash": orderHash.Hex(),
	}))
}

func (e *TypedSigner) SignCancel(signer *Signer, orderHash common.Hash) ([]byte, error) {
	hash, err := e.HashCancel(orderHash)
	if err != nil {
		return nil, fmt.Errorf("failed to hash cancel: %w", err)
	}
	return signer.Sign(hash)
}

// RecoverCancelSigner returns the address that signed a cancellation.
func (e *TypedSigner) RecoverCancelSigner(orderHash common.Hash, signature []byte) (common.Address, error) {
	hash, err := e.HashCancel(orderHash)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash cancel: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// HashMatch returns the digest a sender signs to submit a batch. orders
// lists the sides of every match in order (left, right, left, right...);
// each is bound by its full order digest, amounts and time bounds included.
func (e *TypedSigner) HashMatch(orders []*order.Order, deadline uint64) ([]byte, error) {
	digests := make([]interface{}, 0, len(orders))
	for i, o := range orders {
		h, err := e.HashOrder(o)
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
		digests = append(digests, hexutil.Encode(h))
	}
	return e.digest(e.typedData("MatchOrders", apitypes.TypedDataMessage{
		"orders":   digests,
		"deadline": new(big.Int).SetUint64(deadline).String(),
	}))
}

func (e *TypedSigner) SignMatch(signer *Signer, orders []*order.Order, deadline uint64) ([]byte, error) {
	hash, err := e.HashMatch(orders, deadline)
	if err != nil {
		return nil, fmt.Errorf("failed to hash match: %w", err)
	}
	return signer.Sign(hash)
}

// RecoverMatchSigner returns the address that signed a batch together with
// the batch digest.
func (e *TypedSigner) RecoverMatchSigner(orders []*order.Order, deadline uint64, signature []byte) (common.Address, common.Hash, error) {
	hash, err := e.HashMatch(orders, deadline)
	if err != nil {
		return common.Address{}, common.Hash{}, fmt.Errorf("failed to hash match: %w", err)
	}
	addr, err := RecoverAddress(hash, signature)
	if err != nil {
		return common.Address{}, common.Hash{}, err
	}
	return addr, common.BytesToHash(hash), nil
}

// OrderToJSON renders o as eth_signTypedData_v4 input for wallets.
func (e *TypedSigner) OrderToJSON(o *order.Order) (string, error) {
	td := e.typedData("Order", orderMessage(o))
	out, err := json.MarshalIndent(map[string]interface{}{
		"types":       td.Types,
		"primaryType": td.PrimaryType,
		"domain": map[string]interface{}{
			"name":              e.domain.Name,
			"version":           e.domain.Version,
			"chainId":           e.domain.ChainID.String(),
			"verifyingContract": e.domain.VerifyingContract.Hex(),
		},
		"message": td.Message,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(out), nil
}
