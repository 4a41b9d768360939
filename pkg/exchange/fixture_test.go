package exchange

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/marketplace/pkg/asset"
	"github.com/uhyunpark/marketplace/pkg/order"
	"github.com/uhyunpark/marketplace/pkg/royalty"
	"github.com/uhyunpark/marketplace/pkg/storage"
	"github.com/uhyunpark/marketplace/pkg/transfer"
	"github.com/uhyunpark/marketplace/pkg/util"
)

var (
	seller   = common.HexToAddress("0x00000000000000000000000000000000000005e1")
	buyer    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	relayer  = common.HexToAddress("0x000000000000000000000000000000000000face")
	feeSink  = common.HexToAddress("0x0000000000000000000000000000000000000fee")
	creator  = common.HexToAddress("0x00000000000000000000000000000000000c4ea7")
	nftAddr  = common.HexToAddress("0x000000000000000000000000000000000000c721")
	multiNFT = common.HexToAddress("0x00000000000000000000000000000000000c1155")
	usdc     = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	weth     = common.HexToAddress("0x00000000000000000000000000000000000000e3")
)

var genesis = time.Unix(1_700_000_000, 0)

func coins(v int64) asset.Asset { return asset.New(asset.ERC20(usdc), big.NewInt(v)) }
func wrapped(v int64) asset.Asset {
	return asset.New(asset.ERC20(weth), big.NewInt(v))
}
func punk(id int64) asset.Asset {
	return asset.New(asset.ERC721(nftAddr, big.NewInt(id)), big.NewInt(1))
}
func items(v int64) asset.Asset {
	return asset.New(asset.ERC1155(multiNFT, big.NewInt(1)), big.NewInt(v))
}

func bigN(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return v
}

func newOrder(maker common.Address, make, take asset.Asset, salt int64) *order.Order {
	return &order.Order{Maker: maker, MakeAsset: make, TakeAsset: take, Salt: big.NewInt(salt)}
}

// sigValidator accepts the signature "signed:<maker hex>".
type sigValidator struct{}

func sign(o *order.Order) []byte { return []byte("signed:" + o.Maker.Hex()) }

func (sigValidator) Verify(_ context.Context, o *order.Order, sig []byte, _ common.Address) error {
	if string(sig) != "signed:"+o.Maker.Hex() {
		return errors.New("bad signature")
	}
	return nil
}

type fixture struct {
	engine    *Engine
	store     *storage.MemoryStore
	ledger    *transfer.Ledger
	clock     *util.ManualClock
	royalties *royalty.StaticRegistry
	creators  *royalty.StaticCreators
	policy    *StaticPolicy
	matches   []MatchEvent
	cancels   []CancelEvent
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store:     storage.NewMemoryStore(),
		ledger:    transfer.NewLedger(),
		clock:     util.NewManualClock(genesis),
		royalties: royalty.NewStaticRegistry(),
		creators:  royalty.NewStaticCreators(),
		policy:    NewStaticPolicy(nil, nil),
	}
	e, err := NewEngine(cfg, Deps{
		Store:     f.store,
		Validator: sigValidator{},
		Executor:  f.ledger,
		Royalties: f.royalties,
		Creators:  f.creators,
		Policy:    f.policy,
		Clock:     f.clock,
	})
	require.NoError(t, err)
	e.OnMatch(func(ev MatchEvent) { f.matches = append(f.matches, ev) })
	e.OnCancel(func(ev CancelEvent) { f.cancels = append(f.cancels, ev) })
	f.engine = e
	return f
}

func (f *fixture) mint(t *testing.T, owner common.Address, a asset.Asset) {
	t.Helper()
	require.NoError(t, f.ledger.Mint(owner, a))
}

func (f *fixture) balance(owner common.Address, a asset.Asset) string {
	return f.ledger.Balance(owner, a.Type).String()
}

func (f *fixture) fill(t *testing.T, o *order.Order) string {
	t.Helper()
	v, err := f.engine.Fill(context.Background(), o.HashKey())
	require.NoError(t, err)
	return v.String()
}

func pair(left, right *order.Order) Match {
	return Match{Left: left, SigLeft: sign(left), Right: right, SigRight: sign(right)}
}
