// Package node assembles a marketplace process from configuration.
package node

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/marketplace/params"
	"github.com/uhyunpark/marketplace/pkg/api"
	"github.com/uhyunpark/marketplace/pkg/asset"
	"github.com/uhyunpark/marketplace/pkg/crypto"
	"github.com/uhyunpark/marketplace/pkg/exchange"
	"github.com/uhyunpark/marketplace/pkg/history"
	"github.com/uhyunpark/marketplace/pkg/orderpool"
	"github.com/uhyunpark/marketplace/pkg/p2p"
	"github.com/uhyunpark/marketplace/pkg/royalty"
	"github.com/uhyunpark/marketplace/pkg/storage"
	"github.com/uhyunpark/marketplace/pkg/transfer"
	"github.com/uhyunpark/marketplace/pkg/util"
)

type Node struct {
	Config    params.Config
	Store     storage.FillStore
	Ledger    *transfer.Ledger
	Royalties *royalty.CachedRegistry
	Table     *royalty.StaticRegistry
	Policy    *exchange.StaticPolicy
	Typed     *crypto.TypedSigner
	Engine    *exchange.Engine
	Pool      *orderpool.Pool
	Archive   history.Archive
	Recorder  *history.Recorder
	Relay     *p2p.OrderRelay
	API       *api.Server

	log *zap.SugaredLogger
}

// New opens storage, builds the engine and wires the API, history and
// optional gossip relay. Close releases what New opened.
func New(ctx context.Context, cfg params.Config, logger *zap.SugaredLogger) (*Node, error) {
	log := util.OrNop(logger)
	n := &Node{Config: cfg, log: log}

	store, err := OpenStore(ctx, cfg.Storage, log)
	if err != nil {
		return nil, err
	}
	n.Store = store

	if err := n.build(ctx); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *Node) build(ctx context.Context) error {
	cfg := n.Config

	n.Ledger = transfer.NewLedger()
	if err := Seed(n.Ledger, cfg.Dev.Mints); err != nil {
		return err
	}

	static, err := StaticRoyalties(cfg.Royalty.Entries)
	if err != nil {
		return err
	}
	if n.Royalties, err = royalty.NewCachedRegistry(static, cfg.Royalty.CacheSize); err != nil {
		return err
	}
	static.OnChange(n.Royalties.Changed)
	n.Table = static

	n.Policy = exchange.NewStaticPolicy(cfg.Exchange.FeeExemptAddresses(), cfg.Exchange.OperatorAddresses())
	n.Typed = crypto.NewTypedSigner(crypto.Domain{
		Name:              cfg.Exchange.DomainName,
		Version:           cfg.Exchange.DomainVersion,
		ChainID:           big.NewInt(cfg.Exchange.ChainID),
		VerifyingContract: common.HexToAddress(cfg.Exchange.VerifyingContract),
	})
	validator := crypto.NewOrderValidator(n.Typed, nil)

	n.Engine, err = exchange.NewEngine(exchange.Config{
		MatchLimit:     cfg.Exchange.MatchLimit,
		PrimaryFeeBP:   cfg.Exchange.PrimaryFeeBP,
		SecondaryFeeBP: cfg.Exchange.SecondaryFeeBP,
		FeeReceiver:    cfg.Exchange.FeeReceiverAddress(),
	}, exchange.Deps{
		Store:     n.Store,
		Validator: validator,
		Executor:  transfer.NewRouter(n.Ledger, n.log),
		Royalties: n.Royalties,
		Policy:    n.Policy,
		Logger:    n.log,
	})
	if err != nil {
		return err
	}

	if cfg.History.PostgresDSN != "" {
		pg, err := history.NewPostgresArchive(ctx, history.PostgresConfig{
			DSN:      cfg.History.PostgresDSN,
			MaxConns: cfg.History.MaxConns,
		})
		if err != nil {
			return err
		}
		n.Archive = pg
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
	} else {
		n.Archive = history.NewMemoryArchive(cfg.History.MemoryCapacity)
	}
	n.Recorder = history.NewRecorder(n.Archive, cfg.History.QueueSize, n.log)
	n.Engine.OnMatch(n.Recorder.Observe)

	if cfg.P2P.Enabled {
		n.Relay, err = p2p.NewOrderRelay(ctx, p2p.Config{
			ListenAddr: cfg.P2P.Listen,
			Bootstrap:  cfg.P2P.Bootstrap,
			Topic:      cfg.P2P.Topic,
			Logger:     n.log,
		})
		if err != nil {
			return err
		}
	}

	n.Pool = orderpool.New(cfg.API.PoolSize)
	deps := api.Deps{
		Engine:    n.Engine,
		Pool:      n.Pool,
		Validator: validator,
		Matches:   n.Typed,
		Balances:  n.Ledger,
		History:   n.Archive,
		Logger:    n.log,
	}
	if cfg.API.CancelSignatures {
		deps.Cancels = n.Typed
	}
	if n.Relay != nil {
		deps.Relay = n.Relay
	}
	n.API, err = api.NewServer(api.Config{Addr: cfg.API.Addr, AllowedOrigins: cfg.API.AllowedOrigins}, deps)
	if err != nil {
		return err
	}
	if n.Relay != nil {
		n.Relay.SetHandler(func(ctx context.Context, from peer.ID, data []byte) {
			if err := n.API.AcceptGossip(ctx, data); err != nil {
				n.log.Debugw("gossip_order_rejected", "from", from.String(), "err", err)
			}
		})
	}
	return nil
}

// Run serves until ctx is done or a component fails.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.API.Start(ctx) })
	g.Go(func() error { return n.Recorder.Run(ctx) })
	if n.Config.API.PruneInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(n.Config.API.PruneInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if dropped := n.API.PruneExpired(); dropped > 0 {
						n.log.Infow("orders_expired", "dropped", dropped, "pooled", n.Pool.Len())
					}
				}
			}
		})
	}

	n.log.Infow("node_starting",
		"storage", n.Config.Storage.Backend,
		"api", n.Config.API.Addr,
		"p2p", n.Relay != nil,
		"match_limit", n.Engine.MatchLimit())
	return g.Wait()
}

func (n *Node) Close() error {
	var errs []error
	if n.Relay != nil {
		errs = append(errs, n.Relay.Close())
	}
	if n.Archive != nil {
		n.Archive.Close()
	}
	if n.Store != nil {
		errs = append(errs, n.Store.Close())
	}
	return errors.Join(errs...)
}

// OpenStore opens the configured fill ledger backend.
func OpenStore(ctx context.Context, cfg params.Storage, log *zap.SugaredLogger) (storage.FillStore, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "pebble":
		s, err := storage.NewPebbleStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open pebble at %s: %w", cfg.Path, err)
		}
		if fills, err := s.LoadAll(); err == nil {
			util.OrNop(log).Infow("fills_loaded", "path", cfg.Path, "orders", len(fills))
		}
		return s, nil
	case "redis":
		return storage.NewRedisStore(ctx, storage.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// StaticRoyalties builds a registry from configured entries. Entries for the
// same item or collection accumulate.
func StaticRoyalties(entries []params.RoyaltyEntry) (*royalty.StaticRegistry, error) {
	type itemRef struct {
		token common.Address
		id    string
	}
	items := make(map[itemRef][]royalty.Part)
	tokens := make(map[common.Address][]royalty.Part)

	for i, e := range entries {
		token := common.HexToAddress(e.Token)
		part := royalty.Part{Account: common.HexToAddress(e.Account), Value: e.BP}
		if e.TokenID == "" {
			tokens[token] = append(tokens[token], part)
			continue
		}
		id, ok := new(big.Int).SetString(e.TokenID, 10)
		if !ok || !asset.FitsUint256(id) {
			return nil, fmt.Errorf("royalty entry %d: invalid token id %q", i, e.TokenID)
		}
		ref := itemRef{token: token, id: id.String()}
		items[ref] = append(items[ref], part)
	}

	r := royalty.NewStaticRegistry()
	for token, parts := range tokens {
		r.SetToken(token, parts)
	}
	for ref, parts := range items {
		id, _ := new(big.Int).SetString(ref.id, 10)
		r.SetItem(ref.token, id, parts)
	}
	return r, nil
}

// Seed mints configured balances into the ledger.
func Seed(l *transfer.Ledger, mints []params.MintEntry) error {
	for i, m := range mints {
		a, err := mintAsset(m)
		if err == nil {
			err = a.Validate()
		}
		if err != nil {
			return fmt.Errorf("mint %d: %w", i, err)
		}
		if err := l.Mint(common.HexToAddress(m.Owner), a); err != nil {
			return fmt.Errorf("mint %d: %w", i, err)
		}
	}
	return nil
}

func mintAsset(m params.MintEntry) (asset.Asset, error) {
	if !common.IsHexAddress(m.Owner) || !common.IsHexAddress(m.Token) {
		return asset.Asset{}, errors.New("invalid address")
	}
	class, err := asset.ParseClass(m.Class)
	if err != nil {
		return asset.Asset{}, err
	}
	value, ok := new(big.Int).SetString(m.Value, 10)
	if !ok {
		return asset.Asset{}, fmt.Errorf("invalid value %q", m.Value)
	}
	token := common.HexToAddress(m.Token)
	if class == asset.ClassERC20 {
		return asset.New(asset.ERC20(token), value), nil
	}
	id, ok := new(big.Int).SetString(m.TokenID, 10)
	if !ok {
		return asset.Asset{}, fmt.Errorf("invalid token id %q", m.TokenID)
	}
	if class == asset.ClassERC721 {
		return asset.New(asset.ERC721(token, id), value), nil
	}
	return asset.New(asset.ERC1155(token, id), value), nil
}
