package p2p

import (
	"context"
	"errors"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/marketplace/pkg/util"
)

// TopicOrders carries signed orders between marketplace nodes.
const TopicOrders = "marketplace/orders/1"

var ErrClosed = errors.New("relay closed")

// Handler receives messages published by other peers.
type Handler func(ctx context.Context, from peer.ID, data []byte)

type Config struct {
	ListenAddr string
	Bootstrap  []string
	Topic      string
	Logger     *zap.SugaredLogger
}

// OrderRelay gossips signed orders over a GossipSub topic.
type OrderRelay struct {
	h     host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *zap.SugaredLogger

	muH     sync.RWMutex
	handler Handler

	cancel context.CancelFunc
	done   chan struct{}
}

func NewOrderRelay(ctx context.Context, cfg Config) (*OrderRelay, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}

	name := cfg.Topic
	if name == "" {
		name = TopicOrders
	}
	topic, err := ps.Join(name)
	if err != nil {
		h.Close()
		return nil, err
	}
	sub, err := topic.Subscribe()
	if err != nil {
		h.Close()
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r := &OrderRelay{
		h: h, ps: ps, topic: topic, sub: sub,
		log:    util.OrNop(cfg.Logger),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			r.log.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	go r.readLoop(loopCtx)

	r.log.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr, "topic", name)
	return r, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (r *OrderRelay) SetHandler(fn Handler) { r.muH.Lock(); r.handler = fn; r.muH.Unlock() }

func (r *OrderRelay) Host() host.Host { return r.h }

// Addrs returns the host's listen addresses with the /p2p/<id> suffix,
// suitable as bootstrap entries for other nodes.
func (r *OrderRelay) Addrs() []string {
	info := peer.AddrInfo{ID: r.h.ID(), Addrs: r.h.Addrs()}
	maddrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(maddrs))
	for _, m := range maddrs {
		out = append(out, m.String())
	}
	return out
}

// Connect dials a peer given its full multiaddr.
func (r *OrderRelay) Connect(ctx context.Context, addr string) error {
	return connectMultiaddr(ctx, r.h, addr)
}

func (r *OrderRelay) Peers() int { return len(r.topic.ListPeers()) }

func (r *OrderRelay) Publish(ctx context.Context, data []byte) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	return r.topic.Publish(ctx, data)
}

func (r *OrderRelay) readLoop(ctx context.Context) {
	defer close(r.done)
	for {
		msg, err := r.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == r.h.ID() {
			continue
		}

		r.muH.RLock()
		fn := r.handler
		r.muH.RUnlock()
		if fn != nil {
			fn(ctx, msg.ReceivedFrom, msg.Data)
		}
	}
}

func (r *OrderRelay) Close() error {
	r.cancel()
	r.sub.Cancel()
	<-r.done
	if err := r.topic.Close(); err != nil {
		r.log.Warnw("topic_close_failed", "err", err)
	}
	return r.h.Close()
}
