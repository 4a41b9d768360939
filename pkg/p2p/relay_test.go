package p2p

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

func newTestRelay(t *testing.T, bootstrap ...string) *OrderRelay {
	t.Helper()
	r, err := NewOrderRelay(context.Background(), Config{
		ListenAddr: "/ip4/127.0.0.1/tcp/0",
		Bootstrap:  bootstrap,
	})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestNewOrderRelay_BadListenAddr(t *testing.T) {
	_, err := NewOrderRelay(context.Background(), Config{ListenAddr: "not-a-multiaddr"})
	require.Error(t, err)
}

func TestOrderRelay_GossipBetweenPeers(t *testing.T) {
	if testing.Short() {
		t.Skip("libp2p mesh formation is slow")
	}
	a := newTestRelay(t)
	require.NotEmpty(t, a.Addrs())
	b := newTestRelay(t, a.Addrs()[0])

	var mu sync.Mutex
	var got [][]byte
	var from peer.ID
	b.SetHandler(func(_ context.Context, p peer.ID, data []byte) {
		mu.Lock()
		got = append(got, data)
		from = p
		mu.Unlock()
	})

	var selfSeen atomic.Bool
	a.SetHandler(func(context.Context, peer.ID, []byte) { selfSeen.Store(true) })

	require.Eventually(t, func() bool {
		_ = a.Publish(context.Background(), []byte("order"))
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 10*time.Second, 200*time.Millisecond)

	mu.Lock()
	require.Equal(t, []byte("order"), got[0])
	require.Equal(t, a.Host().ID(), from)
	mu.Unlock()
	require.False(t, selfSeen.Load())
}

func TestOrderRelay_PublishAfterClose(t *testing.T) {
	r, err := NewOrderRelay(context.Background(), Config{ListenAddr: "/ip4/127.0.0.1/tcp/0"})
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.ErrorIs(t, r.Publish(context.Background(), []byte("x")), ErrClosed)
}
