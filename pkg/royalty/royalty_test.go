package royalty

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	token  = common.HexToAddress("0x0000000000000000000000000000000000000721")
	artist = common.HexToAddress("0x00000000000000000000000000000000000000a7")
	label  = common.HexToAddress("0x00000000000000000000000000000000000000ab")
)

func TestStaticRegistryItemOverridesToken(t *testing.T) {
	ctx := context.Background()
	r := NewStaticRegistry()
	r.SetToken(token, []Part{{Account: label, Value: 500}})
	r.SetItem(token, big.NewInt(7), []Part{{Account: artist, Value: 1000}})

	parts, err := r.Royalties(ctx, token, big.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, []Part{{Account: artist, Value: 1000}}, parts)

	parts, err = r.Royalties(ctx, token, big.NewInt(8))
	require.NoError(t, err)
	assert.Equal(t, []Part{{Account: label, Value: 500}}, parts)

	parts, err = r.Royalties(ctx, common.Address{}, big.NewInt(8))
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestStaticRegistryCopiesParts(t *testing.T) {
	ctx := context.Background()
	r := NewStaticRegistry()
	in := []Part{{Account: artist, Value: 100}}
	r.SetItem(token, big.NewInt(1), in)
	in[0].Value = 9999

	parts, _ := r.Royalties(ctx, token, big.NewInt(1))
	parts[0].Value = 42
	parts, _ = r.Royalties(ctx, token, big.NewInt(1))
	assert.Equal(t, uint64(100), parts[0].Value)
}

func TestStaticCreators(t *testing.T) {
	ctx := context.Background()
	c := NewStaticCreators()
	c.Set(token, big.NewInt(3), artist)

	got, ok := c.Creator(ctx, token, big.NewInt(3))
	assert.True(t, ok)
	assert.Equal(t, artist, got)

	_, ok = c.Creator(ctx, token, big.NewInt(4))
	assert.False(t, ok)
}

type countingRegistry struct {
	calls int
	err   error
	parts []Part
}

func (c *countingRegistry) Royalties(context.Context, common.Address, *big.Int) ([]Part, error) {
	c.calls++
	return c.parts, c.err
}

func TestCachedRegistry(t *testing.T) {
	ctx := context.Background()
	inner := &countingRegistry{parts: []Part{{Account: artist, Value: 250}}}
	r, err := NewCachedRegistry(inner, 2)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		parts, err := r.Royalties(ctx, token, big.NewInt(1))
		require.NoError(t, err)
		assert.Len(t, parts, 1)
	}
	assert.Equal(t, 1, inner.calls)

	r.Invalidate(token, big.NewInt(1))
	_, err = r.Royalties(ctx, token, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)

	// eviction past capacity
	_, _ = r.Royalties(ctx, token, big.NewInt(2))
	_, _ = r.Royalties(ctx, token, big.NewInt(3))
	assert.Equal(t, 2, r.Len())
}

func TestCachedRegistryFollowsStaticChanges(t *testing.T) {
	ctx := context.Background()
	static := NewStaticRegistry()
	static.SetToken(token, []Part{{Account: artist, Value: 100}})
	r, err := NewCachedRegistry(static, 0)
	require.NoError(t, err)
	static.OnChange(r.Changed)

	parts, err := r.Royalties(ctx, token, big.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, uint64(100), parts[0].Value)
	_, _ = r.Royalties(ctx, token, big.NewInt(2))

	static.SetItem(token, big.NewInt(1), []Part{{Account: artist, Value: 300}})
	assert.Equal(t, 1, r.Len())
	parts, _ = r.Royalties(ctx, token, big.NewInt(1))
	assert.Equal(t, uint64(300), parts[0].Value)

	static.SetToken(token, []Part{{Account: artist, Value: 50}})
	assert.Zero(t, r.Len())
	parts, _ = r.Royalties(ctx, token, big.NewInt(2))
	assert.Equal(t, uint64(50), parts[0].Value)
}

func TestCachedRegistrySkipsErrors(t *testing.T) {
	ctx := context.Background()
	inner := &countingRegistry{err: errors.New("registry down")}
	r, err := NewCachedRegistry(inner, 0)
	require.NoError(t, err)

	_, err = r.Royalties(ctx, token, big.NewInt(1))
	assert.Error(t, err)
	_, err = r.Royalties(ctx, token, big.NewInt(1))
	assert.Error(t, err)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 0, r.Len())
}
