package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisCache(nil, rdb), mr
}

func TestKey(t *testing.T) {
	assert.Equal(t, "Account5+14151112222", Key("+14151112222"))
	assert.Equal(t, "Account6+14151112222", KeyFor("6", "+14151112222"))
}

func TestSetGet(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, Key("+1"), []byte(`{"name":"a"}`)))

	got, ok, err := c.Get(ctx, Key("+1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"name":"a"}`, string(got))

	// no TTL is ever set
	assert.Zero(t, mr.TTL(Key("+1")))
}

func TestGet_Miss(t *testing.T) {
	c, _ := newTestCache(t)

	_, ok, err := c.Get(context.Background(), Key("+2"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGet_OldVersionIsNeverRead(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(KeyFor("4", "+1"), `{"name":"stale"}`))

	_, ok, err := c.Get(ctx, Key("+1"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, mr.Exists(KeyFor("4", "+1")))
}

func TestGet_BackendDown(t *testing.T) {
	c, mr := newTestCache(t)
	mr.SetError("LOADING")

	_, _, err := c.Get(context.Background(), Key("+1"))
	assert.Error(t, err)
	assert.Error(t, c.Set(context.Background(), Key("+1"), []byte("{}")))
}

func TestDelete(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, Key("+1"), []byte("{}")))
	require.NoError(t, c.Delete(ctx, Key("+1")))
	assert.False(t, mr.Exists(Key("+1")))
	assert.NoError(t, c.Delete(ctx, Key("+1")))
}
