package directory

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/account-service/internal/model"
)

func newTestIndex(t *testing.T) (*RedisIndex, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisIndex(rdb), mr
}

func TestAddContainsRemove(t *testing.T) {
	idx, mr := newTestIndex(t)
	ctx := context.Background()
	number := "+15550001111"

	require.NoError(t, idx.Add(ctx, model.FullVisibilityContact(number)))

	ok, err := idx.Contains(ctx, number)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"v":true,"w":true}`, mr.HGet(Key, string(model.ContactToken(number))))

	require.NoError(t, idx.Remove(ctx, number))
	ok, err = idx.Contains(ctx, number)
	require.NoError(t, err)
	assert.False(t, ok)

	// idempotent
	require.NoError(t, idx.Remove(ctx, number))
}

func TestGet_ReturnsOnlyPresent(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, model.FullVisibilityContact("+1")))
	require.NoError(t, idx.Add(ctx, model.ClientContact{Token: model.ContactToken("+3"), Relay: "r1"}))

	got, err := idx.Get(ctx, [][]byte{
		model.ContactToken("+1"),
		model.ContactToken("+2"),
		model.ContactToken("+3"),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.ContactToken("+1"), got[0].Token)
	assert.True(t, got[0].Voice)
	assert.Equal(t, "r1", got[1].Relay)
	assert.False(t, got[1].Video)
}

func TestGet_Empty(t *testing.T) {
	idx, _ := newTestIndex(t)
	got, err := idx.Get(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}
