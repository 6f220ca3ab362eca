package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cache, closeFn, err := NewRedisCache(zap.NewNop(), &RedisCacheConfig{Addr: mr.Addr(), ConnectTimeout: time.Second})
	require.NoError(t, err)
	defer closeFn()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "key", "value", time.Minute))
	value, err := cache.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "value", value)

	ok, err := cache.SetNX(ctx, "key", "other", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)
	_, err = cache.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, cache.Set(ctx, "gone", "x", 0))
	require.NoError(t, cache.Delete(ctx, "gone"))
	_, err = cache.Get(ctx, "gone")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, cache.Set(ctx, "flushed", "x", 0))
	require.NoError(t, cache.Clear(ctx))
	assert.False(t, mr.Exists("flushed"))
}

func TestNewRedisCacheUnreachable(t *testing.T) {
	_, _, err := NewRedisCache(zap.NewNop(), &RedisCacheConfig{Addr: "127.0.0.1:1", ConnectTimeout: 200 * time.Millisecond})
	assert.Error(t, err)
}

func TestRedisCacheFromClientErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := NewRedisCacheFromClient(client)

	mr.SetError("ERR server failure")
	_, err := cache.Get(context.Background(), "key")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrKeyNotFound)
}
