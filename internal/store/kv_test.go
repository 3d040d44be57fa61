package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/config"
)

func TestRedisKV(t *testing.T) {
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer c.Close()
	kv := NewRedisKV(c)
	ctx := context.Background()

	_, err := kv.Get(ctx, "fleettool:tenants")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, kv.Set(ctx, "fleettool:tenants", `["park_a"]`, time.Minute))
	v, err := kv.Get(ctx, "fleettool:tenants")
	require.NoError(t, err)
	assert.Equal(t, `["park_a"]`, v)

	mr.FastForward(2 * time.Minute)
	_, err = kv.Get(ctx, "fleettool:tenants")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, kv.Set(ctx, "a", "1", 0))
	require.NoError(t, kv.Del(ctx, "a"))
	require.NoError(t, kv.Del(ctx))
	assert.False(t, mr.Exists("a"))
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := NewRedisClient(context.Background(), &config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer c.Close()

	mr.Close()
	_, err = NewRedisClient(context.Background(), &config.RedisConfig{Addr: mr.Addr()})
	assert.Error(t, err)
}
