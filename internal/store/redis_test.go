package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	reg := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test")
	t.Cleanup(func() { _ = reg.Close() })
	return reg, mr
}

func TestRedisRegistry(t *testing.T) {
	reg, _ := setupRedis(t)
	exerciseRegistry(t, reg)
}

func TestRedisKeysAreNamespaced(t *testing.T) {
	reg, mr := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, reg.Set(ctx, newRun("r1", time.Now())))
	assert.True(t, mr.Exists("test:run:r1"))

	members, err := mr.ZMembers("test:runs")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, members)
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	defer mr.Close()

	reg, err := Open(context.Background(), Config{Driver: DriverRedis, RedisAddr: mr.Addr()})
	require.NoError(t, err)
	defer reg.Close()
	assert.Equal(t, DriverRedis, reg.Driver())

	_, err = OpenRedis(context.Background(), RedisConfig{})
	assert.Error(t, err)
}
