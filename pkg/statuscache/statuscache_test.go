package statuscache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestCache_SetAndGet(t *testing.T) {
	cache := New(setupTestRedis(t), time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "batch-1", StatusRunning))

	status, err := cache.Get(ctx, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, status)
}

func TestCache_MissReturnsErrMiss(t *testing.T) {
	cache := New(setupTestRedis(t), time.Minute)

	_, err := cache.Get(context.Background(), "no-such-batch")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestCache_DefaultsTTLWhenZero(t *testing.T) {
	cache := New(setupTestRedis(t), 0)
	assert.Equal(t, time.Hour, cache.ttl)
}

func TestCache_InvalidateRemovesEntry(t *testing.T) {
	cache := New(setupTestRedis(t), time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "batch-1", StatusPaused))
	require.NoError(t, cache.Invalidate(ctx, "batch-1"))

	_, err := cache.Get(ctx, "batch-1")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusComplete.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusDeleting.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusPaused.Terminal())
}
