package router

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_FixedWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		ok, _ := rl.Allow(ctx, "c1")
		assert.True(t, ok)
	}
	ok, _ := rl.Allow(ctx, "c1")
	assert.False(t, ok)

	now = now.Add(time.Minute)
	ok, _ = rl.Allow(ctx, "c1")
	assert.True(t, ok, "new window")
}

func TestRateLimiter_Cleanup(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(0, 0)
	rl.now = func() time.Time { return now }

	_, _ = rl.Allow(ctx, "old")
	now = now.Add(4 * time.Minute)
	_, _ = rl.Allow(ctx, "fresh")
	now = now.Add(2 * time.Minute)

	assert.Equal(t, 1, rl.Cleanup())
	assert.Equal(t, 1, rl.Len())
}

func TestRedisRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := NewRedisRateLimiter(client, "test", 2, time.Hour)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "c1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "c2")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.Close()
	ok, err = l.Allow(ctx, "c3")
	assert.Error(t, err)
	assert.False(t, ok)
}
