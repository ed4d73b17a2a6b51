package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiter(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base

	limiter := NewLocalLimiter(3, time.Minute)
	limiter.now = func() time.Time { return now }

	t.Run("용량까지 허용", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			ok, err := limiter.Allow(ctx, "ip:1")
			require.NoError(t, err)
			assert.True(t, ok, "request %d", i+1)
		}
	})

	t.Run("초과 요청 거부", func(t *testing.T) {
		ok, _ := limiter.Allow(ctx, "ip:1")
		assert.False(t, ok)
	})

	t.Run("다른 키는 별도 버킷", func(t *testing.T) {
		ok, _ := limiter.Allow(ctx, "ip:2")
		assert.True(t, ok)
	})

	t.Run("시간 경과 후 리필", func(t *testing.T) {
		now = base.Add(20 * time.Second) // 1 토큰
		ok, _ := limiter.Allow(ctx, "ip:1")
		assert.True(t, ok)
		ok, _ = limiter.Allow(ctx, "ip:1")
		assert.False(t, ok)
	})

	t.Run("오래된 버킷 정리", func(t *testing.T) {
		now = base.Add(5 * time.Minute)
		assert.Equal(t, 2, limiter.Cleanup())
	})
}

func TestRedisLimiter(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available:", err)
	}

	limiter := NewRedisLimiter(client, "test:ratelimit:", 2, time.Minute)
	require.NoError(t, limiter.Reset(ctx, "ip:1"))
	defer limiter.Reset(ctx, "ip:1")

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "ip:1")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := limiter.Allow(ctx, "ip:1")
	require.NoError(t, err)
	assert.False(t, ok)
}
