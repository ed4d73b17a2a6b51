package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 토큰 버킷을 원자적으로 갱신. 반환값 {allowed, remaining}
var tokenBucketScript = redis.NewScript(`
	local tokens_key = KEYS[1] .. ":tokens"
	local timestamp_key = KEYS[1] .. ":timestamp"
	local limit = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])

	local tokens = tonumber(redis.call('GET', tokens_key))
	local last_update = tonumber(redis.call('GET', timestamp_key))
	if tokens == nil then
		tokens = limit
		last_update = now
	end

	local elapsed = math.max(0, now - last_update)
	local new_tokens = math.min(limit, tokens + (elapsed * limit / window))

	local allowed = 0
	if new_tokens >= 1 then
		new_tokens = new_tokens - 1
		allowed = 1
	end

	redis.call('SET', tokens_key, new_tokens, 'EX', window * 2)
	redis.call('SET', timestamp_key, now, 'EX', window * 2)

	return {allowed, math.floor(new_tokens)}
`)

// RedisLimiter 인스턴스 간 공유되는 토큰 버킷 리미터
type RedisLimiter struct {
	client    *redis.Client
	keyPrefix string
	limit     int
	window    time.Duration
}

func NewRedisLimiter(client *redis.Client, keyPrefix string, limit int, window time.Duration) *RedisLimiter {
	if keyPrefix == "" {
		keyPrefix = "matchmaking:ratelimit:"
	}
	if window < time.Second {
		window = time.Minute
	}
	return &RedisLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		limit:     limit,
		window:    window,
	}
}

// Allow Redis 오류는 그대로 반환하며 허용 여부는 호출자가 결정
func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := tokenBucketScript.Run(ctx, r.client,
		[]string{r.keyPrefix + key},
		r.limit,
		int(r.window.Seconds()),
		time.Now().Unix(),
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis rate limit script failed: %w", err)
	}
	if len(res) < 1 {
		return false, fmt.Errorf("invalid rate limit script result")
	}
	return res[0] == 1, nil
}

// Reset 키의 버킷 초기화
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	base := r.keyPrefix + key
	if err := r.client.Del(ctx, base+":tokens", base+":timestamp").Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}
